package workerpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsReadOnly_AcceptsSelectAndWith(t *testing.T) {
	assert.True(t, IsReadOnly("SELECT * FROM t"))
	assert.True(t, IsReadOnly("  with cte as (select 1) select * from cte"))
}

func TestIsReadOnly_RejectsMutations(t *testing.T) {
	assert.False(t, IsReadOnly("DELETE FROM t"))
	assert.False(t, IsReadOnly("DROP TABLE t"))
	assert.False(t, IsReadOnly("INSERT INTO t VALUES (1)"))
}

func TestIsReadOnly_IgnoresSelectInsideCommentsAndStrings(t *testing.T) {
	assert.False(t, IsReadOnly("-- select this is a comment\nDELETE FROM t"))
	assert.False(t, IsReadOnly("DELETE FROM t WHERE name = 'select me'"))
}

func TestInjectLimit_AppendsWhenAbsent(t *testing.T) {
	got := InjectLimit("SELECT * FROM t", 1000)
	assert.Equal(t, "SELECT * FROM t LIMIT 1000", got)
}

func TestInjectLimit_LeavesExistingLimitUntouched(t *testing.T) {
	sql := "SELECT * FROM t LIMIT 10"
	assert.Equal(t, sql, InjectLimit(sql, 1000))
}

func TestInjectLimit_IgnoresLimitInsideStringLiteral(t *testing.T) {
	sql := "SELECT * FROM t WHERE name = 'limit 5'"
	got := InjectLimit(sql, 1000)
	assert.Equal(t, sql+" LIMIT 1000", got)
}

func TestInjectLimit_StripsTrailingSemicolon(t *testing.T) {
	got := InjectLimit("SELECT * FROM t;", 1000)
	assert.Equal(t, "SELECT * FROM t LIMIT 1000", got)
}

func TestClampRows_NoClampWhenUnderLimit(t *testing.T) {
	rows := []map[string]any{{"a": 1}, {"a": 2}}
	clamped, total := ClampRows(rows, 10)
	assert.Len(t, clamped, 2)
	assert.Equal(t, 2, total)
}

func TestClampRows_TruncatesAndReportsPreClampTotal(t *testing.T) {
	rows := make([]map[string]any, 5)
	for i := range rows {
		rows[i] = map[string]any{"a": i}
	}
	clamped, total := ClampRows(rows, 3)
	assert.Len(t, clamped, 3)
	assert.Equal(t, 5, total)
}
