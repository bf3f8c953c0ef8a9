package workerpool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajeee/chatdf/internal/domain"
	"github.com/rajeee/chatdf/internal/filecache"
)

// fakeEngine stubs SQLEngine so pool tests exercise dispatch/timeout/
// recycling behavior without a real SQLite handle.
type fakeEngine struct {
	execColumns []string
	execRows    []map[string]any
	execErr     error
	execDelay   time.Duration

	schemaColumns []domain.ColumnSchema
	schemaRows    int64
	schemaErr     error
}

func (f *fakeEngine) Execute(ctx context.Context, sql string, tables map[string]string) ([]string, []map[string]any, error) {
	if f.execDelay > 0 {
		select {
		case <-time.After(f.execDelay):
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	if f.execErr != nil {
		return nil, nil, f.execErr
	}
	return f.execColumns, f.execRows, nil
}

func (f *fakeEngine) Schema(ctx context.Context, path string) ([]domain.ColumnSchema, int64, error) {
	if f.schemaErr != nil {
		return nil, 0, f.schemaErr
	}
	return f.schemaColumns, f.schemaRows, nil
}

func newTestPool(t *testing.T, cfg Config, engine SQLEngine) *Pool {
	t.Helper()
	cache, err := filecache.New(filecache.DefaultConfig(t.TempDir()), logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	pool, err := New(cfg, cache, engine, nil, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})
	return pool
}

func TestPool_RunQuery_RejectsNonSelect(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Size = 1
	pool := newTestPool(t, cfg, &fakeEngine{})

	result := pool.RunQuery(context.Background(), "DELETE FROM t", nil)
	require.NotNil(t, result.Err)
	assert.Equal(t, ErrorTypeSQL, result.Err.ErrorType)
}

func TestPool_RunQuery_HappyPathClampsRows(t *testing.T) {
	rows := make([]map[string]any, 5)
	for i := range rows {
		rows[i] = map[string]any{"n": i}
	}
	engine := &fakeEngine{execColumns: []string{"n"}, execRows: rows}
	cfg := DefaultConfig()
	cfg.Size = 1
	pool := newTestPool(t, cfg, engine)

	result := pool.RunQuery(context.Background(), "SELECT * FROM t", nil)
	require.Nil(t, result.Err)
	assert.Equal(t, 5, result.TotalRows)
	assert.Len(t, result.Rows, 5)
}

func TestPool_RunQuery_TranslatesEngineError(t *testing.T) {
	engine := &fakeEngine{execErr: engineError("Column \"foo\" not found in table")}
	cfg := DefaultConfig()
	cfg.Size = 1
	pool := newTestPool(t, cfg, engine)

	result := pool.RunQuery(context.Background(), "SELECT foo FROM t", nil)
	require.NotNil(t, result.Err)
	assert.Equal(t, ErrorTypeSQL, result.Err.ErrorType)
	assert.Contains(t, result.Err.Message, "doesn't exist")
}

func TestPool_RunQuery_TimesOutSlowEngine(t *testing.T) {
	engine := &fakeEngine{execDelay: 200 * time.Millisecond}
	cfg := DefaultConfig()
	cfg.Size = 1
	cfg.TaskTimeout = 20 * time.Millisecond
	pool := newTestPool(t, cfg, engine)

	result := pool.RunQuery(context.Background(), "SELECT * FROM t", nil)
	require.NotNil(t, result.Err)
	assert.Equal(t, ErrorTypeTimeout, result.Err.ErrorType)
}

func TestPool_GetSchema_PropagatesEngineSchema(t *testing.T) {
	engine := &fakeEngine{schemaColumns: []domain.ColumnSchema{{Name: "a", Type: "number"}}, schemaRows: 42}
	cfg := DefaultConfig()
	cfg.Size = 1
	pool := newTestPool(t, cfg, engine)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("a\n1\n2\n"))
	}))
	defer srv.Close()

	result := pool.GetSchema(context.Background(), srv.URL+"/data.csv")
	require.Nil(t, result.Err)
	assert.Equal(t, int64(42), result.RowCount)
	assert.Equal(t, "a", result.Columns[0].Name)
}

func TestPool_ValidateURL_RejectsPrivateAddress(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Size = 1
	pool := newTestPool(t, cfg, &fakeEngine{})

	result := pool.ValidateURL(context.Background(), "http://127.0.0.1/data.csv")
	assert.False(t, result.Valid)
	require.NotNil(t, result.Err)
	assert.Equal(t, ErrorTypeValidation, result.Err.ErrorType)
}

func TestPool_ConcurrentSubmitsAllSucceed(t *testing.T) {
	engine := &fakeEngine{execColumns: []string{"n"}, execRows: []map[string]any{{"n": 1}}}
	cfg := DefaultConfig()
	cfg.Size = 3
	pool := newTestPool(t, cfg, engine)

	results := make(chan QueryResult, 3)
	for i := 0; i < 3; i++ {
		go func() {
			results <- pool.RunQuery(context.Background(), "SELECT * FROM t", nil)
		}()
	}
	for i := 0; i < 3; i++ {
		r := <-results
		assert.Nil(t, r.Err)
	}
}

func TestPool_Shutdown_IsIdempotent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Size = 1
	pool := newTestPool(t, cfg, &fakeEngine{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, pool.Shutdown(ctx))
	require.NoError(t, pool.Shutdown(ctx))
}

type engineError string

func (e engineError) Error() string { return string(e) }
