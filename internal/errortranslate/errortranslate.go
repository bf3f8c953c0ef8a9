// Package errortranslate maps a raw SQL engine error string to a
// user-facing, two-part message: a friendly explanation followed by
// "Technical details: <raw>" (§4.8). Rules are evaluated in a fixed
// priority order; the first rule whose predicate matches wins, mirroring
// the original implementation's app/workers/error_translator.py (whose
// source was not retrieved, but whose extensive pattern-priority test
// suite under tests/test_error_translator*.py fully pins down match order
// and message content).
package errortranslate

import (
	"fmt"
	"regexp"
	"strings"
)

type rule struct {
	match func(lower string) (friendly string, ok bool)
}

// Translate maps raw into the friendly + technical-details format. An
// empty raw short-circuits to an empty string with no technical-details
// suffix, matching the original's degenerate-input behavior.
func Translate(raw string) string {
	return TranslateWithColumns(raw, nil)
}

// TranslateWithColumns is Translate plus the column-not-found enrichment:
// when supplied, availableColumns is appended as "Available columns: a, b, c".
func TranslateWithColumns(raw string, availableColumns []string) string {
	if raw == "" {
		return ""
	}
	friendly := matchPattern(raw, availableColumns)
	return fmt.Sprintf("%s\n\nTechnical details: %s", friendly, raw)
}

var columnNotFoundRe = regexp.MustCompile(`(?i)column\s+"([^"]+)"\s+not\s+found`)

func matchPattern(raw string, availableColumns []string) string {
	lower := strings.ToLower(raw)

	// Pattern 1: column not found (regex form, or bare ColumnNotFoundError class name).
	if m := columnNotFoundRe.FindStringSubmatch(raw); m != nil {
		return columnNotFoundMessage(m[1], availableColumns)
	}
	if strings.Contains(lower, "columnnotfounderror") {
		return columnNotFoundMessage("unknown", availableColumns)
	}

	for _, r := range rulesAfterColumn {
		if friendly, ok := r.match(lower); ok {
			return friendly
		}
	}

	return "The query encountered an error. Common fixes: use LOWER() instead of ILIKE, " +
		"strftime() instead of DATE_TRUNC, and double-check column and table names."
}

func columnNotFoundMessage(name string, availableColumns []string) string {
	msg := fmt.Sprintf("Column '%s' doesn't exist in this dataset.", name)
	if len(availableColumns) > 0 {
		msg += fmt.Sprintf(" Available columns: %s", strings.Join(availableColumns, ", "))
	}
	return msg
}

func containsAny(lower string, substrs ...string) bool {
	for _, s := range substrs {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

var (
	functionNotFoundRe = regexp.MustCompile(`function\s.*not\s+found`)
	groupByPositionRe  = regexp.MustCompile(`group\s+by\s+position`)
)

// rulesAfterColumn holds patterns 2 through 48 in the original's priority
// order; the column-not-found rule (pattern 1) is handled separately above
// since it needs the available-columns enrichment.
var rulesAfterColumn = []rule{
	// 2: ILIKE unsupported.
	{func(l string) (string, bool) {
		if strings.Contains(l, "ilike") {
			return "This dataset engine doesn't support ILIKE. Use LOWER(column) LIKE LOWER('%pattern%') instead.", true
		}
		return "", false
	}},
	// 3: type mismatch.
	{func(l string) (string, bool) {
		if strings.Contains(l, "cannot compare") {
			return "Type mismatch error: the values being compared have incompatible types. Try wrapping one side in CAST().", true
		}
		if strings.Contains(l, "type mismatch") {
			return "A type mismatch occurred. Use CAST() to convert values to a common type before comparing or combining them.", true
		}
		return "", false
	}},
	// 4: table not found.
	{func(l string) (string, bool) {
		if strings.Contains(l, "table") && strings.Contains(l, "not found") {
			return "Table not found. Check that the table name matches one of the bound datasets exactly.", true
		}
		return "", false
	}},
	// 5: syntax error.
	{func(l string) (string, bool) {
		if strings.Contains(l, "sql parser error") {
			return "SQL syntax error. Check for missing keywords or misplaced clauses.", true
		}
		if strings.Contains(l, "syntax error") {
			return "SQL syntax error near the reported position -- check for missing commas, parentheses, or quotes.", true
		}
		return "", false
	}},
	// 6: divide by zero.
	{func(l string) (string, bool) {
		if strings.Contains(l, "divide by zero") {
			return "Division by zero. Guard the divisor with a CASE WHEN to avoid dividing by zero.", true
		}
		if strings.Contains(l, "division by zero") {
			return "Division by zero occurred during computation. Use CASE WHEN divisor = 0 THEN NULL ELSE numerator / divisor END.", true
		}
		return "", false
	}},
	// 7: function not found (broad regex, or InvalidOperationError class name).
	{func(l string) (string, bool) {
		if functionNotFoundRe.MatchString(l) {
			return "Function not supported in Polars SQL. Check the function name or consult the supported function list.", true
		}
		if strings.Contains(l, "invalidoperationerror") {
			return "That operation is not supported in Polars SQL.", true
		}
		return "", false
	}},
	// 8: aggregation without GROUP BY.
	{func(l string) (string, bool) {
		if strings.Contains(l, "must appear in group by") {
			return "Every selected column that isn't aggregated must appear in GROUP BY.", true
		}
		return "", false
	}},
	// 9: INTERVAL unsupported.
	{func(l string) (string, bool) {
		if strings.Contains(l, "interval") {
			if strings.Contains(l, "date format") {
				return "This dataset engine doesn't support INTERVAL for date arithmetic the way you'd expect.", true
			}
			return "This dataset engine doesn't support INTERVAL literals. Use strftime() or date arithmetic instead.", true
		}
		return "", false
	}},
	// 10: ambiguous column.
	{func(l string) (string, bool) {
		if strings.Contains(l, "ambiguous") {
			return "Ambiguous column reference -- qualify it as table1.column_name to disambiguate.", true
		}
		return "", false
	}},
	// 11: numeric overflow.
	{func(l string) (string, bool) {
		if strings.Contains(l, "overflow") {
			return "Numeric overflow. Try CAST(col AS BIGINT) before the arithmetic operation.", true
		}
		return "", false
	}},
	// 12: unknown function.
	{func(l string) (string, bool) {
		if strings.Contains(l, "unknown function") {
			if containsAny(l, "substr") {
				return "Function not available. Use LENGTH() not LEN(), and SUBSTRING() not SUBSTR().", true
			}
			return "Function not available in this dataset engine's SQL dialect.", true
		}
		return "", false
	}},
	// 13: REGEXP/RLIKE unsupported.
	{func(l string) (string, bool) {
		if strings.Contains(l, "rlike") {
			return "RLIKE is not supported in Polars SQL. Use LIKE with % and _ wildcards instead.", true
		}
		if strings.Contains(l, "regexp") {
			return "REGEXP is not supported in Polars SQL. Use LIKE with % and _ wildcards instead.", true
		}
		if strings.Contains(l, "regex") {
			return "Regular expressions are not supported in Polars SQL.", true
		}
		return "", false
	}},
	// 14: string-to-number conversion failure.
	{func(l string) (string, bool) {
		if strings.Contains(l, "could not parse") {
			return "Could not convert string to number -- one of the values isn't numeric.", true
		}
		if strings.Contains(l, "conversion") && strings.Contains(l, "string") {
			return "Could not convert string to number. Use CAST(column AS FLOAT) after cleaning non-numeric values.", true
		}
		return "", false
	}},
	// 15: DISTINCT ON unsupported.
	{func(l string) (string, bool) {
		if strings.Contains(l, "distinct on") {
			return "DISTINCT ON is not supported in Polars SQL. Use ROW_NUMBER() OVER (PARTITION BY ...) instead.", true
		}
		return "", false
	}},
	// 16: timeout / resource exhaustion.
	{func(l string) (string, bool) {
		if strings.Contains(l, "timeout") {
			return "Query timed out or ran out of memory -- try narrowing the query with a LIMIT clause.", true
		}
		if strings.Contains(l, "out of memory") {
			return "The query ran out of memory. Add a LIMIT clause or filter more aggressively before aggregating.", true
		}
		if strings.Contains(l, "resource") && strings.Contains(l, "exceeded") {
			return "Resources were exhausted running this query. Try selecting fewer columns or rows.", true
		}
		return "", false
	}},
	// 17: JOIN errors.
	{func(l string) (string, bool) {
		if strings.Contains(l, "join") && strings.Contains(l, "column") {
			return "JOIN error: check that the join column exists in both tables.", true
		}
		if strings.Contains(l, "join") && strings.Contains(l, "key") {
			return "JOIN key type mismatch. Use CAST() if types differ between the two sides of the join.", true
		}
		return "", false
	}},
	// 18: GROUP BY position out of range.
	{func(l string) (string, bool) {
		if groupByPositionRe.MatchString(l) || (strings.Contains(l, "group by column") && strings.Contains(l, "out of range")) {
			return "GROUP BY position number is out of range for the number of selected columns.", true
		}
		return "", false
	}},
	// 19: duplicate column.
	{func(l string) (string, bool) {
		if strings.Contains(l, "duplicate column") {
			return "Duplicate column name in the result set -- alias one of the columns to disambiguate.", true
		}
		return "", false
	}},
	// 20: LIKE on non-string column.
	{func(l string) (string, bool) {
		if strings.Contains(l, "like") && strings.Contains(l, "cannot apply") {
			return "LIKE can only be used with text columns. CAST(column AS VARCHAR) first if it's numeric.", true
		}
		if strings.Contains(l, "like") && strings.Contains(l, "invalid type") {
			return "LIKE can only be used with text columns. Use CAST(column AS VARCHAR) before comparing.", true
		}
		return "", false
	}},
	// 21: subquery / CTE errors.
	{func(l string) (string, bool) {
		if strings.Contains(l, "cte") {
			return "CTE error -- check that every CTE name is unique and defined before it's used.", true
		}
		if strings.Contains(l, "subquery") && strings.Contains(l, "alias") {
			return "Make sure every subquery in the FROM clause has an alias.", true
		}
		return "", false
	}},
	// 22: ORDER BY column not in SELECT.
	{func(l string) (string, bool) {
		if strings.Contains(l, "order by") && strings.Contains(l, "not in select") {
			return "ORDER BY column not found in SELECT -- add it to the select list or reference it by position.", true
		}
		return "", false
	}},
	// 28: LEFT/RIGHT not available (ordered here per the original's placement ahead of 29-35).
	{func(l string) (string, bool) {
		if (strings.Contains(l, "left") || strings.Contains(l, "right")) && strings.Contains(l, "not found") {
			return "LEFT() and RIGHT() are not available. Use SUBSTRING(col, 1, n) or SUBSTRING(col, LENGTH(col)-n+1, n) instead.", true
		}
		return "", false
	}},
	// 29: Boolean type misuse.
	{func(l string) (string, bool) {
		if strings.Contains(l, "boolean") && (strings.Contains(l, "cast") || strings.Contains(l, "type")) {
			return "Boolean values should be compared with true/false directly, e.g. col = true, not cast implicitly.", true
		}
		return "", false
	}},
	// 30: empty result.
	{func(l string) (string, bool) {
		if strings.Contains(l, "empty") && (strings.Contains(l, "dataframe") || strings.Contains(l, "result")) {
			return "The query produced no results. Try broadening the WHERE clause.", true
		}
		return "", false
	}},
	// 31: schema mismatch.
	{func(l string) (string, bool) {
		if strings.Contains(l, "schema") && (strings.Contains(l, "mismatch") || strings.Contains(l, "differ")) {
			return "Schema mismatch between the combined tables. Use CAST() to align column types before UNION or JOIN.", true
		}
		return "", false
	}},
	// 32: CONCAT unavailable.
	{func(l string) (string, bool) {
		if strings.Contains(l, "concat") && strings.Contains(l, "not found") {
			return "CONCAT() is not available. Use the || operator instead, e.g. col1 || ' ' || col2.", true
		}
		return "", false
	}},
	// 33: DATE_TRUNC unavailable.
	{func(l string) (string, bool) {
		if strings.Contains(l, "date_trunc") {
			return "DATE_TRUNC is not available. Use strftime('%Y-%m', date_col) for month truncation or strftime('%Y', date_col) for year truncation.", true
		}
		return "", false
	}},
	// 34: LCASE/UCASE unavailable.
	{func(l string) (string, bool) {
		hasLcase := strings.Contains(l, "lcase")
		hasUcase := strings.Contains(l, "ucase")
		switch {
		case hasLcase && hasUcase:
			return "LCASE()/UCASE() are not available. Use LOWER() and UPPER() instead.", true
		case hasLcase:
			return "LCASE() is not available. Use LOWER() instead.", true
		case hasUcase:
			return "UCASE() is not available. Use UPPER() instead.", true
		}
		return "", false
	}},
	// 35: nested aggregate functions.
	{func(l string) (string, bool) {
		if strings.Contains(l, "nested") && (strings.Contains(l, "aggregate") || strings.Contains(l, "agg")) {
			return "Nested aggregate functions aren't allowed. Compute the inner aggregate in a subquery or CTE first, e.g. WITH sub AS (...).", true
		}
		return "", false
	}},
	// 36: DDL statement type not supported (the real engine error for DDL).
	{func(l string) (string, bool) {
		if strings.Contains(l, "statement type is not supported") {
			return "Only SELECT queries are supported -- this engine provides read-only access to datasets.", true
		}
		return "", false
	}},
	// 45: INTERSECT/EXCEPT unsupported.
	{func(l string) (string, bool) {
		if strings.Contains(l, "intersect") {
			return "INTERSECT and EXCEPT set operations are not supported. Use LEFT JOIN with IS NULL or NOT EXISTS instead.", true
		}
		if strings.Contains(l, "except") {
			return "INTERSECT and EXCEPT set operations are not supported. Use LEFT JOIN with IS NULL instead.", true
		}
		return "", false
	}},
	// 46: CROSS JOIN.
	{func(l string) (string, bool) {
		if strings.Contains(l, "cross join") {
			return "CROSS JOIN syntax may not be supported -- restructure your query as a JOIN with ON 1=1.", true
		}
		return "", false
	}},
	// 47: DDL keywords directly (ALTER/CREATE/DROP TABLE).
	{func(l string) (string, bool) {
		if strings.Contains(l, "alter table") || strings.Contains(l, "create table") || strings.Contains(l, "drop table") {
			return "Data definition statements (CREATE, ALTER, DROP) are not supported -- this engine provides read-only access to datasets.", true
		}
		return "", false
	}},
	// 48: struct/JSON field access.
	{func(l string) (string, bool) {
		if strings.Contains(l, "struct") && (strings.Contains(l, "field") || strings.Contains(l, "access")) {
			return "Accessing struct/JSON fields directly in SQL is not supported. Try selecting the column and parsing it in the application.", true
		}
		return "", false
	}},
}
