package workerpool

import (
	"regexp"
	"strconv"
	"strings"
)

var leadingKeywordRe = regexp.MustCompile(`(?is)^\s*(select|with)\b`)

// stripCommentsAndStrings removes line comments, block comments, and quoted
// string literals so that keyword/clause detection (IsReadOnly,
// hasTopLevelLimit) never misfires on text that merely contains the word
// "limit" or "select" inside a string or comment.
func stripCommentsAndStrings(sql string) string {
	var b strings.Builder
	runes := []rune(sql)
	for i := 0; i < len(runes); i++ {
		switch {
		case runes[i] == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			b.WriteByte('\n')
		case runes[i] == '/' && i+1 < len(runes) && runes[i+1] == '*':
			i += 2
			for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i++
			b.WriteByte(' ')
		case runes[i] == '\'' || runes[i] == '"':
			quote := runes[i]
			i++
			for i < len(runes) && runes[i] != quote {
				if runes[i] == '\\' && i+1 < len(runes) {
					i++
				}
				i++
			}
			b.WriteString(string(quote) + string(quote))
		default:
			b.WriteRune(runes[i])
		}
	}
	return b.String()
}

// IsReadOnly reports whether sql's leading keyword is SELECT or WITH, after
// stripping comments and string literals (§4.2.3a).
func IsReadOnly(sql string) bool {
	stripped := strings.TrimSpace(stripCommentsAndStrings(sql))
	return leadingKeywordRe.MatchString(stripped)
}

var topLevelLimitRe = regexp.MustCompile(`(?is)\blimit\s+\d+\s*((,|offset)\s*\d+\s*)?;?\s*$`)

// hasTopLevelLimit reports whether the cleaned SQL already ends in a LIMIT
// clause.
func hasTopLevelLimit(cleanedSQL string) bool {
	return topLevelLimitRe.MatchString(strings.TrimSpace(cleanedSQL))
}

// InjectLimit appends "LIMIT <n>" to sql if it lacks a top-level LIMIT
// clause, per §4.2.3b. Detection strips comments and string literals first,
// but the returned SQL preserves the caller's original text verbatim.
func InjectLimit(sql string, limit int) string {
	cleaned := stripCommentsAndStrings(sql)
	if hasTopLevelLimit(cleaned) {
		return sql
	}
	trimmed := strings.TrimRight(strings.TrimSpace(sql), ";")
	return trimmed + " LIMIT " + strconv.Itoa(limit)
}

// ClampRows truncates rows to at most maxRows, returning the clamped slice
// and the pre-clamp count (§4.2.3e).
func ClampRows(rows []map[string]any, maxRows int) ([]map[string]any, int) {
	total := len(rows)
	if total <= maxRows {
		return rows, total
	}
	return rows[:maxRows], total
}
