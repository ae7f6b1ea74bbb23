package datasource

import (
	"fmt"
	"strings"
)

// ApplyRowLimit appends a LIMIT clause unless the query already carries one.
// The check is a case-insensitive substring match on "limit"; a query that
// mentions it anywhere passes through untouched, so the caller's own bound
// wins. Trailing whitespace and semicolons are trimmed either way.
func ApplyRowLimit(query string, limit int) string {
	q := strings.TrimRight(strings.TrimSpace(query), ";")
	if strings.Contains(strings.ToLower(q), "limit") {
		return q
	}
	return fmt.Sprintf("%s LIMIT %d", q, limit)
}

// ApplyTopLimit injects a TOP clause into a plain SELECT that carries
// neither TOP nor LIMIT. Statements that do not start with SELECT (CTEs,
// EXEC) pass through untouched.
func ApplyTopLimit(query string, limit int) string {
	q := strings.TrimRight(strings.TrimSpace(query), ";")
	lower := strings.ToLower(q)
	if strings.Contains(lower, "top ") || strings.Contains(lower, "limit ") {
		return q
	}
	if !strings.HasPrefix(lower, "select ") {
		return q
	}
	return fmt.Sprintf("SELECT TOP %d %s", limit, q[len("select "):])
}
