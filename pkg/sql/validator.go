// Package sql provides query validation and filter screening for the
// gateway's ad-hoc query and table-data surfaces.
package sql

import (
	"errors"
	"strings"
)

// ErrMultipleStatements indicates the query contains more than one SQL
// statement. The gateway only ever forwards single statements.
var ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")

// NormalizeQuery strips a trailing semicolon and rejects queries containing
// additional statements. Semicolons inside string literals are fine.
func NormalizeQuery(query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", nil
	}

	normalized := strings.TrimRight(query, " \t\n\r")
	if strings.HasSuffix(normalized, ";") {
		normalized = strings.TrimRight(strings.TrimSuffix(normalized, ";"), " \t\n\r")
	}

	if hasSemicolonOutsideStrings(normalized) {
		return "", ErrMultipleStatements
	}
	return normalized, nil
}

// hasSemicolonOutsideStrings scans with a small literal-aware state machine.
// Both backslash escapes (\') and SQL doubled quotes ('') are handled; a
// doubled quote exits and immediately re-enters the string state, which
// keeps the scan correct.
func hasSemicolonOutsideStrings(query string) bool {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	state := stateNormal
	prev := rune(0)

	for _, ch := range query {
		switch state {
		case stateNormal:
			switch ch {
			case ';':
				return true
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			if ch == '\'' && prev != '\\' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if ch == '"' && prev != '\\' {
				state = stateNormal
			}
		}
		prev = ch
	}
	return false
}
