package mssql

import (
	"fmt"
	"strings"

	"github.com/sqlbridge-io/sqlbridge/pkg/adapters/datasource"
)

// Dialect implements the SQL Server SQL building rules.
type Dialect struct{}

func (Dialect) Name() string {
	return datasource.DialectSQLServer
}

// QuoteIdentifier quotes with brackets, doubling embedded closing brackets
// (the QUOTENAME convention).
func (Dialect) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (Dialect) Placeholder(n int) string {
	return fmt.Sprintf("@p%d", n)
}

func (Dialect) SupportsReturning() bool {
	return false
}

func (Dialect) ILike(column, placeholder string) string {
	return fmt.Sprintf("LOWER(CAST(%s AS NVARCHAR(MAX))) LIKE LOWER(%s)", column, placeholder)
}

// LimitOffset renders OFFSET/FETCH, which SQL Server only accepts after an
// ORDER BY clause; see RequiresOrderForPagination.
func (Dialect) LimitOffset(limit, offset int) string {
	return fmt.Sprintf("OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", offset, limit)
}

func (Dialect) RequiresOrderForPagination() bool {
	return true
}

// convertParams rewrites $1-style placeholders to the driver's @pN form so
// shared query builders can target either syntax. Text inside single-quoted
// string literals is left untouched; a doubled '' simply toggles the literal
// state twice.
func convertParams(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)

	inLiteral := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'':
			inLiteral = !inLiteral
			b.WriteByte(ch)
		case ch == '$' && !inLiteral && i+1 < len(query) && isDigit(query[i+1]):
			j := i + 1
			for j < len(query) && isDigit(query[j]) {
				j++
			}
			b.WriteString("@p")
			b.WriteString(query[i+1 : j])
			i = j - 1
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

var _ datasource.SQLDialect = Dialect{}
