package mysql

import (
	"fmt"
	"strings"

	"github.com/sqlbridge-io/sqlbridge/pkg/adapters/datasource"
)

// Dialect implements the MySQL SQL building rules.
type Dialect struct{}

func (Dialect) Name() string {
	return datasource.DialectMySQL
}

// QuoteIdentifier quotes with backticks, doubling embedded backticks.
func (Dialect) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (Dialect) Placeholder(int) string {
	return "?"
}

func (Dialect) SupportsReturning() bool {
	return false
}

// ILike lowers both sides; MySQL LIKE is usually case-insensitive already
// but collations vary, so the explicit form is portable.
func (Dialect) ILike(column, placeholder string) string {
	return fmt.Sprintf("LOWER(%s) LIKE LOWER(%s)", column, placeholder)
}

func (Dialect) LimitOffset(limit, offset int) string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
}

func (Dialect) RequiresOrderForPagination() bool {
	return false
}

var _ datasource.SQLDialect = Dialect{}
