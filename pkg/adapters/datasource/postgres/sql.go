package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sqlbridge-io/sqlbridge/pkg/adapters/datasource"
)

// Dialect implements the PostgreSQL SQL building rules.
type Dialect struct{}

func (Dialect) Name() string {
	return datasource.DialectPostgreSQL
}

// QuoteIdentifier quotes with double quotes, doubling embedded quotes.
func (Dialect) QuoteIdentifier(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func (Dialect) Placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func (Dialect) SupportsReturning() bool {
	return true
}

// ILike uses the native case-insensitive operator with a contains match.
func (Dialect) ILike(column, placeholder string) string {
	return fmt.Sprintf("%s::text ILIKE %s", column, placeholder)
}

func (Dialect) LimitOffset(limit, offset int) string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
}

func (Dialect) RequiresOrderForPagination() bool {
	return false
}

var _ datasource.SQLDialect = Dialect{}
