package datasource

import (
	"fmt"
	"strings"

	"github.com/sqlbridge-io/sqlbridge/pkg/apperrors"
)

// Canonical dialect identifiers. All user-facing dialect strings are
// normalized to one of these before registry lookup.
const (
	DialectPostgreSQL = "postgresql"
	DialectMySQL      = "mysql"
	DialectSQLServer  = "sqlserver"
)

// dialectAliases maps folded alias forms to canonical dialects.
// Keys are lowercase with spaces, hyphens, and underscores removed.
var dialectAliases = map[string]string{
	"postgresql": DialectPostgreSQL,
	"postgres":   DialectPostgreSQL,
	"postgre":    DialectPostgreSQL,
	"pgsql":      DialectPostgreSQL,
	"pg":         DialectPostgreSQL,
	"mysql":      DialectMySQL,
	"sqlserver":  DialectSQLServer,
	"mssql":      DialectSQLServer,
	"tsql":       DialectSQLServer,
}

// SupportedDialects lists the canonical dialects, for error messages and
// discovery endpoints.
func SupportedDialects() []string {
	return []string{DialectPostgreSQL, DialectMySQL, DialectSQLServer}
}

// NormalizeDialect resolves a user-supplied dialect string to its canonical
// form. Matching is case-insensitive and ignores spaces, hyphens, and
// underscores ("Postgre-SQL", "MS SQL", "t_sql" all resolve). Unknown
// dialects return apperrors.ErrUnsupportedDialect naming the input and the
// supported set.
func NormalizeDialect(input string) (string, error) {
	folded := strings.ToLower(input)
	folded = strings.NewReplacer(" ", "", "-", "", "_", "").Replace(folded)

	if canonical, ok := dialectAliases[folded]; ok {
		return canonical, nil
	}
	return "", fmt.Errorf("%w: %q (supported: %s)",
		apperrors.ErrUnsupportedDialect, input, strings.Join(SupportedDialects(), ", "))
}
