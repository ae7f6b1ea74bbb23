// Package mssql implements the SQL Server connector on database/sql with
// the go-mssqldb driver.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/microsoft/go-mssqldb"
	"go.uber.org/zap"

	"github.com/sqlbridge-io/sqlbridge/pkg/adapters/datasource"
	"github.com/sqlbridge-io/sqlbridge/pkg/apperrors"
	"github.com/sqlbridge-io/sqlbridge/pkg/logging"
)

// connMaxLifetime bounds connection age. Azure SQL gateways drop long-lived
// connections, so recycling them proactively avoids stale-socket errors.
const connMaxLifetime = 5 * time.Minute

// Connector provides SQL Server connectivity. The pool is acquired from the
// connection manager on first use, with a one-time encryption downgrade
// retry when the user left ssl_mode unset.
type Connector struct {
	cfg          *datasource.ConnectionConfig
	mgr          *datasource.ConnectionManager
	datasourceID uuid.UUID
	userID       string
	limits       datasource.Limits
	logger       *zap.Logger

	mu        sync.Mutex
	activeDSN string
}

// NewConnector creates a SQL Server connector bound to the shared manager.
func NewConnector(cfg *datasource.ConnectionConfig, mgr *datasource.ConnectionManager, datasourceID uuid.UUID, userID string, limits datasource.Limits, logger *zap.Logger) (*Connector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connector{
		cfg:          cfg,
		mgr:          mgr,
		datasourceID: datasourceID,
		userID:       userID,
		limits:       limits,
		logger:       logger,
	}, nil
}

// buildDSN composes a sqlserver URL. encrypt maps ssl_mode onto the
// driver's encryption parameter ("true", "false", "disable").
func buildDSN(cfg *datasource.ConnectionConfig, encrypt string) string {
	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s&encrypt=%s",
		cfg.EscapedUser(), cfg.EscapedPassword(), cfg.Host, cfg.Port, cfg.EscapedDatabase(), encrypt)
}

// encryptModeFor maps generic ssl_mode names onto driver encrypt values.
func encryptModeFor(sslMode string) string {
	switch strings.ToLower(sslMode) {
	case "disable", "disabled", "false":
		return "disable"
	case "require", "required", "true":
		return "true"
	default:
		return sslMode
	}
}

// dsnCandidates returns the DSNs to try, in order: encrypted first,
// plaintext second, unless the user pinned a mode.
func dsnCandidates(cfg *datasource.ConnectionConfig) []string {
	if cfg.URL != "" {
		if strings.Contains(cfg.URL, "encrypt=") {
			return []string{cfg.URL}
		}
		sep := "?"
		if strings.Contains(cfg.URL, "?") {
			sep = "&"
		}
		return []string{cfg.URL, cfg.URL + sep + "encrypt=disable"}
	}
	if cfg.SSLModeSet() {
		return []string{buildDSN(cfg, encryptModeFor(cfg.SSLMode))}
	}
	return []string{buildDSN(cfg, "true"), buildDSN(cfg, "disable")}
}

// acquire returns a healthy pool, dialing candidates in order on first use.
// When every candidate fails, the last error wins.
func (c *Connector) acquire(ctx context.Context) (*sql.DB, error) {
	c.mu.Lock()
	memoized := c.activeDSN
	c.mu.Unlock()

	candidates := dsnCandidates(c.cfg)
	if memoized != "" {
		candidates = []string{memoized}
	}

	key := datasource.PoolKey{
		DatasourceID: c.datasourceID,
		UserID:       c.userID,
		ConfigHash:   c.cfg.Hash(),
	}

	var lastErr error
	for i, dsn := range candidates {
		pc, err := c.mgr.GetOrCreatePool(ctx, key, dsn, newPool)
		if err != nil {
			lastErr = err
			if i < len(candidates)-1 {
				c.logger.Info("connection failed, retrying with encryption disabled",
					zap.String("target", c.cfg.Masked()),
					zap.String("error", logging.SanitizeError(err)),
				)
			}
			continue
		}

		db, err := datasource.GetSQLDB(pc)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.activeDSN = dsn
		c.mu.Unlock()
		return db, nil
	}

	return nil, apperrors.ClassifyConnect(datasource.DialectSQLServer, lastErr)
}

// newPool is the PoolFactory handed to the connection manager.
func newPool(ctx context.Context, dsn string, settings datasource.PoolSettings) (datasource.PoolConnector, error) {
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlserver pool: %w", err)
	}
	db.SetMaxOpenConns(int(settings.MaxConns))
	db.SetMaxIdleConns(int(settings.MinConns))
	db.SetConnMaxLifetime(connMaxLifetime)
	if settings.MaxIdleTime > 0 {
		db.SetConnMaxIdleTime(settings.MaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &datasource.SQLPoolWrapper{DB: db, Dialect: datasource.DialectSQLServer}, nil
}

// Dialect returns the canonical dialect identifier.
func (c *Connector) Dialect() string {
	return datasource.DialectSQLServer
}

// TestConnection verifies connectivity, access, and that the connected
// database matches the configured one. SQL Server silently lands on the
// login's default database when the requested one is unavailable, so the
// name check matters here more than elsewhere.
func (c *Connector) TestConnection(ctx context.Context) error {
	db, err := c.acquire(ctx)
	if err != nil {
		return err
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return apperrors.ClassifyConnect(datasource.DialectSQLServer, err)
	}

	if c.cfg.Database == "" {
		return nil
	}
	var currentDB string
	if err := db.QueryRowContext(ctx, "SELECT DB_NAME()").Scan(&currentDB); err != nil {
		return apperrors.ClassifyConnect(datasource.DialectSQLServer, err)
	}
	if !strings.EqualFold(currentDB, c.cfg.Database) {
		return fmt.Errorf("%w: connected to %q, expected %q",
			apperrors.ErrConfig, currentDB, c.cfg.Database)
	}
	return nil
}

func clampLimit(limit, max int) int {
	if limit <= 0 || limit > max {
		return max
	}
	return limit
}

// ExecuteQuery runs a read query with a row bound via TOP. The clause is
// injected only when the caller's SELECT carries neither TOP nor LIMIT, so
// ORDER BY in caller SQL stays at the top level where T-SQL allows it.
func (c *Connector) ExecuteQuery(ctx context.Context, query string, limit int) (*datasource.QueryResult, error) {
	limit = clampLimit(limit, c.limits.MaxRowLimit)
	return c.QueryRows(ctx, datasource.ApplyTopLimit(query, limit))
}

// QueryRows runs a parameterized query and renders the result. Queries may
// use @p1-style placeholders natively or $1-style, which are rewritten.
func (c *Connector) QueryRows(ctx context.Context, query string, args ...any) (*datasource.QueryResult, error) {
	db, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, convertParams(query), args...)
	if err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectSQLServer, err)
	}
	defer rows.Close()

	result, err := datasource.CollectRows(rows)
	if err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectSQLServer, err)
	}
	return result, nil
}

// ExecStatement runs a parameterized DML statement. The driver does not
// report last-insert ids; inserts that need the new key use OUTPUT INSERTED.
func (c *Connector) ExecStatement(ctx context.Context, query string, args ...any) (*datasource.ExecOutcome, error) {
	db, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	res, err := db.ExecContext(ctx, convertParams(query), args...)
	if err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectSQLServer, err)
	}

	outcome := &datasource.ExecOutcome{}
	if affected, err := res.RowsAffected(); err == nil {
		outcome.RowsAffected = affected
	}
	return outcome, nil
}

// GetDistinctValues returns distinct non-null values of a column, optionally
// filtered with a case-insensitive contains match.
func (c *Connector) GetDistinctValues(ctx context.Context, table, column, search string, limit int) ([]string, error) {
	if err := c.requireTable(ctx, table); err != nil {
		return nil, err
	}
	limit = clampLimit(limit, c.limits.DistinctValueLimit)

	d := Dialect{}
	quotedCol := d.QuoteIdentifier(column)
	castCol := fmt.Sprintf("CAST(%s AS NVARCHAR(MAX))", quotedCol)
	query := fmt.Sprintf(
		"SELECT DISTINCT TOP (%d) %s FROM %s WHERE %s IS NOT NULL",
		limit, castCol, c.tableRef(table), quotedCol)

	args := []any{}
	if search != "" {
		query += fmt.Sprintf(" AND LOWER(%s) LIKE LOWER(@p1)", castCol)
		args = append(args, "%"+search+"%")
	}
	query += " ORDER BY 1"

	result, err := c.QueryRows(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	values := make([]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		values = append(values, row[0])
	}
	return values, nil
}

// SQL returns the SQL Server SQL building rules.
func (c *Connector) SQL() datasource.SQLDialect {
	return Dialect{}
}

// Close releases connector-held state; pools stay with the manager.
func (c *Connector) Close() error {
	return nil
}

// schemaName returns the active schema, defaulting to dbo.
func (c *Connector) schemaName() string {
	if c.cfg.Schema != "" {
		return c.cfg.Schema
	}
	return "dbo"
}

// tableRef returns the bracket-quoted schema-qualified table reference.
func (c *Connector) tableRef(table string) string {
	d := Dialect{}
	return d.QuoteIdentifier(c.schemaName()) + "." + d.QuoteIdentifier(table)
}

var _ datasource.Connector = (*Connector)(nil)
