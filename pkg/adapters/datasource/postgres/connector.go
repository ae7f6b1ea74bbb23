// Package postgres implements the PostgreSQL connector on pgx pools.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/sqlbridge-io/sqlbridge/pkg/adapters/datasource"
	"github.com/sqlbridge-io/sqlbridge/pkg/apperrors"
	"github.com/sqlbridge-io/sqlbridge/pkg/logging"
)

// Connector provides PostgreSQL connectivity. Construction is cheap; the
// pool is acquired from the connection manager on first use, with a one-time
// TLS downgrade retry when the user left ssl_mode unset.
type Connector struct {
	cfg          *datasource.ConnectionConfig
	mgr          *datasource.ConnectionManager
	datasourceID uuid.UUID
	userID       string
	limits       datasource.Limits
	logger       *zap.Logger

	mu        sync.Mutex
	activeDSN string // memoized winning DSN after first successful dial
}

// NewConnector creates a PostgreSQL connector bound to the shared manager.
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

// buildDSN composes a PostgreSQL URL. User-provided fields are
// percent-encoded so passwords with @, /, # or ? survive parsing. An empty
// sslMode is omitted, leaving TLS negotiation to the driver default.
func buildDSN(cfg *datasource.ConnectionConfig, sslMode string) string {
	dsn := fmt.Sprintf("postgresql://%s:%s@%s:%d/%s",
		cfg.EscapedUser(), cfg.EscapedPassword(), cfg.Host, cfg.Port, cfg.EscapedDatabase())
	if sslMode != "" {
		dsn += "?sslmode=" + sslMode
	}
	return dsn
}

// dsnCandidates returns the DSNs to try, in order. When the user pinned an
// ssl mode (or supplied a full URL with one) there is exactly one candidate;
// otherwise the configured string is tried as-is first, then with TLS
// explicitly disabled.
func dsnCandidates(cfg *datasource.ConnectionConfig) []string {
	if cfg.URL != "" {
		if strings.Contains(cfg.URL, "sslmode=") {
			return []string{cfg.URL}
		}
		sep := "?"
		if strings.Contains(cfg.URL, "?") {
			sep = "&"
		}
		return []string{cfg.URL, cfg.URL + sep + "sslmode=disable"}
	}
	if cfg.SSLModeSet() {
		return []string{buildDSN(cfg, cfg.SSLMode)}
	}
	return []string{buildDSN(cfg, ""), buildDSN(cfg, "disable")}
}

// acquire returns a healthy pool, dialing candidates in order on first use.
// The winning DSN is memoized so later acquisitions skip the failed variant.
// When every candidate fails, the last error wins.
func (c *Connector) acquire(ctx context.Context) (*pgxpool.Pool, error) {
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
				c.logger.Info("connection failed, retrying with TLS disabled",
					zap.String("target", c.cfg.Masked()),
					zap.String("error", logging.SanitizeError(err)),
				)
			}
			continue
		}

		pool, err := datasource.GetPostgresPool(pc)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.activeDSN = dsn
		c.mu.Unlock()
		return pool, nil
	}

	return nil, apperrors.ClassifyConnect(datasource.DialectPostgreSQL, lastErr)
}

// newPool is the PoolFactory handed to the connection manager.
func newPool(ctx context.Context, dsn string, settings datasource.PoolSettings) (datasource.PoolConnector, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	poolCfg.MaxConns = settings.MaxConns
	poolCfg.MinConns = settings.MinConns
	if settings.MaxIdleTime > 0 {
		poolCfg.MaxConnIdleTime = settings.MaxIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &datasource.PostgresPoolWrapper{Pool: pool}, nil
}

// Dialect returns the canonical dialect identifier.
func (c *Connector) Dialect() string {
	return datasource.DialectPostgreSQL
}

// TestConnection verifies connectivity, access, and that the connected
// database matches the configured one (guards against connecting to a
// default database when the target name is wrong).
func (c *Connector) TestConnection(ctx context.Context) error {
	pool, err := c.acquire(ctx)
	if err != nil {
		return err
	}

	var result int
	if err := pool.QueryRow(ctx, "SELECT 1").Scan(&result); err != nil {
		return apperrors.ClassifyConnect(datasource.DialectPostgreSQL, err)
	}

	if c.cfg.Database == "" {
		return nil
	}
	var currentDB string
	if err := pool.QueryRow(ctx, "SELECT current_database()").Scan(&currentDB); err != nil {
		return apperrors.ClassifyConnect(datasource.DialectPostgreSQL, err)
	}
	if !strings.EqualFold(currentDB, c.cfg.Database) {
		return fmt.Errorf("%w: connected to %q, expected %q",
			apperrors.ErrConfig, currentDB, c.cfg.Database)
	}
	return nil
}

// clampLimit enforces the configured row bound. Non-positive and oversized
// limits both collapse to the maximum.
func clampLimit(limit, max int) int {
	if limit <= 0 || limit > max {
		return max
	}
	return limit
}

// ExecuteQuery runs a read query with a row bound. The LIMIT clause is
// appended only when the caller's SQL does not already carry one.
func (c *Connector) ExecuteQuery(ctx context.Context, query string, limit int) (*datasource.QueryResult, error) {
	limit = clampLimit(limit, c.limits.MaxRowLimit)
	return c.QueryRows(ctx, datasource.ApplyRowLimit(query, limit))
}

// QueryRows runs a parameterized query and renders the result. Placeholders
// use $1, $2, ... which pgx binds natively.
func (c *Connector) QueryRows(ctx context.Context, query string, args ...any) (*datasource.QueryResult, error) {
	pool, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = string(fd.Name)
	}

	result := &datasource.QueryResult{Columns: columns, Rows: [][]string{}}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
		}
		result.Rows = append(result.Rows, datasource.RenderRow(values))
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
	}

	result.RowCount = len(result.Rows)
	return result, nil
}

// ExecStatement runs a parameterized DML statement.
func (c *Connector) ExecStatement(ctx context.Context, query string, args ...any) (*datasource.ExecOutcome, error) {
	pool, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	tag, err := pool.Exec(ctx, query, args...)
	if err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
	}
	return &datasource.ExecOutcome{RowsAffected: tag.RowsAffected()}, nil
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
	query := fmt.Sprintf(
		"SELECT DISTINCT %s::text FROM %s WHERE %s IS NOT NULL",
		quotedCol, c.tableRef(table), quotedCol)

	args := []any{}
	if search != "" {
		query += fmt.Sprintf(" AND %s::text ILIKE $1", quotedCol)
		args = append(args, "%"+search+"%")
	}
	query += fmt.Sprintf(" ORDER BY 1 LIMIT %d", limit)

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

// SQL returns the PostgreSQL SQL building rules.
func (c *Connector) SQL() datasource.SQLDialect {
	return Dialect{}
}

// Close releases connector-held state. Pools belong to the manager and stay
// open for reuse within their TTL.
func (c *Connector) Close() error {
	return nil
}

// schemaName returns the active schema, defaulting to public.
func (c *Connector) schemaName() string {
	if c.cfg.Schema != "" {
		return c.cfg.Schema
	}
	return "public"
}

// tableRef returns the quoted schema-qualified table reference.
func (c *Connector) tableRef(table string) string {
	d := Dialect{}
	return d.QuoteIdentifier(c.schemaName()) + "." + d.QuoteIdentifier(table)
}

var _ datasource.Connector = (*Connector)(nil)
