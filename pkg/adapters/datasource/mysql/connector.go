// Package mysql implements the MySQL connector on database/sql with the
// go-sql-driver.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sqlbridge-io/sqlbridge/pkg/adapters/datasource"
	"github.com/sqlbridge-io/sqlbridge/pkg/apperrors"
	"github.com/sqlbridge-io/sqlbridge/pkg/logging"
)

// Connector provides MySQL connectivity. The pool is acquired from the
// connection manager on first use, with a one-time TLS downgrade retry when
// the user left ssl_mode unset.
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

// NewConnector creates a MySQL connector bound to the shared manager.
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

// buildDSN composes the driver DSN through mysql.Config so credentials with
// special characters survive formatting. tlsMode maps ssl_mode onto the
// driver's tls parameter ("true", "false", "skip-verify", "preferred").
func buildDSN(cfg *datasource.ConnectionConfig, tlsMode string) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mc.DBName = cfg.Database
	mc.ParseTime = true
	mc.TLSConfig = tlsMode
	return mc.FormatDSN()
}

// tlsModeFor maps the generic ssl_mode names onto driver tls values.
func tlsModeFor(sslMode string) string {
	switch strings.ToLower(sslMode) {
	case "disable", "disabled", "false":
		return "false"
	case "require", "required", "true":
		return "true"
	case "skip-verify", "verify-none":
		return "skip-verify"
	case "preferred", "prefer":
		return "preferred"
	default:
		return sslMode
	}
}

// dsnCandidates returns the DSNs to try, in order. A raw DSN or a pinned
// ssl mode yields exactly one candidate; otherwise TLS is tried first and
// plaintext second.
func dsnCandidates(cfg *datasource.ConnectionConfig) []string {
	if cfg.URL != "" {
		if strings.Contains(cfg.URL, "tls=") {
			return []string{cfg.URL}
		}
		sep := "?"
		if strings.Contains(cfg.URL, "?") {
			sep = "&"
		}
		return []string{cfg.URL, cfg.URL + sep + "tls=false"}
	}
	if cfg.SSLModeSet() {
		return []string{buildDSN(cfg, tlsModeFor(cfg.SSLMode))}
	}
	return []string{buildDSN(cfg, "true"), buildDSN(cfg, "false")}
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
				c.logger.Info("connection failed, retrying with TLS disabled",
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

	return nil, apperrors.ClassifyConnect(datasource.DialectMySQL, lastErr)
}

// newPool is the PoolFactory handed to the connection manager.
func newPool(ctx context.Context, dsn string, settings datasource.PoolSettings) (datasource.PoolConnector, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql pool: %w", err)
	}
	db.SetMaxOpenConns(int(settings.MaxConns))
	db.SetMaxIdleConns(int(settings.MinConns))
	if settings.MaxIdleTime > 0 {
		db.SetConnMaxIdleTime(settings.MaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &datasource.SQLPoolWrapper{DB: db, Dialect: datasource.DialectMySQL}, nil
}

// Dialect returns the canonical dialect identifier.
func (c *Connector) Dialect() string {
	return datasource.DialectMySQL
}

// TestConnection verifies connectivity, access, and that the connected
// database matches the configured one.
func (c *Connector) TestConnection(ctx context.Context) error {
	db, err := c.acquire(ctx)
	if err != nil {
		return err
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return apperrors.ClassifyConnect(datasource.DialectMySQL, err)
	}

	if c.cfg.Database == "" {
		return nil
	}
	var currentDB sql.NullString
	if err := db.QueryRowContext(ctx, "SELECT DATABASE()").Scan(&currentDB); err != nil {
		return apperrors.ClassifyConnect(datasource.DialectMySQL, err)
	}
	if !currentDB.Valid || !strings.EqualFold(currentDB.String, c.cfg.Database) {
		return fmt.Errorf("%w: connected to %q, expected %q",
			apperrors.ErrConfig, currentDB.String, c.cfg.Database)
	}
	return nil
}

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

// QueryRows runs a parameterized query with ? placeholders and renders the
// result.
func (c *Connector) QueryRows(ctx context.Context, query string, args ...any) (*datasource.QueryResult, error) {
	db, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectMySQL, err)
	}
	defer rows.Close()

	result, err := datasource.CollectRows(rows)
	if err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectMySQL, err)
	}
	return result, nil
}

// ExecStatement runs a parameterized DML statement. MySQL reports the last
// inserted auto-increment id on the result.
func (c *Connector) ExecStatement(ctx context.Context, query string, args ...any) (*datasource.ExecOutcome, error) {
	db, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectMySQL, err)
	}

	outcome := &datasource.ExecOutcome{}
	if affected, err := res.RowsAffected(); err == nil {
		outcome.RowsAffected = affected
	}
	if lastID, err := res.LastInsertId(); err == nil {
		outcome.LastInsertID = lastID
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
	query := fmt.Sprintf(
		"SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL",
		quotedCol, d.QuoteIdentifier(table), quotedCol)

	args := []any{}
	if search != "" {
		query += fmt.Sprintf(" AND %s", d.ILike(quotedCol, "?"))
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

// SQL returns the MySQL SQL building rules.
func (c *Connector) SQL() datasource.SQLDialect {
	return Dialect{}
}

// Close releases connector-held state; pools stay with the manager.
func (c *Connector) Close() error {
	return nil
}

var _ datasource.Connector = (*Connector)(nil)
