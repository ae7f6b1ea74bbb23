package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolConnector abstracts connection pool operations across database types
// so the ConnectionManager can manage pgx pools and database/sql pools
// uniformly.
type PoolConnector interface {
	// Ping verifies the connection is alive
	Ping(ctx context.Context) error

	// Close closes all connections in the pool
	Close() error

	// GetType returns the database type for logging/stats
	GetType() string
}

// PoolSettings carries the manager's pool tuning into factories.
type PoolSettings struct {
	MaxConns    int32
	MinConns    int32
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// PoolFactory dials a new pool for a DSN. Factories are provided by the
// dialect packages so the manager stays driver-agnostic.
type PoolFactory func(ctx context.Context, dsn string, settings PoolSettings) (PoolConnector, error)

// PostgresPoolWrapper adapts *pgxpool.Pool to PoolConnector.
type PostgresPoolWrapper struct {
	Pool *pgxpool.Pool
}

func (w *PostgresPoolWrapper) Ping(ctx context.Context) error {
	return w.Pool.Ping(ctx)
}

func (w *PostgresPoolWrapper) Close() error {
	w.Pool.Close()
	return nil
}

func (w *PostgresPoolWrapper) GetType() string {
	return DialectPostgreSQL
}

// SQLPoolWrapper adapts *sql.DB (MySQL, SQL Server) to PoolConnector.
// database/sql maintains the actual pool; the wrapper only tags it with a
// dialect for stats.
type SQLPoolWrapper struct {
	DB      *sql.DB
	Dialect string
}

func (w *SQLPoolWrapper) Ping(ctx context.Context) error {
	return w.DB.PingContext(ctx)
}

func (w *SQLPoolWrapper) Close() error {
	return w.DB.Close()
}

func (w *SQLPoolWrapper) GetType() string {
	return w.Dialect
}

// GetPostgresPool extracts the pgx pool from a PoolConnector.
func GetPostgresPool(pc PoolConnector) (*pgxpool.Pool, error) {
	wrapper, ok := pc.(*PostgresPoolWrapper)
	if !ok {
		return nil, fmt.Errorf("pool is not a PostgreSQL pool (got %s)", pc.GetType())
	}
	return wrapper.Pool, nil
}

// GetSQLDB extracts the database/sql pool from a PoolConnector.
func GetSQLDB(pc PoolConnector) (*sql.DB, error) {
	wrapper, ok := pc.(*SQLPoolWrapper)
	if !ok {
		return nil, fmt.Errorf("pool is not a database/sql pool (got %s)", pc.GetType())
	}
	return wrapper.DB, nil
}

// Compile-time interface checks.
var (
	_ PoolConnector = (*PostgresPoolWrapper)(nil)
	_ PoolConnector = (*SQLPoolWrapper)(nil)
)
