// Package datasource defines the connector abstraction for external
// databases, the dialect registry, and the pooled connection manager.
//
// A Connector wraps one configured datasource and exposes the gateway's
// capability operations (query, schema inspection, statistics, table data
// primitives). Connector construction never touches the network; the first
// operation dials through the shared ConnectionManager.
package datasource

import (
	"context"

	"github.com/sqlbridge-io/sqlbridge/pkg/models"
)

// QueryResult is the tabular result of a bounded query. Every row has
// exactly len(Columns) cells; values are rendered as strings with NULL and
// undecodable cells as the literal "NULL".
type QueryResult struct {
	Columns  []string   `json:"columns"`
	Rows     [][]string `json:"rows"`
	RowCount int        `json:"row_count"`
}

// ColumnDescriptor is the lightweight column shape used by schema
// snapshots, mirroring information_schema conventions (IsNullable is
// "YES"/"NO").
type ColumnDescriptor struct {
	ColumnName string `json:"column_name"`
	DataType   string `json:"data_type"`
	IsNullable string `json:"is_nullable"`
}

// SchemaSnapshot is the full-schema envelope returned by FetchSchema.
type SchemaSnapshot struct {
	DatabaseSchema string                        `json:"database_schema"`
	Tables         map[string][]ColumnDescriptor `json:"tables"`
	RefreshedAt    string                        `json:"refreshed_at"` // RFC3339
}

// TableStat describes one table in analysis and statistics responses.
type TableStat struct {
	Name        string `json:"name"`
	SizeBytes   int64  `json:"size_bytes"`
	Size        string `json:"size"` // humanized, e.g. "12.41 MB"
	RowCount    int64  `json:"row_count"`
	Connections int64  `json:"connections"` // foreign key references in + out
	Comment     string `json:"comment,omitempty"`
}

// DatabaseAnalysis is a compact database overview: key tables are ranked by
// connections*1000 + size_bytes/1000000 so heavily referenced tables beat
// merely large ones.
type DatabaseAnalysis struct {
	TableCount    int         `json:"table_count"`
	TotalSize     string      `json:"total_size"`
	KeyTables     []TableStat `json:"key_tables"`
	LargestTables []TableStat `json:"largest_tables"`
}

// DatabaseStats summarizes size and relationship distribution.
// MostConnected excludes tables with zero foreign key relationships.
type DatabaseStats struct {
	DatabaseName   string      `json:"database_name"`
	TableCount     int         `json:"table_count"`
	TotalSizeBytes int64       `json:"total_size_bytes"`
	TotalSize      string      `json:"total_size"`
	LargestTables  []TableStat `json:"largest_tables"`
	MostConnected  []TableStat `json:"most_connected"`
}

// TableSummary is the per-table detail returned by GetTablesSchema.
type TableSummary struct {
	Columns       []ColumnDescriptor  `json:"columns"`
	PrimaryKeys   []string            `json:"primary_keys"`
	ForeignKeys   []models.ForeignKey `json:"foreign_keys"`
	SampleColumns []string            `json:"sample_columns"`
	SampleRows    [][]string          `json:"sample_rows"`
	RowCount      int64               `json:"row_count"`
}

// TableMatch is one result of a table name search.
type TableMatch struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

// Relation is one foreign key edge in a related-tables response.
type Relation struct {
	Table         string `json:"table"`          // the other table
	Column        string `json:"column"`         // column holding the reference
	ForeignColumn string `json:"foreign_column"` // column being referenced
}

// RelatedTables lists foreign key neighbors of a table in both directions.
type RelatedTables struct {
	Table        string     `json:"table"`
	References   []Relation `json:"references"`    // outgoing: this table points at others
	ReferencedBy []Relation `json:"referenced_by"` // incoming: others point at this table
}

// ExecOutcome is the result of a DML statement. LastInsertID is only
// populated by drivers that report it (MySQL); others return 0.
type ExecOutcome struct {
	RowsAffected int64 `json:"rows_affected"`
	LastInsertID int64 `json:"last_insert_id,omitempty"`
}

// Limits carries the configured row bounds into connectors.
type Limits struct {
	MaxRowLimit        int
	DistinctValueLimit int
	SampleRows         int
}

// SQLDialect exposes the per-dialect SQL building rules the table-data
// engine needs: identifier quoting, parameter placeholders, pagination,
// and case-insensitive matching.
type SQLDialect interface {
	// Name returns the canonical dialect identifier.
	Name() string

	// QuoteIdentifier safely quotes an identifier (injection-proof quoting,
	// not validation; callers still validate names against the schema).
	QuoteIdentifier(name string) string

	// Placeholder returns the 1-based parameter placeholder ($1, ?, @p1).
	Placeholder(n int) string

	// SupportsReturning reports whether INSERT ... RETURNING works.
	SupportsReturning() bool

	// ILike renders a case-insensitive contains predicate for a quoted
	// column and a placeholder (ILIKE on postgres, LOWER(...) LIKE others).
	ILike(column, placeholder string) string

	// LimitOffset renders the pagination clause, without leading space.
	// SQL Server's form requires ORDER BY; see RequiresOrderForPagination.
	LimitOffset(limit, offset int) string

	// RequiresOrderForPagination reports whether LimitOffset is only valid
	// after an ORDER BY clause.
	RequiresOrderForPagination() bool
}

// Connector is the capability surface of one configured datasource.
// Implementations are safe for concurrent use.
type Connector interface {
	// Dialect returns the canonical dialect identifier.
	Dialect() string

	// TestConnection verifies connectivity, negotiating TLS fallback on the
	// first attempt (see package postgres/mysql/mssql for per-dialect DSN
	// variants). Also verifies the connected database matches the config.
	TestConnection(ctx context.Context) error

	// ExecuteQuery runs an ad-hoc read query with a server-enforced row
	// bound. A limit <= 0 or above the configured maximum is clamped.
	ExecuteQuery(ctx context.Context, query string, limit int) (*QueryResult, error)

	// FetchSchema returns all tables and columns in the active schema.
	FetchSchema(ctx context.Context) (*SchemaSnapshot, error)

	// ListTables returns sorted table names in the active schema.
	ListTables(ctx context.Context) ([]string, error)

	// AnalyzeDatabase returns a ranked database overview.
	AnalyzeDatabase(ctx context.Context) (*DatabaseAnalysis, error)

	// GetTablesSchema returns per-table detail for the requested tables.
	// Tables that do not exist are silently skipped.
	GetTablesSchema(ctx context.Context, tables []string) (map[string]*TableSummary, error)

	// SearchTables finds tables whose names match the pattern, including
	// singular/plural variants of it.
	SearchTables(ctx context.Context, pattern string) ([]TableMatch, error)

	// GetRelatedTables returns foreign key neighbors of a table. A missing
	// root table is an error (unlike GetTablesSchema).
	GetRelatedTables(ctx context.Context, table string) (*RelatedTables, error)

	// GetDatabaseStats returns size and connectivity statistics.
	GetDatabaseStats(ctx context.Context) (*DatabaseStats, error)

	// GetTableStructure returns the full structure of one table.
	GetTableStructure(ctx context.Context, table string) (*models.TableStructure, error)

	// GetDistinctValues returns distinct values of a column, optionally
	// filtered by a case-insensitive contains match on search.
	GetDistinctValues(ctx context.Context, table, column, search string, limit int) ([]string, error)

	// QueryRows runs a parameterized query and renders the result.
	// Used by the table-data engine; no limit is injected.
	QueryRows(ctx context.Context, query string, args ...any) (*QueryResult, error)

	// ExecStatement runs a parameterized DML statement.
	ExecStatement(ctx context.Context, query string, args ...any) (*ExecOutcome, error)

	// SQL returns the dialect's SQL building rules.
	SQL() SQLDialect

	// Close releases any connector-held resources. Pools owned by the
	// ConnectionManager are not closed.
	Close() error
}
