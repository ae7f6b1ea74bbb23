package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sqlbridge-io/sqlbridge/pkg/adapters/datasource"
	"github.com/sqlbridge-io/sqlbridge/pkg/apperrors"
	"github.com/sqlbridge-io/sqlbridge/pkg/audit"
	"github.com/sqlbridge-io/sqlbridge/pkg/models"
	sqlutil "github.com/sqlbridge-io/sqlbridge/pkg/sql"
)

// TableDataService is the generic tabular CRUD engine. It builds dialect-aware
// SQL from validated identifiers and parameterized values, so the same code
// path serves PostgreSQL, MySQL and SQL Server.
//
// Identifiers (table, column and sort names) are validated against the
// introspected schema before any interpolation; values only ever travel as
// bound parameters.
type TableDataService interface {
	// ReadTable returns one page of rows plus the total count for the same
	// filter set.
	ReadTable(ctx context.Context, datasourceID uuid.UUID, userID, table string, opts ReadOptions) (*TableData, error)

	// InsertRows inserts all rows in a single multi-row INSERT and returns
	// new row identifiers where the dialect can report them. The column set
	// comes from the first row; later rows must not introduce new columns,
	// so omitted columns keep their database defaults.
	InsertRows(ctx context.Context, datasourceID uuid.UUID, userID, table string, rows []map[string]any) (*MutationResult, error)

	// UpdateRows applies per-row changes keyed by the id column. Rows with
	// empty change sets are skipped.
	UpdateRows(ctx context.Context, datasourceID uuid.UUID, userID, table, idColumn string, updates []RowUpdate) (int64, error)

	// DeleteRows deletes rows whose id column matches any of the given ids.
	DeleteRows(ctx context.Context, datasourceID uuid.UUID, userID, table, idColumn string, ids []any) (int64, error)
}

// ReadOptions controls pagination, filtering and ordering of ReadTable.
type ReadOptions struct {
	// Page is 1-based; values below 1 are treated as 1.
	Page int
	// Limit defaults to the configured default and is clamped to the max.
	Limit int
	// Filters maps column names to match values. Strings match
	// case-insensitively as partial matches, arrays as membership, other
	// scalars as equality. All conditions are AND-combined.
	Filters map[string]any
	// SortColumn orders the page when set; must exist in the schema.
	SortColumn string
	// SortDesc reverses the sort order.
	SortDesc bool
}

// TableData is one page of table rows.
type TableData struct {
	Columns         []string   `json:"columns"`
	Rows            [][]string `json:"rows"`
	TotalCount      int64      `json:"total_count"`
	Page            int        `json:"page"`
	Limit           int        `json:"limit"`
	ExecutionTimeMs int64      `json:"execution_time_ms"`
}

// RowUpdate is one row's change set for UpdateRows.
type RowUpdate struct {
	ID      any            `json:"id"`
	Changes map[string]any `json:"changes"`
}

// MutationResult reports the outcome of InsertRows.
type MutationResult struct {
	RowsAffected int64    `json:"rows_affected"`
	InsertedIDs  []string `json:"inserted_ids,omitempty"`
}

type tableDataService struct {
	datasourceSvc DatasourceService
	schemaSvc     SchemaService
	auditor       *audit.SecurityAuditor
	defaultLimit  int
	maxLimit      int
	timeout       time.Duration
	logger        *zap.Logger
}

// NewTableDataService creates a new table-data service with dependencies.
// The auditor may be nil to disable security audit events.
func NewTableDataService(
	datasourceSvc DatasourceService,
	schemaSvc SchemaService,
	auditor *audit.SecurityAuditor,
	defaultLimit, maxLimit int,
	timeout time.Duration,
	logger *zap.Logger,
) TableDataService {
	return &tableDataService{
		datasourceSvc: datasourceSvc,
		schemaSvc:     schemaSvc,
		auditor:       auditor,
		defaultLimit:  defaultLimit,
		maxLimit:      maxLimit,
		timeout:       timeout,
		logger:        logger,
	}
}

// auditScreenFailure emits an injection audit event for a failed screen.
func (s *tableDataService) auditScreenFailure(datasourceID uuid.UUID, userID string, err error) {
	var injErr *sqlutil.InjectionError
	if !errors.As(err, &injErr) {
		return
	}
	s.auditor.LogInjectionAttempt(datasourceID, userID, audit.InjectionDetails{
		Column:      injErr.Column,
		Value:       injErr.Value,
		Fingerprint: injErr.Fingerprint,
	})
}

func (s *tableDataService) ReadTable(ctx context.Context, datasourceID uuid.UUID, userID, table string, opts ReadOptions) (*TableData, error) {
	structure, err := s.schemaSvc.TableStructure(ctx, datasourceID, userID, table)
	if err != nil {
		return nil, err
	}

	page := opts.Page
	if page < 1 {
		page = 1
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = s.defaultLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}

	if opts.SortColumn != "" && !structure.HasColumn(opts.SortColumn) {
		return nil, fmt.Errorf("%w: sort column %q does not exist in table %q", apperrors.ErrSchema, opts.SortColumn, table)
	}
	if err := validateFilterColumns(structure, table, opts.Filters); err != nil {
		return nil, err
	}
	if err := sqlutil.ScreenFilters(opts.Filters); err != nil {
		s.auditScreenFailure(datasourceID, userID, err)
		return nil, err
	}

	conn, err := s.datasourceSvc.Connector(ctx, datasourceID, userID)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	dialect := conn.SQL()
	where, args := buildWhere(dialect, opts.Filters)

	orderBy := ""
	if opts.SortColumn != "" {
		direction := "ASC"
		if opts.SortDesc {
			direction = "DESC"
		}
		orderBy = fmt.Sprintf(" ORDER BY %s %s", dialect.QuoteIdentifier(opts.SortColumn), direction)
	} else if dialect.RequiresOrderForPagination() {
		// SQL Server's OFFSET/FETCH is only valid after ORDER BY.
		orderBy = " ORDER BY (SELECT NULL)"
	}

	quotedTable := dialect.QuoteIdentifier(table)
	offset := (page - 1) * limit
	dataQuery := fmt.Sprintf("SELECT * FROM %s%s%s %s",
		quotedTable, where, orderBy, dialect.LimitOffset(limit, offset))
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", quotedTable, where)

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	result, err := conn.QueryRows(opCtx, dataQuery, args...)
	if err != nil {
		return nil, err
	}

	countResult, err := conn.QueryRows(opCtx, countQuery, args...)
	if err != nil {
		return nil, err
	}
	total, err := scalarInt(countResult)
	if err != nil {
		return nil, fmt.Errorf("failed to read row count for table %q: %w", table, err)
	}

	return &TableData{
		Columns:         result.Columns,
		Rows:            result.Rows,
		TotalCount:      total,
		Page:            page,
		Limit:           limit,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

func (s *tableDataService) InsertRows(ctx context.Context, datasourceID uuid.UUID, userID, table string, rows []map[string]any) (*MutationResult, error) {
	if len(rows) == 0 {
		return &MutationResult{}, nil
	}

	structure, err := s.schemaSvc.TableStructure(ctx, datasourceID, userID, table)
	if err != nil {
		return nil, err
	}

	columns := sortedKeys(rows[0])
	for _, col := range columns {
		if !structure.HasColumn(col) {
			return nil, fmt.Errorf("%w: column %q does not exist in table %q", apperrors.ErrSchema, col, table)
		}
	}
	for i, row := range rows {
		for col := range row {
			if _, ok := rows[0][col]; !ok {
				return nil, fmt.Errorf("%w: row %d column %q is not in the first row's column set",
					apperrors.ErrQuery, i+1, col)
			}
		}
		if err := sqlutil.ScreenFilters(row); err != nil {
			s.auditScreenFailure(datasourceID, userID, err)
			return nil, err
		}
	}

	conn, err := s.datasourceSvc.Connector(ctx, datasourceID, userID)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	dialect := conn.SQL()

	quotedCols := make([]string, len(columns))
	for i, col := range columns {
		quotedCols[i] = dialect.QuoteIdentifier(col)
	}

	var args []any
	valueGroups := make([]string, len(rows))
	n := 0
	for i, row := range rows {
		placeholders := make([]string, len(columns))
		for j, col := range columns {
			n++
			placeholders[j] = dialect.Placeholder(n)
			args = append(args, row[col])
		}
		valueGroups[i] = "(" + strings.Join(placeholders, ", ") + ")"
	}

	idColumn := primaryKeyColumn(structure)

	var query string
	switch {
	case dialect.SupportsReturning() && idColumn != "":
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES %s RETURNING %s",
			dialect.QuoteIdentifier(table), strings.Join(quotedCols, ", "),
			strings.Join(valueGroups, ", "), dialect.QuoteIdentifier(idColumn))
	case dialect.Name() == datasource.DialectSQLServer && idColumn != "":
		query = fmt.Sprintf("INSERT INTO %s (%s) OUTPUT INSERTED.%s VALUES %s",
			dialect.QuoteIdentifier(table), strings.Join(quotedCols, ", "),
			dialect.QuoteIdentifier(idColumn), strings.Join(valueGroups, ", "))
	default:
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
			dialect.QuoteIdentifier(table), strings.Join(quotedCols, ", "),
			strings.Join(valueGroups, ", "))
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// RETURNING and OUTPUT produce a result set; plain INSERT does not.
	if dialect.SupportsReturning() && idColumn != "" ||
		dialect.Name() == datasource.DialectSQLServer && idColumn != "" {
		result, err := conn.QueryRows(opCtx, query, args...)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, result.RowCount)
		for _, row := range result.Rows {
			if len(row) > 0 {
				ids = append(ids, row[0])
			}
		}
		return &MutationResult{RowsAffected: int64(result.RowCount), InsertedIDs: ids}, nil
	}

	outcome, err := conn.ExecStatement(opCtx, query, args...)
	if err != nil {
		return nil, err
	}
	mutation := &MutationResult{RowsAffected: outcome.RowsAffected}
	if outcome.LastInsertID > 0 {
		// MySQL reports the first auto-increment id of a multi-row insert.
		mutation.InsertedIDs = []string{strconv.FormatInt(outcome.LastInsertID, 10)}
	}
	return mutation, nil
}

func (s *tableDataService) UpdateRows(ctx context.Context, datasourceID uuid.UUID, userID, table, idColumn string, updates []RowUpdate) (int64, error) {
	structure, err := s.schemaSvc.TableStructure(ctx, datasourceID, userID, table)
	if err != nil {
		return 0, err
	}
	if !structure.HasColumn(idColumn) {
		return 0, fmt.Errorf("%w: id column %q does not exist in table %q", apperrors.ErrSchema, idColumn, table)
	}

	for _, update := range updates {
		for col := range update.Changes {
			if !structure.HasColumn(col) {
				return 0, fmt.Errorf("%w: column %q does not exist in table %q", apperrors.ErrSchema, col, table)
			}
		}
		if err := sqlutil.ScreenFilters(update.Changes); err != nil {
			s.auditScreenFailure(datasourceID, userID, err)
			return 0, err
		}
		if err := sqlutil.ScreenValue(idColumn, update.ID); err != nil {
			s.auditScreenFailure(datasourceID, userID, err)
			return 0, err
		}
	}

	conn, err := s.datasourceSvc.Connector(ctx, datasourceID, userID)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	dialect := conn.SQL()
	quotedTable := dialect.QuoteIdentifier(table)
	quotedID := dialect.QuoteIdentifier(idColumn)

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var affected int64
	for _, update := range updates {
		if len(update.Changes) == 0 {
			continue
		}

		columns := sortedKeys(update.Changes)
		assignments := make([]string, len(columns))
		args := make([]any, 0, len(columns)+1)
		for i, col := range columns {
			assignments[i] = fmt.Sprintf("%s = %s", dialect.QuoteIdentifier(col), dialect.Placeholder(i+1))
			args = append(args, update.Changes[col])
		}
		args = append(args, update.ID)

		query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
			quotedTable, strings.Join(assignments, ", "), quotedID, dialect.Placeholder(len(columns)+1))

		outcome, err := conn.ExecStatement(opCtx, query, args...)
		if err != nil {
			return affected, err
		}
		affected += outcome.RowsAffected
	}
	return affected, nil
}

func (s *tableDataService) DeleteRows(ctx context.Context, datasourceID uuid.UUID, userID, table, idColumn string, ids []any) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	structure, err := s.schemaSvc.TableStructure(ctx, datasourceID, userID, table)
	if err != nil {
		return 0, err
	}
	if !structure.HasColumn(idColumn) {
		return 0, fmt.Errorf("%w: id column %q does not exist in table %q", apperrors.ErrSchema, idColumn, table)
	}
	for _, id := range ids {
		if err := sqlutil.ScreenValue(idColumn, id); err != nil {
			s.auditScreenFailure(datasourceID, userID, err)
			return 0, err
		}
	}

	conn, err := s.datasourceSvc.Connector(ctx, datasourceID, userID)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	dialect := conn.SQL()
	placeholders := make([]string, len(ids))
	for i := range ids {
		placeholders[i] = dialect.Placeholder(i + 1)
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)",
		dialect.QuoteIdentifier(table), dialect.QuoteIdentifier(idColumn), strings.Join(placeholders, ", "))

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	outcome, err := conn.ExecStatement(opCtx, query, ids...)
	if err != nil {
		return 0, err
	}
	return outcome.RowsAffected, nil
}

// buildWhere renders the AND-combined filter clause. Iteration is sorted by
// column name so generated SQL is deterministic.
func buildWhere(dialect datasource.SQLDialect, filters map[string]any) (string, []any) {
	if len(filters) == 0 {
		return "", nil
	}

	var conditions []string
	var args []any
	n := 0

	for _, column := range sortedKeys(filters) {
		quoted := dialect.QuoteIdentifier(column)
		switch v := filters[column].(type) {
		case string:
			n++
			conditions = append(conditions, dialect.ILike(quoted, dialect.Placeholder(n)))
			args = append(args, "%"+v+"%")
		case []string:
			placeholders := make([]string, len(v))
			for i, item := range v {
				n++
				placeholders[i] = dialect.Placeholder(n)
				args = append(args, item)
			}
			conditions = append(conditions, fmt.Sprintf("%s IN (%s)", quoted, strings.Join(placeholders, ", ")))
		case []any:
			placeholders := make([]string, len(v))
			for i, item := range v {
				n++
				placeholders[i] = dialect.Placeholder(n)
				args = append(args, item)
			}
			conditions = append(conditions, fmt.Sprintf("%s IN (%s)", quoted, strings.Join(placeholders, ", ")))
		default:
			n++
			conditions = append(conditions, fmt.Sprintf("%s = %s", quoted, dialect.Placeholder(n)))
			args = append(args, v)
		}
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func validateFilterColumns(structure *models.TableStructure, table string, filters map[string]any) error {
	for column := range filters {
		if !structure.HasColumn(column) {
			return fmt.Errorf("%w: filter column %q does not exist in table %q", apperrors.ErrSchema, column, table)
		}
	}
	return nil
}

// primaryKeyColumn returns the single-column primary key, or "" when the
// table has none or a composite key.
func primaryKeyColumn(structure *models.TableStructure) string {
	if len(structure.PrimaryKeys) == 1 {
		return structure.PrimaryKeys[0]
	}
	return ""
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func scalarInt(result *datasource.QueryResult) (int64, error) {
	if len(result.Rows) == 0 || len(result.Rows[0]) == 0 {
		return 0, fmt.Errorf("empty result")
	}
	return strconv.ParseInt(result.Rows[0][0], 10, 64)
}

var _ TableDataService = (*tableDataService)(nil)
