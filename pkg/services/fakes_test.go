package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/sqlbridge-io/sqlbridge/pkg/adapters/datasource"
	"github.com/sqlbridge-io/sqlbridge/pkg/apperrors"
	"github.com/sqlbridge-io/sqlbridge/pkg/models"
)

type recordedCall struct {
	query string
	args  []any
}

// fakeConnector records every statement it receives and answers from canned
// results. SQL building tests swap in the real dialect structs, which are
// pure and never dial.
type fakeConnector struct {
	mu sync.Mutex

	dialect    datasource.SQLDialect
	queries    []recordedCall
	execs      []recordedCall
	queryFn    func(query string, args ...any) (*datasource.QueryResult, error)
	execFn     func(query string, args ...any) (*datasource.ExecOutcome, error)
	listTables []string
	structures map[string]*models.TableStructure
	distinct   []string
	testErr    error
	closed     int

	listCalls   int
	structCalls int
}

func (f *fakeConnector) Dialect() string {
	if f.dialect != nil {
		return f.dialect.Name()
	}
	return datasource.DialectPostgreSQL
}

func (f *fakeConnector) TestConnection(ctx context.Context) error { return f.testErr }

func (f *fakeConnector) ExecuteQuery(ctx context.Context, query string, limit int) (*datasource.QueryResult, error) {
	return f.QueryRows(ctx, query, limit)
}

func (f *fakeConnector) FetchSchema(ctx context.Context) (*datasource.SchemaSnapshot, error) {
	return &datasource.SchemaSnapshot{}, nil
}

func (f *fakeConnector) ListTables(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	f.listCalls++
	f.mu.Unlock()
	return f.listTables, nil
}

func (f *fakeConnector) AnalyzeDatabase(ctx context.Context) (*datasource.DatabaseAnalysis, error) {
	return &datasource.DatabaseAnalysis{}, nil
}

func (f *fakeConnector) GetTablesSchema(ctx context.Context, tables []string) (map[string]*datasource.TableSummary, error) {
	return map[string]*datasource.TableSummary{}, nil
}

func (f *fakeConnector) SearchTables(ctx context.Context, pattern string) ([]datasource.TableMatch, error) {
	return nil, nil
}

func (f *fakeConnector) GetRelatedTables(ctx context.Context, table string) (*datasource.RelatedTables, error) {
	return &datasource.RelatedTables{Table: table}, nil
}

func (f *fakeConnector) GetDatabaseStats(ctx context.Context) (*datasource.DatabaseStats, error) {
	return &datasource.DatabaseStats{}, nil
}

func (f *fakeConnector) GetTableStructure(ctx context.Context, table string) (*models.TableStructure, error) {
	f.mu.Lock()
	f.structCalls++
	f.mu.Unlock()
	if structure, ok := f.structures[table]; ok {
		return structure, nil
	}
	return nil, fmt.Errorf("%w: table %q does not exist", apperrors.ErrSchema, table)
}

func (f *fakeConnector) GetDistinctValues(ctx context.Context, table, column, search string, limit int) ([]string, error) {
	return f.distinct, nil
}

func (f *fakeConnector) QueryRows(ctx context.Context, query string, args ...any) (*datasource.QueryResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, recordedCall{query: query, args: args})
	f.mu.Unlock()
	if f.queryFn != nil {
		return f.queryFn(query, args...)
	}
	return &datasource.QueryResult{Columns: []string{}, Rows: [][]string{}}, nil
}

func (f *fakeConnector) ExecStatement(ctx context.Context, query string, args ...any) (*datasource.ExecOutcome, error) {
	f.mu.Lock()
	f.execs = append(f.execs, recordedCall{query: query, args: args})
	f.mu.Unlock()
	if f.execFn != nil {
		return f.execFn(query, args...)
	}
	return &datasource.ExecOutcome{RowsAffected: 1}, nil
}

func (f *fakeConnector) SQL() datasource.SQLDialect { return f.dialect }

func (f *fakeConnector) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

var _ datasource.Connector = (*fakeConnector)(nil)

// countingQueryFn answers COUNT(*) queries with total and everything else
// with data.
func countingQueryFn(data *datasource.QueryResult, total string) func(string, ...any) (*datasource.QueryResult, error) {
	return func(query string, args ...any) (*datasource.QueryResult, error) {
		if strings.HasPrefix(query, "SELECT COUNT(*)") {
			return &datasource.QueryResult{Columns: []string{"count"}, Rows: [][]string{{total}}, RowCount: 1}, nil
		}
		return data, nil
	}
}

// fakeDatasourceSvc hands out one connector and one datasource model.
type fakeDatasourceSvc struct {
	ds   *models.Datasource
	conn *fakeConnector
	err  error
}

func (f *fakeDatasourceSvc) Create(ctx context.Context, name, dialect string, config map[string]any) (*models.Datasource, error) {
	return f.ds, f.err
}

func (f *fakeDatasourceSvc) Get(ctx context.Context, id uuid.UUID, userID string) (*models.Datasource, error) {
	return f.ds, f.err
}

func (f *fakeDatasourceSvc) GetByName(ctx context.Context, name string) (*models.Datasource, error) {
	return f.ds, f.err
}

func (f *fakeDatasourceSvc) List(ctx context.Context) ([]*models.Datasource, error) {
	return []*models.Datasource{f.ds}, f.err
}

func (f *fakeDatasourceSvc) Update(ctx context.Context, id uuid.UUID, name, dialect string, config map[string]any) error {
	return f.err
}

func (f *fakeDatasourceSvc) Rename(ctx context.Context, id uuid.UUID, name string) error {
	return f.err
}

func (f *fakeDatasourceSvc) Delete(ctx context.Context, id uuid.UUID) error { return f.err }

func (f *fakeDatasourceSvc) TestConnection(ctx context.Context, dialect string, config map[string]any, userID string) error {
	return f.err
}

func (f *fakeDatasourceSvc) Connector(ctx context.Context, id uuid.UUID, userID string) (datasource.Connector, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.conn, nil
}

var _ DatasourceService = (*fakeDatasourceSvc)(nil)

// fakeSchemaSvc serves canned table structures.
type fakeSchemaSvc struct {
	structures map[string]*models.TableStructure
}

func (f *fakeSchemaSvc) ListTables(ctx context.Context, datasourceID uuid.UUID, userID string) ([]string, error) {
	tables := make([]string, 0, len(f.structures))
	for name := range f.structures {
		tables = append(tables, name)
	}
	return tables, nil
}

func (f *fakeSchemaSvc) TableStructure(ctx context.Context, datasourceID uuid.UUID, userID, table string) (*models.TableStructure, error) {
	if structure, ok := f.structures[table]; ok {
		return structure, nil
	}
	return nil, fmt.Errorf("%w: table %q does not exist", apperrors.ErrSchema, table)
}

func (f *fakeSchemaSvc) RefreshSchema(ctx context.Context, datasourceID uuid.UUID, userID string) ([]string, error) {
	return f.ListTables(ctx, datasourceID, userID)
}

func (f *fakeSchemaSvc) Snapshot(ctx context.Context, datasourceID uuid.UUID, userID string) (*datasource.SchemaSnapshot, error) {
	return &datasource.SchemaSnapshot{Tables: map[string][]datasource.ColumnDescriptor{}}, nil
}

var _ SchemaService = (*fakeSchemaSvc)(nil)

type storedDatasource struct {
	ds        models.Datasource
	encrypted string
}

// memRepo is an in-memory DatasourceRepository for service tests.
type memRepo struct {
	mu       sync.Mutex
	rows     map[uuid.UUID]*storedDatasource
	getCalls int
}

func newMemRepo() *memRepo {
	return &memRepo{rows: map[uuid.UUID]*storedDatasource{}}
}

func (r *memRepo) Create(ctx context.Context, ds *models.Datasource, encryptedConfig string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ds.Name == ds.Name {
			return apperrors.ErrConflict
		}
	}
	ds.ID = uuid.New()
	copied := *ds
	copied.Config = nil
	r.rows[ds.ID] = &storedDatasource{ds: copied, encrypted: encryptedConfig}
	return nil
}

func (r *memRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Datasource, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getCalls++
	row, ok := r.rows[id]
	if !ok {
		return nil, "", apperrors.ErrNotFound
	}
	copied := row.ds
	return &copied, row.encrypted, nil
}

func (r *memRepo) GetByName(ctx context.Context, name string) (*models.Datasource, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ds.Name == name {
			copied := row.ds
			return &copied, row.encrypted, nil
		}
	}
	return nil, "", apperrors.ErrNotFound
}

func (r *memRepo) List(ctx context.Context) ([]*models.Datasource, []string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Datasource
	var configs []string
	for _, row := range r.rows {
		copied := row.ds
		out = append(out, &copied)
		configs = append(configs, row.encrypted)
	}
	return out, configs, nil
}

func (r *memRepo) Update(ctx context.Context, id uuid.UUID, name, dialect, encryptedConfig string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	row.ds.Name = name
	row.ds.Dialect = dialect
	row.ds.TableList = nil
	row.ds.SchemaInfo = nil
	row.encrypted = encryptedConfig
	return nil
}

func (r *memRepo) Rename(ctx context.Context, id uuid.UUID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	row.ds.Name = name
	return nil
}

func (r *memRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.rows, id)
	return nil
}

func (r *memRepo) UpdateTableList(ctx context.Context, id uuid.UUID, tables []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	row.ds.TableList = tables
	return nil
}

func (r *memRepo) ReplaceSchemaInfo(ctx context.Context, id uuid.UUID, schema map[string]*models.TableStructure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	row.ds.SchemaInfo = schema
	return nil
}

func (r *memRepo) MergeTableStructure(ctx context.Context, id uuid.UUID, structure *models.TableStructure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if row.ds.SchemaInfo == nil {
		row.ds.SchemaInfo = map[string]*models.TableStructure{}
	}
	row.ds.SchemaInfo[structure.TableName] = structure
	return nil
}
