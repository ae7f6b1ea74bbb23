package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sqlbridge-io/sqlbridge/pkg/adapters/datasource"
	"github.com/sqlbridge-io/sqlbridge/pkg/adapters/datasource/mssql"
	"github.com/sqlbridge-io/sqlbridge/pkg/adapters/datasource/mysql"
	"github.com/sqlbridge-io/sqlbridge/pkg/adapters/datasource/postgres"
	"github.com/sqlbridge-io/sqlbridge/pkg/apperrors"
	"github.com/sqlbridge-io/sqlbridge/pkg/audit"
	"github.com/sqlbridge-io/sqlbridge/pkg/models"
)

func peopleStructure() *models.TableStructure {
	return &models.TableStructure{
		TableName: "people",
		Columns: []models.ColumnStructure{
			{Name: "id", DataType: "bigint", IsPrimaryKey: true},
			{Name: "name", DataType: "text"},
			{Name: "age", DataType: "integer"},
			{Name: "status", DataType: "text"},
		},
		PrimaryKeys: []string{"id"},
	}
}

func newTableDataService(conn *fakeConnector) TableDataService {
	return NewTableDataService(
		&fakeDatasourceSvc{conn: conn},
		&fakeSchemaSvc{structures: map[string]*models.TableStructure{"people": peopleStructure()}},
		audit.NewSecurityAuditor(zap.NewNop()),
		50, 1000, 30*time.Second, zap.NewNop(),
	)
}

func TestReadTableBuildsPostgresSQL(t *testing.T) {
	data := &datasource.QueryResult{
		Columns:  []string{"id", "name"},
		Rows:     [][]string{{"1", "ali"}},
		RowCount: 1,
	}
	conn := &fakeConnector{dialect: postgres.Dialect{}, queryFn: countingQueryFn(data, "37")}
	svc := newTableDataService(conn)

	result, err := svc.ReadTable(context.Background(), uuid.New(), "alice", "people", ReadOptions{
		Page:  2,
		Limit: 10,
		Filters: map[string]any{
			"name":   "ali",
			"status": []string{"active", "pending"},
		},
		SortColumn: "id",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(37), result.TotalCount)
	assert.Equal(t, 2, result.Page)
	assert.Equal(t, 10, result.Limit)
	assert.Equal(t, [][]string{{"1", "ali"}}, result.Rows)

	require.Len(t, conn.queries, 2)
	assert.Equal(t,
		`SELECT * FROM "people" WHERE "name"::text ILIKE $1 AND "status" IN ($2, $3) ORDER BY "id" ASC LIMIT 10 OFFSET 10`,
		conn.queries[0].query)
	assert.Equal(t, []any{"%ali%", "active", "pending"}, conn.queries[0].args)
	assert.Equal(t,
		`SELECT COUNT(*) FROM "people" WHERE "name"::text ILIKE $1 AND "status" IN ($2, $3)`,
		conn.queries[1].query)
}

func TestReadTableDefaultsAndClamping(t *testing.T) {
	conn := &fakeConnector{dialect: postgres.Dialect{}, queryFn: countingQueryFn(&datasource.QueryResult{}, "0")}
	svc := newTableDataService(conn)

	result, err := svc.ReadTable(context.Background(), uuid.New(), "alice", "people", ReadOptions{
		Page:  -3,
		Limit: 99999,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Page, "page below 1 becomes 1")
	assert.Equal(t, 1000, result.Limit, "limit clamped to max")
	assert.Contains(t, conn.queries[0].query, "LIMIT 1000 OFFSET 0")
}

func TestReadTableSQLServerInjectsOrderForPagination(t *testing.T) {
	conn := &fakeConnector{dialect: mssql.Dialect{}, queryFn: countingQueryFn(&datasource.QueryResult{}, "0")}
	svc := newTableDataService(conn)

	_, err := svc.ReadTable(context.Background(), uuid.New(), "alice", "people", ReadOptions{
		Filters: map[string]any{"name": "ali"},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT * FROM [people] WHERE LOWER(CAST([name] AS NVARCHAR(MAX))) LIKE LOWER(@p1) ORDER BY (SELECT NULL) OFFSET 0 ROWS FETCH NEXT 50 ROWS ONLY`,
		conn.queries[0].query)
}

func TestReadTableRejectsUnknownIdentifiers(t *testing.T) {
	conn := &fakeConnector{dialect: postgres.Dialect{}}
	svc := newTableDataService(conn)
	ctx := context.Background()
	id := uuid.New()

	_, err := svc.ReadTable(ctx, id, "alice", "nope", ReadOptions{})
	assert.ErrorIs(t, err, apperrors.ErrSchema)

	_, err = svc.ReadTable(ctx, id, "alice", "people", ReadOptions{SortColumn: "nope"})
	assert.ErrorIs(t, err, apperrors.ErrSchema)

	_, err = svc.ReadTable(ctx, id, "alice", "people", ReadOptions{Filters: map[string]any{"nope": "x"}})
	assert.ErrorIs(t, err, apperrors.ErrSchema)

	assert.Empty(t, conn.queries, "nothing reaches the datasource")
}

func TestReadTableScreensFilterValues(t *testing.T) {
	conn := &fakeConnector{dialect: postgres.Dialect{}}
	svc := newTableDataService(conn)

	_, err := svc.ReadTable(context.Background(), uuid.New(), "alice", "people", ReadOptions{
		Filters: map[string]any{"name": "'; DROP TABLE people--"},
	})
	assert.ErrorIs(t, err, apperrors.ErrQuery)
	assert.Empty(t, conn.queries)
}

func TestInsertRowsPostgresReturning(t *testing.T) {
	conn := &fakeConnector{
		dialect: postgres.Dialect{},
		queryFn: func(query string, args ...any) (*datasource.QueryResult, error) {
			return &datasource.QueryResult{
				Columns:  []string{"id"},
				Rows:     [][]string{{"7"}, {"8"}},
				RowCount: 2,
			}, nil
		},
	}
	svc := newTableDataService(conn)

	result, err := svc.InsertRows(context.Background(), uuid.New(), "alice", "people", []map[string]any{
		{"name": "a", "age": 25},
		{"name": "b", "age": 30},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.RowsAffected)
	assert.Equal(t, []string{"7", "8"}, result.InsertedIDs)

	require.Len(t, conn.queries, 1)
	assert.Equal(t,
		`INSERT INTO "people" ("age", "name") VALUES ($1, $2), ($3, $4) RETURNING "id"`,
		conn.queries[0].query)
	assert.Equal(t, []any{25, "a", 30, "b"}, conn.queries[0].args)
}

func TestInsertRowsUsesFirstRowColumnSet(t *testing.T) {
	conn := &fakeConnector{
		dialect: postgres.Dialect{},
		queryFn: func(query string, args ...any) (*datasource.QueryResult, error) {
			return &datasource.QueryResult{Columns: []string{"id"}, Rows: [][]string{{"1"}, {"2"}}, RowCount: 2}, nil
		},
	}
	svc := newTableDataService(conn)

	// Columns omitted from the first row are left out of the statement
	// entirely so database defaults apply.
	_, err := svc.InsertRows(context.Background(), uuid.New(), "alice", "people", []map[string]any{
		{"name": "a"},
		{"name": "b"},
	})
	require.NoError(t, err)
	require.Len(t, conn.queries, 1)
	assert.Equal(t,
		`INSERT INTO "people" ("name") VALUES ($1), ($2) RETURNING "id"`,
		conn.queries[0].query)

	// A later row cannot introduce columns the first row lacks.
	_, err = svc.InsertRows(context.Background(), uuid.New(), "alice", "people", []map[string]any{
		{"name": "a"},
		{"name": "b", "age": 30},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrQuery)
	assert.Contains(t, err.Error(), "first row")
}

func TestInsertRowsMySQLLastInsertID(t *testing.T) {
	conn := &fakeConnector{
		dialect: mysql.Dialect{},
		execFn: func(query string, args ...any) (*datasource.ExecOutcome, error) {
			return &datasource.ExecOutcome{RowsAffected: 2, LastInsertID: 7}, nil
		},
	}
	svc := newTableDataService(conn)

	result, err := svc.InsertRows(context.Background(), uuid.New(), "alice", "people", []map[string]any{
		{"name": "a"},
		{"name": "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.RowsAffected)
	assert.Equal(t, []string{"7"}, result.InsertedIDs)

	require.Len(t, conn.execs, 1)
	assert.Equal(t, "INSERT INTO `people` (`name`) VALUES (?), (?)", conn.execs[0].query)
}

func TestInsertRowsSQLServerOutputInserted(t *testing.T) {
	conn := &fakeConnector{
		dialect: mssql.Dialect{},
		queryFn: func(query string, args ...any) (*datasource.QueryResult, error) {
			return &datasource.QueryResult{Columns: []string{"id"}, Rows: [][]string{{"5"}}, RowCount: 1}, nil
		},
	}
	svc := newTableDataService(conn)

	result, err := svc.InsertRows(context.Background(), uuid.New(), "alice", "people", []map[string]any{
		{"name": "a"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"5"}, result.InsertedIDs)

	require.Len(t, conn.queries, 1)
	assert.Equal(t,
		`INSERT INTO [people] ([name]) OUTPUT INSERTED.[id] VALUES (@p1)`,
		conn.queries[0].query)
}

func TestInsertRowsRejectsUnknownColumn(t *testing.T) {
	conn := &fakeConnector{dialect: postgres.Dialect{}}
	svc := newTableDataService(conn)

	_, err := svc.InsertRows(context.Background(), uuid.New(), "alice", "people", []map[string]any{
		{"nope": 1},
	})
	assert.ErrorIs(t, err, apperrors.ErrSchema)
}

func TestUpdateRowsSkipsEmptyChanges(t *testing.T) {
	conn := &fakeConnector{
		dialect: postgres.Dialect{},
		execFn: func(query string, args ...any) (*datasource.ExecOutcome, error) {
			return &datasource.ExecOutcome{RowsAffected: 1}, nil
		},
	}
	svc := newTableDataService(conn)

	affected, err := svc.UpdateRows(context.Background(), uuid.New(), "alice", "people", "id", []RowUpdate{
		{ID: 1, Changes: map[string]any{"name": "x"}},
		{ID: 2, Changes: map[string]any{}},
		{ID: 3, Changes: map[string]any{"age": 40, "name": "y"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)

	require.Len(t, conn.execs, 2)
	assert.Equal(t, `UPDATE "people" SET "name" = $1 WHERE "id" = $2`, conn.execs[0].query)
	assert.Equal(t, []any{"x", 1}, conn.execs[0].args)
	assert.Equal(t, `UPDATE "people" SET "age" = $1, "name" = $2 WHERE "id" = $3`, conn.execs[1].query)
	assert.Equal(t, []any{40, "y", 3}, conn.execs[1].args)
}

func TestUpdateRowsRejectsUnknownIDColumn(t *testing.T) {
	conn := &fakeConnector{dialect: postgres.Dialect{}}
	svc := newTableDataService(conn)

	_, err := svc.UpdateRows(context.Background(), uuid.New(), "alice", "people", "nope", nil)
	assert.ErrorIs(t, err, apperrors.ErrSchema)
}

func TestDeleteRows(t *testing.T) {
	conn := &fakeConnector{
		dialect: postgres.Dialect{},
		execFn: func(query string, args ...any) (*datasource.ExecOutcome, error) {
			return &datasource.ExecOutcome{RowsAffected: 2}, nil
		},
	}
	svc := newTableDataService(conn)

	affected, err := svc.DeleteRows(context.Background(), uuid.New(), "alice", "people", "id", []any{1, 2})
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)

	require.Len(t, conn.execs, 1)
	assert.Equal(t, `DELETE FROM "people" WHERE "id" IN ($1, $2)`, conn.execs[0].query)
	assert.Equal(t, []any{1, 2}, conn.execs[0].args)
}

func TestDeleteRowsEmptyIDs(t *testing.T) {
	conn := &fakeConnector{dialect: postgres.Dialect{}}
	svc := newTableDataService(conn)

	affected, err := svc.DeleteRows(context.Background(), uuid.New(), "alice", "people", "id", nil)
	require.NoError(t, err)
	assert.Zero(t, affected)
	assert.Empty(t, conn.execs)
}
