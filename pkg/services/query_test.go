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
	"github.com/sqlbridge-io/sqlbridge/pkg/adapters/datasource/postgres"
	"github.com/sqlbridge-io/sqlbridge/pkg/apperrors"
	"github.com/sqlbridge-io/sqlbridge/pkg/audit"
)

func newQueryService(conn *fakeConnector) QueryService {
	return NewQueryService(&fakeDatasourceSvc{conn: conn}, audit.NewSecurityAuditor(zap.NewNop()), 30*time.Second, zap.NewNop())
}

func TestQueryExecuteStripsTrailingSemicolon(t *testing.T) {
	conn := &fakeConnector{
		dialect: postgres.Dialect{},
		queryFn: func(query string, args ...any) (*datasource.QueryResult, error) {
			return &datasource.QueryResult{Columns: []string{"n"}, Rows: [][]string{{"1"}}, RowCount: 1}, nil
		},
	}
	svc := newQueryService(conn)

	outcome, err := svc.Execute(context.Background(), uuid.New(), "alice", "SELECT 1;", 100)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.RowCount)
	assert.GreaterOrEqual(t, outcome.ExecutionTimeMs, int64(0))

	require.Len(t, conn.queries, 1)
	assert.Equal(t, "SELECT 1", conn.queries[0].query)
	assert.Equal(t, []any{100}, conn.queries[0].args, "limit forwarded to the connector")
	assert.Equal(t, 1, conn.closed, "connector released")
}

func TestQueryExecuteRejectsMultipleStatements(t *testing.T) {
	conn := &fakeConnector{dialect: postgres.Dialect{}}
	svc := newQueryService(conn)

	_, err := svc.Execute(context.Background(), uuid.New(), "alice", "SELECT 1; DROP TABLE users", 100)
	assert.ErrorIs(t, err, apperrors.ErrQuery)
	assert.Empty(t, conn.queries, "nothing reaches the datasource")
}

func TestQueryExecuteRejectsEmptyQuery(t *testing.T) {
	svc := newQueryService(&fakeConnector{dialect: postgres.Dialect{}})

	_, err := svc.Execute(context.Background(), uuid.New(), "alice", "   ;  ", 100)
	assert.ErrorIs(t, err, apperrors.ErrQuery)
}

func TestDistinctValuesScreensSearch(t *testing.T) {
	conn := &fakeConnector{dialect: postgres.Dialect{}, distinct: []string{"active", "archived"}}
	svc := newQueryService(conn)
	ctx := context.Background()
	id := uuid.New()

	values, err := svc.DistinctValues(ctx, id, "alice", "users", "status", "act", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"active", "archived"}, values)

	_, err = svc.DistinctValues(ctx, id, "alice", "users", "status", "1' OR '1'='1", 10)
	assert.ErrorIs(t, err, apperrors.ErrQuery)
}
