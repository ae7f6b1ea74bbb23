package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sqlbridge-io/sqlbridge/pkg/adapters/datasource"
	"github.com/sqlbridge-io/sqlbridge/pkg/apperrors"
	"github.com/sqlbridge-io/sqlbridge/pkg/audit"
	sqlutil "github.com/sqlbridge-io/sqlbridge/pkg/sql"
)

// QueryService executes ad-hoc read queries against registered datasources
// with a server-enforced row bound.
type QueryService interface {
	// Execute runs one SELECT-shaped statement. Multi-statement input is
	// rejected before anything reaches the datasource.
	Execute(ctx context.Context, datasourceID uuid.UUID, userID, query string, limit int) (*QueryOutcome, error)

	// DistinctValues returns distinct values of one column, optionally
	// narrowed by a case-insensitive contains match.
	DistinctValues(ctx context.Context, datasourceID uuid.UUID, userID, table, column, search string, limit int) ([]string, error)
}

// QueryOutcome is a query result plus its wall-clock execution time.
type QueryOutcome struct {
	*datasource.QueryResult
	ExecutionTimeMs int64 `json:"execution_time_ms"`
}

type queryService struct {
	datasourceSvc DatasourceService
	auditor       *audit.SecurityAuditor
	timeout       time.Duration
	logger        *zap.Logger
}

// NewQueryService creates a new query service with dependencies. The auditor
// may be nil to disable security audit events.
func NewQueryService(datasourceSvc DatasourceService, auditor *audit.SecurityAuditor, timeout time.Duration, logger *zap.Logger) QueryService {
	return &queryService{
		datasourceSvc: datasourceSvc,
		auditor:       auditor,
		timeout:       timeout,
		logger:        logger,
	}
}

func (s *queryService) Execute(ctx context.Context, datasourceID uuid.UUID, userID, query string, limit int) (*QueryOutcome, error) {
	normalized, err := sqlutil.NormalizeQuery(query)
	if err != nil {
		s.auditor.LogRejectedStatement(datasourceID, userID, err.Error())
		return nil, fmt.Errorf("%w: %s", apperrors.ErrQuery, err)
	}
	if normalized == "" {
		s.auditor.LogRejectedStatement(datasourceID, userID, "query is empty")
		return nil, fmt.Errorf("%w: query is empty", apperrors.ErrQuery)
	}

	conn, err := s.datasourceSvc.Connector(ctx, datasourceID, userID)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	result, err := conn.ExecuteQuery(opCtx, normalized, limit)
	elapsed := time.Since(start)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Executed query",
		zap.String("datasource_id", datasourceID.String()),
		zap.String("dialect", conn.Dialect()),
		zap.Int("rows", result.RowCount),
		zap.Duration("duration", elapsed),
	)
	s.auditor.LogQueryExecution(datasourceID, userID, result.RowCount, elapsed.Milliseconds())

	return &QueryOutcome{
		QueryResult:     result,
		ExecutionTimeMs: elapsed.Milliseconds(),
	}, nil
}

func (s *queryService) DistinctValues(ctx context.Context, datasourceID uuid.UUID, userID, table, column, search string, limit int) ([]string, error) {
	if err := sqlutil.ScreenValue(column, search); err != nil {
		var injErr *sqlutil.InjectionError
		if errors.As(err, &injErr) {
			s.auditor.LogInjectionAttempt(datasourceID, userID, audit.InjectionDetails{
				Column:      injErr.Column,
				Value:       injErr.Value,
				Fingerprint: injErr.Fingerprint,
			})
		}
		return nil, err
	}

	conn, err := s.datasourceSvc.Connector(ctx, datasourceID, userID)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return conn.GetDistinctValues(opCtx, table, column, search, limit)
}

var _ QueryService = (*queryService)(nil)
