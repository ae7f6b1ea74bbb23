package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sqlbridge-io/sqlbridge/pkg/adapters/datasource"
	"github.com/sqlbridge-io/sqlbridge/pkg/models"
	"github.com/sqlbridge-io/sqlbridge/pkg/repositories"
)

// SchemaService serves table lists and table structures, backed by the
// introspection cache persisted on the datasource row. Cache misses
// introspect the live database and persist the result for the next caller.
type SchemaService interface {
	// ListTables returns the datasource's table names, cached when possible.
	ListTables(ctx context.Context, datasourceID uuid.UUID, userID string) ([]string, error)

	// TableStructure returns one table's structure, cached when possible.
	// A miss introspects the table and merges it into the persisted cache
	// without touching other tables' entries.
	TableStructure(ctx context.Context, datasourceID uuid.UUID, userID, table string) (*models.TableStructure, error)

	// RefreshSchema re-introspects everything and replaces the persisted
	// cache wholesale.
	RefreshSchema(ctx context.Context, datasourceID uuid.UUID, userID string) ([]string, error)

	// Snapshot introspects the full live schema, every table with its
	// columns. It bypasses the persisted cache and never writes to it.
	Snapshot(ctx context.Context, datasourceID uuid.UUID, userID string) (*datasource.SchemaSnapshot, error)
}

type schemaService struct {
	repo          repositories.DatasourceRepository
	datasourceSvc DatasourceService
	cache         *MetadataCache
	timeout       time.Duration
	logger        *zap.Logger
}

// NewSchemaService creates a new schema service with dependencies.
func NewSchemaService(
	repo repositories.DatasourceRepository,
	datasourceSvc DatasourceService,
	cache *MetadataCache,
	timeout time.Duration,
	logger *zap.Logger,
) SchemaService {
	return &schemaService{
		repo:          repo,
		datasourceSvc: datasourceSvc,
		cache:         cache,
		timeout:       timeout,
		logger:        logger,
	}
}

func (s *schemaService) ListTables(ctx context.Context, datasourceID uuid.UUID, userID string) ([]string, error) {
	ds, err := s.datasourceSvc.Get(ctx, datasourceID, userID)
	if err != nil {
		return nil, err
	}
	if ds.TableList != nil {
		return ds.TableList, nil
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	conn, err := s.datasourceSvc.Connector(ctx, datasourceID, userID)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	tables, err := conn.ListTables(opCtx)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateTableList(ctx, datasourceID, tables); err != nil {
		// The caller still gets a correct answer; only the cache write
		// failed.
		s.logger.Warn("Failed to persist table list",
			zap.String("datasource_id", datasourceID.String()),
			zap.Error(err))
	} else {
		s.cache.InvalidateAll(datasourceID)
	}
	return tables, nil
}

func (s *schemaService) TableStructure(ctx context.Context, datasourceID uuid.UUID, userID, table string) (*models.TableStructure, error) {
	ds, err := s.datasourceSvc.Get(ctx, datasourceID, userID)
	if err != nil {
		return nil, err
	}
	if cached, ok := ds.SchemaInfo[table]; ok && cached != nil {
		return cached, nil
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	conn, err := s.datasourceSvc.Connector(ctx, datasourceID, userID)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	structure, err := conn.GetTableStructure(opCtx, table)
	if err != nil {
		return nil, err
	}

	if err := s.repo.MergeTableStructure(ctx, datasourceID, structure); err != nil {
		s.logger.Warn("Failed to persist table structure",
			zap.String("datasource_id", datasourceID.String()),
			zap.String("table", table),
			zap.Error(err))
	} else {
		s.cache.InvalidateAll(datasourceID)
	}
	return structure, nil
}

func (s *schemaService) RefreshSchema(ctx context.Context, datasourceID uuid.UUID, userID string) ([]string, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	conn, err := s.datasourceSvc.Connector(ctx, datasourceID, userID)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	tables, err := conn.ListTables(opCtx)
	if err != nil {
		return nil, err
	}

	schema := make(map[string]*models.TableStructure, len(tables))
	for _, table := range tables {
		structure, err := conn.GetTableStructure(opCtx, table)
		if err != nil {
			return nil, err
		}
		schema[table] = structure
	}

	if err := s.repo.UpdateTableList(ctx, datasourceID, tables); err != nil {
		return nil, err
	}
	if err := s.repo.ReplaceSchemaInfo(ctx, datasourceID, schema); err != nil {
		return nil, err
	}

	s.cache.InvalidateAll(datasourceID)

	s.logger.Info("Refreshed schema cache",
		zap.String("datasource_id", datasourceID.String()),
		zap.Int("tables", len(tables)))
	return tables, nil
}

func (s *schemaService) Snapshot(ctx context.Context, datasourceID uuid.UUID, userID string) (*datasource.SchemaSnapshot, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	conn, err := s.datasourceSvc.Connector(ctx, datasourceID, userID)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return conn.FetchSchema(opCtx)
}

var _ SchemaService = (*schemaService)(nil)
