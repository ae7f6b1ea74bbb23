package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sqlbridge-io/sqlbridge/pkg/adapters/datasource"
	"github.com/sqlbridge-io/sqlbridge/pkg/apperrors"
	"github.com/sqlbridge-io/sqlbridge/pkg/crypto"
	"github.com/sqlbridge-io/sqlbridge/pkg/models"
	"github.com/sqlbridge-io/sqlbridge/pkg/repositories"
)

// DatasourceService defines datasource lifecycle operations.
type DatasourceService interface {
	// Create registers a new datasource with an encrypted config.
	Create(ctx context.Context, name, dialect string, config map[string]any) (*models.Datasource, error)

	// Get retrieves a datasource with decrypted config, via the metadata
	// cache when possible.
	Get(ctx context.Context, id uuid.UUID, userID string) (*models.Datasource, error)

	// GetByName retrieves a datasource by its unique name.
	GetByName(ctx context.Context, name string) (*models.Datasource, error)

	// List retrieves all live datasources with decrypted configs.
	List(ctx context.Context) ([]*models.Datasource, error)

	// Update replaces name, dialect and config. Cached metadata and pooled
	// connections are invalidated before Update returns.
	Update(ctx context.Context, id uuid.UUID, name, dialect string, config map[string]any) error

	// Rename changes only the datasource name.
	Rename(ctx context.Context, id uuid.UUID, name string) error

	// Delete soft-deletes a datasource. Cached metadata and pooled
	// connections are invalidated before Delete returns.
	Delete(ctx context.Context, id uuid.UUID) error

	// TestConnection verifies connectivity for an unsaved config.
	TestConnection(ctx context.Context, dialect string, config map[string]any, userID string) error

	// Connector builds a connector for a registered datasource.
	Connector(ctx context.Context, id uuid.UUID, userID string) (datasource.Connector, error)
}

type datasourceService struct {
	repo      repositories.DatasourceRepository
	encryptor *crypto.CredentialEncryptor
	provider  datasource.ConnectorProvider
	connMgr   *datasource.ConnectionManager
	cache     *MetadataCache
	logger    *zap.Logger
}

// NewDatasourceService creates a new datasource service with dependencies.
func NewDatasourceService(
	repo repositories.DatasourceRepository,
	encryptor *crypto.CredentialEncryptor,
	provider datasource.ConnectorProvider,
	connMgr *datasource.ConnectionManager,
	cache *MetadataCache,
	logger *zap.Logger,
) DatasourceService {
	return &datasourceService{
		repo:      repo,
		encryptor: encryptor,
		provider:  provider,
		connMgr:   connMgr,
		cache:     cache,
		logger:    logger,
	}
}

func (s *datasourceService) Create(ctx context.Context, name, dialect string, config map[string]any) (*models.Datasource, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: datasource name is required", apperrors.ErrConfig)
	}

	canonical, err := datasource.NormalizeDialect(dialect)
	if err != nil {
		return nil, err
	}
	if config == nil {
		config = make(map[string]any)
	}

	// Reject malformed configs before persisting anything.
	if _, err := datasource.ConnectionConfigFromMap(canonical, config); err != nil {
		return nil, err
	}

	encryptedConfig, err := s.encryptor.EncryptConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt config: %w", err)
	}

	ds := &models.Datasource{
		Name:    name,
		Dialect: canonical,
		Config:  config,
	}
	if err := s.repo.Create(ctx, ds, encryptedConfig); err != nil {
		return nil, err
	}

	s.logger.Info("Created datasource",
		zap.String("id", ds.ID.String()),
		zap.String("name", name),
		zap.String("dialect", canonical),
	)
	return ds, nil
}

func (s *datasourceService) Get(ctx context.Context, id uuid.UUID, userID string) (*models.Datasource, error) {
	if cached := s.cache.Get(id, userID); cached != nil {
		return cached, nil
	}

	ds, encryptedConfig, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	config, err := s.encryptor.DecryptConfig(encryptedConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrCredentialsKeyMismatch, id)
	}
	ds.Config = config

	s.cache.Put(id, userID, ds)
	return ds, nil
}

func (s *datasourceService) GetByName(ctx context.Context, name string) (*models.Datasource, error) {
	ds, encryptedConfig, err := s.repo.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}

	config, err := s.encryptor.DecryptConfig(encryptedConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrCredentialsKeyMismatch, ds.ID)
	}
	ds.Config = config
	return ds, nil
}

func (s *datasourceService) List(ctx context.Context) ([]*models.Datasource, error) {
	datasources, encryptedConfigs, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	for i, ds := range datasources {
		config, err := s.encryptor.DecryptConfig(encryptedConfigs[i])
		if err != nil {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrCredentialsKeyMismatch, ds.ID)
		}
		ds.Config = config
	}
	return datasources, nil
}

func (s *datasourceService) Update(ctx context.Context, id uuid.UUID, name, dialect string, config map[string]any) error {
	canonical, err := datasource.NormalizeDialect(dialect)
	if err != nil {
		return err
	}
	if config == nil {
		config = make(map[string]any)
	}
	if _, err := datasource.ConnectionConfigFromMap(canonical, config); err != nil {
		return err
	}

	encryptedConfig, err := s.encryptor.EncryptConfig(config)
	if err != nil {
		return fmt.Errorf("failed to encrypt config: %w", err)
	}

	if err := s.repo.Update(ctx, id, name, canonical, encryptedConfig); err != nil {
		return err
	}

	// Invalidate before returning so no caller can observe the old config.
	s.cache.InvalidateAll(id)
	removed := s.connMgr.RemovePools(id)

	s.logger.Info("Updated datasource",
		zap.String("id", id.String()),
		zap.String("dialect", canonical),
		zap.Int("pools_removed", removed),
	)
	return nil
}

func (s *datasourceService) Rename(ctx context.Context, id uuid.UUID, name string) error {
	if name == "" {
		return fmt.Errorf("%w: datasource name is required", apperrors.ErrConfig)
	}
	if err := s.repo.Rename(ctx, id, name); err != nil {
		return err
	}
	s.cache.InvalidateAll(id)
	return nil
}

func (s *datasourceService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.cache.InvalidateAll(id)
	removed := s.connMgr.RemovePools(id)

	s.logger.Info("Deleted datasource",
		zap.String("id", id.String()),
		zap.Int("pools_removed", removed),
	)
	return nil
}

func (s *datasourceService) TestConnection(ctx context.Context, dialect string, config map[string]any, userID string) error {
	// An ephemeral ID keeps the probe pool away from real datasource slots.
	probeID := uuid.New()
	defer s.connMgr.RemovePools(probeID)

	conn, err := s.provider.Connector(dialect, config, probeID, userID)
	if err != nil {
		return err
	}
	defer conn.Close()

	return conn.TestConnection(ctx)
}

func (s *datasourceService) Connector(ctx context.Context, id uuid.UUID, userID string) (datasource.Connector, error) {
	ds, err := s.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	return s.provider.Connector(ds.Dialect, ds.Config, id, userID)
}

var _ DatasourceService = (*datasourceService)(nil)
