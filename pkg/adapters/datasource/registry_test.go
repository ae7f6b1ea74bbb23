package datasource

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sqlbridge-io/sqlbridge/pkg/apperrors"
)

// registerStub installs a factory for the test and reports what it was
// called with. The registry is process-global, so stubs registered here are
// visible to the whole test binary; each test uses require on its own calls.
func registerStub(t *testing.T, dialect string) *stubFactoryRecorder {
	t.Helper()
	rec := &stubFactoryRecorder{}
	Register(Registration{
		Info: AdapterInfo{Dialect: dialect, DisplayName: dialect},
		Factory: func(cfg *ConnectionConfig, mgr *ConnectionManager, datasourceID uuid.UUID, userID string, limits Limits, logger *zap.Logger) (Connector, error) {
			rec.cfg = cfg
			rec.datasourceID = datasourceID
			rec.userID = userID
			rec.limits = limits
			rec.calls++
			return nil, nil
		},
	})
	return rec
}

type stubFactoryRecorder struct {
	cfg          *ConnectionConfig
	datasourceID uuid.UUID
	userID       string
	limits       Limits
	calls        int
}

func TestRegisterAndGetFactory(t *testing.T) {
	registerStub(t, DialectPostgreSQL)

	factory, err := GetFactory("postgres")
	require.NoError(t, err)
	assert.NotNil(t, factory)

	factory, err = GetFactory("PG")
	require.NoError(t, err)
	assert.NotNil(t, factory)
}

func TestGetFactoryUnsupportedDialect(t *testing.T) {
	_, err := GetFactory("oracle")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedDialect)
}

func TestIsRegistered(t *testing.T) {
	registerStub(t, DialectPostgreSQL)

	assert.True(t, IsRegistered("postgresql"))
	assert.True(t, IsRegistered("pgsql"))
	assert.False(t, IsRegistered("oracle"))
}

func TestRegisteredAdapters(t *testing.T) {
	registerStub(t, DialectPostgreSQL)

	infos := RegisteredAdapters()
	require.NotEmpty(t, infos)
	found := false
	for _, info := range infos {
		if info.Dialect == DialectPostgreSQL {
			found = true
		}
	}
	assert.True(t, found)
}

func TestProviderConnector(t *testing.T) {
	rec := registerStub(t, DialectPostgreSQL)

	mgr := testManager(t, ConnectionManagerConfig{})
	limits := Limits{MaxRowLimit: 1000, DistinctValueLimit: 100, SampleRows: 5}
	provider := NewProvider(mgr, limits, zap.NewNop())

	dsID := uuid.New()
	_, err := provider.Connector("Postgres", map[string]any{
		"host":     "db.example.com",
		"user":     "reader",
		"password": "pw",
		"database": "analytics",
	}, dsID, "alice")
	require.NoError(t, err)

	require.Equal(t, 1, rec.calls)
	assert.Equal(t, dsID, rec.datasourceID)
	assert.Equal(t, "alice", rec.userID)
	assert.Equal(t, limits, rec.limits)
	require.NotNil(t, rec.cfg)
	assert.Equal(t, "db.example.com", rec.cfg.Host)
	assert.Equal(t, 5432, rec.cfg.Port)
}

func TestProviderConnectorErrors(t *testing.T) {
	mgr := testManager(t, ConnectionManagerConfig{})
	provider := NewProvider(mgr, Limits{}, zap.NewNop())

	t.Run("unsupported dialect", func(t *testing.T) {
		_, err := provider.Connector("sqlite", map[string]any{}, uuid.New(), "alice")
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrUnsupportedDialect)
	})

	t.Run("bad config", func(t *testing.T) {
		registerStub(t, DialectPostgreSQL)
		_, err := provider.Connector("postgresql", map[string]any{"user": "u"}, uuid.New(), "alice")
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrConfig)
	})
}
