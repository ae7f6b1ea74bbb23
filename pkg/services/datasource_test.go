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
	"github.com/sqlbridge-io/sqlbridge/pkg/apperrors"
	"github.com/sqlbridge-io/sqlbridge/pkg/crypto"
)

type fakeProvider struct {
	conn        *fakeConnector
	err         error
	lastDialect string
	lastConfig  map[string]any
	lastID      uuid.UUID
	lastUser    string
}

func (p *fakeProvider) Connector(dialect string, config map[string]any, datasourceID uuid.UUID, userID string) (datasource.Connector, error) {
	p.lastDialect = dialect
	p.lastConfig = config
	p.lastID = datasourceID
	p.lastUser = userID
	if p.err != nil {
		return nil, p.err
	}
	return p.conn, nil
}

var _ datasource.ConnectorProvider = (*fakeProvider)(nil)

func validConfig() map[string]any {
	return map[string]any{
		"host":     "db.example.com",
		"user":     "app",
		"password": "secret",
		"database": "appdb",
	}
}

type datasourceFixture struct {
	svc      DatasourceService
	repo     *memRepo
	cache    *MetadataCache
	provider *fakeProvider
	mgr      *datasource.ConnectionManager
}

func newDatasourceFixture(t *testing.T) *datasourceFixture {
	t.Helper()

	encryptor, err := crypto.NewCredentialEncryptor("unit-test-key")
	require.NoError(t, err)

	repo := newMemRepo()
	cache := NewMetadataCache(time.Minute)
	provider := &fakeProvider{conn: &fakeConnector{}}
	mgr := datasource.NewConnectionManager(datasource.ConnectionManagerConfig{TTLMinutes: 1}, zap.NewNop())
	t.Cleanup(func() { _ = mgr.Close() })

	return &datasourceFixture{
		svc:      NewDatasourceService(repo, encryptor, provider, mgr, cache, zap.NewNop()),
		repo:     repo,
		cache:    cache,
		provider: provider,
		mgr:      mgr,
	}
}

func TestDatasourceCreateNormalizesDialect(t *testing.T) {
	f := newDatasourceFixture(t)

	ds, err := f.svc.Create(context.Background(), "prod", "Postgres", validConfig())
	require.NoError(t, err)
	assert.Equal(t, "postgresql", ds.Dialect)
	assert.NotEqual(t, uuid.Nil, ds.ID)
}

func TestDatasourceCreateRejectsBadInput(t *testing.T) {
	f := newDatasourceFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, "", "postgresql", validConfig())
	assert.ErrorIs(t, err, apperrors.ErrConfig)

	_, err = f.svc.Create(ctx, "x", "oracle", validConfig())
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedDialect)

	_, err = f.svc.Create(ctx, "x", "postgresql", map[string]any{"user": "u"})
	assert.ErrorIs(t, err, apperrors.ErrConfig, "config missing host is rejected before persisting")
}

func TestDatasourceGetRoundTripsConfig(t *testing.T) {
	f := newDatasourceFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, "prod", "mysql", validConfig())
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, created.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "db.example.com", got.Config["host"])
	assert.Equal(t, "secret", got.Config["password"], "config decrypts to the original")
}

func TestDatasourceGetUsesCache(t *testing.T) {
	f := newDatasourceFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, "prod", "postgresql", validConfig())
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, created.ID, "alice")
	require.NoError(t, err)
	_, err = f.svc.Get(ctx, created.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, f.repo.getCalls, "second read served from cache")

	_, err = f.svc.Get(ctx, created.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, f.repo.getCalls, "cache is per user")
}

func TestDatasourceUpdateInvalidatesCache(t *testing.T) {
	f := newDatasourceFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, "prod", "postgresql", validConfig())
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, created.ID, "alice")
	require.NoError(t, err)

	newConfig := validConfig()
	newConfig["host"] = "replica.example.com"
	require.NoError(t, f.svc.Update(ctx, created.ID, "prod", "postgresql", newConfig))

	got, err := f.svc.Get(ctx, created.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "replica.example.com", got.Config["host"], "no stale config after update returns")
}

func TestDatasourceDeleteInvalidates(t *testing.T) {
	f := newDatasourceFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, "prod", "postgresql", validConfig())
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, created.ID, "alice")
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, created.ID))

	_, err = f.svc.Get(ctx, created.ID, "alice")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDatasourceTestConnection(t *testing.T) {
	f := newDatasourceFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.TestConnection(ctx, "sqlserver", validConfig(), "alice"))
	assert.Equal(t, "sqlserver", f.provider.lastDialect)
	assert.Equal(t, "alice", f.provider.lastUser)
	assert.NotEqual(t, uuid.Nil, f.provider.lastID, "probe uses an ephemeral datasource id")

	f.provider.conn.testErr = apperrors.ErrAuth
	assert.ErrorIs(t, f.svc.TestConnection(ctx, "sqlserver", validConfig(), "alice"), apperrors.ErrAuth)
}

func TestDatasourceConnectorUsesStoredConfig(t *testing.T) {
	f := newDatasourceFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, "prod", "postgresql", validConfig())
	require.NoError(t, err)

	conn, err := f.svc.Connector(ctx, created.ID, "alice")
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, "postgresql", f.provider.lastDialect)
	assert.Equal(t, created.ID, f.provider.lastID)
	assert.Equal(t, "db.example.com", f.provider.lastConfig["host"])
}
