package datasource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sqlbridge-io/sqlbridge/pkg/apperrors"
)

// fakePool is a PoolConnector whose ping behavior the test controls.
type fakePool struct {
	dialect string
	pingErr atomic.Value // pingErrHolder
	pings   atomic.Int64
	closed  atomic.Bool
}

// pingErrHolder wraps an error so atomic.Value always stores one concrete
// type and never a nil interface, both of which would panic.
type pingErrHolder struct{ err error }

func newFakePool(dialect string) *fakePool {
	return &fakePool{dialect: dialect}
}

func (f *fakePool) setPingErr(err error) {
	f.pingErr.Store(pingErrHolder{err: err})
}

func (f *fakePool) Ping(ctx context.Context) error {
	f.pings.Add(1)
	if v := f.pingErr.Load(); v != nil {
		if h, ok := v.(pingErrHolder); ok && h.err != nil {
			return h.err
		}
	}
	return nil
}

func (f *fakePool) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakePool) GetType() string { return f.dialect }

// fakeFactory counts dials and hands out pools in order.
type fakeFactory struct {
	mu    sync.Mutex
	pools []*fakePool
	dials int
	err   error
}

func (f *fakeFactory) factory(ctx context.Context, dsn string, settings PoolSettings) (PoolConnector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.dials++
	pool := newFakePool(DialectPostgreSQL)
	f.pools = append(f.pools, pool)
	return pool, nil
}

func (f *fakeFactory) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func testManager(t *testing.T, cfg ConnectionManagerConfig) *ConnectionManager {
	t.Helper()
	mgr := NewConnectionManager(cfg, zap.NewNop())
	t.Cleanup(func() { _ = mgr.Close() })
	return mgr
}

func testKey(user string) PoolKey {
	return PoolKey{DatasourceID: uuid.New(), UserID: user, ConfigHash: 42}
}

func TestGetOrCreatePoolReuses(t *testing.T) {
	mgr := testManager(t, ConnectionManagerConfig{})
	ff := &fakeFactory{}
	key := testKey("alice")

	p1, err := mgr.GetOrCreatePool(context.Background(), key, "dsn", ff.factory)
	require.NoError(t, err)
	p2, err := mgr.GetOrCreatePool(context.Background(), key, "dsn", ff.factory)
	require.NoError(t, err)

	assert.Same(t, p1, p2)
	assert.Equal(t, 1, ff.dialCount())
}

func TestGetOrCreatePoolProbeCacheSkipsPing(t *testing.T) {
	mgr := testManager(t, ConnectionManagerConfig{})
	ff := &fakeFactory{}
	key := testKey("alice")

	_, err := mgr.GetOrCreatePool(context.Background(), key, "dsn", ff.factory)
	require.NoError(t, err)
	pool := ff.pools[0]

	// Creation records a fresh probe, so immediate reuse pings zero times.
	before := pool.pings.Load()
	_, err = mgr.GetOrCreatePool(context.Background(), key, "dsn", ff.factory)
	require.NoError(t, err)
	assert.Equal(t, before, pool.pings.Load())
}

func TestGetOrCreatePoolRecreatesAfterConsecutiveFailures(t *testing.T) {
	mgr := testManager(t, ConnectionManagerConfig{})
	ff := &fakeFactory{}
	key := testKey("alice")

	_, err := mgr.GetOrCreatePool(context.Background(), key, "dsn", ff.factory)
	require.NoError(t, err)
	first := ff.pools[0]
	first.setPingErr(errors.New("connection reset"))

	// Age the probe so validation actually pings.
	mgr.mu.RLock()
	managed := mgr.connections[key]
	mgr.mu.RUnlock()
	managed.mu.Lock()
	managed.lastProbe = managed.lastProbe.Add(-2 * probeCacheWindow)
	managed.mu.Unlock()

	// First two failed probes keep the pool but surface the error.
	for i := 0; i < maxProbeFailures-1; i++ {
		_, err = mgr.GetOrCreatePool(context.Background(), key, "dsn", ff.factory)
		require.Error(t, err)
	}
	assert.Equal(t, 1, ff.dialCount(), "pool survives until the failure threshold")
	assert.False(t, first.closed.Load())

	// Third consecutive failure removes and recreates.
	p, err := mgr.GetOrCreatePool(context.Background(), key, "dsn", ff.factory)
	require.NoError(t, err)
	assert.Equal(t, 2, ff.dialCount())
	assert.True(t, first.closed.Load(), "unhealthy pool is closed on removal")
	assert.NotSame(t, first, p)
}

func TestGetOrCreatePoolFailedProbeKeepsSlot(t *testing.T) {
	mgr := testManager(t, ConnectionManagerConfig{})
	ff := &fakeFactory{}
	key := testKey("alice")

	_, err := mgr.GetOrCreatePool(context.Background(), key, "dsn", ff.factory)
	require.NoError(t, err)
	pool := ff.pools[0]
	pool.setPingErr(errors.New("timeout"))

	mgr.mu.RLock()
	managed := mgr.connections[key]
	mgr.mu.RUnlock()
	managed.mu.Lock()
	managed.lastProbe = managed.lastProbe.Add(-2 * probeCacheWindow)
	managed.mu.Unlock()

	_, err = mgr.GetOrCreatePool(context.Background(), key, "dsn", ff.factory)
	require.Error(t, err)

	// A transient failure recovers without redialing.
	pool.setPingErr(nil)
	p, err := mgr.GetOrCreatePool(context.Background(), key, "dsn", ff.factory)
	require.NoError(t, err)
	assert.Same(t, PoolConnector(pool), p)
	assert.Equal(t, 1, ff.dialCount())
}

func TestPerUserConnectionLimit(t *testing.T) {
	mgr := testManager(t, ConnectionManagerConfig{MaxConnectionsPerUser: 2})
	ff := &fakeFactory{}

	for i := 0; i < 2; i++ {
		_, err := mgr.GetOrCreatePool(context.Background(), testKey("alice"), "dsn", ff.factory)
		require.NoError(t, err)
	}

	_, err := mgr.GetOrCreatePool(context.Background(), testKey("alice"), "dsn", ff.factory)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConnectionLimit)

	// Other users are unaffected.
	_, err = mgr.GetOrCreatePool(context.Background(), testKey("bob"), "dsn", ff.factory)
	require.NoError(t, err)
}

func TestRemovePoolsDropsAllKeysForDatasource(t *testing.T) {
	mgr := testManager(t, ConnectionManagerConfig{})
	ff := &fakeFactory{}
	dsID := uuid.New()

	keys := []PoolKey{
		{DatasourceID: dsID, UserID: "alice", ConfigHash: 1},
		{DatasourceID: dsID, UserID: "bob", ConfigHash: 2},
		{DatasourceID: uuid.New(), UserID: "alice", ConfigHash: 3},
	}
	for _, k := range keys {
		_, err := mgr.GetOrCreatePool(context.Background(), k, "dsn", ff.factory)
		require.NoError(t, err)
	}

	removed := mgr.RemovePools(dsID)
	assert.Equal(t, 2, removed)

	stats := mgr.GetStats()
	assert.Equal(t, 1, stats.TotalConnections)
	assert.True(t, ff.pools[0].closed.Load())
	assert.True(t, ff.pools[1].closed.Load())
	assert.False(t, ff.pools[2].closed.Load())
}

func TestConfigHashChangeCreatesNewPool(t *testing.T) {
	mgr := testManager(t, ConnectionManagerConfig{})
	ff := &fakeFactory{}
	dsID := uuid.New()

	k1 := PoolKey{DatasourceID: dsID, UserID: "alice", ConfigHash: 1}
	k2 := PoolKey{DatasourceID: dsID, UserID: "alice", ConfigHash: 2}

	p1, err := mgr.GetOrCreatePool(context.Background(), k1, "dsn", ff.factory)
	require.NoError(t, err)
	p2, err := mgr.GetOrCreatePool(context.Background(), k2, "dsn", ff.factory)
	require.NoError(t, err)

	assert.NotSame(t, p1, p2)
	assert.Equal(t, 2, ff.dialCount())
}

func TestConcurrentCreateDialsOnce(t *testing.T) {
	mgr := testManager(t, ConnectionManagerConfig{})
	ff := &fakeFactory{}
	key := testKey("alice")

	var wg sync.WaitGroup
	results := make([]PoolConnector, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := mgr.GetOrCreatePool(context.Background(), key, "dsn", ff.factory)
			require.NoError(t, err)
			results[i] = p
		}(i)
	}
	wg.Wait()

	// Racing creators may dial extra pools, but exactly one survives and
	// everyone ends up holding it.
	stats := mgr.GetStats()
	assert.Equal(t, 1, stats.TotalConnections)

	survivors := 0
	for _, pool := range ff.pools {
		if !pool.closed.Load() {
			survivors++
		}
	}
	assert.Equal(t, 1, survivors, "losing racers close their pools")
}

func TestCloseIsIdempotent(t *testing.T) {
	mgr := NewConnectionManager(ConnectionManagerConfig{}, zap.NewNop())
	ff := &fakeFactory{}

	_, err := mgr.GetOrCreatePool(context.Background(), testKey("alice"), "dsn", ff.factory)
	require.NoError(t, err)

	require.NoError(t, mgr.Close())
	require.NoError(t, mgr.Close())
	assert.True(t, ff.pools[0].closed.Load())
	assert.Equal(t, 0, mgr.GetStats().TotalConnections)
}

func TestPerformCleanupRemovesExpired(t *testing.T) {
	mgr := testManager(t, ConnectionManagerConfig{TTLMinutes: 1})
	ff := &fakeFactory{}
	key := testKey("alice")

	_, err := mgr.GetOrCreatePool(context.Background(), key, "dsn", ff.factory)
	require.NoError(t, err)

	mgr.mu.RLock()
	managed := mgr.connections[key]
	mgr.mu.RUnlock()
	managed.mu.Lock()
	managed.lastUsed = managed.lastUsed.Add(-2 * mgr.ttl)
	managed.mu.Unlock()

	mgr.performCleanup()

	assert.Equal(t, 0, mgr.GetStats().TotalConnections)
	assert.True(t, ff.pools[0].closed.Load())
}

func TestGetStats(t *testing.T) {
	mgr := testManager(t, ConnectionManagerConfig{MaxConnectionsPerUser: 7, TTLMinutes: 3})
	ff := &fakeFactory{}

	_, err := mgr.GetOrCreatePool(context.Background(), testKey("alice"), "dsn", ff.factory)
	require.NoError(t, err)
	_, err = mgr.GetOrCreatePool(context.Background(), testKey("alice"), "dsn", ff.factory)
	require.NoError(t, err)
	_, err = mgr.GetOrCreatePool(context.Background(), testKey("bob"), "dsn", ff.factory)
	require.NoError(t, err)

	stats := mgr.GetStats()
	assert.Equal(t, 3, stats.TotalConnections)
	assert.Equal(t, 7, stats.MaxConnectionsPerUser)
	assert.Equal(t, 3, stats.TTLMinutes)
	assert.Equal(t, 2, stats.ConnectionsByUser["alice"])
	assert.Equal(t, 1, stats.ConnectionsByUser["bob"])
	assert.Equal(t, 3, stats.ConnectionsByDialect[DialectPostgreSQL])
}

func TestPoolKeyString(t *testing.T) {
	id := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	key := PoolKey{DatasourceID: id, UserID: "alice", ConfigHash: 0xbeef}
	assert.Equal(t, fmt.Sprintf("%s:alice:beef", id), key.String())
}
