package datasource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sqlbridge-io/sqlbridge/pkg/apperrors"
	"github.com/sqlbridge-io/sqlbridge/pkg/logging"
	"github.com/sqlbridge-io/sqlbridge/pkg/retry"
)

const (
	DefaultConnectionTTLMinutes  = 5
	DefaultCleanupInterval       = 1 * time.Minute
	DefaultMaxConnectionsPerUser = 10
	DefaultPoolMaxConns          = 10
	DefaultPoolMinConns          = 1

	// probeCacheWindow is how long a successful liveness probe stays valid;
	// reuse within the window skips re-probing.
	probeCacheWindow = 5 * time.Second

	// maxProbeFailures forces pool recreation after this many consecutive
	// failed probes.
	maxProbeFailures = 3
)

// PoolKey identifies one pool slot. ConfigHash folds the connection
// identity (host, port, database, schema, user) so a config change maps to
// a fresh pool instead of reusing a stale one.
type PoolKey struct {
	DatasourceID uuid.UUID
	UserID       string
	ConfigHash   uint64
}

func (k PoolKey) String() string {
	return fmt.Sprintf("%s:%s:%x", k.DatasourceID, k.UserID, k.ConfigHash)
}

// ConnectionManagerConfig holds configuration for the connection manager
type ConnectionManagerConfig struct {
	TTLMinutes            int
	MaxConnectionsPerUser int
	PoolMaxConns          int32
	PoolMinConns          int32
}

// ConnectionManager manages connection pools for multi-user datasource
// access with TTL-based pooling and automatic cleanup. The manager mutex is
// only ever held around map lookups and inserts; dials and pings happen
// outside it.
type ConnectionManager struct {
	mu                    sync.RWMutex
	connections           map[PoolKey]*ManagedConnection
	ttl                   time.Duration
	maxConnectionsPerUser int
	poolMaxConns          int32
	poolMinConns          int32
	stopped               bool
	stopChan              chan struct{}
	logger                *zap.Logger
}

// ManagedConnection is one pooled connection slot with probe bookkeeping.
type ManagedConnection struct {
	pool PoolConnector

	mu            sync.Mutex
	lastUsed      time.Time
	lastProbe     time.Time
	probeFailures int
}

// NewConnectionManager creates a connection manager with the given configuration.
// Starts a background cleanup goroutine that runs until Close() is called.
func NewConnectionManager(cfg ConnectionManagerConfig, logger *zap.Logger) *ConnectionManager {
	if cfg.TTLMinutes <= 0 {
		cfg.TTLMinutes = DefaultConnectionTTLMinutes
	}
	if cfg.MaxConnectionsPerUser <= 0 {
		cfg.MaxConnectionsPerUser = DefaultMaxConnectionsPerUser
	}
	if cfg.PoolMaxConns <= 0 {
		cfg.PoolMaxConns = DefaultPoolMaxConns
	}
	if cfg.PoolMinConns <= 0 {
		cfg.PoolMinConns = DefaultPoolMinConns
	}

	manager := &ConnectionManager{
		connections:           make(map[PoolKey]*ManagedConnection),
		ttl:                   time.Duration(cfg.TTLMinutes) * time.Minute,
		maxConnectionsPerUser: cfg.MaxConnectionsPerUser,
		poolMaxConns:          cfg.PoolMaxConns,
		poolMinConns:          cfg.PoolMinConns,
		stopChan:              make(chan struct{}),
		logger:                logger,
	}

	go manager.cleanupExpiredConnections()
	return manager
}

// countConnectionsForUser counts active pools for a specific user.
// Caller must hold m.mu.
func (m *ConnectionManager) countConnectionsForUser(userID string) int {
	count := 0
	for key := range m.connections {
		if key.UserID == userID {
			count++
		}
	}
	return count
}

// GetOrCreatePool returns a healthy pool for the key, dialing through
// factory on first use. Cached pools are probed before reuse unless the
// last successful probe is within probeCacheWindow; a pool that fails
// maxProbeFailures consecutive probes is recreated.
func (m *ConnectionManager) GetOrCreatePool(ctx context.Context, key PoolKey, dsn string, factory PoolFactory) (PoolConnector, error) {
	// Fast path: existing slot under read lock.
	m.mu.RLock()
	managed, exists := m.connections[key]
	m.mu.RUnlock()

	if exists {
		pool, err := m.validateExisting(ctx, managed)
		if err == nil {
			return pool, nil
		}

		managed.mu.Lock()
		failures := managed.probeFailures
		managed.mu.Unlock()
		if failures < maxProbeFailures {
			// Transient probe failure: keep the slot, surface the error.
			return nil, err
		}

		m.logger.Warn("pool unhealthy, recreating",
			zap.String("key", key.String()),
			zap.String("error", logging.SanitizeError(err)),
		)
		m.removeConnection(key)
	}

	return m.createNewPool(ctx, key, dsn, factory)
}

// validateExisting probes a cached pool before handing it out. The probe is
// skipped when the previous successful probe is fresher than
// probeCacheWindow, which keeps per-operation overhead off the hot path.
func (m *ConnectionManager) validateExisting(ctx context.Context, managed *ManagedConnection) (PoolConnector, error) {
	managed.mu.Lock()
	defer managed.mu.Unlock()

	now := time.Now()
	if managed.probeFailures == 0 && now.Sub(managed.lastProbe) < probeCacheWindow {
		managed.lastUsed = now
		return managed.pool, nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := retry.Do(probeCtx, retry.DefaultConfig(), func() error {
		return managed.pool.Ping(probeCtx)
	})
	if err != nil {
		managed.probeFailures++
		if managed.probeFailures >= maxProbeFailures {
			return nil, fmt.Errorf("pool failed %d consecutive probes: %w", managed.probeFailures, err)
		}
		return nil, err
	}

	managed.probeFailures = 0
	managed.lastProbe = now
	managed.lastUsed = now
	return managed.pool, nil
}

// createNewPool dials a new pool and installs it under key. The dial runs
// outside the manager lock; only the final insert (with a double-check for
// a racing creator) holds it.
func (m *ConnectionManager) createNewPool(ctx context.Context, key PoolKey, dsn string, factory PoolFactory) (PoolConnector, error) {
	// Pre-check the per-user cap and racing creators.
	m.mu.Lock()
	if managed, exists := m.connections[key]; exists && managed != nil {
		managed.mu.Lock()
		managed.lastUsed = time.Now()
		managed.mu.Unlock()
		m.mu.Unlock()
		return managed.pool, nil
	}
	userConnCount := m.countConnectionsForUser(key.UserID)
	if userConnCount >= m.maxConnectionsPerUser {
		m.mu.Unlock()
		m.logger.Warn("user reached max connections limit",
			zap.String("userID", key.UserID),
			zap.Int("current", userConnCount),
			zap.Int("max", m.maxConnectionsPerUser),
		)
		return nil, fmt.Errorf("%w: user %s has %d pools (max %d)",
			apperrors.ErrConnectionLimit, key.UserID, userConnCount, m.maxConnectionsPerUser)
	}
	m.mu.Unlock()

	settings := PoolSettings{
		MaxConns:    m.poolMaxConns,
		MinConns:    m.poolMinConns,
		MaxIdleTime: m.ttl,
	}

	pool, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (PoolConnector, error) {
		return factory(ctx, dsn, settings)
	})
	if err != nil {
		m.logger.Error("failed to create pool after retries",
			zap.String("key", key.String()),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, err
	}

	m.mu.Lock()
	// Another goroutine may have installed a pool while we were dialing.
	if managed, exists := m.connections[key]; exists && managed != nil {
		m.mu.Unlock()
		_ = pool.Close()
		managed.mu.Lock()
		managed.lastUsed = time.Now()
		managed.mu.Unlock()
		return managed.pool, nil
	}
	now := time.Now()
	m.connections[key] = &ManagedConnection{
		pool:      pool,
		lastUsed:  now,
		lastProbe: now,
	}
	m.mu.Unlock()

	m.logger.Info("created new connection pool",
		zap.String("key", key.String()),
		zap.String("dialect", pool.GetType()),
		zap.String("userID", key.UserID),
		zap.Int("userTotalConnections", userConnCount+1),
	)

	return pool, nil
}

// removeConnection removes a pool slot and closes it.
// Caller must NOT hold m.mu (this method acquires the write lock).
func (m *ConnectionManager) removeConnection(key PoolKey) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if managed, exists := m.connections[key]; exists && managed != nil {
		if managed.pool != nil {
			_ = managed.pool.Close()
		}
		delete(m.connections, key)
		m.logger.Debug("removed connection", zap.String("key", key.String()))
	}
}

// RemovePools drops every pool belonging to a datasource, across all users
// and config hashes. Called when a datasource config changes or the
// datasource is deleted.
func (m *ConnectionManager) RemovePools(datasourceID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, managed := range m.connections {
		if key.DatasourceID != datasourceID {
			continue
		}
		if managed != nil && managed.pool != nil {
			_ = managed.pool.Close()
		}
		delete(m.connections, key)
		removed++
	}
	if removed > 0 {
		m.logger.Info("removed pools for datasource",
			zap.String("datasourceID", datasourceID.String()),
			zap.Int("count", removed),
		)
	}
	return removed
}

// cleanupExpiredConnections runs periodically to remove expired connections.
// Runs in a background goroutine until stopChan is closed.
func (m *ConnectionManager) cleanupExpiredConnections() {
	ticker := time.NewTicker(DefaultCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performCleanup()
		case <-m.stopChan:
			return
		}
	}
}

// performCleanup removes pools that haven't been used within TTL.
// Lock ordering: manager lock, then connection lock.
func (m *ConnectionManager) performCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	now := time.Now()
	var expiredKeys []PoolKey

	for key, managed := range m.connections {
		if managed == nil {
			continue
		}
		managed.mu.Lock()
		expired := now.Sub(managed.lastUsed) > m.ttl
		managed.mu.Unlock()
		if expired {
			expiredKeys = append(expiredKeys, key)
		}
	}

	for _, key := range expiredKeys {
		if managed, exists := m.connections[key]; exists && managed != nil {
			if managed.pool != nil {
				_ = managed.pool.Close()
			}
			delete(m.connections, key)
		}
	}

	if len(expiredKeys) > 0 {
		m.logger.Info("cleaned up expired connections",
			zap.Int("count", len(expiredKeys)),
			zap.Int("remaining", len(m.connections)),
		)
	}
}

// Close closes all pools and stops the cleanup goroutine.
// Idempotent and safe to call multiple times.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}

	m.stopped = true
	close(m.stopChan)

	for _, managed := range m.connections {
		if managed != nil && managed.pool != nil {
			_ = managed.pool.Close()
		}
	}

	m.connections = make(map[PoolKey]*ManagedConnection)
	m.logger.Info("connection manager closed")
	return nil
}

// GetStats returns statistics about the connection manager.
// Safe to call concurrently.
func (m *ConnectionManager) GetStats() ConnectionStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	stats := ConnectionStats{
		TotalConnections:      len(m.connections),
		MaxConnectionsPerUser: m.maxConnectionsPerUser,
		TTLMinutes:            int(m.ttl.Minutes()),
		ConnectionsByDialect:  make(map[string]int),
		ConnectionsByUser:     make(map[string]int),
	}

	for key, managed := range m.connections {
		stats.ConnectionsByUser[key.UserID]++
		if managed == nil {
			continue
		}
		stats.ConnectionsByDialect[managed.pool.GetType()]++

		managed.mu.Lock()
		idleSeconds := int(now.Sub(managed.lastUsed).Seconds())
		managed.mu.Unlock()
		if idleSeconds > stats.OldestIdleSeconds {
			stats.OldestIdleSeconds = idleSeconds
		}
	}

	return stats
}

// ConnectionStats contains statistics about the connection manager state.
type ConnectionStats struct {
	TotalConnections      int            `json:"total_connections"`
	MaxConnectionsPerUser int            `json:"max_connections_per_user"`
	TTLMinutes            int            `json:"ttl_minutes"`
	ConnectionsByDialect  map[string]int `json:"connections_by_dialect"`
	ConnectionsByUser     map[string]int `json:"connections_by_user"`
	OldestIdleSeconds     int            `json:"oldest_idle_seconds"`
}
