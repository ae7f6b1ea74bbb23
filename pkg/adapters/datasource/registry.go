package datasource

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AdapterInfo describes a registered dialect for discovery endpoints.
type AdapterInfo struct {
	Dialect     string `json:"dialect"`      // canonical: "postgresql", "mysql", "sqlserver"
	DisplayName string `json:"display_name"` // "PostgreSQL", "Microsoft SQL Server"
	Description string `json:"description"`
}

// ConnectorFactory builds a connector from a parsed config. Construction
// must not perform I/O; the first operation dials through the manager.
type ConnectorFactory func(cfg *ConnectionConfig, mgr *ConnectionManager, datasourceID uuid.UUID, userID string, limits Limits, logger *zap.Logger) (Connector, error)

// Registration binds an AdapterInfo to its factory.
type Registration struct {
	Info    AdapterInfo
	Factory ConnectorFactory
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Registration)
)

// Register is called by each dialect package's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Dialect] = reg
}

// RegisteredAdapters returns info for all registered dialects.
func RegisteredAdapters() []AdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]AdapterInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	return result
}

// GetFactory resolves a dialect (accepting aliases) to its factory.
func GetFactory(dialect string) (ConnectorFactory, error) {
	canonical, err := NormalizeDialect(dialect)
	if err != nil {
		return nil, err
	}

	registryMu.RLock()
	defer registryMu.RUnlock()

	reg, ok := registry[canonical]
	if !ok {
		// Normalized but the dialect package was not linked in.
		return nil, fmt.Errorf("dialect %q has no registered connector", canonical)
	}
	return reg.Factory, nil
}

// IsRegistered checks if a dialect (or alias) has a connector.
func IsRegistered(dialect string) bool {
	canonical, err := NormalizeDialect(dialect)
	if err != nil {
		return false
	}
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[canonical]
	return ok
}

// ConnectorProvider builds connectors for the service layer. The interface
// exists so services can be tested with fakes.
type ConnectorProvider interface {
	Connector(dialect string, config map[string]any, datasourceID uuid.UUID, userID string) (Connector, error)
}

// Provider is the registry-backed ConnectorProvider.
type Provider struct {
	mgr    *ConnectionManager
	limits Limits
	logger *zap.Logger
}

// NewProvider creates a provider over the shared connection manager.
func NewProvider(mgr *ConnectionManager, limits Limits, logger *zap.Logger) *Provider {
	return &Provider{mgr: mgr, limits: limits, logger: logger}
}

// Connector resolves the dialect, parses the config map, and constructs a
// connector. No I/O happens here.
func (p *Provider) Connector(dialect string, config map[string]any, datasourceID uuid.UUID, userID string) (Connector, error) {
	canonical, err := NormalizeDialect(dialect)
	if err != nil {
		return nil, err
	}

	factory, err := GetFactory(canonical)
	if err != nil {
		return nil, err
	}

	cfg, err := ConnectionConfigFromMap(canonical, config)
	if err != nil {
		return nil, err
	}

	return factory(cfg, p.mgr, datasourceID, userID, p.limits, p.logger)
}

var _ ConnectorProvider = (*Provider)(nil)
