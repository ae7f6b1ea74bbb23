// Package config loads gateway configuration from config.yaml with
// environment variable overrides. Secrets only come from the environment.
package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the gateway.
// Environment variables always override YAML values for fields that support
// both. Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8090"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// App store configuration (PostgreSQL holding datasource definitions)
	Database DatabaseConfig `yaml:"database"`

	// Datasource connection management configuration
	Datasource DatasourceConfig `yaml:"datasource"`

	// Metadata cache configuration
	Cache CacheConfig `yaml:"cache"`

	// Query execution limits
	Query QueryConfig `yaml:"query"`

	// Credential encryption key for datasource configs.
	// Must be a 32-byte key, base64 encoded. Generate with: openssl rand -base64 32
	// Server will fail to start if this is not set.
	CredentialsKey string `yaml:"-" env:"BRIDGE_CREDENTIALS_KEY"` // Secret - not in YAML
}

// DatabaseConfig holds app store (PostgreSQL) configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"sqlbridge"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"sqlbridge"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// DatasourceConfig holds datasource connection management settings.
type DatasourceConfig struct {
	// ConnectionTTLMinutes is how long idle datasource pools are kept alive.
	ConnectionTTLMinutes int `yaml:"connection_ttl_minutes" env:"DATASOURCE_CONNECTION_TTL_MINUTES" env-default:"5"`
	// MaxConnectionsPerUser limits concurrent datasource pools per user.
	MaxConnectionsPerUser int `yaml:"max_connections_per_user" env:"DATASOURCE_MAX_CONNECTIONS_PER_USER" env-default:"10"`
	// PoolMaxConns is the maximum number of connections per datasource pool.
	PoolMaxConns int32 `yaml:"pool_max_conns" env:"DATASOURCE_POOL_MAX_CONNS" env-default:"10"`
	// PoolMinConns is the minimum number of connections per datasource pool.
	PoolMinConns int32 `yaml:"pool_min_conns" env:"DATASOURCE_POOL_MIN_CONNS" env-default:"1"`
	// OperationTimeoutSeconds bounds each datasource operation.
	OperationTimeoutSeconds int `yaml:"operation_timeout_seconds" env:"DATASOURCE_OPERATION_TIMEOUT_SECONDS" env-default:"30"`
}

// CacheConfig holds metadata cache settings.
type CacheConfig struct {
	// TTLSeconds is how long datasource metadata stays cached per user.
	TTLSeconds int `yaml:"ttl_seconds" env:"CACHE_TTL_SECONDS" env-default:"300"`
}

// QueryConfig holds row limits applied to query and table-data operations.
type QueryConfig struct {
	// DefaultLimit is applied when a request does not specify a limit.
	DefaultLimit int `yaml:"default_limit" env:"QUERY_DEFAULT_LIMIT" env-default:"50"`
	// MaxLimit is the hard cap; larger requests are clamped.
	MaxLimit int `yaml:"max_limit" env:"QUERY_MAX_LIMIT" env-default:"1000"`
	// DistinctValueLimit bounds distinct-value lookups.
	DistinctValueLimit int `yaml:"distinct_value_limit" env:"QUERY_DISTINCT_VALUE_LIMIT" env-default:"100"`
	// SampleRows is how many sample rows schema summaries include.
	SampleRows int `yaml:"sample_rows" env:"QUERY_SAMPLE_ROWS" env-default:"5"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. If config.yaml does not exist, configuration comes from the
// environment alone. The version parameter is injected at build time.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks invariants that cleanenv defaults cannot express.
func (c *Config) validate() error {
	if c.Query.MaxLimit <= 0 {
		return fmt.Errorf("query.max_limit must be positive, got %d", c.Query.MaxLimit)
	}
	if c.Query.DefaultLimit > c.Query.MaxLimit {
		return fmt.Errorf("query.default_limit (%d) exceeds query.max_limit (%d)", c.Query.DefaultLimit, c.Query.MaxLimit)
	}
	if c.Datasource.PoolMinConns > c.Datasource.PoolMaxConns {
		return fmt.Errorf("datasource.pool_min_conns (%d) exceeds pool_max_conns (%d)", c.Datasource.PoolMinConns, c.Datasource.PoolMaxConns)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string for the app store.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Redacted renders the config as YAML for startup logs. Secret fields are
// tagged yaml:"-" and never appear in the output.
func (c *Config) Redacted() string {
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("config: <marshal error: %v>", err)
	}
	return string(out)
}
