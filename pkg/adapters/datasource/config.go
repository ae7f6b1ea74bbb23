package datasource

import (
	"fmt"
	"hash/fnv"
	"net/url"
	"strconv"

	"github.com/sqlbridge-io/sqlbridge/pkg/apperrors"
	"github.com/sqlbridge-io/sqlbridge/pkg/logging"
)

// ConnectionConfig holds the parsed connection details of one datasource.
// Either URL is set (full connection string supplied by the user) or the
// component fields are. SSLMode is empty when the user did not choose one,
// which is what permits the TLS fallback retry.
type ConnectionConfig struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Schema   string
	SSLMode  string
}

// defaultPorts by canonical dialect.
var defaultPorts = map[string]int{
	DialectPostgreSQL: 5432,
	DialectMySQL:      3306,
	DialectSQLServer:  1433,
}

// ConnectionConfigFromMap parses a JSON-decoded config map. A full
// connection string under "url" or "connection_string" wins; otherwise the
// config is composed from components. JSON numbers arrive as float64, so
// port accepts float64, int, and numeric strings.
func ConnectionConfigFromMap(dialect string, m map[string]any) (*ConnectionConfig, error) {
	cfg := &ConnectionConfig{}

	if s, ok := stringField(m, "url", "connection_string"); ok {
		cfg.URL = s
		cfg.SSLMode, _ = stringField(m, "ssl_mode", "sslmode")
		return cfg, nil
	}

	cfg.Host, _ = stringField(m, "host")
	cfg.User, _ = stringField(m, "user", "username")
	cfg.Password, _ = stringField(m, "password")
	cfg.Database, _ = stringField(m, "database", "name", "dbname")
	cfg.Schema, _ = stringField(m, "schema")
	cfg.SSLMode, _ = stringField(m, "ssl_mode", "sslmode")

	switch port := m["port"].(type) {
	case float64:
		cfg.Port = int(port)
	case int:
		cfg.Port = port
	case string:
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid port %q", apperrors.ErrConfig, port)
		}
		cfg.Port = p
	case nil:
		cfg.Port = defaultPorts[dialect]
	default:
		return nil, fmt.Errorf("%w: invalid port type %T", apperrors.ErrConfig, port)
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPorts[dialect]
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that either a URL or the required components are present.
func (c *ConnectionConfig) Validate() error {
	if c.URL != "" {
		return nil
	}
	if c.Host == "" {
		return fmt.Errorf("%w: host is required", apperrors.ErrConfig)
	}
	if c.User == "" {
		return fmt.Errorf("%w: user is required", apperrors.ErrConfig)
	}
	if c.Database == "" {
		return fmt.Errorf("%w: database is required", apperrors.ErrConfig)
	}
	return nil
}

// SSLModeSet reports whether the user pinned an SSL mode. When false, the
// connector may retry with TLS disabled after a failed first attempt.
func (c *ConnectionConfig) SSLModeSet() bool {
	return c.SSLMode != ""
}

// Hash folds the pool-identity fields (host, port, database, schema, user,
// raw URL) so a config change yields a different pool key. The password is
// deliberately excluded: rotating it should reuse the validated pool slot
// and fail fast on the next probe instead.
func (c *ConnectionConfig) Hash() uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d|%s|%s|%s|%s", c.Host, c.Port, c.Database, c.Schema, c.User, c.URL)
	return h.Sum64()
}

// Masked renders a log-safe description of the target.
func (c *ConnectionConfig) Masked() string {
	if c.URL != "" {
		return logging.MaskDSN(c.URL)
	}
	return fmt.Sprintf("%s:****@%s:%d/%s", c.User, c.Host, c.Port, c.Database)
}

// EscapedUser returns the percent-encoded user for URL composition.
func (c *ConnectionConfig) EscapedUser() string { return url.QueryEscape(c.User) }

// EscapedPassword returns the percent-encoded password for URL composition.
func (c *ConnectionConfig) EscapedPassword() string { return url.QueryEscape(c.Password) }

// EscapedDatabase returns the percent-encoded database for URL composition.
func (c *ConnectionConfig) EscapedDatabase() string { return url.QueryEscape(c.Database) }

// stringField returns the first non-empty string value among keys.
func stringField(m map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}
