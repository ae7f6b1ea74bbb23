package apperrors

import (
	"fmt"
	"strings"
)

// classRule maps an error-message substring to a taxonomy sentinel and a
// remediation hint. Rules are checked in order; the first match wins.
type classRule struct {
	substrings []string
	sentinel   error
	hint       string
}

// Rules derived from the error text the supported drivers actually emit.
// Auth and TLS rules come before generic connectivity because driver
// messages often contain both ("connection refused" wrapping an auth
// failure is rare, the reverse is not).
var classRules = []classRule{
	{
		substrings: []string{"password authentication failed", "access denied for user", "login failed for user", "authentication failed"},
		sentinel:   ErrAuth,
		hint:       "check the username and password",
	},
	{
		substrings: []string{"pg_hba.conf"},
		sentinel:   ErrAuth,
		hint:       "the server's client authentication rules reject this connection; check pg_hba.conf on the server",
	},
	{
		substrings: []string{"ssl", "tls", "certificate", "handshake"},
		sentinel:   ErrTLS,
		hint:       "the server and client disagree on TLS; try ssl_mode=disable for servers without TLS, or ssl_mode=require otherwise",
	},
	{
		substrings: []string{"does not exist", "unknown database", "cannot open database", "doesn't exist", "unknown table", "no such table"},
		sentinel:   ErrSchema,
		hint:       "check the database, schema, and table names",
	},
	{
		substrings: []string{"too many connections", "remaining connection slots"},
		sentinel:   ErrConnectivity,
		hint:       "the server is at its connection limit; lower the pool size or raise the server limit",
	},
	{
		substrings: []string{"connection refused", "no such host", "network is unreachable", "connection reset", "broken pipe", "i/o timeout", "timeout", "timed out", "dial tcp"},
		sentinel:   ErrConnectivity,
		hint:       "check the host, port, and any firewall between the gateway and the database",
	},
	{
		substrings: []string{"syntax error", "incorrect syntax", "sql syntax"},
		sentinel:   ErrQuery,
		hint:       "the statement was rejected by the database; check the SQL syntax",
	},
	{
		substrings: []string{"permission denied", "must be owner", "insufficient privilege"},
		sentinel:   ErrQuery,
		hint:       "the configured database user lacks privileges for this operation",
	},
}

// Classify categorizes a driver error into the gateway taxonomy using
// substring heuristics on the (lowercased) error text. Errors that match
// no rule fall back to fallback (usually ErrConnectivity for connection
// paths and ErrQuery for statement paths) with the driver text preserved.
//
// The returned error wraps the sentinel, so errors.Is(err, ErrAuth) etc.
// works on the result. The original error is NOT wrapped: driver errors
// can embed credentials, so only the already-sanitized message survives.
func Classify(dialect string, err error, fallback error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lower := strings.ToLower(msg)

	for _, rule := range classRules {
		for _, sub := range rule.substrings {
			if strings.Contains(lower, sub) {
				return fmt.Errorf("%w (%s): %s (%s)", rule.sentinel, dialect, msg, rule.hint)
			}
		}
	}

	if fallback == nil {
		fallback = ErrConnectivity
	}
	return fmt.Errorf("%w (%s): %s", fallback, dialect, msg)
}

// ClassifyQuery categorizes an error from a statement path, defaulting to
// ErrQuery when no rule matches.
func ClassifyQuery(dialect string, err error) error {
	return Classify(dialect, err, ErrQuery)
}

// ClassifyConnect categorizes an error from a connection path, defaulting
// to ErrConnectivity when no rule matches.
func ClassifyConnect(dialect string, err error) error {
	return Classify(dialect, err, ErrConnectivity)
}
