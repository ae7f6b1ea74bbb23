// Package apperrors defines the gateway error taxonomy.
//
// Driver errors are categorized into a small set of sentinel errors so
// callers can branch with errors.Is without knowing dialect-specific
// error shapes. Classify attaches a remediation hint alongside the
// sanitized driver message.
package apperrors

import "errors"

var (
	// ErrConfig indicates an invalid or incomplete connection configuration.
	ErrConfig = errors.New("invalid configuration")

	// ErrConnectivity indicates the database host could not be reached.
	ErrConnectivity = errors.New("connection failed")

	// ErrAuth indicates the database rejected the supplied credentials.
	ErrAuth = errors.New("authentication failed")

	// ErrSchema indicates a referenced database, schema, table, or column
	// does not exist.
	ErrSchema = errors.New("schema object not found")

	// ErrTLS indicates TLS negotiation with the database failed.
	ErrTLS = errors.New("TLS negotiation failed")

	// ErrUnsupportedDialect indicates the requested dialect has no
	// registered connector.
	ErrUnsupportedDialect = errors.New("unsupported dialect")

	// ErrQuery indicates a statement was rejected by the database or by
	// gateway validation.
	ErrQuery = errors.New("query failed")

	// ErrNotFound indicates a requested gateway resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a uniqueness conflict (e.g. duplicate name).
	ErrConflict = errors.New("conflict")

	// ErrConnectionLimit indicates the per-user connection cap was hit.
	ErrConnectionLimit = errors.New("connection limit reached")

	// ErrCredentialsKeyMismatch indicates stored credentials were encrypted
	// with a different key than the one configured.
	ErrCredentialsKeyMismatch = errors.New("datasource credentials were encrypted with a different key")
)
