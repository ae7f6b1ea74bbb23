package models

import (
	"time"

	"github.com/google/uuid"
)

// Datasource represents a registered external database connection.
// The Config field contains connection details (credentials, host, etc.)
// which are encrypted at rest by the service layer.
//
// TableList and SchemaInfo are the persisted introspection cache: nil means
// never introspected (or invalidated by a config change).
type Datasource struct {
	ID         uuid.UUID                  `json:"id"`
	Name       string                     `json:"name"`
	Dialect    string                     `json:"dialect"` // "postgresql", "mysql", "sqlserver"
	Config     map[string]any             `json:"config"`  // Decrypted config, structure varies by dialect
	TableList  []string                   `json:"table_list,omitempty"`
	SchemaInfo map[string]*TableStructure `json:"schema_info,omitempty"`
	CreatedAt  time.Time                  `json:"created_at"`
	UpdatedAt  time.Time                  `json:"updated_at"`
	DeletedAt  *time.Time                 `json:"deleted_at,omitempty"`
}
