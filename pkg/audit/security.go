// Package audit provides security audit logging for SIEM consumption.
// Events are emitted as structured JSON under a dedicated logger namespace
// so they can be filtered out of the operational log stream.
package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection flags a filter
	// or search value.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventStatementRejected is logged when a query is rejected before
	// reaching the datasource (multi-statement input, empty query).
	EventStatementRejected SecurityEventType = "statement_rejected"
	// EventQueryExecution is logged for successful ad-hoc query execution.
	// Can be high volume.
	EventQueryExecution SecurityEventType = "query_execution"
)

// SecurityEvent is one auditable event with the context a SIEM needs to
// correlate it: which datasource was targeted and by which caller.
type SecurityEvent struct {
	Timestamp    time.Time         `json:"timestamp"`
	EventType    SecurityEventType `json:"event_type"`
	DatasourceID uuid.UUID         `json:"datasource_id"`
	UserID       string            `json:"user_id,omitempty"`
	Details      any               `json:"details"`
	Severity     string            `json:"severity"` // info, warning, critical
}

// InjectionDetails describes a value that matched an injection fingerprint.
// The value itself is included; it is an attack payload, not a credential.
type InjectionDetails struct {
	Column      string `json:"column"`
	Value       string `json:"value"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// SecurityAuditor logs security events for SIEM consumption. A nil auditor
// is valid and drops all events, so callers never need a guard.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates an auditor writing under the "security_audit"
// logger namespace.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// LogInjectionAttempt records a detected injection attempt. Logged at ERROR
// with "critical" severity for immediate alerting.
func (a *SecurityAuditor) LogInjectionAttempt(datasourceID uuid.UUID, userID string, details InjectionDetails) {
	if a == nil {
		return
	}

	event := SecurityEvent{
		Timestamp:    time.Now().UTC(),
		EventType:    EventSQLInjectionAttempt,
		DatasourceID: datasourceID,
		UserID:       userID,
		Details:      details,
		Severity:     "critical",
	}
	eventJSON, _ := json.Marshal(event)

	a.logger.Error("SQL injection attempt detected",
		zap.String("event_json", string(eventJSON)),
		zap.String("datasource_id", datasourceID.String()),
		zap.String("user_id", userID),
		zap.String("column", details.Column),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("severity", "critical"),
	)
}

// LogRejectedStatement records a query rejected before execution. Logged at
// WARN; rejections are usually client mistakes rather than attacks.
func (a *SecurityAuditor) LogRejectedStatement(datasourceID uuid.UUID, userID, reason string) {
	if a == nil {
		return
	}

	event := SecurityEvent{
		Timestamp:    time.Now().UTC(),
		EventType:    EventStatementRejected,
		DatasourceID: datasourceID,
		UserID:       userID,
		Details:      map[string]string{"reason": reason},
		Severity:     "warning",
	}
	eventJSON, _ := json.Marshal(event)

	a.logger.Warn("Statement rejected",
		zap.String("event_json", string(eventJSON)),
		zap.String("datasource_id", datasourceID.String()),
		zap.String("user_id", userID),
		zap.String("reason", reason),
		zap.String("severity", "warning"),
	)
}

// LogQueryExecution records a successful ad-hoc query for the audit trail.
// Logged at INFO. The query text is not included; row count and duration are
// enough to correlate with the operational log.
func (a *SecurityAuditor) LogQueryExecution(datasourceID uuid.UUID, userID string, rowCount int, durationMs int64) {
	if a == nil {
		return
	}

	event := SecurityEvent{
		Timestamp:    time.Now().UTC(),
		EventType:    EventQueryExecution,
		DatasourceID: datasourceID,
		UserID:       userID,
		Details: map[string]int64{
			"row_count":   int64(rowCount),
			"duration_ms": durationMs,
		},
		Severity: "info",
	}
	eventJSON, _ := json.Marshal(event)

	a.logger.Info("Query executed",
		zap.String("event_json", string(eventJSON)),
		zap.String("datasource_id", datasourceID.String()),
		zap.String("user_id", userID),
		zap.Int("row_count", rowCount),
		zap.Int64("duration_ms", durationMs),
		zap.String("severity", "info"),
	)
}
