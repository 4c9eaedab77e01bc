// Package models - audit_log.go defines the AuditLog model for recording
// security- and billing-relevant events: logins, integration lifecycle changes
// (connect, refresh, disconnect, migration), exports and reconciliation
// failures.
package models

import "time"

// AuditLog represents one recorded event
type AuditLog struct {
	ID           string                 `db:"id" json:"id"`
	UserID       *string                `db:"user_id" json:"user_id,omitempty"` // nil for scheduler-driven events
	Action       string                 `db:"action" json:"action"`             // "integration.connect", "invoice.export", ...
	ResourceType *string                `db:"resource_type" json:"resource_type,omitempty"`
	ResourceID   *string                `db:"resource_id" json:"resource_id,omitempty"`
	Metadata     map[string]interface{} `db:"-" json:"metadata,omitempty"` // stored as JSONB
	IPAddress    *string                `db:"ip_address" json:"ip_address,omitempty"`
	CreatedAt    time.Time              `db:"created_at" json:"created_at"`
}
