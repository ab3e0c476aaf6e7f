package models

import "time"

// Audit event actions appended on key lifecycle transitions.
const (
	AuditActionCreated     = "created"
	AuditActionRotated     = "rotated"
	AuditActionDeprecated  = "deprecated"
	AuditActionDeactivated = "deactivated"
	AuditActionTombstoned  = "tombstoned"
	AuditActionReactivated = "reactivated"
)

// KeyAuditEvent is an immutable record of a key lifecycle transition. Rows
// are append-only; lifecycle state itself lives on the APIKey status field.
type KeyAuditEvent struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"id"`
	// KeyID is the key the event refers to.
	KeyID string `gorm:"index;not null" json:"key_id"`
	// Action is one of the AuditAction constants.
	Action string `gorm:"not null" json:"action"`
	// Actor identifies who triggered the transition (operator, sweep, api).
	Actor string `json:"actor,omitempty"`
	// Reason is free-form context, e.g. the incident reference on deactivation.
	Reason string `json:"reason,omitempty"`
	// RelatedKeyID links events across a rotation (successor or predecessor).
	RelatedKeyID string `json:"related_key_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName keeps the gorm table name explicit.
func (KeyAuditEvent) TableName() string { return "api_key_audit_events" }
