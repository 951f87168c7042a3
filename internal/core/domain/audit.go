package domain

import "time"

// AuditEventType names a security-relevant lifecycle event.
type AuditEventType string

const (
	AuditLogin          AuditEventType = "login"
	AuditRegister       AuditEventType = "register"
	AuditPasswordChange AuditEventType = "password_change"
	AuditDeactivate     AuditEventType = "deactivate"
	AuditLogoutAll      AuditEventType = "logout_all"
	AuditRefreshReplay  AuditEventType = "refresh_replay"
	AuditRoleAssigned   AuditEventType = "role_assigned"
	AuditRoleUnassigned AuditEventType = "role_unassigned"
	AuditProfileUpdate  AuditEventType = "profile_update"
)

// AuditEvent is an append-only record. It never carries credential material.
type AuditEvent struct {
	Type       AuditEventType    `json:"type" bson:"type"`
	UserID     string            `json:"user_id,omitempty" bson:"user_id,omitempty"`
	ActorID    string            `json:"actor_id,omitempty" bson:"actor_id,omitempty"`
	Outcome    string            `json:"outcome" bson:"outcome"`
	OccurredAt time.Time         `json:"occurred_at" bson:"occurred_at"`
	Metadata   map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
