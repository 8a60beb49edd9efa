// Package models defines the persistent domain objects shared by the
// alerting engine, the webhook delivery engine, and the storage layer.
package models

import (
	"time"

	"github.com/google/uuid"
)

// EventStatus is the outcome recorded on an audit event.
type EventStatus string

const (
	StatusSuccess      EventStatus = "success"
	StatusFailed       EventStatus = "failed"
	StatusUnauthorized EventStatus = "unauthorized"
	StatusForbidden    EventStatus = "forbidden"
)

// ParseEventStatus converts a string to EventStatus.
func ParseEventStatus(s string) EventStatus {
	switch s {
	case "success":
		return StatusSuccess
	case "failed":
		return StatusFailed
	case "unauthorized":
		return StatusUnauthorized
	case "forbidden":
		return StatusForbidden
	default:
		return StatusSuccess
	}
}

// AuditEvent is one discrete action recorded against a tenant.
// Events are the only input to the rule matcher; anything that can
// produce them (request handlers, import/export jobs, schedulers)
// feeds the same pipeline.
type AuditEvent struct {
	ID           string            `json:"id"`
	OwnerID      string            `json:"owner_id"`
	Action       string            `json:"action"`
	ResourceType string            `json:"resource_type,omitempty"`
	Status       EventStatus       `json:"status"`
	SourceIP     string            `json:"source_ip,omitempty"`
	UserAgent    string            `json:"user_agent,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// NewAuditEvent creates an event with a fresh ID and timestamp.
func NewAuditEvent(ownerID, action, resourceType string, status EventStatus) *AuditEvent {
	return &AuditEvent{
		ID:           uuid.New().String(),
		OwnerID:      ownerID,
		Action:       action,
		ResourceType: resourceType,
		Status:       status,
		CreatedAt:    time.Now(),
	}
}
