package models

import (
	"time"
)

// Severity represents alert severity level.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity converts a string to Severity.
func ParseSeverity(s string) Severity {
	switch s {
	case "low":
		return SeverityLow
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// TriggeredAlert is the immutable record of one rule firing. After
// creation it is mutated only by acknowledgement and by the dispatcher
// back-filling per-channel delivery outcomes.
type TriggeredAlert struct {
	ID       string   `json:"id"`
	RuleID   string   `json:"rule_id"`
	OwnerID  string   `json:"owner_id"`
	RuleName string   `json:"rule_name"`
	Severity Severity `json:"severity"`
	Title    string   `json:"title"`
	Message  string   `json:"message"`

	// EventIDs are the underlying audit events that satisfied the
	// threshold; EventCount includes the triggering event.
	EventIDs   []string `json:"event_ids,omitempty"`
	EventCount int      `json:"event_count"`
	SourceIP   string   `json:"source_ip,omitempty"`

	// Per-channel delivery outcome, back-filled after dispatch.
	EmailSent       bool   `json:"email_sent"`
	WebhookSent     bool   `json:"webhook_sent"`
	WebhookResponse string `json:"webhook_response,omitempty"`

	// Acknowledgement state.
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AckNote        string     `json:"ack_note,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
