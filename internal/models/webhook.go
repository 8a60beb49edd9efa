package models

import (
	"fmt"
	"strings"
	"time"
)

// WebhookEventType identifies a domain event a subscription can
// receive. Distinct from alert-triggered webhooks, which are tied to
// an AlertRule rather than a subscription.
type WebhookEventType string

const (
	EventExportComplete  WebhookEventType = "export_complete"
	EventExportFailed    WebhookEventType = "export_failed"
	EventImportComplete  WebhookEventType = "import_complete"
	EventImportFailed    WebhookEventType = "import_failed"
	EventScheduledExport WebhookEventType = "scheduled_export"
	EventShareAccess     WebhookEventType = "share_access"
	// EventTest is used by connectivity tests only.
	EventTest WebhookEventType = "test"
)

// DefaultMaxRetries and DefaultRetryDelaySeconds apply when a
// subscription leaves its retry policy unset.
const (
	DefaultMaxRetries        = 3
	DefaultRetryDelaySeconds = 60
)

// WebhookSubscription is a standing outbound endpoint registered to
// receive specific domain event types, independent of alert rules.
type WebhookSubscription struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	Name    string `json:"name"`

	// Transport.
	URL     string            `json:"url"`
	Secret  string            `json:"-"`
	Headers map[string]string `json:"headers,omitempty"`

	// Trigger flags, one per supported event type.
	OnExportComplete  bool `json:"on_export_complete"`
	OnExportFailed    bool `json:"on_export_failed"`
	OnImportComplete  bool `json:"on_import_complete"`
	OnImportFailed    bool `json:"on_import_failed"`
	OnScheduledExport bool `json:"on_scheduled_export"`
	OnShareAccess     bool `json:"on_share_access"`

	// Retry policy. RetryDelaySeconds is a linear multiplier: attempt
	// N waits N times this value before the next try.
	MaxRetries        int `json:"max_retries"`
	RetryDelaySeconds int `json:"retry_delay_seconds"`

	// Runtime state. Counters are updated via atomic SQL increments.
	IsActive         bool       `json:"is_active"`
	TotalTriggers    int64      `json:"total_triggers"`
	SuccessCount     int64      `json:"success_count"`
	FailureCount     int64      `json:"failure_count"`
	LastTriggeredAt  *time.Time `json:"last_triggered_at,omitempty"`
	LastSuccessAt    *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt    *time.Time `json:"last_failure_at,omitempty"`
	LastErrorMessage string     `json:"last_error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewWebhookSubscription creates a subscription with default retry policy.
func NewWebhookSubscription(ownerID, name, url string) *WebhookSubscription {
	now := time.Now()
	return &WebhookSubscription{
		OwnerID:           ownerID,
		Name:              name,
		URL:               url,
		MaxRetries:        DefaultMaxRetries,
		RetryDelaySeconds: DefaultRetryDelaySeconds,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Validate checks the subscription configuration.
func (s *WebhookSubscription) Validate() error {
	if s.OwnerID == "" {
		return fmt.Errorf("subscription owner is required")
	}
	if s.Name == "" {
		return fmt.Errorf("subscription name is required")
	}
	if s.URL == "" {
		return fmt.Errorf("subscription URL is required")
	}
	if !strings.HasPrefix(s.URL, "http://") && !strings.HasPrefix(s.URL, "https://") {
		return fmt.Errorf("subscription URL must be http or https")
	}
	if s.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1")
	}
	if s.RetryDelaySeconds < 1 {
		return fmt.Errorf("retry delay must be at least 1 second")
	}
	return nil
}

// TriggersOn reports whether the subscription's flag for the given
// event type is set. EventTest always matches so connectivity tests
// work regardless of configured flags.
func (s *WebhookSubscription) TriggersOn(eventType WebhookEventType) bool {
	switch eventType {
	case EventExportComplete:
		return s.OnExportComplete
	case EventExportFailed:
		return s.OnExportFailed
	case EventImportComplete:
		return s.OnImportComplete
	case EventImportFailed:
		return s.OnImportFailed
	case EventScheduledExport:
		return s.OnScheduledExport
	case EventShareAccess:
		return s.OnShareAccess
	case EventTest:
		return true
	default:
		return false
	}
}

// RetryDelay returns the base retry delay as a duration.
func (s *WebhookSubscription) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelaySeconds) * time.Second
}
