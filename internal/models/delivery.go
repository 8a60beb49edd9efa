package models

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus is the state of one webhook delivery.
//
// Transitions: pending → success (terminal), or
// pending → retrying → … → success | failed (terminal). A transition
// is driven solely by the HTTP outcome and attempt count vs the
// subscription's max retries.
type DeliveryStatus string

const (
	DeliveryPending  DeliveryStatus = "pending"
	DeliverySuccess  DeliveryStatus = "success"
	DeliveryRetrying DeliveryStatus = "retrying"
	DeliveryFailed   DeliveryStatus = "failed"
)

// WebhookDelivery is one tracked delivery envelope for a subscription.
// The payload is snapshotted at trigger time so retries replay the
// original body byte for byte.
type WebhookDelivery struct {
	ID        string           `json:"id"`
	WebhookID string           `json:"webhook_id"`
	OwnerID   string           `json:"owner_id"`
	EventType WebhookEventType `json:"event_type"`
	Payload   string           `json:"payload"`

	Status       DeliveryStatus `json:"status"`
	AttemptCount int            `json:"attempt_count"`

	ResponseStatus *int   `json:"response_status,omitempty"`
	ResponseBody   string `json:"response_body,omitempty"`
	ResponseTimeMS *int64 `json:"response_time_ms,omitempty"`

	NextRetryAt  *time.Time `json:"next_retry_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// NewWebhookDelivery creates a pending delivery for a subscription.
func NewWebhookDelivery(sub *WebhookSubscription, eventType WebhookEventType, payload string) *WebhookDelivery {
	return &WebhookDelivery{
		ID:        uuid.New().String(),
		WebhookID: sub.ID,
		OwnerID:   sub.OwnerID,
		EventType: eventType,
		Payload:   payload,
		Status:    DeliveryPending,
		CreatedAt: time.Now(),
	}
}

// IsTerminal reports whether the delivery reached a terminal state.
func (d *WebhookDelivery) IsTerminal() bool {
	return d.Status == DeliverySuccess || d.Status == DeliveryFailed
}
