// Package storage provides database storage interfaces and implementations.
package storage

import (
	"context"
	"time"

	"github.com/promptlane/relay/internal/models"
)

// Storage is the main interface for database operations.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error

	// Repository accessors
	Events() EventRepository
	Rules() RuleRepository
	Alerts() AlertRepository
	Subscriptions() SubscriptionRepository
	Deliveries() DeliveryRepository
}

// EventRepository defines operations for audit events. The alerting
// engine only ever counts and lists events for one owner and action
// within a trailing window.
type EventRepository interface {
	Create(ctx context.Context, event *models.AuditEvent) error
	GetByID(ctx context.Context, id string) (*models.AuditEvent, error)
	// CountMatching counts events for the owner and action with
	// timestamp at or after since. The current (unpersisted) event is
	// not included.
	CountMatching(ctx context.Context, ownerID, action string, since time.Time) (int, error)
	// ListMatchingIDs returns the IDs of matching events, newest first.
	ListMatchingIDs(ctx context.Context, ownerID, action string, since time.Time, limit int) ([]string, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*models.AuditEvent, int64, error)
	// DeleteBefore prunes events older than the given time.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// RuleRepository defines operations for alert rule management.
type RuleRepository interface {
	Create(ctx context.Context, rule *models.AlertRule) error
	GetByID(ctx context.Context, id string) (*models.AlertRule, error)
	Update(ctx context.Context, rule *models.AlertRule) error
	Delete(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, ownerID string) ([]*models.AlertRule, error)
	ListActiveByOwner(ctx context.Context, ownerID string) ([]*models.AlertRule, error)
	SetActive(ctx context.Context, id string, active bool) error
	// RecordTrigger bumps trigger_count and sets last_triggered_at in
	// a single statement so concurrent firings never lose an increment.
	RecordTrigger(ctx context.Context, id string, at time.Time) error
}

// AlertRepository defines operations for triggered alerts.
type AlertRepository interface {
	Create(ctx context.Context, alert *models.TriggeredAlert) error
	GetByID(ctx context.Context, id string) (*models.TriggeredAlert, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*models.TriggeredAlert, int64, error)
	ListByRule(ctx context.Context, ruleID string, limit, offset int) ([]*models.TriggeredAlert, int64, error)
	Acknowledge(ctx context.Context, id, by, note string, at time.Time) error
	// SetEmailOutcome and SetWebhookOutcome back-fill per-channel
	// delivery results after dispatch.
	SetEmailOutcome(ctx context.Context, id string, sent bool) error
	SetWebhookOutcome(ctx context.Context, id string, sent bool, response string) error
}

// SubscriptionRepository defines operations for webhook subscriptions.
// Counter updates are atomic increments; concurrent delivery
// completions must never read-modify-write a cached value.
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *models.WebhookSubscription) error
	GetByID(ctx context.Context, id string) (*models.WebhookSubscription, error)
	Update(ctx context.Context, sub *models.WebhookSubscription) error
	Delete(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, ownerID string) ([]*models.WebhookSubscription, error)
	ListActiveByOwner(ctx context.Context, ownerID string) ([]*models.WebhookSubscription, error)
	SetActive(ctx context.Context, id string, active bool) error
	RecordTrigger(ctx context.Context, id string, at time.Time) error
	RecordSuccess(ctx context.Context, id string, at time.Time) error
	RecordFailure(ctx context.Context, id string, at time.Time, errMsg string) error
}

// DeliveryRepository defines operations for webhook deliveries. A
// delivery row is owned exclusively by the attempt that created it, so
// state transitions are whole-row updates rather than increments.
type DeliveryRepository interface {
	Create(ctx context.Context, d *models.WebhookDelivery) error
	GetByID(ctx context.Context, id string) (*models.WebhookDelivery, error)
	// Update persists the mutable state machine fields: status,
	// attempt count, response snapshot, next retry, error, delivered at.
	Update(ctx context.Context, d *models.WebhookDelivery) error
	ListByWebhook(ctx context.Context, webhookID string, limit, offset int) ([]*models.WebhookDelivery, int64, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*models.WebhookDelivery, int64, error)
	// ListDueRetries returns retrying deliveries whose next_retry_at
	// is at or before now, oldest first.
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*models.WebhookDelivery, error)
}
