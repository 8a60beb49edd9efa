package models

import (
	"fmt"
	"time"
)

// AlertRule is a persisted predicate + threshold + notification
// configuration owned by one tenant. An event fires a rule when the
// predicate matches, the count of matching events within the trailing
// window reaches the threshold, and the rule is not on cooldown.
type AlertRule struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Predicate. TriggerActions is required and non-empty; the other
	// two sets match everything when empty.
	TriggerActions       []string `json:"trigger_actions"`
	TriggerResourceTypes []string `json:"trigger_resource_types,omitempty"`
	TriggerStatuses      []string `json:"trigger_statuses,omitempty"`

	// Threshold: matching events within the trailing window, current
	// event included, must reach ThresholdCount.
	ThresholdCount         int `json:"threshold_count"`
	ThresholdWindowMinutes int `json:"threshold_window_minutes"`

	// IP policy. When TriggerOnUnknownIP is set, an event whose source
	// IP is absent from AllowedIPs counts as unknown and gates firing.
	TriggerOnUnknownIP bool     `json:"trigger_on_unknown_ip"`
	AllowedIPs         []string `json:"allowed_ips,omitempty"`

	// Cooldown is the minimum spacing between two firings, measured
	// from LastTriggeredAt.
	CooldownMinutes int `json:"cooldown_minutes"`

	// Notification config.
	NotifyEmail   bool   `json:"notify_email"`
	NotifyWebhook bool   `json:"notify_webhook"`
	WebhookURL    string `json:"webhook_url,omitempty"`
	WebhookSecret string `json:"-"`

	// Runtime state.
	IsActive        bool       `json:"is_active"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	TriggerCount    int64      `json:"trigger_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewAlertRule creates a rule with initialized timestamps.
func NewAlertRule(ownerID, name string, actions []string) *AlertRule {
	now := time.Now()
	return &AlertRule{
		OwnerID:                ownerID,
		Name:                   name,
		TriggerActions:         actions,
		ThresholdCount:         1,
		ThresholdWindowMinutes: 60,
		IsActive:               true,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

// Validate checks the rule configuration. Configuration errors are
// rejected here, at creation/update time, and never reach evaluation.
func (r *AlertRule) Validate() error {
	if r.OwnerID == "" {
		return fmt.Errorf("rule owner is required")
	}
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if len(r.TriggerActions) == 0 {
		return fmt.Errorf("at least one trigger action is required for rule %q", r.Name)
	}
	if r.ThresholdCount < 1 {
		return fmt.Errorf("threshold count must be at least 1 for rule %q", r.Name)
	}
	if r.ThresholdWindowMinutes < 1 {
		return fmt.Errorf("threshold window must be at least 1 minute for rule %q", r.Name)
	}
	if r.CooldownMinutes < 0 {
		return fmt.Errorf("cooldown must not be negative for rule %q", r.Name)
	}
	if r.NotifyWebhook && r.WebhookURL == "" {
		return fmt.Errorf("webhook URL is required when webhook notification is enabled for rule %q", r.Name)
	}
	return nil
}

// WindowDuration returns the trailing window as a duration.
func (r *AlertRule) WindowDuration() time.Duration {
	return time.Duration(r.ThresholdWindowMinutes) * time.Minute
}

// CooldownDuration returns the cooldown as a duration.
func (r *AlertRule) CooldownDuration() time.Duration {
	return time.Duration(r.CooldownMinutes) * time.Minute
}

// OnCooldown reports whether the rule is still inside its cooldown
// window at the given time.
func (r *AlertRule) OnCooldown(now time.Time) bool {
	if r.LastTriggeredAt == nil || r.CooldownMinutes <= 0 {
		return false
	}
	return now.Before(r.LastTriggeredAt.Add(r.CooldownDuration()))
}
