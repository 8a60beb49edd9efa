package models

import (
	"testing"
	"time"
)

func TestAlertRuleValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AlertRule)
		wantErr bool
	}{
		{"valid defaults", func(r *AlertRule) {}, false},
		{"missing owner", func(r *AlertRule) { r.OwnerID = "" }, true},
		{"missing name", func(r *AlertRule) { r.Name = "" }, true},
		{"no trigger actions", func(r *AlertRule) { r.TriggerActions = nil }, true},
		{"zero threshold", func(r *AlertRule) { r.ThresholdCount = 0 }, true},
		{"zero window", func(r *AlertRule) { r.ThresholdWindowMinutes = 0 }, true},
		{"negative cooldown", func(r *AlertRule) { r.CooldownMinutes = -1 }, true},
		{"webhook without url", func(r *AlertRule) { r.NotifyWebhook = true }, true},
		{"webhook with url", func(r *AlertRule) {
			r.NotifyWebhook = true
			r.WebhookURL = "https://hooks.example.com/r"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := NewAlertRule("tenant-1", "r", []string{"login"})
			tt.mutate(rule)
			err := rule.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAlertRuleOnCooldown(t *testing.T) {
	now := time.Now()
	recent := now.Add(-5 * time.Minute)
	old := now.Add(-30 * time.Minute)

	tests := []struct {
		name     string
		last     *time.Time
		cooldown int
		want     bool
	}{
		{"never triggered", nil, 10, false},
		{"no cooldown configured", &recent, 0, false},
		{"inside cooldown", &recent, 10, true},
		{"cooldown expired", &old, 10, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := NewAlertRule("tenant-1", "r", []string{"login"})
			rule.LastTriggeredAt = tt.last
			rule.CooldownMinutes = tt.cooldown
			if got := rule.OnCooldown(now); got != tt.want {
				t.Errorf("OnCooldown() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSubscriptionValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*WebhookSubscription)
		wantErr bool
	}{
		{"valid", func(s *WebhookSubscription) {}, false},
		{"missing owner", func(s *WebhookSubscription) { s.OwnerID = "" }, true},
		{"missing name", func(s *WebhookSubscription) { s.Name = "" }, true},
		{"missing url", func(s *WebhookSubscription) { s.URL = "" }, true},
		{"bad scheme", func(s *WebhookSubscription) { s.URL = "ftp://example.com" }, true},
		{"zero max retries", func(s *WebhookSubscription) { s.MaxRetries = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := NewWebhookSubscription("tenant-1", "hook", "https://hooks.example.com/1")
			tt.mutate(sub)
			err := sub.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscriptionTriggersOn(t *testing.T) {
	sub := NewWebhookSubscription("tenant-1", "hook", "https://hooks.example.com/1")
	sub.OnExportComplete = true
	sub.OnShareAccess = true

	tests := []struct {
		eventType WebhookEventType
		want      bool
	}{
		{EventExportComplete, true},
		{EventShareAccess, true},
		{EventExportFailed, false},
		{EventImportComplete, false},
		// Connectivity tests bypass the trigger flags.
		{EventTest, true},
		{WebhookEventType("unknown"), false},
	}

	for _, tt := range tests {
		if got := sub.TriggersOn(tt.eventType); got != tt.want {
			t.Errorf("TriggersOn(%s) = %v, want %v", tt.eventType, got, tt.want)
		}
	}
}

func TestSubscriptionRetryDelay(t *testing.T) {
	sub := NewWebhookSubscription("tenant-1", "hook", "https://hooks.example.com/1")
	if sub.RetryDelay() != 60*time.Second {
		t.Errorf("default retry delay = %v, want 60s", sub.RetryDelay())
	}
	sub.RetryDelaySeconds = 90
	if sub.RetryDelay() != 90*time.Second {
		t.Errorf("retry delay = %v, want 90s", sub.RetryDelay())
	}
}

func TestDeliveryIsTerminal(t *testing.T) {
	sub := NewWebhookSubscription("tenant-1", "hook", "https://hooks.example.com/1")
	d := NewWebhookDelivery(sub, EventExportComplete, "{}")

	if d.IsTerminal() {
		t.Error("pending delivery reported terminal")
	}
	d.Status = DeliveryRetrying
	if d.IsTerminal() {
		t.Error("retrying delivery reported terminal")
	}
	d.Status = DeliverySuccess
	if !d.IsTerminal() {
		t.Error("success delivery not terminal")
	}
	d.Status = DeliveryFailed
	if !d.IsTerminal() {
		t.Error("failed delivery not terminal")
	}
}

func TestParseEventStatus(t *testing.T) {
	tests := []struct {
		in   string
		want EventStatus
	}{
		{"success", StatusSuccess},
		{"failed", StatusFailed},
		{"unauthorized", StatusUnauthorized},
		{"forbidden", StatusForbidden},
		{"nonsense", StatusSuccess},
	}

	for _, tt := range tests {
		if got := ParseEventStatus(tt.in); got != tt.want {
			t.Errorf("ParseEventStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
