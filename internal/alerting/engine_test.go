package alerting

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/promptlane/relay/internal/models"
	"github.com/promptlane/relay/internal/storage"
	"github.com/promptlane/relay/internal/webhook"
)

func newTestStorage(t *testing.T) storage.Storage {
	t.Helper()

	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "relay.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Migrate(); err != nil {
		t.Fatalf("failed to migrate storage: %v", err)
	}
	return store
}

func newTestRule(t *testing.T, store storage.Storage, mutate func(*models.AlertRule)) *models.AlertRule {
	t.Helper()

	rule := models.NewAlertRule("tenant-1", "Suspicious deletes", []string{"prompt_delete"})
	rule.ID = uuid.New().String()
	if mutate != nil {
		mutate(rule)
	}
	if err := rule.Validate(); err != nil {
		t.Fatalf("invalid test rule: %v", err)
	}
	if err := store.Rules().Create(context.Background(), rule); err != nil {
		t.Fatalf("failed to create rule: %v", err)
	}
	return rule
}

func newTestEvent(ownerID, action string, status models.EventStatus, at time.Time) *models.AuditEvent {
	ev := models.NewAuditEvent(ownerID, action, "prompt", status)
	ev.CreatedAt = at
	return ev
}

func TestCheckEventThreshold(t *testing.T) {
	store := newTestStorage(t)
	engine := NewEngine(store, Config{})
	defer engine.Close()

	newTestRule(t, store, func(r *models.AlertRule) {
		r.ThresholdCount = 3
		r.ThresholdWindowMinutes = 10
	})

	ctx := context.Background()
	base := time.Now().UTC()

	for i, wantTriggered := range []int{0, 0, 1} {
		ev := newTestEvent("tenant-1", "prompt_delete", models.StatusFailed, base.Add(time.Duration(i)*time.Minute))
		result, err := engine.CheckEventAt(ctx, ev, ev.CreatedAt)
		if err != nil {
			t.Fatalf("event %d: %v", i+1, err)
		}
		if result.AlertsTriggered != wantTriggered {
			t.Fatalf("event %d: triggered %d alerts, want %d", i+1, result.AlertsTriggered, wantTriggered)
		}
	}

	alerts, total, err := store.Alerts().ListByOwner(ctx, "tenant-1", 10, 0)
	if err != nil {
		t.Fatalf("failed to list alerts: %v", err)
	}
	if total != 1 {
		t.Fatalf("got %d alerts, want 1", total)
	}

	alert := alerts[0]
	if alert.EventCount != 3 {
		t.Errorf("event count = %d, want 3", alert.EventCount)
	}
	if len(alert.EventIDs) != 3 {
		t.Errorf("attached %d event IDs, want 3", len(alert.EventIDs))
	}
	// 3 failed events within the window classifies as high
	if alert.Severity != models.SeverityHigh {
		t.Errorf("severity = %s, want %s", alert.Severity, models.SeverityHigh)
	}
	if !strings.Contains(alert.Title, "3 Prompt Delete events detected") {
		t.Errorf("unexpected title %q", alert.Title)
	}
}

func TestCheckEventOutsideWindow(t *testing.T) {
	store := newTestStorage(t)
	engine := NewEngine(store, Config{})
	defer engine.Close()

	newTestRule(t, store, func(r *models.AlertRule) {
		r.ThresholdCount = 2
		r.ThresholdWindowMinutes = 5
	})

	ctx := context.Background()
	base := time.Now().UTC()

	first := newTestEvent("tenant-1", "prompt_delete", models.StatusSuccess, base)
	if _, err := engine.CheckEventAt(ctx, first, base); err != nil {
		t.Fatal(err)
	}

	// Second event lands after the first one aged out of the window.
	later := base.Add(10 * time.Minute)
	second := newTestEvent("tenant-1", "prompt_delete", models.StatusSuccess, later)
	result, err := engine.CheckEventAt(ctx, second, later)
	if err != nil {
		t.Fatal(err)
	}
	if result.AlertsTriggered != 0 {
		t.Fatalf("triggered %d alerts, want 0", result.AlertsTriggered)
	}
}

func TestCheckEventCooldown(t *testing.T) {
	store := newTestStorage(t)
	engine := NewEngine(store, Config{})
	defer engine.Close()

	rule := newTestRule(t, store, func(r *models.AlertRule) {
		r.CooldownMinutes = 30
	})

	ctx := context.Background()
	base := time.Now().UTC()

	fire := func(at time.Time) int {
		t.Helper()
		ev := newTestEvent("tenant-1", "prompt_delete", models.StatusSuccess, at)
		result, err := engine.CheckEventAt(ctx, ev, at)
		if err != nil {
			t.Fatal(err)
		}
		return result.AlertsTriggered
	}

	if got := fire(base); got != 1 {
		t.Fatalf("first event triggered %d alerts, want 1", got)
	}
	if got := fire(base.Add(10 * time.Minute)); got != 0 {
		t.Fatalf("event inside cooldown triggered %d alerts, want 0", got)
	}
	if got := fire(base.Add(31 * time.Minute)); got != 1 {
		t.Fatalf("event after cooldown triggered %d alerts, want 1", got)
	}

	fresh, err := store.Rules().GetByID(ctx, rule.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.TriggerCount != 2 {
		t.Errorf("trigger count = %d, want 2", fresh.TriggerCount)
	}
	if fresh.LastTriggeredAt == nil {
		t.Error("last triggered at not recorded")
	}
}

func TestCheckEventIdempotentPerEventID(t *testing.T) {
	store := newTestStorage(t)
	engine := NewEngine(store, Config{})
	defer engine.Close()

	newTestRule(t, store, func(r *models.AlertRule) {
		r.ThresholdCount = 2
		r.ThresholdWindowMinutes = 10
	})

	ctx := context.Background()
	now := time.Now().UTC()
	ev := newTestEvent("tenant-1", "prompt_delete", models.StatusSuccess, now)

	if _, err := engine.CheckEventAt(ctx, ev, now); err != nil {
		t.Fatal(err)
	}
	// Same event ID again: must not count twice or reach the threshold.
	result, err := engine.CheckEventAt(ctx, ev, now)
	if err != nil {
		t.Fatal(err)
	}
	if result.AlertsTriggered != 0 {
		t.Fatalf("resubmitted event triggered %d alerts, want 0", result.AlertsTriggered)
	}

	count, err := store.Events().CountMatching(ctx, "tenant-1", "prompt_delete", now.Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("stored %d events, want 1", count)
	}
}

func TestCheckEventUnknownIPGate(t *testing.T) {
	store := newTestStorage(t)
	engine := NewEngine(store, Config{})
	defer engine.Close()

	newTestRule(t, store, func(r *models.AlertRule) {
		r.TriggerOnUnknownIP = true
		r.AllowedIPs = []string{"10.0.0.1"}
	})

	ctx := context.Background()
	base := time.Now().UTC()

	known := newTestEvent("tenant-1", "prompt_delete", models.StatusSuccess, base)
	known.SourceIP = "10.0.0.1"
	result, err := engine.CheckEventAt(ctx, known, base)
	if err != nil {
		t.Fatal(err)
	}
	if result.AlertsTriggered != 0 {
		t.Fatalf("known IP triggered %d alerts, want 0", result.AlertsTriggered)
	}

	unknown := newTestEvent("tenant-1", "prompt_delete", models.StatusSuccess, base.Add(time.Second))
	unknown.SourceIP = "203.0.113.9"
	result, err = engine.CheckEventAt(ctx, unknown, base.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if result.AlertsTriggered != 1 {
		t.Fatalf("unknown IP triggered %d alerts, want 1", result.AlertsTriggered)
	}
}

func TestCheckEventOtherTenantUnaffected(t *testing.T) {
	store := newTestStorage(t)
	engine := NewEngine(store, Config{})
	defer engine.Close()

	newTestRule(t, store, nil)

	ctx := context.Background()
	now := time.Now().UTC()

	ev := newTestEvent("tenant-2", "prompt_delete", models.StatusSuccess, now)
	result, err := engine.CheckEventAt(ctx, ev, now)
	if err != nil {
		t.Fatal(err)
	}
	if result.AlertsTriggered != 0 {
		t.Fatalf("other tenant's event triggered %d alerts, want 0", result.AlertsTriggered)
	}
}

func TestDispatchRuleWebhook(t *testing.T) {
	store := newTestStorage(t)

	type received struct {
		body      []byte
		signature string
		eventType string
	}
	got := make(chan received, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- received{
			body:      body,
			signature: r.Header.Get("X-Webhook-Signature"),
			eventType: r.Header.Get("X-Webhook-Event"),
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	engine := NewEngine(store, Config{})
	rule := newTestRule(t, store, func(r *models.AlertRule) {
		r.NotifyWebhook = true
		r.WebhookURL = server.URL
		r.WebhookSecret = "s3cret"
	})

	ctx := context.Background()
	now := time.Now().UTC()
	ev := newTestEvent("tenant-1", "prompt_delete", models.StatusFailed, now)
	ev.SourceIP = "203.0.113.9"
	ev.Metadata = map[string]string{"prompt": "weekly-report"}

	result, err := engine.CheckEventAt(ctx, ev, now)
	if err != nil {
		t.Fatal(err)
	}
	if result.AlertsTriggered != 1 {
		t.Fatalf("triggered %d alerts, want 1", result.AlertsTriggered)
	}
	engine.Close() // waits for dispatch

	var req received
	select {
	case req = <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was never called")
	}

	if !webhook.VerifySignature("s3cret", req.body, req.signature) {
		t.Error("signature does not verify against the received body")
	}
	if req.eventType != "audit_alert" {
		t.Errorf("event type header = %q, want audit_alert", req.eventType)
	}

	var payload AlertPayload
	if err := json.Unmarshal(req.body, &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload.AlertID != result.AlertIDs[0] {
		t.Errorf("payload alert ID = %q, want %q", payload.AlertID, result.AlertIDs[0])
	}
	if payload.RuleID != rule.ID {
		t.Errorf("payload rule ID = %q, want %q", payload.RuleID, rule.ID)
	}
	if payload.AlertType != "audit_alert" {
		t.Errorf("payload alert type = %q", payload.AlertType)
	}
	if payload.Metadata["prompt"] != "weekly-report" {
		t.Errorf("payload metadata not carried through: %v", payload.Metadata)
	}

	alert, err := store.Alerts().GetByID(ctx, result.AlertIDs[0])
	if err != nil {
		t.Fatal(err)
	}
	if !alert.WebhookSent {
		t.Error("webhook outcome not recorded as sent")
	}
	if !strings.HasPrefix(alert.WebhookResponse, "200") {
		t.Errorf("webhook response = %q, want 200 prefix", alert.WebhookResponse)
	}
}

func TestDispatchWebhookFailureRecorded(t *testing.T) {
	store := newTestStorage(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	engine := NewEngine(store, Config{})
	newTestRule(t, store, func(r *models.AlertRule) {
		r.NotifyWebhook = true
		r.WebhookURL = server.URL
	})

	ctx := context.Background()
	now := time.Now().UTC()
	result, err := engine.CheckEventAt(ctx, newTestEvent("tenant-1", "prompt_delete", models.StatusSuccess, now), now)
	if err != nil {
		t.Fatal(err)
	}
	if result.AlertsTriggered != 1 {
		t.Fatalf("triggered %d alerts, want 1", result.AlertsTriggered)
	}
	engine.Close()

	alert, err := store.Alerts().GetByID(ctx, result.AlertIDs[0])
	if err != nil {
		t.Fatal(err)
	}
	if alert.WebhookSent {
		t.Error("failed webhook recorded as sent")
	}
	if !strings.HasPrefix(alert.WebhookResponse, "502") {
		t.Errorf("webhook response = %q, want 502 prefix", alert.WebhookResponse)
	}
}

func TestRenderTitle(t *testing.T) {
	got := renderTitle("Mass delete", "prompt_delete", 5)
	want := "Mass delete: 5 Prompt Delete events detected"
	if got != want {
		t.Errorf("renderTitle() = %q, want %q", got, want)
	}

	got = renderTitle("Login watch", "login_failed", 1)
	want = "Login watch: Login Failed detected"
	if got != want {
		t.Errorf("renderTitle() = %q, want %q", got, want)
	}
}
