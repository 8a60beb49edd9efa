package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/promptlane/relay/internal/models"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	store := NewSQLiteStorage(filepath.Join(t.TempDir(), "relay.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("failed to migrate storage: %v", err)
	}
	return store
}

func TestRuleRoundTrip(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	rule := models.NewAlertRule("tenant-1", "Suspicious deletes", []string{"prompt_delete", "prompt_update"})
	rule.ID = uuid.New().String()
	rule.Description = "watch bulk cleanup"
	rule.TriggerResourceTypes = []string{"prompt"}
	rule.TriggerStatuses = []string{"success", "failed"}
	rule.ThresholdCount = 3
	rule.ThresholdWindowMinutes = 15
	rule.TriggerOnUnknownIP = true
	rule.AllowedIPs = []string{"10.0.0.1", "10.0.0.2"}
	rule.CooldownMinutes = 30
	rule.NotifyWebhook = true
	rule.WebhookURL = "https://hooks.example.com/r1"
	rule.WebhookSecret = "s3cret"

	if err := store.Rules().Create(ctx, rule); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	got, err := store.Rules().GetByID(ctx, rule.ID)
	if err != nil {
		t.Fatalf("get rule: %v", err)
	}
	if got == nil {
		t.Fatal("rule not found after create")
	}
	if got.Name != rule.Name || got.Description != rule.Description {
		t.Errorf("got name %q description %q", got.Name, got.Description)
	}
	if len(got.TriggerActions) != 2 || got.TriggerActions[0] != "prompt_delete" {
		t.Errorf("trigger actions = %v", got.TriggerActions)
	}
	if len(got.AllowedIPs) != 2 || !got.TriggerOnUnknownIP {
		t.Errorf("ip gate = %v / %v", got.TriggerOnUnknownIP, got.AllowedIPs)
	}
	if got.WebhookSecret != "s3cret" {
		t.Errorf("webhook secret = %q", got.WebhookSecret)
	}
	if got.LastTriggeredAt != nil {
		t.Errorf("fresh rule has last_triggered_at = %v", got.LastTriggeredAt)
	}

	got.Name = "Renamed"
	got.IsActive = false
	got.UpdatedAt = time.Now()
	if err := store.Rules().Update(ctx, got); err != nil {
		t.Fatalf("update rule: %v", err)
	}

	updated, err := store.Rules().GetByID(ctx, rule.ID)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Name != "Renamed" || updated.IsActive {
		t.Errorf("update not persisted: name=%q active=%v", updated.Name, updated.IsActive)
	}

	if err := store.Rules().Delete(ctx, rule.ID); err != nil {
		t.Fatalf("delete rule: %v", err)
	}
	gone, err := store.Rules().GetByID(ctx, rule.ID)
	if err != nil {
		t.Fatal(err)
	}
	if gone != nil {
		t.Error("rule still readable after delete")
	}
	if err := store.Rules().Delete(ctx, rule.ID); err == nil {
		t.Error("deleting a missing rule should error")
	}
}

func TestRuleGetMissingReturnsNil(t *testing.T) {
	store := newTestStorage(t)

	got, err := store.Rules().GetByID(context.Background(), uuid.New().String())
	if err != nil {
		t.Fatalf("get missing rule: %v", err)
	}
	if got != nil {
		t.Errorf("got = %+v, want nil", got)
	}
}

func TestRuleRecordTrigger(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	rule := models.NewAlertRule("tenant-1", "r", []string{"login"})
	rule.ID = uuid.New().String()
	if err := store.Rules().Create(ctx, rule); err != nil {
		t.Fatal(err)
	}

	first := time.Now().Add(-time.Minute).Truncate(time.Second)
	second := time.Now().Truncate(time.Second)
	if err := store.Rules().RecordTrigger(ctx, rule.ID, first); err != nil {
		t.Fatal(err)
	}
	if err := store.Rules().RecordTrigger(ctx, rule.ID, second); err != nil {
		t.Fatal(err)
	}

	got, err := store.Rules().GetByID(ctx, rule.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TriggerCount != 2 {
		t.Errorf("trigger count = %d, want 2", got.TriggerCount)
	}
	if got.LastTriggeredAt == nil || !got.LastTriggeredAt.Equal(second) {
		t.Errorf("last triggered = %v, want %v", got.LastTriggeredAt, second)
	}
}

func TestRuleListActiveByOwner(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	for _, tc := range []struct {
		owner  string
		name   string
		active bool
	}{
		{"tenant-1", "b active", true},
		{"tenant-1", "a inactive", false},
		{"tenant-2", "other tenant", true},
	} {
		rule := models.NewAlertRule(tc.owner, tc.name, []string{"login"})
		rule.ID = uuid.New().String()
		rule.IsActive = tc.active
		if err := store.Rules().Create(ctx, rule); err != nil {
			t.Fatal(err)
		}
	}

	all, err := store.Rules().ListByOwner(ctx, "tenant-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("listed %d rules, want 2", len(all))
	}
	// Ordered by name.
	if all[0].Name != "a inactive" {
		t.Errorf("first rule = %q, want name ordering", all[0].Name)
	}

	active, err := store.Rules().ListActiveByOwner(ctx, "tenant-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].Name != "b active" {
		t.Fatalf("active rules = %v", active)
	}
}

func TestEventCountAndListMatching(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	now := time.Now()

	mk := func(owner, action string, age time.Duration) *models.AuditEvent {
		e := models.NewAuditEvent(owner, action, "prompt", models.StatusSuccess)
		e.CreatedAt = now.Add(-age)
		if err := store.Events().Create(ctx, e); err != nil {
			t.Fatal(err)
		}
		return e
	}

	recent := mk("tenant-1", "prompt_delete", 2*time.Minute)
	older := mk("tenant-1", "prompt_delete", 8*time.Minute)
	mk("tenant-1", "prompt_delete", time.Hour)   // outside window
	mk("tenant-1", "prompt_create", time.Minute) // different action
	mk("tenant-2", "prompt_delete", time.Minute) // different owner

	since := now.Add(-10 * time.Minute)
	count, err := store.Events().CountMatching(ctx, "tenant-1", "prompt_delete", since)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	ids, err := store.Events().ListMatchingIDs(ctx, "tenant-1", "prompt_delete", since, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != recent.ID || ids[1] != older.ID {
		t.Errorf("ids = %v, want [%s %s] newest first", ids, recent.ID, older.ID)
	}

	ids, err = store.Events().ListMatchingIDs(ctx, "tenant-1", "prompt_delete", since, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != recent.ID {
		t.Errorf("limited ids = %v", ids)
	}
}

func TestEventRoundTripAndMetadata(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	e := models.NewAuditEvent("tenant-1", "prompt_export", "prompt", models.StatusFailed)
	e.SourceIP = "203.0.113.9"
	e.UserAgent = "relay-test/1.0"
	e.Metadata = map[string]string{"prompt_id": "p-1", "format": "json"}
	if err := store.Events().Create(ctx, e); err != nil {
		t.Fatal(err)
	}

	got, err := store.Events().GetByID(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("event not found")
	}
	if got.Status != models.StatusFailed || got.SourceIP != e.SourceIP {
		t.Errorf("got status %q ip %q", got.Status, got.SourceIP)
	}
	if got.Metadata["prompt_id"] != "p-1" || got.Metadata["format"] != "json" {
		t.Errorf("metadata = %v", got.Metadata)
	}

	missing, err := store.Events().GetByID(ctx, uuid.New().String())
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Error("missing event should be nil, nil")
	}
}

func TestEventListByOwnerPagination(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 5; i++ {
		e := models.NewAuditEvent("tenant-1", "login", "", models.StatusSuccess)
		e.CreatedAt = now.Add(-time.Duration(i) * time.Minute)
		if err := store.Events().Create(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	page, total, err := store.Events().ListByOwner(ctx, "tenant-1", 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(page) != 2 {
		t.Fatalf("page size = %d, want 2", len(page))
	}
	if page[0].CreatedAt.Before(page[1].CreatedAt) {
		t.Error("events not ordered newest first")
	}

	_, total, err = store.Events().ListByOwner(ctx, "tenant-2", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 {
		t.Errorf("foreign tenant total = %d, want 0", total)
	}
}

func TestEventDeleteBefore(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	now := time.Now()

	old := models.NewAuditEvent("tenant-1", "login", "", models.StatusSuccess)
	old.CreatedAt = now.Add(-48 * time.Hour)
	fresh := models.NewAuditEvent("tenant-1", "login", "", models.StatusSuccess)
	for _, e := range []*models.AuditEvent{old, fresh} {
		if err := store.Events().Create(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	deleted, err := store.Events().DeleteBefore(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	gone, err := store.Events().GetByID(ctx, old.ID)
	if err != nil {
		t.Fatal(err)
	}
	if gone != nil {
		t.Error("old event survived prune")
	}
	kept, err := store.Events().GetByID(ctx, fresh.ID)
	if err != nil {
		t.Fatal(err)
	}
	if kept == nil {
		t.Error("fresh event was pruned")
	}
}

func TestAlertAcknowledge(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	alert := &models.TriggeredAlert{
		ID:         uuid.New().String(),
		RuleID:     uuid.New().String(),
		OwnerID:    "tenant-1",
		RuleName:   "Suspicious deletes",
		Severity:   models.SeverityHigh,
		Title:      "Suspicious deletes: Prompt Delete detected",
		Message:    "details",
		EventIDs:   []string{uuid.New().String()},
		EventCount: 1,
		CreatedAt:  time.Now(),
	}
	if err := store.Alerts().Create(ctx, alert); err != nil {
		t.Fatalf("create alert: %v", err)
	}

	at := time.Now().Truncate(time.Second)
	if err := store.Alerts().Acknowledge(ctx, alert.ID, "oncall", "expected", at); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}

	got, err := store.Alerts().GetByID(ctx, alert.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Acknowledged || got.AcknowledgedBy != "oncall" || got.AckNote != "expected" {
		t.Errorf("ack state = %+v", got)
	}
	if got.AcknowledgedAt == nil || !got.AcknowledgedAt.Equal(at) {
		t.Errorf("acknowledged_at = %v, want %v", got.AcknowledgedAt, at)
	}
	if len(got.EventIDs) != 1 {
		t.Errorf("event ids = %v", got.EventIDs)
	}
}

func TestAlertChannelOutcomes(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	alert := &models.TriggeredAlert{
		ID:        uuid.New().String(),
		RuleID:    uuid.New().String(),
		OwnerID:   "tenant-1",
		RuleName:  "r",
		Severity:  models.SeverityLow,
		Title:     "t",
		Message:   "m",
		CreatedAt: time.Now(),
	}
	if err := store.Alerts().Create(ctx, alert); err != nil {
		t.Fatal(err)
	}

	if err := store.Alerts().SetEmailOutcome(ctx, alert.ID, true); err != nil {
		t.Fatal(err)
	}
	if err := store.Alerts().SetWebhookOutcome(ctx, alert.ID, true, "200: ok"); err != nil {
		t.Fatal(err)
	}

	got, err := store.Alerts().GetByID(ctx, alert.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.EmailSent || !got.WebhookSent || got.WebhookResponse != "200: ok" {
		t.Errorf("outcomes = email %v webhook %v response %q",
			got.EmailSent, got.WebhookSent, got.WebhookResponse)
	}
}

func TestAlertListByRule(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	ruleA := uuid.New().String()
	ruleB := uuid.New().String()
	for i, ruleID := range []string{ruleA, ruleA, ruleB} {
		alert := &models.TriggeredAlert{
			ID:        uuid.New().String(),
			RuleID:    ruleID,
			OwnerID:   "tenant-1",
			RuleName:  "r",
			Severity:  models.SeverityLow,
			Title:     "t",
			Message:   "m",
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := store.Alerts().Create(ctx, alert); err != nil {
			t.Fatal(err)
		}
	}

	byRule, total, err := store.Alerts().ListByRule(ctx, ruleA, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(byRule) != 2 {
		t.Fatalf("rule A alerts = %d (total %d), want 2", len(byRule), total)
	}

	byOwner, total, err := store.Alerts().ListByOwner(ctx, "tenant-1", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(byOwner) != 3 {
		t.Fatalf("owner alerts = %d (total %d), want 3", len(byOwner), total)
	}
}

func TestSubscriptionCounters(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	sub := models.NewWebhookSubscription("tenant-1", "export hook", "https://hooks.example.com/1")
	sub.ID = uuid.New().String()
	sub.OnExportComplete = true
	sub.Headers = map[string]string{"X-Env": "test"}
	if err := store.Subscriptions().Create(ctx, sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}

	now := time.Now().Truncate(time.Second)
	if err := store.Subscriptions().RecordTrigger(ctx, sub.ID, now); err != nil {
		t.Fatal(err)
	}
	if err := store.Subscriptions().RecordSuccess(ctx, sub.ID, now); err != nil {
		t.Fatal(err)
	}
	if err := store.Subscriptions().RecordFailure(ctx, sub.ID, now, "endpoint returned status 502"); err != nil {
		t.Fatal(err)
	}

	got, err := store.Subscriptions().GetByID(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalTriggers != 1 || got.SuccessCount != 1 || got.FailureCount != 1 {
		t.Errorf("counters = triggers %d success %d failure %d",
			got.TotalTriggers, got.SuccessCount, got.FailureCount)
	}
	if got.LastErrorMessage != "endpoint returned status 502" {
		t.Errorf("last error = %q", got.LastErrorMessage)
	}
	if got.Headers["X-Env"] != "test" {
		t.Errorf("headers = %v", got.Headers)
	}
	if got.LastSuccessAt == nil || got.LastFailureAt == nil || got.LastTriggeredAt == nil {
		t.Error("counter timestamps not recorded")
	}
}

func TestSubscriptionListActiveByOwner(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	active := models.NewWebhookSubscription("tenant-1", "active", "https://hooks.example.com/a")
	active.ID = uuid.New().String()
	inactive := models.NewWebhookSubscription("tenant-1", "inactive", "https://hooks.example.com/b")
	inactive.ID = uuid.New().String()
	inactive.IsActive = false
	foreign := models.NewWebhookSubscription("tenant-2", "foreign", "https://hooks.example.com/c")
	foreign.ID = uuid.New().String()

	for _, s := range []*models.WebhookSubscription{active, inactive, foreign} {
		if err := store.Subscriptions().Create(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	subs, err := store.Subscriptions().ListActiveByOwner(ctx, "tenant-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 1 || subs[0].ID != active.ID {
		t.Fatalf("active subs = %v", subs)
	}
}

func TestDeliveryUpdateTransitions(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	sub := models.NewWebhookSubscription("tenant-1", "hook", "https://hooks.example.com/1")
	sub.ID = uuid.New().String()
	if err := store.Subscriptions().Create(ctx, sub); err != nil {
		t.Fatal(err)
	}

	d := models.NewWebhookDelivery(sub, models.EventExportComplete, `{"exportId":"42"}`)
	if err := store.Deliveries().Create(ctx, d); err != nil {
		t.Fatalf("create delivery: %v", err)
	}

	next := time.Now().Add(time.Minute).Truncate(time.Second)
	status := 502
	rt := int64(120)
	d.Status = models.DeliveryRetrying
	d.AttemptCount = 1
	d.ResponseStatus = &status
	d.ResponseBody = "bad gateway"
	d.ResponseTimeMS = &rt
	d.NextRetryAt = &next
	d.ErrorMessage = "endpoint returned status 502"
	if err := store.Deliveries().Update(ctx, d); err != nil {
		t.Fatalf("update delivery: %v", err)
	}

	got, err := store.Deliveries().GetByID(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.DeliveryRetrying || got.AttemptCount != 1 {
		t.Errorf("state = %s attempts %d", got.Status, got.AttemptCount)
	}
	if got.ResponseStatus == nil || *got.ResponseStatus != 502 {
		t.Errorf("response status = %v", got.ResponseStatus)
	}
	if got.NextRetryAt == nil || !got.NextRetryAt.Equal(next) {
		t.Errorf("next retry = %v, want %v", got.NextRetryAt, next)
	}

	now := time.Now().Truncate(time.Second)
	ok := 200
	got.Status = models.DeliverySuccess
	got.AttemptCount = 2
	got.ResponseStatus = &ok
	got.NextRetryAt = nil
	got.ErrorMessage = ""
	got.DeliveredAt = &now
	if err := store.Deliveries().Update(ctx, got); err != nil {
		t.Fatal(err)
	}

	final, err := store.Deliveries().GetByID(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != models.DeliverySuccess || final.NextRetryAt != nil || final.ErrorMessage != "" {
		t.Errorf("final state = %+v", final)
	}
	if final.DeliveredAt == nil || !final.DeliveredAt.Equal(now) {
		t.Errorf("delivered_at = %v, want %v", final.DeliveredAt, now)
	}
}

func TestDeliveryListDueRetries(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	now := time.Now()

	sub := models.NewWebhookSubscription("tenant-1", "hook", "https://hooks.example.com/1")
	sub.ID = uuid.New().String()
	if err := store.Subscriptions().Create(ctx, sub); err != nil {
		t.Fatal(err)
	}

	mk := func(status models.DeliveryStatus, retryAt *time.Time) *models.WebhookDelivery {
		d := models.NewWebhookDelivery(sub, models.EventExportComplete, "{}")
		d.Status = status
		d.NextRetryAt = retryAt
		if err := store.Deliveries().Create(ctx, d); err != nil {
			t.Fatal(err)
		}
		return d
	}

	late := now.Add(-2 * time.Minute)
	later := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	dueOld := mk(models.DeliveryRetrying, &late)
	dueNew := mk(models.DeliveryRetrying, &later)
	mk(models.DeliveryRetrying, &future)
	mk(models.DeliveryFailed, &late)
	mk(models.DeliveryPending, nil)

	due, err := store.Deliveries().ListDueRetries(ctx, now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 2 {
		t.Fatalf("due = %d deliveries, want 2", len(due))
	}
	// Oldest next_retry_at first.
	if due[0].ID != dueOld.ID || due[1].ID != dueNew.ID {
		t.Errorf("due order = [%s %s]", due[0].ID, due[1].ID)
	}

	due, err = store.Deliveries().ListDueRetries(ctx, now, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ID != dueOld.ID {
		t.Errorf("limited due = %v", due)
	}
}

func TestDeliveryListByWebhookAndOwner(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	subA := models.NewWebhookSubscription("tenant-1", "a", "https://hooks.example.com/a")
	subA.ID = uuid.New().String()
	subB := models.NewWebhookSubscription("tenant-1", "b", "https://hooks.example.com/b")
	subB.ID = uuid.New().String()
	for _, s := range []*models.WebhookSubscription{subA, subB} {
		if err := store.Subscriptions().Create(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	for _, s := range []*models.WebhookSubscription{subA, subA, subB} {
		d := models.NewWebhookDelivery(s, models.EventShareAccess, "{}")
		if err := store.Deliveries().Create(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	byHook, total, err := store.Deliveries().ListByWebhook(ctx, subA.ID, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(byHook) != 2 {
		t.Fatalf("webhook deliveries = %d (total %d), want 2", len(byHook), total)
	}

	byOwner, total, err := store.Deliveries().ListByOwner(ctx, "tenant-1", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(byOwner) != 3 {
		t.Fatalf("owner deliveries = %d (total %d), want 3", len(byOwner), total)
	}
}
