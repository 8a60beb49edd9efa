package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/promptlane/relay/internal/metrics"
	"github.com/promptlane/relay/internal/models"
	"github.com/promptlane/relay/internal/notifier"
	"github.com/promptlane/relay/internal/storage"
	"github.com/promptlane/relay/internal/webhook"
)

const (
	// alertTypeAudit is the alertType field of the alert webhook payload.
	alertTypeAudit = "audit_alert"

	// defaultEventListLimit caps how many event IDs are attached to one
	// alert record.
	defaultEventListLimit = 100

	// dispatchTimeout bounds the whole notification dispatch for one
	// alert, both channels included.
	dispatchTimeout = 90 * time.Second
)

// Config holds alerting engine configuration.
type Config struct {
	Messenger      notifier.Messenger       // direct-message channel, nil disables email
	RateLimit      notifier.RateLimitConfig // guards the direct-message channel
	WebhookTimeout time.Duration            // per-POST timeout for rule webhooks (default: 30s)
	EventListLimit int                      // max event IDs stored per alert (default: 100)
}

// CheckResult reports what one event evaluation triggered.
type CheckResult struct {
	AlertsTriggered int      `json:"alertsTriggered"`
	AlertIDs        []string `json:"alertIds"`
}

// EngineStats tracks alerting engine statistics.
type EngineStats struct {
	EventsEvaluated  atomic.Int64
	RulesMatched     atomic.Int64
	AlertsTriggered  atomic.Int64
	AlertsSuppressed atomic.Int64
	EmailsSent       atomic.Int64
	EmailsFailed     atomic.Int64
	WebhooksSent     atomic.Int64
	WebhooksFailed   atomic.Int64
}

// Engine runs every incoming audit event through the tenant's active
// rules, fires alerts, and dispatches notifications. Firing decisions
// for one rule are serialized; notification dispatch is asynchronous
// and never blocks or fails the caller that produced the event.
type Engine struct {
	events  storage.EventRepository
	rules   storage.RuleRepository
	alerts  storage.AlertRepository
	matcher *Matcher
	locks   *ruleLocks

	messenger notifier.Messenger
	limiter   *notifier.RateLimiter
	sender    *webhook.Sender

	eventListLimit int
	dispatches     sync.WaitGroup
	stats          EngineStats
}

// NewEngine creates an alerting engine over the given storage.
func NewEngine(store storage.Storage, config Config) *Engine {
	if config.WebhookTimeout <= 0 {
		config.WebhookTimeout = webhook.DefaultTimeout
	}
	if config.EventListLimit <= 0 {
		config.EventListLimit = defaultEventListLimit
	}
	if config.RateLimit.MaxPerWindow == 0 && config.RateLimit.Window == 0 {
		config.RateLimit = notifier.DefaultRateLimitConfig()
	}

	return &Engine{
		events:         store.Events(),
		rules:          store.Rules(),
		alerts:         store.Alerts(),
		matcher:        NewMatcher(),
		locks:          newRuleLocks(),
		messenger:      config.Messenger,
		limiter:        notifier.NewRateLimiter(config.RateLimit),
		sender:         webhook.NewSender(config.WebhookTimeout),
		eventListLimit: config.EventListLimit,
	}
}

// Close waits for in-flight notification dispatches to finish.
func (e *Engine) Close() {
	e.dispatches.Wait()
}

// Stats returns a snapshot of engine statistics.
func (e *Engine) Stats() map[string]int64 {
	return map[string]int64{
		"events_evaluated":  e.stats.EventsEvaluated.Load(),
		"rules_matched":     e.stats.RulesMatched.Load(),
		"alerts_triggered":  e.stats.AlertsTriggered.Load(),
		"alerts_suppressed": e.stats.AlertsSuppressed.Load(),
		"emails_sent":       e.stats.EmailsSent.Load(),
		"emails_failed":     e.stats.EmailsFailed.Load(),
		"webhooks_sent":     e.stats.WebhooksSent.Load(),
		"webhooks_failed":   e.stats.WebhooksFailed.Load(),
	}
}

// CheckEvent evaluates the event against the owner's active rules,
// fires any rules whose thresholds are met, and persists the event.
func (e *Engine) CheckEvent(ctx context.Context, event *models.AuditEvent) (*CheckResult, error) {
	return e.CheckEventAt(ctx, event, time.Now().UTC())
}

// CheckEventAt is CheckEvent with an injectable evaluation time.
//
// The event must not have been persisted yet: window counts add 1 for
// the event under evaluation and persist it afterwards, so it is
// counted exactly once. Re-submitting an already stored event ID is a
// no-op, which makes evaluation idempotent per event.
func (e *Engine) CheckEventAt(ctx context.Context, event *models.AuditEvent, now time.Time) (*CheckResult, error) {
	e.stats.EventsEvaluated.Add(1)
	metrics.EventsEvaluatedTotal.Inc()

	existing, err := e.events.GetByID(ctx, event.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check event: %w", err)
	}
	if existing != nil {
		return &CheckResult{}, nil
	}

	rules, err := e.rules.ListActiveByOwner(ctx, event.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	result := &CheckResult{}
	for _, rule := range rules {
		if !e.matcher.Matches(rule, event) {
			continue
		}
		e.stats.RulesMatched.Add(1)
		metrics.RulesMatchedTotal.Inc()

		alert, err := e.evaluateRule(ctx, rule.ID, event, now)
		if err != nil {
			log.Printf("alerting: rule %s evaluation failed: %v", rule.ID, err)
			continue
		}
		if alert != nil {
			result.AlertsTriggered++
			result.AlertIDs = append(result.AlertIDs, alert.ID)
		}
	}

	if err := e.events.Create(ctx, event); err != nil {
		return result, fmt.Errorf("failed to store event: %w", err)
	}
	return result, nil
}

// evaluateRule applies the cooldown gate, window threshold, and IP
// gate for one candidate rule, firing it when all pass. The rule is
// re-read under its lock so concurrent events observe each other's
// cooldown updates.
func (e *Engine) evaluateRule(ctx context.Context, ruleID string, event *models.AuditEvent, now time.Time) (*models.TriggeredAlert, error) {
	unlock := e.locks.lock(ruleID)
	defer unlock()

	rule, err := e.rules.GetByID(ctx, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload rule: %w", err)
	}
	if rule == nil || !rule.IsActive {
		return nil, nil
	}

	if rule.OnCooldown(now) {
		e.stats.AlertsSuppressed.Add(1)
		metrics.AlertsSuppressedTotal.Inc()
		return nil, nil
	}

	since := now.Add(-rule.WindowDuration())
	prior, err := e.events.CountMatching(ctx, event.OwnerID, event.Action, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	count := prior + 1

	if count < rule.ThresholdCount {
		return nil, nil
	}
	if !e.matcher.PassesIPGate(rule, event) {
		return nil, nil
	}

	return e.fire(ctx, rule, event, count, since, now)
}

// fire records the alert, bumps the rule's trigger state, and hands
// notifications to the dispatcher.
func (e *Engine) fire(ctx context.Context, rule *models.AlertRule, event *models.AuditEvent, count int, since, now time.Time) (*models.TriggeredAlert, error) {
	eventIDs, err := e.events.ListMatchingIDs(ctx, event.OwnerID, event.Action, since, e.eventListLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list matching events: %w", err)
	}
	eventIDs = append(eventIDs, event.ID)

	severity := ClassifySeverity(event.Status, count)
	alert := &models.TriggeredAlert{
		ID:         uuid.New().String(),
		RuleID:     rule.ID,
		OwnerID:    rule.OwnerID,
		RuleName:   rule.Name,
		Severity:   severity,
		Title:      renderTitle(rule.Name, event.Action, count),
		Message:    renderMessage(event, count, now),
		EventIDs:   eventIDs,
		EventCount: count,
		SourceIP:   event.SourceIP,
		CreatedAt:  now,
	}

	if err := e.alerts.Create(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to store alert: %w", err)
	}
	if err := e.rules.RecordTrigger(ctx, rule.ID, now); err != nil {
		return nil, fmt.Errorf("failed to record trigger: %w", err)
	}

	e.stats.AlertsTriggered.Add(1)
	metrics.AlertsTriggeredTotal.WithLabelValues(string(severity)).Inc()

	e.dispatches.Add(1)
	go e.dispatch(alert, rule, event.Metadata)

	return alert, nil
}

// dispatch attempts each configured notification channel and
// back-fills the outcome onto the alert record. Channel failures are
// recorded, never propagated; one channel failing does not stop the
// other.
func (e *Engine) dispatch(alert *models.TriggeredAlert, rule *models.AlertRule, metadata map[string]string) {
	defer e.dispatches.Done()

	// Detached from the originating request: delivery outlives it.
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	if rule.NotifyEmail {
		sent := e.sendEmail(ctx, alert)
		if err := e.alerts.SetEmailOutcome(ctx, alert.ID, sent); err != nil {
			log.Printf("alerting: failed to record email outcome for alert %s: %v", alert.ID, err)
		}
	}

	if rule.NotifyWebhook && rule.WebhookURL != "" {
		sent, response := e.sendRuleWebhook(ctx, alert, rule, metadata)
		if err := e.alerts.SetWebhookOutcome(ctx, alert.ID, sent, response); err != nil {
			log.Printf("alerting: failed to record webhook outcome for alert %s: %v", alert.ID, err)
		}
	}
}

func (e *Engine) sendEmail(ctx context.Context, alert *models.TriggeredAlert) bool {
	if e.messenger == nil {
		return false
	}
	if !e.limiter.Allow() {
		log.Printf("alerting: email for alert %s dropped by rate limiter", alert.ID)
		metrics.NotificationsTotal.WithLabelValues("email", "dropped").Inc()
		return false
	}

	if err := e.messenger.Send(ctx, alert.OwnerID, alert.Title, alert.Message); err != nil {
		e.limiter.Release()
		log.Printf("alerting: email for alert %s failed: %v", alert.ID, err)
		e.stats.EmailsFailed.Add(1)
		metrics.NotificationsTotal.WithLabelValues("email", "failure").Inc()
		return false
	}

	e.stats.EmailsSent.Add(1)
	metrics.NotificationsTotal.WithLabelValues("email", "success").Inc()
	return true
}

// AlertPayload is the wire payload POSTed to a rule's webhook URL.
type AlertPayload struct {
	AlertID    string            `json:"alertId"`
	RuleID     string            `json:"ruleId"`
	RuleName   string            `json:"ruleName"`
	AlertType  string            `json:"alertType"`
	Severity   models.Severity   `json:"severity"`
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	EventCount int               `json:"eventCount"`
	SourceIP   string            `json:"sourceIp,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// sendRuleWebhook POSTs the alert payload to the rule's webhook URL,
// signing the exact serialized body when a secret is configured. The
// returned response string is what gets recorded on the alert.
func (e *Engine) sendRuleWebhook(ctx context.Context, alert *models.TriggeredAlert, rule *models.AlertRule, metadata map[string]string) (bool, string) {
	body, err := json.Marshal(AlertPayload{
		AlertID:    alert.ID,
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		AlertType:  alertTypeAudit,
		Severity:   alert.Severity,
		Title:      alert.Title,
		Message:    alert.Message,
		EventCount: alert.EventCount,
		SourceIP:   alert.SourceIP,
		Timestamp:  alert.CreatedAt,
		Metadata:   metadata,
	})
	if err != nil {
		return false, fmt.Sprintf("payload marshal failed: %v", err)
	}

	headers := map[string]string{
		"Content-Type":      "application/json",
		webhook.HeaderEvent: alertTypeAudit,
	}
	if rule.WebhookSecret != "" {
		headers[webhook.HeaderSignature] = webhook.Sign(rule.WebhookSecret, body)
	}

	res, err := e.sender.Post(ctx, rule.WebhookURL, body, headers)
	if err != nil {
		log.Printf("alerting: webhook for alert %s failed: %v", alert.ID, err)
		e.stats.WebhooksFailed.Add(1)
		metrics.NotificationsTotal.WithLabelValues("webhook", "failure").Inc()
		return false, err.Error()
	}

	response := fmt.Sprintf("%d: %s", res.StatusCode, res.Body)
	if !res.Ok() {
		e.stats.WebhooksFailed.Add(1)
		metrics.NotificationsTotal.WithLabelValues("webhook", "failure").Inc()
		return false, response
	}

	e.stats.WebhooksSent.Add(1)
	metrics.NotificationsTotal.WithLabelValues("webhook", "success").Inc()
	return true, response
}

// renderTitle builds the alert title from the rule name, the action,
// and the matching event count.
func renderTitle(ruleName, action string, count int) string {
	label := actionLabel(action)
	if count > 1 {
		return fmt.Sprintf("%s: %d %s events detected", ruleName, count, label)
	}
	return fmt.Sprintf("%s: %s detected", ruleName, label)
}

// renderMessage builds the plain text alert body.
func renderMessage(event *models.AuditEvent, count int, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Action: %s\n", event.Action)
	if event.ResourceType != "" {
		fmt.Fprintf(&b, "Resource type: %s\n", event.ResourceType)
	}
	fmt.Fprintf(&b, "Status: %s\n", event.Status)
	fmt.Fprintf(&b, "Event count: %d\n", count)
	if event.SourceIP != "" {
		fmt.Fprintf(&b, "Source IP: %s\n", event.SourceIP)
	}
	fmt.Fprintf(&b, "Time: %s\n", now.Format(time.RFC3339))
	return b.String()
}

// actionLabel turns an action like "prompt_export_failed" into
// "Prompt Export Failed".
func actionLabel(action string) string {
	words := strings.Split(action, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
