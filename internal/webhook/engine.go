package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/promptlane/relay/internal/metrics"
	"github.com/promptlane/relay/internal/models"
	"github.com/promptlane/relay/internal/storage"
)

// Config holds webhook engine configuration.
type Config struct {
	Workers           int           // delivery worker count (default: NumCPU)
	QueueSize         int           // delivery queue buffer (default: workers*4)
	DeliveryTimeout   time.Duration // per-attempt timeout (default: 30s)
	TestTimeout       time.Duration // test delivery timeout (default: 10s)
	MaxPerSecond      float64       // outbound rate limit, 0 disables (default: 0)
	RetryPollInterval time.Duration // retry sweep interval (default: 15s)
	RetrySweepLimit   int           // max due deliveries per sweep (default: 100)
}

func (c *Config) applyDefaults() {
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = DefaultTimeout
	}
	if c.TestTimeout <= 0 {
		c.TestTimeout = TestTimeout
	}
	if c.RetryPollInterval <= 0 {
		c.RetryPollInterval = 15 * time.Second
	}
	if c.RetrySweepLimit <= 0 {
		c.RetrySweepLimit = 100
	}
}

// ErrNotRetryable marks manual retry requests against deliveries that
// are pending, in flight, or already delivered.
var ErrNotRetryable = errors.New("only failed or retrying deliveries can be retried")

// EventPayload is the wire envelope POSTed to subscriber endpoints.
type EventPayload struct {
	Event     models.WebhookEventType `json:"event"`
	Data      any                     `json:"data"`
	Timestamp time.Time               `json:"timestamp"`
}

// TriggerResult reports the outcome of a fan-out.
type TriggerResult struct {
	Matched     int      `json:"matched"`
	DeliveryIDs []string `json:"deliveryIds"`
}

// TestResult is the synchronous outcome of a connectivity test.
type TestResult struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"statusCode,omitempty"`
	Message    string `json:"message"`
	DeliveryID string `json:"deliveryId"`
}

// EngineStats tracks webhook engine statistics.
type EngineStats struct {
	DeliveriesEnqueued  atomic.Int64
	DeliveriesSucceeded atomic.Int64
	DeliveriesRetried   atomic.Int64
	DeliveriesFailed    atomic.Int64
}

// Engine fans audit events out to matching webhook subscriptions and
// drives each delivery through its retry state machine. Every attempt
// is recorded on a delivery row that the engine owns exclusively while
// it is in flight.
type Engine struct {
	subs       storage.SubscriptionRepository
	deliveries storage.DeliveryRepository
	sender     *Sender
	testSender *Sender
	pool       *WorkerPool
	limiter    *rate.Limiter
	config     Config
	stats      EngineStats
}

// NewEngine creates a webhook delivery engine.
func NewEngine(subs storage.SubscriptionRepository, deliveries storage.DeliveryRepository, config Config) *Engine {
	config.applyDefaults()

	e := &Engine{
		subs:       subs,
		deliveries: deliveries,
		sender:     NewSender(config.DeliveryTimeout),
		testSender: NewSender(config.TestTimeout),
		pool:       NewWorkerPool(config.Workers, config.QueueSize),
		config:     config,
	}
	if config.MaxPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(config.MaxPerSecond), int(config.MaxPerSecond)+1)
	}
	return e
}

// Start begins the delivery workers.
func (e *Engine) Start(ctx context.Context) {
	e.pool.Start(ctx, e.attempt)
}

// Close drains the delivery queue and waits for in-flight attempts.
func (e *Engine) Close() {
	e.pool.Close()
}

// Stats returns a snapshot of engine statistics.
func (e *Engine) Stats() map[string]int64 {
	return map[string]int64{
		"deliveries_enqueued":  e.stats.DeliveriesEnqueued.Load(),
		"deliveries_succeeded": e.stats.DeliveriesSucceeded.Load(),
		"deliveries_retried":   e.stats.DeliveriesRetried.Load(),
		"deliveries_failed":    e.stats.DeliveriesFailed.Load(),
	}
}

// Trigger creates one pending delivery per active subscription of the
// owner whose trigger flags include the event type, bumps each
// subscription's trigger counter, and enqueues the deliveries. It
// returns once the deliveries are queued, before any HTTP attempt.
func (e *Engine) Trigger(ctx context.Context, ownerID string, eventType models.WebhookEventType, data any) (*TriggerResult, error) {
	subs, err := e.subs.ListActiveByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	now := time.Now().UTC()
	body, err := json.Marshal(EventPayload{
		Event:     eventType,
		Data:      data,
		Timestamp: now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	result := &TriggerResult{}
	for _, sub := range subs {
		if !sub.TriggersOn(eventType) {
			continue
		}

		d := models.NewWebhookDelivery(sub, eventType, string(body))
		if err := e.deliveries.Create(ctx, d); err != nil {
			return result, fmt.Errorf("failed to create delivery: %w", err)
		}
		if err := e.subs.RecordTrigger(ctx, sub.ID, now); err != nil {
			log.Printf("webhook: failed to record trigger for %s: %v", sub.ID, err)
		}

		result.Matched++
		result.DeliveryIDs = append(result.DeliveryIDs, d.ID)
		e.enqueue(ctx, d)
	}

	return result, nil
}

// RetryDelivery re-enqueues a failed or retrying delivery immediately.
// The attempt count is preserved, so a delivery that already exhausted
// its retries fails terminally again after one more attempt.
func (e *Engine) RetryDelivery(ctx context.Context, ownerID, deliveryID string) (*models.WebhookDelivery, error) {
	d, err := e.deliveries.GetByID(ctx, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery: %w", err)
	}
	if d == nil || d.OwnerID != ownerID {
		return nil, nil
	}
	if d.Status != models.DeliveryFailed && d.Status != models.DeliveryRetrying {
		return nil, fmt.Errorf("delivery %s is %s: %w", d.ID, d.Status, ErrNotRetryable)
	}

	d.Status = models.DeliveryPending
	d.NextRetryAt = nil
	if err := e.deliveries.Update(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to update delivery: %w", err)
	}

	e.enqueue(ctx, d)
	return d, nil
}

// TestWebhook sends a test payload to the subscription's endpoint
// synchronously, with a short timeout and no retries. The attempt is
// recorded as a delivery row so it shows up in delivery history.
func (e *Engine) TestWebhook(ctx context.Context, ownerID, subscriptionID string) (*TestResult, error) {
	sub, err := e.subs.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	if sub == nil || sub.OwnerID != ownerID {
		return nil, nil
	}

	now := time.Now().UTC()
	body, err := json.Marshal(EventPayload{
		Event: models.EventTest,
		Data: map[string]string{
			"webhookId": sub.ID,
			"name":      sub.Name,
		},
		Timestamp: now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	d := models.NewWebhookDelivery(sub, models.EventTest, string(body))
	if err := e.deliveries.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to create delivery: %w", err)
	}

	d.AttemptCount = 1
	res, err := e.testSender.Post(ctx, sub.URL, []byte(d.Payload), e.buildHeaders(sub, d))

	result := &TestResult{DeliveryID: d.ID}
	finished := time.Now().UTC()
	switch {
	case err != nil:
		d.Status = models.DeliveryFailed
		d.ErrorMessage = err.Error()
		result.Message = fmt.Sprintf("delivery failed: %v", err)
	case res.Ok():
		d.Status = models.DeliverySuccess
		d.DeliveredAt = &finished
		e.captureResponse(d, res)
		result.Success = true
		result.StatusCode = res.StatusCode
		result.Message = fmt.Sprintf("endpoint responded with %d in %dms", res.StatusCode, res.Duration.Milliseconds())
	default:
		d.Status = models.DeliveryFailed
		d.ErrorMessage = fmt.Sprintf("endpoint returned status %d", res.StatusCode)
		e.captureResponse(d, res)
		result.StatusCode = res.StatusCode
		result.Message = d.ErrorMessage
	}

	if err := e.deliveries.Update(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to update delivery: %w", err)
	}
	return result, nil
}

// RunRetryPoller periodically sweeps deliveries whose nextRetryAt has
// passed and re-enqueues them. Blocks until the context is canceled.
func (e *Engine) RunRetryPoller(ctx context.Context) {
	ticker := time.NewTicker(e.config.RetryPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.sweepDueRetries(ctx); err != nil {
				log.Printf("webhook: retry sweep failed: %v", err)
			}
		}
	}
}

// sweepDueRetries moves due deliveries back to pending and enqueues
// them. Flipping the status before enqueueing keeps the next sweep
// from picking the same rows up again.
func (e *Engine) sweepDueRetries(ctx context.Context) error {
	due, err := e.deliveries.ListDueRetries(ctx, time.Now().UTC(), e.config.RetrySweepLimit)
	if err != nil {
		return fmt.Errorf("failed to list due retries: %w", err)
	}

	for _, d := range due {
		d.Status = models.DeliveryPending
		d.NextRetryAt = nil
		if err := e.deliveries.Update(ctx, d); err != nil {
			log.Printf("webhook: failed to claim delivery %s: %v", d.ID, err)
			continue
		}
		e.enqueue(ctx, d)
	}
	return nil
}

func (e *Engine) enqueue(ctx context.Context, d *models.WebhookDelivery) {
	if err := e.pool.Submit(ctx, d); err != nil {
		log.Printf("webhook: failed to enqueue delivery %s: %v", d.ID, err)
		return
	}
	e.stats.DeliveriesEnqueued.Add(1)
	metrics.WebhookQueueDepth.Set(float64(e.pool.Pending()))
}

// attempt performs one delivery attempt and applies the resulting
// state transition. Exactly one worker processes a given delivery at a
// time, so the row can be written without coordination.
func (e *Engine) attempt(ctx context.Context, d *models.WebhookDelivery) {
	defer metrics.WebhookQueueDepth.Set(float64(e.pool.Pending()))

	sub, err := e.subs.GetByID(ctx, d.WebhookID)
	if err != nil || sub == nil {
		d.Status = models.DeliveryFailed
		d.NextRetryAt = nil
		d.ErrorMessage = "subscription no longer exists"
		if err != nil {
			d.ErrorMessage = fmt.Sprintf("failed to load subscription: %v", err)
		}
		e.persist(ctx, d)
		e.stats.DeliveriesFailed.Add(1)
		metrics.WebhookDeliveriesTotal.WithLabelValues(string(models.DeliveryFailed)).Inc()
		return
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, e.config.DeliveryTimeout)
	res, err := e.sender.Post(attemptCtx, sub.URL, []byte(d.Payload), e.buildHeaders(sub, d))
	cancel()

	d.AttemptCount++
	now := time.Now().UTC()

	if err == nil && res.Ok() {
		d.Status = models.DeliverySuccess
		d.NextRetryAt = nil
		d.ErrorMessage = ""
		d.DeliveredAt = &now
		e.captureResponse(d, res)
		e.persist(ctx, d)

		if err := e.subs.RecordSuccess(ctx, sub.ID, now); err != nil {
			log.Printf("webhook: failed to record success for %s: %v", sub.ID, err)
		}
		e.stats.DeliveriesSucceeded.Add(1)
		metrics.WebhookDeliveriesTotal.WithLabelValues(string(models.DeliverySuccess)).Inc()
		metrics.WebhookDeliveryDuration.Observe(res.Duration.Seconds())
		return
	}

	e.handleFailure(ctx, d, sub, res, err, now)
}

// handleFailure applies the retry state machine after a failed attempt.
// The delay grows linearly with the attempt count.
func (e *Engine) handleFailure(ctx context.Context, d *models.WebhookDelivery, sub *models.WebhookSubscription, res *SendResult, attemptErr error, now time.Time) {
	if attemptErr != nil {
		d.ErrorMessage = attemptErr.Error()
		d.ResponseStatus = nil
		d.ResponseBody = ""
		d.ResponseTimeMS = nil
	} else {
		d.ErrorMessage = fmt.Sprintf("endpoint returned status %d", res.StatusCode)
		e.captureResponse(d, res)
		metrics.WebhookDeliveryDuration.Observe(res.Duration.Seconds())
	}

	if d.AttemptCount < sub.MaxRetries {
		next := now.Add(time.Duration(d.AttemptCount) * sub.RetryDelay())
		d.Status = models.DeliveryRetrying
		d.NextRetryAt = &next
		e.persist(ctx, d)
		e.stats.DeliveriesRetried.Add(1)
		metrics.WebhookDeliveriesTotal.WithLabelValues(string(models.DeliveryRetrying)).Inc()
		return
	}

	d.Status = models.DeliveryFailed
	d.NextRetryAt = nil
	e.persist(ctx, d)

	if err := e.subs.RecordFailure(ctx, sub.ID, now, d.ErrorMessage); err != nil {
		log.Printf("webhook: failed to record failure for %s: %v", sub.ID, err)
	}
	e.stats.DeliveriesFailed.Add(1)
	metrics.WebhookDeliveriesTotal.WithLabelValues(string(models.DeliveryFailed)).Inc()
}

func (e *Engine) persist(ctx context.Context, d *models.WebhookDelivery) {
	if err := e.deliveries.Update(ctx, d); err != nil {
		log.Printf("webhook: failed to update delivery %s: %v", d.ID, err)
	}
}

func (e *Engine) captureResponse(d *models.WebhookDelivery, res *SendResult) {
	status := res.StatusCode
	ms := res.Duration.Milliseconds()
	d.ResponseStatus = &status
	d.ResponseBody = res.Body
	d.ResponseTimeMS = &ms
}

// buildHeaders composes the outbound header set. Custom subscription
// headers are applied first so they can never shadow the signature,
// delivery ID, or event type headers.
func (e *Engine) buildHeaders(sub *models.WebhookSubscription, d *models.WebhookDelivery) map[string]string {
	headers := make(map[string]string, len(sub.Headers)+4)
	for key, value := range sub.Headers {
		headers[key] = value
	}
	headers["Content-Type"] = "application/json"
	headers[HeaderDeliveryID] = d.ID
	headers[HeaderEvent] = string(d.EventType)
	if sub.Secret != "" {
		headers[HeaderSignature] = Sign(sub.Secret, []byte(d.Payload))
	}
	return headers
}
