package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Dispatcher is the Webhook Service: the public façade in front of
// the Registry, Queue, Deliverer, and History Store (§4.5).
type Dispatcher struct {
	registry   *Registry
	queue      *Queue
	deliverer  *Deliverer
	history    *HistoryStore
	cache      *SubscriptionCache
	retryPolicy RetryPolicy
	hooks      Hooks

	rateLimiter     *RateLimiter
	circuitBreaker  *CircuitBreaker
	metrics         *Metrics

	logger *slog.Logger
}

type DispatcherOption func(*Dispatcher)

func WithCache(cache *SubscriptionCache) DispatcherOption {
	return func(d *Dispatcher) { d.cache = cache }
}

func WithHooks(hooks Hooks) DispatcherOption {
	return func(d *Dispatcher) {
		if hooks != nil {
			d.hooks = hooks
		}
	}
}

func WithRateLimiter(rl *RateLimiter) DispatcherOption {
	return func(d *Dispatcher) { d.rateLimiter = rl }
}

func WithCircuitBreaker(cb *CircuitBreaker) DispatcherOption {
	return func(d *Dispatcher) { d.circuitBreaker = cb }
}

func WithMetrics(m *Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

func NewDispatcher(registry *Registry, queue *Queue, deliverer *Deliverer, history *HistoryStore, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		registry:    registry,
		queue:       queue,
		deliverer:   deliverer,
		history:     history,
		retryPolicy: DefaultRetryPolicy(),
		hooks:       NoopHooks{},
		logger:      logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	queue.SetProcessor(d)
	queue.SetDeliveryLogger(d)
	queue.SetRetryPolicy(d.retryPolicy)
	return d
}

// Dispatch queries the registry for active subscribers of event,
// builds one job per subscriber, and enqueues them. It never touches
// the network and returns as soon as the jobs are queued.
func (d *Dispatcher) Dispatch(ctx context.Context, event string, data interface{}, opts *DispatchOptions) (int, error) {
	var subscribers []Webhook
	var err error
	if d.cache != nil {
		subscribers, err = d.cache.FindActiveForEvent(ctx, event)
	} else {
		subscribers, err = d.registry.FindActiveForEvent(event)
	}
	if err != nil {
		return 0, err
	}

	maxAttempts := DefaultMaxAttempts
	initialDelay := int64(DefaultInitialDelayMs)
	multiplier := float64(DefaultBackoffMultiplier)
	timeoutMs := int64(DefaultTimeoutMs)
	if opts != nil {
		if opts.MaxAttempts > 0 {
			maxAttempts = opts.MaxAttempts
		}
		if opts.InitialDelayMs > 0 {
			initialDelay = opts.InitialDelayMs
		}
		if opts.BackoffMultiplier > 0 {
			multiplier = opts.BackoffMultiplier
		}
		if opts.TimeoutMs > 0 {
			timeoutMs = opts.TimeoutMs
		}
	}

	now := time.Now()
	for _, sub := range subscribers {
		job := DeliveryJob{
			DeliveryID:        uuid.NewString(),
			WebhookID:         sub.ID,
			Event:             event,
			Data:              data,
			Attempt:           1,
			MaxAttempts:       maxAttempts,
			InitialDelayMs:    initialDelay,
			BackoffMultiplier: multiplier,
			TimeoutMs:         timeoutMs,
			Priority:          DefaultPriority,
			ScheduledFor:      now,
		}
		d.queue.Enqueue(job)
	}
	return len(subscribers), nil
}

// ProcessJob implements Processor: it is the Queue's worker callback.
func (d *Dispatcher) ProcessJob(ctx context.Context, job DeliveryJob) error {
	jobStart := time.Now()

	wh, err := d.registry.GetByID(job.WebhookID)
	if err != nil {
		if IsNotFound(err) {
			d.logger.Info("webhook deleted mid-flight, dropping job",
				slog.Uint64("webhookId", uint64(job.WebhookID)), slog.String("deliveryId", job.DeliveryID))
			return nil
		}
		return err
	}

	if d.rateLimiter != nil {
		d.rateLimiter.Sync(*wh)
	}
	if blocked, reason := d.preflightBlocked(wh.ID); blocked {
		// A blocked attempt is a transient failure: no HTTP call is made,
		// and the job is retried under the normal budget and backoff.
		d.logger.Warn("delivery attempt blocked before send",
			slog.String("deliveryId", job.DeliveryID), slog.String("kind", reason))
		if !IsFinalFailure(job.Attempt, job.MaxAttempts) {
			policy := RetryPolicy{InitialDelayMs: job.InitialDelayMs, BackoffMultiplier: job.BackoffMultiplier}
			d.queue.ScheduleRetry(job, policy.CalculateDelay(job.Attempt))
		}
		return nil
	}

	data := d.hooks.BeforeSend(ctx, job, job.Data)
	payload := WebhookPayload{
		Event:      job.Event,
		Timestamp:  jobStart.UnixMilli(),
		DeliveryID: job.DeliveryID,
		Data:       data,
	}

	headers := d.decodeHeaders(wh)
	result := d.deliverer.Deliver(ctx, wh, payload, job.Attempt, job.TimeoutMs, headers)

	if d.circuitBreaker != nil {
		if result.Success {
			d.circuitBreaker.RecordSuccess(wh.ID)
		} else {
			d.circuitBreaker.RecordFailure(wh.ID)
		}
	}
	if d.metrics != nil {
		d.metrics.RecordAttempt(wh.ID, result)
	}

	d.persist(job, result, jobStart)
	d.hooks.AfterSend(ctx, job, result)

	d.scheduleOrFinalize(job, result, jobStart, wh.ID)
	return nil
}

// preflightBlocked checks the optional rate limiter and circuit
// breaker before any HTTP call is made.
func (d *Dispatcher) preflightBlocked(webhookID uint) (bool, string) {
	if d.rateLimiter != nil && !d.rateLimiter.Allow(webhookID) {
		if d.metrics != nil {
			d.metrics.RecordRateLimited(webhookID)
		}
		return true, "rate_limited"
	}
	if d.circuitBreaker != nil && !d.circuitBreaker.Allow(webhookID) {
		if d.metrics != nil {
			d.metrics.RecordCircuitOpen(webhookID)
		}
		return true, "circuit_open"
	}
	return false, ""
}

func (d *Dispatcher) decodeHeaders(wh *Webhook) map[string]string {
	if wh.Headers == "" {
		return nil
	}
	var headers map[string]string
	if err := json.Unmarshal([]byte(wh.Headers), &headers); err != nil {
		d.logger.Warn("corrupt headers JSON, ignoring", slog.Uint64("webhookId", uint64(wh.ID)))
		return nil
	}
	return headers
}

func (d *Dispatcher) persist(job DeliveryJob, result AttemptResult, jobStart time.Time) {
	record := DeliveryRecord{
		ID:          job.DeliveryID,
		WebhookID:   job.WebhookID,
		Event:       job.Event,
		Success:     result.Success,
		Attempt:     job.Attempt,
		DurationMs:  result.DurationMs,
		CreatedAt:   jobStart,
		CompletedAt: &result.CompletedAt,
	}
	if result.StatusCode != 0 {
		sc := result.StatusCode
		record.StatusCode = &sc
	}
	if result.Response != "" {
		resp := result.Response
		record.Response = &resp
	}
	if result.ErrorMessage != "" {
		msg := result.ErrorMessage
		record.Error = &msg
	}
	if err := d.history.Record(record); err != nil {
		d.logger.Error("failed to persist delivery record", slog.String("deliveryId", job.DeliveryID), slog.Any("error", err))
	}
}

func (d *Dispatcher) scheduleOrFinalize(job DeliveryJob, result AttemptResult, jobStart time.Time, webhookID uint) {
	if result.Success {
		return
	}
	if !ShouldRetry(result.StatusCode, result.ErrorMessage) {
		return
	}
	if IsFinalFailure(job.Attempt, job.MaxAttempts) {
		return
	}
	policy := RetryPolicy{InitialDelayMs: job.InitialDelayMs, BackoffMultiplier: job.BackoffMultiplier}
	delay := policy.CalculateDelay(job.Attempt)
	d.queue.ScheduleRetry(job, delay)
}

// LogFailedJob implements DeliveryLogger: the Queue's fallback path
// for a job whose processor invocation escaped with an unhandled
// error (a bug, not an HTTP failure).
func (d *Dispatcher) LogFailedJob(job DeliveryJob, cause error) {
	now := time.Now()
	msg := cause.Error()
	record := DeliveryRecord{
		ID:          job.DeliveryID,
		WebhookID:   job.WebhookID,
		Event:       job.Event,
		Success:     false,
		Attempt:     job.Attempt,
		Error:       &msg,
		CreatedAt:   now,
		CompletedAt: &now,
	}
	if err := d.history.Record(record); err != nil {
		d.logger.Error("failed to persist fallback delivery record", slog.String("deliveryId", job.DeliveryID), slog.Any("error", err))
	}
}

// Test performs a single synchronous delivery attempt, bypassing the
// queue entirely. It never retries, even on a transient failure.
func (d *Dispatcher) Test(ctx context.Context, webhookID uint, event string, data interface{}) (TestResult, error) {
	wh, err := d.registry.GetByID(webhookID)
	if err != nil {
		return TestResult{}, err
	}

	deliveryID := uuid.NewString()
	now := time.Now()
	payload := WebhookPayload{
		Event:      event,
		Timestamp:  now.UnixMilli(),
		DeliveryID: deliveryID,
		Data:       data,
	}
	headers := d.decodeHeaders(wh)
	result := d.deliverer.Deliver(ctx, wh, payload, 1, DefaultTimeoutMs, headers)

	d.persist(DeliveryJob{DeliveryID: deliveryID, WebhookID: webhookID, Event: event, Attempt: 1}, result, now)

	return TestResult{
		DeliveryID: deliveryID,
		Success:    result.Success,
		StatusCode: result.StatusCode,
		Error:      result.ErrorMessage,
		DurationMs: result.DurationMs,
	}, nil
}

// CreateWebhook, UpdateWebhook, and DeleteWebhook pass through to the
// registry and then invalidate the subscription cache, since any of
// them may change which webhooks match a given event.
func (d *Dispatcher) CreateWebhook(ctx context.Context, input CreateWebhookInput) (*Webhook, error) {
	wh, err := d.registry.Create(input)
	if err == nil && d.cache != nil {
		d.cache.Invalidate(ctx)
	}
	return wh, err
}

func (d *Dispatcher) UpdateWebhook(ctx context.Context, id uint, patch UpdateWebhookInput) (*Webhook, error) {
	wh, err := d.registry.Update(id, patch)
	if err == nil && d.cache != nil {
		d.cache.Invalidate(ctx)
	}
	return wh, err
}

func (d *Dispatcher) DeleteWebhook(ctx context.Context, id uint) error {
	err := d.registry.Delete(id)
	if err == nil && d.cache != nil {
		d.cache.Invalidate(ctx)
	}
	return err
}

func (d *Dispatcher) GetWebhook(id uint) (*Webhook, error) {
	return d.registry.GetByID(id)
}

func (d *Dispatcher) ListWebhooks(filter QueryFilter) ([]Webhook, int64, error) {
	return d.registry.Query(filter)
}

func (d *Dispatcher) GetDeliveries(webhookID uint, page, limit int) ([]DeliveryRecord, int64, error) {
	return d.history.ListForWebhook(webhookID, page, limit)
}

func (d *Dispatcher) GetStats() QueueStats {
	return d.queue.GetStats()
}

func (d *Dispatcher) GetWebhookMetrics(webhookID uint) WebhookMetric {
	if d.metrics == nil {
		return WebhookMetric{}
	}
	return d.metrics.Get(webhookID)
}

func (d *Dispatcher) GetAllMetrics() map[uint]WebhookMetric {
	if d.metrics == nil {
		return nil
	}
	return d.metrics.GetAll()
}
