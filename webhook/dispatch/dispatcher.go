package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/einvoiceng/firshook/webhook"
)

const (
	// DefaultPollInterval is how often the dispatch loop drains due jobs
	DefaultPollInterval = 1 * time.Second

	// DefaultMaxConcurrent caps in-flight deliveries across all targets
	DefaultMaxConcurrent = 10

	// historySize bounds the delivered-jobs ring buffer
	historySize = 1000

	// breakerFailureThreshold opens a target's circuit after this many
	// consecutive delivery failures
	breakerFailureThreshold = 5

	// breakerCooldown is how long an open circuit waits before probing again
	breakerCooldown = 30 * time.Second
)

// FilterFunc is a global predicate applied before fan-out. Returning false
// drops the event for every target
type FilterFunc func(payload webhook.Payload) bool

// Config tunes the dispatcher
type Config struct {
	PollInterval  time.Duration
	MaxConcurrent int
}

// Stats aggregates delivery outcomes for one method or target
type Stats struct {
	Total      int64         `json:"total"`
	Delivered  int64         `json:"delivered"`
	Failed     int64         `json:"failed"`
	AvgLatency time.Duration `json:"avg_latency"`
}

/* Dispatcher fans processed events out to configured targets
 * Each (event, target) pair becomes an independent job with its own retry
 * budget; a background loop pops due jobs in (priority, scheduled time) order
 * under a concurrency cap. Per-target circuit breakers stop hammering targets
 * that fail repeatedly
 */
type Dispatcher struct {
	mu       sync.Mutex
	targets  map[string]Target
	filters  []FilterFunc
	handlers []DispatchHandler
	breakers map[string]*gobreaker.CircuitBreaker

	queue      jobQueue
	active     map[string]*Job
	jobs       map[string]*Job
	deadLetter []*Job
	delivered  []*Job
	histNext   int

	perMethod map[string]*Stats
	perTarget map[string]*Stats

	pollInterval time.Duration
	sem          chan struct{}
	logger       zerolog.Logger

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Delivery handlers are registered
// separately with RegisterHandler
func NewDispatcher(cfg Config, logger zerolog.Logger) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	return &Dispatcher{
		targets:      make(map[string]Target),
		breakers:     make(map[string]*gobreaker.CircuitBreaker),
		active:       make(map[string]*Job),
		jobs:         make(map[string]*Job),
		perMethod:    make(map[string]*Stats),
		perTarget:    make(map[string]*Stats),
		pollInterval: cfg.PollInterval,
		sem:          make(chan struct{}, cfg.MaxConcurrent),
		logger:       logger.With().Str("component", "event_dispatcher").Logger(),
	}
}

// RegisterHandler adds a delivery handler. Handlers are consulted in
// registration order and the first CanHandle match delivers the job
func (d *Dispatcher) RegisterHandler(handler DispatchHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, handler)
}

// RegisterTarget validates and stores a target. Registering an existing
// TargetID replaces it; in-flight jobs keep the configuration they were
// created with
func (d *Dispatcher) RegisterTarget(target Target) error {
	if err := target.Validate(); err != nil {
		return err
	}
	if target.Retry.MaxAttempts <= 0 {
		target.Retry = DefaultTargetRetry()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.targets[target.TargetID]; exists {
		d.logger.Info().Str("target_id", target.TargetID).Msg("replacing dispatch target")
	}
	d.targets[target.TargetID] = target
	return nil
}

// UnregisterTarget removes a target. Queued jobs for it still run and fail
// against the missing target
func (d *Dispatcher) UnregisterTarget(targetID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.targets[targetID]; !ok {
		return false
	}
	delete(d.targets, targetID)
	return true
}

// CancelJob withdraws a job that is still waiting in the queue. Jobs already
// dispatching or in a terminal state report false
func (d *Dispatcher) CancelJob(jobID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	job := d.queue.remove(jobID)
	if job == nil {
		return false
	}
	job.Status = Cancelled
	job.UpdatedAt = time.Now()
	return true
}

// Targets returns a snapshot of the registered targets
func (d *Dispatcher) Targets() []Target {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Target, 0, len(d.targets))
	for _, target := range d.targets {
		out = append(out, target)
	}
	return out
}

// RegisterFilter adds a global predicate evaluated before fan-out
func (d *Dispatcher) RegisterFilter(filter FilterFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.filters = append(d.filters, filter)
}

/* DispatchEvent queues one job per matching target and returns the job IDs
 * Explicit targetIDs narrow the candidate set, with unknown IDs skipped; in
 * either case a target must be enabled and its filter must match the event.
 * data carries the processed event payload for delivery; nil falls back to
 * the raw payload data
 */
func (d *Dispatcher) DispatchEvent(payload webhook.Payload, metadata webhook.Metadata, data map[string]any, targetIDs []string, priority webhook.Priority) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, filter := range d.filters {
		if !filter(payload) {
			d.logger.Debug().Str("event_id", payload.EventID).Msg("event dropped by global filter")
			return nil
		}
	}

	var selected []Target
	if len(targetIDs) > 0 {
		for _, id := range targetIDs {
			target, ok := d.targets[id]
			if !ok {
				d.logger.Warn().Str("target_id", id).Msg("dispatch requested for unknown target")
				continue
			}
			if target.Enabled && target.Filter.Matches(payload) {
				selected = append(selected, target)
			}
		}
	} else {
		for _, target := range d.targets {
			if target.Enabled && target.Filter.Matches(payload) {
				selected = append(selected, target)
			}
		}
	}

	if data == nil {
		data = payload.Data
	}

	now := time.Now()
	jobIDs := make([]string, 0, len(selected))
	for _, target := range selected {
		job := &Job{
			ID:          uuid.New().String(),
			TargetID:    target.TargetID,
			Payload:     payload,
			Metadata:    metadata,
			Data:        data,
			Priority:    priority,
			Status:      Queued,
			MaxAttempts: target.Retry.MaxAttempts,
			ScheduledAt: now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		d.jobs[job.ID] = job
		d.queue.push(job)
		jobIDs = append(jobIDs, job.ID)
	}

	if len(jobIDs) > 0 {
		d.logger.Info().
			Str("event_id", payload.EventID).
			Str("event_type", payload.EventType).
			Int("targets", len(jobIDs)).
			Msg("event queued for dispatch")
	}
	return jobIDs
}

// Start launches the background dispatch loop. Calling Start on a running
// dispatcher is a no-op
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.runDue(ctx)
			}
		}
	}()

	d.logger.Info().Dur("poll_interval", d.pollInterval).Msg("dispatcher started")
}

// Stop halts the loop and waits for in-flight deliveries up to the context
// deadline
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	cancel := d.cancel
	d.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight dispatches: %w", ctx.Err())
	}
}

// runDue pops due jobs while concurrency slots are free
func (d *Dispatcher) runDue(ctx context.Context) {
	for {
		select {
		case d.sem <- struct{}{}:
		default:
			return
		}

		d.mu.Lock()
		job := d.queue.popDue(time.Now())
		if job == nil {
			d.mu.Unlock()
			<-d.sem
			return
		}
		target, ok := d.targets[job.TargetID]
		job.Status = Dispatching
		job.AttemptCount++
		job.UpdatedAt = time.Now()
		d.active[job.ID] = job
		d.mu.Unlock()

		d.wg.Add(1)
		go func(job *Job, target Target, known bool) {
			defer d.wg.Done()
			defer func() { <-d.sem }()
			d.runJob(ctx, job, target, known)
		}(job, target, ok)
	}
}

// runJob performs one delivery attempt and settles the job
func (d *Dispatcher) runJob(ctx context.Context, job *Job, target Target, known bool) {
	if !known {
		d.settleFailure(job, target, Result{}, fmt.Errorf("target %s no longer registered", job.TargetID), true)
		return
	}

	handler := d.handlerFor(target.Method)
	if handler == nil {
		d.settleFailure(job, target, Result{}, fmt.Errorf("no dispatch handler for method %s", target.Method), true)
		return
	}

	result, err := d.deliver(ctx, job, target, handler)
	if err == nil && result.Success {
		d.settleSuccess(job, target, result)
		return
	}
	if err == nil {
		err = fmt.Errorf("delivery failed: %s", result.Message)
	}
	d.settleFailure(job, target, result, err, false)
}

// deliver runs the handler inside the target's circuit breaker, containing
// panics so one bad handler cannot take the loop down
func (d *Dispatcher) deliver(ctx context.Context, job *Job, target Target, handler DispatchHandler) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch handler panicked: %v", r)
		}
	}()

	out, err := d.breakerFor(target.TargetID).Execute(func() (any, error) {
		res, derr := handler.Dispatch(ctx, job, target)
		if derr != nil {
			return res, derr
		}
		if !res.Success {
			return res, fmt.Errorf("delivery failed: %s", res.Message)
		}
		return res, nil
	})
	if res, ok := out.(Result); ok {
		result = res
	}
	return result, err
}

func (d *Dispatcher) handlerFor(method webhook.DispatchMethod) DispatchHandler {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, handler := range d.handlers {
		if handler.CanHandle(method) {
			return handler
		}
	}
	return nil
}

func (d *Dispatcher) breakerFor(targetID string) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	if breaker, ok := d.breakers[targetID]; ok {
		return breaker
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    targetID,
		Timeout: breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.Warn().
				Str("target_id", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("dispatch circuit state changed")
		},
	})
	d.breakers[targetID] = breaker
	return breaker
}

func (d *Dispatcher) settleSuccess(job *Job, target Target, result Result) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.active, job.ID)
	job.Status = Delivered
	job.LastStatus = result.StatusCode
	job.DeliveredAt = time.Now()
	job.UpdatedAt = job.DeliveredAt

	if len(d.delivered) < historySize {
		d.delivered = append(d.delivered, job)
	} else {
		d.delivered[d.histNext] = job
		d.histNext = (d.histNext + 1) % historySize
	}

	d.record(target, true, result.Duration)
	d.logger.Info().
		Str("job_id", job.ID).
		Str("target_id", job.TargetID).
		Int("attempt", job.AttemptCount).
		Dur("latency", result.Duration).
		Msg("event delivered")
}

// settleFailure retries the job on target.Retry's schedule or dead-letters it
// when attempts run out. permanent skips the retry budget entirely
func (d *Dispatcher) settleFailure(job *Job, target Target, result Result, err error, permanent bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.active, job.ID)
	job.LastError = err.Error()
	job.LastStatus = result.StatusCode
	job.UpdatedAt = time.Now()
	d.record(target, false, result.Duration)

	if permanent || job.AttemptCount >= job.MaxAttempts {
		job.Status = DeadLettered
		d.deadLetter = append(d.deadLetter, job)
		d.logger.Error().
			Err(err).
			Str("job_id", job.ID).
			Str("target_id", job.TargetID).
			Int("attempts", job.AttemptCount).
			Msg("dispatch job dead-lettered")
		return
	}

	delay := target.Retry.Delay(job.AttemptCount)
	job.Status = RetryScheduled
	job.ScheduledAt = time.Now().Add(delay)
	d.queue.push(job)
	d.logger.Warn().
		Err(err).
		Str("job_id", job.ID).
		Str("target_id", job.TargetID).
		Int("attempt", job.AttemptCount).
		Dur("next_in", delay).
		Msg("dispatch attempt failed, retry scheduled")
}

// record must be called with d.mu held
func (d *Dispatcher) record(target Target, success bool, latency time.Duration) {
	for _, stats := range []*Stats{d.statsFor(d.perMethod, target.Method.String()), d.statsFor(d.perTarget, target.TargetID)} {
		stats.Total++
		if success {
			stats.Delivered++
		} else {
			stats.Failed++
		}
		stats.AvgLatency += (latency - stats.AvgLatency) / time.Duration(stats.Total)
	}
}

func (d *Dispatcher) statsFor(m map[string]*Stats, key string) *Stats {
	stats, ok := m[key]
	if !ok {
		stats = &Stats{}
		m[key] = stats
	}
	return stats
}

// MethodStats returns per-method delivery statistics
func (d *Dispatcher) MethodStats() map[string]Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return copyStats(d.perMethod)
}

// TargetStats returns per-target delivery statistics
func (d *Dispatcher) TargetStats() map[string]Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return copyStats(d.perTarget)
}

func copyStats(m map[string]*Stats) map[string]Stats {
	out := make(map[string]Stats, len(m))
	for key, stats := range m {
		out[key] = *stats
	}
	return out
}

// Job returns the job with the given ID, or nil
func (d *Dispatcher) Job(jobID string) *Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.jobs[jobID]
}

// DeadLetters returns the jobs that exhausted their delivery attempts
func (d *Dispatcher) DeadLetters() []*Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Job, len(d.deadLetter))
	copy(out, d.deadLetter)
	return out
}

// ActiveCount returns the number of in-flight deliveries
func (d *Dispatcher) ActiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

// QueuedCount returns the number of jobs waiting for dispatch
func (d *Dispatcher) QueuedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.len()
}

// HealthCheck reports dispatcher health
func (d *Dispatcher) HealthCheck() webhook.Health {
	d.mu.Lock()
	defer d.mu.Unlock()

	status := webhook.StatusHealthy
	switch {
	case !d.running:
		status = webhook.StatusStopped
	case len(d.active) == cap(d.sem):
		status = webhook.StatusOverloaded
	case len(d.deadLetter) > 0:
		status = webhook.StatusDegraded
	}

	return webhook.Health{
		Status:  status,
		Service: "event_dispatcher",
		Details: map[string]any{
			"queued":         d.queue.len(),
			"active":         len(d.active),
			"max_concurrent": cap(d.sem),
			"delivered":      len(d.delivered),
			"dead_letter":    len(d.deadLetter),
			"targets":        len(d.targets),
		},
	}
}
