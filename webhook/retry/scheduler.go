package retry

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/einvoiceng/firshook/webhook"
)

// DefaultPollInterval is how often the background loop checks for due jobs
const DefaultPollInterval = 10 * time.Second

// DefaultMaxConcurrent bounds simultaneously running retry jobs
const DefaultMaxConcurrent = 5

// requeueDelay is the fixed delay applied when an operator requeues a
// dead-lettered job
const requeueDelay = 60 * time.Second

// ProcessFunc re-enters the processor for one retry attempt
type ProcessFunc func(ctx context.Context, payload webhook.Payload, metadata webhook.Metadata, maxAttempts int) webhook.ProcessingResult

// Config controls the scheduler's loop and defaults
type Config struct {
	PollInterval  time.Duration
	MaxConcurrent int

	// Default is the retry profile applied when ScheduleRetry gets none
	Default BackoffConfig
}

/* Scheduler owns the retry state machine for failed processing attempts
 * A job is in exactly one of {pending heap, active map, terminal list}
 * at any time
 */
type Scheduler struct {
	cfg     Config
	process ProcessFunc
	logger  zerolog.Logger

	mu         sync.Mutex
	pending    jobHeap
	active     map[string]*Job
	completed  []*Job
	deadLetter []*Job
	cancelled  int64
	scheduled  int64

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	sem     chan struct{}
}

// NewScheduler creates a stopped scheduler; Start launches the loop
func NewScheduler(cfg Config, process ProcessFunc, logger zerolog.Logger) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.Default.MaxAttempts == 0 {
		cfg.Default = DefaultBackoffConfig()
	}

	return &Scheduler{
		cfg:     cfg,
		process: process,
		logger:  logger.With().Str("component", "retry").Logger(),
		active:  make(map[string]*Job),
		sem:     make(chan struct{}, cfg.MaxConcurrent),
	}
}

// ScheduleRetry queues a failed payload for re-processing. The payload's
// RetryCount is bumped here, on re-queue, and nowhere else.
func (s *Scheduler) ScheduleRetry(payload *webhook.Payload, metadata webhook.Metadata, failureReason string, cfg *BackoffConfig) (string, error) {
	config := s.cfg.Default
	if cfg != nil {
		config = *cfg
	}
	if err := config.Validate(); err != nil {
		return "", fmt.Errorf("validating retry config: %w", err)
	}

	payload.RetryCount++
	now := time.Now().UTC()

	job := &Job{
		ID:             uuid.New().String(),
		Payload:        payload,
		Metadata:       metadata,
		Config:         config,
		Status:         Scheduled,
		AttemptCount:   payload.RetryCount,
		MaxAttempts:    config.MaxAttempts,
		NextRetryAt:    now.Add(config.Delay(payload.RetryCount)),
		FailureReasons: []string{failureReason},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	s.mu.Lock()
	heap.Push(&s.pending, job)
	s.scheduled++
	s.mu.Unlock()

	s.logger.Info().
		Str("job_id", job.ID).
		Str("event_id", payload.EventID).
		Int("attempt", job.AttemptCount).
		Time("next_retry_at", job.NextRetryAt).
		Msg("retry scheduled")

	return job.ID, nil
}

// Start launches the background loop; calling it twice is a no-op
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(loopCtx)
}

// Stop cancels the loop and waits for in-flight jobs up to the context's
// deadline; the drain is best-effort, not a guarantee
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("retry scheduler drain: %w", ctx.Err())
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

// runDue pops due jobs up to the concurrency ceiling and runs each in its
// own goroutine; a bad job can never crash the loop
func (s *Scheduler) runDue(ctx context.Context) {
	now := time.Now()

	for {
		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			return
		default:
			return // all slots busy, next poll picks up the rest
		}

		s.mu.Lock()
		if s.pending.Len() == 0 || s.pending[0].NextRetryAt.After(now) {
			s.mu.Unlock()
			<-s.sem
			return
		}
		job := heap.Pop(&s.pending).(*Job)

		// A job requeued unusually many times dead-letters at pop time,
		// even before exhausting max_attempts
		if job.Config.DeadLetterAfter > 0 && job.Requeues >= job.Config.DeadLetterAfter {
			job.Status = DeadLettered
			job.UpdatedAt = time.Now().UTC()
			s.deadLetter = append(s.deadLetter, job)
			s.mu.Unlock()
			<-s.sem
			s.logger.Error().Str("job_id", job.ID).Int("requeues", job.Requeues).Msg("job dead-lettered at pop")
			continue
		}

		job.Status = Running
		job.UpdatedAt = time.Now().UTC()
		s.active[job.ID] = job
		s.mu.Unlock()

		s.wg.Add(1)
		go func(job *Job) {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			s.runJob(ctx, job)
		}(job)
	}
}

func (s *Scheduler) runJob(ctx context.Context, job *Job) {
	result := s.invoke(ctx, job)

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.active, job.ID)
	job.Results = append(job.Results, result)
	job.UpdatedAt = time.Now().UTC()

	if result.Success {
		job.Status = Completed
		s.completed = append(s.completed, job)
		s.logger.Info().Str("job_id", job.ID).Int("attempt", job.AttemptCount).Msg("retry succeeded")
		return
	}

	job.FailureReasons = append(job.FailureReasons, result.Message)

	if job.AttemptCount >= job.MaxAttempts {
		job.Status = DeadLettered
		s.deadLetter = append(s.deadLetter, job)
		s.logger.Error().
			Str("job_id", job.ID).
			Str("event_id", job.Payload.EventID).
			Int("attempts", job.AttemptCount).
			Msg("retry budget exhausted, job dead-lettered")
		return
	}

	// Re-queue with the next attempt's delay
	job.Payload.RetryCount++
	job.AttemptCount = job.Payload.RetryCount
	job.Requeues++
	job.Status = Scheduled
	job.NextRetryAt = time.Now().UTC().Add(job.Config.Delay(job.AttemptCount))
	heap.Push(&s.pending, job)

	s.logger.Warn().
		Str("job_id", job.ID).
		Int("attempt", job.AttemptCount).
		Time("next_retry_at", job.NextRetryAt).
		Msg("retry failed, re-queued")
}

// invoke shields the loop from a panicking retry processor; a panic is
// treated identically to a reported failure
func (s *Scheduler) invoke(ctx context.Context, job *Job) (result webhook.ProcessingResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("job_id", job.ID).Msg("retry processor panicked")
			result = webhook.ProcessingResult{
				Status:    webhook.Failed,
				Message:   fmt.Sprintf("retry processor panicked: %v", r),
				ErrorCode: webhook.ErrCodeUnexpectedError,
			}
		}
	}()

	return s.process(ctx, *job.Payload, job.Metadata, job.MaxAttempts)
}

// CancelRetry cancels a pending job. Jobs already running cannot be
// cancelled; cancelling twice is safe and returns false.
func (s *Scheduler) CancelRetry(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.pending {
		if job.ID == jobID {
			heap.Remove(&s.pending, job.index)
			job.Status = Cancelled
			job.UpdatedAt = time.Now().UTC()
			s.cancelled++
			return true
		}
	}
	return false
}

// RequeueDeadLetter moves a dead-lettered job back to the pending queue
// with a fixed delay, for manual recovery
func (s *Scheduler) RequeueDeadLetter(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, job := range s.deadLetter {
		if job.ID == jobID {
			s.deadLetter = append(s.deadLetter[:i], s.deadLetter[i+1:]...)
			job.Status = Scheduled
			job.Requeues = 0
			job.NextRetryAt = time.Now().UTC().Add(requeueDelay)
			job.UpdatedAt = time.Now().UTC()
			heap.Push(&s.pending, job)
			return nil
		}
	}
	return fmt.Errorf("dead-letter job not found: %s", jobID)
}

// QueueStatus is a point-in-time snapshot of the scheduler's queues
type QueueStatus struct {
	Pending         int    `json:"pending"`
	Active          int    `json:"active"`
	Completed       int    `json:"completed"`
	Cancelled       int64  `json:"cancelled"`
	TotalScheduled  int64  `json:"total_scheduled"`
	DeadLetterQueue []*Job `json:"dead_letter_queue"`
}

// GetQueueStatus snapshots the queues; the dead-letter slice is copied
func (s *Scheduler) GetQueueStatus() QueueStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	dlq := make([]*Job, len(s.deadLetter))
	copy(dlq, s.deadLetter)

	return QueueStatus{
		Pending:         s.pending.Len(),
		Active:          len(s.active),
		Completed:       len(s.completed),
		Cancelled:       s.cancelled,
		TotalScheduled:  s.scheduled,
		DeadLetterQueue: dlq,
	}
}

// ActiveCount returns the number of running retry jobs
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// HealthCheck reports stopped when the loop is not running and degraded
// when the dead-letter queue is non-empty
func (s *Scheduler) HealthCheck() webhook.Health {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := webhook.StatusHealthy
	if !s.running {
		status = webhook.StatusStopped
	} else if len(s.deadLetter) > 0 {
		status = webhook.StatusDegraded
	} else if len(s.active) >= s.cfg.MaxConcurrent {
		status = webhook.StatusOverloaded
	}

	return webhook.Health{
		Status:  status,
		Service: "retry_scheduler",
		Details: map[string]any{
			"pending":     s.pending.Len(),
			"active":      len(s.active),
			"completed":   len(s.completed),
			"dead_letter": len(s.deadLetter),
			"scheduled":   s.scheduled,
		},
	}
}
