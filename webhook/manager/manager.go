package manager

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/einvoiceng/firshook/webhook"
	"github.com/einvoiceng/firshook/webhook/dispatch"
	"github.com/einvoiceng/firshook/webhook/processor"
	"github.com/einvoiceng/firshook/webhook/receiver"
	"github.com/einvoiceng/firshook/webhook/retry"
	"github.com/einvoiceng/firshook/webhook/signature"
)

const (
	// FIRSProfile is the signature profile every inbound request is validated
	// against
	FIRSProfile = "firs_webhook"

	// firsTolerance bounds clock skew on the FIRS timestamp header
	firsTolerance = 300 * time.Second

	// DefaultShutdownGrace is how long StopServices waits for in-flight work
	DefaultShutdownGrace = 5 * time.Second
)

// Config assembles the per-component configurations
type Config struct {
	Receiver receiver.Config
	Retry    retry.Config
	Dispatch dispatch.Config

	// MaxConcurrentProcessing bounds simultaneous handler executions
	MaxConcurrentProcessing int

	// FIRSSecret is the shared HMAC secret of the firs_webhook profile.
	// Empty disables profile validation (the receiver precheck may still run)
	FIRSSecret string

	// ReplayStore overrides the in-memory replay cache, e.g. with the
	// Redis-backed store for multi-instance deployments
	ReplayStore signature.ReplayStore

	// ShutdownGrace overrides DefaultShutdownGrace
	ShutdownGrace time.Duration
}

// Outcome is everything the pipeline produced for one accepted request
type Outcome struct {
	Payload  webhook.Payload
	Metadata webhook.Metadata
	Report   webhook.ValidationReport
	Result   webhook.ProcessingResult

	// RetryJobID is set when a retryable failure was handed to the scheduler
	RetryJobID string

	// DispatchJobIDs are the fan-out jobs created on success
	DispatchJobIDs []string
}

/* Manager composes the five pipeline components and owns their lifecycle
 * ProcessWebhook is the synchronous path: receive, validate, process, then
 * either dispatch on success or schedule a retry. The retry scheduler feeds
 * back into the same process-then-dispatch path
 */
type Manager struct {
	validator  *signature.Validator
	receiver   *receiver.Receiver
	processor  *processor.Processor
	scheduler  *retry.Scheduler
	dispatcher *dispatch.Dispatcher

	maxAttempts int
	grace       time.Duration
	logger      zerolog.Logger

	mu      sync.Mutex
	started bool
}

// New wires the pipeline. The FIRS business handlers and the four dispatch
// handlers are registered by default; callers add their own on top
func New(cfg Config, logger zerolog.Logger) (*Manager, error) {
	rcv, err := receiver.New(cfg.Receiver, logger)
	if err != nil {
		return nil, fmt.Errorf("building receiver: %w", err)
	}

	validator := signature.NewValidator(cfg.ReplayStore, logger)
	if cfg.FIRSSecret != "" {
		err := validator.Configure(signature.Profile{
			Name:             FIRSProfile,
			Algorithm:        signature.HMACSHA256,
			SecretKey:        cfg.FIRSSecret,
			Tolerance:        firsTolerance,
			RequireTimestamp: true,
			PreventReplay:    true,
			MaxBodySize:      receiver.DefaultMaxBodySize,
		})
		if err != nil {
			return nil, fmt.Errorf("configuring %s profile: %w", FIRSProfile, err)
		}
	}

	proc := processor.New(cfg.MaxConcurrentProcessing, logger)
	proc.Register(processor.SubmissionStatusHandler{})
	proc.Register(processor.InvoiceHandler{})
	proc.Register(processor.TransmissionStatusHandler{})

	dispatcher := dispatch.NewDispatcher(cfg.Dispatch, logger)
	dispatcher.RegisterHandler(dispatch.NewWebhookHandler(nil))
	dispatcher.RegisterHandler(dispatch.NewMessageQueueHandler())
	dispatcher.RegisterHandler(dispatch.NewDatabaseHandler())
	dispatcher.RegisterHandler(dispatch.NewEmailHandler(logger))

	maxAttempts := cfg.Retry.Default.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = retry.DefaultBackoffConfig().MaxAttempts
	}

	grace := cfg.ShutdownGrace
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}

	m := &Manager{
		validator:   validator,
		receiver:    rcv,
		processor:   proc,
		dispatcher:  dispatcher,
		maxAttempts: maxAttempts,
		grace:       grace,
		logger:      logger.With().Str("component", "manager").Logger(),
	}
	m.scheduler = retry.NewScheduler(cfg.Retry, m.reprocess, logger)
	return m, nil
}

/* ProcessWebhook runs one inbound request through the pipeline
 * Transport rejections and signature failures return a *receiver.Error with
 * HTTP semantics; processing failures do not, they are reported inside the
 * Outcome because the request itself was accepted
 */
func (m *Manager) ProcessWebhook(r *http.Request) (Outcome, error) {
	ctx := r.Context()

	payload, metadata, err := m.receiver.Receive(r)
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{Payload: payload, Metadata: metadata}

	if m.validator.HasProfile(FIRSProfile) {
		out.Report = m.validator.ValidateSignature(ctx, FIRSProfile,
			metadata.RawBody, metadata.Signature, metadata.Headers, metadata.SourceIP)
		if !out.Report.IsValid() {
			return out, &receiver.Error{
				Status:  http.StatusUnauthorized,
				Code:    "INVALID_SIGNATURE",
				Message: out.Report.Message,
			}
		}
	}

	out.Result = m.processor.ProcessEvent(ctx, payload, metadata, m.maxAttempts)

	switch {
	case out.Result.Success:
		priority := m.processor.PriorityFor(payload)
		out.DispatchJobIDs = m.dispatcher.DispatchEvent(payload, metadata, out.Result.Data, nil, priority)
	case out.Result.Retryable():
		jobID, err := m.scheduler.ScheduleRetry(&payload, metadata, out.Result.Message, nil)
		if err != nil {
			m.logger.Error().Err(err).Str("event_id", payload.EventID).Msg("scheduling retry failed")
		} else {
			out.RetryJobID = jobID
		}
	default:
		m.logger.Warn().
			Str("event_id", payload.EventID).
			Str("error_code", out.Result.ErrorCode).
			Msg("event failed terminally")
	}

	return out, nil
}

// reprocess is the scheduler's callback: re-run the processor and, when the
// retry finally succeeds, dispatch the result downstream
func (m *Manager) reprocess(ctx context.Context, payload webhook.Payload, metadata webhook.Metadata, maxAttempts int) webhook.ProcessingResult {
	result := m.processor.ProcessEvent(ctx, payload, metadata, maxAttempts)
	if result.Success {
		priority := m.processor.PriorityFor(payload)
		m.dispatcher.DispatchEvent(payload, metadata, result.Data, nil, priority)
	}
	return result
}

// StartServices launches the retry and dispatch loops; calling it twice is a
// no-op
func (m *Manager) StartServices(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.scheduler.Start(ctx)
	m.dispatcher.Start(ctx)
	m.started = true
	m.logger.Info().Msg("pipeline services started")
}

// StopServices stops the loops and waits up to the shutdown grace for
// in-flight work to drain
func (m *Manager) StopServices() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.grace)
	defer cancel()

	var errs []error
	if err := m.scheduler.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stopping retry scheduler: %w", err))
	}
	if err := m.dispatcher.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stopping dispatcher: %w", err))
	}
	if len(errs) > 0 {
		return errs[0]
	}
	m.logger.Info().Msg("pipeline services stopped")
	return nil
}

// Status is the aggregate view over the five component health checks
type Status struct {
	Status   string                    `json:"status"`
	Services map[string]webhook.Health `json:"services"`
}

/* ComprehensiveStatus aggregates per-component health
 * under_attack and overloaded anywhere dominate; any stopped or degraded
 * component degrades the whole; a manager that was never started is stopped
 */
func (m *Manager) ComprehensiveStatus() Status {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()

	checks := []webhook.Health{
		m.validator.HealthCheck(),
		m.receiver.HealthCheck(),
		m.processor.HealthCheck(),
		m.scheduler.HealthCheck(),
		m.dispatcher.HealthCheck(),
	}

	services := make(map[string]webhook.Health, len(checks))
	overall := webhook.StatusHealthy
	for _, h := range checks {
		services[h.Service] = h
		switch h.Status {
		case webhook.StatusUnderAttack:
			overall = webhook.StatusUnderAttack
		case webhook.StatusOverloaded:
			if overall != webhook.StatusUnderAttack {
				overall = webhook.StatusOverloaded
			}
		case webhook.StatusDegraded, webhook.StatusStopped:
			if overall == webhook.StatusHealthy {
				overall = webhook.StatusDegraded
			}
		}
	}
	if !started {
		overall = webhook.StatusStopped
	}

	return Status{Status: overall, Services: services}
}

// Validator exposes the signature validator for profile administration
func (m *Manager) Validator() *signature.Validator { return m.validator }

// Processor exposes the event processor for handler registration
func (m *Manager) Processor() *processor.Processor { return m.processor }

// Scheduler exposes the retry scheduler for queue administration
func (m *Manager) Scheduler() *retry.Scheduler { return m.scheduler }

// Dispatcher exposes the dispatcher for target administration
func (m *Manager) Dispatcher() *dispatch.Dispatcher { return m.dispatcher }

// Receiver exposes the receiver, mainly for its health output
func (m *Manager) Receiver() *receiver.Receiver { return m.receiver }
