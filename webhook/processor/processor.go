package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/einvoiceng/firshook/webhook"
)

// historySize bounds the in-memory record of recent attempts
const historySize = 1000

// DefaultMaxConcurrent bounds simultaneous handler executions
const DefaultMaxConcurrent = 10

// Record is one history entry kept for analytics
type Record struct {
	ProcessingID   string
	EventID        string
	AttemptCount   int
	ProcessingTime time.Duration
	Success        bool
	Status         webhook.ProcessingStatus
	ErrorCode      string
	CompletedAt    time.Time
}

/* Processor routes validated payloads to the matching handler and enforces
 * each handler's timeout under a concurrency ceiling
 * Business side effects belong entirely to the handlers
 */
type Processor struct {
	logger zerolog.Logger
	sem    chan struct{}

	mu        sync.RWMutex
	handlers  []Handler
	active    map[string]webhook.ProcessingContext
	history   []Record
	histNext  int
	total     int64
	succeeded int64
	failed    int64
}

// New creates a processor bounded to maxConcurrent simultaneous executions
func New(maxConcurrent int, logger zerolog.Logger) *Processor {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Processor{
		logger: logger.With().Str("component", "processor").Logger(),
		sem:    make(chan struct{}, maxConcurrent),
		active: make(map[string]webhook.ProcessingContext),
	}
}

// Register appends a handler; first registered wins on overlapping claims
func (p *Processor) Register(h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
}

// ProcessEvent dispatches the payload to the first matching handler under its
// timeout. The result is always a value: NO_HANDLER is terminal, TIMEOUT and
// UNEXPECTED_ERROR are retryable by the caller.
func (p *Processor) ProcessEvent(ctx context.Context, payload webhook.Payload, metadata webhook.Metadata, maxAttempts int) webhook.ProcessingResult {
	handler := p.findHandler(payload)
	if handler == nil {
		p.recordOutcome(Record{
			EventID:      payload.EventID,
			AttemptCount: payload.RetryCount + 1,
			Status:       webhook.Failed,
			ErrorCode:    webhook.ErrCodeNoHandler,
			CompletedAt:  time.Now().UTC(),
		})
		return webhook.ProcessingResult{
			Status:    webhook.Failed,
			Message:   fmt.Sprintf("no handler for event type %s", payload.EventType),
			ErrorCode: webhook.ErrCodeNoHandler,
		}
	}

	pctx := webhook.ProcessingContext{
		EventID:      payload.EventID,
		ProcessingID: uuid.New().String(),
		AttemptCount: payload.RetryCount + 1,
		MaxAttempts:  maxAttempts,
		Priority:     handler.Priority(),
		Timeout:      handler.Timeout(),
		StartedAt:    time.Now().UTC(),
	}

	// Acquire a concurrency slot
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return webhook.ProcessingResult{
			Status:     webhook.Failed,
			Message:    "cancelled while waiting for a processing slot",
			ErrorCode:  webhook.ErrCodeUnexpectedError,
			RetryAfter: 30,
		}
	}
	defer func() { <-p.sem }()

	p.mu.Lock()
	p.active[pctx.ProcessingID] = pctx
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.active, pctx.ProcessingID)
		p.mu.Unlock()
	}()

	result := p.invoke(ctx, handler, payload, metadata, pctx)

	p.recordOutcome(Record{
		ProcessingID:   pctx.ProcessingID,
		EventID:        pctx.EventID,
		AttemptCount:   pctx.AttemptCount,
		ProcessingTime: time.Since(pctx.StartedAt),
		Success:        result.Success,
		Status:         result.Status,
		ErrorCode:      result.ErrorCode,
		CompletedAt:    time.Now().UTC(),
	})

	return result
}

// invoke runs the handler in its own goroutine so a wall-clock timeout can be
// enforced even when the handler ignores context cancellation
func (p *Processor) invoke(ctx context.Context, handler Handler, payload webhook.Payload, metadata webhook.Metadata, pctx webhook.ProcessingContext) webhook.ProcessingResult {
	callCtx, cancel := context.WithTimeout(ctx, pctx.Timeout)
	defer cancel()

	type outcome struct {
		result webhook.ProcessingResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("handler panicked: %v", r)}
			}
		}()
		result, err := handler.Process(callCtx, payload, metadata, pctx)
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-callCtx.Done():
		if ctx.Err() == nil {
			p.logger.Warn().
				Str("event_id", pctx.EventID).
				Str("processing_id", pctx.ProcessingID).
				Dur("timeout", pctx.Timeout).
				Msg("handler timed out")
			return webhook.ProcessingResult{
				Status:     webhook.Failed,
				Message:    fmt.Sprintf("handler exceeded timeout of %s", pctx.Timeout),
				ErrorCode:  webhook.ErrCodeTimeout,
				RetryAfter: 60,
			}
		}
		return webhook.ProcessingResult{
			Status:     webhook.Failed,
			Message:    "processing cancelled",
			ErrorCode:  webhook.ErrCodeUnexpectedError,
			RetryAfter: 30,
		}
	case out := <-done:
		if out.err != nil {
			p.logger.Error().
				Err(out.err).
				Str("event_id", pctx.EventID).
				Int("attempt", pctx.AttemptCount).
				Msg("handler failed")
			return webhook.ProcessingResult{
				Status:     webhook.Failed,
				Message:    out.err.Error(),
				ErrorCode:  webhook.ErrCodeUnexpectedError,
				RetryAfter: 30,
			}
		}
		result := out.result
		if result.Status == 0 {
			if result.Success {
				result.Status = webhook.Completed
			} else {
				result.Status = webhook.Failed
			}
		}
		return result
	}
}

func (p *Processor) findHandler(payload webhook.Payload) Handler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, h := range p.handlers {
		if h.CanHandle(payload.EventType, payload.Data) {
			return h
		}
	}
	return nil
}

// PriorityFor returns the matched handler's priority for a payload, or Normal
// when no handler claims it. The dispatcher inherits this priority
func (p *Processor) PriorityFor(payload webhook.Payload) webhook.Priority {
	if h := p.findHandler(payload); h != nil {
		return h.Priority()
	}
	return webhook.Normal
}

func (p *Processor) recordOutcome(rec Record) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.total++
	if rec.Success {
		p.succeeded++
	} else {
		p.failed++
	}

	if len(p.history) < historySize {
		p.history = append(p.history, rec)
		return
	}
	p.history[p.histNext] = rec
	p.histNext = (p.histNext + 1) % historySize
}

// Stats returns the lifetime attempt counters
func (p *Processor) Stats() (total, succeeded, failed int64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.total, p.succeeded, p.failed
}

// ActiveCount returns the number of in-flight processing attempts
func (p *Processor) ActiveCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.active)
}

// History returns a copy of the bounded attempt history
func (p *Processor) History() []Record {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Record, len(p.history))
	copy(out, p.history)
	return out
}

// HealthCheck reports overloaded when every concurrency slot is taken
func (p *Processor) HealthCheck() webhook.Health {
	p.mu.RLock()
	defer p.mu.RUnlock()

	status := webhook.StatusHealthy
	if len(p.active) >= cap(p.sem) {
		status = webhook.StatusOverloaded
	}

	return webhook.Health{
		Status:  status,
		Service: "event_processor",
		Details: map[string]any{
			"handlers":  len(p.handlers),
			"active":    len(p.active),
			"max":       cap(p.sem),
			"total":     p.total,
			"succeeded": p.succeeded,
			"failed":    p.failed,
		},
	}
}
