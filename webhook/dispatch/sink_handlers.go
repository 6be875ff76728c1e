package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/einvoiceng/firshook/webhook"
	"github.com/rs/zerolog"
)

/* MessageQueueHandler delivers jobs onto a named in-process queue
 * The broker integration point is the Publish function; the default keeps
 * messages in memory so tests and single-node deployments need no broker
 */
type MessageQueueHandler struct {
	// Publish overrides the in-memory sink, e.g. to push into a real broker
	Publish func(ctx context.Context, queue string, message []byte) error

	mu       sync.Mutex
	messages map[string][][]byte
}

// NewMessageQueueHandler creates a message queue dispatch handler
func NewMessageQueueHandler() *MessageQueueHandler {
	return &MessageQueueHandler{messages: make(map[string][][]byte)}
}

// CanHandle reports whether this handler serves the given method
func (h *MessageQueueHandler) CanHandle(method webhook.DispatchMethod) bool {
	return method == webhook.MethodMessageQueue
}

// Dispatch publishes the job payload to the target's queue. The queue name is
// the target's EndpointURL, falling back to the target ID
func (h *MessageQueueHandler) Dispatch(ctx context.Context, job *Job, target Target) (Result, error) {
	queue := target.EndpointURL
	if queue == "" {
		queue = target.TargetID
	}

	start := time.Now()
	message, err := job.Payload.Bytes()
	if err != nil {
		return Result{Duration: time.Since(start)}, fmt.Errorf("encoding payload for queue %s: %w", queue, err)
	}

	if h.Publish != nil {
		if err := h.Publish(ctx, queue, message); err != nil {
			return Result{Duration: time.Since(start)}, fmt.Errorf("publishing to queue %s: %w", queue, err)
		}
	} else {
		h.mu.Lock()
		h.messages[queue] = append(h.messages[queue], message)
		h.mu.Unlock()
	}

	return Result{
		Success:  true,
		Message:  fmt.Sprintf("published to queue %s", queue),
		Duration: time.Since(start),
	}, nil
}

// VerifyDelivery checks the in-memory sink holds at least one message for the
// target's queue. With a custom Publish the broker owns acknowledgement and
// this reports the job status
func (h *MessageQueueHandler) VerifyDelivery(_ context.Context, job *Job, target Target) bool {
	if h.Publish != nil {
		return job.Status == Delivered
	}
	queue := target.EndpointURL
	if queue == "" {
		queue = target.TargetID
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages[queue]) > 0
}

// Queued returns the messages accumulated for a queue in the in-memory sink
func (h *MessageQueueHandler) Queued(queue string) [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][]byte, len(h.messages[queue]))
	copy(out, h.messages[queue])
	return out
}

// EventRow is one persisted event record
type EventRow struct {
	JobID     string
	EventID   string
	EventType string
	TargetID  string
	Data      map[string]any
	StoredAt  time.Time
}

/* DatabaseHandler persists jobs as event rows
 * Store overrides the in-memory table for real persistence
 */
type DatabaseHandler struct {
	Store func(ctx context.Context, row EventRow) error

	mu   sync.Mutex
	rows []EventRow
}

// NewDatabaseHandler creates a database dispatch handler
func NewDatabaseHandler() *DatabaseHandler {
	return &DatabaseHandler{}
}

// CanHandle reports whether this handler serves the given method
func (h *DatabaseHandler) CanHandle(method webhook.DispatchMethod) bool {
	return method == webhook.MethodDatabase
}

// Dispatch writes the job as an event row
func (h *DatabaseHandler) Dispatch(ctx context.Context, job *Job, target Target) (Result, error) {
	row := EventRow{
		JobID:     job.ID,
		EventID:   job.Payload.EventID,
		EventType: job.Payload.EventType,
		TargetID:  target.TargetID,
		Data:      job.Data,
		StoredAt:  time.Now(),
	}

	start := time.Now()
	if h.Store != nil {
		if err := h.Store(ctx, row); err != nil {
			return Result{Duration: time.Since(start)}, fmt.Errorf("storing event row: %w", err)
		}
	} else {
		h.mu.Lock()
		h.rows = append(h.rows, row)
		h.mu.Unlock()
	}

	return Result{
		Success:  true,
		Message:  "event stored",
		Duration: time.Since(start),
	}, nil
}

// VerifyDelivery checks a row exists for the job in the in-memory table
func (h *DatabaseHandler) VerifyDelivery(_ context.Context, job *Job, _ Target) bool {
	if h.Store != nil {
		return job.Status == Delivered
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, row := range h.rows {
		if row.JobID == job.ID {
			return true
		}
	}
	return false
}

// Rows returns the rows accumulated in the in-memory table
func (h *DatabaseHandler) Rows() []EventRow {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]EventRow, len(h.rows))
	copy(out, h.rows)
	return out
}

/* EmailHandler renders jobs as notification emails
 * Send overrides the log-only default with a real mail submission
 */
type EmailHandler struct {
	Send func(ctx context.Context, to, subject, body string) error

	logger zerolog.Logger
	mu     sync.Mutex
	sent   int
}

// NewEmailHandler creates an email dispatch handler
func NewEmailHandler(logger zerolog.Logger) *EmailHandler {
	return &EmailHandler{logger: logger}
}

// CanHandle reports whether this handler serves the given method
func (h *EmailHandler) CanHandle(method webhook.DispatchMethod) bool {
	return method == webhook.MethodEmail
}

// Dispatch composes a notification for the target's address. The recipient is
// the target's EndpointURL
func (h *EmailHandler) Dispatch(ctx context.Context, job *Job, target Target) (Result, error) {
	to := target.EndpointURL
	subject := fmt.Sprintf("FIRS event %s (%s)", job.Payload.EventType, job.Payload.EventID)
	body := fmt.Sprintf("Event %s from %s received at %s.\n\nData: %v\n",
		job.Payload.EventID, job.Payload.Source, job.Payload.Timestamp.Format(time.RFC3339), job.Data)

	start := time.Now()
	if h.Send != nil {
		if err := h.Send(ctx, to, subject, body); err != nil {
			return Result{Duration: time.Since(start)}, fmt.Errorf("sending email to %s: %w", to, err)
		}
	} else {
		h.logger.Info().
			Str("to", to).
			Str("subject", subject).
			Str("event_id", job.Payload.EventID).
			Msg("email notification composed")
	}

	h.mu.Lock()
	h.sent++
	h.mu.Unlock()

	return Result{
		Success:  true,
		Message:  fmt.Sprintf("notification sent to %s", to),
		Duration: time.Since(start),
	}, nil
}

// VerifyDelivery reports the job status; email has no delivery receipt
func (h *EmailHandler) VerifyDelivery(_ context.Context, job *Job, _ Target) bool {
	return job.Status == Delivered
}

// Sent returns how many notifications this handler has produced
func (h *EmailHandler) Sent() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sent
}
