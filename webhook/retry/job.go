package retry

import (
	"fmt"
	"time"

	"github.com/einvoiceng/firshook/webhook"
)

/* Status represents the state of a retry job
 * SCHEDULED -> RUNNING -> {COMPLETED | SCHEDULED | DEAD_LETTER}
 * CANCELLED is reachable from SCHEDULED only
 */
type Status int

const (
	Scheduled Status = iota + 1
	Running
	Completed
	Failed
	Cancelled
	DeadLettered
)

// String returns the string representation of the status
func (s Status) String() string {
	switch s {
	case Scheduled:
		return "scheduled"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	case DeadLettered:
		return "dead_letter"
	default:
		return "unknown"
	}
}

// Validate checks if the status is valid
func (s Status) Validate() error {
	if s < Scheduled || s > DeadLettered {
		return fmt.Errorf("invalid retry status: %d", s)
	}
	return nil
}

// IsFinal returns true if the status is a terminal state
func (s Status) IsFinal() bool {
	return s == Completed || s == Failed || s == Cancelled || s == DeadLettered
}

/* Job is one failed processing attempt awaiting re-execution
 * It shares the original payload: the bumped RetryCount flows back into the
 * processor's attempt numbering on re-entry
 */
type Job struct {
	ID       string
	Payload  *webhook.Payload
	Metadata webhook.Metadata
	Config   BackoffConfig

	Status       Status
	AttemptCount int
	MaxAttempts  int
	NextRetryAt  time.Time

	// Requeues counts lifetime re-schedules, compared against the config's
	// DeadLetterAfter ceiling at pop time
	Requeues int

	// FailureReasons and Results are append-only history
	FailureReasons []string
	Results        []webhook.ProcessingResult

	CreatedAt time.Time
	UpdatedAt time.Time

	// index is maintained by the heap
	index int
}

/* jobHeap orders pending jobs strictly by NextRetryAt ascending (min-first)
 * Implements container/heap; the dispatcher uses a different ordering and
 * deliberately does not share this type
 */
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	return h[i].NextRetryAt.Before(h[j].NextRetryAt)
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	job := x.(*Job)
	job.index = len(*h)
	*h = append(*h, job)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	job.index = -1
	*h = old[:n-1]
	return job
}
