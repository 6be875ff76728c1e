package dispatch

import (
	"fmt"
	"sort"
	"time"

	"github.com/einvoiceng/firshook/webhook"
)

/* Status tracks a dispatch job through its lifecycle
 * Delivered, DeadLettered and Cancelled are terminal; RetryScheduled means
 * the job is back in the queue waiting for its next attempt window
 */
type Status int

const (
	Queued Status = iota + 1
	Dispatching
	RetryScheduled
	Delivered
	DeadLettered
	Cancelled
)

// String returns the string representation of the dispatch status
func (s Status) String() string {
	switch s {
	case Queued:
		return "queued"
	case Dispatching:
		return "dispatching"
	case RetryScheduled:
		return "retry_scheduled"
	case Delivered:
		return "delivered"
	case DeadLettered:
		return "dead_letter"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Validate checks if the dispatch status is valid
func (s Status) Validate() error {
	if s < Queued || s > Cancelled {
		return fmt.Errorf("invalid dispatch status: %d", s)
	}
	return nil
}

// IsFinal reports whether the job can change state again
func (s Status) IsFinal() bool {
	return s == Delivered || s == DeadLettered || s == Cancelled
}

/* Job is one unit of delivery: one event bound to one target
 * Fanning an event out to N targets creates N independent jobs; one target's
 * retries never delay another target's delivery
 */
type Job struct {
	ID           string
	TargetID     string
	Payload      webhook.Payload
	Metadata     webhook.Metadata
	Data         map[string]any
	Priority     webhook.Priority
	Status       Status
	AttemptCount int
	MaxAttempts  int
	ScheduledAt  time.Time
	LastError    string
	LastStatus   int
	DeliveredAt  time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

/* jobQueue keeps jobs ordered by (priority desc, scheduled_at asc)
 * This is a re-sorted slice rather than a heap: the retry scheduler orders
 * by time alone and the two queues use different tie-break rules
 */
type jobQueue struct {
	jobs []*Job
}

func (q *jobQueue) push(job *Job) {
	q.jobs = append(q.jobs, job)
	sort.SliceStable(q.jobs, func(i, j int) bool {
		if q.jobs[i].Priority != q.jobs[j].Priority {
			return q.jobs[i].Priority > q.jobs[j].Priority
		}
		return q.jobs[i].ScheduledAt.Before(q.jobs[j].ScheduledAt)
	})
}

// popDue removes and returns the first job whose ScheduledAt has passed,
// scanning in queue order so higher priorities win among due jobs
func (q *jobQueue) popDue(now time.Time) *Job {
	for i, job := range q.jobs {
		if !job.ScheduledAt.After(now) {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			return job
		}
	}
	return nil
}

func (q *jobQueue) remove(id string) *Job {
	for i, job := range q.jobs {
		if job.ID == id {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			return job
		}
	}
	return nil
}

func (q *jobQueue) len() int {
	return len(q.jobs)
}
