package dispatch

import (
	"context"
	"time"

	"github.com/einvoiceng/firshook/webhook"
)

// Result reports the outcome of one delivery attempt
type Result struct {
	Success    bool
	StatusCode int
	Message    string
	Duration   time.Duration
}

/* DispatchHandler delivers jobs for one or more dispatch methods
 * The dispatcher asks each registered handler CanHandle in order and uses the
 * first match. Dispatch errors are retryable; a Result with Success false and
 * no error is also retried until the job's attempts run out
 */
type DispatchHandler interface {
	CanHandle(method webhook.DispatchMethod) bool
	Dispatch(ctx context.Context, job *Job, target Target) (Result, error)
	VerifyDelivery(ctx context.Context, job *Job, target Target) bool
}
