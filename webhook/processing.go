package webhook

import "time"

// Error codes carried by ProcessingResult when processing fails
const (
	ErrCodeNoHandler       = "NO_HANDLER"
	ErrCodeTimeout         = "TIMEOUT"
	ErrCodeUnexpectedError = "UNEXPECTED_ERROR"
	ErrCodeHandlerFailed   = "HANDLER_FAILED"
)

/* ProcessingContext is the ephemeral per-attempt state handed to a handler
 * A fresh one is built for every attempt, including retries
 */
type ProcessingContext struct {
	EventID      string
	ProcessingID string
	AttemptCount int
	MaxAttempts  int
	Priority     Priority
	Timeout      time.Duration
	StartedAt    time.Time
}

// ProcessingResult is the outcome of one processing attempt
type ProcessingResult struct {
	Success bool
	Status  ProcessingStatus
	Message string

	// Data is handler output forwarded to downstream dispatch targets
	Data map[string]any

	// ErrorCode is set on failure; NO_HANDLER is terminal, TIMEOUT and
	// UNEXPECTED_ERROR are retryable
	ErrorCode string

	// RetryAfter is the handler's suggested delay in seconds before retrying
	RetryAfter int

	// NextActions names follow-up actions for external collaborators
	NextActions []string
}

// Retryable reports whether the failure may be handed to the retry scheduler
func (r ProcessingResult) Retryable() bool {
	return !r.Success && r.ErrorCode != ErrCodeNoHandler
}
