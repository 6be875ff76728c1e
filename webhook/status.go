package webhook

import "fmt"

/* ProcessingStatus represents the state of one processing attempt
 * Follows the lifecycle: Pending -> Processing -> Completed/Failed/Retrying/DeadLetter
 */
type ProcessingStatus int

const (
	Pending ProcessingStatus = iota + 1
	Processing
	Completed
	Failed
	Retrying
	DeadLetter
)

// String returns the string representation of the status
func (s ProcessingStatus) String() string {
	switch s {
	case Pending:
		return "pending"
	case Processing:
		return "processing"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Retrying:
		return "retrying"
	case DeadLetter:
		return "dead_letter"
	default:
		return "unknown"
	}
}

// NewProcessingStatus creates a ProcessingStatus from a string
func NewProcessingStatus(str string) ProcessingStatus {
	switch str {
	case "pending":
		return Pending
	case "processing":
		return Processing
	case "completed":
		return Completed
	case "failed":
		return Failed
	case "retrying":
		return Retrying
	case "dead_letter":
		return DeadLetter
	default:
		return Pending
	}
}

// Validate checks if the status is valid
func (s ProcessingStatus) Validate() error {
	if s < Pending || s > DeadLetter {
		return fmt.Errorf("invalid processing status: %d", s)
	}
	return nil
}

// IsFinal returns true if the status is a terminal state
func (s ProcessingStatus) IsFinal() bool {
	return s == Completed || s == Failed || s == DeadLetter
}
