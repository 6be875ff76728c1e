package webhook

import "fmt"

/* DispatchMethod represents how processed events reach a downstream target
 * The method selects which dispatch handler delivers the job
 */
type DispatchMethod int

const (
	MethodWebhook DispatchMethod = iota + 1
	MethodMessageQueue
	MethodDatabase
	MethodEmail
)

// String returns the string representation of the dispatch method
func (m DispatchMethod) String() string {
	switch m {
	case MethodWebhook:
		return "webhook"
	case MethodMessageQueue:
		return "message_queue"
	case MethodDatabase:
		return "database"
	case MethodEmail:
		return "email"
	default:
		return "unknown"
	}
}

// NewDispatchMethod creates a DispatchMethod from a string
func NewDispatchMethod(s string) DispatchMethod {
	switch s {
	case "webhook":
		return MethodWebhook
	case "message_queue":
		return MethodMessageQueue
	case "database":
		return MethodDatabase
	case "email":
		return MethodEmail
	default:
		return MethodWebhook // default to webhook for safety
	}
}

// Validate checks if the dispatch method is valid
func (m DispatchMethod) Validate() error {
	if m < MethodWebhook || m > MethodEmail {
		return fmt.Errorf("invalid dispatch method: %d", m)
	}
	return nil
}
