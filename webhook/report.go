package webhook

import (
	"fmt"
	"time"
)

/* ValidationResult represents the outcome of a signature validation call
 * Only Valid means the payload is authentic; every other value names the
 * first check that failed
 */
type ValidationResult int

const (
	Valid ValidationResult = iota + 1
	Invalid
	Expired
	Malformed
	AlgorithmMismatch
	KeyNotFound
	ReplayAttack
)

// String returns the string representation of the validation result
func (v ValidationResult) String() string {
	switch v {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	case Expired:
		return "expired"
	case Malformed:
		return "malformed"
	case AlgorithmMismatch:
		return "algorithm_mismatch"
	case KeyNotFound:
		return "key_not_found"
	case ReplayAttack:
		return "replay_attack"
	default:
		return "unknown"
	}
}

// Validate checks if the validation result is valid
func (v ValidationResult) Validate() error {
	if v < Valid || v > ReplayAttack {
		return fmt.Errorf("invalid validation result: %d", v)
	}
	return nil
}

// ValidationReport is produced once per validation call and never mutated
type ValidationReport struct {
	Result           ValidationResult
	AlgorithmUsed    string
	TimestampValid   bool
	Message          string
	ErrorDetails     string
	SecurityWarnings []string
	ValidatedAt      time.Time
}

// IsValid reports whether the payload passed every check
func (r ValidationReport) IsValid() bool {
	return r.Result == Valid
}
