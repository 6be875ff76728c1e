package retry

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

/* Strategy selects the function mapping attempt number to delay
 * All three are capped at the config's MaxDelay before jitter is added
 */
type Strategy int

const (
	Fixed Strategy = iota + 1
	Linear
	Exponential
)

// String returns the string representation of the strategy
func (s Strategy) String() string {
	switch s {
	case Fixed:
		return "fixed"
	case Linear:
		return "linear"
	case Exponential:
		return "exponential"
	default:
		return "unknown"
	}
}

// NewStrategy creates a Strategy from a string
func NewStrategy(str string) Strategy {
	switch str {
	case "fixed":
		return Fixed
	case "linear":
		return Linear
	case "exponential":
		return Exponential
	default:
		return Exponential // default to exponential for safety
	}
}

// Validate checks if the strategy is valid
func (s Strategy) Validate() error {
	if s < Fixed || s > Exponential {
		return fmt.Errorf("invalid backoff strategy: %d", s)
	}
	return nil
}

// BackoffConfig is one retry profile; the zero value is unusable, use
// DefaultBackoffConfig as the starting point
type BackoffConfig struct {
	MaxAttempts     int
	Strategy        Strategy
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	JitterEnabled   bool
	JitterMax       time.Duration
	DeadLetterAfter int
}

// DefaultBackoffConfig returns the default retry profile: exponential,
// base 60s, capped at 3600s, doubling per attempt, five attempts
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		MaxAttempts:     5,
		Strategy:        Exponential,
		BaseDelay:       60 * time.Second,
		MaxDelay:        3600 * time.Second,
		Multiplier:      2.0,
		DeadLetterAfter: 10,
	}
}

// Validate checks the profile is usable
func (c BackoffConfig) Validate() error {
	if err := c.Strategy.Validate(); err != nil {
		return err
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	if c.BaseDelay <= 0 {
		return fmt.Errorf("base_delay must be positive")
	}
	if c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("max_delay cannot be below base_delay")
	}
	if c.Strategy == Exponential && c.Multiplier < 1 {
		return fmt.Errorf("multiplier must be at least 1")
	}
	return nil
}

// Delay computes the wait before the given attempt (1-based). The
// deterministic part is capped at MaxDelay; jitter is added after the cap.
func (c BackoffConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var delay time.Duration
	switch c.Strategy {
	case Fixed:
		delay = c.BaseDelay
	case Linear:
		delay = time.Duration(attempt) * c.BaseDelay
	case Exponential:
		delay = time.Duration(float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt-1)))
	default:
		delay = c.BaseDelay
	}

	if delay > c.MaxDelay || delay < 0 {
		delay = c.MaxDelay
	}

	if c.JitterEnabled && c.JitterMax > 0 {
		delay += rand.N(c.JitterMax)
	}

	return delay
}
