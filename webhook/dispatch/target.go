package dispatch

import (
	"fmt"
	"net/url"
	"time"

	"github.com/einvoiceng/firshook/webhook"
	"github.com/einvoiceng/firshook/webhook/retry"
)

// DefaultTargetTimeout bounds one delivery attempt when the target sets none
const DefaultTargetTimeout = 30 * time.Second

// AuthConfig describes how outbound calls to a target authenticate
type AuthConfig struct {
	// Type is "bearer", "api_key" or "" for none
	Type string

	// Token is the bearer token when Type is "bearer"
	Token string

	// APIKeyHeader and APIKey configure header-based keys when Type is "api_key"
	APIKeyHeader string
	APIKey       string

	// SigningSecret, when set, adds a sha256=<hex> signature header to the body
	SigningSecret string
}

// Validate checks the auth configuration is coherent
func (a AuthConfig) Validate() error {
	switch a.Type {
	case "":
		return nil
	case "bearer":
		if a.Token == "" {
			return fmt.Errorf("bearer auth requires a token")
		}
	case "api_key":
		if a.APIKeyHeader == "" || a.APIKey == "" {
			return fmt.Errorf("api_key auth requires a header name and key")
		}
	default:
		return fmt.Errorf("unknown auth type: %s", a.Type)
	}
	return nil
}

// FilterConfig narrows which events a target receives
type FilterConfig struct {
	// EventTypes is an allowlist supporting "prefix.*" wildcards; empty accepts all
	EventTypes []string

	// Fields requires payload data fields to equal the given values
	Fields map[string]any
}

// Matches reports whether the payload passes the target's filters
func (f FilterConfig) Matches(payload webhook.Payload) bool {
	if !payload.MatchesEventType(f.EventTypes) {
		return false
	}
	for key, want := range f.Fields {
		if got, ok := payload.Data[key]; !ok || got != want {
			return false
		}
	}
	return true
}

/* Target is one configured downstream destination
 * Targets live in an in-memory registry keyed by TargetID; registration is
 * last-write-wins, there is no versioning
 */
type Target struct {
	TargetID    string
	Name        string
	Method      webhook.DispatchMethod
	EndpointURL string
	Auth        AuthConfig
	Headers     map[string]string
	Timeout     time.Duration
	Retry       retry.BackoffConfig
	Filter      FilterConfig
	Enabled     bool
}

// Validate checks the target configuration
func (t Target) Validate() error {
	if t.TargetID == "" {
		return fmt.Errorf("target_id cannot be empty")
	}
	if err := t.Method.Validate(); err != nil {
		return fmt.Errorf("invalid method for target %s: %w", t.TargetID, err)
	}
	if t.Method == webhook.MethodWebhook {
		if t.EndpointURL == "" {
			return fmt.Errorf("endpoint_url cannot be empty for target %s", t.TargetID)
		}
		if _, err := url.ParseRequestURI(t.EndpointURL); err != nil {
			return fmt.Errorf("invalid endpoint_url for target %s: %w", t.TargetID, err)
		}
	}
	if err := t.Auth.Validate(); err != nil {
		return fmt.Errorf("invalid auth for target %s: %w", t.TargetID, err)
	}
	if t.Retry.MaxAttempts > 0 {
		if err := t.Retry.Validate(); err != nil {
			return fmt.Errorf("invalid retry config for target %s: %w", t.TargetID, err)
		}
	}
	for _, eventType := range t.Filter.EventTypes {
		if err := webhook.ValidateEventType(eventType); err != nil {
			return fmt.Errorf("invalid event_type for target %s: %w", t.TargetID, err)
		}
	}
	return nil
}

// DefaultTargetRetry is the per-target retry profile applied when a target
// configures none: exponential, base 30s, capped at 600s, three attempts
func DefaultTargetRetry() retry.BackoffConfig {
	return retry.BackoffConfig{
		MaxAttempts: 3,
		Strategy:    retry.Exponential,
		BaseDelay:   30 * time.Second,
		MaxDelay:    600 * time.Second,
		Multiplier:  2.0,
	}
}
