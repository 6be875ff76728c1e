package targets

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/einvoiceng/firshook/webhook"
	"github.com/einvoiceng/firshook/webhook/dispatch"
	"github.com/einvoiceng/firshook/webhook/retry"
)

/* Loader reads dispatch target configuration from targets.yaml
 * Provides in-memory lookup and registration into a dispatcher
 */

// Config represents the structure of targets.yaml
type Config struct {
	Targets []TargetConfig `yaml:"targets"`
}

// TargetConfig represents a single target in the YAML file
type TargetConfig struct {
	TargetID       string            `yaml:"target_id"`
	Name           string            `yaml:"name"`
	Method         string            `yaml:"method"`
	EndpointURL    string            `yaml:"endpoint_url"`
	Headers        map[string]string `yaml:"headers"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	Auth           AuthConfig        `yaml:"auth"`
	Retry          *RetryConfig      `yaml:"retry"`
	Filter         FilterConfig      `yaml:"filter"`
	Enabled        *bool             `yaml:"enabled"` // Default: true
}

// AuthConfig mirrors dispatch.AuthConfig in YAML form
type AuthConfig struct {
	Type          string `yaml:"type"`
	Token         string `yaml:"token"`
	APIKeyHeader  string `yaml:"api_key_header"`
	APIKey        string `yaml:"api_key"`
	SigningSecret string `yaml:"signing_secret"`
}

// RetryConfig mirrors retry.BackoffConfig in YAML form
type RetryConfig struct {
	MaxAttempts     int     `yaml:"max_attempts"`
	Strategy        string  `yaml:"strategy"`
	BaseDelaySecs   int     `yaml:"base_delay_seconds"`
	MaxDelaySecs    int     `yaml:"max_delay_seconds"`
	Multiplier      float64 `yaml:"multiplier"`
	JitterEnabled   bool    `yaml:"jitter_enabled"`
	JitterMaxSecs   int     `yaml:"jitter_max_seconds"`
	DeadLetterAfter int     `yaml:"dead_letter_after_attempts"`
}

// FilterConfig mirrors dispatch.FilterConfig in YAML form
type FilterConfig struct {
	EventTypes []string       `yaml:"event_types"`
	Fields     map[string]any `yaml:"fields"`
}

// Loader holds the loaded targets
type Loader struct {
	targets map[string]dispatch.Target
}

// NewLoader creates a new target loader
func NewLoader() *Loader {
	return &Loader{
		targets: make(map[string]dispatch.Target),
	}
}

// Load reads and parses the targets.yaml file
func (l *Loader) Load(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading targets file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("parsing targets YAML: %w", err)
	}

	for _, tc := range config.Targets {
		target := tc.toTarget()
		if err := target.Validate(); err != nil {
			return fmt.Errorf("validating target: %w", err)
		}
		l.targets[target.TargetID] = target
	}

	return nil
}

func (tc TargetConfig) toTarget() dispatch.Target {
	target := dispatch.Target{
		TargetID:    tc.TargetID,
		Name:        tc.Name,
		Method:      webhook.NewDispatchMethod(tc.Method),
		EndpointURL: tc.EndpointURL,
		Headers:     tc.Headers,
		Timeout:     time.Duration(tc.TimeoutSeconds) * time.Second,
		Auth: dispatch.AuthConfig{
			Type:          tc.Auth.Type,
			Token:         tc.Auth.Token,
			APIKeyHeader:  tc.Auth.APIKeyHeader,
			APIKey:        tc.Auth.APIKey,
			SigningSecret: tc.Auth.SigningSecret,
		},
		Filter: dispatch.FilterConfig{
			EventTypes: tc.Filter.EventTypes,
			Fields:     tc.Filter.Fields,
		},
		Enabled: tc.Enabled == nil || *tc.Enabled,
	}

	if tc.Retry != nil {
		target.Retry = retry.BackoffConfig{
			MaxAttempts:     tc.Retry.MaxAttempts,
			Strategy:        retry.NewStrategy(tc.Retry.Strategy),
			BaseDelay:       time.Duration(tc.Retry.BaseDelaySecs) * time.Second,
			MaxDelay:        time.Duration(tc.Retry.MaxDelaySecs) * time.Second,
			Multiplier:      tc.Retry.Multiplier,
			JitterEnabled:   tc.Retry.JitterEnabled,
			JitterMax:       time.Duration(tc.Retry.JitterMaxSecs) * time.Second,
			DeadLetterAfter: tc.Retry.DeadLetterAfter,
		}
	} else {
		target.Retry = dispatch.DefaultTargetRetry()
	}

	return target
}

// Get retrieves a target by its ID
func (l *Loader) Get(targetID string) (dispatch.Target, error) {
	target, exists := l.targets[targetID]
	if !exists {
		return dispatch.Target{}, fmt.Errorf("target not found: %s", targetID)
	}
	return target, nil
}

// List returns all loaded targets
func (l *Loader) List() []dispatch.Target {
	targets := make([]dispatch.Target, 0, len(l.targets))
	for _, target := range l.targets {
		targets = append(targets, target)
	}
	return targets
}

// Exists checks if a target ID exists
func (l *Loader) Exists(targetID string) bool {
	_, exists := l.targets[targetID]
	return exists
}

// Apply registers every loaded target with the dispatcher
func (l *Loader) Apply(d *dispatch.Dispatcher) error {
	for _, target := range l.targets {
		if err := d.RegisterTarget(target); err != nil {
			return fmt.Errorf("registering target %s: %w", target.TargetID, err)
		}
	}
	return nil
}
