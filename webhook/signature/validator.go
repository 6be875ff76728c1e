package signature

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/einvoiceng/firshook/webhook"
)

// attackWindow and attackThreshold drive the under_attack health status:
// this many replay rejections inside the window flips the validator's health
const (
	attackWindow    = 5 * time.Minute
	attackThreshold = 25
)

/* Profile is one named signing scheme registered with the Validator
 * A deployment typically registers one profile per upstream source
 */
type Profile struct {
	Name             string
	Algorithm        Algorithm
	SecretKey        string
	PublicKey        string
	Tolerance        time.Duration
	RequireTimestamp bool
	PreventReplay    bool
	MaxBodySize      int64
}

// Validate checks the profile is usable
func (p Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile name cannot be empty")
	}
	if err := p.Algorithm.Validate(); err != nil {
		return err
	}
	if p.Algorithm.Symmetric() && p.SecretKey == "" {
		return fmt.Errorf("secret_key is required for %s", p.Algorithm)
	}
	if !p.Algorithm.Symmetric() && p.PublicKey == "" {
		return fmt.Errorf("public_key is required for %s", p.Algorithm)
	}
	if p.Tolerance < 0 {
		return fmt.Errorf("tolerance cannot be negative")
	}
	if p.MaxBodySize < 0 {
		return fmt.Errorf("max_body_size cannot be negative")
	}
	return nil
}

/* Validator authenticates raw payloads against named profiles
 * The contract is "always returns a report": verification errors, bad keys
 * and panics inside a verifier all become a ValidationReport, never an error
 */
type Validator struct {
	mu        sync.RWMutex
	profiles  map[string]Profile
	verifiers []Verifier
	replay    ReplayStore
	logger    zerolog.Logger

	// stats, guarded by mu
	total         int64
	accepted      int64
	rejected      map[string]int64
	replayHits    int64
	attackStarted time.Time
	attackCount   int
}

// NewValidator creates a validator with the default verifier set and the
// given replay store (nil selects the in-memory store)
func NewValidator(replay ReplayStore, logger zerolog.Logger) *Validator {
	if replay == nil {
		replay = NewMemoryReplayStore()
	}
	return &Validator{
		profiles:  make(map[string]Profile),
		verifiers: []Verifier{HMACVerifier{}, RSAVerifier{}, JWTVerifier{}},
		replay:    replay,
		rejected:  make(map[string]int64),
		logger:    logger.With().Str("component", "signature").Logger(),
	}
}

// Configure registers a profile by name; registering the same name again
// replaces the previous profile
func (v *Validator) Configure(profile Profile) error {
	if err := profile.Validate(); err != nil {
		return fmt.Errorf("validating profile: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.profiles[profile.Name] = profile
	return nil
}

// HasProfile reports whether a profile is registered under the name
func (v *Validator) HasProfile(name string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.profiles[name]
	return ok
}

// RegisterVerifier appends a verifier; verifiers are tried in registration order
func (v *Validator) RegisterVerifier(verifier Verifier) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.verifiers = append(v.verifiers, verifier)
}

// ValidateSignature authenticates payload against the named profile.
// headers must carry canonical lowercase names; the timestamp is read from
// x-timestamp or x-webhook-timestamp, the replay key from x-webhook-id.
func (v *Validator) ValidateSignature(ctx context.Context, profileName string, payload []byte, sig string, headers map[string]string, sourceIP string) (report webhook.ValidationReport) {
	report = webhook.ValidationReport{ValidatedAt: time.Now().UTC()}

	defer func() {
		if r := recover(); r != nil {
			v.logger.Error().Interface("panic", r).Str("profile", profileName).Msg("verifier panicked")
			report = webhook.ValidationReport{
				Result:       webhook.Malformed,
				Message:      "signature verification failed",
				ErrorDetails: fmt.Sprintf("panic: %v", r),
				ValidatedAt:  time.Now().UTC(),
			}
		}
		v.record(report)
	}()

	v.mu.RLock()
	profile, ok := v.profiles[profileName]
	verifiers := v.verifiers
	v.mu.RUnlock()

	if !ok {
		report.Result = webhook.Invalid
		report.Message = fmt.Sprintf("profile not configured: %s", profileName)
		return report
	}
	report.AlgorithmUsed = profile.Algorithm.String()

	if profile.MaxBodySize > 0 && int64(len(payload)) > profile.MaxBodySize {
		report.Result = webhook.Invalid
		report.Message = fmt.Sprintf("payload exceeds %d bytes", profile.MaxBodySize)
		return report
	}

	if sig == "" {
		report.Result = webhook.Invalid
		report.Message = "signature is missing"
		return report
	}

	if profile.RequireTimestamp {
		tsHeader := headers["x-timestamp"]
		if tsHeader == "" {
			tsHeader = headers["x-webhook-timestamp"]
		}
		if tsHeader == "" {
			report.Result = webhook.Expired
			report.Message = "timestamp header is required"
			return report
		}

		ts, err := webhook.ParseEventTimestamp(tsHeader)
		if err != nil {
			report.Result = webhook.Expired
			report.Message = "timestamp header is unparseable"
			report.ErrorDetails = err.Error()
			return report
		}

		// Reject both stale and future-dated requests beyond tolerance
		skew := time.Since(ts)
		if skew < 0 {
			skew = -skew
		}
		if skew > profile.Tolerance {
			report.Result = webhook.Expired
			report.Message = fmt.Sprintf("timestamp outside tolerance of %s", profile.Tolerance)
			report.SecurityWarnings = append(report.SecurityWarnings, "stale or future-dated timestamp")
			return report
		}
		report.TimestampValid = true
	}

	replayKey := headers["x-webhook-id"] + ":" + sig
	if profile.PreventReplay {
		seen, err := v.replay.Seen(ctx, replayKey)
		if err != nil {
			v.logger.Warn().Err(err).Msg("replay store check failed")
		}
		if seen {
			v.noteReplay()
			report.Result = webhook.ReplayAttack
			report.Message = "signature was already accepted"
			report.SecurityWarnings = append(report.SecurityWarnings, fmt.Sprintf("replayed signature from %s", sourceIP))
			return report
		}
	}

	var verifier Verifier
	for _, candidate := range verifiers {
		if candidate.CanHandle(profile.Algorithm) {
			verifier = candidate
			break
		}
	}
	if verifier == nil {
		report.Result = webhook.AlgorithmMismatch
		report.Message = fmt.Sprintf("no verifier registered for %s", profile.Algorithm)
		return report
	}

	verification, err := verifier.Verify(payload, sig, profile)
	if err != nil {
		report.Result = webhook.Malformed
		report.Message = "signature verification failed"
		report.ErrorDetails = err.Error()
		return report
	}
	if !verification.Valid {
		report.Result = webhook.Invalid
		report.Message = "signature mismatch"
		return report
	}

	// Record only accepted signatures so failed attempts cannot poison the cache
	if profile.PreventReplay {
		if err := v.replay.Record(ctx, replayKey, ReplayTTL); err != nil {
			v.logger.Warn().Err(err).Msg("replay store record failed")
		}
	}

	report.Result = webhook.Valid
	report.Message = "signature valid"
	return report
}

func (v *Validator) record(report webhook.ValidationReport) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.total++
	if report.Result == webhook.Valid {
		v.accepted++
	} else {
		v.rejected[report.Result.String()]++
	}
}

func (v *Validator) noteReplay() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.replayHits++
	now := time.Now()
	if now.Sub(v.attackStarted) > attackWindow {
		v.attackStarted = now
		v.attackCount = 0
	}
	v.attackCount++
}

// HealthCheck reports validator health; a burst of replay rejections inside
// the attack window is surfaced as under_attack
func (v *Validator) HealthCheck() webhook.Health {
	v.mu.RLock()
	defer v.mu.RUnlock()

	status := webhook.StatusHealthy
	if v.attackCount >= attackThreshold && time.Since(v.attackStarted) <= attackWindow {
		status = webhook.StatusUnderAttack
	}

	rejected := make(map[string]int64, len(v.rejected))
	for k, n := range v.rejected {
		rejected[k] = n
	}

	return webhook.Health{
		Status:  status,
		Service: "signature_validator",
		Details: map[string]any{
			"profiles":    len(v.profiles),
			"total":       v.total,
			"accepted":    v.accepted,
			"rejected":    rejected,
			"replay_hits": v.replayHits,
		},
	}
}
