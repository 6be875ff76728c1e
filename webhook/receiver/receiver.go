package receiver

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/einvoiceng/firshook/webhook"
	"github.com/einvoiceng/firshook/webhook/signature"
)

// Defaults applied by New when the config leaves a field zero
const (
	DefaultMaxBodySize = int64(1 << 20) // 1 MiB
	DefaultRateLimit   = 100
	DefaultRateWindow  = 5 * time.Minute
)

/* Error is a transport-level rejection carrying the HTTP status the sender
 * should see; shape and auth failures are terminal for the request
 */
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Config controls the receiver's admission checks
type Config struct {
	// AllowedIPs holds single IPs or CIDR ranges; empty allows all sources
	AllowedIPs []string

	// MaxBodySize is the largest accepted request body in bytes
	MaxBodySize int64

	// RateLimit is the number of requests allowed per source IP per RateWindow
	RateLimit  int
	RateWindow time.Duration

	// Secret enables the sha256=<hex> header precheck when non-empty.
	// This is a simpler convention than the validator's profiles; both exist
	// because upstream sources sign with different header schemes.
	Secret string
}

/* Receiver terminates an inbound request: admission checks, shape validation,
 * and extraction of the typed (Payload, Metadata) pair
 */
type Receiver struct {
	cfg       Config
	allowlist []netip.Prefix
	logger    zerolog.Logger

	mu           sync.Mutex
	windows      map[string][]time.Time
	totalReceive int64
	perEventType map[string]int64
	rejected     int64
}

// New builds a receiver, parsing the allowlist up front
func New(cfg Config, logger zerolog.Logger) (*Receiver, error) {
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = DefaultRateWindow
	}

	allowlist := make([]netip.Prefix, 0, len(cfg.AllowedIPs))
	for _, entry := range cfg.AllowedIPs {
		prefix, err := parseAllowlistEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("parsing allowlist entry %q: %w", entry, err)
		}
		allowlist = append(allowlist, prefix)
	}

	return &Receiver{
		cfg:          cfg,
		allowlist:    allowlist,
		logger:       logger.With().Str("component", "receiver").Logger(),
		windows:      make(map[string][]time.Time),
		perEventType: make(map[string]int64),
	}, nil
}

// Receive turns an inbound request into a typed (Payload, Metadata) pair,
// or fails fast with an *Error carrying 4xx semantics
func (rc *Receiver) Receive(r *http.Request) (webhook.Payload, webhook.Metadata, error) {
	sourceIP := clientIP(r)

	if err := rc.checkAllowlist(sourceIP); err != nil {
		return rc.reject(err)
	}
	if err := rc.checkRateLimit(sourceIP); err != nil {
		return rc.reject(err)
	}

	if r.ContentLength > rc.cfg.MaxBodySize {
		return rc.reject(&Error{http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE",
			fmt.Sprintf("body exceeds %d bytes", rc.cfg.MaxBodySize)})
	}

	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/json") {
		return rc.reject(&Error{http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE",
			"content type must be application/json"})
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, rc.cfg.MaxBodySize+1))
	if err != nil {
		return rc.reject(&Error{http.StatusBadRequest, "UNREADABLE_BODY", "failed to read request body"})
	}
	defer r.Body.Close()

	if int64(len(body)) > rc.cfg.MaxBodySize {
		return rc.reject(&Error{http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE",
			fmt.Sprintf("body exceeds %d bytes", rc.cfg.MaxBodySize)})
	}
	if len(body) == 0 {
		return rc.reject(&Error{http.StatusBadRequest, "EMPTY_BODY", "request body is empty"})
	}

	headers := lowercaseHeaders(r.Header)
	sig := headers["x-firs-signature"]
	if sig == "" {
		sig = headers["verif-hash"]
	}

	if rc.cfg.Secret != "" {
		ok, err := signature.VerifyHex([]byte(rc.cfg.Secret), body, sig)
		if err != nil || !ok {
			return rc.reject(&Error{http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed"})
		}
	}

	payload, err := webhook.ParsePayload(body)
	if err != nil {
		if strings.Contains(err.Error(), "unmarshaling payload") {
			return rc.reject(&Error{http.StatusBadRequest, "INVALID_JSON", "body is not valid JSON"})
		}
		return rc.reject(&Error{http.StatusUnprocessableEntity, "MISSING_FIELDS", err.Error()})
	}

	webhookID := headers["x-webhook-id"]
	if webhookID == "" {
		webhookID = uuid.New().String()
	}

	metadata := webhook.Metadata{
		WebhookID:     webhookID,
		ReceivedAt:    time.Now().UTC(),
		SourceIP:      sourceIP,
		UserAgent:     r.UserAgent(),
		ContentType:   contentType,
		ContentLength: int64(len(body)),
		Headers:       headers,
		Signature:     sig,
		RawBody:       body,
	}

	rc.mu.Lock()
	rc.totalReceive++
	rc.perEventType[payload.EventType]++
	rc.mu.Unlock()

	return payload, metadata, nil
}

func (rc *Receiver) reject(err *Error) (webhook.Payload, webhook.Metadata, error) {
	rc.mu.Lock()
	rc.rejected++
	rc.mu.Unlock()
	rc.logger.Warn().Str("code", err.Code).Int("status", err.Status).Msg(err.Message)
	return webhook.Payload{}, webhook.Metadata{}, err
}

func (rc *Receiver) checkAllowlist(sourceIP string) *Error {
	if len(rc.allowlist) == 0 {
		return nil
	}

	addr, err := netip.ParseAddr(sourceIP)
	if err != nil {
		return &Error{http.StatusForbidden, "IP_NOT_ALLOWED", "source IP is unparseable"}
	}
	for _, prefix := range rc.allowlist {
		if prefix.Contains(addr) {
			return nil
		}
	}
	return &Error{http.StatusForbidden, "IP_NOT_ALLOWED", fmt.Sprintf("source IP %s is not allowed", sourceIP)}
}

// checkRateLimit enforces a sliding window per source IP, evicting entries
// older than the window on each check
func (rc *Receiver) checkRateLimit(sourceIP string) *Error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rc.cfg.RateWindow)

	window := rc.windows[sourceIP]
	kept := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= rc.cfg.RateLimit {
		rc.windows[sourceIP] = kept
		return &Error{http.StatusTooManyRequests, "RATE_LIMITED",
			fmt.Sprintf("more than %d requests in %s", rc.cfg.RateLimit, rc.cfg.RateWindow)}
	}

	rc.windows[sourceIP] = append(kept, now)
	return nil
}

// HealthCheck reports receiver health and its counters
func (rc *Receiver) HealthCheck() webhook.Health {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	perType := make(map[string]int64, len(rc.perEventType))
	for k, n := range rc.perEventType {
		perType[k] = n
	}

	return webhook.Health{
		Status:  webhook.StatusHealthy,
		Service: "webhook_receiver",
		Details: map[string]any{
			"total_received": rc.totalReceive,
			"rejected":       rc.rejected,
			"by_event_type":  perType,
			"tracked_ips":    len(rc.windows),
		},
	}
}

// Stats returns the lifetime admission counters
func (rc *Receiver) Stats() (received, rejected int64) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.totalReceive, rc.rejected
}

// clientIP extracts the source IP, trusting proxy headers first
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return strings.TrimSpace(real)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// parseAllowlistEntry accepts a bare IP or a CIDR range
func parseAllowlistEntry(entry string) (netip.Prefix, error) {
	if strings.Contains(entry, "/") {
		return netip.ParsePrefix(entry)
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// lowercaseHeaders flattens request headers to single values keyed lowercase
func lowercaseHeaders(h http.Header) map[string]string {
	headers := make(map[string]string, len(h))
	for key, values := range h {
		if len(values) > 0 {
			headers[strings.ToLower(key)] = values[0]
		}
	}
	return headers
}
