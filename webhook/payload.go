package webhook

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// eventTypePattern validates event types: hierarchical, full-stop delimited, [a-zA-Z0-9_.]
var eventTypePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+(\.[a-zA-Z0-9_]+)*$`)

/* Payload represents a parsed webhook event from the e-invoicing authority
 * Uses value semantics as it represents data, not behavior
 * Immutable once parsed, except RetryCount which is bumped on re-queue
 */
type Payload struct {
	// EventType is a full-stop delimited type associated with the event
	// Examples: "submission.status", "invoice.approved", "transmission.status"
	EventType string

	// EventID is unique per source and used for replay detection and tracing
	EventID string

	// Timestamp is when the event occurred at the source
	Timestamp time.Time

	// Source identifies the emitting system (e.g. "firs")
	Source string

	// Data is the open event body; field names are owned by the source
	Data map[string]any

	// Version is the payload schema version declared by the source
	Version string

	// RetryCount is how many times this payload has been re-queued for processing
	RetryCount int
}

// payloadWire is the JSON shape of an inbound payload
type payloadWire struct {
	Event      string          `json:"event"`
	EventID    string          `json:"event_id"`
	Timestamp  json.RawMessage `json:"timestamp"`
	Source     string          `json:"source"`
	Data       map[string]any  `json:"data"`
	Version    string          `json:"version"`
	RetryCount int             `json:"retry_count"`
}

// Validate checks the payload carries the fields every event must have
func (p Payload) Validate() error {
	if p.EventType == "" {
		return fmt.Errorf("event is required")
	}
	if !eventTypePattern.MatchString(p.EventType) {
		return fmt.Errorf("event must be hierarchical and contain only [a-zA-Z0-9_.]: %s", p.EventType)
	}
	if p.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if p.Data == nil {
		return fmt.Errorf("data is required")
	}
	return nil
}

// ParsePayload parses a JSON body into a Payload
// The timestamp field accepts RFC3339 or a Unix epoch number; when absent it
// defaults to the time of parsing.
func ParsePayload(body []byte) (Payload, error) {
	var wire payloadWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return Payload{}, fmt.Errorf("unmarshaling payload: %w", err)
	}

	ts := time.Now().UTC()
	if len(wire.Timestamp) > 0 && string(wire.Timestamp) != "null" {
		parsed, err := ParseEventTimestamp(strings.Trim(string(wire.Timestamp), `"`))
		if err != nil {
			return Payload{}, fmt.Errorf("parsing timestamp: %w", err)
		}
		ts = parsed
	}

	payload := Payload{
		EventType:  wire.Event,
		EventID:    wire.EventID,
		Timestamp:  ts,
		Source:     wire.Source,
		Data:       wire.Data,
		Version:    wire.Version,
		RetryCount: wire.RetryCount,
	}

	if err := payload.Validate(); err != nil {
		return Payload{}, err
	}

	return payload, nil
}

// Bytes returns the JSON encoding of the payload in wire shape
func (p Payload) Bytes() ([]byte, error) {
	return json.Marshal(payloadWire{
		Event:      p.EventType,
		EventID:    p.EventID,
		Timestamp:  json.RawMessage(strconv.Quote(p.Timestamp.UTC().Format(time.RFC3339Nano))),
		Source:     p.Source,
		Data:       p.Data,
		Version:    p.Version,
		RetryCount: p.RetryCount,
	})
}

// DataString returns a string field from the event data, or "" when absent
func (p Payload) DataString(key string) string {
	if v, ok := p.Data[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// MatchesEventType checks if the payload's type matches any of the given event types
// Supports exact matching and prefix matching (e.g., "invoice.*" matches "invoice.approved")
func (p Payload) MatchesEventType(eventTypes []string) bool {
	if len(eventTypes) == 0 {
		// No filter means accept all
		return true
	}

	for _, eventType := range eventTypes {
		if p.EventType == eventType {
			return true
		}

		if strings.HasSuffix(eventType, ".*") {
			prefix := strings.TrimSuffix(eventType, ".*")
			if strings.HasPrefix(p.EventType, prefix+".") {
				return true
			}
		}
	}

	return false
}

// ValidateEventType validates an event type format, allowing a wildcard suffix
func ValidateEventType(eventType string) error {
	if eventType == "" {
		return fmt.Errorf("event type cannot be empty")
	}

	trimmed := strings.TrimSuffix(eventType, ".*")
	if !eventTypePattern.MatchString(trimmed) {
		return fmt.Errorf("event type must be hierarchical and contain only [a-zA-Z0-9_.]: %s", eventType)
	}

	return nil
}

// ParseEventTimestamp parses a timestamp that may be a Unix epoch (seconds,
// with or without fraction) or an RFC3339 string. Both conventions appear in
// the authority's webhook traffic.
func ParseEventTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("timestamp is empty")
	}

	if epoch, err := strconv.ParseFloat(value, 64); err == nil {
		sec := int64(epoch)
		nsec := int64((epoch - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec).UTC(), nil
	}

	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		ts, err = time.Parse(time.RFC3339, value)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", value, err)
		}
	}
	return ts.UTC(), nil
}
