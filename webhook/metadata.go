package webhook

import "time"

/* Metadata captures the transport-level facts about one inbound request
 * Created once per request by the receiver, immutable afterwards
 */
type Metadata struct {
	WebhookID     string
	ReceivedAt    time.Time
	SourceIP      string
	UserAgent     string
	ContentType   string
	ContentLength int64
	Headers       map[string]string
	Signature     string

	// RawBody holds the exact bytes the signature covers; re-marshaling the
	// parsed payload would not round-trip key order or whitespace
	RawBody []byte
}

// Header returns a header value by its canonical lowercase name, or ""
func (m Metadata) Header(name string) string {
	return m.Headers[name]
}
