package processor

import (
	"context"
	"time"

	"github.com/einvoiceng/firshook/webhook"
)

/* Handler is the contract for one event family's business processing
 * Handlers are tried in registration order and the first whose CanHandle
 * returns true wins; a later handler claiming the same event type is
 * silently shadowed, so registration order is part of the configuration
 */
type Handler interface {
	// CanHandle reports whether this handler processes the event
	CanHandle(eventType string, data map[string]any) bool

	// Process executes the business logic for one attempt
	Process(ctx context.Context, payload webhook.Payload, metadata webhook.Metadata, pctx webhook.ProcessingContext) (webhook.ProcessingResult, error)

	// Priority orders downstream dispatch for events this handler produces
	Priority() webhook.Priority

	// Timeout is the wall-clock budget for one Process call
	Timeout() time.Duration
}
