package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/einvoiceng/firshook/webhook"
)

/* Reference handlers for the FIRS e-invoicing event families
 * These validate and extract the domain fields downstream consumers need;
 * the actual business side effects live with the dispatch targets
 */

// SubmissionStatusHandler processes submission.status events carrying the
// IRN and the authority's verdict for a submitted invoice
type SubmissionStatusHandler struct{}

func (h SubmissionStatusHandler) CanHandle(eventType string, _ map[string]any) bool {
	return eventType == "submission.status"
}

func (h SubmissionStatusHandler) Priority() webhook.Priority { return webhook.High }

func (h SubmissionStatusHandler) Timeout() time.Duration { return 30 * time.Second }

func (h SubmissionStatusHandler) Process(_ context.Context, payload webhook.Payload, _ webhook.Metadata, _ webhook.ProcessingContext) (webhook.ProcessingResult, error) {
	irn := payload.DataString("irn")
	if irn == "" {
		return webhook.ProcessingResult{
			Status:    webhook.Failed,
			Message:   "submission.status event is missing irn",
			ErrorCode: webhook.ErrCodeHandlerFailed,
		}, nil
	}

	status := payload.DataString("status")
	result := webhook.ProcessingResult{
		Success: true,
		Status:  webhook.Completed,
		Message: fmt.Sprintf("submission %s is %s", irn, status),
		Data: map[string]any{
			"irn":    irn,
			"status": status,
			"csid":   payload.DataString("csid"),
		},
	}

	switch status {
	case "approved":
		result.NextActions = []string{"update_invoice_status", "notify_merchant"}
	case "rejected":
		result.NextActions = []string{"update_invoice_status", "flag_for_review"}
	default:
		result.NextActions = []string{"update_invoice_status"}
	}

	return result, nil
}

// InvoiceHandler processes invoice.approved and invoice.rejected events
type InvoiceHandler struct{}

func (h InvoiceHandler) CanHandle(eventType string, _ map[string]any) bool {
	return eventType == "invoice.approved" || eventType == "invoice.rejected"
}

func (h InvoiceHandler) Priority() webhook.Priority { return webhook.Normal }

func (h InvoiceHandler) Timeout() time.Duration { return 30 * time.Second }

func (h InvoiceHandler) Process(_ context.Context, payload webhook.Payload, _ webhook.Metadata, _ webhook.ProcessingContext) (webhook.ProcessingResult, error) {
	invoiceID := payload.DataString("invoice_id")
	if invoiceID == "" {
		invoiceID = payload.DataString("irn")
	}
	if invoiceID == "" {
		return webhook.ProcessingResult{
			Status:    webhook.Failed,
			Message:   "invoice event is missing invoice_id",
			ErrorCode: webhook.ErrCodeHandlerFailed,
		}, nil
	}

	approved := payload.EventType == "invoice.approved"
	result := webhook.ProcessingResult{
		Success: true,
		Status:  webhook.Completed,
		Message: fmt.Sprintf("invoice %s processed", invoiceID),
		Data: map[string]any{
			"invoice_id": invoiceID,
			"approved":   approved,
		},
	}
	if approved {
		result.NextActions = []string{"release_invoice"}
	} else {
		result.NextActions = []string{"hold_invoice", "notify_merchant"}
	}

	return result, nil
}

// TransmissionStatusHandler processes transmission.* progress events
type TransmissionStatusHandler struct{}

func (h TransmissionStatusHandler) CanHandle(eventType string, _ map[string]any) bool {
	return webhook.Payload{EventType: eventType}.MatchesEventType([]string{"transmission.*"})
}

func (h TransmissionStatusHandler) Priority() webhook.Priority { return webhook.Normal }

func (h TransmissionStatusHandler) Timeout() time.Duration { return 15 * time.Second }

func (h TransmissionStatusHandler) Process(_ context.Context, payload webhook.Payload, _ webhook.Metadata, _ webhook.ProcessingContext) (webhook.ProcessingResult, error) {
	return webhook.ProcessingResult{
		Success: true,
		Status:  webhook.Completed,
		Message: fmt.Sprintf("transmission update for %s", payload.DataString("transmission_id")),
		Data: map[string]any{
			"transmission_id": payload.DataString("transmission_id"),
			"status":          payload.DataString("status"),
		},
		NextActions: []string{"update_transmission_log"},
	}, nil
}
