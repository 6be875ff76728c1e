package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/einvoiceng/firshook/webhook"
	"github.com/einvoiceng/firshook/webhook/signature"
)

const userAgent = "firshook-dispatcher/1.0"

// outboundBody is the JSON shape posted to webhook targets
type outboundBody struct {
	EventType string         `json:"event_type"`
	EventID   string         `json:"event_id"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
	Metadata  map[string]any `json:"metadata"`
}

/* WebhookHandler delivers jobs over HTTP POST
 * A 2xx or 3xx response counts as delivered; 4xx and 5xx are failures and go
 * through the job's retry budget like transport errors
 */
type WebhookHandler struct {
	client *http.Client
}

// NewWebhookHandler creates an HTTP dispatch handler. A nil client uses
// http.DefaultClient; per-attempt timeouts come from the target
func NewWebhookHandler(client *http.Client) *WebhookHandler {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookHandler{client: client}
}

// CanHandle reports whether this handler serves the given method
func (h *WebhookHandler) CanHandle(method webhook.DispatchMethod) bool {
	return method == webhook.MethodWebhook
}

// Dispatch posts the job payload to the target endpoint
func (h *WebhookHandler) Dispatch(ctx context.Context, job *Job, target Target) (Result, error) {
	body, err := json.Marshal(outboundBody{
		EventType: job.Payload.EventType,
		EventID:   job.Payload.EventID,
		Timestamp: job.Payload.Timestamp.UTC().Format(time.RFC3339),
		Data:      job.Data,
		Metadata: map[string]any{
			"webhook_id": job.Metadata.WebhookID,
			"source":     job.Payload.Source,
			"job_id":     job.ID,
			"attempt":    job.AttemptCount,
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshaling dispatch body: %w", err)
	}

	timeout := target.Timeout
	if timeout <= 0 {
		timeout = DefaultTargetTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, target.EndpointURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("building dispatch request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Event-Type", job.Payload.EventType)
	req.Header.Set("X-Job-ID", job.ID)
	req.Header.Set("X-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	for name, value := range target.Headers {
		req.Header.Set(name, value)
	}

	switch target.Auth.Type {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+target.Auth.Token)
	case "api_key":
		req.Header.Set(target.Auth.APIKeyHeader, target.Auth.APIKey)
	}
	if target.Auth.SigningSecret != "" {
		req.Header.Set("X-FIRS-Signature", signature.SignHex([]byte(target.Auth.SigningSecret), body))
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return Result{Duration: elapsed}, fmt.Errorf("posting to %s: %w", target.EndpointURL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= http.StatusBadRequest {
		return Result{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("target responded %d", resp.StatusCode),
			Duration:   elapsed,
		}, nil
	}

	return Result{
		Success:    true,
		StatusCode: resp.StatusCode,
		Message:    "delivered",
		Duration:   elapsed,
	}, nil
}

// VerifyDelivery reports whether the last attempt for the job succeeded.
// HTTP delivery has no out-of-band receipt, so this checks the recorded status
func (h *WebhookHandler) VerifyDelivery(_ context.Context, job *Job, _ Target) bool {
	return job.Status == Delivered && job.LastStatus < http.StatusBadRequest
}
