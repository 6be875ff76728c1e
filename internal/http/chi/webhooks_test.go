package chi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/einvoiceng/firshook/webhook"
	"github.com/einvoiceng/firshook/webhook/dispatch"
	"github.com/einvoiceng/firshook/webhook/manager"
	"github.com/einvoiceng/firshook/webhook/retry"
)

const testSecret = "firs-shared-secret"

func testMux(t *testing.T) (*manager.Manager, http.Handler) {
	t.Helper()
	m, err := manager.New(manager.Config{
		Retry: retry.Config{
			PollInterval:  5 * time.Millisecond,
			MaxConcurrent: 2,
			Default: retry.BackoffConfig{
				MaxAttempts: 2,
				Strategy:    retry.Fixed,
				BaseDelay:   time.Millisecond,
				MaxDelay:    time.Millisecond,
			},
		},
		Dispatch: dispatch.Config{
			PollInterval:  5 * time.Millisecond,
			MaxConcurrent: 2,
		},
		FIRSSecret:    testSecret,
		ShutdownGrace: 2 * time.Second,
	}, zerolog.Nop())
	require.NoError(t, err)
	return m, Handlers(context.Background(), m, nil, "", nil)
}

func signedWebhook(t *testing.T, eventType, eventID string) *http.Request {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event":     eventType,
		"event_id":  eventID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"source":    "firs",
		"data":      map[string]any{"irn": "IRN123", "status": "approved"},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-ID", eventID)
	req.Header.Set("X-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))

	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	req.Header.Set("X-FIRS-Signature", hex.EncodeToString(mac.Sum(nil)))
	return req
}

func TestPostWebhook(t *testing.T) {
	t.Run("accepted event returns 200 with dispatch jobs", func(t *testing.T) {
		m, h := testMux(t)
		require.NoError(t, m.Dispatcher().RegisterTarget(dispatch.Target{
			TargetID: "erp",
			Name:     "erp",
			Method:   webhook.MethodMessageQueue,
			Enabled:  true,
		}))
		m.StartServices(context.Background())
		defer m.StopServices()

		w := httptest.NewRecorder()
		h.ServeHTTP(w, signedWebhook(t, "submission.status", "e1"))

		require.Equal(t, http.StatusOK, w.Code)
		var resp webhookResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "e1", resp.EventID)
		assert.Equal(t, "completed", resp.Status)
		assert.Len(t, resp.DispatchJobIDs, 1)
	})

	t.Run("tampered signature returns 401", func(t *testing.T) {
		_, h := testMux(t)

		req := signedWebhook(t, "submission.status", "e2")
		req.Header.Set("X-FIRS-Signature", hex.EncodeToString(bytes.Repeat([]byte{0xAB}, 32)))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		require.Equal(t, http.StatusUnauthorized, w.Code)
		var resp errorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "INVALID_SIGNATURE", resp.Error)
	})

	t.Run("unhandled event type returns 422", func(t *testing.T) {
		_, h := testMux(t)

		w := httptest.NewRecorder()
		h.ServeHTTP(w, signedWebhook(t, "unknown.event", "e3"))

		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		var resp webhookResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, webhook.ErrCodeNoHandler, resp.ErrorCode)
		assert.Empty(t, resp.RetryJobID)
	})
}

func TestHealthAndStatus(t *testing.T) {
	t.Run("health reports 503 before the pipeline starts", func(t *testing.T) {
		_, h := testMux(t)

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("status lists all pipeline services", func(t *testing.T) {
		m, h := testMux(t)
		m.StartServices(context.Background())
		defer m.StopServices()

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/status", nil))

		require.Equal(t, http.StatusOK, w.Code)
		var status manager.Status
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
		assert.Equal(t, webhook.StatusHealthy, status.Status)
		assert.Len(t, status.Services, 5)
	})
}

func TestTargetAdmin(t *testing.T) {
	m, h := testMux(t)
	require.NoError(t, m.Dispatcher().RegisterTarget(dispatch.Target{
		TargetID:    "erp",
		Name:        "ERP sync",
		Method:      webhook.MethodWebhook,
		EndpointURL: "https://erp.example.com/hooks",
		Auth:        dispatch.AuthConfig{Type: "bearer", Token: "s3cret"},
		Filter:      dispatch.FilterConfig{EventTypes: []string{"submission.*"}},
		Enabled:     true,
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/targets", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var results []targetResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "erp", results[0].TargetID)
	assert.Equal(t, "webhook", results[0].Method)
	assert.Equal(t, []string{"submission.*"}, results[0].EventTypes)
	assert.NotContains(t, w.Body.String(), "s3cret")
}

func TestRetryAdmin(t *testing.T) {
	t.Run("queue snapshot starts empty", func(t *testing.T) {
		_, h := testMux(t)

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/retries", nil))

		require.Equal(t, http.StatusOK, w.Code)
		var resp retryQueueResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Zero(t, resp.Pending)
		assert.Empty(t, resp.DeadLetters)
	})

	t.Run("requeue of unknown job returns 404", func(t *testing.T) {
		_, h := testMux(t)

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/retries/nope/requeue", nil))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("cancel of unknown job returns 404", func(t *testing.T) {
		_, h := testMux(t)

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/v1/retries/nope", nil))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
