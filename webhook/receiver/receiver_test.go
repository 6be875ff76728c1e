package receiver_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/einvoiceng/firshook/webhook"
	"github.com/einvoiceng/firshook/webhook/receiver"
	"github.com/einvoiceng/firshook/webhook/signature"
)

func newReceiver(t *testing.T, cfg receiver.Config) *receiver.Receiver {
	t.Helper()
	rc, err := receiver.New(cfg, zerolog.Nop())
	require.NoError(t, err)
	return rc
}

func newRequest(body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/v1/webhooks", bytes.NewBufferString(body))
	r.Header.Set("Content-Type", "application/json")
	r.RemoteAddr = "10.0.0.7:52011"
	return r
}

const validBody = `{"event":"submission.status","event_id":"e1","data":{"irn":"IRN123","status":"approved"}}`

func TestReceive(t *testing.T) {
	t.Run("success - well formed request", func(t *testing.T) {
		rc := newReceiver(t, receiver.Config{})
		r := newRequest(validBody)
		r.Header.Set("X-Webhook-Id", "wh-1")
		r.Header.Set("User-Agent", "firs-notifier/1.0")

		payload, metadata, err := rc.Receive(r)

		require.NoError(t, err)
		assert.Equal(t, "submission.status", payload.EventType)
		assert.Equal(t, "e1", payload.EventID)
		assert.Equal(t, "wh-1", metadata.WebhookID)
		assert.Equal(t, "10.0.0.7", metadata.SourceIP)
		assert.Equal(t, "firs-notifier/1.0", metadata.UserAgent)
		assert.Equal(t, int64(len(validBody)), metadata.ContentLength)
	})

	t.Run("generates webhook id when header absent", func(t *testing.T) {
		rc := newReceiver(t, receiver.Config{})

		_, metadata, err := rc.Receive(newRequest(validBody))

		require.NoError(t, err)
		assert.NotEmpty(t, metadata.WebhookID)
	})

	t.Run("source IP from X-Forwarded-For", func(t *testing.T) {
		rc := newReceiver(t, receiver.Config{})
		r := newRequest(validBody)
		r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

		_, metadata, err := rc.Receive(r)

		require.NoError(t, err)
		assert.Equal(t, "203.0.113.9", metadata.SourceIP)
	})

	t.Run("403 - IP not in allowlist", func(t *testing.T) {
		rc := newReceiver(t, receiver.Config{AllowedIPs: []string{"192.168.1.0/24", "203.0.113.9"}})

		_, _, err := rc.Receive(newRequest(validBody))

		requireStatus(t, err, http.StatusForbidden)
	})

	t.Run("allowlist accepts CIDR member", func(t *testing.T) {
		rc := newReceiver(t, receiver.Config{AllowedIPs: []string{"10.0.0.0/8"}})

		_, _, err := rc.Receive(newRequest(validBody))

		require.NoError(t, err)
	})

	t.Run("413 - declared content length too large", func(t *testing.T) {
		rc := newReceiver(t, receiver.Config{MaxBodySize: 16})
		r := newRequest(validBody)

		_, _, err := rc.Receive(r)

		requireStatus(t, err, http.StatusRequestEntityTooLarge)
	})

	t.Run("415 - wrong content type", func(t *testing.T) {
		rc := newReceiver(t, receiver.Config{})
		r := newRequest(validBody)
		r.Header.Set("Content-Type", "text/plain")

		_, _, err := rc.Receive(r)

		requireStatus(t, err, http.StatusUnsupportedMediaType)
	})

	t.Run("400 - empty body", func(t *testing.T) {
		rc := newReceiver(t, receiver.Config{})

		_, _, err := rc.Receive(newRequest(""))

		requireStatus(t, err, http.StatusBadRequest)
	})

	t.Run("400 - invalid JSON", func(t *testing.T) {
		rc := newReceiver(t, receiver.Config{})

		_, _, err := rc.Receive(newRequest(`{"event":`))

		requireStatus(t, err, http.StatusBadRequest)
	})

	t.Run("422 - missing required fields", func(t *testing.T) {
		rc := newReceiver(t, receiver.Config{})

		_, _, err := rc.Receive(newRequest(`{"event":"submission.status"}`))

		requireStatus(t, err, http.StatusUnprocessableEntity)
	})

	t.Run("429 - rate limit exceeded", func(t *testing.T) {
		rc := newReceiver(t, receiver.Config{RateLimit: 3, RateWindow: time.Minute})

		for i := 0; i < 3; i++ {
			_, _, err := rc.Receive(newRequest(validBody))
			require.NoError(t, err)
		}

		_, _, err := rc.Receive(newRequest(validBody))
		requireStatus(t, err, http.StatusTooManyRequests)
	})

	t.Run("rate limit is per source IP", func(t *testing.T) {
		rc := newReceiver(t, receiver.Config{RateLimit: 1, RateWindow: time.Minute})

		_, _, err := rc.Receive(newRequest(validBody))
		require.NoError(t, err)

		other := newRequest(validBody)
		other.RemoteAddr = "10.0.0.8:40000"
		_, _, err = rc.Receive(other)
		require.NoError(t, err)
	})

	t.Run("401 - signature precheck fails", func(t *testing.T) {
		rc := newReceiver(t, receiver.Config{Secret: "precheck-secret"})
		r := newRequest(validBody)
		r.Header.Set("X-FIRS-Signature", "sha256=deadbeef")

		_, _, err := rc.Receive(r)

		requireStatus(t, err, http.StatusUnauthorized)
	})

	t.Run("signature precheck passes with correct header", func(t *testing.T) {
		rc := newReceiver(t, receiver.Config{Secret: "precheck-secret"})
		r := newRequest(validBody)
		r.Header.Set("X-FIRS-Signature", signature.SignHex([]byte("precheck-secret"), []byte(validBody)))

		payload, metadata, err := rc.Receive(r)

		require.NoError(t, err)
		assert.Equal(t, "e1", payload.EventID)
		assert.NotEmpty(t, metadata.Signature)
	})

	t.Run("signature accepted from verif-hash header", func(t *testing.T) {
		rc := newReceiver(t, receiver.Config{Secret: "precheck-secret"})
		r := newRequest(validBody)
		r.Header.Set("Verif-Hash", signature.SignHex([]byte("precheck-secret"), []byte(validBody)))

		_, _, err := rc.Receive(r)

		require.NoError(t, err)
	})
}

func TestHealthCheck(t *testing.T) {
	rc := newReceiver(t, receiver.Config{})

	_, _, err := rc.Receive(newRequest(validBody))
	require.NoError(t, err)
	_, _, _ = rc.Receive(newRequest(``))

	health := rc.HealthCheck()
	assert.Equal(t, webhook.StatusHealthy, health.Status)
	assert.Equal(t, "webhook_receiver", health.Service)
	assert.Equal(t, int64(1), health.Details["total_received"])
	assert.Equal(t, int64(1), health.Details["rejected"])
}

func TestNew(t *testing.T) {
	t.Run("bad allowlist entry", func(t *testing.T) {
		_, err := receiver.New(receiver.Config{AllowedIPs: []string{"not-an-ip"}}, zerolog.Nop())
		require.Error(t, err)
	})
}

func requireStatus(t *testing.T, err error, want int) {
	t.Helper()
	require.Error(t, err)
	var rerr *receiver.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, want, rerr.Status)
}
