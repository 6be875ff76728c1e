package webhook_test

import (
	"testing"
	"time"

	"github.com/einvoiceng/firshook/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayload(t *testing.T) {
	t.Run("success - full payload", func(t *testing.T) {
		body := []byte(`{
			"event": "submission.status",
			"event_id": "e1",
			"timestamp": "2026-01-01T12:00:00Z",
			"source": "firs",
			"data": {"irn": "IRN123", "status": "approved"},
			"version": "1.0"
		}`)

		payload, err := webhook.ParsePayload(body)
		require.NoError(t, err)
		assert.Equal(t, "submission.status", payload.EventType)
		assert.Equal(t, "e1", payload.EventID)
		assert.Equal(t, 2026, payload.Timestamp.Year())
		assert.Equal(t, "firs", payload.Source)
		assert.Equal(t, "IRN123", payload.DataString("irn"))
		assert.Equal(t, 0, payload.RetryCount)
	})

	t.Run("success - epoch timestamp", func(t *testing.T) {
		body := []byte(`{"event": "invoice.approved", "event_id": "e2", "timestamp": 1767225600, "data": {}}`)

		payload, err := webhook.ParsePayload(body)
		require.NoError(t, err)
		assert.Equal(t, time.Unix(1767225600, 0).UTC(), payload.Timestamp)
	})

	t.Run("success - timestamp defaults to now when absent", func(t *testing.T) {
		body := []byte(`{"event": "invoice.approved", "event_id": "e3", "data": {"x": 1}}`)

		payload, err := webhook.ParsePayload(body)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now(), payload.Timestamp, 5*time.Second)
	})

	t.Run("error - missing event", func(t *testing.T) {
		_, err := webhook.ParsePayload([]byte(`{"event_id": "e4", "data": {}}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "event is required")
	})

	t.Run("error - missing event_id", func(t *testing.T) {
		_, err := webhook.ParsePayload([]byte(`{"event": "submission.status", "data": {}}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "event_id is required")
	})

	t.Run("error - missing data", func(t *testing.T) {
		_, err := webhook.ParsePayload([]byte(`{"event": "submission.status", "event_id": "e5"}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "data is required")
	})

	t.Run("error - invalid event type format", func(t *testing.T) {
		_, err := webhook.ParsePayload([]byte(`{"event": "bad-type!", "event_id": "e6", "data": {}}`))
		require.Error(t, err)
	})

	t.Run("error - not JSON", func(t *testing.T) {
		_, err := webhook.ParsePayload([]byte(`not json`))
		require.Error(t, err)
	})
}

func TestMatchesEventType(t *testing.T) {
	payload := webhook.Payload{EventType: "invoice.approved"}

	t.Run("empty filter accepts all", func(t *testing.T) {
		assert.True(t, payload.MatchesEventType(nil))
	})

	t.Run("exact match", func(t *testing.T) {
		assert.True(t, payload.MatchesEventType([]string{"invoice.approved"}))
		assert.False(t, payload.MatchesEventType([]string{"invoice.rejected"}))
	})

	t.Run("wildcard match", func(t *testing.T) {
		assert.True(t, payload.MatchesEventType([]string{"invoice.*"}))
		assert.False(t, payload.MatchesEventType([]string{"submission.*"}))
	})
}

func TestProcessingStatus(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		for _, s := range []webhook.ProcessingStatus{
			webhook.Pending, webhook.Processing, webhook.Completed,
			webhook.Failed, webhook.Retrying, webhook.DeadLetter,
		} {
			assert.Equal(t, s, webhook.NewProcessingStatus(s.String()))
			require.NoError(t, s.Validate())
		}
	})

	t.Run("final states", func(t *testing.T) {
		assert.True(t, webhook.Completed.IsFinal())
		assert.True(t, webhook.DeadLetter.IsFinal())
		assert.False(t, webhook.Retrying.IsFinal())
	})

	t.Run("invalid status", func(t *testing.T) {
		require.Error(t, webhook.ProcessingStatus(999).Validate())
	})
}

func TestProcessingResultRetryable(t *testing.T) {
	assert.True(t, webhook.ProcessingResult{ErrorCode: webhook.ErrCodeTimeout}.Retryable())
	assert.True(t, webhook.ProcessingResult{ErrorCode: webhook.ErrCodeUnexpectedError}.Retryable())
	assert.False(t, webhook.ProcessingResult{ErrorCode: webhook.ErrCodeNoHandler}.Retryable())
	assert.False(t, webhook.ProcessingResult{Success: true}.Retryable())
}
