package metrics_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/einvoiceng/firshook/metrics"
	"github.com/einvoiceng/firshook/webhook/manager"
)

func TestPipelineCollector(t *testing.T) {
	m, err := manager.New(manager.Config{FIRSSecret: "secret"}, zerolog.Nop())
	require.NoError(t, err)

	collector := metrics.NewPipelineCollector(m)

	t.Run("collect gathers all sections", func(t *testing.T) {
		got, err := collector.Collect(context.Background())

		require.NoError(t, err)
		assert.False(t, got.Timestamp.IsZero())

		for _, queue := range []string{
			"processing_active", "retry_pending", "retry_active",
			"dispatch_queued", "dispatch_active",
		} {
			assert.Contains(t, got.QueueLengths, queue)
		}
		for _, status := range []string{
			"received", "rejected", "processed", "succeeded", "failed",
			"retry_completed", "retry_dead_letter", "dispatched", "dispatch_dead_letter",
		} {
			assert.Contains(t, got.StatusCounts, status)
		}
	})

	t.Run("fresh pipeline reports zero counts", func(t *testing.T) {
		counts, err := collector.GetStatusCounts(context.Background())

		require.NoError(t, err)
		for status, count := range counts {
			assert.Zero(t, count, status)
		}
	})
}
