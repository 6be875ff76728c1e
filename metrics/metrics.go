package metrics

import (
	"context"
	"time"

	"github.com/einvoiceng/firshook/webhook/dispatch"
	"github.com/einvoiceng/firshook/webhook/manager"
)

// Metrics represents the current state of the webhook pipeline.
type Metrics struct {
	// QueueLengths maps queue name to the number of jobs waiting or running
	QueueLengths map[string]int64 `json:"queue_lengths"`

	// StatusCounts maps outcome name to lifetime count
	StatusCounts map[string]int64 `json:"status_counts"`

	// Deliveries maps dispatch method to its delivery statistics
	Deliveries map[string]dispatch.Stats `json:"deliveries"`

	// Timestamp when metrics were collected
	Timestamp time.Time `json:"timestamp"`
}

// Collector defines the interface for collecting metrics from the pipeline.
type Collector interface {
	// Collect gathers current metrics from the system
	Collect(ctx context.Context) (Metrics, error)

	// GetQueueLengths returns pending and in-flight counts per queue
	GetQueueLengths(ctx context.Context) (map[string]int64, error)

	// GetStatusCounts returns lifetime counts per pipeline outcome
	GetStatusCounts(ctx context.Context) (map[string]int64, error)

	// GetDeliveries returns dispatch statistics per method
	GetDeliveries(ctx context.Context) (map[string]dispatch.Stats, error)
}

// PipelineCollector reads metrics straight off the manager's components
type PipelineCollector struct {
	manager *manager.Manager
}

// NewPipelineCollector creates a collector over the given manager
func NewPipelineCollector(m *manager.Manager) *PipelineCollector {
	return &PipelineCollector{manager: m}
}

// Collect gathers current metrics from every component
func (c *PipelineCollector) Collect(ctx context.Context) (Metrics, error) {
	queues, err := c.GetQueueLengths(ctx)
	if err != nil {
		return Metrics{}, err
	}
	statuses, err := c.GetStatusCounts(ctx)
	if err != nil {
		return Metrics{}, err
	}
	deliveries, err := c.GetDeliveries(ctx)
	if err != nil {
		return Metrics{}, err
	}

	return Metrics{
		QueueLengths: queues,
		StatusCounts: statuses,
		Deliveries:   deliveries,
		Timestamp:    time.Now().UTC(),
	}, nil
}

// GetQueueLengths returns pending and in-flight counts per queue
func (c *PipelineCollector) GetQueueLengths(_ context.Context) (map[string]int64, error) {
	retryStatus := c.manager.Scheduler().GetQueueStatus()
	dispatcher := c.manager.Dispatcher()

	return map[string]int64{
		"processing_active": int64(c.manager.Processor().ActiveCount()),
		"retry_pending":     int64(retryStatus.Pending),
		"retry_active":      int64(retryStatus.Active),
		"dispatch_queued":   int64(dispatcher.QueuedCount()),
		"dispatch_active":   int64(dispatcher.ActiveCount()),
	}, nil
}

// GetStatusCounts returns lifetime counts per pipeline outcome
func (c *PipelineCollector) GetStatusCounts(_ context.Context) (map[string]int64, error) {
	received, rejected := c.manager.Receiver().Stats()
	total, succeeded, failed := c.manager.Processor().Stats()
	retryStatus := c.manager.Scheduler().GetQueueStatus()

	var delivered, dispatchDead int64
	for _, stats := range c.manager.Dispatcher().MethodStats() {
		delivered += stats.Delivered
	}
	dispatchDead = int64(len(c.manager.Dispatcher().DeadLetters()))

	return map[string]int64{
		"received":             received,
		"rejected":             rejected,
		"processed":            total,
		"succeeded":            succeeded,
		"failed":               failed,
		"retry_completed":      int64(retryStatus.Completed),
		"retry_dead_letter":    int64(len(retryStatus.DeadLetterQueue)),
		"dispatched":           delivered,
		"dispatch_dead_letter": dispatchDead,
	}, nil
}

// GetDeliveries returns dispatch statistics per method
func (c *PipelineCollector) GetDeliveries(_ context.Context) (map[string]dispatch.Stats, error) {
	return c.manager.Dispatcher().MethodStats(), nil
}
