package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// OTelExporter provides OpenTelemetry metrics export following OTel standards
type OTelExporter struct {
	meterProvider *sdkmetric.MeterProvider
	collector     Collector

	meter            metric.Meter
	queueLengthGauge metric.Int64ObservableGauge
	statusCountGauge metric.Int64ObservableGauge
	deliveriesGauge  metric.Int64ObservableGauge
	latencyGauge     metric.Float64ObservableGauge
}

// NewOTelExporter creates a new OpenTelemetry metrics exporter with Prometheus format
func NewOTelExporter(collector Collector) (*OTelExporter, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(meterProvider)

	meter := meterProvider.Meter(
		"firshook",
		metric.WithInstrumentationVersion("1.0.0"),
	)

	oe := &OTelExporter{
		meterProvider: meterProvider,
		collector:     collector,
		meter:         meter,
	}

	if err := oe.registerInstruments(); err != nil {
		return nil, fmt.Errorf("registering instruments: %w", err)
	}

	return oe, nil
}

// registerInstruments creates and registers all OpenTelemetry metric instruments
func (oe *OTelExporter) registerInstruments() error {
	var err error

	oe.queueLengthGauge, err = oe.meter.Int64ObservableGauge(
		"webhook.queue.length",
		metric.WithDescription("Number of jobs waiting or running per pipeline queue"),
		metric.WithUnit("{jobs}"),
		metric.WithInt64Callback(oe.observeQueueLengths),
	)
	if err != nil {
		return fmt.Errorf("creating queue length gauge: %w", err)
	}

	oe.statusCountGauge, err = oe.meter.Int64ObservableGauge(
		"webhook.events.count",
		metric.WithDescription("Lifetime event counts per pipeline outcome"),
		metric.WithUnit("{events}"),
		metric.WithInt64Callback(oe.observeStatusCounts),
	)
	if err != nil {
		return fmt.Errorf("creating status count gauge: %w", err)
	}

	oe.deliveriesGauge, err = oe.meter.Int64ObservableGauge(
		"webhook.dispatch.deliveries",
		metric.WithDescription("Delivery outcomes per dispatch method"),
		metric.WithUnit("{deliveries}"),
		metric.WithInt64Callback(oe.observeDeliveries),
	)
	if err != nil {
		return fmt.Errorf("creating deliveries gauge: %w", err)
	}

	oe.latencyGauge, err = oe.meter.Float64ObservableGauge(
		"webhook.dispatch.latency",
		metric.WithDescription("Running average delivery latency per dispatch method"),
		metric.WithUnit("s"),
		metric.WithFloat64Callback(oe.observeLatency),
	)
	if err != nil {
		return fmt.Errorf("creating latency gauge: %w", err)
	}

	return nil
}

// observeQueueLengths is a callback that reports pipeline queue depths
func (oe *OTelExporter) observeQueueLengths(ctx context.Context, observer metric.Int64Observer) error {
	queueLengths, err := oe.collector.GetQueueLengths(ctx)
	if err != nil {
		return err
	}

	for queue, length := range queueLengths {
		observer.Observe(length, metric.WithAttributes(
			attribute.String("queue.name", queue),
		))
	}

	return nil
}

// observeStatusCounts is a callback that reports event counts by outcome
func (oe *OTelExporter) observeStatusCounts(ctx context.Context, observer metric.Int64Observer) error {
	statusCounts, err := oe.collector.GetStatusCounts(ctx)
	if err != nil {
		return err
	}

	for status, count := range statusCounts {
		observer.Observe(count, metric.WithAttributes(
			attribute.String("event.outcome", status),
		))
	}

	return nil
}

// observeDeliveries is a callback that reports delivery outcomes per method
func (oe *OTelExporter) observeDeliveries(ctx context.Context, observer metric.Int64Observer) error {
	deliveries, err := oe.collector.GetDeliveries(ctx)
	if err != nil {
		return err
	}

	for method, stats := range deliveries {
		observer.Observe(stats.Delivered, metric.WithAttributes(
			attribute.String("dispatch.method", method),
			attribute.String("outcome", "delivered"),
		))
		observer.Observe(stats.Failed, metric.WithAttributes(
			attribute.String("dispatch.method", method),
			attribute.String("outcome", "failed"),
		))
	}

	return nil
}

// observeLatency is a callback that reports the running average latency
func (oe *OTelExporter) observeLatency(ctx context.Context, observer metric.Float64Observer) error {
	deliveries, err := oe.collector.GetDeliveries(ctx)
	if err != nil {
		return err
	}

	for method, stats := range deliveries {
		observer.Observe(stats.AvgLatency.Seconds(), metric.WithAttributes(
			attribute.String("dispatch.method", method),
		))
	}

	return nil
}

// ServeHTTP serves Prometheus-formatted metrics on the given HTTP handler
func (oe *OTelExporter) ServeHTTP() http.Handler {
	return promhttp.Handler()
}

// Shutdown gracefully shuts down the meter provider
func (oe *OTelExporter) Shutdown(ctx context.Context) error {
	if oe.meterProvider != nil {
		return oe.meterProvider.Shutdown(ctx)
	}
	return nil
}
