package webhooks

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "homeescrow/webhooks"

// Drop reasons recorded on homeescrow.webhooks.dropped.
const (
	dropQueueFull = "queue_full"
	dropAbandoned = "abandoned"
)

// otelCounters mirrors the prometheus webhook counters on the OTLP pipeline.
type otelCounters struct {
	dropped metric.Int64Counter
	retries metric.Int64Counter
}

func newOtelCounters(meter metric.Meter) *otelCounters {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	fallback := noop.NewMeterProvider().Meter(meterName)
	dropped, err := meter.Int64Counter("homeescrow.webhooks.dropped",
		metric.WithDescription("Listing events that were never delivered."))
	if err != nil {
		dropped, _ = fallback.Int64Counter("homeescrow.webhooks.dropped")
	}
	retries, err := meter.Int64Counter("homeescrow.webhooks.retries",
		metric.WithDescription("Webhook delivery attempts scheduled after a failure."))
	if err != nil {
		retries, _ = fallback.Int64Counter("homeescrow.webhooks.retries")
	}
	return &otelCounters{dropped: dropped, retries: retries}
}

func (c *otelCounters) recordDropped(reason, eventType string) {
	c.dropped.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("reason", reason),
		attribute.String("type", eventType)))
}

func (c *otelCounters) recordRetry(eventType string) {
	c.retries.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", eventType)))
}
