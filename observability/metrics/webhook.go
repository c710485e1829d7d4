package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type WebhookMetrics struct {
	deliveries *prometheus.CounterVec
	failures   *prometheus.CounterVec
	queueDrops prometheus.Counter
}

var (
	webhookOnce     sync.Once
	webhookRegistry *WebhookMetrics
)

func Webhook() *WebhookMetrics {
	webhookOnce.Do(func() {
		webhookRegistry = &WebhookMetrics{
			deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "homeescrow_webhook_deliveries_total",
				Help: "Count of successful webhook deliveries by event type.",
			}, []string{"type"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "homeescrow_webhook_failures_total",
				Help: "Number of failed webhook delivery attempts by event type.",
			}, []string{"type"}),
			queueDrops: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "homeescrow_webhook_queue_drops_total",
				Help: "Events dropped because the delivery queue was full.",
			}),
		}
		prometheus.MustRegister(
			webhookRegistry.deliveries,
			webhookRegistry.failures,
			webhookRegistry.queueDrops,
		)
	})
	return webhookRegistry
}

func (m *WebhookMetrics) RecordDelivery(eventType string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(eventType).Inc()
}

func (m *WebhookMetrics) RecordFailure(eventType string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(eventType).Inc()
}

func (m *WebhookMetrics) RecordQueueDrop() {
	if m == nil {
		return
	}
	m.queueDrops.Inc()
}
