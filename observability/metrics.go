package observability

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "homeescrow"

type rpcMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics

	listingMetricsOnce sync.Once
	listingRegistry    *ListingMetrics
)

// RPC returns the lazily-initialised registry used to record JSON-RPC
// activity.
func RPC() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and error code.",
			}, []string{"method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			rpcRegistry.requests,
			rpcRegistry.errors,
			rpcRegistry.latency,
			rpcRegistry.throttles,
		)
	})
	return rpcRegistry
}

// Observe records the outcome of a JSON-RPC call. code is zero on success.
func (m *rpcMetrics) Observe(method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(method, fmt.Sprintf("%d", code)).Inc()
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" so dashboards and alerts remain consistent.
func (m *rpcMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// ListingMetrics tracks engine operations and the escrow position.
type ListingMetrics struct {
	operations *prometheus.CounterVec
	status     *prometheus.GaugeVec
	escrow     *prometheus.GaugeVec
	offers     prometheus.Gauge
}

// Listing returns the singleton listing metrics registry.
func Listing() *ListingMetrics {
	listingMetricsOnce.Do(func() {
		listingRegistry = &ListingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "listing",
				Name:      "operations_total",
				Help:      "Count of listing operations segmented by operation and result.",
			}, []string{"operation", "result"}),
			status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "listing",
				Name:      "status",
				Help:      "One for the current listing status, zero for the others.",
			}, []string{"status"}),
			escrow: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "listing",
				Name:      "escrow_balance",
				Help:      "Escrowed amounts segmented by bucket (fees, refunds, deposits, paid_out).",
			}, []string{"bucket"}),
			offers: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "listing",
				Name:      "offers",
				Help:      "Number of offers recorded in the ledger.",
			}),
		}
		prometheus.MustRegister(
			listingRegistry.operations,
			listingRegistry.status,
			listingRegistry.escrow,
			listingRegistry.offers,
		)
	})
	return listingRegistry
}

// RecordOperation counts an engine call. result is "ok" or a stable error
// reason.
func (m *ListingMetrics) RecordOperation(operation, result string) {
	if m == nil {
		return
	}
	if result == "" {
		result = "ok"
	}
	m.operations.WithLabelValues(operation, result).Inc()
}

// SetStatus marks current as the active status among all.
func (m *ListingMetrics) SetStatus(current string, all []string) {
	if m == nil {
		return
	}
	for _, status := range all {
		value := 0.0
		if status == current {
			value = 1
		}
		m.status.WithLabelValues(status).Set(value)
	}
}

// SetEscrow records the escrow accounting buckets.
func (m *ListingMetrics) SetEscrow(fees, refunds, deposits, paidOut *big.Int, offers int) {
	if m == nil {
		return
	}
	m.escrow.WithLabelValues("fees").Set(bigToFloat(fees))
	m.escrow.WithLabelValues("refunds").Set(bigToFloat(refunds))
	m.escrow.WithLabelValues("deposits").Set(bigToFloat(deposits))
	m.escrow.WithLabelValues("paid_out").Set(bigToFloat(paidOut))
	m.offers.Set(float64(offers))
}

func bigToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
