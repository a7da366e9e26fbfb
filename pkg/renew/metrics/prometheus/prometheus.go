package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rhaprace/gorenew/pkg/renew"
)

// Metrics implements renew.Metrics using Prometheus.
type Metrics struct {
	webhookEventsTotal        *prometheus.CounterVec
	webhookErrorsTotal        *prometheus.CounterVec
	webhookProcessingDuration *prometheus.HistogramVec
	sweepAccountsTotal        *prometheus.CounterVec
	sweepDuration             prometheus.Histogram
	gatewayCallsTotal         *prometheus.CounterVec
	gatewayCallDuration       *prometheus.HistogramVec
	linkAttemptsTotal         *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation for the
// renewal engine.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		webhookEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "renewal",
			Name:      "webhook_events_total",
			Help:      "Total number of webhook events received from the payment gateway.",
		}, []string{"event_type", "status"}),

		webhookErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "renewal",
			Name:      "webhook_errors_total",
			Help:      "Total number of webhook processing errors.",
		}, []string{"error_type"}),

		webhookProcessingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "renewal",
			Name:      "webhook_processing_duration_seconds",
			Help:      "Duration of webhook processing in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),

		sweepAccountsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "renewal",
			Name:      "sweep_accounts_total",
			Help:      "Per-account outcomes of renewal sweeps.",
		}, []string{"outcome"}),

		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "renewal",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of whole renewal sweeps in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),

		gatewayCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "renewal",
			Name:      "gateway_calls_total",
			Help:      "Total number of calls to the payment gateway.",
		}, []string{"operation", "status"}),

		gatewayCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "renewal",
			Name:      "gateway_call_duration_seconds",
			Help:      "Duration of payment gateway calls in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		linkAttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "renewal",
			Name:      "link_attempts_total",
			Help:      "Total number of account linking flows by outcome.",
		}, []string{"status"}),
	}
}

func (m *Metrics) RecordWebhookEvent(eventType, status string) {
	m.webhookEventsTotal.WithLabelValues(eventType, status).Inc()
}

func (m *Metrics) RecordWebhookError(errorType string) {
	m.webhookErrorsTotal.WithLabelValues(errorType).Inc()
}

func (m *Metrics) RecordWebhookProcessingDuration(eventType string, duration time.Duration) {
	m.webhookProcessingDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

func (m *Metrics) RecordSweepAccount(outcome string) {
	m.sweepAccountsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordSweepDuration(duration time.Duration) {
	m.sweepDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordGatewayCall(operation, status string) {
	m.gatewayCallsTotal.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) RecordGatewayCallDuration(operation string, duration time.Duration) {
	m.gatewayCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) RecordLinkAttempt(status string) {
	m.linkAttemptsTotal.WithLabelValues(status).Inc()
}

var _ renew.Metrics = (*Metrics)(nil)
