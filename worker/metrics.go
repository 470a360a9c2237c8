package worker

import (
	"net/http"
	"time"

	"github.com/guseggert/cmdbridge/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeOK         = "ok"
	OutcomeEngineErr  = "engine_error"
	OutcomePanic      = "panic"
	OutcomeNotStarted = "not_started"
)

// Metrics holds the worker's counters in a private registry, so several servers can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	invocations          *prometheus.CounterVec
	invokeDuration       prometheus.Histogram
	notifications        *prometheus.CounterVec
	notificationFailures prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cmdbridge",
				Subsystem: "worker",
				Name:      "invocations_total",
				Help:      "Invoke requests handled, by outcome.",
			},
			[]string{"outcome"},
		),
		invokeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "cmdbridge",
				Subsystem: "worker",
				Name:      "invoke_duration_seconds",
				Help:      "Time spent executing one command line.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cmdbridge",
				Subsystem: "worker",
				Name:      "notifications_total",
				Help:      "Log notifications delivered to the host, by level.",
			},
			[]string{"level"},
		),
		notificationFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "cmdbridge",
				Subsystem: "worker",
				Name:      "notification_failures_total",
				Help:      "Log notifications that could not be delivered.",
			},
		),
	}
	m.registry.MustRegister(m.invocations, m.invokeDuration, m.notifications, m.notificationFailures)
	return m
}

func (m *Metrics) recordInvoke(outcome string, d time.Duration) {
	m.invocations.WithLabelValues(outcome).Inc()
	m.invokeDuration.Observe(d.Seconds())
}

func (m *Metrics) recordNotification(level protocol.LogLevel) {
	m.notifications.WithLabelValues(string(level)).Inc()
}

func (m *Metrics) recordNotificationFailure() {
	m.notificationFailures.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
