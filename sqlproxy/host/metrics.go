package host

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tomyedwab/sqlviewer/sqlproxy/types"
)

const (
	KindLabel    = "kind"
	OutcomeLabel = "outcome"
	TypeLabel    = "type"

	succeeded = "succeeded"
	failed    = "failed"
)

// Metrics collects request and handle statistics for the workers of one
// process.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	handles  *prometheus.GaugeVec
}

// NewMetrics creates worker metrics and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqlviewer_worker_requests_total",
				Help: "Requests handled by workers, by kind and outcome",
			},
			[]string{KindLabel, OutcomeLabel},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sqlviewer_worker_request_duration_seconds",
				Help:    "Time taken to handle a request, by kind",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
			},
			[]string{KindLabel},
		),
		handles: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sqlviewer_worker_live_handles",
				Help: "Live database and statement handles across workers",
			},
			[]string{TypeLabel},
		),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration, m.handles)
	}
	return m
}

func (m *Metrics) observe(kind types.Kind, outcome string, d time.Duration) {
	m.requests.WithLabelValues(string(kind), outcome).Inc()
	m.duration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

func (m *Metrics) addHandles(databases, statements int) {
	if databases != 0 {
		m.handles.WithLabelValues("database").Add(float64(databases))
	}
	if statements != 0 {
		m.handles.WithLabelValues("statement").Add(float64(statements))
	}
}
