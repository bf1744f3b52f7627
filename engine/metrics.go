package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/antflydb/raqe/errs"
)

// Metrics is the prometheus collector bundle the engine registers. The
// engine never stands up its own /metrics endpoint
// (the serving surface is out of scope); it only registers collectors a
// host-supplied prometheus.Registerer can expose.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	durationSeconds *prometheus.HistogramVec
}

// NewMetrics builds and registers the collector bundle. reg may be nil, in
// which case metrics are collected in-process but never exposed — useful
// for tests and hosts that don't want a registry at all.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raqe",
			Name:      "requests_total",
			Help:      "Total engine operations invoked, by operation name.",
		}, []string{"operation"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raqe",
			Name:      "errors_total",
			Help:      "Total engine operation failures, by operation name and error kind.",
		}, []string{"operation", "kind"}),
		durationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "raqe",
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency in seconds, by operation name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if reg != nil {
		reg.MustRegister(m.requestsTotal, m.errorsTotal, m.durationSeconds)
	}
	return m
}

func (m *Metrics) observe(operation string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(operation).Inc()
	m.durationSeconds.WithLabelValues(operation).Observe(seconds)
	if err != nil {
		kind, ok := errs.Of(err)
		if !ok {
			kind = "unknown"
		}
		m.errorsTotal.WithLabelValues(operation, string(kind)).Inc()
	}
}
