package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/metabridge-dev/metabridge/go/pkg/bridge/session"
	"github.com/metabridge-dev/metabridge/go/pkg/bridge/tools"
)

// Metrics collects invocation counters for the debug HTTP endpoint.
type Metrics struct {
	invocations *prometheus.CounterVec
	durations   *prometheus.HistogramVec
}

// NewMetrics registers the bridge collectors with reg. The session gauge
// reflects whatever the registry can list at scrape time.
func NewMetrics(reg prometheus.Registerer, registry *session.Registry) *Metrics {
	m := &Metrics{
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metabridge",
			Name:      "invocations_total",
			Help:      "Tool invocations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "metabridge",
			Name:      "invocation_duration_seconds",
			Help:      "Wall-clock duration of tool invocations.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"operation"}),
	}
	reg.MustRegister(m.invocations, m.durations)

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "metabridge",
		Name:      "sessions",
		Help:      "Sessions known under the sandbox root.",
	}, func() float64 {
		metas, err := registry.List()
		if err != nil {
			return 0
		}
		return float64(len(metas))
	}))
	return m
}

// Observe records one finished invocation.
func (m *Metrics) Observe(operation string, res tools.Result, elapsed time.Duration) {
	outcome := "success"
	if !res.OK() {
		outcome = res.Code
	}
	m.invocations.WithLabelValues(operation, outcome).Inc()
	m.durations.WithLabelValues(operation).Observe(elapsed.Seconds())
}
