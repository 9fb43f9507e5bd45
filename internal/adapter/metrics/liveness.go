package metrics

import "github.com/prometheus/client_golang/prometheus"

// LivenessMetrics holds Prometheus metrics for the heartbeat monitor.
type LivenessMetrics struct {
	Cycles        prometheus.Counter
	PingsSent     prometheus.Counter
	PingFailures  prometheus.Counter
	Evictions     *prometheus.CounterVec
	CycleDuration prometheus.Histogram
}

// NewLivenessMetrics creates and registers liveness metrics on the given registry.
func NewLivenessMetrics(reg prometheus.Registerer) *LivenessMetrics {
	m := &LivenessMetrics{
		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liveness",
			Name:      "cycles_total",
			Help:      "Total number of heartbeat cycles.",
		}),
		PingsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liveness",
			Name:      "pings_sent_total",
			Help:      "Total number of ping frames written.",
		}),
		PingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liveness",
			Name:      "ping_failures_total",
			Help:      "Total number of ping frames that could not be written.",
		}),
		Evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liveness",
			Name:      "evictions_total",
			Help:      "Total number of connections evicted by the monitor, by reason.",
		}, []string{"reason"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "liveness",
			Name:      "ping_phase_duration_seconds",
			Help:      "Duration of the ping phase of a heartbeat cycle in seconds.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		}),
	}

	reg.MustRegister(m.Cycles, m.PingsSent, m.PingFailures, m.Evictions, m.CycleDuration)
	return m
}
