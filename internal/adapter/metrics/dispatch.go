package metrics

import "github.com/prometheus/client_golang/prometheus"

// DispatchMetrics holds Prometheus metrics for inbound frames and outbound fan-out.
type DispatchMetrics struct {
	FramesReceived      *prometheus.CounterVec
	SendFailures        prometheus.Counter
	Broadcasts          prometheus.Counter
	BroadcastRecipients *prometheus.CounterVec
	BroadcastDuration   prometheus.Histogram
}

// NewDispatchMetrics creates and registers dispatch metrics on the given registry.
func NewDispatchMetrics(reg prometheus.Registerer) *DispatchMetrics {
	m := &DispatchMetrics{
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "frames_received_total",
			Help:      "Total number of inbound frames, by kind.",
		}, []string{"kind"}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "send_failures_total",
			Help:      "Total number of failed writes to a single connection.",
		}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "broadcasts_total",
			Help:      "Total number of broadcasts.",
		}),
		BroadcastRecipients: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "broadcast_recipients_total",
			Help:      "Total number of broadcast recipients, by result.",
		}, []string{"result"}),
		BroadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "broadcast_duration_seconds",
			Help:      "Duration of a broadcast fan-out in seconds.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		}),
	}

	reg.MustRegister(m.FramesReceived, m.SendFailures, m.Broadcasts, m.BroadcastRecipients, m.BroadcastDuration)
	return m
}
