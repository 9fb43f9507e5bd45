package metrics

import "github.com/prometheus/client_golang/prometheus"

// ConnectionMetrics holds Prometheus metrics for the connection registry.
type ConnectionMetrics struct {
	ActiveConnections prometheus.Gauge
	Registered        prometheus.Counter
	AcceptFailures    prometheus.Counter
	Unregistered      *prometheus.CounterVec
	CloseErrors       prometheus.Counter
	Rejected          *prometheus.CounterVec
}

// NewConnectionMetrics creates and registers connection metrics on the given registry.
func NewConnectionMetrics(reg prometheus.Registerer) *ConnectionMetrics {
	m := &ConnectionMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of connections currently tracked by the registry.",
		}),
		Registered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "registered_total",
			Help:      "Total number of connections that completed the handshake.",
		}),
		AcceptFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "accept_failures_total",
			Help:      "Total number of failed connection handshakes.",
		}),
		Unregistered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "unregistered_total",
			Help:      "Total number of connections removed from the registry, by reason.",
		}, []string{"reason"}),
		CloseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "close_errors_total",
			Help:      "Total number of transport close failures.",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "rejected_total",
			Help:      "Total number of upgrade requests rejected by connection limits, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(m.ActiveConnections, m.Registered, m.AcceptFailures, m.Unregistered, m.CloseErrors, m.Rejected)
	return m
}

// LimiterSources reads the state of the WebSocket connection limiters.
type LimiterSources struct {
	SlotsInUse   func() float64
	UniqueIPs    func() float64
	RateLimiters func() float64
}

// RegisterLimiterGauges exposes the limiter state as gauges evaluated at scrape time.
func RegisterLimiterGauges(reg prometheus.Registerer, src LimiterSources) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "limiter_slots_in_use",
			Help:      "Connection slots currently held in the global limiter.",
		}, src.SlotsInUse),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "limiter_unique_ips",
			Help:      "Number of client IPs holding at least one connection.",
		}, src.UniqueIPs),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "limiter_rate_buckets",
			Help:      "Number of per-IP rate limit buckets currently tracked.",
		}, src.RateLimiters),
	)
}
