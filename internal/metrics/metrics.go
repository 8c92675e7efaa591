// Package metrics exposes Prometheus collectors for the relay.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "relay").
	Namespace string

	// Buckets are the histogram buckets for dispatch duration.
	// Default: prometheus.DefBuckets
	Buckets []float64
}

// Option configures the collectors.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithBuckets sets the dispatch duration buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// Metrics holds the relay collectors. A nil *Metrics records nothing.
type Metrics struct {
	connections      prometheus.Gauge
	sessions         prometheus.Gauge
	connectionsTotal prometheus.Counter
	framesTotal      *prometheus.CounterVec
	droppedTotal     *prometheus.CounterVec
	broadcastsTotal  *prometheus.CounterVec
	deliveriesTotal  prometheus.Counter
	sendFailures     prometheus.Counter
	authTotal        *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer, opts ...Option) *Metrics {
	cfg := Config{
		Namespace: "relay",
		Buckets:   prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	factory := promauto.With(reg)

	return &Metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "connections",
			Help:      "Number of live connections, authenticated or not",
		}),
		sessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "sessions",
			Help:      "Number of authenticated sessions",
		}),
		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "connections_total",
			Help:      "Total number of accepted connections",
		}),
		framesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "frames_total",
			Help:      "Total number of decoded inbound messages by type",
		}, []string{"type"}),
		droppedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "dropped_total",
			Help:      "Total number of inbound messages dropped by reason",
		}, []string{"reason"}),
		broadcastsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "broadcasts_total",
			Help:      "Total number of fan-outs by message type",
		}, []string{"type"}),
		deliveriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "deliveries_total",
			Help:      "Total number of successful sends to recipients",
		}),
		sendFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "send_failures_total",
			Help:      "Total number of sends that failed and disconnected the recipient",
		}),
		authTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "auth_total",
			Help:      "Total number of authentication attempts by result",
		}, []string{"result"}),
		dispatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time to dispatch one inbound frame, including fan-out",
			Buckets:   cfg.Buckets,
		}),
	}
}

// ConnectionOpened counts a newly attached connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
	m.connectionsTotal.Inc()
}

// ConnectionClosed records that a connection was removed.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// SessionOpened records a successful authentication.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

// SessionClosed records the end of an authenticated session.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessions.Dec()
}

// FrameReceived counts a decoded inbound frame by message type.
func (m *Metrics) FrameReceived(msgType string) {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues(msgType).Inc()
}

// Dropped counts an inbound frame that was discarded, by reason.
func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.droppedTotal.WithLabelValues(reason).Inc()
}

// Broadcast records one fan-out and the number of recipients it reached.
func (m *Metrics) Broadcast(msgType string, delivered int) {
	if m == nil {
		return
	}
	m.broadcastsTotal.WithLabelValues(msgType).Inc()
	m.deliveriesTotal.Add(float64(delivered))
}

// SendFailed counts a send that failed and disconnected its recipient.
func (m *Metrics) SendFailed() {
	if m == nil {
		return
	}
	m.sendFailures.Inc()
}

// AuthAttempt counts an authentication attempt by result.
func (m *Metrics) AuthAttempt(ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.authTotal.WithLabelValues(result).Inc()
}

// ObserveDispatch records how long one inbound frame took to handle.
func (m *Metrics) ObserveDispatch(d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchDuration.Observe(d.Seconds())
}
