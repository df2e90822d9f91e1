package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "negotiation"

// Delivery outcomes recorded on the deliveries counter.
const (
	OutcomeDelivered    = "delivered"
	OutcomeAcknowledged = "acknowledged"
	OutcomeQueued       = "queued"
	OutcomeOffline      = "offline"
	OutcomeFailed       = "failed"
)

// Metrics groups the prometheus collectors of the negotiation hub.
type Metrics struct {
	Deliveries    *prometheus.CounterVec
	Submissions   *prometheus.CounterVec
	Notifications *prometheus.CounterVec
	Connections   *prometheus.GaugeVec
	AckLatency    prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on registerer.
// Passing a fresh prometheus.NewRegistry keeps tests isolated from the default registry.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Deliveries attempted, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Negotiation messages submitted, by result.",
		}, []string{"result"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_notifications_total",
			Help:      "Match notifications dispatched, by result.",
		}, []string{"result"}),
		Connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Live connections, by role.",
		}, []string{"role"}),
		AckLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ack_latency_seconds",
			Help:      "Time between push and client acknowledgement.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}
	registerer.MustRegister(m.Deliveries, m.Submissions, m.Notifications, m.Connections, m.AckLatency)
	return m
}

// NopMetrics returns collectors registered nowhere.
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
