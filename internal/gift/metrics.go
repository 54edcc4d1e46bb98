package gift

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects gift-flow metrics.
type Metrics struct {
	sends        *prometheus.CounterVec
	sendDuration prometheus.Histogram
	reconciled   *prometheus.CounterVec
}

// NewMetrics creates and registers gift metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opnode_gift_sends_total",
			Help: "Gift send attempts by result and final flow state.",
		}, []string{"result", "state"}),
		sendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "opnode_gift_send_duration_seconds",
			Help:    "End-to-end gift settlement duration.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opnode_gift_reconciled_total",
			Help: "Stuck pending gifts resolved by the reconciler, by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.sends, m.sendDuration, m.reconciled)
	}
	return m
}

// ObserveSend records the outcome of a send attempt.
func (m *Metrics) ObserveSend(state State, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.sends.WithLabelValues(result, string(state)).Inc()
	m.sendDuration.Observe(d.Seconds())
}

// ObserveReconciled records a reconciler resolution.
func (m *Metrics) ObserveReconciled(outcome string) {
	if m == nil {
		return
	}
	m.reconciled.WithLabelValues(outcome).Inc()
}
