package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Intake outcomes.
const (
	OutcomeCreated       = "created"
	OutcomeReplayed      = "replayed"
	OutcomeInvalid       = "invalid"
	OutcomeDuplicate     = "duplicate"
	OutcomeStoreFailed   = "store_failed"
	OutcomeEnqueueFailed = "enqueue_failed"
)

// Intake holds the collectors for the order accept path. A nil *Intake is a
// valid no-op recorder.
type Intake struct {
	orders     *prometheus.CounterVec
	processing prometheus.Histogram
	rollbacks  *prometheus.CounterVec
}

func NewIntake(reg prometheus.Registerer) *Intake {
	m := &Intake{
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_intake_total",
			Help: "Order submissions by outcome.",
		}, []string{"outcome"}),
		processing: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "orders_processing_ms",
			Help:    "Accept path latency in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_rollback_total",
			Help: "Compensating deletes after a failed publish.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.orders, m.processing, m.rollbacks)
	return m
}

func (m *Intake) Outcome(outcome string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(outcome).Inc()
}

func (m *Intake) ProcessingMs(ms int64) {
	if m == nil {
		return
	}
	m.processing.Observe(float64(ms))
}

func (m *Intake) Rollback(ok bool) {
	if m == nil {
		return
	}
	result := "deleted"
	if !ok {
		result = "failed"
	}
	m.rollbacks.WithLabelValues(result).Inc()
}
