package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ArbiterMetrics records match lifecycle and settlement activity.
type ArbiterMetrics struct {
	matchesCreated      prometheus.Counter
	transitions         *prometheus.CounterVec
	settlements         *prometheus.CounterVec
	refunds             prometheus.Counter
	integrityRejections *prometheus.CounterVec
	escrowedFunds       prometheus.Gauge
}

var (
	arbiterOnce     sync.Once
	arbiterRegistry *ArbiterMetrics
)

// Arbiter returns the lazily-initialised arbiter metrics registry.
func Arbiter() *ArbiterMetrics {
	arbiterOnce.Do(func() {
		arbiterRegistry = &ArbiterMetrics{
			matchesCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "racewager_matches_created_total",
				Help: "Count of matches created.",
			}),
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "racewager_transitions_total",
				Help: "Count of applied lifecycle transitions by action.",
			}, []string{"action"}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "racewager_settlements_total",
				Help: "Count of executed settlements by type.",
			}, []string{"type"}),
			refunds: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "racewager_refunds_total",
				Help: "Count of executed timelock refunds.",
			}),
			integrityRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "racewager_integrity_rejections_total",
				Help: "Count of requests rejected by custody validation, by operation.",
			}, []string{"op"}),
			escrowedFunds: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "racewager_escrowed_funds",
				Help: "Total confirmed deposits currently held across open matches.",
			}),
		}
		prometheus.MustRegister(
			arbiterRegistry.matchesCreated,
			arbiterRegistry.transitions,
			arbiterRegistry.settlements,
			arbiterRegistry.refunds,
			arbiterRegistry.integrityRejections,
			arbiterRegistry.escrowedFunds,
		)
	})
	return arbiterRegistry
}

// MatchCreated increments the match creation counter.
func (m *ArbiterMetrics) MatchCreated() {
	if m == nil {
		return
	}
	m.matchesCreated.Inc()
}

// Transition records an applied lifecycle action.
func (m *ArbiterMetrics) Transition(action string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action).Inc()
}

// Settlement records an executed settlement of the given type.
func (m *ArbiterMetrics) Settlement(settlementType string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(settlementType).Inc()
}

// Refund records an executed timelock refund.
func (m *ArbiterMetrics) Refund() {
	if m == nil {
		return
	}
	m.refunds.Inc()
}

// IntegrityRejection records a custody validation rejection.
func (m *ArbiterMetrics) IntegrityRejection(op string) {
	if m == nil {
		return
	}
	m.integrityRejections.WithLabelValues(op).Inc()
}

// DepositHeld adds a newly confirmed deposit to the escrowed funds gauge.
func (m *ArbiterMetrics) DepositHeld(amount int64) {
	if m == nil {
		return
	}
	m.escrowedFunds.Add(float64(amount))
}

// FundsReleased subtracts settled or refunded value from the escrowed funds
// gauge.
func (m *ArbiterMetrics) FundsReleased(amount int64) {
	if m == nil {
		return
	}
	m.escrowedFunds.Sub(float64(amount))
}
