package metrics

import "github.com/prometheus/client_golang/prometheus"

// LedgerMetrics counts reservation lifecycle outcomes.
type LedgerMetrics struct {
	reserves  *prometheus.CounterVec
	commits   *prometheus.CounterVec
	rollbacks *prometheus.CounterVec
}

// NewLedgerMetrics registers the ledger counters on the provided registerer.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	reserves := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_reserves_total",
		Help: "Credit reservation attempts by outcome.",
	}, []string{"outcome"})
	commits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_commits_total",
		Help: "Reservation commits by outcome.",
	}, []string{"outcome"})
	rollbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_rollbacks_total",
		Help: "Reservation rollbacks by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(reserves, commits, rollbacks)
	return &LedgerMetrics{
		reserves:  reserves,
		commits:   commits,
		rollbacks: rollbacks,
	}
}

// IncReserve increments the reserve counter for the given outcome.
func (l *LedgerMetrics) IncReserve(outcome string) {
	if l == nil || l.reserves == nil {
		return
	}
	l.reserves.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncCommit increments the commit counter for the given outcome.
func (l *LedgerMetrics) IncCommit(outcome string) {
	if l == nil || l.commits == nil {
		return
	}
	l.commits.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncRollback increments the rollback counter for the given outcome.
func (l *LedgerMetrics) IncRollback(outcome string) {
	if l == nil || l.rollbacks == nil {
		return
	}
	l.rollbacks.WithLabelValues(normalizeLabel(outcome)).Inc()
}
