package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters exported on /metrics. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	slotOutcomes    *prometheus.CounterVec
	ledgerMutations *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec
	migrations      *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		slotOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promptforge",
			Name:      "slot_outcomes_total",
			Help:      "Terminal generation slot outcomes by status.",
		}, []string{"status"}),
		ledgerMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promptforge",
			Name:      "ledger_mutations_total",
			Help:      "Ledger writer calls by operation, reason and result.",
		}, []string{"operation", "reason", "result"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promptforge",
			Name:      "webhook_events_total",
			Help:      "Payment provider events by type and result.",
		}, []string{"type", "result"}),
		migrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promptforge",
			Name:      "migration_accounts_total",
			Help:      "Accounts processed by the migration job by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.slotOutcomes, m.ledgerMutations, m.webhookEvents, m.migrations)
	}
	return m
}

func (m *Metrics) RecordSlotOutcome(status string) {
	if m == nil {
		return
	}
	m.slotOutcomes.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordLedgerMutation(operation, reason, result string) {
	if m == nil {
		return
	}
	m.ledgerMutations.WithLabelValues(operation, reason, result).Inc()
}

func (m *Metrics) RecordWebhookEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, result).Inc()
}

func (m *Metrics) RecordMigration(result string) {
	if m == nil {
		return
	}
	m.migrations.WithLabelValues(result).Inc()
}
