package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "assessment"

// Metrics holds the service counters. A nil *Metrics records nothing.
type Metrics struct {
	AttemptsStarted     *prometheus.CounterVec
	AttemptsResumed     *prometheus.CounterVec
	EligibilityRefusals *prometheus.CounterVec
	AttemptsFinalized   *prometheus.CounterVec
	PersistenceFailures *prometheus.CounterVec
	MigrationOutcomes   *prometheus.CounterVec
	EmailsSent          *prometheus.CounterVec
}

// New creates the counters and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AttemptsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_started_total",
				Help:      "Fresh attempts created",
			},
			[]string{"mode"},
		),
		AttemptsResumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_resumed_total",
				Help:      "Unfinished attempts resumed from the store",
			},
			[]string{"mode"},
		),
		EligibilityRefusals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "eligibility_refusals_total",
				Help:      "Attempt starts refused by the eligibility policy",
			},
			[]string{"reason"},
		),
		AttemptsFinalized: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_finalized_total",
				Help:      "Attempts scored and completed",
			},
			[]string{"mode", "reason"},
		),
		PersistenceFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persistence_failures_total",
				Help:      "Document store writes that failed",
			},
			[]string{"op"},
		),
		MigrationOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "legacy_migration_records_total",
				Help:      "Legacy records processed by the migration job",
			},
			[]string{"outcome"},
		),
		EmailsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "result_emails_total",
				Help:      "Result emails handed to the sender",
			},
			[]string{"status"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.AttemptsStarted,
			m.AttemptsResumed,
			m.EligibilityRefusals,
			m.AttemptsFinalized,
			m.PersistenceFailures,
			m.MigrationOutcomes,
			m.EmailsSent,
		)
	}
	return m
}

func (m *Metrics) Started(mode string) {
	if m == nil {
		return
	}
	m.AttemptsStarted.WithLabelValues(mode).Inc()
}

func (m *Metrics) Resumed(mode string) {
	if m == nil {
		return
	}
	m.AttemptsResumed.WithLabelValues(mode).Inc()
}

func (m *Metrics) Refused(reason string) {
	if m == nil {
		return
	}
	m.EligibilityRefusals.WithLabelValues(reason).Inc()
}

func (m *Metrics) Finalized(mode, reason string) {
	if m == nil {
		return
	}
	m.AttemptsFinalized.WithLabelValues(mode, reason).Inc()
}

func (m *Metrics) PersistenceFailed(op string) {
	if m == nil {
		return
	}
	m.PersistenceFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) Migration(outcome string) {
	if m == nil {
		return
	}
	m.MigrationOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Email(status string) {
	if m == nil {
		return
	}
	m.EmailsSent.WithLabelValues(status).Inc()
}
