package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	RuleLookups        *prometheus.CounterVec
	RuleRefreshDur     prometheus.Histogram
	RuleRefreshErrors  prometheus.Counter
	RuleCacheSize      prometheus.Gauge
	SettlementRuns     *prometheus.CounterVec
	SettlementRunDur   prometheus.Histogram
	UsersSettled       prometheus.Counter
	UserFailures       *prometheus.CounterVec
	SettlementAmount   prometheus.Counter
	SettlementUpdates  *prometheus.CounterVec
	WithdrawalRequests *prometheus.CounterVec
	WithdrawalUpdates  *prometheus.CounterVec
	EntriesRecorded    *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		RuleLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commission_rule_lookups_total",
				Help: "Commission rule lookups by source.",
			},
			[]string{"source"},
		),
		RuleRefreshDur: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "commission_rule_cache_refresh_duration_seconds",
				Help:    "Rule cache refresh duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		),
		RuleRefreshErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "commission_rule_cache_refresh_errors_total",
				Help: "Total failed rule cache refreshes.",
			},
		),
		RuleCacheSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "commission_rule_cache_size",
				Help: "Number of active rules cached.",
			},
		),
		SettlementRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commission_settlement_runs_total",
				Help: "Settlement batch runs by outcome.",
			},
			[]string{"status"},
		),
		SettlementRunDur: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "commission_settlement_run_duration_seconds",
				Help:    "Settlement batch run duration in seconds.",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		UsersSettled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "commission_users_settled_total",
				Help: "Users for whom a settlement was created.",
			},
		),
		UserFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commission_user_settlement_failures_total",
				Help: "Per-user settlement failures by reason.",
			},
			[]string{"reason"},
		),
		SettlementAmount: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "commission_settled_amount_total",
				Help: "Sum of commission totals aggregated into settlements.",
			},
		),
		SettlementUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commission_settlement_transitions_total",
				Help: "Settlement status transitions.",
			},
			[]string{"status"},
		),
		WithdrawalRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commission_withdrawal_requests_total",
				Help: "Withdrawal requests by outcome.",
			},
			[]string{"status"},
		),
		WithdrawalUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commission_withdrawal_transitions_total",
				Help: "Withdrawal status transitions.",
			},
			[]string{"status"},
		),
		EntriesRecorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commission_entries_recorded_total",
				Help: "Commission entries received by outcome.",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		m.RuleLookups,
		m.RuleRefreshDur,
		m.RuleRefreshErrors,
		m.RuleCacheSize,
		m.SettlementRuns,
		m.SettlementRunDur,
		m.UsersSettled,
		m.UserFailures,
		m.SettlementAmount,
		m.SettlementUpdates,
		m.WithdrawalRequests,
		m.WithdrawalUpdates,
		m.EntriesRecorded,
	)
	return m
}

func (m *Metrics) IncRuleLookup(source string) {
	if m == nil {
		return
	}
	m.RuleLookups.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveRuleRefresh(duration time.Duration) {
	if m == nil {
		return
	}
	m.RuleRefreshDur.Observe(duration.Seconds())
}

func (m *Metrics) SetRuleCacheSize(size int) {
	if m == nil {
		return
	}
	m.RuleCacheSize.Set(float64(size))
}

func (m *Metrics) IncRuleRefreshError() {
	if m == nil {
		return
	}
	m.RuleRefreshErrors.Inc()
}

func (m *Metrics) ObserveSettlementRun(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SettlementRuns.WithLabelValues(status).Inc()
	m.SettlementRunDur.Observe(duration.Seconds())
}

func (m *Metrics) IncUserSettled(total float64) {
	if m == nil {
		return
	}
	m.UsersSettled.Inc()
	m.SettlementAmount.Add(total)
}

func (m *Metrics) IncUserFailure(reason string) {
	if m == nil {
		return
	}
	m.UserFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncSettlementTransition(status string) {
	if m == nil {
		return
	}
	m.SettlementUpdates.WithLabelValues(status).Inc()
}

func (m *Metrics) IncWithdrawalRequest(status string) {
	if m == nil {
		return
	}
	m.WithdrawalRequests.WithLabelValues(status).Inc()
}

func (m *Metrics) IncWithdrawalTransition(status string) {
	if m == nil {
		return
	}
	m.WithdrawalUpdates.WithLabelValues(status).Inc()
}

func (m *Metrics) IncEntryRecorded(outcome string) {
	if m == nil {
		return
	}
	m.EntriesRecorded.WithLabelValues(outcome).Inc()
}
