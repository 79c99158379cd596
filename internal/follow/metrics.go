package follow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"agent-follower/internal/models"
)

const (
	passOK      = "ok"
	passAborted = "aborted"
)

// Metrics are the engine's Prometheus collectors:
//
//	follower_passes_total{result}            passes by outcome (ok|aborted)
//	follower_pass_duration_seconds           pass latency
//	follower_changes_total{type}             detected changes
//	follower_plans_total{action}             emitted plans (ENTER|EXIT)
//	follower_plans_rejected_total{reason}    plans dropped by a gate
//	follower_discrepancies_total{severity}   consistency discrepancies
//	follower_profit_exits_total              profit-target closes
//	follower_position_closes_total           closes before reopening
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	passes        *prometheus.CounterVec
	passDuration  prometheus.Histogram
	changes       *prometheus.CounterVec
	plans         *prometheus.CounterVec
	rejected      *prometheus.CounterVec
	discrepancies *prometheus.CounterVec
	profitExits   prometheus.Counter
	closes        prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		passes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "follower_passes_total",
				Help: "Follow passes by result",
			},
			[]string{"result"},
		),
		passDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "follower_pass_duration_seconds",
				Help:    "Duration of follow passes",
				Buckets: prometheus.DefBuckets,
			},
		),
		changes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "follower_changes_total",
				Help: "Detected position changes",
			},
			[]string{"type"},
		),
		plans: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "follower_plans_total",
				Help: "Follow plans emitted",
			},
			[]string{"action"},
		),
		rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "follower_plans_rejected_total",
				Help: "Plans dropped by price tolerance or risk checks",
			},
			[]string{"reason"},
		),
		discrepancies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "follower_discrepancies_total",
				Help: "Consistency discrepancies by severity",
			},
			[]string{"severity"},
		),
		profitExits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "follower_profit_exits_total",
				Help: "Positions closed at the profit target",
			},
		),
		closes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "follower_position_closes_total",
				Help: "Live positions closed before reopening",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.passes, m.passDuration, m.changes, m.plans,
			m.rejected, m.discrepancies, m.profitExits, m.closes)
	}
	return m
}

func (m *Metrics) observePass(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(result).Inc()
	m.passDuration.Observe(d.Seconds())
}

func (m *Metrics) observeChange(t models.ChangeType) {
	if m == nil {
		return
	}
	m.changes.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) observePlan(a models.PlanAction) {
	if m == nil {
		return
	}
	m.plans.WithLabelValues(string(a)).Inc()
}

func (m *Metrics) observeRejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) observeDiscrepancies(ds []models.PositionDiscrepancy) {
	if m == nil {
		return
	}
	for _, d := range ds {
		m.discrepancies.WithLabelValues(string(d.Severity)).Inc()
	}
}

func (m *Metrics) observeProfitExit() {
	if m == nil {
		return
	}
	m.profitExits.Inc()
}

func (m *Metrics) observeClose() {
	if m == nil {
		return
	}
	m.closes.Inc()
}
