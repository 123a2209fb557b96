// Package metrics exposes scheduler and controller activity to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nua"

type Metrics struct {
	reconcileRecords  *prometheus.CounterVec
	reconcileDuration prometheus.Histogram
	bonusGrants       prometheus.Counter
	bonusEnds         *prometheus.CounterVec
	controllerActions *prometheus.CounterVec
}

// New registers the collectors on reg, or the default registerer when reg
// is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		reconcileRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_records_total",
				Help:      "Schedule records examined by reconciliation, by outcome",
			},
			[]string{"outcome"},
		),
		reconcileDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reconcile_duration_seconds",
				Help:      "Duration of reconciliation runs",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10},
			},
		),
		bonusGrants: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bonus_grants_total",
				Help:      "Bonus time grants",
			},
		),
		bonusEnds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bonus_ends_total",
				Help:      "Bonus time endings, by trigger",
			},
			[]string{"trigger"},
		),
		controllerActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "controller_actions_total",
				Help:      "Block and allow calls to the controller, by result",
			},
			[]string{"action", "result"},
		),
	}

	reg.MustRegister(
		m.reconcileRecords,
		m.reconcileDuration,
		m.bonusGrants,
		m.bonusEnds,
		m.controllerActions,
	)

	return m
}

// RegisterLiveJobs exposes the number of registered jobs via fn.
func RegisterLiveJobs(reg prometheus.Registerer, fn func() int) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_live",
			Help:      "Jobs currently registered with the scheduler",
		},
		func() float64 { return float64(fn()) },
	))
}

func (m *Metrics) ReconcileRecord(outcome string) {
	m.reconcileRecords.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ReconcileDuration(d time.Duration) {
	m.reconcileDuration.Observe(d.Seconds())
}

func (m *Metrics) BonusGranted() {
	m.bonusGrants.Inc()
}

func (m *Metrics) BonusEnded(manual bool) {
	trigger := "expired"
	if manual {
		trigger = "manual"
	}
	m.bonusEnds.WithLabelValues(trigger).Inc()
}

func (m *Metrics) ControllerAction(action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.controllerActions.WithLabelValues(action, result).Inc()
}
