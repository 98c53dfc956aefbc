// Package metrics exposes Prometheus instrumentation for reaction processing.
//
// Labels are bounded: origin (network, reflection), outcome (success,
// discard), reason (the discard reasons) and effect (added, removed,
// unchanged).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gwillem/signal-reactions/internal/reaction"
)

// Metrics implements reaction.Recorder.
type Metrics struct {
	tasks    *prometheus.CounterVec
	discards *prometheus.CounterVec
	effects  *prometheus.CounterVec
	failures *prometheus.CounterVec
}

var _ reaction.Recorder = (*Metrics)(nil)

// New creates the collectors and registers them with reg when it is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reaction_tasks_total",
				Help: "Reaction tasks completed, by origin and outcome.",
			},
			[]string{"origin", "outcome"},
		),
		discards: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reaction_discards_total",
				Help: "Discarded reactions, by origin and reason.",
			},
			[]string{"origin", "reason"},
		),
		effects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reaction_apply_effects_total",
				Help: "Effect of applied reactions on the stored reaction set.",
			},
			[]string{"origin", "effect"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reaction_task_failures_total",
				Help: "Reaction tasks that failed with a storage or cancellation error.",
			},
			[]string{"origin"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.tasks, m.discards, m.effects, m.failures)
	}
	return m
}

// Outcome counts a finished task.
func (m *Metrics) Outcome(origin reaction.Origin, outcome reaction.Outcome, reason reaction.Reason) {
	m.tasks.WithLabelValues(origin.String(), outcome.String()).Inc()
	if outcome == reaction.Discard {
		m.discards.WithLabelValues(origin.String(), string(reason)).Inc()
	}
}

// Effect counts what an apply did.
func (m *Metrics) Effect(origin reaction.Origin, effect reaction.Effect) {
	m.effects.WithLabelValues(origin.String(), effect.String()).Inc()
}

// Failure counts a task that returned an error.
func (m *Metrics) Failure(origin reaction.Origin) {
	m.failures.WithLabelValues(origin.String()).Inc()
}
