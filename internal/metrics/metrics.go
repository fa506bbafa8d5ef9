// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SweepMetrics instruments SLA sweep runs.
type SweepMetrics struct {
	Runs      prometheus.Counter
	Warnings  prometheus.Counter
	Breaches  prometheus.Counter
	Failures  prometheus.Counter
	Duration  prometheus.Histogram
	Conflicts prometheus.Counter
}

// NewSweepMetrics registers sweep collectors on reg. Pass a fresh registry
// in tests to avoid duplicate registration.
func NewSweepMetrics(reg prometheus.Registerer) *SweepMetrics {
	m := &SweepMetrics{
		Runs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sla_sweep_runs_total",
			Help: "Completed SLA sweep runs.",
		}),
		Warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sla_sweep_warnings_total",
			Help: "Warning notifications emitted by sweeps.",
		}),
		Breaches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sla_sweep_breaches_total",
			Help: "Breached trackers escalated by sweeps.",
		}),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sla_sweep_failures_total",
			Help: "Per-ticket failures logged during sweeps.",
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sla_sweep_duration_seconds",
			Help:    "Wall time of SLA sweep runs.",
			Buckets: prometheus.DefBuckets,
		}),
		Conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sla_escalation_conflicts_total",
			Help: "Escalations that lost against a concurrent reassignment.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Runs, m.Warnings, m.Breaches, m.Failures, m.Duration, m.Conflicts)
	}
	return m
}
