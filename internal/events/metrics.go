package events

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/taskrun/plannerd/pkg/models"
)

// MetricsSink is a Sink that exposes run-level counters alongside the
// structured event stream, mirroring the template's ExecutorMetrics pattern:
// metrics are derived from the same lifecycle events a consumer sees, never
// tracked by a separate code path that could drift from them.
type MetricsSink struct {
	runsStarted      prometheus.Counter
	runsCompleted    *prometheus.CounterVec // by error_code ("" = success)
	stepsTotal       *prometheus.CounterVec // by step type
	toolFailures     prometheus.Counter
	sandboxTimeouts  prometheus.Counter
	budgetExceeded   *prometheus.CounterVec // by axis
	observationFolds prometheus.Counter
}

// NewMetricsSink registers its collectors on reg and returns the sink. Pass
// prometheus.NewRegistry() (or prometheus.DefaultRegisterer wrapped in a
// *prometheus.Registry) so repeated construction in tests doesn't panic on
// duplicate registration.
func NewMetricsSink(reg prometheus.Registerer) *MetricsSink {
	m := &MetricsSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plannerd",
			Name:      "runs_started_total",
			Help:      "Number of runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plannerd",
			Name:      "runs_completed_total",
			Help:      "Number of runs completed, labeled by terminal error_code (empty for success).",
		}, []string{"error_code"}),
		stepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plannerd",
			Name:      "steps_total",
			Help:      "Number of executed steps, labeled by command type.",
		}, []string{"type"}),
		toolFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plannerd",
			Name:      "tool_failures_total",
			Help:      "Number of failed tool invocations.",
		}),
		sandboxTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plannerd",
			Name:      "sandbox_timeouts_total",
			Help:      "Number of sandbox runs that hit the wall-clock timeout.",
		}),
		budgetExceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plannerd",
			Name:      "budget_exceeded_total",
			Help:      "Number of budget-exhaustion terminations, labeled by axis.",
		}, []string{"axis"}),
		observationFolds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plannerd",
			Name:      "observation_folds_total",
			Help:      "Number of observations compressed through the observation envelope.",
		}),
	}
	reg.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.stepsTotal,
		m.toolFailures,
		m.sandboxTimeouts,
		m.budgetExceeded,
		m.observationFolds,
	)
	return m
}

// Emit implements Sink.
func (m *MetricsSink) Emit(_ context.Context, e models.RunEvent) {
	switch e.Type {
	case models.RunEventTaskStarted:
		m.runsStarted.Inc()
	case models.RunEventTaskCompleted:
		if e.TaskCompleted != nil {
			m.runsCompleted.WithLabelValues(e.TaskCompleted.ErrorCode).Inc()
		}
	case models.RunEventStepDispatching:
		if e.StepDispatching != nil {
			m.stepsTotal.WithLabelValues(string(e.StepDispatching.Type)).Inc()
		}
	case models.RunEventToolFailed:
		m.toolFailures.Inc()
	case models.RunEventSandboxRun:
		if e.SandboxRun != nil && e.SandboxRun.TimedOut {
			m.sandboxTimeouts.Inc()
		}
	case models.RunEventBudgetExceeded:
		if e.BudgetExceeded != nil {
			m.budgetExceeded.WithLabelValues(e.BudgetExceeded.Axis).Inc()
		}
	case models.RunEventObservationFolded:
		m.observationFolds.Inc()
	}
}
