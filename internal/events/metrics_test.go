package events

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/taskrun/plannerd/pkg/models"
)

func TestMetricsSink_CountsRunsAndSteps(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsSink(reg)
	ctx := context.Background()

	m.Emit(ctx, models.RunEvent{Type: models.RunEventTaskStarted})
	m.Emit(ctx, models.RunEvent{Type: models.RunEventStepDispatching, StepDispatching: &models.StepDispatchingPayload{Type: models.CommandSearch}})
	m.Emit(ctx, models.RunEvent{Type: models.RunEventTaskCompleted, TaskCompleted: &models.TaskCompletedPayload{Success: true}})

	if got := testutil.ToFloat64(m.runsStarted); got != 1 {
		t.Errorf("runsStarted = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.stepsTotal.WithLabelValues("search")); got != 1 {
		t.Errorf("stepsTotal[search] = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.runsCompleted.WithLabelValues("")); got != 1 {
		t.Errorf("runsCompleted[\"\"] = %v, want 1", got)
	}
}

func TestMetricsSink_BudgetExceededLabelsByAxis(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsSink(reg)
	ctx := context.Background()

	m.Emit(ctx, models.RunEvent{Type: models.RunEventBudgetExceeded, BudgetExceeded: &models.BudgetExceededPayload{Axis: "max_steps", Usage: 10}})

	if got := testutil.ToFloat64(m.budgetExceeded.WithLabelValues("max_steps")); got != 1 {
		t.Errorf("budgetExceeded[max_steps] = %v, want 1", got)
	}
}

func TestMetricsSink_SandboxTimeoutOnlyCountsTimedOutRuns(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsSink(reg)
	ctx := context.Background()

	m.Emit(ctx, models.RunEvent{Type: models.RunEventSandboxRun, SandboxRun: &models.SandboxRunPayload{Label: "compute", Success: true}})
	m.Emit(ctx, models.RunEvent{Type: models.RunEventSandboxRun, SandboxRun: &models.SandboxRunPayload{Label: "compute", TimedOut: true}})

	if got := testutil.ToFloat64(m.sandboxTimeouts); got != 1 {
		t.Errorf("sandboxTimeouts = %v, want 1", got)
	}
}
