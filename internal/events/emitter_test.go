package events

import (
	"context"
	"testing"

	"github.com/taskrun/plannerd/pkg/models"
)

func TestEmitter_SequenceIsMonotonic(t *testing.T) {
	var got []models.RunEvent
	sink := NewCallbackSink(func(_ context.Context, e models.RunEvent) { got = append(got, e) })
	em := New("run-1", sink)
	ctx := context.Background()

	em.TaskStarted(ctx, "do the thing", models.DefaultBudget(), "user-1")
	em.StepDispatching(ctx, 1, models.CommandSearch)
	em.SearchCompleted(ctx, 1, "send email", []string{"gmail.gmail_send_email"})
	em.StepCompleted(ctx, 1, true, "")

	if len(got) != 4 {
		t.Fatalf("expected 4 emitted events, got %d", len(got))
	}
	for i, e := range got {
		if e.RunID != "run-1" {
			t.Errorf("event %d: RunID = %q, want run-1", i, e.RunID)
		}
		if e.Sequence != uint64(i+1) {
			t.Errorf("event %d: Sequence = %d, want %d", i, e.Sequence, i+1)
		}
	}

	if got[0].Type != models.RunEventTaskStarted || got[0].TaskStarted == nil {
		t.Error("expected first event to be task.started with a populated payload")
	}
	if got[2].SearchCompleted == nil || got[2].SearchCompleted.ResultCount != 1 {
		t.Errorf("search.completed payload wrong: %+v", got[2].SearchCompleted)
	}
}

func TestEmitter_NilSinkDefaultsToNop(t *testing.T) {
	em := New("run-2", nil)
	// Should not panic.
	em.TaskCompleted(context.Background(), true, "")
}

func TestEmitter_BudgetExceededCarriesAxis(t *testing.T) {
	var got models.RunEvent
	sink := NewCallbackSink(func(_ context.Context, e models.RunEvent) { got = e })
	em := New("run-3", sink)

	em.BudgetExceeded(context.Background(), 5, models.AxisMaxSteps, 10)

	if got.BudgetExceeded == nil {
		t.Fatal("expected BudgetExceeded payload")
	}
	if got.BudgetExceeded.Axis != string(models.AxisMaxSteps) {
		t.Errorf("Axis = %q, want %q", got.BudgetExceeded.Axis, models.AxisMaxSteps)
	}
	if got.StepID != 5 {
		t.Errorf("StepID = %d, want 5", got.StepID)
	}
}
