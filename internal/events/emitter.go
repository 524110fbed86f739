package events

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/taskrun/plannerd/pkg/models"
)

// Emitter generates RunEvents for a single run with monotonic sequencing and
// dispatches them to a Sink. An Emitter is cheap to construct; the
// orchestrator makes one per run.
type Emitter struct {
	runID    string
	sequence uint64
	sink     Sink
}

// New builds an Emitter for runID. A nil sink is replaced with NopSink so
// callers never need to nil-check before constructing one.
func New(runID string, sink Sink) *Emitter {
	if sink == nil {
		sink = NopSink{}
	}
	return &Emitter{runID: runID, sink: sink}
}

func (e *Emitter) nextSeq() uint64 {
	return atomic.AddUint64(&e.sequence, 1)
}

func (e *Emitter) base(t models.RunEventType, stepID int) models.RunEvent {
	return models.RunEvent{
		Type:     t,
		Time:     time.Now(),
		Sequence: e.nextSeq(),
		RunID:    e.runID,
		StepID:   stepID,
	}
}

func (e *Emitter) emit(ctx context.Context, ev models.RunEvent) models.RunEvent {
	e.sink.Emit(ctx, ev)
	return ev
}

// TaskStarted emits task.started.
func (e *Emitter) TaskStarted(ctx context.Context, taskPrefix string, budget models.Budget, userID string) models.RunEvent {
	ev := e.base(models.RunEventTaskStarted, 0)
	ev.TaskStarted = &models.TaskStartedPayload{TaskPrefix: taskPrefix, Budget: budget, UserID: userID}
	return e.emit(ctx, ev)
}

// PlanningCompleted emits planning.completed.
func (e *Emitter) PlanningCompleted(ctx context.Context, decisionType models.CommandType, toolID, reasoningPreview string) models.RunEvent {
	ev := e.base(models.RunEventPlanningCompleted, 0)
	ev.PlanningCompleted = &models.PlanningCompletedPayload{DecisionType: decisionType, ToolID: toolID, ReasoningPreview: reasoningPreview}
	return e.emit(ctx, ev)
}

// StepDispatching emits step.dispatching.
func (e *Emitter) StepDispatching(ctx context.Context, stepID int, t models.CommandType) models.RunEvent {
	ev := e.base(models.RunEventStepDispatching, stepID)
	ev.StepDispatching = &models.StepDispatchingPayload{StepID: stepID, Type: t}
	return e.emit(ctx, ev)
}

// StepCompleted emits step.completed.
func (e *Emitter) StepCompleted(ctx context.Context, stepID int, success bool, errMsg string) models.RunEvent {
	ev := e.base(models.RunEventStepCompleted, stepID)
	ev.StepCompleted = &models.StepCompletedPayload{StepID: stepID, Success: success, Error: errMsg}
	return e.emit(ctx, ev)
}

// SearchCompleted emits search.completed.
func (e *Emitter) SearchCompleted(ctx context.Context, stepID int, query string, toolIDs []string) models.RunEvent {
	ev := e.base(models.RunEventSearchCompleted, stepID)
	ev.SearchCompleted = &models.SearchCompletedPayload{Query: query, ResultCount: len(toolIDs), ToolIDs: toolIDs}
	return e.emit(ctx, ev)
}

// ToolStarted emits tool.started.
func (e *Emitter) ToolStarted(ctx context.Context, stepID int, provider, tool string) models.RunEvent {
	ev := e.base(models.RunEventToolStarted, stepID)
	ev.Tool = &models.ToolEventPayload{Provider: provider, Tool: tool}
	return e.emit(ctx, ev)
}

// ToolCompleted emits tool.completed.
func (e *Emitter) ToolCompleted(ctx context.Context, stepID int, provider, tool string) models.RunEvent {
	ev := e.base(models.RunEventToolCompleted, stepID)
	ev.Tool = &models.ToolEventPayload{Provider: provider, Tool: tool}
	return e.emit(ctx, ev)
}

// ToolFailed emits tool.failed.
func (e *Emitter) ToolFailed(ctx context.Context, stepID int, provider, tool, errMsg string) models.RunEvent {
	ev := e.base(models.RunEventToolFailed, stepID)
	ev.Tool = &models.ToolEventPayload{Provider: provider, Tool: tool, Error: errMsg}
	return e.emit(ctx, ev)
}

// SandboxRun emits sandbox.run.
func (e *Emitter) SandboxRun(ctx context.Context, stepID int, label string, success, timedOut bool, logLines int) models.RunEvent {
	ev := e.base(models.RunEventSandboxRun, stepID)
	ev.SandboxRun = &models.SandboxRunPayload{Label: label, Success: success, TimedOut: timedOut, LogLines: logLines}
	return e.emit(ctx, ev)
}

// ObservationFolded emits observation.compressed.
func (e *Emitter) ObservationFolded(ctx context.Context, stepID int, kind string, originalBytes, compressedBytes int) models.RunEvent {
	ev := e.base(models.RunEventObservationFolded, stepID)
	ev.ObservationFolded = &models.ObservationFoldedPayload{Type: kind, OriginalBytes: originalBytes, CompressedBytes: compressedBytes}
	return e.emit(ctx, ev)
}

// BudgetExceeded emits budget.exceeded.
func (e *Emitter) BudgetExceeded(ctx context.Context, stepID int, axis models.BudgetAxis, usage int) models.RunEvent {
	ev := e.base(models.RunEventBudgetExceeded, stepID)
	ev.BudgetExceeded = &models.BudgetExceededPayload{Axis: string(axis), Usage: usage}
	return e.emit(ctx, ev)
}

// TaskCompleted emits task.completed.
func (e *Emitter) TaskCompleted(ctx context.Context, success bool, errorCode string) models.RunEvent {
	ev := e.base(models.RunEventTaskCompleted, 0)
	ev.TaskCompleted = &models.TaskCompletedPayload{Success: success, ErrorCode: errorCode}
	return e.emit(ctx, ev)
}
