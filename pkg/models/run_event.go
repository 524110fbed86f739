// Package models provides the domain types shared across the planner runtime.
package models

import "time"

// RunEventType identifies the kind of event published on a run's event stream.
//
// The taxonomy is fixed by the external event-stream contract: callers outside
// this module (the HTTP/SSE front door, audit sinks, telemetry) key off these
// exact string values, so new types are additive only.
type RunEventType string

const (
	RunEventTaskStarted        RunEventType = "task.started"
	RunEventPlanningCompleted  RunEventType = "planning.completed"
	RunEventStepDispatching    RunEventType = "step.dispatching"
	RunEventStepCompleted      RunEventType = "step.completed"
	RunEventSearchCompleted    RunEventType = "search.completed"
	RunEventToolStarted        RunEventType = "tool.started"
	RunEventToolCompleted      RunEventType = "tool.completed"
	RunEventToolFailed         RunEventType = "tool.failed"
	RunEventSandboxRun         RunEventType = "sandbox.run"
	RunEventObservationFolded  RunEventType = "observation.compressed"
	RunEventBudgetExceeded     RunEventType = "budget.exceeded"
	RunEventTaskCompleted      RunEventType = "task.completed"
)

// RunEvent is the single envelope emitted for every event on a run's stream.
//
// Exactly one payload field is populated for a given Type; the rest are nil.
// Sequence is monotonic per run so consumers can reconstruct ordering even
// when delivery itself is best-effort (see events.Sink).
type RunEvent struct {
	Type     RunEventType `json:"type"`
	Time     time.Time    `json:"time"`
	Sequence uint64       `json:"seq"`
	RunID    string       `json:"run_id"`
	StepID   int          `json:"step_id,omitempty"`

	TaskStarted       *TaskStartedPayload       `json:"task_started,omitempty"`
	PlanningCompleted *PlanningCompletedPayload `json:"planning_completed,omitempty"`
	StepDispatching   *StepDispatchingPayload   `json:"step_dispatching,omitempty"`
	StepCompleted     *StepCompletedPayload     `json:"step_completed,omitempty"`
	SearchCompleted   *SearchCompletedPayload   `json:"search_completed,omitempty"`
	Tool              *ToolEventPayload         `json:"tool,omitempty"`
	SandboxRun        *SandboxRunPayload        `json:"sandbox_run,omitempty"`
	ObservationFolded *ObservationFoldedPayload `json:"observation_folded,omitempty"`
	BudgetExceeded    *BudgetExceededPayload    `json:"budget_exceeded,omitempty"`
	TaskCompleted     *TaskCompletedPayload     `json:"task_completed,omitempty"`
}

// TaskStartedPayload carries the task.started event fields.
type TaskStartedPayload struct {
	TaskPrefix string `json:"task_prefix"`
	Budget     Budget `json:"budget"`
	UserID     string `json:"user_id"`
}

// PlanningCompletedPayload carries the planning.completed event fields.
type PlanningCompletedPayload struct {
	DecisionType     CommandType `json:"decision_type"`
	ToolID           string      `json:"tool_id,omitempty"`
	ReasoningPreview string      `json:"reasoning_preview"`
}

// StepDispatchingPayload carries the step.dispatching event fields.
type StepDispatchingPayload struct {
	StepID int         `json:"step_id"`
	Type   CommandType `json:"type"`
}

// StepCompletedPayload carries the step.completed event fields.
type StepCompletedPayload struct {
	StepID  int    `json:"step_id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// SearchCompletedPayload carries the search.completed event fields.
type SearchCompletedPayload struct {
	Query       string   `json:"query"`
	ResultCount int      `json:"result_count"`
	ToolIDs     []string `json:"tool_ids"`
}

// ToolEventPayload carries the tool.started/tool.completed/tool.failed event fields.
type ToolEventPayload struct {
	Provider string `json:"provider"`
	Tool     string `json:"tool"`
	Error    string `json:"error,omitempty"`
}

// SandboxRunPayload carries the sandbox.run event fields.
type SandboxRunPayload struct {
	Label    string `json:"label"`
	Success  bool   `json:"success"`
	TimedOut bool   `json:"timed_out"`
	LogLines int    `json:"log_lines"`
}

// ObservationFoldedPayload carries the observation.compressed event fields.
type ObservationFoldedPayload struct {
	Type             string `json:"type"`
	OriginalBytes    int    `json:"original_bytes"`
	CompressedBytes  int    `json:"compressed_bytes"`
}

// BudgetExceededPayload carries the budget.exceeded event fields.
type BudgetExceededPayload struct {
	Axis  string `json:"axis"`
	Usage int    `json:"usage"`
}

// TaskCompletedPayload carries the task.completed event fields.
type TaskCompletedPayload struct {
	Success   bool   `json:"success"`
	ErrorCode string `json:"error_code,omitempty"`
}
