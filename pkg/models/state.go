package models

import (
	"encoding/json"
	"time"
)

// TenantContext scopes a run to a single tenant. The orchestrator threads it
// through every lookup against the Provider Registry and the Tool Index so
// that two tenants never observe each other's providers, sandbox roots, or
// cached tool summaries. Ambient credentials are obtained out-of-band by the
// Provider Registry; TenantContext carries only the handle needed to look
// them up, never the credentials themselves.
type TenantContext struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
}

// AgentState is the full mutable record of one run. The orchestrator creates
// it and shares the pointer with the run's executor, which updates it step by
// step; the planner prompt projector reads its fields directly. History is
// append-only, per the "history is append-only, no back-references" design
// note.
type AgentState struct {
	Task   string        `json:"task"`
	Tenant TenantContext `json:"tenant"`
	Budget Budget        `json:"budget"`
	Usage  BudgetUsage   `json:"usage"`

	// InventoryView is the provider -> tool-name tree seeded from the Tool
	// Index at run start: authorized providers only, plus the always-present
	// built-in toolbox provider.
	InventoryView map[string][]string `json:"inventory_view"`

	// DiscoveredTools is the set of tool IDs a tool/sandbox step may
	// reference, populated by search steps. toolbox.inspect_tool_output is
	// always implicitly discovered and never appears in this set explicitly.
	DiscoveredTools map[string]struct{} `json:"-"`

	// SearchResults holds the most recent compact descriptor for each
	// discovered tool id, deduplicated by id and updated whenever a later
	// search returns a higher-detail descriptor for the same id.
	SearchResults map[string]ToolSpec `json:"-"`

	History    []ExecutionStep        `json:"history"`
	RawOutputs map[string]json.RawMessage `json:"raw_outputs"`
	Logs       []string               `json:"logs"`

	// Terminal is empty while the run is in progress, then exactly one of
	// CommandFinish or CommandFail once a terminal step has been recorded.
	Terminal     CommandType `json:"terminal,omitempty"`
	FinalSummary string      `json:"final_summary,omitempty"`
	Error        string      `json:"error,omitempty"`
	ErrorCode    string      `json:"error_code,omitempty"`

	// ConsecutiveEmptySearches and ConsecutiveProtocolErrors back the
	// discovery_failed and protocol_error termination rules.
	// ConsecutiveEmptySearches is reset to zero by a search that returns
	// results (other step types leave it unchanged); ConsecutiveProtocolErrors
	// is reset by any planner reply that parses.
	ConsecutiveEmptySearches int `json:"-"`
	ConsecutiveProtocolErrors int `json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

// NewAgentState constructs an AgentState ready for the control loop's first
// iteration. InventoryView, RawOutputs, DiscoveredTools, and SearchResults
// start non-nil but empty so callers never need a nil check.
func NewAgentState(task string, tenant TenantContext, budget Budget, inventory map[string][]string) *AgentState {
	return &AgentState{
		Task:            task,
		Tenant:          tenant,
		Budget:          budget,
		InventoryView:   inventory,
		DiscoveredTools: make(map[string]struct{}),
		SearchResults:   make(map[string]ToolSpec),
		RawOutputs:      make(map[string]json.RawMessage),
		CreatedAt:       time.Now(),
	}
}

// IsDiscovered reports whether toolID may be referenced by a tool or sandbox
// step: either it was returned by a prior search, or it is the always-exempt
// inspector tool.
func (s *AgentState) IsDiscovered(toolID string) bool {
	if toolID == InspectToolOutputID {
		return true
	}
	_, ok := s.DiscoveredTools[toolID]
	return ok
}

// InspectToolOutputID is the tool_id of the built-in toolbox tool used to
// drill into a fold marker emitted by the Tool Index summarizer. It is
// exempt from discovery-before-use everywhere that rule is enforced.
const InspectToolOutputID = "toolbox.inspect_tool_output"

// ExecutionStep is one iteration of the control loop: the command the
// planner chose, and the result of carrying it out. Steps are appended once
// and never mutated; step_id is strictly increasing within a run.
type ExecutionStep struct {
	StepID    int       `json:"step_id"`
	Type      CommandType `json:"type"`
	Reasoning string    `json:"reasoning"`
	Command   Command   `json:"command"`
	Result    StepResult `json:"result"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// StepResult is the outcome of a single ExecutionStep, already passed
// through the Observation Envelope. Observation is bounded to 2KB; if the
// underlying value was larger it was spilled into AgentState.RawOutputs
// under RawOutputKey and Observation carries the "_stored" preview instead.
type StepResult struct {
	Success      bool   `json:"success"`
	Observation  string `json:"observation"`
	RawOutputKey string `json:"raw_output_key,omitempty"`
	Error        string `json:"error,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
}

// ActionResponse is the normalized envelope every Provider invocation and
// every sandbox IPC round-trip returns through the Tool Dispatcher, before
// envelope compression. Successful is false only when Error is non-empty.
// Data is always present, even if empty, so callers never nil-check it.
type ActionResponse struct {
	Successful bool            `json:"successful"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// EmptyActionResponse returns the canonical {successful:true, data:{}}
// envelope, used when a provider call legitimately has nothing to return.
func EmptyActionResponse() ActionResponse {
	return ActionResponse{Successful: true, Data: json.RawMessage("{}")}
}

// FailedActionResponse wraps a transport or provider error in the normalized
// envelope shape, e.g. "transport: connection refused".
func FailedActionResponse(msg string) ActionResponse {
	return ActionResponse{Successful: false, Data: json.RawMessage("{}"), Error: msg}
}

// SandboxResult is what the sandbox runner returns for one sandbox command,
// after parsing the sentinel-delimited result block out of the subprocess's
// stdout. TimedOut implies Success is false.
type SandboxResult struct {
	Success  bool            `json:"success"`
	Result   json.RawMessage `json:"result,omitempty"`
	Logs     []string        `json:"logs"`
	Error    string          `json:"error,omitempty"`
	TimedOut bool            `json:"timed_out"`
}

// MCPTaskResult is the Orchestrator's single return value for a completed or
// aborted run. Success is true if and only if the run reached a finish step.
type MCPTaskResult struct {
	Success      bool                       `json:"success"`
	FinalSummary string                     `json:"final_summary"`
	RawOutputs   map[string]json.RawMessage `json:"raw_outputs"`
	BudgetUsage  BudgetUsage                `json:"budget_usage"`
	Logs         []string                   `json:"logs"`
	Steps        []ExecutionStep            `json:"steps"`
	Error        string                     `json:"error,omitempty"`
	ErrorCode    string                     `json:"error_code,omitempty"`
}
