package models

import "encoding/json"

// CommandType identifies which of the five shapes a planner-issued Command
// takes. The parser dispatches on this tag rather than on Go's type system,
// since the wire form is a single flat JSON object with a "type" discriminant.
type CommandType string

const (
	CommandSearch  CommandType = "search"
	CommandTool    CommandType = "tool"
	CommandSandbox CommandType = "sandbox"
	CommandFinish  CommandType = "finish"
	CommandFail    CommandType = "fail"
)

// Command is the parsed form of a single planner decision. Exactly one of the
// typed payload fields is populated, selected by Type. Reasoning is present on
// every command type; it is never shown back to the planner but is retained
// for the planning.completed event and for audit trails.
type Command struct {
	Type      CommandType `json:"type"`
	Reasoning string      `json:"reasoning"`

	Search  *SearchCommand  `json:"-"`
	Tool    *ToolCommand    `json:"-"`
	Sandbox *SandboxCommand `json:"-"`
	Finish  *FinishCommand  `json:"-"`
	Fail    *FailCommand    `json:"-"`
}

// SearchCommand asks the tool index for candidate tools matching a free-text
// query, optionally narrowed to a single provider. DetailLevel and Limit are
// planner hints only; the executor replaces a non-positive Limit with its
// default of 10 and ignores an empty DetailLevel rather than rejecting the
// command.
type SearchCommand struct {
	Query       string `json:"query"`
	Provider    string `json:"provider,omitempty"`
	DetailLevel string `json:"detail_level,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

// ToolCommand invokes a single previously-discovered tool. ToolID must have
// appeared in the result set of a prior search.completed event in this run;
// the executor enforces discovery-before-use, not the parser. Server is the
// planner's restated provider id; the executor rejects a command where it
// disagrees with the provider half of ToolID.
type ToolCommand struct {
	Server string          `json:"server"`
	ToolID string          `json:"tool_id"`
	Args   json.RawMessage `json:"args"`
}

// SandboxCommand submits Python source to run in the ephemeral sandbox.
// Label is a short human-readable tag surfaced on the sandbox.run event; it
// has no semantic effect on execution.
type SandboxCommand struct {
	Code  string `json:"code"`
	Label string `json:"label,omitempty"`
}

// FinishCommand ends the run successfully with a final answer for the
// caller. Outputs, if present, is shallow-merged into AgentState.RawOutputs;
// an existing key is never overwritten by a finish step.
type FinishCommand struct {
	Summary string                     `json:"summary"`
	Outputs map[string]json.RawMessage `json:"outputs,omitempty"`
}

// FailCommand ends the run unsuccessfully. ErrorCode should be one of the
// taxonomy values in package plannererr when the planner is reporting a known
// failure mode rather than giving up for an unmodeled reason.
type FailCommand struct {
	Reason    string `json:"reason"`
	ErrorCode string `json:"error_code,omitempty"`
}

// protocolErrorPreviewLimit bounds how much of a malformed planner response
// is retained verbatim in a ProtocolError, so a pathological or adversarial
// completion can't blow up log lines or downstream event payloads.
const protocolErrorPreviewLimit = 200

// ProtocolError reports that a planner completion could not be parsed into a
// valid Command: invalid JSON, an unrecognized type tag, or a type-specific
// required field missing or of the wrong shape.
type ProtocolError struct {
	Reason  string `json:"reason"`
	Preview string `json:"preview"`
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

// NewProtocolError builds a ProtocolError from the raw planner output,
// truncating it to protocolErrorPreviewLimit runes.
func NewProtocolError(reason, raw string) *ProtocolError {
	r := []rune(raw)
	if len(r) > protocolErrorPreviewLimit {
		raw = string(r[:protocolErrorPreviewLimit])
	}
	return &ProtocolError{Reason: reason, Preview: raw}
}
