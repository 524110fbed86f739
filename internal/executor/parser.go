// Package executor is the Command Parser (§4.3) and Action Executor (§4.4):
// turning one planner completion into a validated models.Command, then
// carrying out exactly that command against the Tool Index, Tool
// Dispatcher, and Sandbox Runner.
package executor

import (
	"encoding/json"
	"strings"

	"github.com/taskrun/plannerd/pkg/models"
)

// wireCommand is the flat JSON shape every command type is parsed from
// before being split into Command's typed payload.
type wireCommand struct {
	Type        string                     `json:"type"`
	Reasoning   string                     `json:"reasoning"`
	Query       string                     `json:"query"`
	Provider    string                     `json:"provider"`
	DetailLevel string                     `json:"detail_level"`
	Limit       int                        `json:"limit"`
	Server      string                     `json:"server"`
	ToolID      string                     `json:"tool_id"`
	Args        json.RawMessage            `json:"args"`
	Code        string                     `json:"code"`
	Label       string                     `json:"label"`
	Summary     string                     `json:"summary"`
	Outputs     map[string]json.RawMessage `json:"outputs"`
	Reason      string                     `json:"reason"`
	ErrorCode   string                     `json:"error_code"`
}

// ParseCommand validates one raw planner completion against the five wire
// shapes (§4.3): invalid JSON, an unrecognized "type", an empty reasoning
// string, or a type-specific missing required field all yield a
// ProtocolError rather than a partially-populated Command.
func ParseCommand(raw string) (*models.Command, *models.ProtocolError) {
	var w wireCommand
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, models.NewProtocolError("invalid JSON: "+err.Error(), raw)
	}
	if strings.TrimSpace(w.Reasoning) == "" {
		return nil, models.NewProtocolError("missing non-empty reasoning", raw)
	}

	cmd := &models.Command{Type: models.CommandType(w.Type), Reasoning: w.Reasoning}

	switch cmd.Type {
	case models.CommandSearch:
		if strings.TrimSpace(w.Query) == "" {
			return nil, models.NewProtocolError("search command missing query", raw)
		}
		if w.DetailLevel != "" && w.DetailLevel != "summary" && w.DetailLevel != "full" {
			return nil, models.NewProtocolError("search command has invalid detail_level", raw)
		}
		if w.Limit < 0 || w.Limit > 50 {
			return nil, models.NewProtocolError("search command limit out of range", raw)
		}
		cmd.Search = &models.SearchCommand{Query: w.Query, Provider: w.Provider, DetailLevel: w.DetailLevel, Limit: w.Limit}

	case models.CommandTool:
		if strings.TrimSpace(w.ToolID) == "" {
			return nil, models.NewProtocolError("tool command missing tool_id", raw)
		}
		if strings.TrimSpace(w.Server) == "" {
			return nil, models.NewProtocolError("tool command missing server", raw)
		}
		args := w.Args
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		cmd.Tool = &models.ToolCommand{Server: w.Server, ToolID: w.ToolID, Args: args}

	case models.CommandSandbox:
		if strings.TrimSpace(w.Label) == "" {
			return nil, models.NewProtocolError("sandbox command missing label", raw)
		}
		if strings.TrimSpace(w.Code) == "" {
			return nil, models.NewProtocolError("sandbox command missing code", raw)
		}
		cmd.Sandbox = &models.SandboxCommand{Code: w.Code, Label: w.Label}

	case models.CommandFinish:
		if strings.TrimSpace(w.Summary) == "" {
			return nil, models.NewProtocolError("finish command missing summary", raw)
		}
		cmd.Finish = &models.FinishCommand{Summary: w.Summary, Outputs: w.Outputs}

	case models.CommandFail:
		if strings.TrimSpace(w.Reason) == "" {
			return nil, models.NewProtocolError("fail command missing reason", raw)
		}
		cmd.Fail = &models.FailCommand{Reason: w.Reason, ErrorCode: w.ErrorCode}

	default:
		return nil, models.NewProtocolError("unrecognized command type: "+w.Type, raw)
	}

	return cmd, nil
}

// Serialize renders cmd back to the flat wire shape, for the parser
// round-trip property in §8 ("parse(serialize(cmd)) == cmd").
func Serialize(cmd *models.Command) (string, error) {
	w := wireCommand{Type: string(cmd.Type), Reasoning: cmd.Reasoning}
	switch cmd.Type {
	case models.CommandSearch:
		w.Query, w.Provider = cmd.Search.Query, cmd.Search.Provider
		w.DetailLevel, w.Limit = cmd.Search.DetailLevel, cmd.Search.Limit
	case models.CommandTool:
		w.Server, w.ToolID, w.Args = cmd.Tool.Server, cmd.Tool.ToolID, cmd.Tool.Args
	case models.CommandSandbox:
		w.Code, w.Label = cmd.Sandbox.Code, cmd.Sandbox.Label
	case models.CommandFinish:
		w.Summary, w.Outputs = cmd.Finish.Summary, cmd.Finish.Outputs
	case models.CommandFail:
		w.Reason, w.ErrorCode = cmd.Fail.Reason, cmd.Fail.ErrorCode
	}
	out, err := json.Marshal(w)
	return string(out), err
}
