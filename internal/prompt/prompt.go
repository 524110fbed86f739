// Package prompt renders an AgentState into the Planner LLM Adapter's
// provider-neutral completion request (§4.2): a system prompt fixed for the
// lifetime of a run, and a per-step JSON projection of state.
package prompt

import (
	"encoding/json"

	"github.com/taskrun/plannerd/pkg/models"
)

// HistoryWindow is the default number of most-recent history entries carried
// in the prompt projection (§4.2's "the last N history entries, default N=8").
const HistoryWindow = 8

// observationPreviewLimit bounds how much of a step's observation is echoed
// back into the prompt; the full value, if larger, already lives in
// AgentState.RawOutputs under the step's raw_output_key.
const observationPreviewLimit = 500

// historyEntry is one prompt-visible summary of a past ExecutionStep.
type historyEntry struct {
	Type               models.CommandType `json:"type"`
	Reasoning          string             `json:"reasoning"`
	ObservationPreview string             `json:"observation_preview"`
	Success            bool               `json:"success"`
	ErrorCode          string             `json:"error_code,omitempty"`
}

// projection is the JSON object rendered into CompletionRequest.Prompt.
type projection struct {
	Task          string                                 `json:"task"`
	Budget        models.Budget                          `json:"budget"`
	BudgetUsage   models.BudgetUsage                     `json:"budget_usage"`
	InventoryView map[string][]string                    `json:"inventory_view"`
	SearchResults map[string]models.CompactToolDescriptor `json:"search_results"`
	History       []historyEntry                         `json:"history"`
	ExtraContext  string                                 `json:"extra_context,omitempty"`
}

// Project renders state into the JSON prompt body for the next step. extraContext
// is passed through verbatim from the Orchestrator's Execute caller.
func Project(state *models.AgentState, extraContext string) (string, error) {
	searchResults := make(map[string]models.CompactToolDescriptor, len(state.SearchResults))
	for id, spec := range state.SearchResults {
		searchResults[id] = spec.CompactDescriptor()
	}

	hist := state.History
	if len(hist) > HistoryWindow {
		hist = hist[len(hist)-HistoryWindow:]
	}
	entries := make([]historyEntry, 0, len(hist))
	for _, step := range hist {
		entries = append(entries, historyEntry{
			Type:               step.Type,
			Reasoning:          step.Reasoning,
			ObservationPreview: truncate(step.Result.Observation, observationPreviewLimit),
			Success:            step.Result.Success,
			ErrorCode:          step.Result.ErrorCode,
		})
	}

	p := projection{
		Task:          state.Task,
		Budget:        state.Budget,
		BudgetUsage:   state.Usage,
		InventoryView: state.InventoryView,
		SearchResults: searchResults,
		History:       entries,
		ExtraContext:  extraContext,
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

// System is the fixed system prompt for every step of a run, per §4.2's
// "system prompt (requirements)".
const System = `You are the planning component of an agent orchestration runtime. Each turn you must emit exactly one JSON object describing your next action, and nothing else.

The object must have a "type" field set to one of: "search", "tool", "sandbox", "finish", "fail". Every command, regardless of type, must also carry a non-empty "reasoning" string explaining your choice.

Command shapes:
- search: {"type":"search","reasoning":"...","query":"...","provider":"<optional>","detail_level":"summary|full","limit":<1-50>}
- tool: {"type":"tool","reasoning":"...","server":"<provider>","tool_id":"<provider>.<name>","args":{...}}
- sandbox: {"type":"sandbox","reasoning":"...","label":"<short tag>","code":"<python body>"}
- finish: {"type":"finish","reasoning":"...","summary":"...","outputs":{...}}
- fail: {"type":"fail","reasoning":"...","reason":"...","error_code":"<optional>"}

Rules:
- You may only reference a tool_id that has already appeared in this run's search_results. The only exception is toolbox.inspect_tool_output, which is always allowed without a prior search.
- You must issue at least one search before your first tool or sandbox command.
- If 2-3 consecutive searches return no results, stop guessing and emit fail rather than attempting a tool or sandbox command against an undiscovered tool.
- Use toolbox.inspect_tool_output(tool_id, field_path) to drill into a result that was folded into a summary marker.
- Emit finish only once you have everything needed to answer the task; emit fail if the task cannot be completed with the tools available.`
