package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/taskrun/plannerd/internal/dispatch"
	"github.com/taskrun/plannerd/internal/envelope"
	"github.com/taskrun/plannerd/internal/events"
	"github.com/taskrun/plannerd/internal/plannererr"
	"github.com/taskrun/plannerd/internal/registry"
	"github.com/taskrun/plannerd/internal/sandbox"
	"github.com/taskrun/plannerd/internal/toolindex"
	"github.com/taskrun/plannerd/pkg/models"
)

const defaultSearchLimit = 10

// Outcome wraps the StepResult the orchestrator records in history with the
// bookkeeping hints it needs but that don't belong on the shared StepResult
// shape: whether a search came back empty (§4.4.1's consecutive-empty-search
// counter).
type Outcome struct {
	Result      models.StepResult
	EmptySearch bool
}

// Executor is the Action Executor (§4.4) for one run: it owns the run's
// lazily-built sandbox Session and is the only component besides the
// orchestrator's budget bookkeeping that mutates AgentState.
type Executor struct {
	RunID  string
	Tenant models.TenantContext
	Index  *models.ToolIndex
	Snap   *registry.Snapshot
	Emit   *events.Emitter

	mu      sync.Mutex
	session *sandbox.Session
}

// New constructs an Executor for one run. emit may be nil, in which case the
// executor emits no events; callers that want events must pass a real
// *events.Emitter.
func New(runID string, tenant models.TenantContext, idx *models.ToolIndex, snap *registry.Snapshot, emit *events.Emitter) *Executor {
	return &Executor{RunID: runID, Tenant: tenant, Index: idx, Snap: snap, Emit: emit}
}

// Close tears down the sandbox session, if one was built, regardless of how
// the run ended (§4.5.2: "deleted at task end regardless of outcome"). Safe
// to call even if no sandbox step ever ran.
func (x *Executor) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.session == nil {
		return nil
	}
	err := x.session.Close()
	x.session = nil
	return err
}

// Execute carries out exactly one parsed command against state, mutating
// state's InventoryView-derived fields (SearchResults, DiscoveredTools,
// RawOutputs, Logs, Terminal, FinalSummary, Error, ErrorCode) per §4.4.
// Execute itself never touches Budget or Usage.
func (x *Executor) Execute(ctx context.Context, stepID int, cmd *models.Command, state *models.AgentState) Outcome {
	switch cmd.Type {
	case models.CommandSearch:
		return x.execSearch(ctx, stepID, cmd.Search, state)
	case models.CommandTool:
		return x.execTool(ctx, stepID, cmd.Tool, state)
	case models.CommandSandbox:
		return x.execSandbox(ctx, stepID, cmd.Sandbox, state)
	case models.CommandFinish:
		return x.execFinish(cmd.Finish, state)
	case models.CommandFail:
		return x.execFail(cmd.Fail, state)
	default:
		return Outcome{Result: models.StepResult{Error: "unrecognized command type", ErrorCode: string(plannererr.CodeInternalError)}}
	}
}

// --- search (§4.4.1) ---

func (x *Executor) execSearch(ctx context.Context, stepID int, cmd *models.SearchCommand, state *models.AgentState) Outcome {
	limit := cmd.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	results := x.Index.Search(cmd.Query, cmd.Provider, limit)

	ids := make([]string, 0, len(results))
	descriptors := make([]models.CompactToolDescriptor, 0, len(results))
	for _, spec := range results {
		prior, seen := state.SearchResults[spec.ToolID]
		if !seen || len(spec.OutputFields) >= len(prior.OutputFields) {
			state.SearchResults[spec.ToolID] = spec
		}
		state.DiscoveredTools[spec.ToolID] = struct{}{}
		ids = append(ids, spec.ToolID)
		descriptors = append(descriptors, spec.CompactDescriptor())
	}
	sort.Strings(ids)

	if x.Emit != nil {
		x.Emit.SearchCompleted(ctx, stepID, cmd.Query, ids)
	}

	raw, err := json.Marshal(descriptors)
	if err != nil {
		return Outcome{Result: models.StepResult{Error: fmt.Sprintf("internal_error: %v", err), ErrorCode: string(plannererr.CodeInternalError)}}
	}
	env, err := x.applyEnvelope(ctx, state, raw, stepID, "search")
	if err != nil {
		return Outcome{Result: models.StepResult{Error: fmt.Sprintf("internal_error: %v", err), ErrorCode: string(plannererr.CodeInternalError)}}
	}

	return Outcome{
		Result: models.StepResult{
			Success:      true,
			Observation:  string(env.Preview),
			RawOutputKey: env.RawOutputKey,
		},
		EmptySearch: len(results) == 0,
	}
}

// --- tool (§4.4.2) ---

func (x *Executor) execTool(ctx context.Context, stepID int, cmd *models.ToolCommand, state *models.AgentState) Outcome {
	if cmd.ToolID == toolindex.InspectToolID {
		return x.execInspect(ctx, stepID, cmd, state)
	}

	if !state.IsDiscovered(cmd.ToolID) {
		return Outcome{Result: failStep(string(plannererr.CodeUndiscoveredTool), "tool_id %q was never returned by a search", cmd.ToolID)}
	}
	spec, ok := x.Index.Get(cmd.ToolID)
	if !ok {
		return Outcome{Result: failStep(string(plannererr.CodeUnknownTool), "tool_id %q is not in the tool index", cmd.ToolID)}
	}
	if cmd.Server != spec.Provider {
		return Outcome{Result: failStep(string(plannererr.CodeUnknownServer), "server %q does not match tool_id's provider %q", cmd.Server, spec.Provider)}
	}

	if x.Emit != nil {
		x.Emit.ToolStarted(ctx, stepID, spec.Provider, spec.Name)
	}
	resp := dispatch.Invoke(ctx, x.Snap, x.Tenant, spec.Provider, spec.Name, cmd.Args)
	if !resp.Successful {
		if x.Emit != nil {
			x.Emit.ToolFailed(ctx, stepID, spec.Provider, spec.Name, resp.Error)
		}
		return Outcome{Result: models.StepResult{Error: resp.Error, ErrorCode: string(plannererr.CodeInternalError)}}
	}
	if x.Emit != nil {
		x.Emit.ToolCompleted(ctx, stepID, spec.Provider, spec.Name)
	}

	env, err := x.applyEnvelope(ctx, state, resp.Data, stepID, "tool:"+spec.ToolID)
	if err != nil {
		return Outcome{Result: models.StepResult{Error: fmt.Sprintf("internal_error: %v", err), ErrorCode: string(plannererr.CodeInternalError)}}
	}
	return Outcome{Result: models.StepResult{Success: true, Observation: string(env.Preview), RawOutputKey: env.RawOutputKey}}
}

// execInspect serves toolbox.inspect_tool_output directly rather than going
// through the Tool Dispatcher: it has no registry.Provider, it only drills
// into a tool_id already present in the index.
func (x *Executor) execInspect(ctx context.Context, stepID int, cmd *models.ToolCommand, state *models.AgentState) Outcome {
	var args struct {
		ToolID    string `json:"tool_id"`
		FieldPath string `json:"field_path"`
	}
	if err := json.Unmarshal(cmd.Args, &args); err != nil {
		return Outcome{Result: failStep(string(plannererr.CodeUnknownTool), "inspect_tool_output args invalid: %v", err)}
	}
	spec, ok := x.Index.Get(args.ToolID)
	if !ok {
		return Outcome{Result: failStep(string(plannererr.CodeUnknownTool), "tool_id %q is not in the tool index", args.ToolID)}
	}
	lines, ok := toolindex.Inspect(spec.OutputSchema, args.FieldPath)
	if !ok {
		return Outcome{Result: failStep(string(plannererr.CodeUnknownTool), "field_path %q not found on %q", args.FieldPath, args.ToolID)}
	}

	raw, err := json.Marshal(lines)
	if err != nil {
		return Outcome{Result: models.StepResult{Error: fmt.Sprintf("internal_error: %v", err), ErrorCode: string(plannererr.CodeInternalError)}}
	}
	env, err := x.applyEnvelope(ctx, state, raw, stepID, "inspect")
	if err != nil {
		return Outcome{Result: models.StepResult{Error: fmt.Sprintf("internal_error: %v", err), ErrorCode: string(plannererr.CodeInternalError)}}
	}
	return Outcome{Result: models.StepResult{Success: true, Observation: string(env.Preview), RawOutputKey: env.RawOutputKey}}
}

// --- sandbox (§4.4.3) ---

func (x *Executor) execSandbox(ctx context.Context, stepID int, cmd *models.SandboxCommand, state *models.AgentState) Outcome {
	gate := RunGate(cmd.Code)
	if gate.Err != nil {
		return Outcome{Result: failStep(gate.Err.Code, "%s", gate.Err.Detail)}
	}
	for _, call := range gate.References.Calls {
		toolID := call.Provider + "." + call.Tool
		spec, ok := x.Index.Get(toolID)
		if !ok {
			if _, hasProvider := state.InventoryView[call.Provider]; !hasProvider {
				return Outcome{Result: failStep(string(plannererr.CodeUnknownServer), "provider %q is not in this run's inventory", call.Provider)}
			}
			return Outcome{Result: failStep(string(plannererr.CodeUnknownTool), "tool_id %q is not in the tool index", toolID)}
		}
		if !state.IsDiscovered(spec.ToolID) {
			return Outcome{Result: failStep(string(plannererr.CodeUndiscoveredTool), "tool_id %q was never returned by a search", spec.ToolID)}
		}
	}

	sess, err := x.sandboxSession()
	if err != nil {
		return Outcome{Result: models.StepResult{Error: fmt.Sprintf("internal_error: %v", err), ErrorCode: string(plannererr.CodeInternalError)}}
	}

	result := sess.Run(ctx, cmd.Code, cmd.Label)
	state.Logs = append(state.Logs, result.Logs...)

	if x.Emit != nil {
		x.Emit.SandboxRun(ctx, stepID, cmd.Label, result.Success, result.TimedOut, len(result.Logs))
	}

	if result.TimedOut {
		return Outcome{Result: failStep(string(plannererr.CodeSandboxTimeout), "sandbox execution timed out")}
	}
	if !result.Success {
		code := plannererr.CodeSandboxRuntimeError
		if result.Error != "" && strings.HasPrefix(result.Error, "sandbox_") {
			code = plannererr.Code(strings.SplitN(result.Error, ":", 2)[0])
		}
		return Outcome{Result: failStep(string(code), "%s", result.Error)}
	}
	if isEmptyResult(result.Result) && len(gate.References.Calls) > 0 {
		return Outcome{Result: failStep(string(plannererr.CodeSandboxEmptyResult), "sandbox snippet called a tool but returned no result")}
	}

	env, err := x.applyEnvelope(ctx, state, result.Result, stepID, "sandbox:"+cmd.Label)
	if err != nil {
		return Outcome{Result: models.StepResult{Error: fmt.Sprintf("internal_error: %v", err), ErrorCode: string(plannererr.CodeInternalError)}}
	}
	return Outcome{Result: models.StepResult{Success: true, Observation: string(env.Preview), RawOutputKey: env.RawOutputKey}}
}

func (x *Executor) sandboxSession() (*sandbox.Session, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.session != nil {
		return x.session, nil
	}
	sess, err := sandbox.NewSession(x.RunID, x.Tenant, x.Index, x.Snap, nil)
	if err != nil {
		return nil, err
	}
	x.session = sess
	return sess, nil
}

func isEmptyResult(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null" || trimmed == "{}" || trimmed == "[]"
}

// --- finish / fail (§4.4.4) ---

func (x *Executor) execFinish(cmd *models.FinishCommand, state *models.AgentState) Outcome {
	state.Terminal = models.CommandFinish
	state.FinalSummary = cmd.Summary
	for k, v := range cmd.Outputs {
		if _, exists := state.RawOutputs[k]; !exists {
			state.RawOutputs[k] = v
		}
	}
	return Outcome{Result: models.StepResult{Success: true, Observation: cmd.Summary}}
}

func (x *Executor) execFail(cmd *models.FailCommand, state *models.AgentState) Outcome {
	code := cmd.ErrorCode
	if code == "" {
		code = string(plannererr.CodePlannerFailed)
	}
	state.Terminal = models.CommandFail
	state.Error = cmd.Reason
	state.ErrorCode = string(plannererr.CodePlannerFailed)
	return Outcome{Result: models.StepResult{Success: false, Error: cmd.Reason, ErrorCode: code}}
}

// --- shared helpers ---

func failStep(code, format string, args ...interface{}) models.StepResult {
	return models.StepResult{Success: false, Error: fmt.Sprintf(format, args...), ErrorCode: code}
}

func rawOutputKey(stepID int, tag string) func() string {
	return func() string {
		return tag + ":" + strconv.Itoa(stepID)
	}
}

// applyEnvelope bounds raw through the Observation Envelope and, if it was
// spilled, stores the full redacted value under its generated key so a later
// toolbox.inspect_tool_output or direct raw_outputs read can find it — the
// one piece of envelope.Apply's contract its caller, not the package itself,
// is responsible for honoring. A spill also emits observation.compressed so
// a host can see how much of a run's tool output never reached the planner.
func (x *Executor) applyEnvelope(ctx context.Context, state *models.AgentState, raw json.RawMessage, stepID int, tag string) (envelope.Envelope, error) {
	env, err := envelope.Apply(raw, rawOutputKey(stepID, tag))
	if err != nil {
		return envelope.Envelope{}, err
	}
	if env.RawOutputKey != "" {
		state.RawOutputs[env.RawOutputKey] = env.RawValue
		if x.Emit != nil {
			x.Emit.ObservationFolded(ctx, stepID, tag, len(raw), len(env.Preview))
		}
	}
	return env, nil
}
