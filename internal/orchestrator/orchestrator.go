// Package orchestrator is the Planner Runtime's control loop (§4.1): it
// drives the bounded ReAct-style cycle of prompting the Planner LLM Adapter,
// parsing its reply into a Command, carrying the command out through the
// Action Executor, and bookkeeping budget/termination state, until a
// terminal step or run-level failure ends the run.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/taskrun/plannerd/internal/events"
	"github.com/taskrun/plannerd/internal/executor"
	"github.com/taskrun/plannerd/internal/llm"
	"github.com/taskrun/plannerd/internal/plannererr"
	"github.com/taskrun/plannerd/internal/prompt"
	"github.com/taskrun/plannerd/internal/registry"
	"github.com/taskrun/plannerd/internal/toolindex"
	"github.com/taskrun/plannerd/pkg/models"
)

// taskPrefixLimit bounds the task text carried on the task.started event
// (§6.1: "task prefix <= 100 chars").
const taskPrefixLimit = 100

// reasoningPreviewLimit bounds the reasoning text echoed on planning.completed.
const reasoningPreviewLimit = 200

// defaultMaxTokens is the Planner LLM Adapter's completion budget per step,
// generous enough for a command object plus reasoning without inviting the
// model to ramble.
const defaultMaxTokens = 1024

// Options carries the per-deployment knobs the control loop needs, resolved
// by the caller (typically cmd/plannerd from internal/config) rather than
// read from a config file here, matching the template's convention of
// passing resolved options down instead of re-reading global config.
type Options struct {
	// DefaultBudget seeds a run's Budget when Execute's caller passes nil.
	DefaultBudget models.Budget

	// LLMRequestTimeout bounds a single Planner LLM Adapter call. Zero means
	// no per-call timeout beyond the caller's ctx.
	LLMRequestTimeout time.Duration

	// MaxConsecutiveProtocolErrors caps malformed planner output (§4.1) before
	// the run terminates with protocol_error. Zero is treated as 3.
	MaxConsecutiveProtocolErrors int

	// MaxConsecutiveEmptySearches caps empty searches (§4.4.1, §8) before a
	// following tool/sandbox step referencing an unresolvable tool yields
	// discovery_failed instead of being recorded as an ordinary failed step.
	// Zero is treated as 3.
	MaxConsecutiveEmptySearches int

	// MaxTokens bounds each Planner LLM Adapter completion. Zero is treated
	// as defaultMaxTokens.
	MaxTokens int
}

func (o Options) maxConsecutiveProtocolErrors() int {
	if o.MaxConsecutiveProtocolErrors <= 0 {
		return 3
	}
	return o.MaxConsecutiveProtocolErrors
}

func (o Options) maxConsecutiveEmptySearches() int {
	if o.MaxConsecutiveEmptySearches <= 0 {
		return 3
	}
	return o.MaxConsecutiveEmptySearches
}

func (o Options) maxTokens() int {
	if o.MaxTokens <= 0 {
		return defaultMaxTokens
	}
	return o.MaxTokens
}

// Orchestrator owns everything one Execute call needs beyond what's scoped
// to a single run: the Provider Registry (for the tenant's current
// Snapshot), a Planner LLM Adapter backend, and an event Sink every run's
// Emitter fans events into.
type Orchestrator struct {
	Registry *registry.Registry
	LLM      llm.Provider
	Opts     Options
	Sink     events.Sink
	Log      *slog.Logger
}

// New constructs an Orchestrator. A nil sink or logger is replaced with a
// harmless default so callers never need to nil-check before constructing one.
func New(reg *registry.Registry, provider llm.Provider, opts Options, sink events.Sink, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{Registry: reg, LLM: provider, Opts: opts, Sink: sink, Log: log}
}

// Execute runs one task to completion or run-level failure (§6.1's
// Execute(task, tenant, budget, extra_context) -> MCPTaskResult). budget may
// be nil, in which case Opts.DefaultBudget seeds the run.
func (o *Orchestrator) Execute(ctx context.Context, task string, tenant models.TenantContext, budget *models.Budget, extraContext string) (result *models.MCPTaskResult, err error) {
	runID := uuid.NewString()
	log := o.Log.With("run_id", runID, "tenant_id", tenant.TenantID)

	b := o.Opts.DefaultBudget
	if budget != nil {
		b = *budget
	}

	snap := o.Registry.Current(tenant.TenantID)
	idx := toolindex.Build(snap)
	state := models.NewAgentState(task, tenant, b, idx.ProvidersByID)

	emitter := events.New(runID, o.Sink)
	emitter.TaskStarted(ctx, truncate(task, taskPrefixLimit), b, tenant.UserID)

	exec := executor.New(runID, tenant, idx, snap, emitter)
	defer func() {
		if cerr := exec.Close(); cerr != nil {
			log.Warn("sandbox session close failed", "error", cerr)
		}
	}()

	// An unrecoverable internal exception (§7) ends the run with
	// internal_error rather than propagating a panic to the caller.
	defer func() {
		if r := recover(); r != nil {
			log.Error("orchestrator panic recovered", "panic", r)
			state.ErrorCode = string(plannererr.CodeInternalError)
			state.Error = fmt.Sprintf("internal error: %v", r)
			result = o.packageResult(ctx, emitter, state)
			err = nil
		}
	}()

	o.runLoop(ctx, log, exec, state, extraContext)

	return o.packageResult(ctx, emitter, state), nil
}

func (o *Orchestrator) runLoop(ctx context.Context, log *slog.Logger, exec *executor.Executor, state *models.AgentState, extraContext string) {
	model := o.LLM.DefaultModel()

	for {
		if ctx.Err() != nil {
			state.ErrorCode = string(plannererr.CodeCancelled)
			state.Error = ctx.Err().Error()
			return
		}

		if axis, exceeded := state.Usage.Exceeded(state.Budget); exceeded {
			exec.Emit.BudgetExceeded(ctx, len(state.History), axis, usageForAxis(state.Usage, axis))
			state.ErrorCode = string(plannererr.CodeBudgetExhausted)
			state.Error = fmt.Sprintf("budget exhausted on axis %q", axis)
			return
		}

		stepID := len(state.History) + 1

		promptBody, perr := prompt.Project(state, extraContext)
		if perr != nil {
			state.ErrorCode = string(plannererr.CodeInternalError)
			state.Error = fmt.Sprintf("failed to render prompt: %v", perr)
			return
		}

		llmCtx := ctx
		var cancel context.CancelFunc
		if o.Opts.LLMRequestTimeout > 0 {
			llmCtx, cancel = context.WithTimeout(ctx, o.Opts.LLMRequestTimeout)
		}
		completion, cerr := o.LLM.Complete(llmCtx, llm.CompletionRequest{
			Model:     model,
			System:    prompt.System,
			Prompt:    promptBody,
			MaxTokens: o.Opts.maxTokens(),
		})
		if cancel != nil {
			cancel()
		}
		if cerr != nil {
			log.Warn("planner llm adapter unavailable", "error", cerr)
			state.ErrorCode = string(plannererr.CodeLLMUnavailable)
			state.Error = cerr.Error()
			return
		}
		state.Usage.EstimatedLLMCostUSD += completion.EstimatedCostUSD

		cmd, protoErr := executor.ParseCommand(completion.Text)
		if protoErr != nil {
			state.ConsecutiveProtocolErrors++
			state.History = append(state.History, models.ExecutionStep{
				StepID:    stepID,
				StartedAt: time.Now(),
				EndedAt:   time.Now(),
				Result:    models.StepResult{Success: false, Error: protoErr.Reason, ErrorCode: string(plannererr.CodeProtocolError)},
			})
			state.Usage.StepsTaken++
			if state.ConsecutiveProtocolErrors >= o.Opts.maxConsecutiveProtocolErrors() {
				state.ErrorCode = string(plannererr.CodeProtocolError)
				state.Error = "too many consecutive malformed planner responses"
				return
			}
			continue
		}
		state.ConsecutiveProtocolErrors = 0

		exec.Emit.PlanningCompleted(ctx, cmd.Type, toolIDFor(cmd), truncate(cmd.Reasoning, reasoningPreviewLimit))
		exec.Emit.StepDispatching(ctx, stepID, cmd.Type)

		started := time.Now()
		outcome := exec.Execute(ctx, stepID, cmd, state)
		ended := time.Now()

		state.History = append(state.History, models.ExecutionStep{
			StepID:    stepID,
			Type:      cmd.Type,
			Reasoning: cmd.Reasoning,
			Command:   *cmd,
			Result:    outcome.Result,
			StartedAt: started,
			EndedAt:   ended,
		})
		state.Usage.StepsTaken++
		if cmd.Type == models.CommandTool && outcome.Result.Success {
			state.Usage.ToolCalls++
		}
		if cmd.Type == models.CommandSandbox && outcome.Result.Success {
			state.Usage.CodeRuns++
		}

		exec.Emit.StepCompleted(ctx, stepID, outcome.Result.Success, outcome.Result.Error)

		if cmd.Type == models.CommandSearch {
			if outcome.EmptySearch {
				state.ConsecutiveEmptySearches++
			} else {
				state.ConsecutiveEmptySearches = 0
			}
		}

		if state.Terminal != "" {
			return
		}

		// §4.4.1/§8: 3 consecutive empty searches followed by a tool/sandbox
		// step that can't resolve its tool reference is promoted from an
		// ordinary recoverable step failure to a terminal discovery_failed.
		if !outcome.Result.Success && state.ConsecutiveEmptySearches >= o.Opts.maxConsecutiveEmptySearches() &&
			(cmd.Type == models.CommandTool || cmd.Type == models.CommandSandbox) &&
			isUnresolvedToolError(outcome.Result.ErrorCode) {
			state.ErrorCode = string(plannererr.CodeDiscoveryFailed)
			state.Error = "repeated empty searches followed by an unresolvable tool reference"
			return
		}
	}
}

func isUnresolvedToolError(code string) bool {
	return code == string(plannererr.CodeUnknownTool) || code == string(plannererr.CodeUnknownServer) || code == string(plannererr.CodeUndiscoveredTool)
}

func toolIDFor(cmd *models.Command) string {
	if cmd.Type == models.CommandTool && cmd.Tool != nil {
		return cmd.Tool.ToolID
	}
	return ""
}

func usageForAxis(u models.BudgetUsage, axis models.BudgetAxis) int {
	switch axis {
	case models.AxisMaxSteps:
		return u.StepsTaken
	case models.AxisMaxToolCalls:
		return u.ToolCalls
	case models.AxisMaxCodeRuns:
		return u.CodeRuns
	case models.AxisMaxLLMCostUSD:
		return int(u.EstimatedLLMCostUSD)
	default:
		return 0
	}
}

func (o *Orchestrator) packageResult(ctx context.Context, emitter *events.Emitter, state *models.AgentState) *models.MCPTaskResult {
	success := state.Terminal == models.CommandFinish
	emitter.TaskCompleted(ctx, success, state.ErrorCode)

	return &models.MCPTaskResult{
		Success:      success,
		FinalSummary: state.FinalSummary,
		RawOutputs:   state.RawOutputs,
		BudgetUsage:  state.Usage,
		Logs:         state.Logs,
		Steps:        state.History,
		Error:        state.Error,
		ErrorCode:    state.ErrorCode,
	}
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
