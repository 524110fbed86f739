package executor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/taskrun/plannerd/internal/registry"
	"github.com/taskrun/plannerd/internal/toolindex"
	"github.com/taskrun/plannerd/pkg/models"
)

type echoGmail struct{}

func (echoGmail) Invoke(ctx context.Context, tenant models.TenantContext, tool string, args json.RawMessage) models.ActionResponse {
	return models.ActionResponse{Successful: true, Data: args}
}

func (echoGmail) Tools() []toolindex.WrapperSpec {
	return []toolindex.WrapperSpec{
		{
			Name:        "search",
			Description: "Search the inbox.",
			Params: []models.ToolParam{
				{Name: "query", Type: "str", Required: true, Description: "search query"},
			},
		},
	}
}

func testSnapshot() *registry.Snapshot {
	return &registry.Snapshot{
		Tenant: "acme",
		Entries: map[string]registry.Entry{
			"gmail": {ID: "gmail", Provider: echoGmail{}, Authorized: true},
		},
	}
}

func newTestExecutor() (*Executor, *models.AgentState) {
	snap := testSnapshot()
	idx := toolindex.Build(snap)
	inventory := map[string][]string{"gmail": idx.ProvidersByID["gmail"], "toolbox": idx.ProvidersByID["toolbox"]}
	state := models.NewAgentState("find unread invoices", models.TenantContext{TenantID: "acme"}, models.DefaultBudget(), inventory)
	return New("run-1", models.TenantContext{TenantID: "acme"}, idx, snap, nil), state
}

func TestExecute_SearchPopulatesDiscoveredToolsAndResults(t *testing.T) {
	x, state := newTestExecutor()
	cmd := &models.Command{Type: models.CommandSearch, Reasoning: "look for gmail tools", Search: &models.SearchCommand{Query: "gmail"}}

	outcome := x.Execute(context.Background(), 1, cmd, state)
	if !outcome.Result.Success {
		t.Fatalf("expected success, got %+v", outcome.Result)
	}
	if outcome.EmptySearch {
		t.Fatal("expected a non-empty search")
	}
	if !state.IsDiscovered("gmail.search") {
		t.Fatal("expected gmail.search to be discovered after search")
	}
	if _, ok := state.SearchResults["gmail.search"]; !ok {
		t.Fatal("expected gmail.search to appear in SearchResults")
	}
}

func TestExecute_SearchWithNoMatchesReportsEmptySearch(t *testing.T) {
	x, state := newTestExecutor()
	cmd := &models.Command{Type: models.CommandSearch, Reasoning: "look for nothing", Search: &models.SearchCommand{Query: "nonexistent-zzz"}}

	outcome := x.Execute(context.Background(), 1, cmd, state)
	if !outcome.Result.Success {
		t.Fatalf("an empty search is still a successful, informative observation, got %+v", outcome.Result)
	}
	if !outcome.EmptySearch {
		t.Fatal("expected EmptySearch to be true")
	}
}

func TestExecute_ToolRejectsUndiscoveredToolID(t *testing.T) {
	x, state := newTestExecutor()
	cmd := &models.Command{Type: models.CommandTool, Reasoning: "try it anyway", Tool: &models.ToolCommand{Server: "gmail", ToolID: "gmail.search", Args: json.RawMessage(`{}`)}}

	outcome := x.Execute(context.Background(), 2, cmd, state)
	if outcome.Result.Success {
		t.Fatal("expected failure for an undiscovered tool_id")
	}
	if outcome.Result.ErrorCode != "planner_used_undiscovered_tool" {
		t.Fatalf("unexpected error code: %s", outcome.Result.ErrorCode)
	}
}

func TestExecute_ToolRejectsServerMismatch(t *testing.T) {
	x, state := newTestExecutor()
	state.DiscoveredTools["gmail.search"] = struct{}{}
	cmd := &models.Command{Type: models.CommandTool, Reasoning: "wrong server", Tool: &models.ToolCommand{Server: "slack", ToolID: "gmail.search", Args: json.RawMessage(`{}`)}}

	outcome := x.Execute(context.Background(), 2, cmd, state)
	if outcome.Result.Success {
		t.Fatal("expected failure for a server/provider mismatch")
	}
	if outcome.Result.ErrorCode != "planner_used_unknown_server" {
		t.Fatalf("unexpected error code: %s", outcome.Result.ErrorCode)
	}
}

func TestExecute_ToolDispatchesAndEnvelopesSuccess(t *testing.T) {
	x, state := newTestExecutor()
	state.DiscoveredTools["gmail.search"] = struct{}{}
	cmd := &models.Command{Type: models.CommandTool, Reasoning: "run it", Tool: &models.ToolCommand{Server: "gmail", ToolID: "gmail.search", Args: json.RawMessage(`{"query":"invoice"}`)}}

	outcome := x.Execute(context.Background(), 2, cmd, state)
	if !outcome.Result.Success {
		t.Fatalf("expected success, got %+v", outcome.Result)
	}
	if outcome.Result.Observation == "" {
		t.Fatal("expected a non-empty observation")
	}
}

func TestExecute_InspectToolOutputIsAlwaysAllowed(t *testing.T) {
	x, state := newTestExecutor()
	// gmail.search is not in discovered_tools, but toolbox.inspect_tool_output
	// must still be callable without it ever being searched for.
	args, _ := json.Marshal(map[string]string{"tool_id": "gmail.search", "field_path": "nonexistent"})
	cmd := &models.Command{Type: models.CommandTool, Reasoning: "drill down", Tool: &models.ToolCommand{Server: "toolbox", ToolID: "toolbox.inspect_tool_output", Args: args}}

	outcome := x.Execute(context.Background(), 3, cmd, state)
	if outcome.Result.Success {
		t.Fatal("expected failure: the schema has no fields at all to drill into")
	}
	if outcome.Result.ErrorCode != "planner_used_unknown_tool" {
		t.Fatalf("unexpected error code: %s", outcome.Result.ErrorCode)
	}
}

func TestExecute_SandboxRejectsUndiscoveredToolReference(t *testing.T) {
	x, state := newTestExecutor()
	code := "from sandbox_py.servers import gmail\nresult = await gmail.search(query=\"x\")\nreturn result\n"
	cmd := &models.Command{Type: models.CommandSandbox, Reasoning: "compute", Sandbox: &models.SandboxCommand{Code: code, Label: "compute"}}

	outcome := x.Execute(context.Background(), 4, cmd, state)
	if outcome.Result.Success {
		t.Fatal("expected failure: gmail.search was never discovered")
	}
	if outcome.Result.ErrorCode != "planner_used_undiscovered_tool" {
		t.Fatalf("unexpected error code: %s", outcome.Result.ErrorCode)
	}
}

func TestExecute_SandboxRejectsInvalidScaffold(t *testing.T) {
	x, state := newTestExecutor()
	cmd := &models.Command{Type: models.CommandSandbox, Reasoning: "compute", Sandbox: &models.SandboxCommand{Code: "asyncio.run(main())\n", Label: "compute"}}

	outcome := x.Execute(context.Background(), 4, cmd, state)
	if outcome.Result.Success || outcome.Result.ErrorCode != "sandbox_invalid_body" {
		t.Fatalf("expected sandbox_invalid_body, got %+v", outcome.Result)
	}
}

func TestExecute_FinishSetsTerminalAndMergesOutputsWithoutOverwrite(t *testing.T) {
	x, state := newTestExecutor()
	state.RawOutputs["existing"] = json.RawMessage(`"keep me"`)
	cmd := &models.Command{Type: models.CommandFinish, Reasoning: "done", Finish: &models.FinishCommand{
		Summary: "all done",
		Outputs: map[string]json.RawMessage{"existing": json.RawMessage(`"overwritten"`), "fresh": json.RawMessage(`"new"`)},
	}}

	outcome := x.Execute(context.Background(), 5, cmd, state)
	if !outcome.Result.Success {
		t.Fatalf("expected success, got %+v", outcome.Result)
	}
	if state.Terminal != models.CommandFinish || state.FinalSummary != "all done" {
		t.Fatalf("unexpected terminal state: %+v", state)
	}
	if string(state.RawOutputs["existing"]) != `"keep me"` {
		t.Fatal("expected an existing raw_outputs key not to be overwritten by finish")
	}
	if string(state.RawOutputs["fresh"]) != `"new"` {
		t.Fatal("expected a new raw_outputs key to be merged in")
	}
}

func TestExecute_FailSetsTerminalAndErrorCode(t *testing.T) {
	x, state := newTestExecutor()
	cmd := &models.Command{Type: models.CommandFail, Reasoning: "giving up", Fail: &models.FailCommand{Reason: "cannot find a matching tool"}}

	outcome := x.Execute(context.Background(), 5, cmd, state)
	if outcome.Result.Success {
		t.Fatal("expected a fail command to produce an unsuccessful step")
	}
	if state.Terminal != models.CommandFail || state.Error != "cannot find a matching tool" {
		t.Fatalf("unexpected terminal state: %+v", state)
	}
	if state.ErrorCode != "planner_failed" {
		t.Fatalf("expected run-level error_code planner_failed, got %s", state.ErrorCode)
	}
}
