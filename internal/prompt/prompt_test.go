package prompt

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/taskrun/plannerd/pkg/models"
)

func TestProject_IncludesTaskBudgetAndInventory(t *testing.T) {
	state := models.NewAgentState("find unread invoices", models.TenantContext{TenantID: "acme"}, models.DefaultBudget(), map[string][]string{"gmail": {"search"}})

	raw, err := Project(state, "")
	if err != nil {
		t.Fatalf("Project() error = %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		t.Fatalf("Project() did not produce valid JSON: %v", err)
	}
	if decoded["task"] != "find unread invoices" {
		t.Errorf("task = %v, want %q", decoded["task"], "find unread invoices")
	}
	if _, ok := decoded["budget"]; !ok {
		t.Error("expected a budget field")
	}
	if _, ok := decoded["inventory_view"]; !ok {
		t.Error("expected an inventory_view field")
	}
}

func TestProject_OnlyKeepsLastNHistoryEntries(t *testing.T) {
	state := models.NewAgentState("task", models.TenantContext{TenantID: "acme"}, models.DefaultBudget(), nil)
	for i := 0; i < HistoryWindow+5; i++ {
		state.History = append(state.History, models.ExecutionStep{
			StepID:    i + 1,
			Type:      models.CommandSearch,
			Reasoning: "step",
			Result:    models.StepResult{Success: true, Observation: "ok"},
		})
	}

	raw, err := Project(state, "")
	if err != nil {
		t.Fatalf("Project() error = %v", err)
	}
	var decoded projection
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		t.Fatal(err)
	}
	if len(decoded.History) != HistoryWindow {
		t.Errorf("len(history) = %d, want %d", len(decoded.History), HistoryWindow)
	}
}

func TestProject_TruncatesLongObservationPreviews(t *testing.T) {
	state := models.NewAgentState("task", models.TenantContext{TenantID: "acme"}, models.DefaultBudget(), nil)
	state.History = append(state.History, models.ExecutionStep{
		StepID: 1,
		Type:   models.CommandTool,
		Result: models.StepResult{Success: true, Observation: strings.Repeat("x", observationPreviewLimit*2)},
	})

	raw, err := Project(state, "")
	if err != nil {
		t.Fatal(err)
	}
	var decoded projection
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		t.Fatal(err)
	}
	if len(decoded.History[0].ObservationPreview) != observationPreviewLimit {
		t.Errorf("len(ObservationPreview) = %d, want %d", len(decoded.History[0].ObservationPreview), observationPreviewLimit)
	}
}

func TestProject_CarriesExtraContextVerbatim(t *testing.T) {
	state := models.NewAgentState("task", models.TenantContext{TenantID: "acme"}, models.DefaultBudget(), nil)

	raw, err := Project(state, "the user prefers concise answers")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(raw, "the user prefers concise answers") {
		t.Error("expected extra_context to appear verbatim in the projection")
	}
}

func TestSystem_EnumeratesAllFiveCommandTypes(t *testing.T) {
	for _, want := range []string{"search", "tool", "sandbox", "finish", "fail"} {
		if !strings.Contains(System, `"`+want+`"`) {
			t.Errorf("expected system prompt to mention command type %q", want)
		}
	}
}
