package sandbox

import (
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/taskrun/plannerd/pkg/models"
)

func TestParseSentinel_SplitsLogsFromResult(t *testing.T) {
	stdout := "starting up\nfetched 3 rows\n" + resultSentinel + `{"rows":3}`
	logs, result, ok := parseSentinel(stdout)
	if !ok {
		t.Fatal("expected sentinel to be found")
	}
	if len(logs) != 2 || logs[0] != "starting up" || logs[1] != "fetched 3 rows" {
		t.Fatalf("unexpected logs: %v", logs)
	}
	var v struct{ Rows int `json:"rows"` }
	if err := json.Unmarshal(result, &v); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if v.Rows != 3 {
		t.Fatalf("expected rows=3, got %d", v.Rows)
	}
}

func TestParseSentinel_MissingSentinelIsNotFound(t *testing.T) {
	logs, result, ok := parseSentinel("just some output\nwith no result line\n")
	if ok {
		t.Fatal("expected sentinel not to be found")
	}
	if result != nil {
		t.Fatalf("expected nil result, got %s", result)
	}
	if len(logs) != 2 {
		t.Fatalf("expected all lines treated as logs, got %v", logs)
	}
}

func TestParseSentinel_MalformedJSONAfterSentinelIsNotFound(t *testing.T) {
	_, _, ok := parseSentinel("log line\n" + resultSentinel + "{not json")
	if ok {
		t.Fatal("expected malformed sentinel payload to be rejected")
	}
}

func TestScaffold_IndentsSubmittedCodeUnderFixedMain(t *testing.T) {
	out := scaffold("result = await gmail.search(query=\"invoice\")\nreturn result")
	if !strings.Contains(out, "async def main():\n    result = await gmail.search") {
		t.Fatalf("expected submitted code indented under async def main(), got:\n%s", out)
	}
	if !strings.Contains(out, "asyncio.run(_main_wrapper())") {
		t.Fatal("expected scaffold to drive main() via asyncio.run internally")
	}
}

func TestIndent_SkipsBlankLines(t *testing.T) {
	got := indent("a\n\nb", "  ")
	want := "  a\n\n  b"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSession_RunsSnippetAndCollectsResult(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping sandbox subprocess integration test in short mode")
	}
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}

	idx := &models.ToolIndex{Tenant: "acme", ToolsByID: map[string]models.ToolSpec{}, ProvidersByID: map[string][]string{}}
	sess, err := NewSession("run-1", models.TenantContext{TenantID: "acme"}, idx, testSnapshot(), nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result := sess.Run(ctx, "return {\"ok\": True}", "compute")
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if string(result.Result) != `{"ok": true}` && string(result.Result) != `{"ok":true}` {
		t.Fatalf("unexpected result: %s", result.Result)
	}
}

func TestSession_TimesOutOnHangingSnippet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping sandbox subprocess integration test in short mode")
	}
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}

	idx := &models.ToolIndex{Tenant: "acme", ToolsByID: map[string]models.ToolSpec{}, ProvidersByID: map[string][]string{}}
	sess, err := NewSession("run-2", models.TenantContext{TenantID: "acme"}, idx, testSnapshot(), nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()
	sess.timeout = 200 * time.Millisecond

	result := sess.Run(context.Background(), "import time\ntime.sleep(5)\nreturn {}", "hang")
	if !result.TimedOut {
		t.Fatalf("expected timeout, got %+v", result)
	}
}
