package sandbox

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/taskrun/plannerd/internal/registry"
	"github.com/taskrun/plannerd/pkg/models"
)

// DefaultTimeout is the hard wall-clock timeout for one sandbox invocation
// (§5: "Each sandbox invocation has a hard wall-clock timeout (default
// 30s)").
const DefaultTimeout = 30 * time.Second

// resultSentinel prefixes the one line of stdout carrying the plan's return
// value (§6.4).
const resultSentinel = "___TB_RESULT___"

// Session owns one run's ephemeral sandbox root and IPC server (§4.5.2,
// §5: "created before the first sandbox call and owned by the run"). Close
// tears both down; the caller is responsible for calling it exactly once at
// task end regardless of outcome.
type Session struct {
	runID   string
	root    string
	token   string
	server  *ipcServer
	cancel  context.CancelFunc
	timeout time.Duration
}

// NewSession materializes the sandbox_py package for idx under a fresh
// temporary root and starts the IPC server that backs it.
func NewSession(runID string, tenant models.TenantContext, idx *models.ToolIndex, snap *registry.Snapshot, log *slog.Logger) (*Session, error) {
	root, err := os.MkdirTemp("", "plannerd-sandbox-*")
	if err != nil {
		return nil, fmt.Errorf("sandbox: create root: %w", err)
	}
	if err := GeneratePackage(root, idx); err != nil {
		os.RemoveAll(root)
		return nil, fmt.Errorf("sandbox: generate package: %w", err)
	}

	token, err := randomToken()
	if err != nil {
		os.RemoveAll(root)
		return nil, fmt.Errorf("sandbox: generate token: %w", err)
	}

	srv, err := newIPCServer(root, runID, token, tenant, snap, log)
	if err != nil {
		os.RemoveAll(root)
		return nil, fmt.Errorf("sandbox: start ipc server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)

	return &Session{runID: runID, root: root, token: token, server: srv, cancel: cancel, timeout: DefaultTimeout}, nil
}

// Close stops the IPC server and removes the ephemeral root. Safe to call
// once; the caller should defer it immediately after NewSession succeeds.
func (s *Session) Close() error {
	s.cancel()
	s.server.Close()
	return os.RemoveAll(s.root)
}

func randomToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Run writes code into a fixed async main() scaffold, spawns an isolated
// python3 subprocess with the session's IPC environment, and enforces the
// hard wall-clock timeout by killing the whole process group (§6.4).
func (s *Session) Run(ctx context.Context, code, label string) models.SandboxResult {
	planPath := filepath.Join(s.root, "plan.py")
	plan := scaffold(code)
	if err := os.WriteFile(planPath, []byte(plan), 0o644); err != nil {
		return models.SandboxResult{Error: fmt.Sprintf("sandbox: write plan: %v", err)}
	}
	defer os.Remove(planPath)

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "python3", planPath)
	cmd.Dir = s.root
	cmd.Env = append(os.Environ(),
		"PYTHONPATH="+s.root,
		"PLANNERD_RUN_ID="+s.runID,
		"PLANNERD_IPC_TOKEN="+s.token,
		"PLANNERD_IPC_SOCKET="+socketPath(s.root),
	)
	cmd.SysProcAttr = killableGroupAttr()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := runAndKillGroup(cmd, runCtx)

	timedOut := runCtx.Err() == context.DeadlineExceeded
	if timedOut {
		return models.SandboxResult{
			Success:  false,
			Logs:     splitLines(stdout.String()),
			Error:    "sandbox execution timed out",
			TimedOut: true,
		}
	}

	logs, result, sentinelFound := parseSentinel(stdout.String())
	if stderrText := strings.TrimSpace(stderr.String()); stderrText != "" {
		logs = append(logs, splitLines(stderrText)...)
	}

	if err != nil && !sentinelFound {
		return models.SandboxResult{Success: false, Logs: logs, Error: fmt.Sprintf("sandbox_runtime_error: %v", err)}
	}
	if !sentinelFound {
		return models.SandboxResult{Success: false, Logs: logs, Error: "sandbox_runtime_error: process exited without a result sentinel"}
	}

	return models.SandboxResult{Success: true, Result: result, Logs: logs}
}

// scaffold wraps code in the fixed async main() the executor's AST gate has
// already verified doesn't redefine (§4.4.3): imports, runs main, and prints
// the sentinel-delimited JSON result.
func scaffold(code string) string {
	indented := indent(code, "    ")
	return "import asyncio\nimport json\nimport sys\n\nfrom sandbox_py import client\nfrom sandbox_py.servers import *\n\n" +
		"async def main():\n" + indented + "\n\n" +
		"def _run():\n" +
		"    result = asyncio.run(_main_wrapper())\n" +
		"    print(\"" + resultSentinel + "\" + json.dumps(result if result is not None else {}))\n\n" +
		"async def _main_wrapper():\n" +
		"    return await main()\n\n" +
		"_run()\n"
}

func indent(code, prefix string) string {
	lines := strings.Split(code, "\n")
	for i, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

// parseSentinel splits stdout into logs and a parsed result value, per §6.4:
// everything up to the sentinel line is logs, the JSON after the sentinel
// prefix is the result.
func parseSentinel(stdout string) (logs []string, result json.RawMessage, found bool) {
	lines := splitLines(stdout)
	for i, line := range lines {
		if strings.HasPrefix(line, resultSentinel) {
			payload := strings.TrimPrefix(line, resultSentinel)
			var v interface{}
			if err := json.Unmarshal([]byte(payload), &v); err != nil {
				return lines[:i], nil, false
			}
			return lines[:i], json.RawMessage(payload), true
		}
	}
	return lines, nil, false
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func killableGroupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// runAndKillGroup runs cmd to completion, killing the whole process group
// (not just the direct child) the moment runCtx is cancelled, so a sandbox
// snippet that itself forked a subprocess doesn't survive a timeout.
func runAndKillGroup(cmd *exec.Cmd, runCtx context.Context) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-runCtx.Done():
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		return runCtx.Err()
	}
}
