package sandbox

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"

	"github.com/taskrun/plannerd/internal/dispatch"
	"github.com/taskrun/plannerd/internal/registry"
	"github.com/taskrun/plannerd/pkg/models"
)

// ipcServer is the parent-side half of §6.3: it accepts the connections the
// spawned subprocess makes (the generated client opens one per call_tool),
// authenticates each request by run_id+token, and dispatches through the
// same Tool Dispatcher a `tool` step uses, so authorization is shared across
// both paths. Calls made over IPC are not counted in the run's BudgetUsage;
// only the sandbox step itself counts, as a code run.
type ipcServer struct {
	listener net.Listener
	runID    string
	token    string
	tenant   models.TenantContext
	snap     *registry.Snapshot
	log      *slog.Logger
}

// newIPCServer binds an ephemeral UNIX domain socket under socketDir and
// returns a server ready to Serve connections for one run.
func newIPCServer(socketDir, runID, token string, tenant models.TenantContext, snap *registry.Snapshot, log *slog.Logger) (*ipcServer, error) {
	path := socketPath(socketDir)
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &ipcServer{listener: ln, runID: runID, token: token, tenant: tenant, snap: snap, log: log}, nil
}

func socketPath(dir string) string {
	return dir + "/ipc.sock"
}

// Addr returns the socket path the subprocess should connect to.
func (s *ipcServer) Addr() string {
	return s.listener.Addr().String()
}

// Close stops accepting new connections.
func (s *ipcServer) Close() error {
	return s.listener.Close()
}

// Serve accepts connections until ctx is done or the listener is closed,
// handling one connection at a time and each request-response pair on it
// serially (§5: sandbox calls within a run are never concurrent).
func (s *ipcServer) Serve(ctx context.Context) {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.handleConn(ctx, conn)
	}
}

func (s *ipcServer) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		var req ipcRequest
		if err := readFrame(r, &req); err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("sandbox ipc: frame read failed", "error", err)
			}
			return
		}

		resp := s.handle(ctx, req)
		if err := writeFrame(conn, resp); err != nil {
			s.log.Debug("sandbox ipc: frame write failed", "error", err)
			return
		}
	}
}

func (s *ipcServer) handle(ctx context.Context, req ipcRequest) models.ActionResponse {
	if req.RunID != s.runID || req.Token != s.token {
		return models.FailedActionResponse("unauthorized")
	}
	return dispatch.Invoke(ctx, s.snap, s.tenant, req.Provider, req.Tool, req.Args)
}
