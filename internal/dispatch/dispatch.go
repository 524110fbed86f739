// Package dispatch is the Tool Dispatcher (§2, §4.4.2): the single function
// that routes a (provider, tool, args) triple through a tenant's Provider
// Registry snapshot and normalizes every outcome — including a provider
// panic or transport failure — into an ActionResponse, so callers never see
// a bare error for anything recoverable.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/taskrun/plannerd/internal/registry"
	"github.com/taskrun/plannerd/pkg/models"
)

// Invoke routes one tool call through snap and returns a normalized
// ActionResponse. A missing or unauthorized provider, and any panic raised
// by the provider implementation, are both reported as a failed
// ActionResponse rather than propagated as a Go error — the same uniform
// envelope the sandbox IPC shim (§6.3) and the `tool` executor path share.
func Invoke(ctx context.Context, snap *registry.Snapshot, tenant models.TenantContext, provider, tool string, args json.RawMessage) (resp models.ActionResponse) {
	defer func() {
		if r := recover(); r != nil {
			resp = models.FailedActionResponse(fmt.Sprintf("transport: provider %s panicked: %v", provider, r))
		}
	}()

	entry, ok := snap.Get(provider)
	if !ok {
		return models.FailedActionResponse(fmt.Sprintf("transport: provider %q is not authorized", provider))
	}

	resp = entry.Provider.Invoke(ctx, tenant, tool, args)
	if !resp.Successful && resp.Error == "" {
		resp.Error = "transport: provider returned a failed response with no error message"
	}
	return resp
}
