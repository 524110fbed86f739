// Package registry is the Provider Registry: a per-tenant map from provider
// id to a callable tool invoker plus authorization status, published as
// immutable snapshots so a run that captured one at start never sees a
// partial mid-run change (§5, §9 "process-wide caches... represented as
// immutable snapshots keyed by tenant; publication swaps a pointer").
package registry

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/taskrun/plannerd/pkg/models"
)

// Provider is the callable surface every third-party integration (Gmail,
// Slack, ...) implements. Invoke must normalize every outcome, including
// transport failures, into an ActionResponse rather than returning a bare
// error for anything the caller should treat as recoverable (§6.2).
type Provider interface {
	Invoke(ctx context.Context, tenant models.TenantContext, toolName string, args json.RawMessage) models.ActionResponse
}

// Entry pairs a Provider with its authorization state. Only authorized
// entries are visible to tool discovery; an unauthorized provider still
// exists in the registry (so re-authorizing it doesn't require restarting
// anything) but the Tool Index excludes its tools.
type Entry struct {
	ID         string
	Provider   Provider
	Authorized bool
}

// Snapshot is one immutable, fully-built view of a tenant's registry. A run
// captures the Snapshot in effect at start and keeps using it even if the
// registry republishes mid-run.
type Snapshot struct {
	Tenant   string
	Entries  map[string]Entry
	Fingerprint string
}

// AuthorizedIDs returns the ids of every authorized entry, sorted is not
// guaranteed; callers that need deterministic order should sort themselves.
func (s *Snapshot) AuthorizedIDs() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.Entries))
	for id, e := range s.Entries {
		if e.Authorized {
			out = append(out, id)
		}
	}
	return out
}

// Get returns the entry for id if present and authorized.
func (s *Snapshot) Get(id string) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}
	e, ok := s.Entries[id]
	if !ok || !e.Authorized {
		return Entry{}, false
	}
	return e, true
}

// Registry holds one atomically-swappable Snapshot per tenant. Writers
// (OAuth finalization, wrapper reload, the fsnotify watcher in watcher.go)
// call Publish; readers call Current. Both are safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	snapshots map[string]*atomic.Pointer[Snapshot]
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{snapshots: make(map[string]*atomic.Pointer[Snapshot])}
}

// Current returns the tenant's current snapshot, or an empty snapshot if
// the tenant has never published one.
func (r *Registry) Current(tenant string) *Snapshot {
	r.mu.RLock()
	ptr, ok := r.snapshots[tenant]
	r.mu.RUnlock()
	if !ok {
		return &Snapshot{Tenant: tenant, Entries: map[string]Entry{}}
	}
	return ptr.Load()
}

// Publish atomically replaces the tenant's snapshot. Safe to call
// concurrently with Current and with other Publish calls for other tenants.
func (r *Registry) Publish(tenant string, snap *Snapshot) {
	r.mu.Lock()
	ptr, ok := r.snapshots[tenant]
	if !ok {
		ptr = &atomic.Pointer[Snapshot]{}
		r.snapshots[tenant] = ptr
	}
	r.mu.Unlock()
	ptr.Store(snap)
}
