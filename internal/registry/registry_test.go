package registry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/taskrun/plannerd/pkg/models"
)

type stubProvider struct{}

func (stubProvider) Invoke(_ context.Context, _ models.TenantContext, _ string, _ json.RawMessage) models.ActionResponse {
	return models.EmptyActionResponse()
}

func TestRegistry_CurrentBeforePublishIsEmpty(t *testing.T) {
	r := New()
	snap := r.Current("tenant-a")
	if snap == nil {
		t.Fatal("expected a non-nil empty snapshot")
	}
	if len(snap.Entries) != 0 {
		t.Errorf("expected no entries before publish, got %d", len(snap.Entries))
	}
}

func TestRegistry_PublishAndCurrent(t *testing.T) {
	r := New()
	r.Publish("tenant-a", &Snapshot{
		Tenant: "tenant-a",
		Entries: map[string]Entry{
			"gmail": {ID: "gmail", Provider: stubProvider{}, Authorized: true},
			"slack": {ID: "slack", Provider: stubProvider{}, Authorized: false},
		},
	})

	snap := r.Current("tenant-a")
	if len(snap.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snap.Entries))
	}

	if _, ok := snap.Get("gmail"); !ok {
		t.Error("expected gmail to be authorized and gettable")
	}
	if _, ok := snap.Get("slack"); ok {
		t.Error("expected slack to be excluded as unauthorized")
	}
	if _, ok := snap.Get("notion"); ok {
		t.Error("expected unknown provider to be absent")
	}

	ids := snap.AuthorizedIDs()
	if len(ids) != 1 || ids[0] != "gmail" {
		t.Errorf("AuthorizedIDs() = %v, want [gmail]", ids)
	}
}

func TestRegistry_PublishIsolatesTenants(t *testing.T) {
	r := New()
	r.Publish("tenant-a", &Snapshot{Tenant: "tenant-a", Entries: map[string]Entry{
		"gmail": {ID: "gmail", Provider: stubProvider{}, Authorized: true},
	}})

	snapB := r.Current("tenant-b")
	if len(snapB.Entries) != 0 {
		t.Errorf("expected tenant-b to be unaffected by tenant-a's publish, got %d entries", len(snapB.Entries))
	}
}

func TestRegistry_RepublishReplacesSnapshot(t *testing.T) {
	r := New()
	r.Publish("tenant-a", &Snapshot{Tenant: "tenant-a", Entries: map[string]Entry{
		"gmail": {ID: "gmail", Authorized: true},
	}})
	first := r.Current("tenant-a")

	r.Publish("tenant-a", &Snapshot{Tenant: "tenant-a", Entries: map[string]Entry{
		"gmail": {ID: "gmail", Authorized: true},
		"slack": {ID: "slack", Authorized: true},
	}})
	second := r.Current("tenant-a")

	if len(first.Entries) != 1 {
		t.Errorf("a run holding the first snapshot should still see 1 entry, got %d", len(first.Entries))
	}
	if len(second.Entries) != 2 {
		t.Errorf("a new Current() call should see the republished snapshot, got %d entries", len(second.Entries))
	}
}
