package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/taskrun/plannerd/internal/registry"
	"github.com/taskrun/plannerd/pkg/models"
)

type stubProvider struct {
	resp  models.ActionResponse
	panic bool
}

func (s stubProvider) Invoke(_ context.Context, _ models.TenantContext, _ string, _ json.RawMessage) models.ActionResponse {
	if s.panic {
		panic("boom")
	}
	return s.resp
}

func snapshotWith(id string, p registry.Provider, authorized bool) *registry.Snapshot {
	return &registry.Snapshot{
		Tenant: "tenant-a",
		Entries: map[string]registry.Entry{
			id: {ID: id, Provider: p, Authorized: authorized},
		},
	}
}

func TestInvoke_RoutesToAuthorizedProvider(t *testing.T) {
	want := models.ActionResponse{Successful: true, Data: json.RawMessage(`{"messageId":"m1"}`)}
	snap := snapshotWith("gmail", stubProvider{resp: want}, true)

	got := Invoke(context.Background(), snap, models.TenantContext{UserID: "u1"}, "gmail", "gmail_send_email", json.RawMessage(`{}`))
	if !got.Successful {
		t.Fatalf("expected success, got %+v", got)
	}
	if string(got.Data) != string(want.Data) {
		t.Errorf("Data = %s, want %s", got.Data, want.Data)
	}
}

func TestInvoke_UnauthorizedProviderFails(t *testing.T) {
	snap := snapshotWith("gmail", stubProvider{}, false)
	got := Invoke(context.Background(), snap, models.TenantContext{}, "gmail", "gmail_send_email", nil)
	if got.Successful {
		t.Fatal("expected failure for unauthorized provider")
	}
	if got.Error == "" {
		t.Error("expected non-empty error")
	}
}

func TestInvoke_UnknownProviderFails(t *testing.T) {
	snap := &registry.Snapshot{Tenant: "tenant-a", Entries: map[string]registry.Entry{}}
	got := Invoke(context.Background(), snap, models.TenantContext{}, "notion", "search", nil)
	if got.Successful {
		t.Fatal("expected failure for unknown provider")
	}
}

func TestInvoke_RecoversFromPanic(t *testing.T) {
	snap := snapshotWith("gmail", stubProvider{panic: true}, true)
	got := Invoke(context.Background(), snap, models.TenantContext{}, "gmail", "gmail_send_email", nil)
	if got.Successful {
		t.Fatal("expected failure when provider panics")
	}
	if got.Error == "" {
		t.Error("expected panic to be converted into a non-empty error")
	}
}

func TestInvoke_FailedResponseWithoutErrorGetsDefaulted(t *testing.T) {
	snap := snapshotWith("gmail", stubProvider{resp: models.ActionResponse{Successful: false}}, true)
	got := Invoke(context.Background(), snap, models.TenantContext{}, "gmail", "gmail_send_email", nil)
	if got.Error == "" {
		t.Error("expected a default error message to be filled in")
	}
}
