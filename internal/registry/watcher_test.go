package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCredentialWatcher_RepublishesOnFileCreate(t *testing.T) {
	dir := t.TempDir()
	reg := New()

	build := func(ids []string) map[string]Entry {
		entries := make(map[string]Entry, len(ids))
		for _, id := range ids {
			entries[id] = Entry{ID: id, Authorized: true}
		}
		return entries
	}

	w, err := NewCredentialWatcher(dir, "tenant-a", reg, build, nil)
	if err != nil {
		t.Fatalf("NewCredentialWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	// Initial republish happens synchronously at the start of Run, but Run
	// itself is async here, so poll briefly for the empty snapshot.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if reg.Current("tenant-a").Fingerprint != "" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := os.WriteFile(filepath.Join(dir, "gmail"), []byte("token"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := reg.Current("tenant-a").Get("gmail"); ok {
			cancel()
			<-done
			return
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	<-done
	t.Fatal("expected credential file creation to republish the registry with gmail authorized")
}
