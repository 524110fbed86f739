package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// CredentialWatcher watches a directory of per-provider credential files —
// the artifact left behind by the out-of-scope OAuth finalization step
// named in §1 — and republishes a tenant's Snapshot whenever a credential
// file appears, changes, or is removed. This is how the registry satisfies
// §5's "writers must atomically publish a new snapshot" without the
// orchestrator polling a filesystem on every run.
//
// The directory layout is one file per provider, named "<provider_id>",
// whose mere presence means that provider is authorized; contents are
// opaque to this watcher and read elsewhere by the Provider implementation.
type CredentialWatcher struct {
	dir      string
	tenant   string
	registry *Registry
	build    func(authorizedIDs []string) map[string]Entry
	log      *slog.Logger

	fsw *fsnotify.Watcher
}

// NewCredentialWatcher constructs a watcher for one tenant's credential
// directory. build is called with the newly-authorized provider id set
// every time the directory changes, and must return the full Entry map
// (including unauthorized providers, if any are tracked) for republishing.
func NewCredentialWatcher(dir, tenant string, reg *Registry, build func([]string) map[string]Entry, log *slog.Logger) (*CredentialWatcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return &CredentialWatcher{dir: dir, tenant: tenant, registry: reg, build: build, log: log, fsw: fsw}, nil
}

// Run blocks, republishing the registry snapshot on every filesystem event
// until ctx is cancelled or the underlying watcher errors out. It performs
// one initial publish before entering the event loop so a cold start doesn't
// wait for the first filesystem change.
func (w *CredentialWatcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	w.republish()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.republish()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("credential watcher error", "tenant", w.tenant, "error", err)
		}
	}
}

func (w *CredentialWatcher) republish() {
	ids, err := authorizedProviderIDs(w.dir)
	if err != nil {
		w.log.Warn("failed to list credential directory", "tenant", w.tenant, "dir", w.dir, "error", err)
		return
	}
	entries := w.build(ids)
	w.registry.Publish(w.tenant, &Snapshot{
		Tenant:      w.tenant,
		Entries:     entries,
		Fingerprint: fingerprint(ids),
	})
}

func authorizedProviderIDs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ids = append(ids, filepath.Base(e.Name()))
	}
	sort.Strings(ids)
	return ids, nil
}

// fingerprint derives a stable hash of the authorized id set, so two
// snapshots built from the same credential state compare equal without
// needing deep map equality (the "building the index twice yields
// byte-identical descriptors" property in §8 applies to snapshots too).
func fingerprint(ids []string) string {
	h := sha256.New()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
