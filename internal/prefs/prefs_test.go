package prefs

import (
	"path/filepath"
	"testing"

	"github.com/ggonzalez94/hubroute/internal/routing"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "prefs.db"), filepath.Join(dir, "prefs.lock"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, dir
}

func TestLoadDefaultsWhenEmpty(t *testing.T) {
	store, _ := openTestStore(t)
	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !got.HubEnabled || got.Control != routing.ControlNone {
		t.Fatalf("unexpected defaults %+v", got)
	}
}

func TestControlAndToggleSurviveReopen(t *testing.T) {
	store, dir := openTestStore(t)
	if _, err := store.SetControl(routing.ControlForce); err != nil {
		t.Fatalf("SetControl failed: %v", err)
	}
	if _, err := store.SetHubEnabled(false); err != nil {
		t.Fatalf("SetHubEnabled failed: %v", err)
	}
	_ = store.Close()

	reopened, err := Open(filepath.Join(dir, "prefs.db"), filepath.Join(dir, "prefs.lock"))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.HubEnabled || got.Control != routing.ControlForce {
		t.Fatalf("unexpected persisted settings %+v", got)
	}
}

func TestResetClearsOverride(t *testing.T) {
	store, _ := openTestStore(t)
	if _, err := store.SetControl(routing.ControlSkip); err != nil {
		t.Fatalf("SetControl failed: %v", err)
	}
	got, err := store.SetControl(routing.ControlReset)
	if err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if got.Control != routing.ControlNone {
		t.Fatalf("expected cleared override, got %q", got.Control)
	}
	loaded, _ := store.Load()
	if loaded.Control != routing.ControlNone || !loaded.HubEnabled {
		t.Fatalf("unexpected loaded settings %+v", loaded)
	}
}
