package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/corewright/agentcore/internal/indexer"
)

func newTestDaemon(t *testing.T, cfg Config) (*Daemon, string, *indexer.IndexStore) {
	t.Helper()
	root := t.TempDir()
	store, err := indexer.NewIndexStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewIndexStore: %v", err)
	}
	return New(root, cfg, store), root, store
}

func fastTestConfig() Config {
	cfg := DefaultConfig()
	cfg.DebounceMs = 80
	cfg.PersistIntervalSecs = 3600
	return cfg
}

func drainUntil(t *testing.T, events <-chan Event, kind EventKind, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed before observing kind %d", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %d", kind)
		}
	}
}

func TestPendingChangesCreateThenModifyStaysCreated(t *testing.T) {
	p := newPendingChanges()
	p.onCreate("a.go")
	p.onModify("a.go")

	if !p.created["a.go"] {
		t.Fatal("expected a.go to remain in created after a subsequent modify")
	}
	if p.modified["a.go"] {
		t.Fatal("expected a.go not to also appear in modified")
	}
}

func TestPendingChangesModifyThenDeleteEndsInDeleted(t *testing.T) {
	p := newPendingChanges()
	p.onModify("a.go")
	p.onDelete("a.go")

	if p.modified["a.go"] {
		t.Fatal("expected a.go to be removed from modified")
	}
	if p.created["a.go"] {
		t.Fatal("expected a.go not to appear in created")
	}
	if !p.deleted["a.go"] {
		t.Fatal("expected a.go to appear in deleted")
	}
}

func TestPendingChangesIsEmptyAndClear(t *testing.T) {
	p := newPendingChanges()
	if !p.isEmpty() {
		t.Fatal("expected a fresh pendingChanges to be empty")
	}
	p.onCreate("a.go")
	if p.isEmpty() {
		t.Fatal("expected pendingChanges to be non-empty after onCreate")
	}
	p.clear()
	if !p.isEmpty() {
		t.Fatal("expected pendingChanges to be empty after clear")
	}
	if !p.startedAt.IsZero() {
		t.Fatal("expected clear to reset startedAt")
	}
}

func TestPendingChangesElapsedZeroBeforeFirstEvent(t *testing.T) {
	p := newPendingChanges()
	if p.elapsed() != 0 {
		t.Fatalf("expected zero elapsed before any event, got %v", p.elapsed())
	}
}

func TestDaemonStartDisabledReturnsError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	d, _, _ := newTestDaemon(t, cfg)

	if _, err := d.Start(); err == nil {
		t.Fatal("expected an error starting a disabled daemon")
	}
}

func TestDaemonDetectsFileCreation(t *testing.T) {
	d, root, store := newTestDaemon(t, fastTestConfig())

	handle, err := d.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer handle.Stop()

	if err := os.WriteFile(filepath.Join(root, "new.go"), []byte("package x\npackage x\n"), 0o644); err != nil {
		t.Fatalf("write new.go: %v", err)
	}

	ev := drainUntil(t, handle.Events(), EventFileCreated, 5*time.Second)
	if ev.Path != "new.go" {
		t.Fatalf("expected created event for new.go, got %q", ev.Path)
	}

	fm := waitForFileMemory(t, store, root, "new.go", 5*time.Second)
	if fm.LineCount != 2 {
		t.Fatalf("expected line count 2, got %d", fm.LineCount)
	}
	if fm.Language != "go" {
		t.Fatalf("expected language \"go\", got %q", fm.Language)
	}
	if fm.ByteSize == 0 {
		t.Fatal("expected a non-zero byte size")
	}
}

// waitForFileMemory polls the store for relPath's FileMemory entry,
// tolerating the gap between the daemon emitting an event and its
// subsequent index save completing.
func waitForFileMemory(t *testing.T, store *indexer.IndexStore, root, relPath string, timeout time.Duration) *indexer.FileMemory {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		index, err := store.Load(root)
		if err == nil && index != nil {
			if fm, ok := index.Files[relPath]; ok {
				return fm
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s to gain a FileMemory entry", relPath)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDaemonDetectsFileDeletion(t *testing.T) {
	d, root, _ := newTestDaemon(t, fastTestConfig())

	target := filepath.Join(root, "gone.go")
	if err := os.WriteFile(target, []byte("package x\n"), 0o644); err != nil {
		t.Fatalf("write gone.go: %v", err)
	}

	handle, err := d.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer handle.Stop()

	if err := os.Remove(target); err != nil {
		t.Fatalf("remove gone.go: %v", err)
	}

	ev := drainUntil(t, handle.Events(), EventFileDeleted, 5*time.Second)
	if ev.Path != "gone.go" {
		t.Fatalf("expected deleted event for gone.go, got %q", ev.Path)
	}
}

func TestDaemonIgnoresDefaultIgnoredDirectories(t *testing.T) {
	d, root, _ := newTestDaemon(t, fastTestConfig())

	if err := os.MkdirAll(filepath.Join(root, "node_modules"), 0o755); err != nil {
		t.Fatalf("mkdir node_modules: %v", err)
	}

	handle, err := d.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer handle.Stop()

	if err := os.WriteFile(filepath.Join(root, "node_modules", "lib.js"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write ignored file: %v", err)
	}
	// Also create an allowed file so we have a positive signal that the
	// watcher is alive and the ignored file truly produced nothing.
	if err := os.WriteFile(filepath.Join(root, "ok.go"), []byte("package x\n"), 0o644); err != nil {
		t.Fatalf("write ok.go: %v", err)
	}

	ev := drainUntil(t, handle.Events(), EventFileCreated, 5*time.Second)
	if ev.Path != "ok.go" {
		t.Fatalf("expected the first created event to be ok.go, got %q", ev.Path)
	}
}

func TestDaemonStopIsIdempotent(t *testing.T) {
	d, _, _ := newTestDaemon(t, fastTestConfig())

	handle, err := d.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := handle.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := handle.Stop(); err != nil {
		t.Fatalf("second Stop should be a no-op, got: %v", err)
	}
}

func TestShouldIgnoreRespectsExtensionAllowlist(t *testing.T) {
	cfg := DefaultConfig()
	d := &Daemon{config: cfg}

	if d.shouldIgnore("main.go") {
		t.Fatal("expected .go files to be allowed by default")
	}
	if !d.shouldIgnore("image.png") {
		t.Fatal("expected .png files to be ignored by default")
	}
}

func TestShouldIgnoreRespectsCustomIgnorePattern(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IgnorePatterns = []string{"*.lock"}
	d := &Daemon{config: cfg}

	if !d.shouldIgnore("Cargo.lock") {
		t.Fatal("expected *.lock pattern to ignore Cargo.lock")
	}
}
