package indexer

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *IndexStore {
	t.Helper()
	store, err := NewIndexStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewIndexStore: %v", err)
	}
	return store
}

func TestIndexStoreLoadMissingReturnsNil(t *testing.T) {
	store := newTestStore(t)

	index, err := store.Load("/some/project")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if index != nil {
		t.Fatalf("expected nil index for missing file, got %+v", index)
	}
}

func TestIndexStoreSaveThenLoadRoundTrips(t *testing.T) {
	store := newTestStore(t)
	projectRoot := "/some/project"

	index := NewPersistedIndex(projectRoot)
	index.Files["a.go"] = &FileMemory{Path: "a.go", Language: "go", LineCount: 10}

	if err := store.Save(index); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load(projectRoot)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected loaded index, got nil")
	}
	if loaded.ProjectRoot != projectRoot {
		t.Fatalf("expected project root %q, got %q", projectRoot, loaded.ProjectRoot)
	}
	fm, ok := loaded.Files["a.go"]
	if !ok || fm.LineCount != 10 {
		t.Fatalf("expected a.go with line count 10, got %+v", fm)
	}
}

func TestIndexStoreSaveIsAtomic(t *testing.T) {
	store := newTestStore(t)
	index := NewPersistedIndex("/some/project")

	if err := store.Save(index); err != nil {
		t.Fatalf("Save: %v", err)
	}

	tmpPath := store.IndexPath(index.ProjectRoot) + ".tmp"
	if _, err := os.Stat(tmpPath); !os.IsNotExist(err) {
		t.Fatalf("expected tmp file to be renamed away, stat err = %v", err)
	}
}

func TestIndexStoreLoadDiscardsIncompatibleVersion(t *testing.T) {
	store := newTestStore(t)
	projectRoot := "/some/project"

	index := NewPersistedIndex(projectRoot)
	index.Version = CurrentIndexVersion + 1
	if err := store.Save(index); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load(projectRoot)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded != nil {
		t.Fatalf("expected version mismatch to discard the index, got %+v", loaded)
	}
}

func TestIndexStoreLoadOrCreateCreatesFreshIndex(t *testing.T) {
	store := newTestStore(t)

	index, err := store.LoadOrCreate("/brand/new/project")
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if index.Version != CurrentIndexVersion {
		t.Fatalf("expected fresh index at current version, got %d", index.Version)
	}
	if len(index.Files) != 0 {
		t.Fatalf("expected empty files map, got %d entries", len(index.Files))
	}
}

func TestIndexStoreDeleteRemovesFile(t *testing.T) {
	store := newTestStore(t)
	projectRoot := "/some/project"
	index := NewPersistedIndex(projectRoot)

	if err := store.Save(index); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Delete(projectRoot); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	loaded, err := store.Load(projectRoot)
	if err != nil {
		t.Fatalf("Load after delete: %v", err)
	}
	if loaded != nil {
		t.Fatal("expected index to be gone after Delete")
	}
}

func TestIndexStoreDeleteMissingIsNotAnError(t *testing.T) {
	store := newTestStore(t)
	if err := store.Delete("/never/saved"); err != nil {
		t.Fatalf("expected Delete of a missing index to succeed, got %v", err)
	}
}

func TestIndexStoreListProjects(t *testing.T) {
	store := newTestStore(t)

	for _, root := range []string{"/project/one", "/project/two"} {
		if err := store.Save(NewPersistedIndex(root)); err != nil {
			t.Fatalf("Save %s: %v", root, err)
		}
	}

	projects, err := store.ListProjects()
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if len(projects) != 2 {
		t.Fatalf("expected 2 projects, got %v", projects)
	}
}

func TestIndexStoreStatsCountsFilesAndBytes(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save(NewPersistedIndex("/some/project")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.IndexCount != 1 {
		t.Fatalf("expected 1 index file, got %d", stats.IndexCount)
	}
	if stats.TotalBytes == 0 {
		t.Fatal("expected nonzero total bytes")
	}
}

func TestIndexPathUsesProjectHash(t *testing.T) {
	store := newTestStore(t)
	path := store.IndexPath("/some/project")

	expectedName := ProjectHash("/some/project") + ".json"
	if filepath.Base(path) != expectedName {
		t.Fatalf("expected index file named %q, got %q", expectedName, filepath.Base(path))
	}
}
