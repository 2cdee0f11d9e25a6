package indexer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// IndexStore persists a project's PersistedIndex under a base directory,
// keyed by ProjectHash (spec §6: "~/.ted/index/{project_hash}.json"),
// grounded on original_source/src/indexer/persistence.rs's IndexStore.
type IndexStore struct {
	baseDir string
}

// NewIndexStore returns a store rooted at baseDir, creating it if needed.
func NewIndexStore(baseDir string) (*IndexStore, error) {
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("indexer: create index directory %s: %w", baseDir, err)
	}
	return &IndexStore{baseDir: baseDir}, nil
}

// DefaultIndexDir returns ~/.ted/index, matching the teacher's
// internal/config.DataDir pattern for resolving a dotfile directory under
// the user's home.
func DefaultIndexDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ted", "index"), nil
}

// IndexPath returns the on-disk path for projectRoot's index.
func (s *IndexStore) IndexPath(projectRoot string) string {
	return filepath.Join(s.baseDir, ProjectHash(projectRoot)+".json")
}

// Load reads projectRoot's index, returning (nil, nil) if no index file
// exists or its version is incompatible (spec §6: a version mismatch is
// discarded, not an error).
func (s *IndexStore) Load(projectRoot string) (*PersistedIndex, error) {
	path := s.IndexPath(projectRoot)

	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("indexer: read index file %s: %w", path, err)
	}

	var index PersistedIndex
	if err := json.Unmarshal(content, &index); err != nil {
		return nil, fmt.Errorf("indexer: parse index file %s: %w", path, err)
	}

	if index.Version != CurrentIndexVersion {
		log.Warn().
			Int("found_version", index.Version).
			Int("current_version", CurrentIndexVersion).
			Str("path", path).
			Msg("indexer: discarding index with incompatible version")
		return nil, nil
	}

	return &index, nil
}

// LoadOrCreate returns projectRoot's existing index, or a fresh empty one.
func (s *IndexStore) LoadOrCreate(projectRoot string) (*PersistedIndex, error) {
	index, err := s.Load(projectRoot)
	if err != nil {
		return nil, err
	}
	if index == nil {
		return NewPersistedIndex(projectRoot), nil
	}
	return index, nil
}

// Save writes index atomically: serialize to a `.json.tmp` sibling, then
// rename over the final path (spec §6: "atomic save").
func (s *IndexStore) Save(index *PersistedIndex) error {
	path := s.IndexPath(index.ProjectRoot)
	tmpPath := path + ".tmp"

	content, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("indexer: serialize index: %w", err)
	}

	if err := os.WriteFile(tmpPath, content, 0o640); err != nil {
		return fmt.Errorf("indexer: write index tmp file %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("indexer: rename index file into place: %w", err)
	}

	return nil
}

// Delete removes projectRoot's index file, if present.
func (s *IndexStore) Delete(projectRoot string) error {
	path := s.IndexPath(projectRoot)
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// ListProjects returns the project_root of every valid index file under
// the store's base directory.
func (s *IndexStore) ListProjects() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("indexer: read index directory %s: %w", s.baseDir, err)
	}

	var projects []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		content, err := os.ReadFile(filepath.Join(s.baseDir, entry.Name()))
		if err != nil {
			continue
		}

		var index PersistedIndex
		if err := json.Unmarshal(content, &index); err != nil {
			continue
		}

		projects = append(projects, index.ProjectRoot)
	}

	return projects, nil
}

// StorageStats summarizes the store's on-disk footprint.
type StorageStats struct {
	IndexCount int
	TotalBytes int64
}

// Stats computes StorageStats across every index file in the store.
func (s *IndexStore) Stats() (StorageStats, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return StorageStats{}, fmt.Errorf("indexer: read index directory %s: %w", s.baseDir, err)
	}

	var stats StorageStats
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		stats.IndexCount++
		stats.TotalBytes += info.Size()
	}

	return stats, nil
}
