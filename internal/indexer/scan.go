package indexer

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/corewright/agentcore/internal/graph"
)

// defaultIgnoreDirs mirrors the teacher's internal/mcptools/shell.go
// skipDirs set, extended with spec §4.8's named defaults.
var defaultIgnoreDirs = map[string]bool{
	".git": true, "node_modules": true, "__pycache__": true,
	".venv": true, "vendor": true, ".cache": true, ".next": true,
	"dist": true, "build": true, "target": true,
}

// defaultExtensions is the default extension allowlist (spec §4.8: "common
// source + text extensions").
var defaultExtensions = map[string]bool{
	".go": true, ".rs": true, ".ts": true, ".tsx": true, ".js": true,
	".jsx": true, ".py": true, ".java": true, ".c": true, ".cpp": true,
	".h": true, ".hpp": true, ".rb": true, ".swift": true, ".kt": true,
	".php": true, ".toml": true, ".yaml": true, ".yml": true,
	".json": true, ".md": true,
}

// languageByExtension maps a file extension to its detected language name.
var languageByExtension = map[string]string{
	".go": "go", ".rs": "rust", ".ts": "typescript", ".tsx": "typescript",
	".js": "javascript", ".jsx": "javascript", ".py": "python",
	".java": "java", ".c": "c", ".cpp": "cpp", ".h": "c", ".hpp": "cpp",
	".rb": "ruby", ".swift": "swift", ".kt": "kotlin", ".php": "php",
	".toml": "toml", ".yaml": "yaml", ".yml": "yaml", ".json": "json",
	".md": "markdown",
}

// ScanConfig parameterizes a full scan (spec §4.8, realized via
// SPEC_FULL.md §6's [indexer] TOML table).
type ScanConfig struct {
	IgnorePatterns []string
	Extensions     []string
	MaxFileSize    int64
}

// DefaultScanConfig returns the SPEC_FULL.md §6 [indexer.limits] default
// (max_file_size = 1MiB), with no extra user ignore patterns/extensions.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{MaxFileSize: 1 << 20}
}

func (c ScanConfig) allowedExtension(ext string) bool {
	if len(c.Extensions) == 0 {
		return defaultExtensions[ext]
	}
	for _, e := range c.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

func (c ScanConfig) ignored(relPath string, name string, isDir bool) bool {
	if isDir && defaultIgnoreDirs[name] {
		return true
	}
	for _, pattern := range c.IgnorePatterns {
		if strings.HasPrefix(pattern, "*") {
			if strings.HasSuffix(relPath, strings.TrimPrefix(pattern, "*")) {
				return true
			}
			continue
		}
		if name == pattern || relPath == pattern {
			return true
		}
	}
	return false
}

// Scanner runs full scans of a project root, maintaining its
// PersistedIndex, dependency Graph, and VectorIndex together (spec §4.8).
type Scanner struct {
	ProjectRoot string
	Store       *IndexStore
	Scoring     ScoringConfig
	Scan        ScanConfig
	Graph       *graph.Graph
	GitAnalyzer *GitAnalyzer // optional; nil disables git metrics
}

// NewScanner returns a Scanner for projectRoot using store for
// persistence. Git metrics are enabled opportunistically: if projectRoot
// isn't a git repository, GitAnalyzer stays nil and churn fields are left
// at their zero values.
func NewScanner(projectRoot string, store *IndexStore) *Scanner {
	s := &Scanner{
		ProjectRoot: projectRoot,
		Store:       store,
		Scoring:     DefaultScoringConfig(),
		Scan:        DefaultScanConfig(),
		Graph:       graph.New(),
	}
	if analyzer, err := OpenGitAnalyzer(projectRoot); err == nil {
		s.GitAnalyzer = analyzer
	}
	return s
}

// IndexFile re-indexes a single file in place, for the daemon's
// created/modified events where a full rescan would be wasteful.
// Grounded on original_source/src/indexer/daemon.rs's index_file: it
// upserts byte size, line count, and language, then recomputes the
// file's retention score. It does not touch git metrics, imports, or
// graph centrality -- neither does the original, since those are
// scan-wide computations a single-file update can't cheaply refresh.
func (s *Scanner) IndexFile(index *PersistedIndex, relPath string) error {
	absPath := filepath.Join(s.ProjectRoot, relPath)

	info, err := os.Stat(absPath)
	if err != nil {
		return err
	}

	fm := index.Files[relPath]
	if fm == nil {
		fm = &FileMemory{Path: relPath}
	}
	fm.ByteSize = info.Size()

	if src, readErr := os.ReadFile(absPath); readErr == nil {
		fm.LineCount = countLines(src)
	}

	ext := strings.ToLower(filepath.Ext(relPath))
	fm.Language = languageByExtension[ext]

	fm.RetentionScore = Score(*fm, s.Scoring, now())

	index.Files[relPath] = fm
	return nil
}

// countLines returns the number of lines in src; a trailing newline ends
// the last line rather than starting an empty one.
func countLines(src []byte) int {
	n := strings.Count(string(src), "\n")
	if len(src) > 0 && src[len(src)-1] != '\n' {
		n++
	}
	return n
}

// FullScan executes spec §4.8's eight-step algorithm, returning the
// refreshed index.
func (s *Scanner) FullScan() (*PersistedIndex, error) {
	index, err := s.Store.LoadOrCreate(s.ProjectRoot)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	importsByFile := make(map[string][]graph.ImportRef)

	err = filepath.WalkDir(s.ProjectRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		relPath, relErr := filepath.Rel(s.ProjectRoot, path)
		if relErr != nil {
			return nil
		}
		if relPath == "." {
			return nil
		}

		if s.Scan.ignored(relPath, d.Name(), d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(relPath))
		if !s.Scan.allowedExtension(ext) {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		if s.Scan.MaxFileSize > 0 && info.Size() > s.Scan.MaxFileSize {
			return nil
		}

		src, readErr := os.ReadFile(path)
		if readErr != nil {
			log.Warn().Str("path", relPath).Err(readErr).Msg("indexer: failed to read file during scan")
			return nil
		}

		seen[relPath] = true
		s.Graph.AddNode(relPath)

		fm := index.Files[relPath]
		if fm == nil {
			fm = &FileMemory{Path: relPath}
			index.Files[relPath] = fm
		}
		fm.ByteSize = info.Size()
		fm.LineCount = countLines(src)
		fm.Language = languageByExtension[ext]

		if s.GitAnalyzer != nil {
			if metrics, gitErr := s.GitAnalyzer.AnalyzeFile(relPath); gitErr == nil {
				fm.CommitCount = metrics.CommitCount
				fm.LastModified = metrics.LastModified
				fm.ChurnRate = metrics.NormalizedChurn()
			}
		}

		refs, parseErr := graph.ExtractImports(relPath, src)
		if parseErr == nil {
			importsByFile[relPath] = refs
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.resolveEdges(index, importsByFile)

	s.Graph.ComputeCentrality()
	for relPath, fm := range index.Files {
		if !seen[relPath] {
			continue
		}
		fm.CentralityScore = s.Graph.Centrality(relPath)
		fm.Dependencies = s.Graph.Dependencies(relPath)
		fm.Dependents = s.Graph.Dependents(relPath)
	}

	now := now()
	for relPath, fm := range index.Files {
		if !seen[relPath] {
			delete(index.Files, relPath)
			continue
		}
		fm.RetentionScore = Score(*fm, s.Scoring, now)
	}

	index.ScoringConfig = s.Scoring
	if s.GitAnalyzer != nil {
		if commit := s.GitAnalyzer.HeadCommitHash(); commit != "" {
			index.GitCommit = &commit
		}
	}

	if err := s.Store.Save(index); err != nil {
		return nil, err
	}

	return index, nil
}

// resolveEdges turns each file's extracted imports into graph edges,
// resolving relative imports against the project tree and module-style
// imports by matching their final path segment against indexed files
// (spec §4.9: "only imports that resolve to another file currently in the
// index become edges").
func (s *Scanner) resolveEdges(index *PersistedIndex, importsByFile map[string][]graph.ImportRef) {
	for from, refs := range importsByFile {
		for _, ref := range refs {
			target := s.resolveImport(index, from, ref)
			if target != "" {
				s.Graph.AddEdge(from, target)
			}
		}
	}
}

func (s *Scanner) resolveImport(index *PersistedIndex, from string, ref graph.ImportRef) string {
	if ref.Kind == graph.ImportRelative {
		candidate := filepath.Join(filepath.Dir(from), ref.Path)
		candidate = filepath.Clean(candidate)
		if _, ok := index.Files[candidate]; ok {
			return candidate
		}
		return ""
	}

	segment := ref.Path
	if idx := strings.LastIndex(segment, "/"); idx >= 0 {
		segment = segment[idx+1:]
	}
	for path := range index.Files {
		if path == from {
			continue
		}
		dir := filepath.Dir(path)
		if filepath.Base(dir) == segment {
			return path
		}
	}
	return ""
}

// RecordFileAccess updates a file's access bookkeeping and recomputes its
// retention score (spec §4.8).
func (s *Scanner) RecordFileAccess(index *PersistedIndex, path string) {
	fm, ok := index.Files[path]
	if !ok {
		return
	}
	fm.LastAccessed = now()
	fm.AccessCount++
	fm.RetentionScore = Score(*fm, s.Scoring, now())
}

// UpdateChunkAccess updates a chunk's access bookkeeping and applies the
// associative boost to every chunk it references (spec §4.8:
// "record_chunk_access ... additionally applies an associative boost ...
// to every referenced chunk's session_boost").
func UpdateChunkAccess(index *PersistedIndex, cfg ScoringConfig, chunk *ChunkMemory) {
	at := now()
	chunk.GlobalLastAccessed = at
	chunk.GlobalAccessCount++
	chunk.SessionLastAccessed = at
	chunk.SessionAccessCount++

	for _, refID := range chunk.References {
		if referenced, ok := index.ChunkMemory[refID]; ok {
			ApplyAssociativeBoost(referenced, cfg)
		}
	}
}

// TopNByRetention returns the n files with the highest retention score
// (spec §4.8: "Top-N selection").
func TopNByRetention(index *PersistedIndex, n int) []*FileMemory {
	files := make([]*FileMemory, 0, len(index.Files))
	for _, fm := range index.Files {
		files = append(files, fm)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].RetentionScore > files[j].RetentionScore })
	if n >= 0 && n < len(files) {
		files = files[:n]
	}
	return files
}

// TopByByteBudget walks files from highest retention down, taking each
// one that still fits in the remaining budgetBytes and skipping any that
// would overflow it (spec §4.8: "all files whose
// cumulative byte_size fits in a budget, greedy highest-first").
func TopByByteBudget(index *PersistedIndex, budgetBytes int64) []*FileMemory {
	files := make([]*FileMemory, 0, len(index.Files))
	for _, fm := range index.Files {
		files = append(files, fm)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].RetentionScore > files[j].RetentionScore })

	var total int64
	selected := make([]*FileMemory, 0, len(files))
	for _, fm := range files {
		if total+fm.ByteSize > budgetBytes {
			continue
		}
		total += fm.ByteSize
		selected = append(selected, fm)
	}
	return selected
}
