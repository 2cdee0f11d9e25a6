// Package indexer implements the file-memory index: scan, scoring,
// recall, persistence, and the in-memory vector store (spec §4.8-§4.13).
// Grounded on original_source/src/indexer/memory.rs and persistence.rs,
// translated into Go's idiom (exported structs, JSON struct tags, no
// interior-mutability wrappers since the caller holds the mutex, spec §5).
package indexer

import (
	"encoding/hex"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
)

// SymbolType classifies a CodeChunk's primary symbol, if any.
type SymbolType string

const (
	SymbolNone      SymbolType = ""
	SymbolFunction  SymbolType = "function"
	SymbolTypeDecl  SymbolType = "type"
	SymbolMethod    SymbolType = "method"
	SymbolInterface SymbolType = "interface"
	SymbolConst     SymbolType = "const"
	SymbolVar       SymbolType = "var"
)

// SourceLocation pinpoints a CodeChunk within its file.
type SourceLocation struct {
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	StartCol  *int   `json:"start_col,omitempty"`
	EndCol    *int   `json:"end_col,omitempty"`
}

// CodeChunk is one indexed unit of source (spec §3 SUPPLEMENTED, grounded
// on original_source/src/indexer/memory.rs's CodeChunk).
type CodeChunk struct {
	ID          uuid.UUID      `json:"id"`
	Content     string         `json:"content"`
	Source      SourceLocation `json:"source"`
	SymbolName  *string        `json:"symbol_name,omitempty"`
	SymbolKind  SymbolType     `json:"symbol_type"`
	References  []uuid.UUID    `json:"references"`
	CreatedAt   time.Time      `json:"created_at"`
	ContentHash string         `json:"content_hash"`
}

// EstimatedTokens is the same rough len/4 estimator used throughout.
func (c CodeChunk) EstimatedTokens() int { return len(c.Content) / 4 }

// NewCodeChunk builds a CodeChunk with a freshly computed content hash.
func NewCodeChunk(content string, source SourceLocation, symbolName *string, kind SymbolType) CodeChunk {
	return CodeChunk{
		ID:          uuid.New(),
		Content:     content,
		Source:      source,
		SymbolName:  symbolName,
		SymbolKind:  kind,
		CreatedAt:   now(),
		ContentHash: HashContent(content),
	}
}

var now = time.Now

// HashContent computes the FNV-1a 64-bit digest of s, rendered as 16
// lowercase hex digits. Go has no portable equivalent of Rust's
// DefaultHasher; hash/fnv is the direct stdlib substitute. ProjectHash
// (git.go) uses a SHA-256 prefix instead.
func HashContent(s string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)
}

// FileMemory tracks one indexed file's retention-relevant state (spec §3).
type FileMemory struct {
	Path            string      `json:"path"`
	LastAccessed    time.Time   `json:"last_accessed"`
	AccessCount     int         `json:"access_count"`
	RetentionScore  float64     `json:"retention_score"`
	Dependencies    []string    `json:"dependencies"`
	Dependents      []string    `json:"dependents"`
	CentralityScore float64     `json:"centrality_score"`
	CommitCount     int         `json:"commit_count"`
	LastModified    time.Time   `json:"last_modified"`
	ChurnRate       float64     `json:"churn_rate"`
	Language        string      `json:"language"`
	LineCount       int         `json:"line_count"`
	ByteSize        int64       `json:"byte_size"`
	ChunkIDs        []uuid.UUID `json:"chunk_ids"`
}

// ChunkMemory tracks one chunk's access/session state (spec §3). Session
// fields reset when a session ends; global fields persist with the index.
type ChunkMemory struct {
	ChunkID            uuid.UUID   `json:"chunk_id"`
	References         []uuid.UUID `json:"references"`
	ReferencedBy       []uuid.UUID `json:"referenced_by"`
	GlobalAccessCount  int         `json:"global_access_count"`
	GlobalLastAccessed time.Time   `json:"global_last_accessed"`
	CentralityScore    float64     `json:"centrality_score"`
	ChurnRate          float64     `json:"churn_rate"`
	SessionAccessCount int         `json:"session_access_count"`
	SessionLastAccessed time.Time  `json:"session_last_accessed"`
	SessionBoost       float64     `json:"session_boost"`
}

// ResetSession clears the process-lifetime-only fields (spec §3 Lifetimes:
// "ChunkMemory.session_* lives for the process; the rest persists across
// runs").
func (c *ChunkMemory) ResetSession() {
	c.SessionAccessCount = 0
	c.SessionLastAccessed = time.Time{}
	c.SessionBoost = 0
}

// ScoringConfig holds the weights and constants used by Score (spec §4.10,
// realized as the [indexer.scoring] TOML table in SPEC_FULL.md §6).
type ScoringConfig struct {
	RecencyWeight           float64 `toml:"recency_weight"`
	FrequencyWeight         float64 `toml:"frequency_weight"`
	CentralityWeight        float64 `toml:"centrality_weight"`
	HalfLifeHours           float64 `toml:"half_life_hours"`
	MaxFrequency            int     `toml:"max_frequency"`
	SessionBoostMultiplier  float64 `toml:"session_boost_multiplier"`
	AssociativeBoost        float64 `toml:"associative_boost"`
}

// DefaultScoringConfig mirrors SPEC_FULL.md §6's [indexer.scoring] defaults.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		RecencyWeight:          0.4,
		FrequencyWeight:        0.3,
		CentralityWeight:       0.3,
		HalfLifeHours:          24.0,
		MaxFrequency:           100,
		SessionBoostMultiplier: 0.5,
		AssociativeBoost:       0.3,
	}
}

// PersistedIndex is the on-disk representation of one project's index
// (spec §3, §6).
type PersistedIndex struct {
	Version      int                         `json:"version"`
	UpdatedAt    time.Time                   `json:"updated_at"`
	ProjectRoot  string                      `json:"project_root"`
	GitCommit    *string                     `json:"git_commit"`
	Files        map[string]*FileMemory      `json:"files"`
	Chunks       map[uuid.UUID]CodeChunk     `json:"chunks"`
	ChunkMemory  map[uuid.UUID]*ChunkMemory  `json:"chunk_memory"`
	ScoringConfig ScoringConfig              `json:"scoring_config"`
}

// CurrentIndexVersion is bumped whenever the on-disk schema changes; a
// load with a mismatched version is discarded (spec §6).
const CurrentIndexVersion = 1

// NewPersistedIndex returns an empty index for projectRoot.
func NewPersistedIndex(projectRoot string) *PersistedIndex {
	return &PersistedIndex{
		Version:       CurrentIndexVersion,
		UpdatedAt:     now(),
		ProjectRoot:   projectRoot,
		Files:         make(map[string]*FileMemory),
		Chunks:        make(map[uuid.UUID]CodeChunk),
		ChunkMemory:   make(map[uuid.UUID]*ChunkMemory),
		ScoringConfig: DefaultScoringConfig(),
	}
}

// ApplyRecallBoosts folds a processed recall batch back into the index
// (spec §4.11: recall events feed the retention score as implicit
// accesses). A boosted path or chunk with no existing memory entry is
// skipped rather than fabricating one -- file memory is only created at
// scan time.
func (idx *PersistedIndex) ApplyRecallBoosts(pr ProcessedRecalls) {
	at := now()
	for path, boost := range pr.FileBoosts {
		fm, ok := idx.Files[path]
		if !ok || boost <= 0 {
			continue
		}
		fm.AccessCount++
		fm.LastAccessed = at
		fm.RetentionScore = Score(*fm, idx.ScoringConfig, at)
	}
	for chunkID, boost := range pr.ChunkBoosts {
		cm, ok := idx.ChunkMemory[chunkID]
		if !ok || boost <= 0 {
			continue
		}
		cm.SessionAccessCount++
		cm.SessionLastAccessed = at
		cm.SessionBoost += boost * idx.ScoringConfig.AssociativeBoost
	}
}
