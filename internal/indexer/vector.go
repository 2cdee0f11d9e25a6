package indexer

import (
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// VectorIndex is a brute-force, in-memory embedding store suitable for
// small-to-medium codebases (spec §4.13). Grounded on
// original_source/src/indexer/vector.rs's VectorIndex.
type VectorIndex struct {
	mu        sync.RWMutex
	vectors   map[uuid.UUID][]float32
	dimension int
}

// NewVectorIndex returns an empty index expecting vectors of dimension.
func NewVectorIndex(dimension int) *VectorIndex {
	return &VectorIndex{vectors: make(map[uuid.UUID][]float32), dimension: dimension}
}

// Dimension returns the expected embedding dimension.
func (v *VectorIndex) Dimension() int { return v.dimension }

// Len returns the number of stored vectors.
func (v *VectorIndex) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.vectors)
}

// IsEmpty reports whether the index holds no vectors.
func (v *VectorIndex) IsEmpty() bool { return v.Len() == 0 }

// Insert stores vector under id, returning the previous vector if one
// existed. Mismatched dimensions are stored as-is; callers are expected to
// pass vectors of Dimension().
func (v *VectorIndex) Insert(id uuid.UUID, vector []float32) []float32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	prev := v.vectors[id]
	v.vectors[id] = vector
	return prev
}

// InsertBatch stores multiple (id, vector) pairs.
func (v *VectorIndex) InsertBatch(pairs map[uuid.UUID][]float32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for id, vec := range pairs {
		v.vectors[id] = vec
	}
}

// Remove deletes id from the index, returning its vector if present.
func (v *VectorIndex) Remove(id uuid.UUID) []float32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	prev, ok := v.vectors[id]
	if !ok {
		return nil
	}
	delete(v.vectors, id)
	return prev
}

// Get returns the vector stored for id, if any.
func (v *VectorIndex) Get(id uuid.UUID) ([]float32, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	vec, ok := v.vectors[id]
	return vec, ok
}

// Contains reports whether id is present.
func (v *VectorIndex) Contains(id uuid.UUID) bool {
	_, ok := v.Get(id)
	return ok
}

// Clear removes every vector.
func (v *VectorIndex) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.vectors = make(map[uuid.UUID][]float32)
}

// IDs returns every ID currently stored, in no particular order.
func (v *VectorIndex) IDs() []uuid.UUID {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(v.vectors))
	for id := range v.vectors {
		ids = append(ids, id)
	}
	return ids
}

// ScoredID pairs a chunk ID with a similarity score.
type ScoredID struct {
	ID    uuid.UUID
	Score float32
}

// Search returns the k nearest neighbors to query by cosine similarity,
// sorted by descending score. A dimension mismatch returns no results
// (spec §4.13).
func (v *VectorIndex) Search(query []float32, k int) []ScoredID {
	if len(query) != v.dimension {
		return nil
	}

	v.mu.RLock()
	scores := make([]ScoredID, 0, len(v.vectors))
	for id, vec := range v.vectors {
		scores = append(scores, ScoredID{ID: id, Score: cosineSimilarity(query, vec)})
	}
	v.mu.RUnlock()

	sort.Slice(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })

	if k >= 0 && k < len(scores) {
		scores = scores[:k]
	}
	return scores
}

// SearchWithThreshold filters Search's results to those with score >=
// threshold.
func (v *VectorIndex) SearchWithThreshold(query []float32, k int, threshold float32) []ScoredID {
	results := v.Search(query, k)
	filtered := results[:0]
	for _, r := range results {
		if r.Score >= threshold {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// cosineSimilarity returns the cosine similarity between a and b, in
// [-1, 1]. Mismatched lengths or zero-norm vectors return 0.0 (spec
// §4.13).
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0.0
	}

	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	normA = float32(math.Sqrt(float64(normA)))
	normB = float32(math.Sqrt(float64(normB)))
	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dot / (normA * normB)
}

// HybridResult is one fused hit from HybridSearch.
type HybridResult struct {
	ID            uuid.UUID
	Score         float32
	SemanticScore float32
	KeywordScore  float32
}

// ReciprocalRankFusion combines two ranked result lists via RRF (spec
// §4.13: score(id) = sum(1 / (k_constant + rank))), grounded on
// original_source/src/indexer/vector.rs's reciprocal_rank_fusion.
func ReciprocalRankFusion(semanticResults, keywordResults []ScoredID, kConstant float32) []HybridResult {
	type accum struct {
		score, semantic, keyword float32
	}
	scores := make(map[uuid.UUID]*accum)

	for rank, r := range semanticResults {
		rrf := 1.0 / (kConstant + float32(rank))
		a, ok := scores[r.ID]
		if !ok {
			a = &accum{}
			scores[r.ID] = a
		}
		a.score += rrf
		a.semantic = r.Score
	}

	for rank, r := range keywordResults {
		rrf := 1.0 / (kConstant + float32(rank))
		a, ok := scores[r.ID]
		if !ok {
			a = &accum{}
			scores[r.ID] = a
		}
		a.score += rrf
		a.keyword = r.Score
	}

	results := make([]HybridResult, 0, len(scores))
	for id, a := range scores {
		results = append(results, HybridResult{ID: id, Score: a.score, SemanticScore: a.semantic, KeywordScore: a.keyword})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results
}

// HybridKConstant implements spec §4.13's "k_constant = 60 * (1 -
// semantic_weight) + 1", where semanticWeight in [0, 1] biases the fusion
// toward semantic (1.0) or keyword (0.0) results.
func HybridKConstant(semanticWeight float64) float32 {
	return float32(60*(1-semanticWeight) + 1)
}

// HybridSearch runs both a semantic vector search and a caller-supplied
// keyword search, then fuses them via RRF weighted by semanticWeight.
func (v *VectorIndex) HybridSearch(query []float32, k int, keywordResults []ScoredID, semanticWeight float64) []HybridResult {
	semanticResults := v.Search(query, k)
	kConstant := HybridKConstant(semanticWeight)
	fused := ReciprocalRankFusion(semanticResults, keywordResults, kConstant)
	if k >= 0 && k < len(fused) {
		fused = fused[:k]
	}
	return fused
}
