package indexer

import (
	"math"
	"testing"

	"github.com/google/uuid"
)

func TestVectorIndexInsertGetContains(t *testing.T) {
	idx := NewVectorIndex(3)
	id := uuid.New()

	if idx.Contains(id) {
		t.Fatal("expected empty index to not contain id")
	}

	idx.Insert(id, []float32{1, 2, 3})
	got, ok := idx.Get(id)
	if !ok || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("unexpected stored vector: %v, ok=%v", got, ok)
	}
	if !idx.Contains(id) {
		t.Fatal("expected index to contain inserted id")
	}
	if idx.Len() != 1 {
		t.Fatalf("expected len 1, got %d", idx.Len())
	}
}

func TestVectorIndexInsertReplacesAndReturnsPrevious(t *testing.T) {
	idx := NewVectorIndex(2)
	id := uuid.New()

	idx.Insert(id, []float32{1, 1})
	prev := idx.Insert(id, []float32{2, 2})

	if prev == nil || prev[0] != 1 {
		t.Fatalf("expected previous vector [1 1], got %v", prev)
	}
	if idx.Len() != 1 {
		t.Fatalf("expected replace to not grow len, got %d", idx.Len())
	}
}

func TestVectorIndexRemove(t *testing.T) {
	idx := NewVectorIndex(2)
	id := uuid.New()
	idx.Insert(id, []float32{1, 1})

	removed := idx.Remove(id)
	if removed == nil {
		t.Fatal("expected Remove to return the stored vector")
	}
	if idx.Contains(id) {
		t.Fatal("expected id to be gone after Remove")
	}
	if idx.Remove(id) != nil {
		t.Fatal("expected second Remove to return nil")
	}
}

func TestCosineSimilarityIdentical(t *testing.T) {
	got := cosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3})
	if math.Abs(float64(got)-1.0) > 1e-6 {
		t.Fatalf("expected identical vectors to have similarity 1.0, got %v", got)
	}
}

func TestCosineSimilarityOrthogonal(t *testing.T) {
	got := cosineSimilarity([]float32{1, 0}, []float32{0, 1})
	if math.Abs(float64(got)) > 1e-6 {
		t.Fatalf("expected orthogonal vectors to have similarity 0.0, got %v", got)
	}
}

func TestCosineSimilarityOpposite(t *testing.T) {
	got := cosineSimilarity([]float32{1, 0}, []float32{-1, 0})
	if math.Abs(float64(got)+1.0) > 1e-6 {
		t.Fatalf("expected opposite vectors to have similarity -1.0, got %v", got)
	}
}

func TestCosineSimilarityDifferentLengths(t *testing.T) {
	if got := cosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}); got != 0.0 {
		t.Fatalf("expected mismatched lengths to yield 0.0, got %v", got)
	}
}

func TestCosineSimilarityZeroVector(t *testing.T) {
	if got := cosineSimilarity([]float32{0, 0}, []float32{1, 1}); got != 0.0 {
		t.Fatalf("expected zero-norm vector to yield 0.0, got %v", got)
	}
}

func TestVectorIndexSearchOrdersByDescendingSimilarity(t *testing.T) {
	idx := NewVectorIndex(2)
	near := uuid.New()
	far := uuid.New()
	opposite := uuid.New()

	idx.Insert(near, []float32{1, 0.1})
	idx.Insert(far, []float32{0, 1})
	idx.Insert(opposite, []float32{-1, 0})

	results := idx.Search([]float32{1, 0}, 3)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].ID != near {
		t.Fatalf("expected nearest vector first, got %v", results[0].ID)
	}
	if results[2].ID != opposite {
		t.Fatalf("expected most dissimilar vector last, got %v", results[2].ID)
	}
}

func TestVectorIndexSearchWrongDimensionReturnsEmpty(t *testing.T) {
	idx := NewVectorIndex(3)
	idx.Insert(uuid.New(), []float32{1, 2, 3})

	if got := idx.Search([]float32{1, 2}, 5); got != nil {
		t.Fatalf("expected nil results for dimension mismatch, got %v", got)
	}
}

func TestVectorIndexSearchEmptyIndex(t *testing.T) {
	idx := NewVectorIndex(3)
	if got := idx.Search([]float32{1, 2, 3}, 5); len(got) != 0 {
		t.Fatalf("expected no results from empty index, got %v", got)
	}
}

func TestVectorIndexSearchWithThreshold(t *testing.T) {
	idx := NewVectorIndex(2)
	near := uuid.New()
	opposite := uuid.New()
	idx.Insert(near, []float32{1, 0})
	idx.Insert(opposite, []float32{-1, 0})

	results := idx.SearchWithThreshold([]float32{1, 0}, 5, 0.5)
	if len(results) != 1 || results[0].ID != near {
		t.Fatalf("expected only the near vector to survive threshold, got %v", results)
	}
}

func TestVectorIndexClear(t *testing.T) {
	idx := NewVectorIndex(2)
	idx.Insert(uuid.New(), []float32{1, 1})
	idx.Clear()
	if idx.Len() != 0 {
		t.Fatalf("expected empty index after Clear, got len %d", idx.Len())
	}
}

func TestVectorIndexInsertBatch(t *testing.T) {
	idx := NewVectorIndex(2)
	a, b := uuid.New(), uuid.New()
	idx.InsertBatch(map[uuid.UUID][]float32{a: {1, 0}, b: {0, 1}})

	if idx.Len() != 2 {
		t.Fatalf("expected 2 vectors after batch insert, got %d", idx.Len())
	}
}

func TestReciprocalRankFusionCombinesAndRanks(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	semantic := []ScoredID{{ID: a, Score: 0.9}, {ID: b, Score: 0.8}}
	keyword := []ScoredID{{ID: b, Score: 0.95}, {ID: c, Score: 0.7}}

	results := ReciprocalRankFusion(semantic, keyword, 60.0)
	if len(results) != 3 {
		t.Fatalf("expected 3 fused results, got %d", len(results))
	}

	// b appears in both lists (rank 1 and rank 0), so it should score
	// highest.
	if results[0].ID != b {
		t.Fatalf("expected b (present in both lists) to rank first, got %v", results[0].ID)
	}
}

func TestHybridKConstantMatchesFormula(t *testing.T) {
	got := HybridKConstant(1.0)
	if math.Abs(float64(got)-1.0) > 1e-6 {
		t.Fatalf("expected k_constant 1.0 at semantic_weight=1.0, got %v", got)
	}
	got = HybridKConstant(0.0)
	if math.Abs(float64(got)-61.0) > 1e-6 {
		t.Fatalf("expected k_constant 61.0 at semantic_weight=0.0, got %v", got)
	}
}
