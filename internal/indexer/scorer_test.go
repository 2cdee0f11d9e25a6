package indexer

import (
	"math"
	"testing"
	"time"
)

func TestRecencyScoreHalfLife(t *testing.T) {
	at := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	last := at.Add(-24 * time.Hour)
	got := RecencyScore(last, at, 24.0)
	if math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("expected exactly one half-life to yield 0.5, got %v", got)
	}
}

func TestRecencyScoreNegativeElapsedIsOne(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	future := at.Add(1 * time.Hour)
	if got := RecencyScore(future, at, 24.0); got != 1.0 {
		t.Fatalf("expected 1.0 for negative elapsed, got %v", got)
	}
}

func TestFrequencyScoreZeroCountIsZero(t *testing.T) {
	if got := FrequencyScore(0, 100); got != 0.0 {
		t.Fatalf("expected 0.0 for zero count, got %v", got)
	}
}

func TestFrequencyScoreCapsAtOne(t *testing.T) {
	if got := FrequencyScore(100, 100); math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("expected count==max_frequency to reach 1.0, got %v", got)
	}
	if got := FrequencyScore(1000, 100); got > 1.0 {
		t.Fatalf("expected frequency score capped at 1.0, got %v", got)
	}
}

func TestScoreAppliesChurnDecayModifier(t *testing.T) {
	cfg := DefaultScoringConfig()
	at := time.Now()

	noChurn := FileMemory{LastAccessed: at, AccessCount: 10, CentralityScore: 0.5, ChurnRate: 0}
	withChurn := noChurn
	withChurn.ChurnRate = 1.0

	if Score(withChurn, cfg, at) >= Score(noChurn, cfg, at) {
		t.Fatal("expected churn to reduce the retention score")
	}
}

func TestChunkScoreAddsSessionBoostCappedAtOne(t *testing.T) {
	cfg := DefaultScoringConfig()
	at := time.Now()

	cm := ChunkMemory{GlobalLastAccessed: at, GlobalAccessCount: 1000, CentralityScore: 1.0, SessionBoost: 10.0}
	got := ChunkScore(cm, cfg, at)
	if got > 1.0 {
		t.Fatalf("expected chunk score capped at 1.0, got %v", got)
	}
}

func TestApplyAssociativeBoostCapsAtOne(t *testing.T) {
	cfg := DefaultScoringConfig()
	cm := &ChunkMemory{SessionBoost: 0.9}
	ApplyAssociativeBoost(cm, cfg)
	if cm.SessionBoost > 1.0 {
		t.Fatalf("expected session boost capped at 1.0, got %v", cm.SessionBoost)
	}
}

func TestValidWeightsTolerance(t *testing.T) {
	if !ValidWeights(DefaultScoringConfig()) {
		t.Fatal("expected default weights (0.4+0.3+0.3) to be valid")
	}
	bad := ScoringConfig{RecencyWeight: 0.5, FrequencyWeight: 0.5, CentralityWeight: 0.5}
	if ValidWeights(bad) {
		t.Fatal("expected weights summing to 1.5 to be invalid")
	}
}
