package indexer

import (
	"math"
	"time"
)

// Score computes a FileMemory's retention score per spec §4.10, grounded
// on original_source/src/indexer/scorer.rs's weighted recency/frequency/
// centrality formula with a churn decay modifier.
func Score(fm FileMemory, cfg ScoringConfig, at time.Time) float64 {
	recency := RecencyScore(fm.LastAccessed, at, cfg.HalfLifeHours)
	frequency := FrequencyScore(fm.AccessCount, cfg.MaxFrequency)
	centrality := clamp01(fm.CentralityScore)

	weighted := cfg.RecencyWeight*recency + cfg.FrequencyWeight*frequency + cfg.CentralityWeight*centrality
	modifier := 1 + math.Min(fm.ChurnRate, 1.0)*0.2
	return weighted / modifier
}

// ChunkScore adds a chunk's session boost on top of its own weighted
// recency/frequency/centrality score (spec §4.10: "Chunk score adds
// session_boost × 0.5 on top, capped at 1.0").
func ChunkScore(cm ChunkMemory, cfg ScoringConfig, at time.Time) float64 {
	recency := RecencyScore(cm.GlobalLastAccessed, at, cfg.HalfLifeHours)
	frequency := FrequencyScore(cm.GlobalAccessCount, cfg.MaxFrequency)
	centrality := clamp01(cm.CentralityScore)

	weighted := cfg.RecencyWeight*recency + cfg.FrequencyWeight*frequency + cfg.CentralityWeight*centrality
	modifier := 1 + math.Min(cm.ChurnRate, 1.0)*0.2
	base := weighted / modifier

	boosted := base + cm.SessionBoost*cfg.SessionBoostMultiplier
	return math.Min(boosted, 1.0)
}

// RecencyScore implements spec §4.10's "0.5 ^ (hours_since_access /
// half_life_hours), half-life 24h; 1.0 if negative elapsed."
func RecencyScore(lastAccessed, at time.Time, halfLifeHours float64) float64 {
	elapsed := at.Sub(lastAccessed).Hours()
	if elapsed < 0 {
		return 1.0
	}
	if halfLifeHours <= 0 {
		halfLifeHours = 24.0
	}
	return math.Pow(0.5, elapsed/halfLifeHours)
}

// FrequencyScore implements spec §4.10's "log(1+count) / log(1+max_frequency),
// capped at 1.0, 0.0 if count = 0."
func FrequencyScore(count, maxFrequency int) float64 {
	if count <= 0 {
		return 0.0
	}
	if maxFrequency <= 0 {
		maxFrequency = 100
	}
	score := math.Log(1+float64(count)) / math.Log(1+float64(maxFrequency))
	return math.Min(score, 1.0)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ApplyAssociativeBoost bumps a chunk's session_boost by cfg's
// associative_boost, capped at 1.0 (spec §4.8: "applies an associative
// boost ... to every referenced chunk's session_boost").
func ApplyAssociativeBoost(cm *ChunkMemory, cfg ScoringConfig) {
	cm.SessionBoost = math.Min(cm.SessionBoost+cfg.AssociativeBoost, 1.0)
}

// ValidWeights reports whether the three scoring weights sum to 1.0 within
// spec §4.10's ±0.001 tolerance.
func ValidWeights(cfg ScoringConfig) bool {
	sum := cfg.RecencyWeight + cfg.FrequencyWeight + cfg.CentralityWeight
	return math.Abs(sum-1.0) <= 0.001
}
