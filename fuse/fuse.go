// Package fuse merges named per-source result lists into a single
// deduplicated ranking, using rank-biased centroids as the scoring
// kernel.
package fuse

import (
	"github.com/searchforge/rankfuse/rbc"
)

// Item represents a ranked item returned by an upstream source.
type Item struct {
	ID      string
	Score   float64
	Payload any
}

// SourceResult represents the ordered results from a single source.
// Weight scales every contribution from the source; zero means 1.0.
type SourceResult struct {
	Source string
	Weight float64
	Items  []Item
}

// Contribution captures one (source, rank) observation folded into a
// fused score. Rank is the 1-based position within the source list;
// Weight is the exact amount added to the fused score.
type Contribution struct {
	Source   string
	Rank     int
	RawScore float64
	Weight   float64
}

// FusedItem represents a deduplicated result merged across sources.
type FusedItem struct {
	ID             string
	Score          float64
	Payload        any
	PrimarySource  string
	FirstRank      int
	Contributions  []Contribution
	OriginalScores map[string]float64
}

// CombineConfig controls how fused results are selected. Persistence is
// handed to the engine as-is (0.0 is the valid first-place-only mode);
// DefaultCombineConfig supplies the usual 0.9.
type CombineConfig struct {
	Persistence float64
	TopKInit    int
	TopKMax     int
	ScoreFloor  float64
}

// DefaultCombineConfig returns conservative defaults.
func DefaultCombineConfig() CombineConfig {
	return CombineConfig{
		Persistence: 0.9,
		TopKInit:    20,
		TopKMax:     64,
	}
}

// Combine merges source results with rank-biased centroids and
// deduplication by item ID. Per-source weights scale contributions the
// way the engine's run weights do; ordering and scores come from the
// engine, while payloads and per-source metadata are joined on first
// encounter.
func Combine(results []SourceResult, cfg CombineConfig) ([]FusedItem, error) {
	if cfg.TopKInit <= 0 {
		cfg.TopKInit = DefaultCombineConfig().TopKInit
	}
	if cfg.TopKMax <= 0 {
		cfg.TopKMax = DefaultCombineConfig().TopKMax
	}
	if cfg.TopKInit > cfg.TopKMax {
		cfg.TopKInit = cfg.TopKMax
	}

	rankings := make([][]string, 0, len(results))
	weights := make([]float64, 0, len(results))
	for _, src := range results {
		ids := make([]string, 0, len(src.Items))
		for _, it := range src.Items {
			ids = append(ids, it.ID)
		}
		rankings = append(rankings, ids)

		w := src.Weight
		if w == 0 {
			w = 1.0
		}
		weights = append(weights, w)
	}

	entries, err := rbc.FuseWithWeights(rankings, weights, cfg.Persistence)
	if err != nil {
		return nil, err
	}

	meta := collectMeta(results, cfg.Persistence)

	fused := make([]FusedItem, 0, len(entries))
	for _, entry := range entries {
		item := meta[entry.Item]
		item.Score = entry.Score
		if cfg.ScoreFloor > 0 && item.Score < cfg.ScoreFloor {
			continue
		}
		fused = append(fused, *item)
	}

	limit := cfg.TopKInit
	if limit > len(fused) {
		limit = len(fused)
	}
	return fused[:limit], nil
}

// collectMeta walks the source lists once, joining payloads and
// per-source bookkeeping per item ID. Contribution weights repeat the
// engine's multiplicative recurrence so they match the fused scores
// exactly.
func collectMeta(results []SourceResult, persistence float64) map[string]*FusedItem {
	meta := make(map[string]*FusedItem)

	for _, src := range results {
		srcWeight := src.Weight
		if srcWeight == 0 {
			srcWeight = 1.0
		}

		w := 1.0 - persistence
		for idx, it := range src.Items {
			rank := idx + 1

			item, exists := meta[it.ID]
			if !exists {
				item = &FusedItem{
					ID:            it.ID,
					Payload:       it.Payload,
					PrimarySource: src.Source,
					FirstRank:     rank,
					OriginalScores: map[string]float64{
						src.Source: it.Score,
					},
				}
				meta[it.ID] = item
			} else {
				if item.Payload == nil && it.Payload != nil {
					item.Payload = it.Payload
				}
				if _, ok := item.OriginalScores[src.Source]; !ok {
					item.OriginalScores[src.Source] = it.Score
				}
			}

			item.Contributions = append(item.Contributions, Contribution{
				Source:   src.Source,
				Rank:     rank,
				RawScore: it.Score,
				Weight:   w * srcWeight,
			})

			w *= persistence
		}
	}
	return meta
}
