package fuse

import (
	"errors"
	"math"
	"testing"

	"github.com/searchforge/rankfuse/rbc"
)

func paperSources(weights []float64) []SourceResult {
	lists := [][]string{
		{"A", "D", "B", "C", "G", "F"},
		{"B", "D", "E", "C"},
		{"A", "B", "D", "C", "G", "F", "E"},
		{"G", "D", "E", "A", "F", "C"},
	}
	names := []string{"r1", "r2", "r3", "r4"}

	results := make([]SourceResult, 0, len(lists))
	for i, list := range lists {
		items := make([]Item, 0, len(list))
		for _, id := range list {
			items = append(items, Item{ID: id})
		}
		src := SourceResult{Source: names[i], Items: items}
		if weights != nil {
			src.Weight = weights[i]
		}
		results = append(results, src)
	}
	return results
}

func TestCombinePaperExample(t *testing.T) {
	fused, err := Combine(paperSources(nil), CombineConfig{Persistence: 0.9})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantOrder := []string{"D", "C", "A", "B", "G", "E", "F"}
	wantScores := []float64{0.35, 0.28, 0.27, 0.27, 0.23, 0.22, 0.18}

	if len(fused) != len(wantOrder) {
		t.Fatalf("expected %d items, got %d", len(wantOrder), len(fused))
	}
	for i, item := range fused {
		if item.ID != wantOrder[i] {
			t.Fatalf("position %d: expected %q, got %q", i, wantOrder[i], item.ID)
		}
		if diff := math.Abs(item.Score - wantScores[i]); diff > 0.005 {
			t.Fatalf("position %d (%q): expected score %.4f, got %.4f", i, item.ID, wantScores[i], item.Score)
		}
	}
}

func TestCombineSourceWeights(t *testing.T) {
	fused, err := Combine(paperSources([]float64{0.3, 1.3, 0.4, 1.4}), CombineConfig{Persistence: 0.9})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantOrder := []string{"D", "E", "C", "B", "G", "A", "F"}
	if len(fused) != len(wantOrder) {
		t.Fatalf("expected %d items, got %d", len(wantOrder), len(fused))
	}
	for i, item := range fused {
		if item.ID != wantOrder[i] {
			t.Fatalf("position %d: expected %q, got %q", i, wantOrder[i], item.ID)
		}
	}
}

func TestCombineUnitWeightDefault(t *testing.T) {
	implicit, err := Combine(paperSources(nil), CombineConfig{Persistence: 0.9})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	explicit, err := Combine(paperSources([]float64{1.0, 1.0, 1.0, 1.0}), CombineConfig{Persistence: 0.9})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(implicit) != len(explicit) {
		t.Fatalf("length mismatch: %d vs %d", len(implicit), len(explicit))
	}
	for i := range implicit {
		if implicit[i].ID != explicit[i].ID || implicit[i].Score != explicit[i].Score {
			t.Fatalf("position %d: %q/%v vs %q/%v", i, implicit[i].ID, implicit[i].Score, explicit[i].ID, explicit[i].Score)
		}
	}
}

func TestCombineMetadataJoin(t *testing.T) {
	results := []SourceResult{
		{
			Source: "alpha",
			Items: []Item{
				{ID: "x", Score: 0.8},
				{ID: "y", Score: 0.6, Payload: "from-alpha"},
			},
		},
		{
			Source: "beta",
			Items: []Item{
				{ID: "y", Score: 0.9, Payload: "from-beta"},
				{ID: "z", Score: 0.5},
			},
		},
	}

	fused, err := Combine(results, CombineConfig{Persistence: 0.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// x=0.5, y=0.25+0.5=0.75, z=0.25.
	wantOrder := []string{"y", "x", "z"}
	if len(fused) != len(wantOrder) {
		t.Fatalf("expected %d items, got %d", len(wantOrder), len(fused))
	}
	for i, item := range fused {
		if item.ID != wantOrder[i] {
			t.Fatalf("position %d: expected %q, got %q", i, wantOrder[i], item.ID)
		}
	}

	y := fused[0]
	if y.PrimarySource != "alpha" {
		t.Fatalf("expected primary source alpha, got %q", y.PrimarySource)
	}
	if y.FirstRank != 2 {
		t.Fatalf("expected first rank 2, got %d", y.FirstRank)
	}
	if y.Payload != "from-alpha" {
		t.Fatalf("expected first-seen payload, got %v", y.Payload)
	}
	if len(y.Contributions) != 2 {
		t.Fatalf("expected 2 contributions, got %d", len(y.Contributions))
	}
	if y.OriginalScores["alpha"] != 0.6 || y.OriginalScores["beta"] != 0.9 {
		t.Fatalf("unexpected original scores: %v", y.OriginalScores)
	}

	var sum float64
	for _, c := range y.Contributions {
		sum += c.Weight
	}
	if sum != y.Score {
		t.Fatalf("contributions sum %v does not match score %v", sum, y.Score)
	}
}

func TestCombineBackfillsPayload(t *testing.T) {
	results := []SourceResult{
		{Source: "alpha", Items: []Item{{ID: "x"}}},
		{Source: "beta", Items: []Item{{ID: "x", Payload: "late"}}},
	}

	fused, err := Combine(results, CombineConfig{Persistence: 0.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fused) != 1 {
		t.Fatalf("expected 1 item, got %d", len(fused))
	}
	if fused[0].Payload != "late" {
		t.Fatalf("expected backfilled payload, got %v", fused[0].Payload)
	}
	if fused[0].PrimarySource != "alpha" {
		t.Fatalf("expected primary source alpha, got %q", fused[0].PrimarySource)
	}
}

func TestCombineScoreFloor(t *testing.T) {
	results := []SourceResult{
		{Source: "alpha", Items: []Item{{ID: "a"}, {ID: "b"}, {ID: "c"}}},
	}

	fused, err := Combine(results, CombineConfig{Persistence: 0.5, ScoreFloor: 0.2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Scores 0.5, 0.25, 0.125; the floor drops c.
	if len(fused) != 2 {
		t.Fatalf("expected 2 items above floor, got %d", len(fused))
	}
	if fused[0].ID != "a" || fused[1].ID != "b" {
		t.Fatalf("unexpected items: %q, %q", fused[0].ID, fused[1].ID)
	}
}

func TestCombineTopKLimits(t *testing.T) {
	items := make([]Item, 30)
	for i := range items {
		items[i] = Item{ID: string(rune('a' + i))}
	}
	results := []SourceResult{{Source: "alpha", Items: items}}

	fused, err := Combine(results, CombineConfig{Persistence: 0.9, TopKInit: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fused) != 5 {
		t.Fatalf("expected 5 items, got %d", len(fused))
	}

	// TopKInit above TopKMax clamps down.
	fused, err = Combine(results, CombineConfig{Persistence: 0.9, TopKInit: 50, TopKMax: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fused) != 10 {
		t.Fatalf("expected 10 items, got %d", len(fused))
	}
}

func TestCombineInvalidPersistence(t *testing.T) {
	if _, err := Combine(paperSources(nil), CombineConfig{Persistence: 1.5}); !errors.Is(err, rbc.ErrInvalidPersistence) {
		t.Fatalf("expected ErrInvalidPersistence, got %v", err)
	}
}

func TestCombineNoSources(t *testing.T) {
	fused, err := Combine(nil, CombineConfig{Persistence: 0.9})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fused == nil || len(fused) != 0 {
		t.Fatalf("expected empty non-nil result, got %#v", fused)
	}
}
