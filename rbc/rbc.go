package rbc

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidPersistence reports a persistence parameter outside [0.0, 1.0).
	ErrInvalidPersistence = errors.New("persistence must satisfy 0.0 <= p < 1.0")
	// ErrInvalidRunWeights reports run weights that do not pair one-to-one
	// with the input rankings, or that are not finite.
	ErrInvalidRunWeights = errors.New("invalid run weights")
)

// Fuse merges the rankings into one consensus ranking and returns the
// fused item order without scores. Each input ranking lists items
// most-preferred first. The ordering is identical to the one produced
// by FuseWithScores on the same input.
func Fuse[I comparable](rankings [][]I, persistence float64) ([]I, error) {
	entries, err := FuseWithScores(rankings, persistence)
	if err != nil {
		return nil, err
	}
	items := make([]I, 0, len(entries))
	for _, entry := range entries {
		items = append(items, entry.Item)
	}
	return items, nil
}

// FuseWithScores merges the rankings into one consensus ranking,
// returning items paired with their accumulated weights in descending
// score order. An empty rankings collection yields an empty result.
func FuseWithScores[I comparable](rankings [][]I, persistence float64) ([]Entry[I], error) {
	if err := validatePersistence(persistence); err != nil {
		return nil, err
	}
	return fold(rankings, nil, persistence), nil
}

// FuseWithWeights behaves like FuseWithScores with every contribution
// from rankings[i] scaled by weights[i]. Exactly one finite weight is
// required per ranking.
func FuseWithWeights[I comparable](rankings [][]I, weights []float64, persistence float64) ([]Entry[I], error) {
	if err := validatePersistence(persistence); err != nil {
		return nil, err
	}
	if err := validateRunWeights(weights, len(rankings)); err != nil {
		return nil, err
	}
	return fold(rankings, weights, persistence), nil
}

// fold is the shared accumulation pass. It is total over validated
// input: persistence is known to be in range and weights, when present,
// are known to pair up and be finite. A nil weights slice means every
// ranking carries weight 1.0.
func fold[I comparable](rankings [][]I, weights []float64, persistence float64) []Entry[I] {
	schedule := newWeightSchedule(persistence)
	acc := newAccumulator[I](schedule)

	for i, ranking := range rankings {
		runWeight := 1.0
		if weights != nil {
			runWeight = weights[i]
		}
		for rank, item := range ranking {
			acc.update(rank, item, runWeight)
		}
	}
	return acc.finalize()
}

func validatePersistence(p float64) error {
	// NaN fails the comparison and is rejected along with out-of-range values.
	if p >= 0.0 && p < 1.0 {
		return nil
	}
	return fmt.Errorf("%w: got %v", ErrInvalidPersistence, p)
}

func validateRunWeights(weights []float64, rankings int) error {
	if len(weights) != rankings {
		return fmt.Errorf("%w: %d weights for %d rankings", ErrInvalidRunWeights, len(weights), rankings)
	}
	for i, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("%w: weight at index %d is not finite", ErrInvalidRunWeights, i)
		}
	}
	return nil
}
