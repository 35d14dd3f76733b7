package rbc

// schedulePrefix is how many rank weights are computed up front. Deeper
// ranks extend the series on demand.
const schedulePrefix = 64

// weightSchedule caches the geometric weight series for one fusion
// pass. weights[0] is 1-p and every later entry is the previous one
// multiplied by p. Extension always continues the recurrence from the
// last cached value instead of recomputing powers, so extended values
// match the prefix values exactly.
type weightSchedule struct {
	persistence float64
	weights     []float64
}

func newWeightSchedule(persistence float64) *weightSchedule {
	weights := make([]float64, schedulePrefix)
	w := 1.0 - persistence
	for i := range weights {
		weights[i] = w
		w *= persistence
	}
	return &weightSchedule{
		persistence: persistence,
		weights:     weights,
	}
}

// weight returns the weight for a zero-based rank, growing the cached
// series as needed. The series only ever grows.
func (s *weightSchedule) weight(rank int) float64 {
	for len(s.weights) <= rank {
		last := s.weights[len(s.weights)-1]
		s.weights = append(s.weights, last*s.persistence)
	}
	return s.weights[rank]
}
