package rbc

import "sort"

// Entry pairs an item with its accumulated fusion score.
type Entry[I comparable] struct {
	Item  I       `json:"item"`
	Score float64 `json:"score"`
}

// accumulator folds per-rank observations into per-item totals. Entries
// remember first-encounter order so the final sort can break score ties
// deterministically.
type accumulator[I comparable] struct {
	schedule *weightSchedule
	index    map[I]int
	entries  []Entry[I]
}

func newAccumulator[I comparable](schedule *weightSchedule) *accumulator[I] {
	return &accumulator[I]{
		schedule: schedule,
		index:    make(map[I]int),
		entries:  make([]Entry[I], 0),
	}
}

// update adds weight(rank) * runWeight to the item's running total,
// creating the entry on first encounter. Repeat observations of an item
// accumulate additively; there is no deduplication.
func (a *accumulator[I]) update(rank int, item I, runWeight float64) {
	contribution := a.schedule.weight(rank) * runWeight
	if i, ok := a.index[item]; ok {
		a.entries[i].Score += contribution
		return
	}
	a.index[item] = len(a.entries)
	a.entries = append(a.entries, Entry[I]{Item: item, Score: contribution})
}

// finalize consumes the accumulator and returns entries ordered by
// descending score. Equal scores keep first-encounter order; that order
// is deterministic but otherwise unspecified.
func (a *accumulator[I]) finalize() []Entry[I] {
	entries := a.entries
	a.entries = nil
	a.index = nil

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	return entries
}
