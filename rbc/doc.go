// Package rbc implements Rank-Biased Centroids, a rank fusion method
// that merges multiple rankings of the same universe of items into one
// consensus ranking using only positional information.
//
// Every item receives a geometrically decaying weight for each of its
// appearances: an item at zero-based rank x contributes (1-p) * p^x,
// where the persistence parameter p in [0, 1) sets how deep into each
// ranking influence reaches. At p = 0 only first places count, while p
// approaching 1 degrades into a popularity count across lists; the
// expected evaluation depth is 1/(1-p). Weights are summed per item
// across all input rankings and the fused output is ordered by the
// descending totals.
//
// The method follows Bailey, Moffat, Scholer and Thomas, "Retrieval
// Consistency in the Presence of Query Variations" (SIGIR 2017).
//
// A fusion call is a single bounded computation with no shared state;
// concurrent callers need no coordination.
package rbc
