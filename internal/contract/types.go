package contract

import (
	"context"
	"fmt"
)

const TraceIDHeader = "X-Trace-Id"

// FuseRequest carries caller-supplied rankings for direct fusion.
// Rankings are ordered most-preferred first; Weights, when present,
// pair with Rankings by index. A nil Persistence selects the server
// default. K truncates the fused output; zero means no truncation.
type FuseRequest struct {
	Rankings    [][]string `json:"rankings"`
	Weights     []float64  `json:"weights,omitempty"`
	Persistence *float64   `json:"persistence,omitempty"`
	K           int        `json:"k,omitempty"`
	WithScores  bool       `json:"with_scores,omitempty"`
}

// Validate checks the structural bounds the service imposes. Algorithm
// validation (persistence range, weight pairing and finiteness) belongs
// to the engine and is not repeated here. Empty rankings are valid and
// fuse to an empty result.
func (r FuseRequest) Validate(maxLists, maxItems, maxK int) error {
	if maxLists > 0 && len(r.Rankings) > maxLists {
		return fmt.Errorf("rankings exceed max (%d)", maxLists)
	}
	if maxItems > 0 {
		for i, ranking := range r.Rankings {
			if len(ranking) > maxItems {
				return fmt.Errorf("ranking %d exceeds max items (%d)", i, maxItems)
			}
		}
	}
	if r.K < 0 {
		return fmt.Errorf("k must not be negative")
	}
	if maxK > 0 && r.K > maxK {
		return fmt.Errorf("k exceeds max (%d)", maxK)
	}
	return nil
}

// FusedEntry is one row of a direct fusion response. Score is omitted
// unless the request asked for scores.
type FusedEntry struct {
	Item  string   `json:"item"`
	Score *float64 `json:"score,omitempty"`
}

// FuseResponse is the public response schema for /v1/fuse.
type FuseResponse struct {
	Items    []FusedEntry `json:"items"`
	Count    int          `json:"count"`
	TookMS   int64        `json:"took_ms"`
	CacheHit bool         `json:"cache_hit"`
	RetCode  string       `json:"ret_code"`
}

// SearchRequest captures inbound search parameters. A nil Persistence
// selects the configured default.
type SearchRequest struct {
	Query       string
	K           int
	BudgetMS    int
	TraceID     string
	Persistence *float64
}

// Validate ensures the inbound request parameters are consistent.
func (r SearchRequest) Validate(maxK int) error {
	if r.Query == "" {
		return fmt.Errorf("q required")
	}
	if r.K <= 0 {
		return fmt.Errorf("k must be positive")
	}
	if maxK > 0 && r.K > maxK {
		return fmt.Errorf("k exceeds max (%d)", maxK)
	}
	if r.BudgetMS <= 0 {
		return fmt.Errorf("budget_ms must be positive")
	}
	return nil
}

// Item represents a fused search result.
type Item struct {
	ID      string      `json:"id"`
	Score   float64     `json:"score"`
	Payload interface{} `json:"payload,omitempty"`
}

// Response encapsulates the public response schema for /v1/search.
type Response struct {
	Items   []Item `json:"items"`
	Timings struct {
		TotalMS   int64            `json:"total_ms"`
		PerSource map[string]int64 `json:"per_source_ms"`
		CacheHit  bool             `json:"cache_hit"`
	} `json:"timings"`
	RetCode  string `json:"ret_code"`
	Degraded bool   `json:"degraded"`
}

type contextKey string

const traceIDKey contextKey = "rankfuse_trace_id"

// WithTraceID stores the trace identifier in context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext extracts the trace identifier.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value := ctx.Value(traceIDKey)
	if value == nil {
		return "", false
	}
	traceID, ok := value.(string)
	return traceID, ok
}
