// Package controller coordinates validation, caching, source fan-out,
// and fusion for the rankfuse service surfaces.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/searchforge/rankfuse/fuse"
	"github.com/searchforge/rankfuse/internal/contract"
	"github.com/searchforge/rankfuse/obs"
	"github.com/searchforge/rankfuse/policy"
	"github.com/searchforge/rankfuse/rbc"
	"github.com/searchforge/rankfuse/sources"
)

var (
	// ErrBadRequest indicates the request was invalid.
	ErrBadRequest = errors.New("bad request")
	// ErrNoSources indicates no upstream sources are configured.
	ErrNoSources = errors.New("no sources configured")
	// ErrUpstreamTimeout indicates every upstream call exceeded the budget.
	ErrUpstreamTimeout = errors.New("upstream timeout")
	// ErrAllSourcesFailed indicates every upstream call failed.
	ErrAllSourcesFailed = errors.New("all sources failed")
)

const (
	defaultBudgetMS = 600
	defaultK        = 10
	pingTimeout     = 200 * time.Millisecond
)

// Source is one upstream provider of ranked lists.
type Source interface {
	Name() string
	Rank(ctx context.Context, query sources.Query) sources.Result
	Ping(ctx context.Context) error
}

// GuardedSource pairs a source with its execution policy and fusion
// weight. A zero weight counts as 1.0.
type GuardedSource struct {
	Source Source
	Policy *policy.SourcePolicy
	Weight float64
}

// Config groups controller dependencies.
type Config struct {
	Combine         fuse.CombineConfig
	DefaultK        int
	BudgetMS        int
	CacheTTL        time.Duration
	MaxRankings     int
	MaxRankingItems int
	Metrics         *policy.Metrics
	Logger          *slog.Logger
}

type fusedRow struct {
	ID    string
	Score float64
}

type searchEntry struct {
	Items     []contract.Item
	PerSource map[string]int64
	TotalMS   int64
}

// Controller coordinates policy, caching, and fusion.
type Controller struct {
	sources     []GuardedSource
	combine     fuse.CombineConfig
	defaultK    int
	budgetMS    int
	maxRankings int
	maxItems    int
	metrics     *policy.Metrics
	logger      *slog.Logger

	fuseCache   *Cache[[]fusedRow]
	searchCache *Cache[searchEntry]
}

// New constructs a controller. Guarded sources may be empty, in which
// case only the direct fusion surface is served.
func New(guarded []GuardedSource, cfg Config) (*Controller, error) {
	for i, gs := range guarded {
		if gs.Source == nil {
			return nil, fmt.Errorf("guarded source %d: source required", i)
		}
		if gs.Policy == nil {
			return nil, fmt.Errorf("source %s: policy required", gs.Source.Name())
		}
	}

	combine := cfg.Combine
	if combine == (fuse.CombineConfig{}) {
		combine = fuse.DefaultCombineConfig()
	}
	if combine.TopKInit <= 0 {
		combine.TopKInit = fuse.DefaultCombineConfig().TopKInit
	}
	if combine.TopKMax <= 0 {
		combine.TopKMax = fuse.DefaultCombineConfig().TopKMax
	}
	if combine.TopKInit > combine.TopKMax {
		combine.TopKInit = combine.TopKMax
	}

	if cfg.DefaultK <= 0 {
		cfg.DefaultK = defaultK
	}
	if cfg.BudgetMS <= 0 {
		cfg.BudgetMS = defaultBudgetMS
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		sources:     guarded,
		combine:     combine,
		defaultK:    cfg.DefaultK,
		budgetMS:    cfg.BudgetMS,
		maxRankings: cfg.MaxRankings,
		maxItems:    cfg.MaxRankingItems,
		metrics:     cfg.Metrics,
		logger:      logger,
		fuseCache:   NewCache[[]fusedRow](cfg.CacheTTL),
		searchCache: NewCache[searchEntry](cfg.CacheTTL),
	}, nil
}

// TopKMax returns the configured result ceiling.
func (c *Controller) TopKMax() int {
	return c.combine.TopKMax
}

// DefaultK returns the result count used when the caller sends none.
func (c *Controller) DefaultK() int {
	return c.defaultK
}

// DefaultBudgetMS returns the fan-out budget used when the caller
// sends none.
func (c *Controller) DefaultBudgetMS() int {
	return c.budgetMS
}

// Fuse merges caller-supplied rankings directly through the engine.
func (c *Controller) Fuse(ctx context.Context, req contract.FuseRequest) (contract.FuseResponse, error) {
	start := time.Now()
	resp := contract.FuseResponse{
		Items:   []contract.FusedEntry{},
		RetCode: "OK",
	}

	if err := req.Validate(c.maxRankings, c.maxItems, c.combine.TopKMax); err != nil {
		resp.RetCode = "BAD_REQUEST"
		return resp, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}

	persistence := c.combine.Persistence
	if req.Persistence != nil {
		persistence = *req.Persistence
	}

	key := FuseCacheKey(req.Rankings, req.Weights, persistence, req.K)
	if rows, ok := c.fuseCache.Get(key); ok {
		obs.ObserveCache("fuse", true)
		resp.Items = renderEntries(rows, req.WithScores)
		resp.Count = len(resp.Items)
		resp.CacheHit = true
		resp.TookMS = time.Since(start).Milliseconds()
		return resp, nil
	}
	obs.ObserveCache("fuse", false)

	var scored []rbc.Entry[string]
	var err error
	if len(req.Weights) > 0 {
		scored, err = rbc.FuseWithWeights(req.Rankings, req.Weights, persistence)
	} else {
		scored, err = rbc.FuseWithScores(req.Rankings, persistence)
	}
	if err != nil {
		resp.RetCode = "BAD_REQUEST"
		return resp, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}

	rows := make([]fusedRow, 0, len(scored))
	for _, entry := range scored {
		rows = append(rows, fusedRow{ID: entry.Item, Score: entry.Score})
	}
	if req.K > 0 && req.K < len(rows) {
		rows = rows[:req.K]
	}

	c.fuseCache.Set(key, rows)

	resp.Items = renderEntries(rows, req.WithScores)
	resp.Count = len(resp.Items)
	resp.TookMS = time.Since(start).Milliseconds()

	obs.ObserveFused(len(resp.Items))
	c.metrics.ObserveTotal(time.Since(start))
	c.logger.Debug("fused rankings",
		"lists", len(req.Rankings),
		"items", resp.Count,
		"took_ms", resp.TookMS,
	)
	return resp, nil
}

// Search executes the full retrieval pipeline: budget-bound fan-out to
// every source under its policy, fusion, and caching. Partial upstream
// failure degrades the response instead of failing it as long as at
// least one source answered.
func (c *Controller) Search(ctx context.Context, req contract.SearchRequest) (contract.Response, error) {
	start := time.Now()
	var resp contract.Response
	resp.Items = []contract.Item{}
	resp.Timings.PerSource = make(map[string]int64)
	resp.RetCode = "OK"

	if err := req.Validate(c.combine.TopKMax); err != nil {
		resp.RetCode = "BAD_REQUEST"
		return resp, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	if len(c.sources) == 0 {
		resp.RetCode = "UNAVAILABLE"
		return resp, ErrNoSources
	}

	persistence := c.combine.Persistence
	if req.Persistence != nil {
		persistence = *req.Persistence
	}

	key := SearchCacheKey(req.Query, req.K, persistence, c.sourceNames())
	if entry, ok := c.searchCache.Get(key); ok {
		obs.ObserveCache("search", true)
		resp.Items = cloneItems(entry.Items)
		resp.Timings.TotalMS = entry.TotalMS
		resp.Timings.PerSource = cloneTimings(entry.PerSource)
		resp.Timings.CacheHit = true
		return resp, nil
	}
	obs.ObserveCache("search", false)

	budgetCtx, cancel, budget := policy.WithBudget(ctx, req.BudgetMS, c.metrics)
	defer cancel()

	fanout := c.fanOut(budgetCtx, req)

	results := make([]fuse.SourceResult, 0, len(c.sources))
	failed := 0
	for i, res := range fanout {
		name := c.sources[i].Source.Name()
		resp.Timings.PerSource[name] = res.TookMS
		if res.Err != nil {
			failed++
			obs.RecordSourceError(name, errCode(res))
			c.logger.Warn("source failed", "source", name, "error", res.Err)
			continue
		}
		results = append(results, fuse.SourceResult{
			Source: name,
			Weight: c.sources[i].Weight,
			Items:  toFuseItems(res.Items),
		})
	}

	if len(results) == 0 {
		resp.Timings.TotalMS = time.Since(start).Milliseconds()
		resp.Degraded = true
		if budget.Hit() {
			resp.RetCode = "UPSTREAM_TIMEOUT"
			return resp, ErrUpstreamTimeout
		}
		resp.RetCode = "DEGRADED"
		return resp, ErrAllSourcesFailed
	}

	cfg := c.combine
	cfg.Persistence = persistence
	if req.K > cfg.TopKInit {
		cfg.TopKInit = req.K
	}
	if cfg.TopKInit > cfg.TopKMax {
		cfg.TopKInit = cfg.TopKMax
	}

	fused, err := fuse.Combine(results, cfg)
	if err != nil {
		resp.RetCode = "BAD_REQUEST"
		return resp, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	if req.K < len(fused) {
		fused = fused[:req.K]
	}

	resp.Items = fusedToContract(fused)
	resp.Timings.TotalMS = time.Since(start).Milliseconds()
	resp.Degraded = failed > 0
	if resp.Degraded {
		resp.RetCode = "DEGRADED"
	}

	obs.ObserveFused(len(resp.Items))
	c.metrics.ObserveTotal(time.Since(start))

	// Degraded responses are not cached so a recovered source is
	// picked up on the next request.
	if !resp.Degraded {
		c.searchCache.Set(key, searchEntry{
			Items:     cloneItems(resp.Items),
			PerSource: cloneTimings(resp.Timings.PerSource),
			TotalMS:   resp.Timings.TotalMS,
		})
	}

	c.logger.Debug("search completed",
		"k", req.K,
		"sources_ok", len(results),
		"sources_failed", failed,
		"items", len(resp.Items),
		"took_ms", resp.Timings.TotalMS,
		"budget_hit", budget.Hit(),
	)
	return resp, nil
}

func (c *Controller) fanOut(ctx context.Context, req contract.SearchRequest) []sources.Result {
	out := make([]sources.Result, len(c.sources))
	query := sources.Query{Query: req.Query, K: c.fetchK(req.K)}

	var wg sync.WaitGroup
	for i, gs := range c.sources {
		wg.Add(1)
		go func(i int, gs GuardedSource) {
			defer wg.Done()
			err := gs.Policy.Execute(ctx, func(callCtx context.Context) error {
				res := gs.Source.Rank(callCtx, query)
				out[i] = res
				return res.Err
			})
			if err != nil && out[i].Err == nil {
				out[i] = sources.Result{Source: gs.Source.Name(), Err: err}
			}
		}(i, gs)
	}
	wg.Wait()
	return out
}

// fetchK picks the per-source fetch depth: at least the fusion prefix
// so overlap survives merging, capped at the ceiling.
func (c *Controller) fetchK(k int) int {
	limit := k
	if limit < c.combine.TopKInit {
		limit = c.combine.TopKInit
	}
	if limit > c.combine.TopKMax {
		limit = c.combine.TopKMax
	}
	return limit
}

// PingAll checks every source concurrently, returning per-source errors.
func (c *Controller) PingAll(ctx context.Context) map[string]error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	out := make(map[string]error, len(c.sources))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, gs := range c.sources {
		wg.Add(1)
		go func(gs GuardedSource) {
			defer wg.Done()
			err := gs.Source.Ping(ctx)
			mu.Lock()
			out[gs.Source.Name()] = err
			mu.Unlock()
		}(gs)
	}
	wg.Wait()
	return out
}

// CircuitStates reports the breaker state for every source.
func (c *Controller) CircuitStates() map[string]policy.CircuitState {
	out := make(map[string]policy.CircuitState, len(c.sources))
	for _, gs := range c.sources {
		out[gs.Source.Name()] = gs.Policy.CircuitState()
	}
	return out
}

func (c *Controller) sourceNames() []string {
	names := make([]string, 0, len(c.sources))
	for _, gs := range c.sources {
		names = append(names, gs.Source.Name())
	}
	return names
}

func renderEntries(rows []fusedRow, withScores bool) []contract.FusedEntry {
	out := make([]contract.FusedEntry, 0, len(rows))
	for _, row := range rows {
		entry := contract.FusedEntry{Item: row.ID}
		if withScores {
			score := row.Score
			entry.Score = &score
		}
		out = append(out, entry)
	}
	return out
}

func toFuseItems(items []sources.RankedItem) []fuse.Item {
	out := make([]fuse.Item, 0, len(items))
	for _, item := range items {
		fi := fuse.Item{ID: item.ID, Score: item.Score}
		if len(item.Payload) > 0 {
			var payload any
			if err := json.Unmarshal(item.Payload, &payload); err == nil {
				fi.Payload = payload
			} else {
				fi.Payload = string(item.Payload)
			}
		}
		out = append(out, fi)
	}
	return out
}

func fusedToContract(items []fuse.FusedItem) []contract.Item {
	out := make([]contract.Item, 0, len(items))
	for _, it := range items {
		out = append(out, contract.Item{
			ID:      it.ID,
			Score:   it.Score,
			Payload: it.Payload,
		})
	}
	return out
}

func cloneItems(items []contract.Item) []contract.Item {
	if len(items) == 0 {
		return []contract.Item{}
	}
	out := make([]contract.Item, len(items))
	copy(out, items)
	return out
}

func cloneTimings(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func errCode(res sources.Result) string {
	switch {
	case errors.Is(res.Err, policy.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(res.Err, policy.ErrRateLimited):
		return "rate_limited"
	case errors.Is(res.Err, context.DeadlineExceeded):
		return "timeout"
	case res.Code >= 400:
		return strconv.Itoa(res.Code)
	default:
		return "transport"
	}
}
