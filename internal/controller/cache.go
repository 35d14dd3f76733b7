package controller

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"sync"
	"time"
)

type cacheRecord[V any] struct {
	value    V
	storedAt time.Time
}

// Cache is a lightweight in-memory cache with TTL. A zero ttl disables
// caching entirely.
type Cache[V any] struct {
	ttl   time.Duration
	mu    sync.RWMutex
	store map[string]cacheRecord[V]
}

// NewCache returns a cache; zero ttl disables caching.
func NewCache[V any](ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		ttl:   ttl,
		store: make(map[string]cacheRecord[V]),
	}
}

// Get retrieves a value if still fresh.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	if c == nil || c.ttl <= 0 {
		return zero, false
	}

	c.mu.RLock()
	rec, ok := c.store[key]
	c.mu.RUnlock()
	if !ok {
		return zero, false
	}
	if time.Since(rec.storedAt) > c.ttl {
		c.mu.Lock()
		delete(c.store, key)
		c.mu.Unlock()
		return zero, false
	}
	return rec.value, true
}

// Set stores a value under key.
func (c *Cache[V]) Set(key string, value V) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.store[key] = cacheRecord[V]{value: value, storedAt: time.Now()}
	c.mu.Unlock()
}

// FuseCacheKey hashes the request parameters that influence direct
// fusion output. Floats are formatted as strings so non-finite values
// still produce a stable key.
func FuseCacheKey(rankings [][]string, weights []float64, persistence float64, k int) string {
	ws := make([]string, 0, len(weights))
	for _, w := range weights {
		ws = append(ws, strconv.FormatFloat(w, 'g', -1, 64))
	}

	payload := map[string]any{
		"rankings":    rankings,
		"weights":     ws,
		"persistence": strconv.FormatFloat(persistence, 'g', -1, 64),
		"k":           k,
	}
	return hashKey(payload)
}

// SearchCacheKey hashes the parameters that influence search output.
func SearchCacheKey(query string, k int, persistence float64, sourceNames []string) string {
	payload := map[string]any{
		"query":       query,
		"k":           k,
		"persistence": strconv.FormatFloat(persistence, 'g', -1, 64),
		"sources":     sourceNames,
	}
	return hashKey(payload)
}

func hashKey(payload map[string]any) string {
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
