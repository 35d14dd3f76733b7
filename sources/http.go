// Package sources contains clients for upstream ranking providers.
package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout  = 2 * time.Second
	defaultRetryMax = 2
	minBackoff      = 100 * time.Millisecond
	maxBackoff      = 2 * time.Second
	rankPath        = "/rank"
	healthPath      = "/healthz"
	contentTypeJSON = "application/json"
)

// HTTPClient represents a minimal http client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Query is the request sent to a ranking provider.
type Query struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

// RankedItem is one row of a provider response, ordered most-relevant
// first.
type RankedItem struct {
	ID      string          `json:"id"`
	Score   float64         `json:"score"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Result aggregates a single provider call.
type Result struct {
	Source string
	Items  []RankedItem
	TookMS int64
	Code   int
	Err    error
}

// HTTPSource queries one upstream ranking provider over HTTP with retry
// and timeout controls. Providers expose POST /rank accepting a Query
// and returning {"items": [...]} ordered by relevance.
type HTTPSource struct {
	name     string
	baseURL  string
	client   HTTPClient
	retryMax int
}

// NewHTTPSource creates a provider client.
func NewHTTPSource(name, baseURL string, client HTTPClient, retryMax int) (*HTTPSource, error) {
	if name == "" {
		return nil, fmt.Errorf("source name required")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("source %s: baseURL required", name)
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	if retryMax < 0 {
		retryMax = defaultRetryMax
	}

	return &HTTPSource{
		name:     name,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   client,
		retryMax: retryMax,
	}, nil
}

// Name returns the configured source name.
func (s *HTTPSource) Name() string {
	return s.name
}

// Rank executes one ranking query against the provider.
func (s *HTTPSource) Rank(ctx context.Context, query Query) Result {
	start := time.Now()
	items, code, err := s.execute(ctx, query)
	return Result{
		Source: s.name,
		Items:  items,
		TookMS: time.Since(start).Milliseconds(),
		Code:   code,
		Err:    err,
	}
}

// Ping checks provider health with a cheap GET.
func (s *HTTPSource) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("source %s unhealthy: status %d", s.name, resp.StatusCode)
	}
	return nil
}

func (s *HTTPSource) execute(ctx context.Context, query Query) ([]RankedItem, int, error) {
	payload, err := json.Marshal(query)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal query: %w", err)
	}

	fullURL := s.baseURL + rankPath

	var (
		attempt   int
		lastError error
		status    int
		backoff   = minBackoff
	)

	for {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(payload))
		if err != nil {
			return nil, status, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", contentTypeJSON)
		req.Header.Set("Accept", contentTypeJSON)

		resp, err := s.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, status, ctx.Err()
			}
			lastError = err
		} else {
			status = resp.StatusCode
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()

			if readErr != nil {
				lastError = fmt.Errorf("read response: %w", readErr)
			} else if status >= 500 && attempt <= s.retryMax {
				lastError = fmt.Errorf("server error: %s", strings.TrimSpace(string(body)))
			} else if status >= 400 {
				return nil, status, fmt.Errorf("source %s error: %s", s.name, strings.TrimSpace(string(body)))
			} else {
				items, decodeErr := decodeItems(body)
				if decodeErr != nil {
					return nil, status, fmt.Errorf("source %s: %w", s.name, decodeErr)
				}
				return items, status, nil
			}
		}

		if attempt > s.retryMax {
			if lastError == nil {
				lastError = fmt.Errorf("request failed after %d attempts", attempt-1)
			}
			return nil, status, lastError
		}

		if !sleepWithContext(ctx, backoff) {
			if ctx.Err() != nil {
				return nil, status, ctx.Err()
			}
			return nil, status, fmt.Errorf("retry interrupted")
		}
		backoff = nextBackoff(backoff)
	}
}

func (s *HTTPSource) String() string {
	return fmt.Sprintf("http_source{name=%s,base=%s,retry_max=%d}", s.name, s.baseURL, s.retryMax)
}

func decodeItems(body []byte) ([]RankedItem, error) {
	var payload struct {
		Items []RankedItem `json:"items"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return payload.Items, nil
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
