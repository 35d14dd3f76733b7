// Package testutil provides fakes shared by transport-level tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// FakeResponse describes the behaviour of a single fake upstream call.
type FakeResponse struct {
	Delay  time.Duration
	Status int
	Body   string
}

// FakeSource provides a controllable httptest server used to simulate
// upstream ranking providers with configurable latency and status
// codes. Ranking requests it serves are captured for assertion.
type FakeSource struct {
	server    *httptest.Server
	mu        sync.Mutex
	responses []FakeResponse
	index     int
	calls     int
	lastQuery string
	lastK     int
	gotQuery  bool
}

// NewFakeSource constructs a new FakeSource with the provided response
// plan. When the number of executed calls exceeds the length of
// responses, the last response is reused.
func NewFakeSource(responses ...FakeResponse) *FakeSource {
	if len(responses) == 0 {
		responses = []FakeResponse{{Status: http.StatusOK}}
	}

	fs := &FakeSource{
		responses: responses,
	}

	fs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			var q struct {
				Query string `json:"query"`
				K     int    `json:"k"`
			}
			if err := json.NewDecoder(r.Body).Decode(&q); err == nil {
				fs.mu.Lock()
				fs.lastQuery, fs.lastK, fs.gotQuery = q.Query, q.K, true
				fs.mu.Unlock()
			}
		}

		resp := fs.nextResponse()
		if resp.Delay > 0 {
			timer := time.NewTimer(resp.Delay)
			select {
			case <-timer.C:
			case <-r.Context().Done():
				timer.Stop()
				return
			}
		}

		status := resp.Status
		if status == 0 {
			status = http.StatusOK
		}

		w.WriteHeader(status)
		if resp.Body != "" {
			_, _ = w.Write([]byte(resp.Body))
		}
	}))

	return fs
}

func (f *FakeSource) nextResponse() FakeResponse {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.index >= len(f.responses) {
		return f.responses[len(f.responses)-1]
	}

	resp := f.responses[f.index]
	f.index++
	return resp
}

// URL returns the base URL for the fake source.
func (f *FakeSource) URL() string {
	if f == nil || f.server == nil {
		return ""
	}
	return f.server.URL
}

// Calls returns the number of requests handled so far.
func (f *FakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// LastRequest returns the most recent ranking request the fake served.
func (f *FakeSource) LastRequest() (query string, k int, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastQuery, f.lastK, f.gotQuery
}

// SetResponses overrides the remaining response plan, resetting the cursor.
func (f *FakeSource) SetResponses(responses ...FakeResponse) {
	if f == nil {
		return
	}
	if len(responses) == 0 {
		responses = []FakeResponse{{Status: http.StatusOK}}
	}
	f.mu.Lock()
	f.responses = responses
	f.index = 0
	f.calls = 0
	f.mu.Unlock()
}

// Close terminates the hosted httptest server.
func (f *FakeSource) Close() {
	if f == nil || f.server == nil {
		return
	}
	f.server.Close()
}

// RankedBody builds a provider response body listing the given IDs in
// order, with descending synthetic scores.
func RankedBody(ids ...string) string {
	type row struct {
		ID    string  `json:"id"`
		Score float64 `json:"score"`
	}

	items := make([]row, 0, len(ids))
	for i, id := range ids {
		items = append(items, row{ID: id, Score: 1.0 - float64(i)*0.01})
	}

	raw, _ := json.Marshal(map[string]any{"items": items})
	return string(raw)
}
