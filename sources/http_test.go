package sources

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/searchforge/rankfuse/testutil"
)

func TestRankDecodesOrderedItems(t *testing.T) {
	fake := testutil.NewFakeSource(testutil.FakeResponse{
		Status: http.StatusOK,
		Body:   testutil.RankedBody("a", "b", "c"),
	})
	defer fake.Close()

	src, err := NewHTTPSource("fake", fake.URL(), nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result := src.Rank(context.Background(), Query{Query: "q", K: 3})
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", result.Code)
	}

	want := []string{"a", "b", "c"}
	if len(result.Items) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(result.Items))
	}
	for i, item := range result.Items {
		if item.ID != want[i] {
			t.Fatalf("position %d: expected %q, got %q", i, want[i], item.ID)
		}
	}
	if result.Items[0].Score <= result.Items[1].Score {
		t.Fatalf("expected descending scores, got %v then %v", result.Items[0].Score, result.Items[1].Score)
	}
}

func TestRankRetriesServerErrors(t *testing.T) {
	fake := testutil.NewFakeSource(
		testutil.FakeResponse{Status: http.StatusInternalServerError},
		testutil.FakeResponse{Status: http.StatusOK, Body: testutil.RankedBody("a")},
	)
	defer fake.Close()

	src, err := NewHTTPSource("fake", fake.URL(), nil, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result := src.Rank(context.Background(), Query{Query: "q", K: 1})
	if result.Err != nil {
		t.Fatalf("expected retry to succeed, got %v", result.Err)
	}
	if fake.Calls() != 2 {
		t.Fatalf("expected 2 calls, got %d", fake.Calls())
	}
}

func TestRankDoesNotRetryClientErrors(t *testing.T) {
	fake := testutil.NewFakeSource(testutil.FakeResponse{
		Status: http.StatusBadRequest,
		Body:   "bad query",
	})
	defer fake.Close()

	src, err := NewHTTPSource("fake", fake.URL(), nil, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result := src.Rank(context.Background(), Query{Query: "q", K: 1})
	if result.Err == nil {
		t.Fatal("expected error for 400 response")
	}
	if !strings.Contains(result.Err.Error(), "bad query") {
		t.Fatalf("expected body in error, got %v", result.Err)
	}
	if fake.Calls() != 1 {
		t.Fatalf("expected 1 call, got %d", fake.Calls())
	}
}

func TestRankGivesUpAfterRetryBudget(t *testing.T) {
	fake := testutil.NewFakeSource(testutil.FakeResponse{Status: http.StatusInternalServerError})
	defer fake.Close()

	src, err := NewHTTPSource("fake", fake.URL(), nil, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result := src.Rank(context.Background(), Query{Query: "q", K: 1})
	if result.Err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if fake.Calls() != 2 {
		t.Fatalf("expected 2 calls (initial + retry), got %d", fake.Calls())
	}
}

func TestRankStopsOnContextCancel(t *testing.T) {
	fake := testutil.NewFakeSource(testutil.FakeResponse{
		Delay:  200 * time.Millisecond,
		Status: http.StatusOK,
		Body:   testutil.RankedBody("a"),
	})
	defer fake.Close()

	src, err := NewHTTPSource("fake", fake.URL(), nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	result := src.Rank(ctx, Query{Query: "q", K: 1})
	if result.Err == nil {
		t.Fatal("expected context error")
	}
}

func TestRankRejectsUndecodableBody(t *testing.T) {
	fake := testutil.NewFakeSource(testutil.FakeResponse{
		Status: http.StatusOK,
		Body:   "not json",
	})
	defer fake.Close()

	src, err := NewHTTPSource("fake", fake.URL(), nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result := src.Rank(context.Background(), Query{Query: "q", K: 1})
	if result.Err == nil {
		t.Fatal("expected decode error")
	}
}

func TestPing(t *testing.T) {
	fake := testutil.NewFakeSource(testutil.FakeResponse{Status: http.StatusOK})
	defer fake.Close()

	src, err := NewHTTPSource("fake", fake.URL(), nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := src.Ping(context.Background()); err != nil {
		t.Fatalf("expected healthy ping, got %v", err)
	}

	fake.SetResponses(testutil.FakeResponse{Status: http.StatusServiceUnavailable})
	if err := src.Ping(context.Background()); err == nil {
		t.Fatal("expected unhealthy ping to fail")
	}
}

func TestNewHTTPSourceValidation(t *testing.T) {
	if _, err := NewHTTPSource("", "http://example", nil, 0); err == nil {
		t.Fatal("expected error for missing name")
	}
	if _, err := NewHTTPSource("fake", "", nil, 0); err == nil {
		t.Fatal("expected error for missing baseURL")
	}
}
