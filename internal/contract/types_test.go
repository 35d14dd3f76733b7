package contract

import (
	"context"
	"strings"
	"testing"
)

func TestFuseRequestValidate(t *testing.T) {
	cases := []struct {
		name    string
		req     FuseRequest
		wantErr string
	}{
		{
			name: "valid",
			req:  FuseRequest{Rankings: [][]string{{"a", "b"}}, K: 10},
		},
		{
			name: "empty rankings are valid",
			req:  FuseRequest{},
		},
		{
			name:    "too many rankings",
			req:     FuseRequest{Rankings: [][]string{{"a"}, {"b"}, {"c"}, {"d"}, {"e"}}},
			wantErr: "rankings exceed max",
		},
		{
			name:    "oversized ranking",
			req:     FuseRequest{Rankings: [][]string{{"a", "b", "c", "d", "e", "f", "g", "h", "i"}}},
			wantErr: "exceeds max items",
		},
		{
			name:    "negative k",
			req:     FuseRequest{Rankings: [][]string{{"a"}}, K: -1},
			wantErr: "k must not be negative",
		},
		{
			name:    "k above max",
			req:     FuseRequest{Rankings: [][]string{{"a"}}, K: 1000},
			wantErr: "k exceeds max",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate(4, 8, 100)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestFuseRequestValidateUnbounded(t *testing.T) {
	req := FuseRequest{Rankings: [][]string{{"a", "b", "c"}}, K: 5000}
	if err := req.Validate(0, 0, 0); err != nil {
		t.Fatalf("expected zero limits to disable bounds, got %v", err)
	}
}

func TestSearchRequestValidate(t *testing.T) {
	cases := []struct {
		name    string
		req     SearchRequest
		wantErr bool
	}{
		{name: "valid", req: SearchRequest{Query: "go", K: 10, BudgetMS: 500}},
		{name: "missing query", req: SearchRequest{K: 10, BudgetMS: 500}, wantErr: true},
		{name: "zero k", req: SearchRequest{Query: "go", BudgetMS: 500}, wantErr: true},
		{name: "k above max", req: SearchRequest{Query: "go", K: 500, BudgetMS: 500}, wantErr: true},
		{name: "zero budget", req: SearchRequest{Query: "go", K: 10}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate(64)
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestTraceIDRoundTrip(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-123")

	got, ok := TraceIDFromContext(ctx)
	if !ok || got != "trace-123" {
		t.Fatalf("expected trace-123, got %q (ok=%v)", got, ok)
	}

	if _, ok := TraceIDFromContext(context.Background()); ok {
		t.Fatal("expected no trace id on fresh context")
	}
}
