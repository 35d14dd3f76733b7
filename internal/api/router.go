// Package api exposes the HTTP surface of the fusion service: direct
// fusion, federated search and the health endpoints.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/searchforge/rankfuse/internal/contract"
	"github.com/searchforge/rankfuse/internal/controller"
	"github.com/searchforge/rankfuse/internal/health"
	"github.com/searchforge/rankfuse/obs"
)

// Router wires the HTTP endpoints for the fusion service.
type Router struct {
	ctrl          *controller.Controller
	logger        *slog.Logger
	defaultK      int
	defaultBudget int
}

// NewRouter constructs the HTTP router.
func NewRouter(ctrl *controller.Controller, logger *slog.Logger) (*chi.Mux, error) {
	if ctrl == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Router{
		ctrl:          ctrl,
		logger:        logger,
		defaultK:      ctrl.DefaultK(),
		defaultBudget: ctrl.DefaultBudgetMS(),
	}

	mux := chi.NewRouter()
	mux.Get("/healthz", rt.handleHealthz)
	mux.Get("/readyz", health.Readyz(ctrl))
	mux.Route("/v1", func(r chi.Router) {
		r.Use(rt.trace)
		r.Use(rt.instrument)
		r.Post("/fuse", rt.handleFuse)
		r.Get("/search", rt.handleSearch)
	})

	return mux, nil
}

func (rt *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// trace assigns every request a trace identifier, honouring one the
// caller already carries.
func (rt *Router) trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		traceID := req.Header.Get(contract.TraceIDHeader)
		if traceID == "" {
			traceID = req.URL.Query().Get("trace_id")
		}
		if traceID == "" {
			traceID = uuid.NewString()
		}
		w.Header().Set(contract.TraceIDHeader, traceID)
		ctx := contract.WithTraceID(req.Context(), traceID)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.wrote {
		return
	}
	s.status = code
	s.wrote = true
	s.ResponseWriter.WriteHeader(code)
}

// instrument records request metrics and an access log line once the
// handler finishes.
func (rt *Router) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)

		duration := time.Since(start)
		traceID, _ := contract.TraceIDFromContext(req.Context())
		obs.ObserveRequest(req.URL.Path, strconv.Itoa(rec.status), duration, traceID)

		level := slog.LevelInfo
		switch {
		case rec.status >= 500:
			level = slog.LevelError
		case rec.status >= 400:
			level = slog.LevelWarn
		}
		rt.logger.LogAttrs(req.Context(), level, "request completed",
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.Int("status", rec.status),
			slog.Int64("latency_ms", duration.Milliseconds()),
			slog.String("trace_id", traceID),
		)
	})
}

func (rt *Router) handleFuse(w http.ResponseWriter, req *http.Request) {
	var fuseReq contract.FuseRequest
	if err := json.NewDecoder(req.Body).Decode(&fuseReq); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	resp, err := rt.ctrl.Fuse(req.Context(), fuseReq)
	writeJSON(w, statusFor(err), resp)
}

func (rt *Router) handleSearch(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	traceID, _ := contract.TraceIDFromContext(ctx)

	searchReq := contract.SearchRequest{
		Query:    normalizeQuery(req.URL.Query().Get("q")),
		K:        parseInt(req.URL.Query().Get("k"), rt.defaultK),
		BudgetMS: parseInt(req.URL.Query().Get("budget_ms"), rt.defaultBudget),
		TraceID:  traceID,
	}
	if raw := req.URL.Query().Get("p"); raw != "" {
		p, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			http.Error(w, "invalid p", http.StatusBadRequest)
			return
		}
		searchReq.Persistence = &p
	}

	resp, err := rt.ctrl.Search(ctx, searchReq)
	writeJSON(w, statusFor(err), resp)
}

// statusFor maps controller errors to HTTP statuses. The response body
// still carries the structured envelope with its ret_code.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, controller.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, controller.ErrNoSources):
		return http.StatusServiceUnavailable
	case errors.Is(err, controller.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, controller.ErrAllSourcesFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// normalizeQuery trims, NFKC-normalizes and collapses whitespace so
// equivalent queries share cache entries.
func normalizeQuery(q string) string {
	q = strings.TrimSpace(q)
	if q == "" {
		return q
	}
	q = norm.NFKC.String(q)
	fields := strings.Fields(q)
	return strings.Join(fields, " ")
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	num, err := strconv.Atoi(value)
	if err != nil || num <= 0 {
		return fallback
	}
	return num
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}
