// Package health implements the readiness probe over the configured
// ranking sources.
package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/searchforge/rankfuse/internal/controller"
	"github.com/searchforge/rankfuse/policy"
)

// Readyz returns a handler that pings every source and reports
// per-source health together with circuit breaker state. The service
// is ready while at least one source is usable; direct fusion keeps
// working either way, which /healthz covers.
func Readyz(ctrl *controller.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		pings := ctrl.PingAll(r.Context())
		latency := time.Since(start)
		circuits := ctrl.CircuitStates()

		healthy := 0
		statuses := make(map[string]any, len(pings))
		for name, err := range pings {
			ok := err == nil && circuits[name] != policy.CircuitOpen
			if ok {
				healthy++
			}
			entry := map[string]any{
				"ok":      ok,
				"circuit": circuits[name].String(),
			}
			if err != nil {
				entry["error"] = err.Error()
			}
			statuses[name] = entry
		}

		ready := healthy > 0
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}

		payload := map[string]any{
			"ready":        ready,
			"sources":      statuses,
			"last_ping_ms": latency.Milliseconds(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(payload)
	}
}
