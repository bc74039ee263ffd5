// Package debugserver exposes a liveness probe, pool metrics,
// circuit-breaker state, and resource-manager counts over a small
// chi-routed HTTP surface, for operational
// visibility only — it is not the JSON adapter's calling convention
// (that remains function-call based, TDLib-style).
package debugserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/rustgram/client/circuitbreaker"
	"github.com/rustgram/client/dcdirectory"
	"github.com/rustgram/client/pool"
	"github.com/rustgram/client/resourcemanager"
)

// PoolStats is anything that can report active/idle connection counts per
// (dc, purpose); satisfied by *pool.Pool.
type PoolStats interface {
	ActiveCount(dc dcdirectory.DCID, purpose pool.Purpose) int
	IdleCount(dc dcdirectory.DCID, purpose pool.Purpose) int
}

// Deps wires the live components the debug surface reports on. Any field
// left nil is reported as absent rather than causing a panic.
type Deps struct {
	Pool      PoolStats
	Directory *dcdirectory.Directory
	Breakers  *circuitbreaker.Registry
	Resources *resourcemanager.Manager
}

// New returns a configured chi Router exposing /healthz, /debug/pool,
// /debug/breakers, and /debug/resources.
func New(deps Deps, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/debug/pool", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, poolSnapshot(deps))
	})

	r.Get("/debug/breakers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, breakerSnapshot(deps))
	})

	r.Get("/debug/resources", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, resourceSnapshot(deps))
	})

	return r
}

type poolEntrySnapshot struct {
	DC      int32  `json:"dc"`
	Purpose string `json:"purpose"`
	Active  int    `json:"active"`
	Idle    int    `json:"idle"`
}

func poolSnapshot(deps Deps) []poolEntrySnapshot {
	if deps.Pool == nil || deps.Directory == nil {
		return nil
	}
	var out []poolEntrySnapshot
	for _, dc := range deps.Directory.DCIds() {
		for _, purpose := range []pool.Purpose{pool.PurposeMain, pool.PurposeDownload, pool.PurposeUpload} {
			out = append(out, poolEntrySnapshot{
				DC:      int32(dc),
				Purpose: purpose.String(),
				Active:  deps.Pool.ActiveCount(dc, purpose),
				Idle:    deps.Pool.IdleCount(dc, purpose),
			})
		}
	}
	return out
}

func breakerSnapshot(deps Deps) map[string]string {
	if deps.Breakers == nil {
		return map[string]string{}
	}
	out := make(map[string]string)
	for dc, state := range deps.Breakers.Snapshot() {
		out[strconv.Itoa(int(dc))] = state.String()
	}
	return out
}

func resourceSnapshot(deps Deps) map[string]any {
	if deps.Resources == nil {
		return map[string]any{}
	}
	byType := make(map[string]int)
	for _, t := range resourcemanager.AllTypes {
		byType[t.String()] = deps.Resources.GetActiveCount(t)
	}
	return map[string]any{
		"active_by_type": byType,
		"total_active":   deps.Resources.GetTotalActive(),
		"queued":         deps.Resources.GetQueuedCount(),
		"max_concurrent": deps.Resources.GetMaxConcurrent(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", chimw.GetReqID(r.Context())).
				Int("status", rw.Status()).
				Dur("duration", time.Since(start)).
				Msg("debugserver request")
		})
	}
}
