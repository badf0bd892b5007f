// Package health provides health check and readiness probe HTTP handlers.
package health

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Pre-serialized liveness response avoids json.Encoder allocation.
var livenessBody = []byte(`{"status":"ok"}` + "\n")

const readinessCacheTTL = 5 * time.Second

// Check reports whether one dependency of the probe is usable.
type Check func() error

// Handler provides /health and /ready endpoints.
type Handler struct {
	checks map[string]Check
	logger *slog.Logger

	// Cached readiness result, protected by cacheMu.
	cacheMu      sync.RWMutex
	cachedResult []byte
	cachedStatus int
	cachedAt     time.Time
}

// New creates a health check Handler. Readiness fails while any of the
// named checks returns an error.
func New(checks map[string]Check, logger *slog.Logger) *Handler {
	return &Handler{checks: checks, logger: logger}
}

// RegisterRoutes adds health check routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.liveness)
	mux.HandleFunc("/ready", h.readiness)
}

func (h *Handler) liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(livenessBody) //nolint:errcheck
}

func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	h.cacheMu.RLock()
	if h.cachedResult != nil && time.Since(h.cachedAt) < readinessCacheTTL {
		body, status := h.cachedResult, h.cachedStatus
		h.cacheMu.RUnlock()
		writeJSON(w, status, body)
		return
	}
	h.cacheMu.RUnlock()

	type checkResult struct {
		name   string
		status string
		ok     bool
	}

	ch := make(chan checkResult, len(h.checks))
	for name, check := range h.checks {
		go func(name string, check Check) {
			if err := check(); err != nil {
				h.logger.Warn("readiness check failed", "check", name, "error", err)
				ch <- checkResult{name: name, status: err.Error()}
				return
			}
			ch <- checkResult{name: name, status: "ok", ok: true}
		}(name, check)
	}

	results := make(map[string]string, len(h.checks))
	ready := true
	for range h.checks {
		res := <-ch
		results[res.name] = res.status
		if !res.ok {
			ready = false
		}
	}

	httpStatus := http.StatusOK
	statusStr := "ready"
	if !ready {
		httpStatus = http.StatusServiceUnavailable
		statusStr = "not ready"
	}

	body, _ := json.Marshal(map[string]any{
		"status": statusStr,
		"checks": results,
	})
	body = append(body, '\n')

	h.cacheMu.Lock()
	h.cachedResult = body
	h.cachedStatus = httpStatus
	h.cachedAt = time.Now()
	h.cacheMu.Unlock()

	writeJSON(w, httpStatus, body)
}

// Names returns the registered check names in sorted order.
func (h *Handler) Names() []string {
	names := make([]string, 0, len(h.checks))
	for n := range h.checks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body) //nolint:errcheck
}
