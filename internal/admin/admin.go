// Package admin provides read-only endpoints for inspecting the running
// probe host: the active configuration, the script table and the rate
// limiter buckets. Every endpoint is restricted to an IP allowlist.
package admin

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/dskow/cgi-probe/internal/apierror"
	"github.com/dskow/cgi-probe/internal/config"
	"github.com/dskow/cgi-probe/internal/probe"
	"github.com/dskow/cgi-probe/internal/ratelimit"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// ConfigProvider abstracts config access for testability.
type ConfigProvider interface {
	Current() *config.Config
}

// LimiterSnapshotter reports the rate limiter buckets.
type LimiterSnapshotter interface {
	Snapshot() []ratelimit.ClientEntry
}

// Handler provides the admin endpoints.
type Handler struct {
	configs     ConfigProvider
	limiter     LimiterSnapshotter
	allowedNets []*net.IPNet
	logger      *slog.Logger
}

// New creates an admin Handler. Allowlist entries are IPs or CIDRs and are
// expected to have passed config validation; invalid ones are skipped.
// limiter may be nil, in which case /admin/limiters reports no clients.
func New(configs ConfigProvider, limiter LimiterSnapshotter, allowlist []string, logger *slog.Logger) *Handler {
	nets := make([]*net.IPNet, 0, len(allowlist))
	for _, entry := range allowlist {
		if _, ipNet, err := net.ParseCIDR(entry); err == nil {
			nets = append(nets, ipNet)
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			bits := 8 * net.IPv6len
			if ip.To4() != nil {
				ip, bits = ip.To4(), 8*net.IPv4len
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
		}
	}
	return &Handler{
		configs:     configs,
		limiter:     limiter,
		allowedNets: nets,
		logger:      logger,
	}
}

// RegisterRoutes adds the admin routes to mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/config", h.guard(h.configHandler))
	mux.HandleFunc("/admin/scripts", h.guard(h.scriptsHandler))
	mux.HandleFunc("/admin/limiters", h.guard(h.limitersHandler))
}

// guard enforces GET and the allowlist. The peer address is used, never
// X-Forwarded-For.
func (h *Handler) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			apierror.WriteJSON(w, r, http.StatusMethodNotAllowed, apierror.MethodNotAllowed, "admin endpoints are read-only")
			return
		}

		ip := extractIP(r.RemoteAddr)
		if !h.isAllowed(ip) {
			h.logger.Warn("admin access denied", "client_ip", ip, "path", r.URL.Path)
			apierror.WriteJSON(w, r, http.StatusForbidden, apierror.Forbidden, "client not in admin allowlist")
			return
		}
		next(w, r)
	}
}

func (h *Handler) isAllowed(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range h.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func (h *Handler) configHandler(w http.ResponseWriter, r *http.Request) {
	cfg := *h.configs.Current()
	if cfg.Server.TLSKeyFile != "" {
		cfg.Server.TLSKeyFile = "***"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"config":   cfg,
		"warnings": cfg.Warnings,
	})
}

func (h *Handler) scriptsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"scripts": probe.Scripts()})
}

func (h *Handler) limitersHandler(w http.ResponseWriter, r *http.Request) {
	var entries []ratelimit.ClientEntry
	if h.limiter != nil {
		entries = h.limiter.Snapshot()
	}

	pageSize := queryInt(r, "page_size", defaultPageSize)
	if pageSize < 1 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}
	page := max(queryInt(r, "page", 0), 0)

	total := len(entries)
	start := min(page*pageSize, total)
	end := min(start+pageSize, total)

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries[start:end],
		"total":   total,
		"page":    page,
	})
}

// queryInt returns the named query parameter as an int, or def when it is
// missing or not a number.
func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
