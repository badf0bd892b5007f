// Package probe serves the diagnostic pages. Each request is adapted into
// a snapshot by the gateway, shaped by the report for its script and
// rendered as HTML.
package probe

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/dskow/cgi-probe/internal/apierror"
	"github.com/dskow/cgi-probe/internal/config"
	"github.com/dskow/cgi-probe/internal/gateway"
	"github.com/dskow/cgi-probe/internal/metrics"
	"github.com/dskow/cgi-probe/internal/render"
	"github.com/dskow/cgi-probe/internal/report"
	"github.com/dskow/cgi-probe/internal/snapshot"
)

// Metric labels for requests that never reach a report.
const (
	flavorIndex = "index"
	flavorNone  = "none"
)

// Settings are the hot-reloadable harness options.
type Settings struct {
	ServerSoftware string
	DocumentRoot   string
	Location       *time.Location
	Extensions     []string
	ShowIssues     bool
}

// SettingsFrom converts the harness config section.
func SettingsFrom(h config.HarnessConfig) Settings {
	return Settings{
		ServerSoftware: h.ServerSoftware,
		DocumentRoot:   h.DocumentRoot,
		Location:       h.Location(),
		Extensions:     append([]string(nil), h.Extensions...),
		ShowIssues:     h.ShowDecodeIssues(),
	}
}

// Handler serves the landing page and every probe script.
type Handler struct {
	renderer *render.Renderer
	mode     gateway.Mode
	logger   *slog.Logger
	process  processInfo
	settings atomic.Pointer[Settings]

	// environ returns the process environment laid over each request.
	environ func() map[string]string
	now     func() time.Time
}

// New creates a Handler. In CGI mode the process environment is the
// authoritative variable set; in HTTP mode it only supplies variables the
// request and the settings do not (PATH and friends).
func New(renderer *render.Renderer, mode gateway.Mode, s Settings, logger *slog.Logger) *Handler {
	h := &Handler{
		renderer: renderer,
		mode:     mode,
		logger:   logger,
		process:  newProcessInfo(mode),
		environ:  gateway.ProcessEnviron,
		now:      time.Now,
	}
	h.UpdateSettings(s)
	return h
}

// UpdateSettings swaps the harness options used by subsequent requests.
func (h *Handler) UpdateSettings(s Settings) {
	if s.Location == nil {
		s.Location = time.Local
	}
	h.settings.Store(&s)
	h.logger.Debug("harness settings applied",
		"server_software", s.ServerSoftware,
		"document_root", s.DocumentRoot,
		"timezone", s.Location.String(),
		"show_issues", s.ShowIssues,
	)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	metrics.ActiveRequests.Inc()
	defer metrics.ActiveRequests.Dec()

	flavor, status := h.serve(w, r)

	metrics.RequestsTotal.WithLabelValues(flavor, r.Method, strconv.Itoa(status)).Inc()
	metrics.RequestDuration.WithLabelValues(flavor).Observe(time.Since(start).Seconds())
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) (string, int) {
	if r.URL.Path == "/" {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			apierror.WriteJSON(w, r, http.StatusMethodNotAllowed, apierror.MethodNotAllowed,
				fmt.Sprintf("method %s not allowed for /", r.Method))
			return flavorIndex, http.StatusMethodNotAllowed
		}
		writeHTML(w, h.renderer.Index())
		return flavorIndex, http.StatusOK
	}

	sc, ok := lookupScript(r.URL.Path)
	if !ok {
		apierror.WriteJSON(w, r, http.StatusNotFound, apierror.NotFound, "no such probe script")
		return flavorNone, http.StatusNotFound
	}
	flavor := string(sc.flavor)
	if !sc.allows(r.Method) {
		w.Header().Set("Allow", sc.allowHeader())
		apierror.WriteJSON(w, r, http.StatusMethodNotAllowed, apierror.MethodNotAllowed,
			fmt.Sprintf("method %s not allowed for %s", r.Method, r.URL.Path))
		return flavor, http.StatusMethodNotAllowed
	}

	settings := h.settings.Load()
	fields, err := gateway.FromRequest(r, h.mode, h.environ(), overrides(settings))
	if err != nil {
		return flavor, h.writeGatewayError(w, r, err)
	}
	snap := snapshot.New(fields)
	h.observe(flavor, snap)

	data := h.build(sc.flavor, snap, settings)
	page, err := h.renderPage(sc.flavor, data)
	if err != nil {
		h.logger.Error("render failed", "flavor", flavor, "error", err)
		apierror.WriteJSON(w, r, http.StatusInternalServerError, apierror.RenderFailed, "page could not be rendered")
		return flavor, http.StatusInternalServerError
	}
	writeHTML(w, page)
	return flavor, http.StatusOK
}

// overrides returns the configured harness variables.
func overrides(s *Settings) map[string]string {
	vars := map[string]string{}
	if s.ServerSoftware != "" {
		vars["SERVER_SOFTWARE"] = s.ServerSoftware
	}
	if s.DocumentRoot != "" {
		vars["DOCUMENT_ROOT"] = s.DocumentRoot
	}
	return vars
}

func (h *Handler) writeGatewayError(w http.ResponseWriter, r *http.Request, err error) int {
	switch {
	case errors.Is(err, gateway.ErrBodyTooLarge):
		apierror.WriteJSON(w, r, http.StatusRequestEntityTooLarge, apierror.BodyTooLarge, err.Error())
		return http.StatusRequestEntityTooLarge
	default:
		h.logger.Warn("request body unreadable", "path", r.URL.Path, "error", err)
		apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.BodyUnreadable, "request body could not be read")
		return http.StatusBadRequest
	}
}

func (h *Handler) observe(flavor string, s *snapshot.Snapshot) {
	metrics.BodyBytes.WithLabelValues(flavor).Observe(float64(s.BodyLen()))
	if s.Truncated() {
		metrics.TruncatedBodies.Inc()
	}
	for _, is := range s.Issues() {
		metrics.DecodeIssues.WithLabelValues(string(is.Source)).Inc()
	}
}

// build shapes the report data for flavor.
func (h *Handler) build(flavor report.Flavor, s *snapshot.Snapshot, settings *Settings) any {
	switch flavor {
	case report.FlavorSubmission:
		sub := report.NewSubmission(s)
		if !settings.ShowIssues {
			sub.Issues = nil
		}
		return sub
	case report.FlavorMessage:
		m := report.NewMessage(s)
		if !settings.ShowIssues {
			m.Issues = nil
		}
		return m
	case report.FlavorQuery:
		q := report.NewQuery(s)
		if !settings.ShowIssues {
			q.Issues = nil
		}
		return q
	case report.FlavorEnvironment:
		return report.NewEnvironment(s, h.processFor(settings))
	case report.FlavorClock:
		return report.NewClock(h.now(), settings.Location)
	case report.FlavorRawPost:
		return report.NewRawPost(s)
	case report.FlavorCalculator:
		return report.NewCalculator(s)
	case report.FlavorVariables:
		return report.NewVariables(s)
	}
	return nil
}

func (h *Handler) processFor(s *Settings) report.Process {
	ext := s.Extensions
	if len(ext) == 0 {
		ext = h.process.modules
	}
	return report.Process{
		Version:    h.process.version,
		OS:         h.process.os,
		ServerAPI:  h.process.serverAPI,
		Extensions: ext,
		Now:        h.now().In(s.Location),
	}
}

func (h *Handler) renderPage(flavor report.Flavor, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := h.renderer.Render(&buf, flavor, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeHTML(w http.ResponseWriter, page []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(page)))
	w.WriteHeader(http.StatusOK)
	w.Write(page) //nolint:errcheck
}
