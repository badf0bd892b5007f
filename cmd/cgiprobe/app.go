package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/dskow/cgi-probe/internal/admin"
	"github.com/dskow/cgi-probe/internal/config"
	"github.com/dskow/cgi-probe/internal/gateway"
	"github.com/dskow/cgi-probe/internal/health"
	"github.com/dskow/cgi-probe/internal/metrics"
	"github.com/dskow/cgi-probe/internal/middleware"
	"github.com/dskow/cgi-probe/internal/probe"
	"github.com/dskow/cgi-probe/internal/ratelimit"
	"github.com/dskow/cgi-probe/internal/render"
	"github.com/dskow/cgi-probe/internal/report"
	"github.com/dskow/cgi-probe/internal/tlsutil"
)

// app is one assembled probe host.
type app struct {
	logger   *slog.Logger
	renderer *render.Renderer
	probe    *probe.Handler
	limiter  *ratelimit.Limiter
	certs    *tlsutil.CertLoader
	current  atomic.Pointer[config.Config]
	handler  http.Handler
}

// newHTTPApp assembles the standalone host. Middleware order:
// Recovery → RequestID → SecurityHeaders → Logging → CORS → BodyLimit →
// RateLimit → mux (probe scripts behind Concurrency, health, metrics, admin).
func newHTTPApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a, err := newApp(cfg, logger, gateway.ModeHTTP)
	if err != nil {
		return nil, err
	}

	checks := map[string]health.Check{
		"renderer":      a.rendererCheck,
		"document_root": a.documentRootCheck,
		"host":          probe.HostCheck,
	}
	if cfg.Server.TLSEnabled() {
		a.certs, err = tlsutil.New(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile, logger)
		if err != nil {
			return nil, fmt.Errorf("loading TLS certificate: %w", err)
		}
		checks["tls_certificate"] = a.certs.Check
	}
	a.limiter = ratelimit.New(cfg.RateLimit, cfg.Server.TrustedProxies, logger)

	mux := http.NewServeMux()
	mux.Handle("/", middleware.Concurrency(cfg.Server.MaxConcurrent)(a.probe))
	hc := health.New(checks, logger)
	hc.RegisterRoutes(mux)
	logger.Debug("readiness checks registered", "checks", hc.Names())

	if cfg.Admin.Enabled {
		admin.New(a, a.limiter, cfg.Admin.Allowlist, logger).RegisterRoutes(mux)
		logger.Info("admin endpoints registered", "allowlist", cfg.Admin.Allowlist)
	}

	quiet := []string{"/health", "/ready"}
	if cfg.Metrics.IsEnabled() {
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
		quiet = append(quiet, cfg.Metrics.Path)
		logger.Info("metrics endpoint registered", "path", cfg.Metrics.Path)
	}

	cors := middleware.DefaultCORSConfig()
	if len(cfg.Server.CORSOrigins) > 0 {
		cors.AllowedOrigins = cfg.Server.CORSOrigins
	}

	var handler http.Handler = mux
	handler = a.limiter.Middleware()(handler)
	handler = middleware.BodyLimit(cfg.Server.MaxBodyBytes)(handler)
	handler = middleware.CORS(cors)(handler)
	handler = middleware.Logging(logger, &middleware.LoggingConfig{
		BodyLogging:     cfg.Logging.BodyLogging,
		MaxBodyLogBytes: cfg.Logging.MaxBodyLogBytes,
		ClientIP:        a.limiter.ClientIP,
		QuietPaths:      quiet,
	})(handler)
	handler = middleware.SecurityHeaders()(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(logger)(handler)
	a.handler = handler
	return a, nil
}

// newCGIApp assembles the single-request CGI host. The web server owns
// rate limiting, CORS and scraping, so only the request-scoped
// middleware is kept.
func newCGIApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a, err := newApp(cfg, logger, gateway.ModeCGI)
	if err != nil {
		return nil, err
	}
	var handler http.Handler = a.probe
	handler = middleware.BodyLimit(cfg.Server.MaxBodyBytes)(handler)
	handler = middleware.Logging(logger, &middleware.LoggingConfig{
		BodyLogging:     cfg.Logging.BodyLogging,
		MaxBodyLogBytes: cfg.Logging.MaxBodyLogBytes,
	})(handler)
	handler = middleware.SecurityHeaders()(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(logger)(handler)
	a.handler = handler
	return a, nil
}

func newApp(cfg *config.Config, logger *slog.Logger, mode gateway.Mode) (*app, error) {
	renderer, err := render.New()
	if err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}
	a := &app{
		logger:   logger,
		renderer: renderer,
		probe:    probe.New(renderer, mode, probe.SettingsFrom(cfg.Harness), logger),
	}
	a.current.Store(cfg)
	return a, nil
}

// Current returns the active configuration.
func (a *app) Current() *config.Config { return a.current.Load() }

// applyConfig is the reload callback.
func (a *app) applyConfig(cfg *config.Config) {
	a.current.Store(cfg)
	if a.limiter != nil {
		a.limiter.UpdateConfig(cfg.RateLimit)
	}
	a.probe.UpdateSettings(probe.SettingsFrom(cfg.Harness))
}

func (a *app) close() {
	if a.limiter != nil {
		a.limiter.Stop()
	}
	if a.certs != nil {
		a.certs.Stop()
	}
}

func (a *app) rendererCheck() error {
	return a.renderer.Render(io.Discard, report.FlavorClock, report.NewClock(time.Now(), time.UTC))
}

func (a *app) documentRootCheck() error {
	root := a.Current().Harness.DocumentRoot
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("document root: %w", err)
	}
	if !info.IsDir() {
		return errors.New("document root is not a directory")
	}
	return nil
}
