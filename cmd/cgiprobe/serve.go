package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dskow/cgi-probe/internal/config"
	"github.com/dskow/cgi-probe/internal/logging"
	"github.com/dskow/cgi-probe/internal/metrics"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the probe scripts over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	addConfigFlag(cmd.Flags(), &configPath, defaultConfigPath)
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer closer.Close()

	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "message", w)
	}
	logger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"metrics_enabled", cfg.Metrics.IsEnabled(),
		"rate_limit_enabled", cfg.RateLimit.IsEnabled(),
		"trusted_proxies", len(cfg.Server.TrustedProxies),
		"max_body_bytes", cfg.Server.MaxBodyBytes,
		"document_root", cfg.Harness.DocumentRoot,
		"tls_enabled", cfg.Server.TLSEnabled(),
		"admin_enabled", cfg.Admin.Enabled,
	)

	if cfg.Metrics.IsEnabled() {
		metrics.Init()
	}

	a, err := newHTTPApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if configPath != "" {
		reloader := config.NewReloader(configPath, cfg, logger)
		reloader.OnReload(a.applyConfig)
		if err := reloader.Start(); err != nil {
			logger.Warn("config hot reload disabled", "error", err)
		}
		defer reloader.Stop()
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      a.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	if a.certs != nil {
		srv.TLSConfig = a.certs.TLSConfig()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting cgi-probe", "addr", srv.Addr, "tls", srv.TLSConfig != nil)
		var err error
		if srv.TLSConfig != nil {
			// Certificates come from TLSConfig.GetCertificate.
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	logger.Info("draining in-flight requests", "timeout", cfg.Server.ShutdownTimeout)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("cgi-probe stopped gracefully")
	return nil
}
