package config

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 300 * time.Millisecond

// Reloader keeps the active configuration in sync with its file. Changes
// are picked up from filesystem events and, where the platform has one,
// a reload signal.
type Reloader struct {
	path    string
	logger  *slog.Logger
	current atomic.Pointer[Config]

	mu        sync.Mutex // guards callbacks and serializes Reload
	callbacks []func(*Config)

	watcher  *fsnotify.Watcher
	signals  chan os.Signal
	done     chan struct{}
	stopOnce sync.Once
}

// NewReloader returns a Reloader for path seeded with initial.
func NewReloader(path string, initial *Config, logger *slog.Logger) *Reloader {
	r := &Reloader{
		path:   path,
		logger: logger,
		done:   make(chan struct{}),
	}
	r.current.Store(initial)
	return r
}

// Current returns the active configuration.
func (r *Reloader) Current() *Config { return r.current.Load() }

// OnReload registers fn to run, in registration order, after every
// successful reload.
func (r *Reloader) OnReload(fn func(*Config)) {
	r.mu.Lock()
	r.callbacks = append(r.callbacks, fn)
	r.mu.Unlock()
}

// Start watches the directory holding the config file, so saves that
// replace the file by rename are seen too, and subscribes to the reload
// signals of the platform.
func (r *Reloader) Start() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(r.path)); err != nil {
		w.Close()
		return fmt.Errorf("watching %s: %w", r.path, err)
	}
	r.watcher = w

	if len(reloadSignals) > 0 {
		r.signals = make(chan os.Signal, 1)
		signal.Notify(r.signals, reloadSignals...)
	}

	go r.loop()
	r.logger.Info("config watcher started", "path", r.path, "signals", len(reloadSignals) > 0)
	return nil
}

// Stop ends watching. It is safe to call more than once, and before Start.
func (r *Reloader) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		if r.signals != nil {
			signal.Stop(r.signals)
		}
		if r.watcher != nil {
			r.watcher.Close()
		}
	})
}

// Reload reads and validates the file. On success the new configuration
// becomes current and the callbacks run; on failure the current one is
// kept.
func (r *Reloader) Reload() error {
	cfg, err := Load(r.path)
	if err != nil {
		r.logger.Error("config reload failed, keeping current configuration", "path", r.path, "error", err)
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.current.Swap(cfg)
	changed, restart := diff(old, cfg)
	r.logger.Info("configuration reloaded", "path", r.path, "changed", changed)
	if len(restart) > 0 {
		r.logger.Warn("some changes take effect only after a restart", "keys", restart)
	}
	for _, w := range cfg.Warnings {
		r.logger.Warn("config warning", "warning", w)
	}

	for _, fn := range r.callbacks {
		fn(cfg)
	}
	return nil
}

func (r *Reloader) loop() {
	var (
		debounce *time.Timer
		fire     <-chan time.Time
	)
	name := filepath.Clean(r.path)
	for {
		select {
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != name || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(reloadDebounce)
			} else {
				debounce.Reset(reloadDebounce)
			}
			fire = debounce.C
		case <-fire:
			fire = nil
			r.Reload() //nolint:errcheck
		case sig := <-r.signals:
			r.logger.Info("reload signal received", "signal", sig.String())
			r.Reload() //nolint:errcheck
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("config watcher error", "error", err)
		case <-r.done:
			if debounce != nil {
				debounce.Stop()
			}
			return
		}
	}
}

// restartKeys are read once at startup; reloading them is logged but has
// no effect on the running process.
var restartKeys = []string{
	"server.port", "server.max_concurrent", "server.tls",
	"metrics", "admin", "logging",
}

// diff names the configuration keys that differ between old and new and
// the subset of them that need a restart.
func diff(old, new *Config) (changed, restart []string) {
	add := func(key string, differs bool) {
		if !differs {
			return
		}
		changed = append(changed, key)
		if slices.Contains(restartKeys, key) {
			restart = append(restart, key)
		}
	}

	add("server.port", old.Server.Port != new.Server.Port)
	add("server.max_concurrent", old.Server.MaxConcurrent != new.Server.MaxConcurrent)
	add("server.tls", old.Server.TLSCertFile != new.Server.TLSCertFile || old.Server.TLSKeyFile != new.Server.TLSKeyFile)
	add("metrics", old.Metrics.IsEnabled() != new.Metrics.IsEnabled() || old.Metrics.Path != new.Metrics.Path)
	add("admin", old.Admin.Enabled != new.Admin.Enabled || !slices.Equal(old.Admin.Allowlist, new.Admin.Allowlist))
	add("logging", old.Logging.Level != new.Logging.Level || old.Logging.Output != new.Logging.Output)
	add("rate_limit", old.RateLimit.IsEnabled() != new.RateLimit.IsEnabled() ||
		old.RateLimit.RequestsPerSecond != new.RateLimit.RequestsPerSecond ||
		old.RateLimit.BurstSize != new.RateLimit.BurstSize)

	oh, nh := old.Harness, new.Harness
	add("harness.server_software", oh.ServerSoftware != nh.ServerSoftware)
	add("harness.document_root", oh.DocumentRoot != nh.DocumentRoot)
	add("harness.timezone", oh.Timezone != nh.Timezone)
	add("harness.extensions", !slices.Equal(oh.Extensions, nh.Extensions))
	add("harness.decode_issues", oh.ShowDecodeIssues() != nh.ShowDecodeIssues())
	return changed, restart
}
