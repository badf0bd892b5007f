package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newTestLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	return logger, &buf
}

func writeTestConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "cgiprobe.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// newTestReloader writes content to a temp file and returns a Reloader
// seeded with it.
func newTestReloader(t *testing.T, content string) (*Reloader, string, *bytes.Buffer) {
	t.Helper()
	logger, buf := newTestLogger()
	path := writeTestConfig(t, t.TempDir(), content)
	initial, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load initial config: %v", err)
	}
	return NewReloader(path, initial, logger), path, buf
}

func rewrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to update config: %v", err)
	}
}

const validConfig = `
rate_limit:
  requests_per_second: 10
  burst_size: 20
harness:
  server_software: "probe/1"
  timezone: "UTC"
`

const validConfigUpdated = `
rate_limit:
  requests_per_second: 40
  burst_size: 80
harness:
  server_software: "probe/2"
  timezone: "Europe/Berlin"
  decode_issues: false
`

const invalidConfig = `
harness:
  timezone: "Not/AZone"
`

func TestReloader_Current(t *testing.T) {
	r, _, _ := newTestReloader(t, validConfig)
	if got := r.Current().Harness.ServerSoftware; got != "probe/1" {
		t.Errorf("expected server software probe/1, got %q", got)
	}
}

func TestReloader_Reload_ValidConfig(t *testing.T) {
	r, path, logBuf := newTestReloader(t, validConfig)
	rewrite(t, path, validConfigUpdated)

	if err := r.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	cfg := r.Current()
	if cfg.RateLimit.RequestsPerSecond != 40 || cfg.RateLimit.BurstSize != 80 {
		t.Errorf("expected 40/80 after reload, got %v/%v", cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.BurstSize)
	}
	if cfg.Harness.Timezone != "Europe/Berlin" {
		t.Errorf("expected timezone Europe/Berlin, got %q", cfg.Harness.Timezone)
	}
	if cfg.Harness.ShowDecodeIssues() {
		t.Error("expected decode issues to be disabled after reload")
	}
	if strings.Contains(logBuf.String(), "after a restart") {
		t.Error("no restart-only key changed")
	}
}

func TestReloader_Reload_InvalidConfig(t *testing.T) {
	r, path, logBuf := newTestReloader(t, validConfig)
	rewrite(t, path, invalidConfig)

	if err := r.Reload(); err == nil {
		t.Fatal("expected reload to fail for invalid config")
	}
	if got := r.Current().Harness.Timezone; got != "UTC" {
		t.Errorf("expected original timezone preserved, got %q", got)
	}
	if !strings.Contains(logBuf.String(), "config reload failed") {
		t.Error("expected the failure to be logged")
	}
}

func TestReloader_OnReload_Order(t *testing.T) {
	r, path, _ := newTestReloader(t, validConfig)

	var got []string
	r.OnReload(func(cfg *Config) { got = append(got, "first:"+cfg.Harness.ServerSoftware) })
	r.OnReload(func(cfg *Config) { got = append(got, "second:"+cfg.Harness.ServerSoftware) })

	rewrite(t, path, validConfigUpdated)
	r.Reload() //nolint:errcheck

	want := []string{"first:probe/2", "second:probe/2"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("callbacks (-want +got):\n%s", diff)
	}
}

func TestReloader_OnReload_NotCalledOnFailure(t *testing.T) {
	r, path, _ := newTestReloader(t, validConfig)

	called := false
	r.OnReload(func(*Config) { called = true })

	rewrite(t, path, invalidConfig)
	r.Reload() //nolint:errcheck

	if called {
		t.Fatal("callback should not run after a failed reload")
	}
}

func waitReload(t *testing.T, r *Reloader) <-chan *Config {
	t.Helper()
	ch := make(chan *Config, 4)
	r.OnReload(func(cfg *Config) {
		select {
		case ch <- cfg:
		default:
		}
	})
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(r.Stop)
	return ch
}

func TestReloader_FileWatch(t *testing.T) {
	r, path, _ := newTestReloader(t, validConfig)
	reloaded := waitReload(t, r)

	rewrite(t, path, validConfigUpdated)

	select {
	case cfg := <-reloaded:
		if cfg.Harness.ServerSoftware != "probe/2" {
			t.Errorf("expected probe/2 after file watch reload, got %q", cfg.Harness.ServerSoftware)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("file watch reload timed out")
	}
}

func TestReloader_FileWatch_AtomicReplace(t *testing.T) {
	r, path, _ := newTestReloader(t, validConfig)
	reloaded := waitReload(t, r)

	tmp := path + ".tmp"
	rewrite(t, tmp, validConfigUpdated)
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Harness.ServerSoftware != "probe/2" {
			t.Errorf("expected probe/2 after replace, got %q", cfg.Harness.ServerSoftware)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reload after atomic replace timed out")
	}
}

func TestReloader_IgnoresSiblingFiles(t *testing.T) {
	r, path, _ := newTestReloader(t, validConfig)
	reloaded := waitReload(t, r)

	rewrite(t, filepath.Join(filepath.Dir(path), "notes.txt"), "unrelated")

	select {
	case <-reloaded:
		t.Fatal("a sibling file must not trigger a reload")
	case <-time.After(2 * reloadDebounce):
	}
}

func TestReloader_StartMissingDirectory(t *testing.T) {
	logger, _ := newTestLogger()
	r := NewReloader(filepath.Join(t.TempDir(), "gone", "cgiprobe.yaml"), Default(), logger)
	if err := r.Start(); err == nil {
		t.Error("expected an error for a missing directory")
	}
	r.Stop()
}

func TestReloader_StopTwice(t *testing.T) {
	r, _, _ := newTestReloader(t, validConfig)
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.Stop()
	r.Stop()
}

func TestDiff(t *testing.T) {
	old := Default()
	cfg := Default()
	cfg.Server.Port = 9090
	cfg.RateLimit.BurstSize = 7
	cfg.Harness.Timezone = "Asia/Tokyo"
	cfg.Harness.Extensions = []string{"goldmark"}

	changed, restart := diff(old, cfg)
	want := []string{"server.port", "rate_limit", "harness.timezone", "harness.extensions"}
	if d := cmp.Diff(want, changed); d != "" {
		t.Errorf("changed (-want +got):\n%s", d)
	}
	if d := cmp.Diff([]string{"server.port"}, restart); d != "" {
		t.Errorf("restart (-want +got):\n%s", d)
	}

	if changed, _ := diff(old, Default()); len(changed) != 0 {
		t.Errorf("identical configs reported changes %v", changed)
	}
}

func TestReloader_RestartWarning(t *testing.T) {
	r, path, logBuf := newTestReloader(t, validConfig)
	rewrite(t, path, validConfig+"server:\n  port: 9191\n")
	if err := r.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if !strings.Contains(logBuf.String(), "after a restart") || !strings.Contains(logBuf.String(), "server.port") {
		t.Errorf("expected a restart warning for server.port, got %s", logBuf.String())
	}
}
