package probe

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/dskow/cgi-probe/internal/gateway"
)

// processInfo is the part of report.Process that does not change while
// the process runs.
type processInfo struct {
	version   string
	os        string
	serverAPI string
	modules   []string
}

func newProcessInfo(mode gateway.Mode) processInfo {
	return processInfo{
		version:   buildVersion(),
		os:        platform(),
		serverAPI: string(mode),
		modules:   linkedModules(),
	}
}

// buildVersion reports the main module version and the Go release it was
// built with.
func buildVersion() string {
	version := "(devel)"
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" {
		version = bi.Main.Version
	}
	return fmt.Sprintf("cgi-probe %s (%s)", version, runtime.Version())
}

// platform names the operating system, enriched with the distribution when
// the host can be queried.
func platform() string {
	info, err := host.Info()
	if err != nil || info.Platform == "" {
		return runtime.GOOS
	}
	parts := []string{runtime.GOOS, info.Platform}
	if info.PlatformVersion != "" {
		parts = append(parts, info.PlatformVersion)
	}
	return strings.Join(parts, " ")
}

// linkedModules lists the dependency modules compiled into the binary.
// They stand in for the loaded extensions an interpreter would report.
func linkedModules() []string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}
	mods := make([]string, 0, len(bi.Deps))
	for _, d := range bi.Deps {
		mods = append(mods, d.Path)
	}
	return mods
}

// HostCheck is a readiness check that the host information source is
// reachable.
func HostCheck() error {
	if _, err := host.Uptime(); err != nil {
		return fmt.Errorf("reading host uptime: %w", err)
	}
	return nil
}
