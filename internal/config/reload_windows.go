//go:build windows

package config

import "os"

// Windows has no SIGHUP; only file changes trigger a reload.
var reloadSignals []os.Signal
