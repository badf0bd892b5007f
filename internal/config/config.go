// Package config provides YAML configuration loading with validation and
// environment variable substitution for the probe host.
package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level probe configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Harness   HarnessConfig   `yaml:"harness" json:"harness"`
	Admin     AdminConfig     `yaml:"admin" json:"admin"`

	// Warnings holds non-fatal issues found by Load.
	Warnings []string `yaml:"-" json:"-"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
// Enabled defaults to true; set to false to disable metrics.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// IsEnabled returns whether metrics are enabled (defaults to true).
func (m MetricsConfig) IsEnabled() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" json:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	TrustedProxies  []string      `yaml:"trusted_proxies" json:"trusted_proxies"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" json:"max_body_bytes"`
	MaxConcurrent   int           `yaml:"max_concurrent" json:"max_concurrent"` // in-flight probe requests; default: 256
	CORSOrigins     []string      `yaml:"cors_origins" json:"cors_origins"`
	TLSCertFile     string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile      string        `yaml:"tls_key_file" json:"tls_key_file"`
}

// TLSEnabled reports whether both TLS files are configured.
func (s ServerConfig) TLSEnabled() bool {
	return s.TLSCertFile != "" && s.TLSKeyFile != ""
}

// AdminConfig holds the read-only admin endpoints. They are off by default
// and only answer clients inside Allowlist.
type AdminConfig struct {
	Enabled   bool     `yaml:"enabled" json:"enabled"`
	Allowlist []string `yaml:"allowlist" json:"allowlist"` // IPs or CIDRs; default: loopback only
}

// LoggingConfig holds log output and access log settings.
type LoggingConfig struct {
	Level           string `yaml:"level" json:"level"`                           // "debug", "info", "warn", "error"; default: "info"
	Output          string `yaml:"output" json:"output"`                         // "stdout", "stderr", or file path; default: "stdout"
	MaxSizeMB       int    `yaml:"max_size_mb" json:"max_size_mb"`               // max log file size before rotation; default: 100
	MaxBackups      int    `yaml:"max_backups" json:"max_backups"`               // number of rotated files to keep; default: 3
	MaxAgeDays      int    `yaml:"max_age_days" json:"max_age_days"`             // max days to retain rotated files; default: 30
	BodyLogging     bool   `yaml:"body_logging" json:"body_logging"`             // log request bodies; default: false
	MaxBodyLogBytes int    `yaml:"max_body_log_bytes" json:"max_body_log_bytes"` // max bytes of body to log; default: 4096
}

// RateLimitConfig holds the per-client rate limiter settings.
type RateLimitConfig struct {
	Enabled           *bool   `yaml:"enabled" json:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" json:"burst_size"`
}

// IsEnabled returns whether rate limiting is on (defaults to true).
func (r RateLimitConfig) IsEnabled() bool {
	if r.Enabled == nil {
		return true
	}
	return *r.Enabled
}

// HarnessConfig holds what the probe pages report about their host.
type HarnessConfig struct {
	ServerSoftware string   `yaml:"server_software" json:"server_software"` // SERVER_SOFTWARE; default: "cgi-probe"
	DocumentRoot   string   `yaml:"document_root" json:"document_root"`     // DOCUMENT_ROOT; default: working directory
	Timezone       string   `yaml:"timezone" json:"timezone"`               // IANA name for the clock page; default: "Local"
	Extensions     []string `yaml:"extensions" json:"extensions"`           // listed on the environment page; default: linked modules
	DecodeIssues   *bool    `yaml:"decode_issues" json:"decode_issues"`     // show malformed escapes on pages; default: true
}

// ShowDecodeIssues returns whether decode issues are rendered (defaults to true).
func (h HarnessConfig) ShowDecodeIssues() bool {
	if h.DecodeIssues == nil {
		return true
	}
	return *h.DecodeIssues
}

// Location resolves Timezone. It is only called after validate accepted it.
func (h HarnessConfig) Location() *time.Location {
	loc, err := time.LoadLocation(h.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// ValidLogLevels are the accepted log level strings.
var ValidLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns in s with the corresponding
// environment variable value.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		key := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return match
	})
}

// Load reads and parses a YAML configuration file, applies environment
// variable substitution, sets defaults, and validates the result.
// Non-fatal issues are left on cfg.Warnings.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg, err := LoadFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromBytes parses configuration from raw YAML bytes. Empty input
// yields the defaults.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.Warnings = collectWarnings(&cfg)

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg, err := LoadFromBytes(nil)
	if err != nil {
		// Defaults always validate.
		panic(err)
	}
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 30
	}
	if cfg.Logging.MaxBodyLogBytes == 0 {
		cfg.Logging.MaxBodyLogBytes = 4096
	}

	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.MaxConcurrent == 0 {
		cfg.Server.MaxConcurrent = 256
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1048576 // 1 MB
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 50
	}
	if cfg.RateLimit.BurstSize == 0 {
		cfg.RateLimit.BurstSize = 100
	}

	// Harness defaults
	if cfg.Harness.ServerSoftware == "" {
		cfg.Harness.ServerSoftware = "cgi-probe"
	}
	if cfg.Harness.DocumentRoot == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.Harness.DocumentRoot = wd
		}
	}
	if cfg.Harness.Timezone == "" {
		cfg.Harness.Timezone = "Local"
	}

	if cfg.Admin.Enabled && len(cfg.Admin.Allowlist) == 0 {
		cfg.Admin.Allowlist = []string{"127.0.0.0/8", "::1/128"}
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}
	if cfg.Server.MaxConcurrent < 0 {
		return fmt.Errorf("server.max_concurrent must be non-negative")
	}
	if cfg.Server.ReadTimeout < 0 || cfg.Server.WriteTimeout < 0 || cfg.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server timeouts must be non-negative")
	}
	for i, p := range cfg.Server.TrustedProxies {
		if _, _, err := net.ParseCIDR(p); err != nil && net.ParseIP(p) == nil {
			return fmt.Errorf("server.trusted_proxies[%d]: invalid IP or CIDR %q", i, p)
		}
	}
	if (cfg.Server.TLSCertFile == "") != (cfg.Server.TLSKeyFile == "") {
		return fmt.Errorf("server.tls_cert_file and server.tls_key_file must be set together")
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", cfg.Metrics.Path)
	}
	if cfg.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be positive")
	}
	if cfg.RateLimit.BurstSize <= 0 {
		return fmt.Errorf("rate_limit.burst_size must be positive")
	}

	// Logging validation
	if !ValidLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "stdout" && cfg.Logging.Output != "stderr" {
		if cfg.Logging.MaxSizeMB < 1 {
			return fmt.Errorf("logging.max_size_mb must be positive when output is a file path")
		}
	}
	if cfg.Logging.BodyLogging && cfg.Logging.MaxBodyLogBytes < 1 {
		return fmt.Errorf("logging.max_body_log_bytes must be positive when body_logging is enabled")
	}

	// Harness validation
	if _, err := time.LoadLocation(cfg.Harness.Timezone); err != nil {
		return fmt.Errorf("harness.timezone: %w", err)
	}
	for i, ext := range cfg.Harness.Extensions {
		if strings.TrimSpace(ext) == "" {
			return fmt.Errorf("harness.extensions[%d] must not be empty", i)
		}
	}

	for i, a := range cfg.Admin.Allowlist {
		if _, _, err := net.ParseCIDR(a); err != nil && net.ParseIP(a) == nil {
			return fmt.Errorf("admin.allowlist[%d]: invalid IP or CIDR %q", i, a)
		}
	}

	return nil
}

func collectWarnings(cfg *Config) []string {
	var warnings []string
	if strings.Contains(cfg.Harness.DocumentRoot, "${") {
		warnings = append(warnings, "harness.document_root contains unresolved environment variable")
	}
	if strings.Contains(cfg.Harness.ServerSoftware, "${") {
		warnings = append(warnings, "harness.server_software contains unresolved environment variable")
	}
	if cfg.Admin.Enabled && !cfg.Server.TLSEnabled() {
		for _, a := range cfg.Admin.Allowlist {
			if a == "0.0.0.0/0" || a == "::/0" {
				warnings = append(warnings, "admin endpoints are open to every client over plain HTTP")
				break
			}
		}
	}
	if cfg.Logging.BodyLogging {
		warnings = append(warnings, "logging.body_logging is enabled; form bodies are logged with sensitive fields redacted")
	}
	return warnings
}
