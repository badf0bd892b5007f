// Package middleware provides common HTTP middleware for the probe host
// including structured logging, CORS, and panic recovery.
package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/dskow/cgi-probe/internal/params"
)

// statusRecorder wraps http.ResponseWriter to capture the status code and
// response size.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(b)
	sr.written += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sr *statusRecorder) Unwrap() http.ResponseWriter { return sr.ResponseWriter }

// LoggingConfig holds the runtime options for the Logging middleware.
type LoggingConfig struct {
	BodyLogging     bool
	MaxBodyLogBytes int

	// ClientIP resolves the caller address; nil logs RemoteAddr.
	ClientIP func(*http.Request) string

	// QuietPaths are logged at debug level (scrapers and probes).
	QuietPaths []string
}

// Logging returns middleware that logs each request as structured JSON
// including method, path, status code, latency, and client IP. cfg may be
// nil for the defaults.
func Logging(logger *slog.Logger, cfg *LoggingConfig) func(http.Handler) http.Handler {
	if cfg == nil {
		cfg = &LoggingConfig{}
	}
	maxBody := 4096
	if cfg.MaxBodyLogBytes > 0 {
		maxBody = cfg.MaxBodyLogBytes
	}
	clientIP := cfg.ClientIP
	if clientIP == nil {
		clientIP = func(r *http.Request) string { return r.RemoteAddr }
	}
	quiet := make(map[string]bool, len(cfg.QuietPaths))
	for _, p := range cfg.QuietPaths {
		quiet[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			level := slog.LevelInfo
			if quiet[r.URL.Path] {
				level = slog.LevelDebug
			}
			if !logger.Enabled(r.Context(), level) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()

			var reqBody string
			if cfg.BodyLogging && r.Body != nil && shouldLogBody(r.Header.Get("Content-Type")) {
				reqBody = captureRequestBody(r, maxBody)
			}

			recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(recorder, r)

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", recorder.statusCode,
				"bytes", recorder.written,
				"latency_ms", time.Since(start).Milliseconds(),
				"client_ip", clientIP(r),
				"request_id", GetRequestID(r.Context()),
			}
			if reqBody != "" {
				attrs = append(attrs, "request_body", reqBody)
			}

			logger.Log(r.Context(), level, "request", attrs...)
		})
	}
}

// shouldLogBody returns true if the content type is text-based.
func shouldLogBody(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "json") ||
		strings.HasPrefix(ct, "text/") ||
		strings.Contains(ct, "xml") ||
		strings.Contains(ct, "form-urlencoded")
}

// captureRequestBody reads and replaces r.Body, returning up to maxBytes
// of the body as a redacted string. Downstream handlers see the body
// unchanged.
func captureRequestBody(r *http.Request, maxBytes int) string {
	var buf bytes.Buffer
	captured, _ := io.ReadAll(io.LimitReader(io.TeeReader(r.Body, &buf), int64(maxBytes)+1))
	r.Body = readCloser{io.MultiReader(&buf, r.Body), r.Body}

	truncated := len(captured) > maxBytes
	if truncated {
		captured = captured[:maxBytes]
	}

	var s string
	if strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "form-urlencoded") {
		s = redactForm(string(captured))
	} else {
		s = redactSensitive(string(captured))
	}
	if truncated {
		s += "...[truncated]"
	}
	return s
}

type readCloser struct {
	io.Reader
	io.Closer
}

// sensitiveName matches parameter and JSON key names whose values are
// never logged.
var sensitiveName = regexp.MustCompile(`(?i)^(password|passwd|secret|token|key|api_key|authorization|credit_card)$`)

// sensitiveFieldRe matches JSON key-value pairs for the same names.
var sensitiveFieldRe = regexp.MustCompile(
	`(?i)"(?:password|passwd|secret|token|key|api_key|authorization|credit_card)"\s*:\s*"[^"]*"`,
)

// redactSensitive masks sensitive JSON string values.
func redactSensitive(s string) string {
	return sensitiveFieldRe.ReplaceAllStringFunc(s, func(match string) string {
		closing := strings.LastIndex(match, `"`)
		opening := strings.LastIndex(match[:closing], `"`)
		if opening == -1 {
			return match
		}
		return match[:opening+1] + "***" + `"`
	})
}

// redactForm masks sensitive fields of a URL-encoded body. Order and
// duplicates are kept so the logged body still mirrors what was sent.
func redactForm(s string) string {
	list := params.Decode(s)
	redacted := false
	for i, p := range list {
		if sensitiveName.MatchString(p.Key) {
			list[i].Value = "***"
			redacted = true
		}
	}
	if !redacted {
		return s
	}
	return list.Encode()
}
