package gateway

import (
	"fmt"
	"io"
	"net/http"
	"net/http/cgi"
	"os"
	"strings"
)

// Serve runs h for the single request described by the process
// environment and stdin, writing the CGI response to stdout.
func Serve(h http.Handler) error {
	if err := cgi.Serve(h); err != nil {
		return fmt.Errorf("serving cgi request: %w", err)
	}
	return nil
}

// ProcessEnviron returns the process environment as a map. For a CGI
// child this is the full variable set the web server provided.
func ProcessEnviron() map[string]string {
	return EnvironFrom(os.Environ())
}

// EnvironFrom converts KEY=VALUE pairs to a map. Later duplicates win and
// entries without "=" are dropped.
func EnvironFrom(list []string) map[string]string {
	env := make(map[string]string, len(list))
	for _, kv := range list {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}
	return env
}

// RequestFromEnv builds the request a CGI child would see for env, with
// body as stdin.
func RequestFromEnv(env map[string]string, body io.Reader) (*http.Request, error) {
	r, err := cgi.RequestFromMap(env)
	if err != nil {
		return nil, fmt.Errorf("building cgi request: %w", err)
	}
	if r.ContentLength > 0 && body != nil {
		r.Body = io.NopCloser(io.LimitReader(body, r.ContentLength))
	}
	return r, nil
}
