// Package gateway adapts an inbound *http.Request into the explicit
// snapshot.Fields value, playing the part of a CGI host: it reads the
// body once and builds the CGI/1.1 variable superset for the request.
package gateway

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/dskow/cgi-probe/internal/routing"
	"github.com/dskow/cgi-probe/internal/snapshot"
)

// Mode is how the request reached the process.
type Mode string

const (
	// ModeHTTP is the standalone HTTP listener.
	ModeHTTP Mode = "http"
	// ModeCGI is a CGI child invoked by a web server.
	ModeCGI Mode = "cgi"
)

const (
	// Interface is the GATEWAY_INTERFACE value.
	Interface = "CGI/1.1"
	// DefaultServerSoftware is used when the environment does not name one.
	DefaultServerSoftware = "cgi-probe"
)

var (
	// ErrBodyRead is returned when the request body could not be read.
	ErrBodyRead = errors.New("reading request body")
	// ErrBodyTooLarge is returned when the body exceeds the configured limit.
	ErrBodyTooLarge = errors.New("request body too large")
)

// FromRequest reads the body of r and returns the fields the core decodes.
// The variable superset combines the process environment env, the
// variables derived from r the way a CGI host sets them, and the
// configured overrides. Precedence depends on mode: a CGI child trusts
// the web server, so env wins over everything; in HTTP mode the request
// wins over env and overrides replace only the keys they name. A body
// shorter than its declared length is not an error; the snapshot reports
// it as truncated.
func FromRequest(r *http.Request, mode Mode, env, overrides map[string]string) (snapshot.Fields, error) {
	body, err := readBody(r)
	if err != nil {
		return snapshot.Fields{}, err
	}

	f := snapshot.Fields{
		Method:      r.Method,
		Path:        r.URL.Path,
		QueryString: r.URL.RawQuery,
		Body:        body,
	}
	if vs, ok := r.Header["Content-Type"]; ok && len(vs) > 0 {
		f.ContentType, f.HasContentType = vs[0], true
	}
	f.ContentLength, f.HasContentLength = declaredLength(r, mode, env)

	derived := Variables(r, f)
	vars := make(map[string]string, len(env)+len(derived)+len(overrides))
	if mode == ModeCGI {
		maps.Copy(vars, derived)
		maps.Copy(vars, overrides)
		maps.Copy(vars, env)
	} else {
		maps.Copy(vars, env)
		maps.Copy(vars, derived)
		maps.Copy(vars, overrides)
	}
	addPathVars(vars)
	f.Environ = vars
	return f, nil
}

// readBody reads what the client sent, never past a declared length.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return []byte{}, nil
	}
	var src io.Reader = r.Body
	if r.ContentLength >= 0 {
		src = io.LimitReader(r.Body, r.ContentLength)
	}
	b, err := io.ReadAll(src)
	if err == nil || errors.Is(err, io.ErrUnexpectedEOF) {
		return b, nil
	}
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrBodyTooLarge, mbe.Limit)
	}
	return nil, fmt.Errorf("%w: %w", ErrBodyRead, err)
}

// declaredLength reports the Content-Length the client declared. A GET
// without the header has ContentLength 0 in net/http, so presence comes
// from the header, or from CONTENT_LENGTH for a CGI child.
func declaredLength(r *http.Request, mode Mode, env map[string]string) (int64, bool) {
	if mode == ModeCGI {
		v, ok := env["CONTENT_LENGTH"]
		if !ok || v == "" {
			return 0, false
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return 0, false
		}
		return n, true
	}
	if r.ContentLength > 0 || (r.ContentLength == 0 && r.Header.Get("Content-Length") != "") {
		return r.ContentLength, true
	}
	return 0, false
}

// Variables builds the CGI variables for r. Optional variables are only
// set when the request carries the value.
func Variables(r *http.Request, f snapshot.Fields) map[string]string {
	vars := map[string]string{
		"GATEWAY_INTERFACE": Interface,
		"REDIRECT_STATUS":   "200",
		"SERVER_SOFTWARE":   DefaultServerSoftware,
		"SERVER_PROTOCOL":   r.Proto,
		"REQUEST_METHOD":    r.Method,
		"REQUEST_URI":       requestURI(r),
		"REQUEST_SCHEME":    scheme(r),
		"QUERY_STRING":      r.URL.RawQuery,
	}

	name, port := serverNameAndPort(r)
	vars["SERVER_NAME"] = name
	if port != "" {
		vars["SERVER_PORT"] = port
	}
	if r.TLS != nil {
		vars["HTTPS"] = "on"
	}

	if host, rport, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		vars["REMOTE_ADDR"] = host
		vars["REMOTE_PORT"] = rport
	} else if r.RemoteAddr != "" {
		vars["REMOTE_ADDR"] = r.RemoteAddr
	}

	if f.HasContentType {
		vars["CONTENT_TYPE"] = f.ContentType
	}
	if f.HasContentLength {
		vars["CONTENT_LENGTH"] = strconv.FormatInt(f.ContentLength, 10)
	}

	if s, ok := routing.SplitScript(r.URL.Path, routing.ScriptPrefix); ok {
		vars["SCRIPT_NAME"] = s.ScriptName
		if s.PathInfo != "" {
			vars["PATH_INFO"] = s.PathInfo
		}
	} else {
		vars["SCRIPT_NAME"] = r.URL.Path
	}

	if r.Host != "" {
		vars["HTTP_HOST"] = r.Host
	}
	for k, vs := range r.Header {
		k = strings.ReplaceAll(strings.ToUpper(k), "-", "_")
		switch k {
		case "PROXY":
			// Never forward a Proxy header as HTTP_PROXY (httpoxy).
			continue
		case "CONTENT_TYPE", "CONTENT_LENGTH":
			// Exported without the HTTP_ prefix above.
			continue
		}
		vars["HTTP_"+k] = strings.Join(vs, ", ")
	}
	return vars
}

// addPathVars derives the filesystem variables once DOCUMENT_ROOT is
// known. Values already present are left alone.
func addPathVars(vars map[string]string) {
	root := vars["DOCUMENT_ROOT"]
	if root == "" {
		return
	}
	if _, ok := vars["SCRIPT_FILENAME"]; !ok && vars["SCRIPT_NAME"] != "" {
		vars["SCRIPT_FILENAME"] = path.Join(root, vars["SCRIPT_NAME"])
	}
	if _, ok := vars["PATH_TRANSLATED"]; !ok && vars["PATH_INFO"] != "" {
		vars["PATH_TRANSLATED"] = path.Join(root, vars["PATH_INFO"])
	}
}

func requestURI(r *http.Request) string {
	if r.RequestURI != "" {
		return r.RequestURI
	}
	return r.URL.RequestURI()
}

func scheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// serverNameAndPort splits the Host header, falling back to the local
// listener address and then the scheme default port.
func serverNameAndPort(r *http.Request) (string, string) {
	host := r.Host
	if h, p, err := net.SplitHostPort(host); err == nil {
		return h, p
	}
	if addr, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
		if _, p, err := net.SplitHostPort(addr.String()); err == nil {
			return host, p
		}
	}
	if host == "" {
		return "", ""
	}
	if r.TLS != nil {
		return host, "443"
	}
	return host, "80"
}
