package probe

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dskow/cgi-probe/internal/apierror"
	"github.com/dskow/cgi-probe/internal/gateway"
	"github.com/dskow/cgi-probe/internal/metrics"
	"github.com/dskow/cgi-probe/internal/render"
)

var fixedNow = time.Date(2026, 10, 18, 9, 5, 7, 0, time.UTC)

func newTestHandler(t *testing.T, mode gateway.Mode, s Settings, env map[string]string) *Handler {
	t.Helper()
	r, err := render.New()
	if err != nil {
		t.Fatalf("render.New: %v", err)
	}
	h := New(r, mode, s, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	h.environ = func() map[string]string { return env }
	h.now = func() time.Time { return fixedNow }
	return h
}

func defaultSettings() Settings {
	return Settings{
		ServerSoftware: "cgi-probe",
		DocumentRoot:   "/srv/probe",
		Location:       time.UTC,
		ShowIssues:     true,
	}
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_FormSubmission(t *testing.T) {
	h := newTestHandler(t, gateway.ModeHTTP, defaultSettings(), nil)

	req := httptest.NewRequest("POST", "/cgi-bin/form", strings.NewReader("username=bob&email=bob%40x.com"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := serve(h, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"<title>Form Submitted!</title>",
		"<strong>Username:</strong> bob",
		"<strong>Email:</strong> bob@x.com",
		"username=bob&amp;email=bob%40x.com",
		"Content-Length: 30 bytes",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("response missing %q", want)
		}
	}
}

func TestHandler_QueryOrder(t *testing.T) {
	h := newTestHandler(t, gateway.ModeHTTP, defaultSettings(), nil)
	rec := serve(h, httptest.NewRequest("GET", "/cgi-bin/query?name=foo&value=bar&name=baz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<strong>Name:</strong> foo") {
		t.Error("expected the first name occurrence")
	}
	first := strings.Index(body, `<span class="param-value">foo</span>`)
	second := strings.Index(body, `<span class="param-value">bar</span>`)
	third := strings.Index(body, `<span class="param-value">baz</span>`)
	if first < 0 || !(first < second && second < third) {
		t.Errorf("parameters not in arrival order: %d %d %d", first, second, third)
	}
}

func TestHandler_ScriptSuffixes(t *testing.T) {
	h := newTestHandler(t, gateway.ModeHTTP, defaultSettings(), nil)
	for _, path := range []string{"/cgi-bin/time", "/cgi-bin/time.php", "/cgi-bin/time.py", "/cgi-bin/time/extra"} {
		rec := serve(h, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "2026-10-18 09:05:07") {
			t.Errorf("%s: status %d, clock missing", path, rec.Code)
		}
	}
}

func TestHandler_NotFound(t *testing.T) {
	h := newTestHandler(t, gateway.ModeHTTP, defaultSettings(), nil)
	for _, path := range []string{"/cgi-bin/nope", "/cgi-bin/", "/cgi-bin", "/other"} {
		rec := serve(h, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, rec.Code)
			continue
		}
		var resp apierror.ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if resp.ErrorCode != string(apierror.NotFound) {
			t.Errorf("%s: error_code = %q", path, resp.ErrorCode)
		}
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h := newTestHandler(t, gateway.ModeHTTP, defaultSettings(), nil)

	tests := []struct {
		method, path string
		want         int
	}{
		{"POST", "/cgi-bin/query", http.StatusMethodNotAllowed},
		{"DELETE", "/cgi-bin/form", http.StatusMethodNotAllowed},
		{"PUT", "/cgi-bin/post", http.StatusOK},
		{"GET", "/cgi-bin/post", http.StatusOK},
		{"POST", "/", http.StatusMethodNotAllowed},
		{"HEAD", "/cgi-bin/env", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := serve(h, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
			if tt.want == http.StatusMethodNotAllowed && rec.Header().Get("Allow") == "" {
				t.Error("expected an Allow header")
			}
		})
	}
}

func TestHandler_Index(t *testing.T) {
	h := newTestHandler(t, gateway.ModeHTTP, defaultSettings(), nil)
	rec := serve(h, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `href="/cgi-bin/form"`) {
		t.Errorf("unexpected index response %d", rec.Code)
	}
}

func TestHandler_EnvironmentPage(t *testing.T) {
	s := defaultSettings()
	s.Extensions = []string{"ext-one", "ext-two"}
	h := newTestHandler(t, gateway.ModeHTTP, s, map[string]string{"PATH": "/usr/bin"})

	rec := serve(h, httptest.NewRequest("GET", "/cgi-bin/info", nil))
	body := rec.Body.String()
	for _, want := range []string{
		"<tr><td>SERVER_SOFTWARE</td><td>cgi-probe</td></tr>",
		"<tr><td>DOCUMENT_ROOT</td><td>/srv/probe</td></tr>",
		"<tr><td>GATEWAY_INTERFACE</td><td>CGI/1.1</td></tr>",
		"ext-one, ext-two",
		`<div class="value">http</div>`,
		"09:05:07",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("environment page missing %q", want)
		}
	}
	if strings.Contains(body, "/usr/bin") {
		t.Error("PATH is not allow-listed and must not be shown on the environment page")
	}
}

func TestHandler_ServerSoftwareFromConfigWins(t *testing.T) {
	h := newTestHandler(t, gateway.ModeHTTP, defaultSettings(), map[string]string{"SERVER_SOFTWARE": "from-env"})
	rec := serve(h, httptest.NewRequest("GET", "/cgi-bin/info", nil))
	if !strings.Contains(rec.Body.String(), "<td>SERVER_SOFTWARE</td><td>cgi-probe</td>") {
		t.Error("configured server software should win over the process environment in HTTP mode")
	}
}

func TestHandler_MessageForm(t *testing.T) {
	h := newTestHandler(t, gateway.ModeHTTP, defaultSettings(), nil)

	tests := []struct {
		path string
		want []string
	}{
		{"/cgi-bin/form.py", []string{"<strong>Name:</strong> Ada", "<strong>Message:</strong> hello &lt;b&gt;"}},
		{"/cgi-bin/message", []string{"<strong>Name:</strong> Ada"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest("POST", tt.path, strings.NewReader("name=Ada&message=hello+%3Cb%3E"))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := serve(h, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			body := rec.Body.String()
			for _, want := range tt.want {
				if !strings.Contains(body, want) {
					t.Errorf("page missing %q", want)
				}
			}
			if strings.Contains(body, "Username:") {
				t.Error("the name/message form must not render the username echo")
			}
		})
	}

	rec := serve(h, httptest.NewRequest("GET", "/cgi-bin/form.py", nil))
	for _, want := range []string{"<em>Anonymous</em>", "<em>No message</em>"} {
		if !strings.Contains(rec.Body.String(), want) {
			t.Errorf("defaults page missing %q", want)
		}
	}

	rec = serve(h, httptest.NewRequest("GET", "/cgi-bin/form.php?x=1", nil))
	if !strings.Contains(rec.Body.String(), "Username:") {
		t.Error("form.php should still be the submission echo")
	}
}

func TestHandler_HTTPModeRequestWinsOverProcessEnv(t *testing.T) {
	env := map[string]string{
		"SERVER_PORT":    "9999",
		"REQUEST_METHOD": "DELETE",
		"CONTENT_TYPE":   "text/stale",
	}
	h := newTestHandler(t, gateway.ModeHTTP, defaultSettings(), env)
	rec := serve(h, httptest.NewRequest("GET", "http://example.com:8080/cgi-bin/info", nil))
	body := rec.Body.String()

	for _, want := range []string{
		"<tr><td>SERVER_PORT</td><td>8080</td></tr>",
		"<tr><td>REQUEST_METHOD</td><td>GET</td></tr>",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("environment page missing request value %q", want)
		}
	}
	for _, stale := range []string{"9999", "DELETE", "text/stale"} {
		if strings.Contains(body, stale) {
			t.Errorf("process environment value %q leaked over the request", stale)
		}
	}
}

func TestHandler_CGIModeEnvironmentWins(t *testing.T) {
	env := map[string]string{
		"SERVER_SOFTWARE": "Apache/2.4.58",
		"REQUEST_METHOD":  "GET",
		"SERVER_PROTOCOL": "HTTP/1.1",
	}
	h := newTestHandler(t, gateway.ModeCGI, defaultSettings(), env)
	rec := serve(h, httptest.NewRequest("GET", "/cgi-bin/info", nil))
	body := rec.Body.String()
	if !strings.Contains(body, "<td>SERVER_SOFTWARE</td><td>Apache/2.4.58</td>") {
		t.Error("web server value should win in CGI mode")
	}
	if !strings.Contains(body, `<div class="value">cgi</div>`) {
		t.Error("expected server API cgi")
	}
}

func TestHandler_UpdateSettings(t *testing.T) {
	h := newTestHandler(t, gateway.ModeHTTP, defaultSettings(), nil)

	tokyo := time.FixedZone("JST", 9*3600)
	s := defaultSettings()
	s.Location = tokyo
	h.UpdateSettings(s)

	rec := serve(h, httptest.NewRequest("GET", "/cgi-bin/time", nil))
	if !strings.Contains(rec.Body.String(), "2026-10-18 18:05:07") {
		t.Errorf("clock not in updated zone: %s", rec.Body.String())
	}
}

func TestHandler_DecodeIssues(t *testing.T) {
	before := testutil.ToFloat64(metrics.DecodeIssues.WithLabelValues("query"))

	h := newTestHandler(t, gateway.ModeHTTP, defaultSettings(), nil)
	rec := serve(h, httptest.NewRequest("GET", "/cgi-bin/query?name=%zz", nil))
	if !strings.Contains(rec.Body.String(), "Decode issues:") {
		t.Error("expected decode issues on the page")
	}
	if got := testutil.ToFloat64(metrics.DecodeIssues.WithLabelValues("query")) - before; got != 1 {
		t.Errorf("decode issue metric delta = %v, want 1", got)
	}

	s := defaultSettings()
	s.ShowIssues = false
	h.UpdateSettings(s)
	rec = serve(h, httptest.NewRequest("GET", "/cgi-bin/query?name=%zz", nil))
	if strings.Contains(rec.Body.String(), "Decode issues:") {
		t.Error("decode issues should be hidden when disabled")
	}
	if !strings.Contains(rec.Body.String(), "<strong>Name:</strong> %zz") {
		t.Error("malformed escape should pass through literally")
	}
}

func TestHandler_BodyTooLarge(t *testing.T) {
	h := newTestHandler(t, gateway.ModeHTTP, defaultSettings(), nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/cgi-bin/post", nil)
	req.Body = http.MaxBytesReader(rec, io.NopCloser(strings.NewReader(strings.Repeat("x", 64))), 8)
	req.ContentLength = -1
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	var resp apierror.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.ErrorCode != string(apierror.BodyTooLarge) {
		t.Errorf("error_code = %q", resp.ErrorCode)
	}
}

func TestHandler_RequestMetrics(t *testing.T) {
	h := newTestHandler(t, gateway.ModeHTTP, defaultSettings(), nil)
	counter := metrics.RequestsTotal.WithLabelValues("calculator", "GET", "200")
	before := testutil.ToFloat64(counter)

	rec := serve(h, httptest.NewRequest("GET", "/cgi-bin/calc?a=6&b=7&op=mul", nil))
	if !strings.Contains(rec.Body.String(), "= 42") {
		t.Errorf("calculator result missing: %s", rec.Body.String())
	}
	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("requests_total delta = %v, want 1", got)
	}
}

func TestScripts(t *testing.T) {
	var names []string
	for _, sc := range Scripts() {
		names = append(names, sc.Name)
		if sc.Path != "/cgi-bin/"+sc.Name {
			t.Errorf("%s: path %q", sc.Name, sc.Path)
		}
	}
	want := "calc env form form.py info message post query time"
	if got := strings.Join(names, " "); got != want {
		t.Errorf("script names = %q, want %q", got, want)
	}
}
