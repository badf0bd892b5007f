package apierror

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return resp
}

func TestWriteJSON_BasicFields(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/cgi-bin/nope", nil)

	WriteJSON(w, r, http.StatusNotFound, NotFound, "no such probe script")

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q, want application/json", ct)
	}

	resp := decode(t, w)
	if resp.Error != "Not Found" {
		t.Errorf("error = %q, want %q", resp.Error, "Not Found")
	}
	if resp.ErrorCode != "PROBE_NOT_FOUND" {
		t.Errorf("error_code = %q, want %q", resp.ErrorCode, "PROBE_NOT_FOUND")
	}
	if resp.Message != "no such probe script" {
		t.Errorf("message = %q, want %q", resp.Message, "no such probe script")
	}
}

func TestWriteJSON_IncludesRequestID(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/cgi-bin/form", nil)
	r.Header.Set("X-Request-ID", "test-req-123")

	WriteJSON(w, r, http.StatusRequestEntityTooLarge, BodyTooLarge, "request body exceeds 1024 bytes")

	resp := decode(t, w)
	if resp.RequestID != "test-req-123" {
		t.Errorf("request_id = %q, want %q", resp.RequestID, "test-req-123")
	}
	if resp.ErrorCode != "PROBE_BODY_TOO_LARGE" {
		t.Errorf("error_code = %q, want %q", resp.ErrorCode, "PROBE_BODY_TOO_LARGE")
	}
}

func TestWriteJSON_OmitsEmptyRequestID(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	WriteJSON(w, r, http.StatusTooManyRequests, RateLimitExceeded, "rate limit exceeded, retry later")

	var raw map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, exists := raw["request_id"]; exists {
		t.Error("request_id should be omitted when empty")
	}
}

func TestWriteJSON_NilRequest(t *testing.T) {
	w := httptest.NewRecorder()

	WriteJSON(w, nil, http.StatusInternalServerError, InternalError, "an unexpected error occurred")

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if resp := decode(t, w); resp.ErrorCode != "PROBE_INTERNAL_ERROR" {
		t.Errorf("error_code = %q, want %q", resp.ErrorCode, "PROBE_INTERNAL_ERROR")
	}
}

func TestWriteJSON_NonPreserializedPath(t *testing.T) {
	w := httptest.NewRecorder()

	WriteJSON(w, nil, http.StatusMethodNotAllowed, MethodNotAllowed, "method DELETE not allowed for query")

	resp := decode(t, w)
	if resp.Error != "Method Not Allowed" {
		t.Errorf("error = %q, want %q", resp.Error, "Method Not Allowed")
	}
	if resp.Message != "method DELETE not allowed for query" {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestPreSerialized_MatchesEncoder(t *testing.T) {
	cases := []struct {
		status  int
		code    ErrorCode
		message string
	}{
		{http.StatusNotFound, NotFound, "no such probe script"},
		{http.StatusTooManyRequests, RateLimitExceeded, "rate limit exceeded, retry later"},
		{http.StatusInternalServerError, InternalError, "an unexpected error occurred"},
	}
	for _, c := range cases {
		pre := preSerialized(c.status, c.code, c.message)
		if pre == nil {
			t.Fatalf("no pre-serialized body for %s", c.code)
		}
		var sb strings.Builder
		json.NewEncoder(&sb).Encode(ErrorResponse{ //nolint:errcheck
			Error:     http.StatusText(c.status),
			ErrorCode: string(c.code),
			Message:   c.message,
		})
		if string(pre) != sb.String() {
			t.Errorf("%s: pre-serialized %q differs from encoder %q", c.code, pre, sb.String())
		}
	}
}

func TestAllErrorCodes(t *testing.T) {
	seen := make(map[ErrorCode]bool)
	for _, code := range Codes {
		if !strings.HasPrefix(string(code), "PROBE_") {
			t.Errorf("code %q does not have PROBE_ prefix", code)
		}
		if seen[code] {
			t.Errorf("duplicate code %q", code)
		}
		seen[code] = true
	}
	if len(Codes) != 9 {
		t.Errorf("expected 9 error codes, got %d", len(Codes))
	}
}
