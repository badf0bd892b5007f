// Package apierror provides a centralized error response format for the
// probe host. Handlers and middleware use WriteJSON to produce consistent,
// machine-readable error responses with stable error codes. Report pages
// themselves never fail; these codes cover the host around them.
package apierror

import (
	"encoding/json"
	"net/http"
)

// ErrorCode is a machine-readable error classification string.
type ErrorCode string

// Probe error codes. Clients can program against these; do not rename or
// remove existing codes.
const (
	NotFound          ErrorCode = "PROBE_NOT_FOUND"
	MethodNotAllowed  ErrorCode = "PROBE_METHOD_NOT_ALLOWED"
	BodyTooLarge      ErrorCode = "PROBE_BODY_TOO_LARGE"
	BodyUnreadable    ErrorCode = "PROBE_BODY_UNREADABLE"
	RateLimitExceeded ErrorCode = "PROBE_RATE_LIMIT_EXCEEDED"
	InternalError     ErrorCode = "PROBE_INTERNAL_ERROR"
	RenderFailed      ErrorCode = "PROBE_RENDER_FAILED"
	Forbidden         ErrorCode = "PROBE_FORBIDDEN"
	Overloaded        ErrorCode = "PROBE_OVERLOADED"
)

// Codes lists every error code.
var Codes = []ErrorCode{
	NotFound, MethodNotAllowed, BodyTooLarge, BodyUnreadable,
	RateLimitExceeded, InternalError, RenderFailed, Forbidden, Overloaded,
}

// ErrorResponse is the standardized error body.
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Pre-serialized JSON bodies for the most common error responses.
// These do NOT include request_id since it varies per request.
var (
	preNotFound          = mustMarshal(http.StatusNotFound, NotFound, "no such probe script")
	preRateLimitExceeded = mustMarshal(http.StatusTooManyRequests, RateLimitExceeded, "rate limit exceeded, retry later")
	preInternalError     = mustMarshal(http.StatusInternalServerError, InternalError, "an unexpected error occurred")
)

func mustMarshal(status int, code ErrorCode, message string) []byte {
	b, _ := json.Marshal(ErrorResponse{
		Error:     http.StatusText(status),
		ErrorCode: string(code),
		Message:   message,
	})
	return append(b, '\n')
}

// WriteJSON writes a structured JSON error response. When a request ID is
// available (from the X-Request-ID header) it is included in the body. The
// request parameter may be nil.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, code ErrorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	requestID := ""
	if r != nil {
		requestID = r.Header.Get("X-Request-ID")
	}

	if requestID == "" {
		if body := preSerialized(status, code, message); body != nil {
			w.Write(body) //nolint:errcheck
			return
		}
	}

	json.NewEncoder(w).Encode(ErrorResponse{ //nolint:errcheck
		Error:     http.StatusText(status),
		ErrorCode: string(code),
		Message:   message,
		RequestID: requestID,
	})
}

// preSerialized returns a pre-built response body for common error
// combinations, or nil if no match.
func preSerialized(status int, code ErrorCode, message string) []byte {
	switch {
	case code == NotFound && status == http.StatusNotFound && message == "no such probe script":
		return preNotFound
	case code == RateLimitExceeded && status == http.StatusTooManyRequests && message == "rate limit exceeded, retry later":
		return preRateLimitExceeded
	case code == InternalError && status == http.StatusInternalServerError && message == "an unexpected error occurred":
		return preInternalError
	}
	return nil
}
