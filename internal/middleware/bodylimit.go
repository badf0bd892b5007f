package middleware

import (
	"fmt"
	"net/http"

	"github.com/dskow/cgi-probe/internal/apierror"
)

// BodyLimit returns middleware that limits the size of request bodies.
// A declared Content-Length over maxBytes is rejected with 413 up front;
// other bodies are wrapped in http.MaxBytesReader so chunked uploads stop
// at the limit and the reader reports *http.MaxBytesError.
func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				WriteBodyLimitError(w, r, maxBytes)
				return
			}
			if r.Body != nil && r.Body != http.NoBody {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteBodyLimitError writes the 413 JSON error response.
func WriteBodyLimitError(w http.ResponseWriter, r *http.Request, maxBytes int64) {
	apierror.WriteJSON(w, r, http.StatusRequestEntityTooLarge, apierror.BodyTooLarge,
		fmt.Sprintf("request body exceeds %d bytes", maxBytes))
}
