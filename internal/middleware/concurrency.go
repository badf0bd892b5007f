package middleware

import (
	"net/http"

	"github.com/dskow/cgi-probe/internal/apierror"
	"github.com/dskow/cgi-probe/internal/metrics"
)

// Concurrency returns middleware that admits at most max requests at once.
// Requests beyond the limit are rejected with 503 instead of queueing.
// A max of zero or less disables the limit.
func Concurrency(max int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if max <= 0 {
			return next
		}
		slots := make(chan struct{}, max)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case slots <- struct{}{}:
			default:
				metrics.ConcurrencyRejections.Inc()
				w.Header().Set("Retry-After", "1")
				apierror.WriteJSON(w, r, http.StatusServiceUnavailable, apierror.Overloaded,
					"too many requests in flight, retry later")
				return
			}
			defer func() { <-slots }()
			next.ServeHTTP(w, r)
		})
	}
}
