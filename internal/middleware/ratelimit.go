package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	domainErrors "github.com/satsrail/payouts/internal/domain/errors"
)

// RateLimit caps requests per client IP over window. It protects the HTTP surface and is
// separate from the payout attempt limiter.
func RateLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, domainErrors.CodeRateLimitExceeded,
				"too many requests", window)
		}),
	)
}
