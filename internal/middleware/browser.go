package middleware

import (
	"net/http"

	domainErrors "github.com/satsrail/payouts/internal/domain/errors"
)

// RejectBrowsers refuses requests that carry browser-only headers. The payout secret
// lives server-side, so a browser reaching the payout API means the deployment is wrong.
func RejectBrowsers() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsBrowserRequest(r) {
				writeError(w, http.StatusForbidden, domainErrors.CodeBrowserNotAllowed,
					"payouts must be initiated server-side", 0)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IsBrowserRequest reports whether r was sent by a browser. Fetch metadata is only set by
// browsers; Origin is also sent by them on cross-origin and POST requests.
func IsBrowserRequest(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") != "" || r.Header.Get("Sec-Fetch-Site") != "" {
		return true
	}
	return r.Header.Get("Origin") != ""
}
