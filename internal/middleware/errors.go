package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	domainErrors "github.com/satsrail/payouts/internal/domain/errors"
)

// errorBody mirrors the controller's error envelope so rejections look the same
// whether they come from middleware or a handler.
type errorBody struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	// RetryAfterMs is set on rate-limit rejections.
	RetryAfterMs int64 `json:"retryAfterMs,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code domainErrors.Code, msg string, retryAfter time.Duration) {
	w.Header().Set("Content-Type", "application/json")
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int((retryAfter+time.Second-1)/time.Second)))
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{
		Code:         string(code),
		Message:      msg,
		RetryAfterMs: retryAfter.Milliseconds(),
	})
}
