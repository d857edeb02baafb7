package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRejectBrowsers(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		blocked bool
	}{
		{"server to server", nil, false},
		{"origin header", map[string]string{"Origin": "https://shop.example"}, true},
		{"fetch mode", map[string]string{"Sec-Fetch-Mode": "cors"}, true},
		{"fetch site", map[string]string{"Sec-Fetch-Site": "same-origin"}, true},
		{"custom user agent only", map[string]string{"User-Agent": "Mozilla/5.0"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := RejectBrowsers()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/v1/payouts", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, !tt.blocked, called)
			if !tt.blocked {
				return
			}
			assert.Equal(t, http.StatusForbidden, w.Code)
			var body errorBody
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, "BROWSER_NOT_ALLOWED", body.Code)
		})
	}
}
