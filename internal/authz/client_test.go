package authz

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainErrors "github.com/satsrail/payouts/internal/domain/errors"
	"github.com/satsrail/payouts/pkg/retry"
)

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(StaticCredentials("sk_test", srv.URL), WithRetry(fastRetry())), srv
}

func TestClient_Authorize(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payout/authorize", r.URL.Path)
		assert.Equal(t, "sk_test", r.Header.Get(SecretHeader))

		var req AuthorizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(1000), req.AmountSats)
		assert.Equal(t, "k1", req.IdempotencyKey)

		_ = json.NewEncoder(w).Encode(AuthorizeResponse{Authorized: true, AuthorizationID: "auth_1"})
	})

	resp, err := client.Authorize(context.Background(), AuthorizeRequest{AmountSats: 1000, IdempotencyKey: "k1"})

	require.NoError(t, err)
	assert.True(t, resp.Authorized)
	assert.Equal(t, "auth_1", resp.AuthorizationID)
}

func TestClient_AuthorizeDenied(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(AuthorizeResponse{
			Authorized:   false,
			ErrorCode:    "DAILY_LIMIT_EXCEEDED",
			ErrorMessage: "daily cap reached",
			RetryAfterMs: 60000,
		})
	})

	resp, err := client.Authorize(context.Background(), AuthorizeRequest{AmountSats: 1})

	require.NoError(t, err)
	assert.False(t, resp.Authorized)
	assert.Equal(t, "DAILY_LIMIT_EXCEEDED", resp.ErrorCode)
	assert.Equal(t, int64(60000), resp.RetryAfterMs)
}

func TestClient_UnauthorizedMapsToInvalidSecret(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.Authorize(context.Background(), AuthorizeRequest{})

	assert.Equal(t, domainErrors.CodeInvalidSecret, domainErrors.CodeOf(err))
	assert.Equal(t, int32(1), calls.Load(), "401 must not be retried")
}

func TestClient_ClientErrorMapsToInternalError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad payload"))
	})

	err := client.Complete(context.Background(), CompleteRequest{AuthorizationID: "a"})

	assert.Equal(t, domainErrors.CodeInternalError, domainErrors.CodeOf(err))
	assert.Contains(t, err.Error(), "bad payload")
}

func TestClient_ForbiddenIsNotAnInvalidSecret(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := client.Authorize(context.Background(), AuthorizeRequest{})

	assert.Equal(t, domainErrors.CodeInternalError, domainErrors.CodeOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(LimitsResponse{MaxDaily: 100000, DailySpent: 500})
	})

	limits, err := client.Limits(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(100000), limits.MaxDaily)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_CredentialsCachedOnlyAfterSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(AuthorizeResponse{Authorized: true})
	}))
	defer srv.Close()

	var resolves int
	provider := func(context.Context) (Credentials, error) {
		resolves++
		if resolves == 1 {
			return Credentials{}, errors.New("vault unavailable")
		}
		return Credentials{Secret: "sk", BaseURL: srv.URL}, nil
	}
	client := NewClient(provider, WithRetry(fastRetry()))

	_, err := client.Authorize(context.Background(), AuthorizeRequest{})
	require.Error(t, err)

	_, err = client.Authorize(context.Background(), AuthorizeRequest{})
	require.NoError(t, err)
	_, err = client.Authorize(context.Background(), AuthorizeRequest{})
	require.NoError(t, err)

	assert.Equal(t, 2, resolves)
}

func TestStaticCredentials(t *testing.T) {
	_, err := StaticCredentials("  ", "")(context.Background())
	assert.Equal(t, domainErrors.CodeInvalidSecret, domainErrors.CodeOf(err))

	creds, err := StaticCredentials("sk", "https://example.com/")(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", creds.BaseURL)

	creds, err = StaticCredentials("sk", "")(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, creds.BaseURL)
}

func TestCheckSecretExposure(t *testing.T) {
	tests := []struct {
		name    string
		environ []string
		exposed bool
	}{
		{"server-only variable", []string{"PAYOUTS_SECRET=sk_live"}, false},
		{"next public", []string{"NEXT_PUBLIC_PAYOUT=sk_live"}, true},
		{"vite", []string{"VITE_KEY=sk_live"}, true},
		{"expo public", []string{"EXPO_PUBLIC_KEY=sk_live"}, true},
		{"public prefix different value", []string{"REACT_APP_KEY=other"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckSecretExposure("sk_live", tt.environ)
			if tt.exposed {
				assert.Equal(t, domainErrors.CodeSecretExposed, domainErrors.CodeOf(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

type recordingCompleter struct {
	mu   sync.Mutex
	reqs []CompleteRequest
	err  error
}

func (r *recordingCompleter) Complete(_ context.Context, req CompleteRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return r.err
}

func TestReporter_DeliversInOrderAndDrainsOnClose(t *testing.T) {
	completer := &recordingCompleter{}
	reporter := NewReporter(completer, zerolog.Nop(), 10)

	reporter.Report(CompleteRequest{AuthorizationID: "a", Success: true})
	reporter.Report(CompleteRequest{AuthorizationID: "b", Success: false})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, reporter.Close(ctx))

	require.Len(t, completer.reqs, 2)
	assert.Equal(t, "a", completer.reqs[0].AuthorizationID)
	assert.Equal(t, "b", completer.reqs[1].AuthorizationID)

	// Reports after close are dropped without panicking.
	reporter.Report(CompleteRequest{AuthorizationID: "c"})
	require.NoError(t, reporter.Close(ctx))
}

func TestReporter_ErrorsAreSwallowed(t *testing.T) {
	completer := &recordingCompleter{err: errors.New("down")}
	reporter := NewReporter(completer, zerolog.Nop(), 1)

	reporter.Report(CompleteRequest{AuthorizationID: "a"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, reporter.Close(ctx))
}
