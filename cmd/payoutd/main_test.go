package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satsrail/payouts/internal/authz"
	"github.com/satsrail/payouts/internal/bootstrap"
	"github.com/satsrail/payouts/internal/controller"
	"github.com/satsrail/payouts/internal/infrastructure/config"
	"github.com/satsrail/payouts/internal/lightning"
)

// authServer is a stand-in for the remote authorization service.
type authServer struct {
	mu         sync.Mutex
	authorized []authz.AuthorizeRequest
	completed  []authz.CompleteRequest
}

func (a *authServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /payout/authorize", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk_test_e2e", r.Header.Get(authz.SecretHeader))
		var req authz.AuthorizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		a.mu.Lock()
		a.authorized = append(a.authorized, req)
		a.mu.Unlock()
		json.NewEncoder(w).Encode(authz.AuthorizeResponse{Authorized: true, AuthorizationID: "auth_" + req.IdempotencyKey})
	})
	mux.HandleFunc("POST /payout/complete", func(w http.ResponseWriter, r *http.Request) {
		var req authz.CompleteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		a.mu.Lock()
		a.completed = append(a.completed, req)
		a.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /payout/limits", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(authz.LimitsResponse{MaxDaily: 500_000})
	})
	return mux
}

func (a *authServer) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.authorized), len(a.completed)
}

func newTestService(t *testing.T) (*service, *lightning.MockNode, *authServer) {
	t.Helper()
	auth := &authServer{}
	authSrv := httptest.NewServer(auth.handler(t))
	t.Cleanup(authSrv.Close)

	cfg := &config.Config{
		InstanceID: "test",
		Payout: config.PayoutConfig{
			Secret:         "sk_test_e2e",
			AuthBaseURL:    authSrv.URL,
			Network:        "mainnet",
			InFlightWait:   50 * time.Millisecond,
			IdempotencyTTL: time.Hour,
		},
		Limits:        config.LimitsConfig{MaxSinglePayment: 10_000, RateLimit: 50, RateWindow: time.Minute},
		L402:          config.L402Config{PriceSats: 21, InvoiceTTL: time.Minute, MaxSatsPerDomainPerHour: 1000},
		Observability: config.ObservabilityConfig{LogLevel: "error"},
		Server:        config.ServerConfig{CORS: config.CORSConfig{AllowedOrigins: []string{"*"}}},
	}
	app, err := bootstrap.NewWithConfig(context.Background(), cfg, "payoutd-test", "test")
	require.NoError(t, err)

	node := lightning.NewMockNode()
	svc, err := newService(app, node)
	require.NoError(t, err)
	t.Cleanup(func() { svc.reporter.Close(context.Background()) })
	return svc, node, auth
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b)))
	return w
}

func TestPayoutEndToEnd(t *testing.T) {
	svc, node, auth := newTestService(t)

	payee := lightning.NewMockNode()
	amount := int64(150)
	inv, err := payee.CreateInvoice(context.Background(), &amount)
	require.NoError(t, err)

	body := map[string]any{"destination": inv.Invoice, "amount": 150, "idempotencyKey": "order-42"}
	w := postJSON(t, svc.handler, "/api/v1/payouts", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var first controller.PayoutResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.True(t, first.Success)
	assert.Equal(t, int64(150), first.AmountSats)
	require.Len(t, node.Payments(), 1)

	require.Eventually(t, func() bool {
		_, completed := auth.counts()
		return completed == 1
	}, 2*time.Second, 10*time.Millisecond)

	// A replay returns the identical outcome without touching the node or the service.
	w = postJSON(t, svc.handler, "/api/v1/payouts", body)
	require.Equal(t, http.StatusOK, w.Code)
	var replay controller.PayoutResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &replay))
	assert.Equal(t, first, replay)
	assert.Len(t, node.Payments(), 1)
	authorized, _ := auth.counts()
	assert.Equal(t, 1, authorized)
}

func TestPayoutAboveLocalLimitNeverReachesService(t *testing.T) {
	svc, node, auth := newTestService(t)

	w := postJSON(t, svc.handler, "/api/v1/payouts", map[string]any{
		"destination":    "alice@wallet.example",
		"amount":         20_000,
		"idempotencyKey": "too-big",
	})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var resp controller.PayoutResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "PER_PAYMENT_LIMIT_EXCEEDED", resp.Code)
	authorized, _ := auth.counts()
	assert.Zero(t, authorized)
	assert.Empty(t, node.Payments())
}

func TestL402FetchPaysOwnPaywall(t *testing.T) {
	svc, node, auth := newTestService(t)
	srv := httptest.NewServer(svc.handler)
	defer srv.Close()

	w := postJSON(t, svc.handler, "/api/v1/l402/fetch", map[string]any{
		"url":     srv.URL + "/api/v1/premium",
		"maxSats": 100,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp controller.FetchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, http.StatusOK, resp.Status)

	var content controller.PremiumContent
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &content))
	assert.Equal(t, int64(21), content.AmountSats)

	require.Len(t, node.Payments(), 1)
	assert.Equal(t, int64(21_000), node.Payments()[0].AmountMsat)
	authorized, _ := auth.counts()
	assert.Equal(t, 1, authorized)
}

func TestLimitsEndpointCombinesSources(t *testing.T) {
	svc, _, _ := newTestService(t)

	w := httptest.NewRecorder()
	svc.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/limits", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp controller.LimitsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(10_000), resp.Local.MaxSinglePayment)
	require.NotNil(t, resp.Remote)
	assert.Equal(t, int64(500_000), resp.Remote.MaxDaily)
}

func TestPurgeLoopStopsWithContext(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- purgeLoop(ctx, svc.store, time.Millisecond, svc.executor.Logger) }()

	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("purge loop did not stop")
	}
}
