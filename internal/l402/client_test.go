package l402

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainErrors "github.com/satsrail/payouts/internal/domain/errors"
	"github.com/satsrail/payouts/internal/domain/payout"
)

type fakePayer struct {
	mu       sync.Mutex
	requests []payout.Request
	result   func(req payout.Request) payout.Result
}

func (f *fakePayer) Payout(_ context.Context, req payout.Request) payout.Result {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.result != nil {
		return f.result(req)
	}
	return payout.Succeeded("preimage-hex", int64(req.Amount))
}

const testInvoice = "lnbc100u1pexampleinvoice"

// paywall answers 402 until the preimage header is present.
func paywall(t *testing.T, retried *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(HeaderPreimage) == "" {
			w.Header().Set(HeaderInvoice, testInvoice)
			w.Header().Set(HeaderPaymentHash, "abc123")
			w.WriteHeader(http.StatusPaymentRequired)
			return
		}
		retried.Add(1)
		assert.Equal(t, "preimage-hex", r.Header.Get(HeaderPreimage))
		assert.Equal(t, "abc123", r.Header.Get(HeaderPaymentHash))
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(append([]byte("paid:"), body...))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_PaysChallengeOnceAndRetries(t *testing.T) {
	var retried atomic.Int32
	srv := paywall(t, &retried)
	payer := &fakePayer{}
	client := NewClient(payer, WithDomainHourlyCap(0))

	resp, err := client.Get(context.Background(), srv.URL+"/data", PaymentOptions{MaxSats: 20000})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), retried.Load())
	require.Len(t, payer.requests, 1)

	req := payer.requests[0]
	assert.Equal(t, float64(10000), req.Amount)
	assert.Equal(t, payout.CurrencySats, req.Currency)
	assert.Equal(t, payout.Bolt11, req.Destination.Type)
	assert.Equal(t, testInvoice, req.Destination.Invoice)
	assert.Equal(t, IdempotencyKey(testInvoice), req.IdempotencyKey)
}

func TestClient_ReplaysRequestBody(t *testing.T) {
	var retried atomic.Int32
	srv := paywall(t, &retried)
	client := NewClient(&fakePayer{})

	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader("hello"))
	require.NoError(t, err)
	resp, err := client.Do(req, PaymentOptions{MaxSats: 10000})
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "paid:hello", string(body))
}

func TestClient_InvoiceAboveMaxSats(t *testing.T) {
	var retried atomic.Int32
	srv := paywall(t, &retried)
	payer := &fakePayer{}
	client := NewClient(payer)

	_, err := client.Get(context.Background(), srv.URL, PaymentOptions{MaxSats: 5000})

	assert.Equal(t, domainErrors.CodePerPaymentLimitExceeded, domainErrors.CodeOf(err))
	assert.Empty(t, payer.requests)
	assert.Equal(t, int32(0), retried.Load())
}

func TestClient_RequiresMaxSats(t *testing.T) {
	client := NewClient(&fakePayer{})

	_, err := client.Get(context.Background(), "http://example.invalid", PaymentOptions{})

	assert.Equal(t, domainErrors.CodeInvalidAmount, domainErrors.CodeOf(err))
}

func TestClient_NonPaymentResponsePassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()
	payer := &fakePayer{}

	resp, err := NewClient(payer).Get(context.Background(), srv.URL, PaymentOptions{MaxSats: 1})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	assert.Empty(t, payer.requests)
}

func TestClient_PayoutFailureFailsCall(t *testing.T) {
	var retried atomic.Int32
	srv := paywall(t, &retried)
	payer := &fakePayer{result: func(payout.Request) payout.Result {
		return payout.Failed(domainErrors.New(domainErrors.CodeDailyLimitExceeded, "cap"))
	}}

	_, err := NewClient(payer).Get(context.Background(), srv.URL, PaymentOptions{MaxSats: 10000})

	assert.Equal(t, domainErrors.CodeDailyLimitExceeded, domainErrors.CodeOf(err))
	assert.Equal(t, int32(0), retried.Load())
}

func TestClient_FailedPaymentReleasesDomainReservation(t *testing.T) {
	var retried atomic.Int32
	srv := paywall(t, &retried)
	payer := &fakePayer{result: func(payout.Request) payout.Result {
		return payout.Failed(domainErrors.New(domainErrors.CodePaymentFailed, "no route"))
	}}
	client := NewClient(payer, WithDomainHourlyCap(15000))

	_, err := client.Get(context.Background(), srv.URL, PaymentOptions{MaxSats: 10000})
	require.Error(t, err)
	assert.Equal(t, int64(0), client.DomainSpend("127.0.0.1"))

	payer.result = nil
	resp, err := client.Get(context.Background(), srv.URL, PaymentOptions{MaxSats: 10000})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, int64(10000), client.DomainSpend("127.0.0.1"))
}

func TestClient_RejectsOutOfRangeInvoiceAmount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderInvoice, "lnbc1660206966634m1pexampleinvoice")
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer srv.Close()
	payer := &fakePayer{}
	client := NewClient(payer)

	_, err := client.Get(context.Background(), srv.URL, PaymentOptions{MaxSats: 20000})

	assert.Equal(t, domainErrors.CodePerPaymentLimitExceeded, domainErrors.CodeOf(err))
	assert.Empty(t, payer.requests)
	assert.Equal(t, int64(0), client.DomainSpend("127.0.0.1"))
}

func TestClient_UnparseableInvoiceAmountFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderInvoice, "lnbc100x1pexampleinvoice")
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer srv.Close()
	payer := &fakePayer{}

	_, err := NewClient(payer).Get(context.Background(), srv.URL, PaymentOptions{MaxSats: 20000})

	assert.Equal(t, domainErrors.CodePaymentFailed, domainErrors.CodeOf(err))
	assert.Empty(t, payer.requests)
}

func TestClient_AmountlessInvoicePaysMaxSats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(HeaderPreimage) != "" {
			_, _ = w.Write([]byte("ok"))
			return
		}
		w.Header().Set(HeaderInvoice, "lnbc1pexampleinvoice")
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer srv.Close()
	payer := &fakePayer{}

	resp, err := NewClient(payer).Get(context.Background(), srv.URL, PaymentOptions{MaxSats: 750})
	require.NoError(t, err)
	resp.Body.Close()

	require.Len(t, payer.requests, 1)
	assert.Equal(t, float64(750), payer.requests[0].Amount)
}

func TestClient_ConcurrentRequestsShareDomainCap(t *testing.T) {
	var retried atomic.Int32
	inner := paywall(t, &retried)
	arrived := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			close(arrived)
			<-release
		})
		inner.Config.Handler.ServeHTTP(w, r)
	}))
	defer srv.Close()
	payer := &fakePayer{}
	client := NewClient(payer, WithDomainHourlyCap(15000))

	firstErr := make(chan error, 1)
	go func() {
		resp, err := client.Get(context.Background(), srv.URL, PaymentOptions{MaxSats: 10000})
		if err == nil {
			resp.Body.Close()
		}
		firstErr <- err
	}()
	<-arrived

	_, err := client.Get(context.Background(), srv.URL, PaymentOptions{MaxSats: 10000})
	assert.Equal(t, domainErrors.CodePerPaymentLimitExceeded, domainErrors.CodeOf(err))

	close(release)
	require.NoError(t, <-firstErr)
	assert.Len(t, payer.requests, 1)
	assert.Equal(t, int64(10000), client.DomainSpend("127.0.0.1"))
}

func TestClient_DomainCapCheckedBeforeNetwork(t *testing.T) {
	var hits atomic.Int32
	var retried atomic.Int32
	inner := paywall(t, &retried)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		inner.Config.Handler.ServeHTTP(w, r)
	}))
	defer srv.Close()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	client := NewClient(&fakePayer{}, WithDomainHourlyCap(15000), WithClientClock(func() time.Time { return now }))

	resp, err := client.Get(context.Background(), srv.URL, PaymentOptions{MaxSats: 10000})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, int64(10000), client.DomainSpend("127.0.0.1"))
	hitsAfterFirst := hits.Load()

	_, err = client.Get(context.Background(), srv.URL, PaymentOptions{MaxSats: 10000})
	assert.Equal(t, domainErrors.CodePerPaymentLimitExceeded, domainErrors.CodeOf(err))
	assert.Equal(t, hitsAfterFirst, hits.Load(), "no request is sent when the cap would be exceeded")

	now = now.Add(time.Hour)
	assert.Equal(t, int64(0), client.DomainSpend("127.0.0.1"))
}

func TestParseChallenge(t *testing.T) {
	h := http.Header{}
	h.Set(HeaderChallenge, `L402 macaroon="AGIAJEem=", invoice="lnbc1u1pabc", payment_hash="ff00"`)

	c, err := ParseChallenge(h)
	require.NoError(t, err)
	assert.Equal(t, Challenge{Invoice: "lnbc1u1pabc", PaymentHash: "ff00", Macaroon: "AGIAJEem="}, c)

	round, err := ParseChallenge(http.Header{HeaderChallenge: []string{c.Header()}})
	require.NoError(t, err)
	assert.Equal(t, c, round)

	_, err = ParseChallenge(http.Header{HeaderChallenge: []string{`Bearer realm="x"`}})
	assert.Error(t, err)
}

func TestIdempotencyKeyIsStable(t *testing.T) {
	assert.Equal(t, IdempotencyKey("LNBC1U1PABC"), IdempotencyKey("lnbc1u1pabc"))
	assert.NotEqual(t, IdempotencyKey("lnbc1u1pabc"), IdempotencyKey("lnbc1u1pabd"))
}

