package controller

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/satsrail/payouts/internal/l402"
)

const maxFetchedBody = 1 << 20

// PaidFetcher performs requests that may require an L402 payment.
type PaidFetcher interface {
	Do(req *http.Request, opts l402.PaymentOptions) (*http.Response, error)
}

// FetchRequest asks the daemon to fetch a paid resource on the operator's behalf.
type FetchRequest struct {
	URL     string `json:"url" validate:"required,http_url"`
	MaxSats int64  `json:"maxSats" validate:"required,gt=0"`
}

// FetchResponse carries the upstream response after any payment.
type FetchResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType,omitempty"`
	Body        string `json:"body"`
	Truncated   bool   `json:"truncated,omitempty"`
}

// PremiumContent is served by the demo paid endpoint.
type PremiumContent struct {
	Content     string    `json:"content"`
	PaymentHash string    `json:"paymentHash"`
	AmountSats  int64     `json:"amountSats"`
	ServedAt    time.Time `json:"servedAt"`
}

type L402Controller struct {
	fetcher PaidFetcher
}

func NewL402Controller(fetcher PaidFetcher) *L402Controller {
	return &L402Controller{fetcher: fetcher}
}

// Fetch handles POST /api/v1/l402/fetch.
func (h *L402Controller) Fetch(w http.ResponseWriter, r *http.Request) {
	var req FetchRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	upstream, err := http.NewRequestWithContext(r.Context(), http.MethodGet, req.URL, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	resp, err := h.fetcher.Do(upstream, l402.PaymentOptions{MaxSats: req.MaxSats})
	if err != nil {
		writeError(w, err)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchedBody+1))
	if err != nil {
		writeError(w, err)
		return
	}
	out := FetchResponse{Status: resp.StatusCode, ContentType: resp.Header.Get("Content-Type")}
	if len(body) > maxFetchedBody {
		body = body[:maxFetchedBody]
		out.Truncated = true
	}
	out.Body = string(body)
	writeJSON(w, http.StatusOK, out)
}

// Premium is the demo paid handler mounted behind an L402 paywall.
func Premium(_ context.Context, _ *http.Request, payment l402.PaymentContext) (any, error) {
	return PremiumContent{
		Content:     "Thanks for paying over Lightning.",
		PaymentHash: payment.PaymentHash,
		AmountSats:  payment.AmountSats,
		ServedAt:    time.Now().UTC(),
	}, nil
}
