package lightning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	domainErrors "github.com/satsrail/payouts/internal/domain/errors"
)

// RESTNode talks to an LNbits-compatible wallet API.
type RESTNode struct {
	baseURL    string
	apiKey     string
	http       *http.Client
	invoiceTTL time.Duration
	memo       string
}

type RESTOption func(*RESTNode)

func WithRESTHTTPClient(c *http.Client) RESTOption {
	return func(n *RESTNode) { n.http = c }
}

func WithRESTInvoiceTTL(d time.Duration) RESTOption {
	return func(n *RESTNode) { n.invoiceTTL = d }
}

func WithMemo(memo string) RESTOption {
	return func(n *RESTNode) { n.memo = memo }
}

func NewRESTNode(baseURL, apiKey string, opts ...RESTOption) *RESTNode {
	n := &RESTNode{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		http:       &http.Client{Timeout: 60 * time.Second},
		invoiceTTL: time.Hour,
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

type createInvoiceRequest struct {
	Out    bool   `json:"out"`
	Amount int64  `json:"amount"`
	Memo   string `json:"memo,omitempty"`
	Expiry int64  `json:"expiry,omitempty"`
}

type payInvoiceRequest struct {
	Out    bool   `json:"out"`
	Bolt11 string `json:"bolt11"`
}

type paymentResponse struct {
	PaymentHash    string `json:"payment_hash"`
	PaymentRequest string `json:"payment_request"`
}

type paymentStatus struct {
	Paid     bool   `json:"paid"`
	Preimage string `json:"preimage"`
}

func (n *RESTNode) CreateInvoice(ctx context.Context, amountSats *int64) (Invoice, error) {
	req := createInvoiceRequest{Memo: n.memo, Expiry: int64(n.invoiceTTL.Seconds())}
	if amountSats != nil {
		req.Amount = *amountSats
	}
	var resp paymentResponse
	if err := n.do(ctx, http.MethodPost, "/api/v1/payments", req, &resp); err != nil {
		return Invoice{}, fmt.Errorf("create invoice: %w", err)
	}
	return Invoice{
		Invoice:     resp.PaymentRequest,
		PaymentHash: resp.PaymentHash,
		ExpiresAt:   time.Now().Add(n.invoiceTTL),
	}, nil
}

func (n *RESTNode) PayBolt11(ctx context.Context, invoice string) (string, error) {
	var resp paymentResponse
	if err := n.do(ctx, http.MethodPost, "/api/v1/payments", payInvoiceRequest{Out: true, Bolt11: invoice}, &resp); err != nil {
		return "", fmt.Errorf("pay invoice: %w", err)
	}

	var status paymentStatus
	if err := n.do(ctx, http.MethodGet, "/api/v1/payments/"+url.PathEscape(resp.PaymentHash), nil, &status); err != nil {
		return "", fmt.Errorf("payment status: %w", err)
	}
	if !status.Paid {
		return "", fmt.Errorf("payment %s not settled", resp.PaymentHash)
	}
	if status.Preimage == "" {
		return resp.PaymentHash, nil
	}
	return status.Preimage, nil
}

func (n *RESTNode) PayBolt12Offer(context.Context, string, int64) (string, error) {
	return "", domainErrors.ErrUnsupportedDestination
}

func (n *RESTNode) PayLnurl(ctx context.Context, target string, amountMsat int64) error {
	invoice, err := FetchLnurlInvoice(ctx, n.http, target, amountMsat)
	if err != nil {
		return err
	}
	_, err = n.PayBolt11(ctx, invoice)
	return err
}

func (n *RESTNode) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, n.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", n.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := n.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		text := strings.TrimSpace(string(msg))
		if strings.Contains(strings.ToLower(text), "insufficient balance") {
			return fmt.Errorf("%w: %s", domainErrors.ErrInsufficientBalance, text)
		}
		return fmt.Errorf("node returned %d: %s", resp.StatusCode, text)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
