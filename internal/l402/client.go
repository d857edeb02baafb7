package l402

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	domainErrors "github.com/satsrail/payouts/internal/domain/errors"
	"github.com/satsrail/payouts/internal/domain/payout"
	"github.com/satsrail/payouts/internal/infrastructure/observability"
	"github.com/satsrail/payouts/internal/lightning"
)

// DefaultDomainHourlyCap bounds spend per host in a trailing hour.
const DefaultDomainHourlyCap int64 = 10_000

// Payer executes payouts. *payout.Executor satisfies it.
type Payer interface {
	Payout(ctx context.Context, req payout.Request) payout.Result
}

// PaymentOptions bound what a single request may pay.
type PaymentOptions struct {
	MaxSats int64
}

type spendRecord struct {
	host      string
	amount    int64
	timestamp time.Time
}

// Client performs HTTP requests and pays L402 challenges once per request.
type Client struct {
	payer     Payer
	http      *http.Client
	domainCap int64
	logger    zerolog.Logger
	metrics   *observability.Metrics
	now       func() time.Time

	mu    sync.Mutex
	spend map[string][]*spendRecord
}

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

// WithDomainHourlyCap overrides DefaultDomainHourlyCap. Zero disables the cap.
func WithDomainHourlyCap(sats int64) ClientOption {
	return func(cl *Client) { cl.domainCap = sats }
}

func WithClientLogger(l zerolog.Logger) ClientOption {
	return func(cl *Client) { cl.logger = l }
}

func WithClientMetrics(m *observability.Metrics) ClientOption {
	return func(cl *Client) { cl.metrics = m }
}

func WithClientClock(now func() time.Time) ClientOption {
	return func(cl *Client) { cl.now = now }
}

// NewClient creates a paying HTTP client.
func NewClient(payer Payer, opts ...ClientOption) *Client {
	c := &Client{
		payer:     payer,
		http:      &http.Client{Timeout: 30 * time.Second},
		domainCap: DefaultDomainHourlyCap,
		logger:    zerolog.Nop(),
		now:       time.Now,
		spend:     make(map[string][]*spendRecord),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Do sends req and, on a 402 challenge, pays at most opts.MaxSats and retries once with
// the proof of payment. Responses other than 402 are returned unchanged.
func (c *Client) Do(req *http.Request, opts PaymentOptions) (*http.Response, error) {
	if opts.MaxSats <= 0 {
		return nil, domainErrors.New(domainErrors.CodeInvalidAmount, "maxSats must be positive")
	}
	host := req.URL.Hostname()
	reservation, err := c.reserveDomainSpend(host, opts.MaxSats)
	if err != nil {
		return nil, err
	}
	var paid int64
	defer func() { c.settleDomainSpend(reservation, paid) }()

	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	challenge, err := ParseChallenge(resp.Header)
	if err != nil {
		return nil, domainErrors.Wrap(domainErrors.CodePaymentFailed, "unusable payment challenge", err)
	}

	amount, err := lightning.DecodeInvoiceAmount(challenge.Invoice)
	switch {
	case errors.Is(err, lightning.ErrNoInvoiceAmount):
		amount = opts.MaxSats
	case errors.Is(err, lightning.ErrInvoiceAmountOverflow):
		return nil, domainErrors.Newf(domainErrors.CodePerPaymentLimitExceeded,
			"invoice amount is out of range, more than the %d sats allowed", opts.MaxSats)
	case err != nil:
		return nil, domainErrors.Wrap(domainErrors.CodePaymentFailed, "unusable payment challenge", err)
	}
	if amount > opts.MaxSats {
		return nil, domainErrors.Newf(domainErrors.CodePerPaymentLimitExceeded,
			"invoice asks for %d sats, more than the %d sats allowed", amount, opts.MaxSats)
	}

	result := c.payer.Payout(req.Context(), payout.Request{
		Destination:    payout.DestinationInput{Type: payout.Bolt11, Invoice: challenge.Invoice},
		Amount:         float64(amount),
		Currency:       payout.CurrencySats,
		IdempotencyKey: IdempotencyKey(challenge.Invoice),
	})
	if !result.Success {
		c.metrics.L402Payment("failed")
		return nil, result.Error
	}
	c.metrics.L402Payment("paid")
	paid = result.AmountSats
	c.logger.Debug().Str("host", host).Int64("amount_sats", result.AmountSats).Msg("paid L402 challenge")

	retry := req.Clone(req.Context())
	if body != nil {
		retry.Body = io.NopCloser(bytes.NewReader(body))
		retry.ContentLength = int64(len(body))
	}
	retry.Header.Set(HeaderPreimage, result.PaymentID)
	if challenge.PaymentHash != "" {
		retry.Header.Set(HeaderPaymentHash, challenge.PaymentHash)
	}
	if challenge.Macaroon != "" {
		retry.Header.Set("Authorization", fmt.Sprintf("%s %s:%s", scheme, challenge.Macaroon, result.PaymentID))
	}
	return c.http.Do(retry)
}

// Get is a convenience wrapper around Do.
func (c *Client) Get(ctx context.Context, url string, opts PaymentOptions) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req, opts)
}

// IdempotencyKey derives a stable key from an invoice so retries of the same challenge
// never pay twice.
func IdempotencyKey(invoice string) string {
	return "l402-" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(strings.ToLower(strings.TrimSpace(invoice)))).String()
}

// DomainSpend returns sats paid or reserved for host in the trailing hour.
func (c *Client) DomainSpend(host string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spentLocked(host, c.now())
}

// reserveDomainSpend holds worstCase sats against host's hourly cap until the request
// settles, so concurrent requests to one host cannot jointly overshoot the cap.
func (c *Client) reserveDomainSpend(host string, worstCase int64) (*spendRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if spent := c.spentLocked(host, now); c.domainCap > 0 && spent+worstCase > c.domainCap {
		return nil, domainErrors.Newf(domainErrors.CodePerPaymentLimitExceeded,
			"paying up to %d sats would exceed the hourly cap of %d sats for %s (spent %d)",
			worstCase, c.domainCap, host, spent)
	}
	rec := &spendRecord{host: host, amount: worstCase, timestamp: now}
	c.spend[host] = append(c.spend[host], rec)
	return rec, nil
}

// settleDomainSpend replaces a reservation with what was actually paid.
func (c *Client) settleDomainSpend(rec *spendRecord, paid int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if paid > 0 {
		rec.amount = paid
		return
	}
	records := c.spend[rec.host]
	for i, r := range records {
		if r == rec {
			c.spend[rec.host] = append(records[:i], records[i+1:]...)
			break
		}
	}
	if len(c.spend[rec.host]) == 0 {
		delete(c.spend, rec.host)
	}
}

// spentLocked prunes host's records outside the hour and sums the rest.
func (c *Client) spentLocked(host string, now time.Time) int64 {
	records := c.spend[host]
	kept := records[:0]
	var total int64
	for _, r := range records {
		if now.Sub(r.timestamp) < time.Hour {
			kept = append(kept, r)
			total += r.amount
		}
	}
	if len(kept) == 0 {
		delete(c.spend, host)
	} else {
		c.spend[host] = kept
	}
	return total
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
