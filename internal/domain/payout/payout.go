package payout

import (
	"context"
	"strings"

	domainErrors "github.com/satsrail/payouts/internal/domain/errors"
)

// DestinationType identifies a Lightning destination encoding.
type DestinationType string

const (
	Bolt11           DestinationType = "bolt11"
	Bolt12           DestinationType = "bolt12"
	LNURL            DestinationType = "lnurl"
	LightningAddress DestinationType = "lightning_address"
)

// Valid reports whether t is one of the known destination types.
func (t DestinationType) Valid() bool {
	switch t {
	case Bolt11, Bolt12, LNURL, LightningAddress:
		return true
	}
	return false
}

// Destination is a resolved, typed payment destination.
type Destination struct {
	Type    DestinationType `json:"type"`
	Address string          `json:"address"`
}

// DestinationInput is the caller-supplied destination before resolution. When Type is
// empty, Value is auto-detected; otherwise the field matching Type is used.
type DestinationInput struct {
	Value   string          `json:"value,omitempty"`
	Type    DestinationType `json:"type,omitempty"`
	Invoice string          `json:"invoice,omitempty"`
	Offer   string          `json:"offer,omitempty"`
	URL     string          `json:"url,omitempty"`
	Address string          `json:"address,omitempty"`
}

// FromString builds an auto-detected destination input.
func FromString(s string) DestinationInput {
	return DestinationInput{Value: s}
}

// IsTagged reports whether the input carries an explicit type.
func (d DestinationInput) IsTagged() bool {
	return d.Type != ""
}

// Currency of a payout amount.
type Currency string

const (
	CurrencySats Currency = "sats"
	CurrencyBTC  Currency = "btc"
	CurrencyUSD  Currency = "usd"
	CurrencyEUR  Currency = "eur"
)

// Normalize lowercases and trims the currency, defaulting to sats.
func (c Currency) Normalize() Currency {
	n := Currency(strings.ToLower(strings.TrimSpace(string(c))))
	if n == "" {
		return CurrencySats
	}
	return n
}

// Event is handed to payout callbacks.
type Event struct {
	IdempotencyKey  string
	Destination     Destination
	AmountSats      int64
	AuthorizationID string
}

// BeforeFunc runs after authorization and before the node is asked to pay.
// Returning an error aborts the payout.
type BeforeFunc func(ctx context.Context, ev Event) error

// AfterFunc runs once the result is cached. Its error is logged and ignored.
type AfterFunc func(ctx context.Context, ev Event, result Result) error

// Request is a high-level "pay this destination this amount" request.
type Request struct {
	Destination    DestinationInput
	Amount         float64
	Currency       Currency
	IdempotencyKey string
	BeforePayout   BeforeFunc
	AfterPayout    AfterFunc
}

// Result is produced exactly once per idempotency key and replayed verbatim afterwards.
type Result struct {
	Success    bool                      `json:"success"`
	PaymentID  string                    `json:"paymentId,omitempty"`
	AmountSats int64                     `json:"amountSats,omitempty"`
	Error      *domainErrors.PayoutError `json:"-"`
}

// Succeeded builds a successful result.
func Succeeded(paymentID string, amountSats int64) Result {
	return Result{Success: true, PaymentID: paymentID, AmountSats: amountSats}
}

// Failed builds a failed result from any error, keeping structured errors intact.
func Failed(err error) Result {
	return Result{Success: false, Error: domainErrors.AsPayoutError(err, domainErrors.CodeInternalError)}
}
