package payout

import (
	"math"
	"strings"

	domainErrors "github.com/satsrail/payouts/internal/domain/errors"
	"github.com/satsrail/payouts/internal/domain/payout"
)

const satsPerBTC = 100_000_000

// DefaultRates are placeholder sats-per-unit rates for fiat currencies. They are not
// market data; production deployments must configure rates from a real source.
var DefaultRates = map[payout.Currency]float64{
	payout.CurrencyUSD: 1000,
	payout.CurrencyEUR: 1100,
}

// Converter turns a request amount into satoshis.
type Converter interface {
	ToSats(amount float64, currency payout.Currency) (int64, error)
}

// FixedRateConverter converts with static rates.
type FixedRateConverter struct {
	rates map[payout.Currency]float64
}

// NewFixedRateConverter merges overrides (sats per unit, keyed by lowercase currency)
// into DefaultRates.
func NewFixedRateConverter(overrides map[string]float64) *FixedRateConverter {
	rates := make(map[payout.Currency]float64, len(DefaultRates)+len(overrides))
	for c, r := range DefaultRates {
		rates[c] = r
	}
	for c, r := range overrides {
		if r > 0 {
			rates[payout.Currency(strings.ToLower(c))] = r
		}
	}
	return &FixedRateConverter{rates: rates}
}

// ToSats converts amount. sats truncate toward zero; other currencies truncate after
// conversion. Anything that is not a positive whole satoshi fails with INVALID_AMOUNT.
func (c *FixedRateConverter) ToSats(amount float64, currency payout.Currency) (int64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, domainErrors.New(domainErrors.CodeInvalidAmount, "amount must be a finite number")
	}

	var sats float64
	switch cur := currency.Normalize(); cur {
	case payout.CurrencySats:
		sats = amount
	case payout.CurrencyBTC:
		// Round away float noise like 0.00001 * 1e8 = 999.9999999.
		sats = math.Round(amount*satsPerBTC*1e6) / 1e6
	default:
		rate, ok := c.rates[cur]
		if !ok {
			return 0, domainErrors.Newf(domainErrors.CodeInvalidAmount, "unsupported currency %q", cur)
		}
		sats = amount * rate
	}

	if sats > math.MaxInt64/2 {
		return 0, domainErrors.New(domainErrors.CodeInvalidAmount, "amount is too large")
	}
	whole := int64(math.Trunc(sats))
	if whole <= 0 {
		return 0, domainErrors.Newf(domainErrors.CodeInvalidAmount, "amount %v %s is less than one satoshi", amount, currency.Normalize())
	}
	return whole, nil
}
