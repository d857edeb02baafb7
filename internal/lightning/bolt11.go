package lightning

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

// Network is a Lightning network selection.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Signet  Network = "signet"
	Regtest Network = "regtest"
)

// ParseNetwork resolves a configured network name. The empty string means mainnet.
func ParseNetwork(name string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "mainnet", "bitcoin":
		return Mainnet, nil
	case "testnet", "testnet3":
		return Testnet, nil
	case "signet":
		return Signet, nil
	case "regtest":
		return Regtest, nil
	}
	return "", fmt.Errorf("unknown network %q", name)
}

// Params returns the chain parameters of the network.
func (n Network) Params() *chaincfg.Params {
	switch n {
	case Testnet:
		return &chaincfg.TestNet3Params
	case Signet:
		return &chaincfg.SigNetParams
	case Regtest:
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

// InvoicePrefix is the BOLT11 human-readable prefix ("ln" + currency) for the network.
// Signet shares the testnet segwit HRP on-chain but uses "tbs" for invoices.
func (n Network) InvoicePrefix() string {
	if n == Signet {
		return "lntbs"
	}
	return "ln" + n.Params().Bech32HRPSegwit
}

// invoice currency prefixes, longest first so "bcrt" wins over "bc".
var currencyPrefixes = []struct {
	hrp     string
	network Network
}{
	{"bcrt", Regtest},
	{"tbs", Signet},
	{"bc", Mainnet},
	{"tb", Testnet},
}

// hrpOf returns the lowercased human-readable part of a bech32 invoice.
func hrpOf(invoice string) (string, bool) {
	inv := strings.ToLower(strings.TrimSpace(invoice))
	inv = strings.TrimPrefix(inv, "lightning:")
	sep := strings.LastIndexByte(inv, '1')
	if sep < 2 || !strings.HasPrefix(inv, "ln") {
		return "", false
	}
	return inv[:sep], true
}

// InvoiceNetwork detects the network a BOLT11 invoice is issued for.
func InvoiceNetwork(invoice string) (Network, bool) {
	hrp, ok := hrpOf(invoice)
	if !ok {
		return "", false
	}
	rest := strings.TrimPrefix(hrp, "ln")
	for _, p := range currencyPrefixes {
		if strings.HasPrefix(rest, p.hrp) {
			return p.network, true
		}
	}
	return "", false
}

// msat per unit of the amount field, keyed by multiplier. 0 is a whole bitcoin.
var multiplierMsat = map[byte]int64{
	0:   100_000_000_000,
	'm': 100_000_000,
	'u': 100_000,
	'n': 100,
}

var (
	// ErrNoInvoiceAmount is returned for amountless invoices.
	ErrNoInvoiceAmount = errors.New("invoice has no amount")
	// ErrInvoiceAmountOverflow is returned when the encoded amount does not fit in int64 msat.
	ErrInvoiceAmountOverflow = errors.New("invoice amount out of range")
)

// DecodeInvoiceAmount extracts the amount encoded in a BOLT11 invoice's human-readable
// part. It does not verify the signature or checksum. Fractional satoshis round up so
// the result never understates what the invoice asks for.
func DecodeInvoiceAmount(invoice string) (int64, error) {
	hrp, found := hrpOf(invoice)
	if !found {
		return 0, errors.New("not a bolt11 invoice")
	}
	rest := strings.TrimPrefix(hrp, "ln")
	matched := false
	for _, p := range currencyPrefixes {
		if strings.HasPrefix(rest, p.hrp) {
			rest = strings.TrimPrefix(rest, p.hrp)
			matched = true
			break
		}
	}
	if !matched {
		return 0, fmt.Errorf("unknown invoice currency in %q", hrp)
	}
	if rest == "" {
		return 0, ErrNoInvoiceAmount
	}

	digits := rest
	var mult byte
	if last := rest[len(rest)-1]; last < '0' || last > '9' {
		mult = last
		digits = rest[:len(rest)-1]
	}
	if digits == "" {
		return 0, errors.New("invoice amount has no digits")
	}
	value, err := strconv.ParseInt(digits, 10, 64)
	if errors.Is(err, strconv.ErrRange) {
		return 0, ErrInvoiceAmountOverflow
	}
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("invalid invoice amount %q", digits)
	}

	var msat int64
	switch mult {
	case 'p':
		// 1 pico-bitcoin is a tenth of a millisatoshi.
		msat = value/10 + ceilRem(value, 10)
	default:
		per, known := multiplierMsat[mult]
		if !known {
			return 0, fmt.Errorf("unknown amount multiplier %q", mult)
		}
		if value > math.MaxInt64/per {
			return 0, ErrInvoiceAmountOverflow
		}
		msat = value * per
	}
	return msat/1000 + ceilRem(msat, 1000), nil
}

// InvoiceAmountSats is DecodeInvoiceAmount reduced to ok=false for amountless,
// out-of-range or unparseable invoices.
func InvoiceAmountSats(invoice string) (sats int64, ok bool) {
	sats, err := DecodeInvoiceAmount(invoice)
	return sats, err == nil
}

func ceilRem(v, d int64) int64 {
	if v%d != 0 {
		return 1
	}
	return 0
}
