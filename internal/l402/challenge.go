// Package l402 implements both sides of the HTTP 402 Lightning payment convention: a
// client that pays challenges and retries, and a server that issues and checks them.
package l402

import (
	"fmt"
	"net/http"
	"strings"
)

const (
	HeaderInvoice     = "X-Lightning-Invoice"
	HeaderPaymentHash = "X-Payment-Hash"
	HeaderPreimage    = "X-Payment-Preimage"
	HeaderChallenge   = "WWW-Authenticate"

	scheme = "L402"
)

// Challenge is a parsed 402 payment requirement.
type Challenge struct {
	Invoice     string
	PaymentHash string
	Macaroon    string
}

// ParseChallenge reads the invoice from the dedicated header, falling back to an
// L402 WWW-Authenticate challenge.
func ParseChallenge(h http.Header) (Challenge, error) {
	c := Challenge{
		Invoice:     strings.TrimSpace(h.Get(HeaderInvoice)),
		PaymentHash: strings.TrimSpace(h.Get(HeaderPaymentHash)),
	}
	for _, v := range h.Values(HeaderChallenge) {
		params, ok := parseAuthParams(v)
		if !ok {
			continue
		}
		if c.Invoice == "" {
			c.Invoice = params["invoice"]
		}
		if c.PaymentHash == "" {
			c.PaymentHash = params["payment_hash"]
		}
		c.Macaroon = params["macaroon"]
		break
	}
	if c.Invoice == "" {
		return Challenge{}, fmt.Errorf("402 response carries no lightning invoice")
	}
	return c, nil
}

// Header renders the WWW-Authenticate value for c.
func (c Challenge) Header() string {
	parts := make([]string, 0, 3)
	if c.Macaroon != "" {
		parts = append(parts, fmt.Sprintf("macaroon=%q", c.Macaroon))
	}
	parts = append(parts, fmt.Sprintf("invoice=%q", c.Invoice))
	if c.PaymentHash != "" {
		parts = append(parts, fmt.Sprintf("payment_hash=%q", c.PaymentHash))
	}
	return scheme + " " + strings.Join(parts, ", ")
}

// parseAuthParams parses `L402 k="v", k2="v2"`. Both L402 and the older LSAT scheme
// are accepted.
func parseAuthParams(v string) (map[string]string, bool) {
	name, rest, _ := strings.Cut(strings.TrimSpace(v), " ")
	if !strings.EqualFold(name, scheme) && !strings.EqualFold(name, "LSAT") {
		return nil, false
	}
	params := make(map[string]string)
	for _, part := range strings.Split(rest, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		params[strings.ToLower(strings.TrimSpace(k))] = strings.Trim(strings.TrimSpace(val), `"`)
	}
	return params, true
}
