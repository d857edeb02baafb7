// Package destination parses payment destinations into typed values and enforces the
// local destination allowlist.
package destination

import (
	"strings"

	domainErrors "github.com/satsrail/payouts/internal/domain/errors"
	"github.com/satsrail/payouts/internal/domain/payout"
	"github.com/satsrail/payouts/internal/lightning"
)

var bolt11Prefixes = []string{"lnbcrt", "lnbc", "lntb", "lnbs"}

// Resolver turns raw destinations into typed ones.
type Resolver struct {
	allowlist []string
	network   lightning.Network
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithAllowlist restricts destinations to the given entries.
func WithAllowlist(entries []string) Option {
	return func(r *Resolver) { r.allowlist = entries }
}

// WithNetwork rejects BOLT11 invoices issued for a different network.
func WithNetwork(n lightning.Network) Option {
	return func(r *Resolver) { r.network = n }
}

// NewResolver creates a Resolver.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ParseAllowlist splits a comma-separated allowlist, dropping blanks.
func ParseAllowlist(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Resolve parses the input and checks it against the allowlist.
func (r *Resolver) Resolve(in payout.DestinationInput) (payout.Destination, error) {
	dest, err := Parse(in)
	if err != nil {
		return payout.Destination{}, err
	}
	if err := r.checkNetwork(dest); err != nil {
		return payout.Destination{}, err
	}
	if err := ValidateAllowlist(dest, r.allowlist); err != nil {
		return payout.Destination{}, err
	}
	return dest, nil
}

func (r *Resolver) checkNetwork(dest payout.Destination) error {
	if r.network == "" || dest.Type != payout.Bolt11 {
		return nil
	}
	if n, ok := lightning.InvoiceNetwork(dest.Address); ok && n != r.network {
		return domainErrors.Newf(domainErrors.CodeInvalidDestination,
			"invoice is for %s but this node runs on %s", n, r.network)
	}
	return nil
}

// Parse resolves a destination without allowlist checks.
func Parse(in payout.DestinationInput) (payout.Destination, error) {
	if in.IsTagged() {
		return parseTagged(in)
	}
	return ParseString(in.Value)
}

// ParseString auto-detects the destination type of s.
func ParseString(s string) (payout.Destination, error) {
	addr := strings.TrimSpace(s)
	if len(addr) >= len("lightning:") && strings.EqualFold(addr[:len("lightning:")], "lightning:") {
		addr = addr[len("lightning:"):]
	}
	lower := strings.ToLower(addr)

	switch {
	case strings.HasPrefix(lower, "lno1"):
		return payout.Destination{Type: payout.Bolt12, Address: addr}, nil
	case strings.HasPrefix(lower, "lnurl1"):
		return payout.Destination{Type: payout.LNURL, Address: addr}, nil
	case hasAnyPrefix(lower, bolt11Prefixes):
		return payout.Destination{Type: payout.Bolt11, Address: addr}, nil
	case isLightningAddress(addr):
		return payout.Destination{Type: payout.LightningAddress, Address: addr}, nil
	}
	return payout.Destination{}, domainErrors.New(domainErrors.CodeInvalidDestination,
		"unrecognized destination format")
}

func parseTagged(in payout.DestinationInput) (payout.Destination, error) {
	var field, name string
	switch in.Type {
	case payout.Bolt11:
		field, name = in.Invoice, "invoice"
	case payout.Bolt12:
		field, name = in.Offer, "offer"
	case payout.LNURL:
		field, name = in.URL, "url"
	case payout.LightningAddress:
		field, name = in.Address, "address"
	default:
		return payout.Destination{}, domainErrors.Newf(domainErrors.CodeInvalidDestination,
			"unknown destination type %q", in.Type)
	}
	field = strings.TrimSpace(field)
	if field == "" {
		return payout.Destination{}, domainErrors.Newf(domainErrors.CodeInvalidDestination,
			"%s destination requires a non-empty %s", in.Type, name)
	}
	return payout.Destination{Type: in.Type, Address: field}, nil
}

func isLightningAddress(s string) bool {
	if strings.Count(s, "@") != 1 {
		return false
	}
	at := strings.IndexByte(s, '@')
	if at == 0 || at == len(s)-1 {
		return false
	}
	return strings.Contains(s[at+1:], ".")
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// ValidateAllowlist reports DESTINATION_NOT_ALLOWED unless dest matches an entry.
// An empty allowlist allows everything. Lightning addresses and LNURLs also match
// "*.domain" entries against their host, including subdomains.
func ValidateAllowlist(dest payout.Destination, allowlist []string) error {
	if len(allowlist) == 0 {
		return nil
	}
	for _, entry := range allowlist {
		if entry == dest.Address {
			return nil
		}
	}
	for _, entry := range allowlist {
		if strings.EqualFold(entry, dest.Address) {
			return nil
		}
	}

	if host := hostOf(dest); host != "" {
		for _, entry := range allowlist {
			if matchesDomain(entry, host) {
				return nil
			}
		}
	}

	return domainErrors.Newf(domainErrors.CodeDestinationNotAllowed,
		"%s destination is not in the allowlist", dest.Type)
}

func hostOf(dest payout.Destination) string {
	switch dest.Type {
	case payout.LightningAddress:
		at := strings.LastIndexByte(dest.Address, '@')
		return strings.ToLower(dest.Address[at+1:])
	case payout.LNURL:
		u, err := lightning.DecodeLNURL(dest.Address)
		if err != nil {
			return ""
		}
		return strings.ToLower(u.Hostname())
	}
	return ""
}

func matchesDomain(entry, host string) bool {
	if !strings.HasPrefix(entry, "*.") {
		return false
	}
	domain := strings.ToLower(entry[2:])
	return host == domain || strings.HasSuffix(host, "."+domain)
}
