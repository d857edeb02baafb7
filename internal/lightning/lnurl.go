package lightning

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// DecodeLNURL decodes a bech32 "lnurl1..." string into the URL it encodes.
// Plain http(s) URLs are parsed as-is.
func DecodeLNURL(s string) (*url.URL, error) {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	lower = strings.TrimPrefix(lower, "lightning:")

	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return url.Parse(s)
	}

	hrp, data, err := bech32.DecodeNoLimit(lower)
	if err != nil {
		return nil, fmt.Errorf("decode lnurl: %w", err)
	}
	if hrp != "lnurl" {
		return nil, fmt.Errorf("decode lnurl: unexpected prefix %q", hrp)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("decode lnurl: %w", err)
	}
	u, err := url.Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("decode lnurl: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("decode lnurl: no host in %q", string(raw))
	}
	return u, nil
}

// EncodeLNURL encodes a URL as an uppercase-free bech32 lnurl string.
func EncodeLNURL(rawURL string) (string, error) {
	conv, err := bech32.ConvertBits([]byte(rawURL), 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode("lnurl", conv)
}
