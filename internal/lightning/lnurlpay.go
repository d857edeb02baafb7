package lightning

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// PayRequest is the first-stage LNURL-pay response (LUD-06).
type PayRequest struct {
	Callback    string `json:"callback"`
	MinSendable int64  `json:"minSendable"`
	MaxSendable int64  `json:"maxSendable"`
	Metadata    string `json:"metadata"`
	Tag         string `json:"tag"`
	Status      string `json:"status,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

type callbackResponse struct {
	PR     string `json:"pr"`
	Status string `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// PayRequestURL returns the LNURL-pay endpoint for an lnurl string, an http(s) URL or a
// Lightning address (LUD-16).
func PayRequestURL(target string) (*url.URL, error) {
	target = strings.TrimSpace(target)
	if user, domain, ok := strings.Cut(target, "@"); ok && !strings.Contains(domain, "/") {
		if user == "" || domain == "" {
			return nil, fmt.Errorf("invalid lightning address %q", target)
		}
		scheme := "https"
		if strings.HasSuffix(domain, ".onion") {
			scheme = "http"
		}
		return &url.URL{Scheme: scheme, Host: domain, Path: "/.well-known/lnurlp/" + user}, nil
	}
	return DecodeLNURL(target)
}

// FetchLnurlInvoice walks the LNURL-pay flow for target and returns the invoice the
// service issues for amountMsat.
func FetchLnurlInvoice(ctx context.Context, client *http.Client, target string, amountMsat int64) (string, error) {
	endpoint, err := PayRequestURL(target)
	if err != nil {
		return "", err
	}

	var params PayRequest
	if err := getJSON(ctx, client, endpoint.String(), &params); err != nil {
		return "", fmt.Errorf("lnurl-pay request: %w", err)
	}
	if strings.EqualFold(params.Status, "ERROR") {
		return "", fmt.Errorf("lnurl-pay request: %s", params.Reason)
	}
	if params.Tag != "payRequest" || params.Callback == "" {
		return "", fmt.Errorf("lnurl-pay request: unexpected tag %q", params.Tag)
	}
	if amountMsat < params.MinSendable || (params.MaxSendable > 0 && amountMsat > params.MaxSendable) {
		return "", fmt.Errorf("lnurl-pay: amount %d msat outside [%d, %d]", amountMsat, params.MinSendable, params.MaxSendable)
	}

	cb, err := url.Parse(params.Callback)
	if err != nil {
		return "", fmt.Errorf("lnurl-pay callback: %w", err)
	}
	q := cb.Query()
	q.Set("amount", strconv.FormatInt(amountMsat, 10))
	cb.RawQuery = q.Encode()

	var inv callbackResponse
	if err := getJSON(ctx, client, cb.String(), &inv); err != nil {
		return "", fmt.Errorf("lnurl-pay callback: %w", err)
	}
	if strings.EqualFold(inv.Status, "ERROR") {
		return "", fmt.Errorf("lnurl-pay callback: %s", inv.Reason)
	}
	if inv.PR == "" {
		return "", fmt.Errorf("lnurl-pay callback: no invoice returned")
	}
	if sats, ok := InvoiceAmountSats(inv.PR); ok && sats*1000 < amountMsat {
		return "", fmt.Errorf("lnurl-pay callback: invoice amount %d sats below requested %d msat", sats, amountMsat)
	}
	return inv.PR, nil
}

func getJSON(ctx context.Context, client *http.Client, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %d: %s", req.URL.Host, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
