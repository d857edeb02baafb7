package lightning

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeLNURL(t *testing.T) {
	encoded, err := EncodeLNURL("https://service.com/api?q=3fc3645b439ce8e7")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(encoded, "lnurl1"))

	u, err := DecodeLNURL(strings.ToUpper(encoded))
	require.NoError(t, err)
	assert.Equal(t, "service.com", u.Host)
	assert.Equal(t, "3fc3645b439ce8e7", u.Query().Get("q"))

	_, err = DecodeLNURL("lnurl1notbech32")
	assert.Error(t, err)
}

func TestPayRequestURL_LightningAddress(t *testing.T) {
	u, err := PayRequestURL("alice@wallet.com")
	require.NoError(t, err)
	assert.Equal(t, "https://wallet.com/.well-known/lnurlp/alice", u.String())

	_, err = PayRequestURL("@wallet.com")
	assert.Error(t, err)
}

func TestFetchLnurlInvoice_AmountOutOfRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(PayRequest{Callback: "http://unused/cb", MinSendable: 10_000, MaxSendable: 20_000, Tag: "payRequest"})
	}))
	defer srv.Close()

	_, err := FetchLnurlInvoice(context.Background(), srv.Client(), srv.URL, 5_000)

	assert.ErrorContains(t, err, "outside")
}

func TestFetchLnurlInvoice_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(PayRequest{Status: "ERROR", Reason: "user not found"})
	}))
	defer srv.Close()

	_, err := FetchLnurlInvoice(context.Background(), srv.Client(), srv.URL, 5_000)

	assert.ErrorContains(t, err, "user not found")
}
