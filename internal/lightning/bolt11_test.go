package lightning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvoiceAmountSats(t *testing.T) {
	tests := []struct {
		name    string
		invoice string
		sats    int64
		ok      bool
	}{
		{"micro", "lnbc100u1pjexample", 10_000, true},
		{"milli", "lnbc2m1pjexample", 200_000, true},
		{"nano", "lnbc2500n1pjexample", 250, true},
		{"nano rounds up", "lnbc15n1pjexample", 2, true},
		{"pico", "lnbc10000p1pjexample", 1, true},
		{"whole coin", "lnbc1pjexample", 0, false},
		{"one bitcoin", "lnbc11pjexample", 100_000_000, true},
		{"testnet", "lntb20u1pjexample", 2_000, true},
		{"regtest", "lnbcrt5u1pjexample", 500, true},
		{"signet", "lntbs3u1pjexample", 300, true},
		{"uppercase", "LNBC100U1PJEXAMPLE", 10_000, true},
		{"uri scheme", "lightning:lnbc100u1pjexample", 10_000, true},
		{"amountless", "lnbc1pvjluezexample", 0, false},
		{"unknown multiplier", "lnbc100x1pjexample", 0, false},
		{"not an invoice", "user@example.com", 0, false},
		{"largest milli amount", "lnbc92233720368m1pjexample", 9_223_372_036_800_000, true},
		{"milli amount overflows", "lnbc92233720369m1pjexample", 0, false},
		{"huge milli amount", "lnbc1660206966634m1pjexample", 0, false},
		{"whole coins overflow", "lnbc100000000001pjexample", 0, false},
		{"amount beyond int64", "lnbc999999999999999999999u1pjexample", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sats, ok := InvoiceAmountSats(tt.invoice)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.sats, sats)
		})
	}
}

func TestDecodeInvoiceAmount_Errors(t *testing.T) {
	_, err := DecodeInvoiceAmount("lnbc1pvjluezexample")
	assert.ErrorIs(t, err, ErrNoInvoiceAmount)

	_, err = DecodeInvoiceAmount("lnbc1660206966634m1pjexample")
	assert.ErrorIs(t, err, ErrInvoiceAmountOverflow)

	_, err = DecodeInvoiceAmount("lnbc999999999999999999999u1pjexample")
	assert.ErrorIs(t, err, ErrInvoiceAmountOverflow)

	_, err = DecodeInvoiceAmount("lnbc100x1pjexample")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoInvoiceAmount)
	assert.NotErrorIs(t, err, ErrInvoiceAmountOverflow)

	sats, err := DecodeInvoiceAmount("lnbc2500n1pjexample")
	require.NoError(t, err)
	assert.Equal(t, int64(250), sats)
}

func TestInvoiceNetwork(t *testing.T) {
	tests := map[string]Network{
		"lnbc100u1pjexample":   Mainnet,
		"lntb100u1pjexample":   Testnet,
		"lntbs100u1pjexample":  Signet,
		"lnbcrt100u1pjexample": Regtest,
	}
	for inv, want := range tests {
		got, ok := InvoiceNetwork(inv)
		require.True(t, ok, inv)
		assert.Equal(t, want, got, inv)
	}

	_, ok := InvoiceNetwork("lno1qcp4256ypq")
	assert.False(t, ok)
}

func TestParseNetwork(t *testing.T) {
	n, err := ParseNetwork("")
	require.NoError(t, err)
	assert.Equal(t, Mainnet, n)
	assert.Equal(t, "lnbc", n.InvoicePrefix())

	n, err = ParseNetwork("regtest")
	require.NoError(t, err)
	assert.Equal(t, "lnbcrt", n.InvoicePrefix())

	n, err = ParseNetwork("signet")
	require.NoError(t, err)
	assert.Equal(t, "lntbs", n.InvoicePrefix())

	n, err = ParseNetwork("testnet")
	require.NoError(t, err)
	assert.Equal(t, "lntb", n.InvoicePrefix())

	_, err = ParseNetwork("dogecoin")
	assert.Error(t, err)
}
