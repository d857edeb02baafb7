package lightning

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	mrand "math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil/bech32"

	domainErrors "github.com/satsrail/payouts/internal/domain/errors"
)

// MockNode is an in-memory node for development and tests. Paying an invoice the same
// mock issued returns that invoice's real preimage, so one mock can play both sides of
// an L402 exchange.
type MockNode struct {
	network     Network
	failureRate float64
	latency     time.Duration
	balanceSats *int64
	invoiceTTL  time.Duration

	mu        sync.Mutex
	preimages map[string]string
	issued    map[string]string
	payments  []MockPayment
}

// MockPayment records a payment attempted against the mock.
type MockPayment struct {
	Kind       string
	Target     string
	AmountMsat int64
}

type MockNodeOption func(*MockNode)

func WithFailureRate(rate float64) MockNodeOption {
	return func(n *MockNode) { n.failureRate = rate }
}

func WithLatency(d time.Duration) MockNodeOption {
	return func(n *MockNode) { n.latency = d }
}

// WithBalance caps what the mock can spend. Without it the balance is unlimited.
func WithBalance(sats int64) MockNodeOption {
	return func(n *MockNode) { n.balanceSats = &sats }
}

func WithMockNetwork(network Network) MockNodeOption {
	return func(n *MockNode) { n.network = network }
}

func WithInvoiceTTL(d time.Duration) MockNodeOption {
	return func(n *MockNode) { n.invoiceTTL = d }
}

func NewMockNode(opts ...MockNodeOption) *MockNode {
	n := &MockNode{
		network:    Mainnet,
		invoiceTTL: time.Hour,
		preimages:  make(map[string]string),
		issued:     make(map[string]string),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

func (n *MockNode) CreateInvoice(ctx context.Context, amountSats *int64) (Invoice, error) {
	if err := n.simulate(ctx); err != nil {
		return Invoice{}, err
	}

	preimage := make([]byte, 32)
	if _, err := rand.Read(preimage); err != nil {
		return Invoice{}, fmt.Errorf("generate preimage: %w", err)
	}
	sum := sha256.Sum256(preimage)
	hash := hex.EncodeToString(sum[:])

	amount := ""
	if amountSats != nil {
		amount = fmt.Sprintf("%dn", *amountSats*10)
	}
	// Not a signed BOLT11 payload; only the human-readable part is meaningful.
	data, err := bech32.ConvertBits(sum[:], 8, 5, true)
	if err != nil {
		return Invoice{}, fmt.Errorf("encode invoice: %w", err)
	}
	invoice, err := bech32.Encode(n.network.InvoicePrefix()+amount, data)
	if err != nil {
		return Invoice{}, fmt.Errorf("encode invoice: %w", err)
	}

	n.mu.Lock()
	n.preimages[hash] = hex.EncodeToString(preimage)
	n.issued[invoice] = hash
	n.mu.Unlock()

	return Invoice{Invoice: invoice, PaymentHash: hash, ExpiresAt: time.Now().Add(n.invoiceTTL)}, nil
}

// Preimage returns the preimage of an invoice issued by this mock.
func (n *MockNode) Preimage(paymentHash string) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.preimages[paymentHash]
	return p, ok
}

func (n *MockNode) PayBolt11(ctx context.Context, invoice string) (string, error) {
	amountMsat := int64(0)
	if sats, ok := InvoiceAmountSats(invoice); ok {
		amountMsat = sats * 1000
	}
	if err := n.pay(ctx, "bolt11", invoice, amountMsat); err != nil {
		return "", err
	}
	n.mu.Lock()
	hash, own := n.issued[strings.ToLower(invoice)]
	n.mu.Unlock()
	if own {
		p, _ := n.Preimage(hash)
		return p, nil
	}
	preimage := make([]byte, 32)
	if _, err := rand.Read(preimage); err != nil {
		return "", fmt.Errorf("generate preimage: %w", err)
	}
	return hex.EncodeToString(preimage), nil
}

func (n *MockNode) PayBolt12Offer(ctx context.Context, offer string, amountMsat int64) (string, error) {
	if err := n.pay(ctx, "bolt12", offer, amountMsat); err != nil {
		return "", err
	}
	return fmt.Sprintf("bolt12_%x", sha256.Sum256([]byte(offer)))[:24], nil
}

func (n *MockNode) PayLnurl(ctx context.Context, target string, amountMsat int64) error {
	return n.pay(ctx, "lnurl", target, amountMsat)
}

// Payments returns a copy of the recorded payments.
func (n *MockNode) Payments() []MockPayment {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]MockPayment(nil), n.payments...)
}

func (n *MockNode) pay(ctx context.Context, kind, target string, amountMsat int64) error {
	if err := n.simulate(ctx); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.balanceSats != nil {
		if amountMsat/1000 > *n.balanceSats {
			return domainErrors.ErrInsufficientBalance
		}
		*n.balanceSats -= amountMsat / 1000
	}
	n.payments = append(n.payments, MockPayment{Kind: kind, Target: target, AmountMsat: amountMsat})
	return nil
}

func (n *MockNode) simulate(ctx context.Context) error {
	if n.latency > 0 {
		select {
		case <-time.After(n.latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if n.failureRate > 0 && mrand.Float64() < n.failureRate {
		return fmt.Errorf("mock node: simulated routing failure")
	}
	return nil
}
