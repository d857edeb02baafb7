package lightning

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	domainErrors "github.com/satsrail/payouts/internal/domain/errors"
)

// BreakerNode guards a Node with a circuit breaker so a failing node is not hammered.
// Insufficient balance and unsupported destinations are answers, not outages, and do not
// trip the breaker.
type BreakerNode struct {
	node    Node
	breaker *gobreaker.CircuitBreaker[string]
}

// BreakerSettings builds the breaker settings used for nodes. onChange may be nil.
func BreakerSettings(name string, onChange func(name string, from, to gobreaker.State)) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 10,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, domainErrors.ErrInsufficientBalance) ||
				errors.Is(err, domainErrors.ErrUnsupportedDestination) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: onChange,
	}
}

// NewBreakerNode wraps node.
func NewBreakerNode(node Node, settings gobreaker.Settings) *BreakerNode {
	return &BreakerNode{
		node:    node,
		breaker: gobreaker.NewCircuitBreaker[string](settings),
	}
}

// State reports the breaker state.
func (b *BreakerNode) State() gobreaker.State {
	return b.breaker.State()
}

func (b *BreakerNode) CreateInvoice(ctx context.Context, amountSats *int64) (Invoice, error) {
	// Invoice creation is receive-side and stays outside the payment breaker.
	return b.node.CreateInvoice(ctx, amountSats)
}

func (b *BreakerNode) PayBolt11(ctx context.Context, invoice string) (string, error) {
	return b.breaker.Execute(func() (string, error) {
		return b.node.PayBolt11(ctx, invoice)
	})
}

func (b *BreakerNode) PayBolt12Offer(ctx context.Context, offer string, amountMsat int64) (string, error) {
	return b.breaker.Execute(func() (string, error) {
		return b.node.PayBolt12Offer(ctx, offer, amountMsat)
	})
}

func (b *BreakerNode) PayLnurl(ctx context.Context, target string, amountMsat int64) error {
	_, err := b.breaker.Execute(func() (string, error) {
		return "", b.node.PayLnurl(ctx, target, amountMsat)
	})
	return err
}
