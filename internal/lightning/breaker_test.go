package lightning

import (
	"context"
	"testing"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerNode_OpensAfterFailures(t *testing.T) {
	var transitions []gobreaker.State
	node := NewBreakerNode(NewMockNode(WithFailureRate(1.0)), BreakerSettings("node", func(_ string, _, to gobreaker.State) {
		transitions = append(transitions, to)
	}))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := node.PayBolt11(ctx, "lnbc1u1pexample")
		require.Error(t, err)
	}

	assert.Equal(t, gobreaker.StateOpen, node.State())
	assert.Equal(t, []gobreaker.State{gobreaker.StateOpen}, transitions)

	_, err := node.PayBolt11(ctx, "lnbc1u1pexample")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestBreakerNode_InsufficientBalanceDoesNotTrip(t *testing.T) {
	node := NewBreakerNode(NewMockNode(WithBalance(0)), BreakerSettings("node", nil))
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		require.Error(t, node.PayLnurl(ctx, "a@b.com", 1000))
	}

	assert.Equal(t, gobreaker.StateClosed, node.State())
}

func TestBreakerNode_CreateInvoicePassesThrough(t *testing.T) {
	mock := NewMockNode()
	node := NewBreakerNode(mock, BreakerSettings("node", nil))
	amount := int64(10)

	inv, err := node.CreateInvoice(context.Background(), &amount)
	require.NoError(t, err)

	_, ok := mock.Preimage(inv.PaymentHash)
	assert.True(t, ok)
}
