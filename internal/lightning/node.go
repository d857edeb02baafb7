package lightning

import (
	"context"
	"time"
)

// Invoice is a payable request issued by a node.
type Invoice struct {
	Invoice     string
	PaymentHash string
	ExpiresAt   time.Time
}

// Node is the payment capability the engine consumes.
type Node interface {
	// CreateInvoice issues an invoice. A nil amount creates an amountless invoice.
	CreateInvoice(ctx context.Context, amountSats *int64) (Invoice, error)
	// PayBolt11 pays an invoice and returns the payment preimage as hex.
	PayBolt11(ctx context.Context, invoice string) (string, error)
	// PayBolt12Offer pays an offer for the given amount and returns a payment id.
	PayBolt12Offer(ctx context.Context, offer string, amountMsat int64) (string, error)
	// PayLnurl pays an LNURL-pay endpoint or Lightning address.
	PayLnurl(ctx context.Context, target string, amountMsat int64) error
}
