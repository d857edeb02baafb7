package payout

import (
	"context"

	"github.com/satsrail/payouts/internal/authz"
	"github.com/satsrail/payouts/internal/domain/payout"
	"github.com/satsrail/payouts/internal/limits"
)

// Authorizer asks the remote service to approve and reserve spend.
type Authorizer interface {
	Authorize(ctx context.Context, req authz.AuthorizeRequest) (*authz.AuthorizeResponse, error)
}

// CompletionReporter delivers best-effort completion reports. Report must not block.
type CompletionReporter interface {
	Report(req authz.CompleteRequest)
}

// DestinationResolver parses and validates a destination.
type DestinationResolver interface {
	Resolve(in payout.DestinationInput) (payout.Destination, error)
}

// SpendGuard reserves local spend.
type SpendGuard interface {
	CheckAndReserve(amountSats int64) (limits.Record, error)
	Release(rec limits.Record) bool
}

// AttemptLimiter throttles payment attempts.
type AttemptLimiter interface {
	Check() error
}
