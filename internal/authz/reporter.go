package authz

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Completer delivers completion reports.
type Completer interface {
	Complete(ctx context.Context, req CompleteRequest) error
}

// Reporter sends completion reports in the background so payout results are never
// held up by the authorization service. Reports are delivered in order by a single worker.
type Reporter struct {
	completer Completer
	logger    zerolog.Logger
	timeout   time.Duration

	queue     chan CompleteRequest
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewReporter starts the reporter worker. size bounds the queue.
func NewReporter(completer Completer, logger zerolog.Logger, size int) *Reporter {
	if size <= 0 {
		size = 256
	}
	r := &Reporter{
		completer: completer,
		logger:    logger,
		timeout:   10 * time.Second,
		queue:     make(chan CompleteRequest, size),
		done:      make(chan struct{}),
	}
	go r.run()
	return r
}

// Report enqueues req without blocking. Reports are dropped when the queue is full or closed.
func (r *Reporter) Report(req CompleteRequest) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.Warn().Str("authorization_id", req.AuthorizationID).Msg("reporter closed, dropping completion report")
		return
	}
	select {
	case r.queue <- req:
	default:
		r.logger.Warn().Str("authorization_id", req.AuthorizationID).Msg("completion queue full, dropping report")
	}
}

func (r *Reporter) run() {
	defer close(r.done)
	for req := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		err := r.completer.Complete(ctx, req)
		cancel()
		if err != nil {
			r.logger.Error().Err(err).
				Str("authorization_id", req.AuthorizationID).
				Bool("success", req.Success).
				Msg("failed to report payout completion")
		}
	}
}

// Close stops accepting reports and waits until queued ones are delivered or ctx ends.
func (r *Reporter) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
	})
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
