// Package payout runs the payout lifecycle: idempotency, destination checks, local
// limits, remote authorization, caller callbacks and the node payment itself.
package payout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/satsrail/payouts/internal/authz"
	domainErrors "github.com/satsrail/payouts/internal/domain/errors"
	"github.com/satsrail/payouts/internal/domain/payout"
	"github.com/satsrail/payouts/internal/idempotency"
	"github.com/satsrail/payouts/internal/infrastructure/observability"
	"github.com/satsrail/payouts/internal/lightning"
	"github.com/satsrail/payouts/internal/limits"
	"github.com/satsrail/payouts/pkg/saga"
)

const (
	DefaultBeforePayoutTimeout = 5 * time.Second
	DefaultInFlightWait        = 100 * time.Millisecond
)

// Config tunes executor timing.
type Config struct {
	BeforePayoutTimeout time.Duration
	InFlightWait        time.Duration
}

// Deps are the collaborators of an Executor. Metrics may be nil.
type Deps struct {
	Resolver   DestinationResolver
	Store      *idempotency.Store
	Guard      SpendGuard
	Limiter    AttemptLimiter
	Authorizer Authorizer
	Reporter   CompletionReporter
	Node       lightning.Node
	Converter  Converter
	Metrics    *observability.Metrics
	Logger     zerolog.Logger
}

// Executor runs payouts. A payout for a given idempotency key executes at most once per
// process; later calls replay the cached outcome.
type Executor struct {
	Deps
	cfg    Config
	tracer trace.Tracer
}

// NewExecutor creates an Executor.
func NewExecutor(deps Deps, cfg Config) *Executor {
	if cfg.BeforePayoutTimeout <= 0 {
		cfg.BeforePayoutTimeout = DefaultBeforePayoutTimeout
	}
	if cfg.InFlightWait <= 0 {
		cfg.InFlightWait = DefaultInFlightWait
	}
	if deps.Converter == nil {
		deps.Converter = NewFixedRateConverter(nil)
	}
	return &Executor{
		Deps:   deps,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/satsrail/payouts/internal/payout"),
	}
}

// Payout executes req and never returns an error: failures are reported in the Result.
func (e *Executor) Payout(ctx context.Context, req payout.Request) payout.Result {
	key := strings.TrimSpace(req.IdempotencyKey)
	ctx, span := e.tracer.Start(ctx, "payout.execute", trace.WithAttributes(
		attribute.String("payout.idempotency_key", key),
	))
	defer span.End()

	log := e.Logger.With().Str("idempotency_key", key).Logger()

	if key == "" {
		return e.finish(span, payout.Failed(domainErrors.New(domainErrors.CodeInternalError, "idempotency key is required")))
	}

	if cached, ok := e.Store.Get(key); ok {
		log.Debug().Bool("success", cached.Success).Msg("replaying cached payout")
		e.Metrics.IdempotencyReplay()
		span.SetAttributes(attribute.Bool("payout.replayed", true))
		return e.finish(span, cached)
	}

	done, acquired := e.Store.MarkInProgress(key)
	if !acquired {
		if cached, ok := e.Store.Await(ctx, key, done, e.cfg.InFlightWait); ok {
			log.Debug().Msg("replaying payout finished by a concurrent caller")
			e.Metrics.IdempotencyReplay()
			return e.finish(span, cached)
		}
		log.Info().Msg("payout already in progress")
		return e.finish(span, payout.Failed(domainErrors.WithRetryAfter(domainErrors.CodeInternalError,
			"a payout with this idempotency key is already in progress", e.cfg.InFlightWait)))
	}
	defer e.Store.ClearInProgress(key)

	// Once claimed, the payout runs to its one outcome even if the caller goes away.
	return e.finish(span, e.execute(context.WithoutCancel(ctx), key, req, log))
}

func (e *Executor) finish(span trace.Span, result payout.Result) payout.Result {
	if result.Error != nil {
		span.SetStatus(codes.Error, result.Error.Error())
		span.SetAttributes(attribute.String("payout.error_code", string(result.Error.Code)))
	}
	return result
}

func (e *Executor) execute(ctx context.Context, key string, req payout.Request, log zerolog.Logger) payout.Result {
	dest, err := e.Resolver.Resolve(req.Destination)
	if err != nil {
		return e.reject(key, "unknown", err, log)
	}

	amountSats, err := e.Converter.ToSats(req.Amount, req.Currency)
	if err != nil {
		return e.reject(key, string(dest.Type), err, log)
	}
	if dest.Type == payout.Bolt11 {
		invoiceSats, err := lightning.DecodeInvoiceAmount(dest.Address)
		switch {
		case errors.Is(err, lightning.ErrInvoiceAmountOverflow):
			return e.reject(key, string(dest.Type), domainErrors.Newf(domainErrors.CodeInvoiceAmountMismatch,
				"invoice amount is out of range but %d sats were requested", amountSats), log)
		case err == nil && invoiceSats != amountSats:
			return e.reject(key, string(dest.Type), domainErrors.Newf(domainErrors.CodeInvoiceAmountMismatch,
				"invoice is for %d sats but %d sats were requested", invoiceSats, amountSats), log)
		}
	}

	log = log.With().Str("destination_type", string(dest.Type)).Int64("amount_sats", amountSats).Logger()
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("payout.destination_type", string(dest.Type)),
		attribute.Int64("payout.amount_sats", amountSats),
	)
	record := e.Metrics.PayoutStarted(string(dest.Type))

	var (
		reservation limits.Record
		ev          = payout.Event{IdempotencyKey: key, Destination: dest, AmountSats: amountSats}
		paymentID   string
	)

	s := saga.New("payout").
		AddStep(saga.Step{
			Name: "rate-limit",
			Execute: func(context.Context) error {
				return e.Limiter.Check()
			},
		}).
		AddStep(saga.Step{
			Name: "reserve-limit",
			Execute: func(context.Context) error {
				rec, err := e.Guard.CheckAndReserve(amountSats)
				reservation = rec
				return err
			},
			Compensate: func(context.Context, error) error {
				if !e.Guard.Release(reservation) {
					log.Warn().Msg("limit reservation already gone on release")
				}
				return nil
			},
		}).
		AddStep(saga.Step{
			Name: "authorize",
			Execute: func(ctx context.Context) error {
				id, err := e.authorize(ctx, key, dest, amountSats)
				if err != nil {
					return err
				}
				ev.AuthorizationID = id
				log.Debug().Str("authorization_id", id).Msg("payout authorized")
				return nil
			},
			Compensate: func(_ context.Context, cause error) error {
				e.report(ev.AuthorizationID, false, "", cause)
				return nil
			},
		}).
		AddStep(saga.Step{
			Name: "before-payout",
			Execute: func(ctx context.Context) error {
				if req.BeforePayout == nil {
					return nil
				}
				return e.runBefore(ctx, req.BeforePayout, ev)
			},
		}).
		AddStep(saga.Step{
			Name: "pay",
			Execute: func(ctx context.Context) error {
				id, err := e.pay(ctx, dest, amountSats)
				paymentID = id
				return err
			},
		})

	if err := s.Execute(ctx); err != nil {
		var stepErr *saga.StepError
		if errors.As(err, &stepErr) {
			if stepErr.Index <= 1 {
				e.Metrics.LimitRejected(limitName(domainErrors.CodeOf(stepErr.Err)))
			}
			err = stepErr.Err
		}
		pe := domainErrors.AsPayoutError(err, domainErrors.CodeInternalError)
		record("failed", string(pe.Code))
		return e.cacheFailure(key, pe, log)
	}

	e.report(ev.AuthorizationID, true, paymentID, nil)
	result := payout.Succeeded(paymentID, amountSats)
	e.Store.Cache(key, result)
	record("success", "")
	log.Info().Str("payment_id", paymentID).Msg("payout completed")

	if req.AfterPayout != nil {
		e.runAfter(ctx, req.AfterPayout, ev, result, log)
	}
	return result
}

// reject fails a payout that never reached the limit checks.
func (e *Executor) reject(key, destination string, err error, log zerolog.Logger) payout.Result {
	result := e.cacheFailure(key, err, log)
	e.Metrics.PayoutRejected(destination, string(result.Error.Code))
	return result
}

func (e *Executor) cacheFailure(key string, err error, log zerolog.Logger) payout.Result {
	result := payout.Failed(err)
	e.Store.Cache(key, result)
	log.Info().Str("code", string(result.Error.Code)).Msg(result.Error.Message)
	return result
}

func limitName(code domainErrors.Code) string {
	switch code {
	case domainErrors.CodeRateLimitExceeded:
		return "rate"
	case domainErrors.CodePerPaymentLimitExceeded:
		return "per_payment"
	case domainErrors.CodeHourlyLimitExceeded:
		return "hourly"
	case domainErrors.CodeDailyLimitExceeded:
		return "daily"
	}
	return "other"
}

func (e *Executor) authorize(ctx context.Context, key string, dest payout.Destination, amountSats int64) (string, error) {
	resp, err := e.Authorizer.Authorize(ctx, authz.AuthorizeRequest{
		AmountSats:      amountSats,
		IdempotencyKey:  key,
		Destination:     dest.Address,
		DestinationType: string(dest.Type),
	})
	if err != nil {
		return "", err
	}
	if resp.Authorized {
		return resp.AuthorizationID, nil
	}

	code, ok := domainErrors.ParseCode(resp.ErrorCode)
	if !ok {
		code = domainErrors.CodeInternalError
	}
	msg := resp.ErrorMessage
	if msg == "" {
		msg = "payout was not authorized"
	}
	return "", domainErrors.WithRetryAfter(code, msg, time.Duration(resp.RetryAfterMs)*time.Millisecond)
}

func (e *Executor) runBefore(ctx context.Context, fn payout.BeforeFunc, ev payout.Event) error {
	cbCtx, cancel := context.WithTimeout(ctx, e.cfg.BeforePayoutTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("beforePayout panicked: %v", r)
			}
		}()
		errCh <- fn(cbCtx, ev)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return domainErrors.Wrap(domainErrors.CodeAbortedByCallback, "payout aborted by beforePayout callback", err)
		}
		return nil
	case <-cbCtx.Done():
		return domainErrors.Newf(domainErrors.CodeCallbackTimeout,
			"beforePayout callback did not finish within %s", e.cfg.BeforePayoutTimeout)
	}
}

func (e *Executor) runAfter(ctx context.Context, fn payout.AfterFunc, ev payout.Event, result payout.Result, log zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("afterPayout callback panicked")
		}
	}()
	if err := fn(ctx, ev, result); err != nil {
		log.Warn().Err(err).Msg("afterPayout callback failed")
	}
}

func (e *Executor) pay(ctx context.Context, dest payout.Destination, amountSats int64) (string, error) {
	var (
		id  string
		err error
	)
	switch dest.Type {
	case payout.Bolt11:
		id, err = e.Node.PayBolt11(ctx, dest.Address)
	case payout.Bolt12:
		id, err = e.Node.PayBolt12Offer(ctx, dest.Address, amountSats*1000)
	case payout.LNURL, payout.LightningAddress:
		if err = e.Node.PayLnurl(ctx, dest.Address, amountSats*1000); err == nil {
			id = uuid.NewString()
		}
	default:
		err = domainErrors.ErrUnsupportedDestination
	}
	if err == nil {
		return id, nil
	}

	var pe *domainErrors.PayoutError
	switch {
	case errors.As(err, &pe):
		return "", pe
	case errors.Is(err, domainErrors.ErrInsufficientBalance):
		return "", domainErrors.Wrap(domainErrors.CodeInsufficientBalance, "node balance too low for payout", err)
	default:
		return "", domainErrors.Wrap(domainErrors.CodePaymentFailed, "payment failed", err)
	}
}

func (e *Executor) report(authorizationID string, success bool, paymentID string, cause error) {
	if authorizationID == "" || e.Reporter == nil {
		return
	}
	req := authz.CompleteRequest{AuthorizationID: authorizationID, Success: success, PaymentID: paymentID}
	if cause != nil {
		req.ErrorMessage = cause.Error()
	}
	e.Reporter.Report(req)
}
