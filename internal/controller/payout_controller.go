package controller

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	domainErrors "github.com/satsrail/payouts/internal/domain/errors"
	"github.com/satsrail/payouts/internal/domain/payout"
	customMW "github.com/satsrail/payouts/internal/middleware"
)

// IdempotencyHeader may carry the idempotency key instead of the request body.
const IdempotencyHeader = "Idempotency-Key"

// PayoutExecutor runs payouts.
type PayoutExecutor interface {
	Payout(ctx context.Context, req payout.Request) payout.Result
}

// ResultLookup returns a previously cached payout result.
type ResultLookup interface {
	Get(key string) (payout.Result, bool)
}

// PayoutController handles payout HTTP requests.
type PayoutController struct {
	executor PayoutExecutor
	results  ResultLookup
	logger   zerolog.Logger
}

func NewPayoutController(executor PayoutExecutor, results ResultLookup, logger zerolog.Logger) *PayoutController {
	return &PayoutController{executor: executor, results: results, logger: logger}
}

// CreatePayout handles POST /api/v1/payouts. The body of a failed payout carries the
// structured error; the HTTP status follows the error code.
func (h *PayoutController) CreatePayout(w http.ResponseWriter, r *http.Request) {
	var req CreatePayoutRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Destination.Empty() {
		writeError(w, domainErrors.NewValidationError("destination", "required validation failed"))
		return
	}

	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get(IdempotencyHeader)
	}
	if key == "" {
		writeError(w, domainErrors.NewValidationError("idempotencyKey", "required validation failed"))
		return
	}

	operator, _ := customMW.GetOperator(r.Context())
	result := h.executor.Payout(r.Context(), payout.Request{
		Destination:    req.Destination.DestinationInput,
		Amount:         req.Amount,
		Currency:       payout.Currency(req.Currency),
		IdempotencyKey: key,
		AfterPayout:    h.audit(operator),
	})

	writePayoutResult(w, result)
}

// GetPayout handles GET /api/v1/payouts/{key}, returning the cached outcome.
func (h *PayoutController) GetPayout(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	result, ok := h.results.Get(key)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Code:    "NOT_FOUND",
			Message: "no payout recorded for this idempotency key",
		})
		return
	}
	writePayoutResult(w, result)
}

func (h *PayoutController) audit(operator string) payout.AfterFunc {
	return func(_ context.Context, ev payout.Event, result payout.Result) error {
		h.logger.Info().
			Str("operator", operator).
			Str("idempotency_key", ev.IdempotencyKey).
			Str("destination_type", string(ev.Destination.Type)).
			Int64("amount_sats", ev.AmountSats).
			Str("payment_id", result.PaymentID).
			Msg("payout sent")
		return nil
	}
}

func writePayoutResult(w http.ResponseWriter, result payout.Result) {
	if result.Success {
		writeJSON(w, http.StatusOK, toPayoutResponse(result))
		return
	}
	status := http.StatusInternalServerError
	if result.Error != nil {
		status = statusFor(result.Error.Code)
		setRetryAfter(w, result.Error.RetryAfter)
	}
	writeJSON(w, status, toPayoutResponse(result))
}
