package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	domainErrors "github.com/satsrail/payouts/internal/domain/errors"
)

const codeValidation = "VALIDATION_ERROR"

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

var statusByCode = map[domainErrors.Code]int{
	domainErrors.CodeBrowserNotAllowed:       http.StatusForbidden,
	domainErrors.CodeInvalidSecret:           http.StatusUnauthorized,
	domainErrors.CodeSecretExposed:           http.StatusInternalServerError,
	domainErrors.CodeInvalidDestination:      http.StatusBadRequest,
	domainErrors.CodeInvalidAmount:           http.StatusBadRequest,
	domainErrors.CodePerPaymentLimitExceeded: http.StatusUnprocessableEntity,
	domainErrors.CodeHourlyLimitExceeded:     http.StatusTooManyRequests,
	domainErrors.CodeDailyLimitExceeded:      http.StatusTooManyRequests,
	domainErrors.CodeRateLimitExceeded:       http.StatusTooManyRequests,
	domainErrors.CodeInsufficientBalance:     http.StatusUnprocessableEntity,
	domainErrors.CodeDestinationNotAllowed:   http.StatusForbidden,
	domainErrors.CodeInvoiceAmountMismatch:   http.StatusUnprocessableEntity,
	domainErrors.CodePaymentFailed:           http.StatusBadGateway,
	domainErrors.CodeAbortedByCallback:       http.StatusConflict,
	domainErrors.CodeCallbackTimeout:         http.StatusGatewayTimeout,
	domainErrors.CodeInternalError:           http.StatusInternalServerError,
}

// statusFor maps a payout error code to an HTTP status.
func statusFor(code domainErrors.Code) int {
	if s, ok := statusByCode[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func setRetryAfter(w http.ResponseWriter, d time.Duration) {
	if d <= 0 {
		return
	}
	secs := int((d + time.Second - 1) / time.Second)
	w.Header().Set("Retry-After", strconv.Itoa(secs))
}

func writeError(w http.ResponseWriter, err error) {
	var validationErr *domainErrors.ValidationError
	if errors.As(err, &validationErr) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Code:    codeValidation,
			Message: validationErr.Error(),
			Field:   validationErr.Field,
		})
		return
	}

	var pe *domainErrors.PayoutError
	if errors.As(err, &pe) {
		if pe.Code == domainErrors.CodeInternalError {
			log.Error().Err(err).Msg("internal error in handler")
		}
		setRetryAfter(w, pe.RetryAfter)
		writeJSON(w, statusFor(pe.Code), errorResponse(pe))
		return
	}

	log.Error().Err(err).Msg("unhandled error in handler")
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Code:    string(domainErrors.CodeInternalError),
		Message: "internal server error",
	})
}

func decodeAndValidate(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domainErrors.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			return domainErrors.NewValidationError(ve[0].Field(), ve[0].Tag()+" validation failed")
		}
		return domainErrors.NewValidationError("body", err.Error())
	}
	return nil
}
