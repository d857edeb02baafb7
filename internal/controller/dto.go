package controller

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/satsrail/payouts/internal/authz"
	domainErrors "github.com/satsrail/payouts/internal/domain/errors"
	"github.com/satsrail/payouts/internal/domain/payout"
	"github.com/satsrail/payouts/internal/limits"
)

// --- Request DTOs ---

// DestinationField accepts either a bare destination string or a tagged object:
//
//	"destination": "lnbc10u1p..."
//	"destination": {"type": "bolt12", "offer": "lno1..."}
type DestinationField struct {
	payout.DestinationInput
}

func (d *DestinationField) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		d.DestinationInput = payout.FromString(s)
		return nil
	}
	if len(b) > 0 && b[0] == '{' {
		return json.Unmarshal(b, &d.DestinationInput)
	}
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	return errors.New("destination must be a string or an object")
}

// Empty reports whether no destination was supplied.
func (d DestinationField) Empty() bool {
	in := d.DestinationInput
	return in.Value == "" && in.Type == "" && in.Invoice == "" && in.Offer == "" && in.URL == "" && in.Address == ""
}

// CreatePayoutRequest holds the input for POST /api/v1/payouts.
type CreatePayoutRequest struct {
	Destination    DestinationField `json:"destination"`
	Amount         float64          `json:"amount" validate:"required"`
	Currency       string           `json:"currency" validate:"omitempty,max=8"`
	IdempotencyKey string           `json:"idempotencyKey" validate:"omitempty,max=255"`
}

// --- Response DTOs ---

// PayoutResponse is the wire form of a payout Result.
type PayoutResponse struct {
	Success      bool   `json:"success"`
	PaymentID    string `json:"paymentId,omitempty"`
	AmountSats   int64  `json:"amountSats,omitempty"`
	Code         string `json:"code,omitempty"`
	Message      string `json:"message,omitempty"`
	RetryAfterMs int64  `json:"retryAfterMs,omitempty"`
}

func toPayoutResponse(res payout.Result) PayoutResponse {
	resp := PayoutResponse{
		Success:    res.Success,
		PaymentID:  res.PaymentID,
		AmountSats: res.AmountSats,
	}
	if res.Error != nil {
		resp.Code = string(res.Error.Code)
		resp.Message = res.Error.Message
		resp.RetryAfterMs = res.Error.RetryAfterMs()
	}
	return resp
}

// LocalLimits reports the in-process guard's ceilings and reserved spend.
type LocalLimits struct {
	MaxSinglePayment int64 `json:"maxSinglePayment"`
	MaxHourly        int64 `json:"maxHourly"`
	MaxDaily         int64 `json:"maxDaily"`
	HourlySpent      int64 `json:"hourlySpent"`
	DailySpent       int64 `json:"dailySpent"`
	Attempts         int   `json:"attempts"`
}

func toLocalLimits(u limits.Usage, attempts int) LocalLimits {
	return LocalLimits{
		MaxSinglePayment: u.Limits.MaxSinglePayment,
		MaxHourly:        u.Limits.MaxHourly,
		MaxDaily:         u.Limits.MaxDaily,
		HourlySpent:      u.HourlySats,
		DailySpent:       u.DailySats,
		Attempts:         attempts,
	}
}

// LimitsResponse combines local and server-side limits. Remote is nil when the
// authorization service could not be reached.
type LimitsResponse struct {
	Local       LocalLimits           `json:"local"`
	Remote      *authz.LimitsResponse `json:"remote"`
	RemoteError string                `json:"remoteError,omitempty"`
}

// ErrorResponse is the generic error envelope.
type ErrorResponse struct {
	Success      bool   `json:"success"`
	Code         string `json:"code"`
	Message      string `json:"message"`
	Field        string `json:"field,omitempty"`
	RetryAfterMs int64  `json:"retryAfterMs,omitempty"`
}

func errorResponse(pe *domainErrors.PayoutError) ErrorResponse {
	return ErrorResponse{Code: string(pe.Code), Message: pe.Message, RetryAfterMs: pe.RetryAfterMs()}
}
