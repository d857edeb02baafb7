package authz

// AuthorizeRequest reserves spend for one payout on the server.
type AuthorizeRequest struct {
	AmountSats      int64  `json:"amountSats"`
	IdempotencyKey  string `json:"idempotencyKey"`
	Destination     string `json:"destination"`
	DestinationType string `json:"destinationType"`
}

// AuthorizeResponse is the server's verdict.
type AuthorizeResponse struct {
	Authorized      bool            `json:"authorized"`
	AuthorizationID string          `json:"authorizationId,omitempty"`
	ErrorCode       string          `json:"errorCode,omitempty"`
	ErrorMessage    string          `json:"errorMessage,omitempty"`
	RetryAfterMs    int64           `json:"retryAfterMs,omitempty"`
	Limits          *LimitsResponse `json:"limits,omitempty"`
}

// CompleteRequest reports the outcome of an authorized payout.
type CompleteRequest struct {
	AuthorizationID string `json:"authorizationId"`
	Success         bool   `json:"success"`
	PaymentID       string `json:"paymentId,omitempty"`
	ErrorMessage    string `json:"errorMessage,omitempty"`
}

// LimitsResponse carries the server-side ceilings and current usage.
type LimitsResponse struct {
	MaxSinglePayment int64 `json:"maxSinglePayment"`
	MaxHourly        int64 `json:"maxHourly"`
	MaxDaily         int64 `json:"maxDaily"`
	HourlySpent      int64 `json:"hourlySpent"`
	DailySpent       int64 `json:"dailySpent"`
}
