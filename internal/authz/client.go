package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	domainErrors "github.com/satsrail/payouts/internal/domain/errors"
	"github.com/satsrail/payouts/pkg/retry"
)

// SecretHeader carries the payout secret on every call.
const SecretHeader = "X-Payout-Secret"

const maxErrorBody = 4 << 10

// serverError marks a 5xx or transport failure as retryable.
type serverError struct {
	status int
	err    error
}

func (e *serverError) Error() string {
	if e.status == 0 {
		return fmt.Sprintf("authorization service unreachable: %v", e.err)
	}
	return fmt.Sprintf("authorization service returned %d: %v", e.status, e.err)
}

func (e *serverError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var se *serverError
	return errors.As(err, &se)
}

// Client talks to the remote authorization service.
type Client struct {
	provider CredentialsProvider
	http     *http.Client
	retry    retry.Config
	breaker  *gobreaker.CircuitBreaker[[]byte]
	logger   zerolog.Logger
	onChange func(name string, from, to gobreaker.State)

	mu    sync.Mutex
	creds *Credentials
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the transport client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithRetry overrides the retry policy for transport errors and 5xx responses.
func WithRetry(cfg retry.Config) Option {
	return func(cl *Client) { cl.retry = cfg }
}

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithBreakerObserver is called on every circuit breaker state change.
func WithBreakerObserver(fn func(name string, from, to gobreaker.State)) Option {
	return func(cl *Client) { cl.onChange = fn }
}

// NewClient creates a Client. Credentials are resolved on first use.
func NewClient(provider CredentialsProvider, opts ...Option) *Client {
	c := &Client{
		provider: provider,
		http:     &http.Client{Timeout: 10 * time.Second},
		retry:    retry.DefaultConfig(),
		logger:   zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "authz",
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.6
		},
		// Only outages count against the breaker; 4xx answers are healthy responses.
		IsSuccessful: func(err error) bool { return err == nil || !isRetryable(err) },
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().Str("breaker", name).Stringer("from", from).Stringer("to", to).Msg("authorization breaker state changed")
			if c.onChange != nil {
				c.onChange(name, from, to)
			}
		},
	})
	c.retry.RetryIf = isRetryable
	c.retry.OnRetry = func(n uint, err error) {
		c.logger.Warn().Err(err).Uint("attempt", n+1).Msg("retrying authorization call")
	}
	return c
}

func (c *Client) credentials(ctx context.Context) (Credentials, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.creds != nil {
		return *c.creds, nil
	}
	creds, err := c.provider(ctx)
	if err != nil {
		return Credentials{}, err
	}
	if creds.BaseURL == "" {
		creds.BaseURL = DefaultBaseURL
	}
	c.creds = &creds
	return creds, nil
}

// Authorize asks the service to reserve spend for a payout. A denial is returned as a
// response with Authorized=false, not as an error.
func (c *Client) Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResponse, error) {
	var resp AuthorizeResponse
	if err := c.post(ctx, "/payout/authorize", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Complete reports the outcome of an authorized payout.
func (c *Client) Complete(ctx context.Context, req CompleteRequest) error {
	return c.post(ctx, "/payout/complete", req, nil)
}

// Limits fetches server-side ceilings and usage.
func (c *Client) Limits(ctx context.Context) (*LimitsResponse, error) {
	var resp LimitsResponse
	if err := c.post(ctx, "/payout/limits", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	creds, err := c.credentials(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return domainErrors.Wrap(domainErrors.CodeInternalError, "encode request", err)
	}

	body, err := retry.DoWithResult(ctx, c.retry, func() ([]byte, error) {
		return c.breaker.Execute(func() ([]byte, error) {
			return c.do(ctx, creds, creds.BaseURL+path, payload)
		})
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domainErrors.Wrap(domainErrors.CodeInternalError, "authorization service unavailable", err)
		}
		return domainErrors.AsPayoutError(err, domainErrors.CodeInternalError)
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return domainErrors.Wrap(domainErrors.CodeInternalError, "decode authorization response", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, creds Credentials, url string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, domainErrors.Wrap(domainErrors.CodeInternalError, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SecretHeader, creds.Secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &serverError{err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &serverError{status: resp.StatusCode, err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, domainErrors.New(domainErrors.CodeInvalidSecret, "authorization service rejected the payout secret")
	case resp.StatusCode >= 500:
		return nil, &serverError{status: resp.StatusCode, err: errors.New(truncate(body))}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, domainErrors.Newf(domainErrors.CodeInternalError,
			"authorization service returned %d: %s", resp.StatusCode, truncate(body))
	}
	return body, nil
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody]
	}
	return string(bytes.TrimSpace(b))
}
