package l402

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	domainErrors "github.com/satsrail/payouts/internal/domain/errors"
	"github.com/satsrail/payouts/internal/infrastructure/observability"
	"github.com/satsrail/payouts/internal/lightning"
)

// InvoiceCreator is the slice of the node capability a paid endpoint needs.
type InvoiceCreator interface {
	CreateInvoice(ctx context.Context, amountSats *int64) (lightning.Invoice, error)
}

// PaymentContext describes the verified payment behind a request.
type PaymentContext struct {
	PaymentHash string
	Preimage    string
	AmountSats  int64
}

// Handler serves a paid request. Its result is written as JSON with status 200; an
// error becomes a 500 JSON response.
type Handler func(ctx context.Context, r *http.Request, payment PaymentContext) (any, error)

// Server issues L402 challenges and verifies proofs of payment.
type Server struct {
	node    InvoiceCreator
	store   InvoiceStore
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// ServerOption configures a Server.
type ServerOption func(*Server)

func WithInvoiceStore(store InvoiceStore) ServerOption {
	return func(s *Server) { s.store = store }
}

func WithServerLogger(l zerolog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

func WithServerMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a Server. Without WithInvoiceStore, issued invoices are kept in memory.
func NewServer(node InvoiceCreator, opts ...ServerOption) *Server {
	s := &Server{node: node, logger: zerolog.Nop()}
	for _, o := range opts {
		o(s)
	}
	if s.store == nil {
		s.store = NewMemoryInvoiceStore()
	}
	return s
}

// PaidEndpoint returns a handler that charges priceSats per access.
func (s *Server) PaidEndpoint(priceSats int64, handler Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		preimage, hash := proofFromRequest(r)
		if preimage == "" || hash == "" {
			s.challenge(w, r, priceSats)
			return
		}

		payment, err := s.verify(r.Context(), preimage, hash, priceSats)
		if err != nil {
			s.metrics.L402Payment("rejected")
			s.logger.Info().Err(err).Str("payment_hash", hash).Msg("rejected L402 proof")
			s.challenge(w, r, priceSats)
			return
		}
		s.metrics.L402Payment("verified")

		result, err := handler(r.Context(), r, payment)
		if err != nil {
			s.logger.Error().Err(err).Str("payment_hash", hash).Msg("paid handler failed")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, result)
	})
}

func (s *Server) challenge(w http.ResponseWriter, r *http.Request, priceSats int64) {
	amount := priceSats
	inv, err := s.node.CreateInvoice(r.Context(), &amount)
	if err != nil {
		s.logger.Error().Err(err).Msg("create L402 invoice")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not create invoice"})
		return
	}

	issued := IssuedInvoice{
		PaymentHash: strings.ToLower(inv.PaymentHash),
		Invoice:     inv.Invoice,
		AmountSats:  priceSats,
		ExpiresAt:   inv.ExpiresAt,
	}
	if err := s.store.Put(r.Context(), issued); err != nil {
		s.logger.Error().Err(err).Msg("store L402 invoice")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not create invoice"})
		return
	}
	s.metrics.L402Challenge()

	w.Header().Set(HeaderInvoice, issued.Invoice)
	w.Header().Set(HeaderPaymentHash, issued.PaymentHash)
	w.Header().Set(HeaderChallenge, Challenge{Invoice: issued.Invoice, PaymentHash: issued.PaymentHash}.Header())
	writeJSON(w, http.StatusPaymentRequired, map[string]any{
		"error":       "payment required",
		"invoice":     issued.Invoice,
		"paymentHash": issued.PaymentHash,
		"amountSats":  priceSats,
		"expiresAt":   issued.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

var errBadProof = errors.New("preimage does not match payment hash")

// verify checks sha256(preimage) == hash and that the hash belongs to an unexpired
// invoice this server issued for at least priceSats.
func (s *Server) verify(ctx context.Context, preimageHex, hashHex string, priceSats int64) (PaymentContext, error) {
	preimage, err := hex.DecodeString(preimageHex)
	if err != nil || len(preimage) != sha256.Size {
		return PaymentContext{}, errBadProof
	}
	hash, err := hex.DecodeString(hashHex)
	if err != nil || len(hash) != sha256.Size {
		return PaymentContext{}, errBadProof
	}
	sum := sha256.Sum256(preimage)
	if subtle.ConstantTimeCompare(sum[:], hash) != 1 {
		return PaymentContext{}, errBadProof
	}

	inv, err := s.store.Get(ctx, strings.ToLower(hashHex))
	if err != nil {
		return PaymentContext{}, err
	}
	if inv.AmountSats < priceSats {
		return PaymentContext{}, domainErrors.Newf(domainErrors.CodeInvoiceAmountMismatch,
			"invoice paid %d sats, endpoint costs %d", inv.AmountSats, priceSats)
	}
	return PaymentContext{PaymentHash: inv.PaymentHash, Preimage: strings.ToLower(preimageHex), AmountSats: inv.AmountSats}, nil
}

// proofFromRequest reads the proof headers, or an `Authorization: L402 token:preimage`
// header paired with X-Payment-Hash.
func proofFromRequest(r *http.Request) (preimage, hash string) {
	preimage = strings.TrimSpace(r.Header.Get(HeaderPreimage))
	hash = strings.TrimSpace(r.Header.Get(HeaderPaymentHash))
	if preimage == "" {
		if name, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(name, scheme) {
			if i := strings.LastIndexByte(token, ':'); i >= 0 {
				preimage = strings.TrimSpace(token[i+1:])
			}
		}
	}
	return preimage, hash
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
