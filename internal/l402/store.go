package l402

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	domainErrors "github.com/satsrail/payouts/internal/domain/errors"
)

// IssuedInvoice is an invoice this server handed out in a challenge.
type IssuedInvoice struct {
	PaymentHash string    `json:"paymentHash"`
	Invoice     string    `json:"invoice"`
	AmountSats  int64     `json:"amountSats"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// InvoiceStore remembers issued invoices until they expire.
type InvoiceStore interface {
	Put(ctx context.Context, inv IssuedInvoice) error
	// Get returns domainErrors.ErrInvoiceNotFound for unknown or expired hashes.
	Get(ctx context.Context, paymentHash string) (IssuedInvoice, error)
}

// MemoryInvoiceStore keeps invoices in process memory.
type MemoryInvoiceStore struct {
	mu       sync.Mutex
	invoices map[string]IssuedInvoice
	now      func() time.Time
}

func NewMemoryInvoiceStore() *MemoryInvoiceStore {
	return &MemoryInvoiceStore{invoices: make(map[string]IssuedInvoice), now: time.Now}
}

func (s *MemoryInvoiceStore) Put(_ context.Context, inv IssuedInvoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for hash, existing := range s.invoices {
		if !now.Before(existing.ExpiresAt) {
			delete(s.invoices, hash)
		}
	}
	s.invoices[inv.PaymentHash] = inv
	return nil
}

func (s *MemoryInvoiceStore) Get(_ context.Context, paymentHash string) (IssuedInvoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[paymentHash]
	if !ok {
		return IssuedInvoice{}, domainErrors.ErrInvoiceNotFound
	}
	if !s.now().Before(inv.ExpiresAt) {
		delete(s.invoices, paymentHash)
		return IssuedInvoice{}, domainErrors.ErrInvoiceNotFound
	}
	return inv, nil
}

// RedisInvoiceStore shares issued invoices between replicas. Entries expire with the
// invoice.
type RedisInvoiceStore struct {
	client redis.Cmdable
	prefix string
}

func NewRedisInvoiceStore(client redis.Cmdable) *RedisInvoiceStore {
	return &RedisInvoiceStore{client: client, prefix: "l402:invoice:"}
}

func (s *RedisInvoiceStore) Put(ctx context.Context, inv IssuedInvoice) error {
	ttl := time.Until(inv.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("marshal invoice: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+inv.PaymentHash, payload, ttl).Err(); err != nil {
		return fmt.Errorf("store invoice: %w", err)
	}
	return nil
}

func (s *RedisInvoiceStore) Get(ctx context.Context, paymentHash string) (IssuedInvoice, error) {
	payload, err := s.client.Get(ctx, s.prefix+paymentHash).Bytes()
	if errors.Is(err, redis.Nil) {
		return IssuedInvoice{}, domainErrors.ErrInvoiceNotFound
	}
	if err != nil {
		return IssuedInvoice{}, fmt.Errorf("load invoice: %w", err)
	}
	var inv IssuedInvoice
	if err := json.Unmarshal(payload, &inv); err != nil {
		return IssuedInvoice{}, fmt.Errorf("unmarshal invoice: %w", err)
	}
	return inv, nil
}
