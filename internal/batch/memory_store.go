package batch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/settlekit/settlement-engine/internal/money"
)

// MemoryStore is an in-memory batch store for development and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]*SettlementBatch
}

// NewMemoryStore creates an empty in-memory batch store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*SettlementBatch)}
}

func (s *MemoryStore) Create(_ context.Context, b *SettlementBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *b
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.byID[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*SettlementBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryStore) FindOpenBatch(_ context.Context, settlementDate time.Time, currency string) (*SettlementBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, b := range s.byID {
		if b.Status == StatusPending && b.Currency == currency && sameDate(b.SettlementDate, settlementDate) {
			cp := *b
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) FindReadyForProcessing(_ context.Context, now time.Time) ([]*SettlementBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*SettlementBatch
	for _, b := range s.byID {
		if b.Status == StatusPending && !now.Before(b.CutOffTime) {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, newStatus Status, completedAt *time.Time) (*SettlementBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !CanTransition(b.Status, newStatus) {
		return nil, ErrInvalidTransition
	}
	b.Status = newStatus
	if completedAt != nil {
		b.CompletedAt = completedAt
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryStore) UpdateTotals(_ context.Context, id string, count int, gross, net, fee money.Amount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	b.TransactionCount = count
	b.GrossAmount = gross
	b.NetAmount = net
	b.FeeAmount = fee
	return nil
}

func (s *MemoryStore) List(_ context.Context, status Status, limit, offset int) ([]*SettlementBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*SettlementBatch
	for _, b := range s.byID {
		if status == "" || b.Status == status {
			cp := *b
			matched = append(matched, &cp)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
