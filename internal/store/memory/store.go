// Package memory is an in-process domain.AuditRepository for tests, the CLI
// and single-binary development setups.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/auditchain/internal/domain"
)

type tenantChain struct {
	mu       sync.Mutex
	counter  int64
	counted  bool
	lastHash string
	records  []*domain.AuditRecord // ascending by sequence
}

// Store keeps every tenant's chain in memory. Appends for one tenant are
// serialized by that tenant's mutex; different tenants never contend.
type Store struct {
	mu      sync.RWMutex
	tenants map[string]*tenantChain
	byID    map[uuid.UUID]*domain.AuditRecord
}

func New() *Store {
	return &Store{
		tenants: make(map[string]*tenantChain),
		byID:    make(map[uuid.UUID]*domain.AuditRecord),
	}
}

var _ domain.AuditRepository = (*Store)(nil)

func (s *Store) chain(tenantID string) *tenantChain {
	s.mu.RLock()
	c, ok := s.tenants[tenantID]
	s.mu.RUnlock()
	if ok {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok = s.tenants[tenantID]; !ok {
		c = &tenantChain{}
		s.tenants[tenantID] = c
	}
	return c
}

func (s *Store) Append(ctx context.Context, tenantID string, build domain.BuildFunc) (*domain.AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("memory.Append: %w", err)
	}

	c := s.chain(tenantID)
	c.mu.Lock()
	defer c.mu.Unlock()

	head := domain.ChainHead{
		TenantID:     tenantID,
		Sequence:     c.counter + 1,
		PreviousHash: c.lastHash,
	}
	rec, err := build(head)
	if err != nil {
		return nil, fmt.Errorf("memory.Append: build: %w", err)
	}

	s.mu.Lock()
	if _, dup := s.byID[rec.ID]; dup {
		s.mu.Unlock()
		return nil, fmt.Errorf("memory.Append: record %s: %w", rec.ID, domain.ErrConflict)
	}
	stored := rec.Clone()
	s.byID[rec.ID] = stored
	s.mu.Unlock()

	c.counter = head.Sequence
	c.counted = true
	c.lastHash = rec.RecordHash
	c.records = append(c.records, stored)

	return rec, nil
}

func (s *Store) NextSequence(ctx context.Context, tenantID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("memory.NextSequence: %w", err)
	}
	c := s.chain(tenantID)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counter++
	c.counted = true
	return c.counter, nil
}

func (s *Store) CurrentSequence(_ context.Context, tenantID string) (int64, error) {
	s.mu.RLock()
	c, ok := s.tenants[tenantID]
	s.mu.RUnlock()
	if !ok {
		return 0, domain.ErrNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.counted {
		return 0, domain.ErrNotFound
	}
	return c.counter, nil
}

func (s *Store) GetByID(_ context.Context, tenantID string, id uuid.UUID) (*domain.AuditRecord, error) {
	s.mu.RLock()
	rec, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok || rec.TenantID != tenantID {
		return nil, fmt.Errorf("memory.GetByID: %w", domain.ErrNotFound)
	}
	return rec.Clone(), nil
}

func (s *Store) LastRecord(_ context.Context, tenantID string) (*domain.AuditRecord, error) {
	s.mu.RLock()
	c, ok := s.tenants[tenantID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("memory.LastRecord: %w", domain.ErrNotFound)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.records) == 0 {
		return nil, fmt.Errorf("memory.LastRecord: %w", domain.ErrNotFound)
	}
	return c.records[len(c.records)-1].Clone(), nil
}

func (s *Store) ListBySequence(_ context.Context, tenantID string, fromSequence int64, limit int) ([]*domain.AuditRecord, error) {
	s.mu.RLock()
	c, ok := s.tenants[tenantID]
	s.mu.RUnlock()
	if !ok {
		return []*domain.AuditRecord{}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	start := sort.Search(len(c.records), func(i int) bool {
		return c.records[i].SequenceNumber >= fromSequence
	})
	// A non-positive limit means all remaining records.
	n := len(c.records) - start
	if limit > 0 {
		n = min(n, limit)
	}
	out := make([]*domain.AuditRecord, 0, n)
	for _, rec := range c.records[start : start+n] {
		out = append(out, rec.Clone())
	}
	return out, nil
}

// FindExpired returns the oldest-expiring records first across all tenants.
func (s *Store) FindExpired(_ context.Context, before time.Time, limit int) ([]*domain.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.AuditRecord
	for _, rec := range s.byID {
		if !rec.ExpiresAt.After(before) {
			out = append(out, rec.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *domain.AuditRecord) int {
		if c := a.ExpiresAt.Compare(b.ExpiresAt); c != 0 {
			return c
		}
		if c := cmp.Compare(a.TenantID, b.TenantID); c != 0 {
			return c
		}
		return cmp.Compare(a.SequenceNumber, b.SequenceNumber)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []*domain.AuditRecord{}
	}
	return out, nil
}

func (s *Store) DeleteExpired(_ context.Context, ids []uuid.UUID, before time.Time) (int64, error) {
	s.mu.Lock()
	doomed := make(map[string]map[uuid.UUID]struct{})
	var deleted int64
	for _, id := range ids {
		rec, ok := s.byID[id]
		if !ok || rec.ExpiresAt.After(before) {
			continue
		}
		delete(s.byID, id)
		if doomed[rec.TenantID] == nil {
			doomed[rec.TenantID] = make(map[uuid.UUID]struct{})
		}
		doomed[rec.TenantID][id] = struct{}{}
		deleted++
	}
	chains := make(map[string]*tenantChain, len(doomed))
	for tenantID := range doomed {
		chains[tenantID] = s.tenants[tenantID]
	}
	s.mu.Unlock()

	// The head (counter and last hash) is left untouched so new records keep
	// linking to the purged tail.
	for tenantID, c := range chains {
		set := doomed[tenantID]
		c.mu.Lock()
		c.records = slices.DeleteFunc(c.records, func(r *domain.AuditRecord) bool {
			_, hit := set[r.ID]
			return hit
		})
		c.mu.Unlock()
	}
	return deleted, nil
}

func (s *Store) CountExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, rec := range s.byID {
		if !rec.ExpiresAt.After(before) {
			n++
		}
	}
	return n, nil
}

// Tamper replaces a stored record in place, bypassing the chain. It exists
// for integrity tests and has no counterpart in the SQL stores.
func (s *Store) Tamper(tenantID string, sequence int64, mutate func(*domain.AuditRecord)) bool {
	s.mu.Lock()
	c, ok := s.tenants[tenantID]
	s.mu.Unlock()
	if !ok {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range c.records {
		if rec.SequenceNumber == sequence {
			mutate(rec)
			return true
		}
	}
	return false
}

// Remove deletes a record regardless of its expiry, leaving a hole in the
// chain.
func (s *Store) Remove(tenantID string, sequence int64) bool {
	s.mu.Lock()
	c, ok := s.tenants[tenantID]
	s.mu.Unlock()
	if !ok {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, rec := range c.records {
		if rec.SequenceNumber == sequence {
			s.mu.Lock()
			delete(s.byID, rec.ID)
			s.mu.Unlock()
			c.records = slices.Delete(c.records, i, i+1)
			return true
		}
	}
	return false
}
