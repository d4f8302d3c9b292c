package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gosuda/auditchain/internal/domain"
)

// ChainStore is the storage surface the sequencer and engine write through.
// Every domain.AuditRepository satisfies it.
type ChainStore interface {
	Append(ctx context.Context, tenantID string, build domain.BuildFunc) (*domain.AuditRecord, error)
	NextSequence(ctx context.Context, tenantID string) (int64, error)
	CurrentSequence(ctx context.Context, tenantID string) (int64, error)
	GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*domain.AuditRecord, error)
}

// Sequencer issues per-tenant sequence numbers. All allocation happens in
// storage: the head row is advanced atomically, so concurrent writers in
// different processes never observe the same value.
type Sequencer struct {
	store  ChainStore
	logger zerolog.Logger
}

func NewSequencer(store ChainStore, logger zerolog.Logger) *Sequencer {
	return &Sequencer{store: store, logger: logger}
}

// Next reserves the next sequence number for tenantID without writing a
// record. A number reserved here and never used becomes a gap that
// DetectSequenceGaps reports; the engine allocates through Append instead.
func (s *Sequencer) Next(ctx context.Context, tenantID string) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("audit.Sequencer.Next: %w: tenant id is required", ErrInvalidRequest)
	}
	seq, err := s.store.NextSequence(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("audit.Sequencer.Next: %w", err)
	}
	return seq, nil
}

// Current returns the last sequence issued for tenantID. ok is false when
// the tenant has never been allocated a number.
func (s *Sequencer) Current(ctx context.Context, tenantID string) (seq int64, ok bool, err error) {
	seq, err = s.store.CurrentSequence(ctx, tenantID)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("audit.Sequencer.Current: %w", err)
	}
	return seq, true, nil
}

// Reset always fails. It exists so operator tooling gets an explicit, logged
// refusal instead of a missing method.
func (s *Sequencer) Reset(_ context.Context, tenantID string) error {
	s.logger.Error().Str("tenant_id", tenantID).Msg("sequence reset refused")
	return fmt.Errorf("audit.Sequencer.Reset(%q): %w", tenantID, ErrSequenceReset)
}

// Append runs build inside the tenant's critical section: the next sequence
// and the previous record hash are read and the built record is persisted
// in one atomic storage operation.
func (s *Sequencer) Append(ctx context.Context, tenantID string, build domain.BuildFunc) (*domain.AuditRecord, error) {
	rec, err := s.store.Append(ctx, tenantID, build)
	if err != nil {
		return nil, fmt.Errorf("audit.Sequencer.Append: %w", err)
	}
	return rec, nil
}
