// Package retention purges audit records whose retention window has passed.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gosuda/auditchain/internal/domain"
)

const tracerName = "github.com/gosuda/auditchain/internal/retention"

// DefaultBatchSize bounds how many records one purge round deletes.
const DefaultBatchSize = 500

// ExpiredStore is the storage surface retention needs.
type ExpiredStore interface {
	FindExpired(ctx context.Context, before time.Time, limit int) ([]*domain.AuditRecord, error)
	DeleteExpired(ctx context.Context, ids []uuid.UUID, before time.Time) (int64, error)
	CountExpired(ctx context.Context, before time.Time) (int64, error)
}

// Manager deletes expired records in batches. Deletion is physical and
// never touches a tenant's chain head, so later records keep linking to
// the purged tail.
type Manager struct {
	store  ExpiredStore
	now    func() time.Time
	logger zerolog.Logger
	tracer trace.Tracer
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func NewManager(store ExpiredStore, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		now:    time.Now,
		logger: zerolog.Nop(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Purge deletes every record with ExpiresAt <= before, batchSize at a time.
// A zero before means now; a non-positive batchSize means DefaultBatchSize.
// On failure it returns the number of deletions already confirmed together
// with the error; running it again picks up where it stopped.
func (m *Manager) Purge(ctx context.Context, before time.Time, batchSize int) (int64, error) {
	before = m.cutoff(before)
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	ctx, span := m.tracer.Start(ctx, "retention.Purge", trace.WithAttributes(
		attribute.String("before", before.Format(time.RFC3339Nano)),
		attribute.Int("batch_size", batchSize),
	))
	defer span.End()

	var total int64
	fail := func(err error) (int64, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "purge failed")
		m.logger.Error().Err(err).Int64("deleted", total).Msg("retention purge interrupted")
		return total, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return fail(fmt.Errorf("retention.Purge: %w", err))
		}

		batch, err := m.store.FindExpired(ctx, before, batchSize)
		if err != nil {
			return fail(fmt.Errorf("retention.Purge: find expired: %w", err))
		}
		if len(batch) == 0 {
			break
		}

		ids := make([]uuid.UUID, len(batch))
		for i, rec := range batch {
			ids[i] = rec.ID
		}

		deleted, err := m.store.DeleteExpired(ctx, ids, before)
		total += deleted
		if err != nil {
			return fail(fmt.Errorf("retention.Purge: delete batch: %w", err))
		}

		m.logger.Debug().Int("batch", len(batch)).Int64("deleted", deleted).Msg("retention batch purged")

		if len(batch) < batchSize || deleted == 0 {
			break
		}
	}

	span.SetAttributes(attribute.Int64("deleted", total))
	if total > 0 {
		m.logger.Info().Int64("deleted", total).Time("before", before).Msg("expired audit records purged")
	}
	return total, nil
}

// Count returns how many records Purge would delete for the same cutoff.
func (m *Manager) Count(ctx context.Context, before time.Time) (int64, error) {
	n, err := m.store.CountExpired(ctx, m.cutoff(before))
	if err != nil {
		return 0, fmt.Errorf("retention.Count: %w", err)
	}
	return n, nil
}

// Preview lists up to limit records Purge would delete, earliest expiry
// first. It deletes nothing.
func (m *Manager) Preview(ctx context.Context, before time.Time, limit int) ([]*domain.AuditRecord, error) {
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	recs, err := m.store.FindExpired(ctx, m.cutoff(before), limit)
	if err != nil {
		return nil, fmt.Errorf("retention.Preview: %w", err)
	}
	return recs, nil
}

func (m *Manager) cutoff(before time.Time) time.Time {
	if before.IsZero() {
		return m.now().UTC()
	}
	return before.UTC()
}
