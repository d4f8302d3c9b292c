package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// DefaultMaxAttempts bounds redelivery of a request that keeps failing.
const DefaultMaxAttempts = 5

// Worker drains a Queue and commits each request through Engine.LogSync.
// Several workers may drain the same queue; commits for one tenant are still
// serialized by the storage critical section.
type Worker struct {
	queue       Queue
	engine      *Engine
	logger      zerolog.Logger
	maxAttempts int
	backoff     time.Duration
}

func NewWorker(queue Queue, engine *Engine, logger zerolog.Logger) *Worker {
	return &Worker{
		queue:       queue,
		engine:      engine,
		logger:      logger,
		maxAttempts: DefaultMaxAttempts,
		backoff:     time.Second,
	}
}

// SetMaxAttempts changes how many deliveries a failing request gets before
// it is dead-lettered.
func (w *Worker) SetMaxAttempts(n int) {
	if n > 0 {
		w.maxAttempts = n
	}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Msg("audit worker started")
	defer w.logger.Info().Msg("audit worker stopped")

	for {
		d, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error().Err(err).Msg("dequeue failed")
			select {
			case <-time.After(w.backoff):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		if d == nil {
			continue
		}

		w.Handle(ctx, d)
	}
}

// Handle commits one delivery and settles it with the queue.
func (w *Worker) Handle(ctx context.Context, d *Delivery) {
	logger := w.logger.With().
		Str("delivery_id", d.ID).
		Int("attempt", d.Attempts).
		Logger()
	if d.Request != nil {
		logger = logger.With().
			Str("tenant_id", d.Request.TenantID).
			Str("record_id", d.Request.ID.String()).
			Logger()
	}

	id, err := w.engine.LogSync(ctx, d.Request)
	if err == nil {
		if ackErr := w.queue.Ack(ctx, d); ackErr != nil {
			// The record is committed; a redelivery resolves to the same id.
			logger.Warn().Err(ackErr).Msg("ack failed")
		}
		logger.Debug().Str("committed_id", id.String()).Msg("async audit record committed")
		return
	}

	if permanent(err) || d.Attempts >= w.maxAttempts {
		logger.Error().Err(err).Msg("audit request dead-lettered")
		if dlErr := w.queue.DeadLetter(ctx, d, err); dlErr != nil {
			logger.Error().Err(dlErr).Msg("dead-letter failed")
		}
		return
	}

	logger.Warn().Err(err).Msg("audit commit failed, will retry")
	if nackErr := w.queue.Nack(ctx, d); nackErr != nil {
		logger.Error().Err(nackErr).Msg("nack failed, dead-lettering")
		if dlErr := w.queue.DeadLetter(ctx, d, fmt.Errorf("%w (nack: %w)", err, nackErr)); dlErr != nil {
			logger.Error().Err(dlErr).Msg("dead-letter failed")
		}
	}
}

// permanent reports errors that no redelivery can fix.
func permanent(err error) bool {
	return errors.Is(err, ErrInvalidRequest) || errors.Is(err, ErrSignerNotConfigured)
}
