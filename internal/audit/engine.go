package audit

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
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

const tracerName = "github.com/gosuda/auditchain/internal/audit"

// DefaultRetentionDays applies when neither the request nor a retention
// policy names a retention window.
const DefaultRetentionDays = 365

// RetentionResolver maps a record type to its retention window in days.
// A non-positive result falls back to DefaultRetentionDays.
type RetentionResolver interface {
	RetentionDays(recordType string) int
}

// LogRequest describes one business event to be chained. ID is normally
// empty; LogAsync fills it before enqueueing so redelivery is idempotent.
// A zero Level is recorded as LevelLow.
type LogRequest struct {
	ID            uuid.UUID      `json:"id,omitempty"`
	TenantID      string         `json:"tenant_id"`
	RecordType    string         `json:"record_type"`
	Description   string         `json:"description"`
	SubjectType   string         `json:"subject_type,omitempty"`
	SubjectID     string         `json:"subject_id,omitempty"`
	CauserType    string         `json:"causer_type,omitempty"`
	CauserID      string         `json:"causer_id,omitempty"`
	Properties    map[string]any `json:"properties,omitempty"`
	Level         domain.Level   `json:"level,omitempty"`
	RetentionDays int            `json:"retention_days,omitempty"`
	SignedBy      string         `json:"signed_by,omitempty"`
}

// UnmarshalJSON decodes properties with DecodeProperties, so a request that
// crossed a queue hashes exactly like one logged in process.
func (r *LogRequest) UnmarshalJSON(data []byte) error {
	type plain LogRequest
	aux := struct {
		*plain
		Properties json.RawMessage `json:"properties,omitempty"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	props, err := DecodeProperties(aux.Properties)
	if err != nil {
		return err
	}
	r.Properties = props
	return nil
}

// Engine builds, hashes, optionally signs and commits audit records.
type Engine struct {
	sequencer *Sequencer
	store     ChainStore
	hasher    Hasher
	signer    Signer
	retention RetentionResolver
	defDays   int
	queue     Queue
	now       func() time.Time
	newID     func() (uuid.UUID, error)
	logger    zerolog.Logger
	tracer    trace.Tracer
}

type Option func(*Engine)

// WithSigner enables LogRequest.SignedBy.
func WithSigner(s Signer) Option {
	return func(e *Engine) { e.signer = s }
}

func WithHasher(h Hasher) Option {
	return func(e *Engine) { e.hasher = h }
}

func WithRetention(r RetentionResolver) Option {
	return func(e *Engine) { e.retention = r }
}

// WithDefaultRetention replaces DefaultRetentionDays for this engine.
func WithDefaultRetention(days int) Option {
	return func(e *Engine) {
		if days > 0 {
			e.defDays = days
		}
	}
}

// WithQueue makes LogAsync hand requests to q instead of committing inline.
func WithQueue(q Queue) Option {
	return func(e *Engine) { e.queue = q }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDGenerator(fn func() (uuid.UUID, error)) Option {
	return func(e *Engine) { e.newID = fn }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func NewEngine(store ChainStore, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		hasher:  NewHasherRegistry(),
		defDays: DefaultRetentionDays,
		now:     time.Now,
		newID:   uuid.NewV7,
		logger:  zerolog.Nop(),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.sequencer = NewSequencer(store, e.logger)
	return e
}

// Sequencer exposes the engine's allocator for operator tooling.
func (e *Engine) Sequencer() *Sequencer {
	return e.sequencer
}

// LogSync commits one record and returns its id once it is durable.
func (e *Engine) LogSync(ctx context.Context, req *LogRequest) (uuid.UUID, error) {
	if req == nil {
		return uuid.Nil, fmt.Errorf("audit.Engine.LogSync: %w: request is nil", ErrInvalidRequest)
	}

	ctx, span := e.tracer.Start(ctx, "audit.LogSync", trace.WithAttributes(
		attribute.String("tenant_id", req.TenantID),
		attribute.String("record_type", req.RecordType),
	))
	defer span.End()

	rec, err := e.commit(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		return uuid.Nil, err
	}

	span.SetAttributes(attribute.Int64("sequence", rec.SequenceNumber))
	return rec.ID, nil
}

// LogAsync assigns the record id and hands the request to the queue. The
// record is not durable when it returns; the worker commits it through
// LogSync. Without a queue it commits inline.
func (e *Engine) LogAsync(ctx context.Context, req *LogRequest) (uuid.UUID, error) {
	if e.queue == nil {
		return e.LogSync(ctx, req)
	}

	if err := e.validate(req); err != nil {
		return uuid.Nil, fmt.Errorf("audit.Engine.LogAsync: %w", err)
	}

	queued := *req
	if queued.ID == uuid.Nil {
		id, err := e.newID()
		if err != nil {
			return uuid.Nil, fmt.Errorf("audit.Engine.LogAsync: generate id: %w", err)
		}
		queued.ID = id
	}

	if err := e.queue.Enqueue(ctx, &queued); err != nil {
		return uuid.Nil, fmt.Errorf("audit.Engine.LogAsync: %w", err)
	}

	e.logger.Debug().
		Str("tenant_id", queued.TenantID).
		Str("record_id", queued.ID.String()).
		Msg("audit record enqueued")

	return queued.ID, nil
}

// Record returns a committed record.
func (e *Engine) Record(ctx context.Context, tenantID string, id uuid.UUID) (*domain.AuditRecord, error) {
	rec, err := e.store.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("audit.Engine.Record: %w", err)
	}
	return rec, nil
}

func (e *Engine) commit(ctx context.Context, req *LogRequest) (*domain.AuditRecord, error) {
	if err := e.validate(req); err != nil {
		return nil, fmt.Errorf("audit.Engine.LogSync: %w", err)
	}

	props, err := CanonicalJSON(req.Properties)
	if err != nil {
		return nil, fmt.Errorf("audit.Engine.LogSync: %w: %w", ErrInvalidRequest, err)
	}

	id := req.ID
	if id == uuid.Nil {
		id, err = e.newID()
		if err != nil {
			return nil, fmt.Errorf("audit.Engine.LogSync: generate id: %w", err)
		}
	} else {
		existing, getErr := e.store.GetByID(ctx, req.TenantID, id)
		if getErr == nil {
			return existing, nil
		}
		if !errors.Is(getErr, domain.ErrNotFound) {
			return nil, fmt.Errorf("audit.Engine.LogSync: lookup %s: %w", id, getErr)
		}
	}

	level := req.Level
	if level == 0 {
		level = domain.LevelLow
	}
	ttl := time.Duration(e.retentionDays(req)) * 24 * time.Hour

	rec, err := e.sequencer.Append(ctx, req.TenantID, func(head domain.ChainHead) (*domain.AuditRecord, error) {
		createdAt := Stamp(e.now())
		rec := &domain.AuditRecord{
			ID:             id,
			TenantID:       req.TenantID,
			SequenceNumber: head.Sequence,
			RecordType:     req.RecordType,
			Description:    req.Description,
			SubjectType:    req.SubjectType,
			SubjectID:      req.SubjectID,
			CauserType:     req.CauserType,
			CauserID:       req.CauserID,
			Properties:     props,
			Level:          level,
			PreviousHash:   head.PreviousHash,
			CreatedAt:      createdAt,
			ExpiresAt:      createdAt.Add(ttl),
		}

		payload, err := Serialize(rec)
		if err != nil {
			return nil, err
		}
		rec.RecordHash, err = hashPayload(e.hasher, payload)
		if err != nil {
			return nil, err
		}

		if req.SignedBy != "" {
			sig, err := e.signer.Sign(ctx, payload, req.SignedBy)
			if err != nil {
				return nil, fmt.Errorf("sign with %q: %w", req.SignedBy, err)
			}
			rec.Signature = base64.StdEncoding.EncodeToString(sig)
			rec.SignedBy = req.SignedBy
		}
		return rec, nil
	})
	if err != nil {
		if req.ID != uuid.Nil && errors.Is(err, domain.ErrConflict) {
			// A concurrent redelivery of the same request won the race.
			if existing, getErr := e.store.GetByID(ctx, req.TenantID, id); getErr == nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("audit.Engine.LogSync: %w", err)
	}

	e.logger.Debug().
		Str("tenant_id", rec.TenantID).
		Int64("sequence", rec.SequenceNumber).
		Str("record_id", rec.ID.String()).
		Msg("audit record committed")

	return rec, nil
}

func (e *Engine) validate(req *LogRequest) error {
	switch {
	case req == nil:
		return fmt.Errorf("%w: request is nil", ErrInvalidRequest)
	case req.TenantID == "":
		return fmt.Errorf("%w: tenant id is required", ErrInvalidRequest)
	case req.RecordType == "":
		return fmt.Errorf("%w: record type is required", ErrInvalidRequest)
	case req.Level != 0 && !req.Level.Valid():
		return fmt.Errorf("%w: %w", ErrInvalidRequest, domain.ErrInvalidLevel)
	case req.RetentionDays < 0:
		return fmt.Errorf("%w: retention days must not be negative", ErrInvalidRequest)
	case req.SignedBy != "" && e.signer == nil:
		return ErrSignerNotConfigured
	}
	return nil
}

func (e *Engine) retentionDays(req *LogRequest) int {
	if req.RetentionDays > 0 {
		return req.RetentionDays
	}
	if e.retention != nil {
		if days := e.retention.RetentionDays(req.RecordType); days > 0 {
			return days
		}
	}
	return e.defDays
}
