package audit

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gosuda/auditchain/internal/domain"
)

// DefaultPageSize is the number of records fetched per verification batch.
const DefaultPageSize = 1000

// RecordLister streams a tenant's records in ascending sequence order.
type RecordLister interface {
	ListBySequence(ctx context.Context, tenantID string, fromSequence int64, limit int) ([]*domain.AuditRecord, error)
}

// Checkpoint is the position of a chain walk: the next sequence number
// expected and the RecordHash of the record before it.
type Checkpoint struct {
	ExpectedSequence int64  `json:"expected_sequence"`
	PreviousHash     string `json:"previous_hash"`
}

// Genesis is the checkpoint of a walk that starts at the first record.
func Genesis() Checkpoint {
	return Checkpoint{ExpectedSequence: 1}
}

// ChainReport summarizes a completed or interrupted walk. Checkpoint is
// where a resumed walk should continue.
type ChainReport struct {
	TenantID       string     `json:"tenant_id"`
	RecordsChecked int64      `json:"records_checked"`
	LastRecordID   uuid.UUID  `json:"last_record_id"`
	Checkpoint     Checkpoint `json:"checkpoint"`
}

// Verifier re-derives hashes and signatures of stored records. It never
// writes to storage.
type Verifier struct {
	records  RecordLister
	hasher   Hasher
	signer   Signer
	pageSize int
	logger   zerolog.Logger
	tracer   trace.Tracer
}

type VerifierOption func(*Verifier)

func WithVerifierSigner(s Signer) VerifierOption {
	return func(v *Verifier) { v.signer = s }
}

func WithVerifierHasher(h Hasher) VerifierOption {
	return func(v *Verifier) { v.hasher = h }
}

func WithPageSize(n int) VerifierOption {
	return func(v *Verifier) {
		if n > 0 {
			v.pageSize = n
		}
	}
}

func WithVerifierLogger(l zerolog.Logger) VerifierOption {
	return func(v *Verifier) { v.logger = l }
}

func NewVerifier(records RecordLister, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		records:  records,
		hasher:   NewHasherRegistry(),
		pageSize: DefaultPageSize,
		logger:   zerolog.Nop(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyChain walks the tenant's chain from sequence 1. It returns a
// *Violation at the first record that fails, in this order: sequence
// continuity, linkage to the previous hash, content hash. An empty chain
// is valid.
func (v *Verifier) VerifyChain(ctx context.Context, tenantID string) (ChainReport, error) {
	return v.VerifyChainFrom(ctx, tenantID, Genesis())
}

// VerifyChainFrom resumes a walk at cp. Cancellation is honoured between
// pages; the returned report then holds the checkpoint to resume from.
func (v *Verifier) VerifyChainFrom(ctx context.Context, tenantID string, cp Checkpoint) (ChainReport, error) {
	ctx, span := v.tracer.Start(ctx, "audit.VerifyChain", trace.WithAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.Int64("from_sequence", cp.ExpectedSequence),
	))
	defer span.End()

	if cp.ExpectedSequence < 1 {
		cp = Genesis()
	}
	report := ChainReport{TenantID: tenantID, Checkpoint: cp}

	err := v.walk(ctx, tenantID, cp.ExpectedSequence, func(page []*domain.AuditRecord) error {
		for _, rec := range page {
			if err := v.checkLink(tenantID, rec, report.Checkpoint); err != nil {
				return err
			}
			report.RecordsChecked++
			report.LastRecordID = rec.ID
			report.Checkpoint = Checkpoint{
				ExpectedSequence: rec.SequenceNumber + 1,
				PreviousHash:     rec.RecordHash,
			}
		}
		return nil
	})
	span.SetAttributes(attribute.Int64("records_checked", report.RecordsChecked))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chain verification failed")
		v.logger.Warn().Err(err).
			Str("tenant_id", tenantID).
			Int64("records_checked", report.RecordsChecked).
			Msg("chain verification stopped")
		return report, err
	}

	v.logger.Info().
		Str("tenant_id", tenantID).
		Int64("records_checked", report.RecordsChecked).
		Msg("chain verified")
	return report, nil
}

// VerifyRecord recomputes the record's hash from its stored fields.
func (v *Verifier) VerifyRecord(rec *domain.AuditRecord) error {
	recomputed, err := ComputeRecordHash(v.hasher, rec)
	if err != nil {
		return fmt.Errorf("audit.Verifier.VerifyRecord: %w", err)
	}
	if recomputed != rec.RecordHash {
		return &Violation{
			Kind:         KindHashMismatch,
			TenantID:     rec.TenantID,
			RecordID:     rec.ID,
			Sequence:     rec.SequenceNumber,
			ExpectedHash: recomputed,
			ActualHash:   rec.RecordHash,
		}
	}
	return nil
}

// VerifySignature checks the record's signature against the same
// serialization the hash covers. Unsigned records are trivially valid.
func (v *Verifier) VerifySignature(ctx context.Context, rec *domain.AuditRecord) error {
	if !rec.Signed() {
		return nil
	}
	if v.signer == nil {
		return fmt.Errorf("audit.Verifier.VerifySignature: %w", ErrSignerNotConfigured)
	}

	violation := &Violation{
		Kind:     KindSignatureInvalid,
		TenantID: rec.TenantID,
		RecordID: rec.ID,
		Sequence: rec.SequenceNumber,
	}

	sig, err := base64.StdEncoding.DecodeString(rec.Signature)
	if err != nil {
		violation.Cause = fmt.Errorf("decode signature: %w", err)
		return violation
	}
	payload, err := Serialize(rec)
	if err != nil {
		return fmt.Errorf("audit.Verifier.VerifySignature: %w", err)
	}

	ok, err := v.signer.Verify(ctx, payload, sig, rec.SignedBy)
	if err != nil {
		violation.Cause = err
		return violation
	}
	if !ok {
		return violation
	}
	return nil
}

// DetectSequenceGaps walks the chain and returns every sequence number
// missing between 1 and the last stored record. It never fails on a gap.
func (v *Verifier) DetectSequenceGaps(ctx context.Context, tenantID string) ([]int64, error) {
	ctx, span := v.tracer.Start(ctx, "audit.DetectSequenceGaps", trace.WithAttributes(
		attribute.String("tenant_id", tenantID),
	))
	defer span.End()

	gaps := []int64{}
	var last int64
	err := v.walk(ctx, tenantID, 1, func(page []*domain.AuditRecord) error {
		for _, rec := range page {
			for missing := last + 1; missing < rec.SequenceNumber; missing++ {
				gaps = append(gaps, missing)
			}
			if rec.SequenceNumber > last {
				last = rec.SequenceNumber
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("gaps", len(gaps)))
	if len(gaps) > 0 {
		v.logger.Warn().Str("tenant_id", tenantID).Int("gaps", len(gaps)).Msg("sequence gaps detected")
	}
	return gaps, nil
}

func (v *Verifier) checkLink(tenantID string, rec *domain.AuditRecord, cp Checkpoint) error {
	if rec.SequenceNumber != cp.ExpectedSequence {
		return &Violation{
			Kind:             KindSequence,
			TenantID:         tenantID,
			RecordID:         rec.ID,
			Sequence:         rec.SequenceNumber,
			ExpectedSequence: cp.ExpectedSequence,
		}
	}
	if rec.PreviousHash != cp.PreviousHash {
		return &Violation{
			Kind:         KindChainBroken,
			TenantID:     tenantID,
			RecordID:     rec.ID,
			Sequence:     rec.SequenceNumber,
			ExpectedHash: cp.PreviousHash,
			ActualHash:   rec.PreviousHash,
		}
	}
	return v.VerifyRecord(rec)
}

// walk pages through the tenant's records from fromSequence. A page shorter
// than the page size ends the walk.
func (v *Verifier) walk(ctx context.Context, tenantID string, fromSequence int64, visit func([]*domain.AuditRecord) error) error {
	next := fromSequence
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("audit.Verifier: %w", err)
		}

		page, err := v.records.ListBySequence(ctx, tenantID, next, v.pageSize)
		if err != nil {
			return fmt.Errorf("audit.Verifier: list from %d: %w", next, err)
		}
		if len(page) == 0 {
			return nil
		}

		if err := visit(page); err != nil {
			return err
		}

		if len(page) < v.pageSize {
			return nil
		}
		next = page[len(page)-1].SequenceNumber + 1
	}
}
