package v1

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/auditchain/internal/audit"
	"github.com/gosuda/auditchain/internal/domain"
)

// AuditLogger abstracts record ingestion for handler testing.
// *audit.Engine satisfies this interface.
type AuditLogger interface {
	LogSync(ctx context.Context, req *audit.LogRequest) (uuid.UUID, error)
	LogAsync(ctx context.Context, req *audit.LogRequest) (uuid.UUID, error)
	Record(ctx context.Context, tenantID string, id uuid.UUID) (*domain.AuditRecord, error)
}

// ChainVerifier abstracts integrity checks for handler testing.
// *audit.Verifier satisfies this interface.
type ChainVerifier interface {
	VerifyChainFrom(ctx context.Context, tenantID string, cp audit.Checkpoint) (audit.ChainReport, error)
	VerifyRecord(rec *domain.AuditRecord) error
	VerifySignature(ctx context.Context, rec *domain.AuditRecord) error
	DetectSequenceGaps(ctx context.Context, tenantID string) ([]int64, error)
}

// SequenceReader is satisfied by *audit.Sequencer.
type SequenceReader interface {
	Current(ctx context.Context, tenantID string) (int64, bool, error)
}

// RetentionService is satisfied by *retention.Manager.
type RetentionService interface {
	Purge(ctx context.Context, before time.Time, batchSize int) (int64, error)
	Count(ctx context.Context, before time.Time) (int64, error)
	Preview(ctx context.Context, before time.Time, limit int) ([]*domain.AuditRecord, error)
}
