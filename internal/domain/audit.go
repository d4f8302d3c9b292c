package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditRecord is one immutable link of a tenant's hash chain.
type AuditRecord struct {
	ID             uuid.UUID       `json:"id"`
	TenantID       string          `json:"tenant_id"`
	SequenceNumber int64           `json:"sequence_number"`
	RecordType     string          `json:"record_type"`
	Description    string          `json:"description"`
	SubjectType    string          `json:"subject_type,omitempty"`
	SubjectID      string          `json:"subject_id,omitempty"`
	CauserType     string          `json:"causer_type,omitempty"`
	CauserID       string          `json:"causer_id,omitempty"`
	Properties     json.RawMessage `json:"properties"`
	Level          Level           `json:"level"`
	PreviousHash   string          `json:"previous_hash"`
	RecordHash     string          `json:"record_hash"`
	Signature      string          `json:"signature,omitempty"` // base64
	SignedBy       string          `json:"signed_by,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
}

// Signed reports whether the record carries a signature.
func (r *AuditRecord) Signed() bool {
	return r.Signature != ""
}

// Clone returns a deep copy so callers never share the stored Properties slice.
func (r *AuditRecord) Clone() *AuditRecord {
	c := *r
	if r.Properties != nil {
		c.Properties = append(json.RawMessage(nil), r.Properties...)
	}
	return &c
}

// ChainHead is handed to a BuildFunc inside the storage critical section.
// Sequence is the number the new record must carry; PreviousHash is the
// RecordHash of the record at Sequence-1, or "" for the first record.
type ChainHead struct {
	TenantID     string
	Sequence     int64
	PreviousHash string
}

// BuildFunc completes a record for the given chain head. It runs while the
// tenant's head is locked, so it must not block on network I/O; see
// audit.Signer.
type BuildFunc func(head ChainHead) (*AuditRecord, error)

type AuditRepository interface {
	// Append atomically allocates the next sequence, reads the previous hash,
	// calls build and persists the result. Returns ErrConflict when a record
	// with the built ID already exists.
	Append(ctx context.Context, tenantID string, build BuildFunc) (*AuditRecord, error)
	NextSequence(ctx context.Context, tenantID string) (int64, error)
	// CurrentSequence returns ErrNotFound when the tenant has no counter yet.
	CurrentSequence(ctx context.Context, tenantID string) (int64, error)
	GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*AuditRecord, error)
	LastRecord(ctx context.Context, tenantID string) (*AuditRecord, error)
	ListBySequence(ctx context.Context, tenantID string, fromSequence int64, limit int) ([]*AuditRecord, error)
	FindExpired(ctx context.Context, before time.Time, limit int) ([]*AuditRecord, error)
	// DeleteExpired removes only the listed records whose ExpiresAt <= before.
	DeleteExpired(ctx context.Context, ids []uuid.UUID, before time.Time) (int64, error)
	CountExpired(ctx context.Context, before time.Time) (int64, error)
}
