package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/auditchain/internal/domain"
)

const uniqueViolation = "23505"

const recordColumns = `id, tenant_id, sequence_number, record_type, description,
		        subject_type, subject_id, causer_type, causer_id, properties, level,
		        previous_hash, record_hash, signature, signed_by, created_at, expires_at`

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

var _ domain.AuditRepository = (*AuditRepo)(nil)

// Append locks the tenant's head row for the duration of the transaction.
// The upsert creates the row on first use and takes the row lock in the
// same statement, so concurrent appends for one tenant queue behind it.
func (r *AuditRepo) Append(ctx context.Context, tenantID string, build domain.BuildFunc) (*domain.AuditRecord, error) {
	var out *domain.AuditRecord

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var lastSeq int64
		var lastHash string
		err := tx.QueryRow(ctx,
			`INSERT INTO audit_chain_heads (tenant_id, last_sequence, last_hash)
			 VALUES ($1, 0, '')
			 ON CONFLICT (tenant_id) DO UPDATE SET tenant_id = EXCLUDED.tenant_id
			 RETURNING last_sequence, last_hash`,
			tenantID,
		).Scan(&lastSeq, &lastHash)
		if err != nil {
			return fmt.Errorf("lock head: %w", err)
		}

		rec, err := build(domain.ChainHead{
			TenantID:     tenantID,
			Sequence:     lastSeq + 1,
			PreviousHash: lastHash,
		})
		if err != nil {
			return fmt.Errorf("build: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO audit_records (`+recordColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			rec.ID, rec.TenantID, rec.SequenceNumber, rec.RecordType, rec.Description,
			rec.SubjectType, rec.SubjectID, rec.CauserType, rec.CauserID,
			[]byte(rec.Properties), int16(rec.Level),
			rec.PreviousHash, rec.RecordHash, rec.Signature, rec.SignedBy,
			rec.CreatedAt, rec.ExpiresAt,
		)
		if err != nil {
			return fmt.Errorf("insert record: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE audit_chain_heads SET last_sequence = $2, last_hash = $3 WHERE tenant_id = $1`,
			tenantID, rec.SequenceNumber, rec.RecordHash,
		)
		if err != nil {
			return fmt.Errorf("advance head: %w", err)
		}

		out = rec
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("auditRepo.Append: %w: %w", domain.ErrConflict, err)
		}
		return nil, fmt.Errorf("auditRepo.Append: %w", err)
	}

	return out, nil
}

func (r *AuditRepo) NextSequence(ctx context.Context, tenantID string) (int64, error) {
	var seq int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO audit_chain_heads (tenant_id, last_sequence, last_hash)
		 VALUES ($1, 1, '')
		 ON CONFLICT (tenant_id) DO UPDATE SET last_sequence = audit_chain_heads.last_sequence + 1
		 RETURNING last_sequence`,
		tenantID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("auditRepo.NextSequence: %w", err)
	}

	return seq, nil
}

func (r *AuditRepo) CurrentSequence(ctx context.Context, tenantID string) (int64, error) {
	var seq int64
	err := r.pool.QueryRow(ctx,
		`SELECT last_sequence FROM audit_chain_heads WHERE tenant_id = $1`,
		tenantID,
	).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("auditRepo.CurrentSequence: %w", domain.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("auditRepo.CurrentSequence: %w", err)
	}

	return seq, nil
}

func (r *AuditRepo) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*domain.AuditRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+recordColumns+`
		 FROM audit_records WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	)
	if err != nil {
		return nil, fmt.Errorf("auditRepo.GetByID: %w", err)
	}
	defer rows.Close()

	return scanOne(rows, "auditRepo.GetByID")
}

func (r *AuditRepo) LastRecord(ctx context.Context, tenantID string) (*domain.AuditRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+recordColumns+`
		 FROM audit_records WHERE tenant_id = $1
		 ORDER BY sequence_number DESC
		 LIMIT 1`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("auditRepo.LastRecord: %w", err)
	}
	defer rows.Close()

	return scanOne(rows, "auditRepo.LastRecord")
}

// ListBySequence returns records with sequence >= fromSequence in ascending
// order. A non-positive limit returns them all.
func (r *AuditRepo) ListBySequence(ctx context.Context, tenantID string, fromSequence int64, limit int) ([]*domain.AuditRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+recordColumns+`
		 FROM audit_records WHERE tenant_id = $1 AND sequence_number >= $2
		 ORDER BY sequence_number
		 LIMIT NULLIF($3::int, 0)`,
		tenantID, fromSequence, max(limit, 0),
	)
	if err != nil {
		return nil, fmt.Errorf("auditRepo.ListBySequence: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows, "auditRepo.ListBySequence")
}

func (r *AuditRepo) FindExpired(ctx context.Context, before time.Time, limit int) ([]*domain.AuditRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+recordColumns+`
		 FROM audit_records WHERE expires_at <= $1
		 ORDER BY expires_at, tenant_id, sequence_number
		 LIMIT NULLIF($2::int, 0)`,
		before, max(limit, 0),
	)
	if err != nil {
		return nil, fmt.Errorf("auditRepo.FindExpired: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows, "auditRepo.FindExpired")
}

// DeleteExpired re-checks expiry so an id can never remove a live record.
// The tenant head row is left alone.
func (r *AuditRepo) DeleteExpired(ctx context.Context, ids []uuid.UUID, before time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tag, err := r.pool.Exec(ctx,
		`DELETE FROM audit_records WHERE id = ANY($1) AND expires_at <= $2`,
		ids, before,
	)
	if err != nil {
		return 0, fmt.Errorf("auditRepo.DeleteExpired: %w", err)
	}

	return tag.RowsAffected(), nil
}

func (r *AuditRepo) CountExpired(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM audit_records WHERE expires_at <= $1`,
		before,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("auditRepo.CountExpired: %w", err)
	}

	return n, nil
}

func scanOne(rows pgx.Rows, caller string) (*domain.AuditRecord, error) {
	recs, err := scanRecords(rows, caller)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%s: %w", caller, domain.ErrNotFound)
	}
	return recs[0], nil
}

func scanRecords(rows pgx.Rows, caller string) ([]*domain.AuditRecord, error) {
	recs := []*domain.AuditRecord{}
	for rows.Next() {
		var rec domain.AuditRecord
		var props []byte
		var level int16

		if err := rows.Scan(
			&rec.ID, &rec.TenantID, &rec.SequenceNumber, &rec.RecordType, &rec.Description,
			&rec.SubjectType, &rec.SubjectID, &rec.CauserType, &rec.CauserID,
			&props, &level,
			&rec.PreviousHash, &rec.RecordHash, &rec.Signature, &rec.SignedBy,
			&rec.CreatedAt, &rec.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", caller, err)
		}
		rec.Properties = props
		rec.Level = domain.Level(level)
		rec.CreatedAt = rec.CreatedAt.UTC()
		rec.ExpiresAt = rec.ExpiresAt.UTC()
		recs = append(recs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", caller, err)
	}

	return recs, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
