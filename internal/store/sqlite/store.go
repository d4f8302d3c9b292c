// Package sqlite is a single-node domain.AuditRepository on modernc.org/sqlite.
// Times are stored as UTC microseconds since the epoch.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/gosuda/auditchain/internal/domain"
)

//go:embed schema.sql
var schema string

const recordColumns = `id, tenant_id, sequence_number, record_type, description,
	subject_type, subject_id, causer_type, causer_id, properties, level,
	previous_hash, record_hash, signature, signed_by, created_at, expires_at`

type Store struct {
	sqlDB *sql.DB
}

var _ domain.AuditRepository = (*Store)(nil)

// Open opens or creates the database at path and applies the schema.
// Write transactions start with BEGIN IMMEDIATE, so concurrent appends wait
// on the database write lock instead of failing on upgrade.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite.Open: storage path is required")
	}

	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite.Open: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlite.Open: ping: %w", err)
	}

	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlite.Open: apply schema: %w", err)
	}

	return &Store{sqlDB: sqlDB}, nil
}

// Close is nil-safe so callers can defer it on every startup path.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

func (s *Store) Append(ctx context.Context, tenantID string, build domain.BuildFunc) (*domain.AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite.Append: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO audit_chain_heads (tenant_id) VALUES (?) ON CONFLICT (tenant_id) DO NOTHING`,
		tenantID,
	); err != nil {
		return nil, fmt.Errorf("sqlite.Append: init head: %w", err)
	}

	var lastSeq int64
	var lastHash string
	if err := tx.QueryRowContext(ctx,
		`SELECT last_sequence, last_hash FROM audit_chain_heads WHERE tenant_id = ?`,
		tenantID,
	).Scan(&lastSeq, &lastHash); err != nil {
		return nil, fmt.Errorf("sqlite.Append: read head: %w", err)
	}

	rec, err := build(domain.ChainHead{
		TenantID:     tenantID,
		Sequence:     lastSeq + 1,
		PreviousHash: lastHash,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite.Append: build: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO audit_records (`+recordColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.TenantID, rec.SequenceNumber, rec.RecordType, rec.Description,
		rec.SubjectType, rec.SubjectID, rec.CauserType, rec.CauserID,
		string(rec.Properties), int64(rec.Level),
		rec.PreviousHash, rec.RecordHash, rec.Signature, rec.SignedBy,
		toMicros(rec.CreatedAt), toMicros(rec.ExpiresAt),
	); err != nil {
		if isConstraintError(err) {
			return nil, fmt.Errorf("sqlite.Append: %w: %w", domain.ErrConflict, err)
		}
		return nil, fmt.Errorf("sqlite.Append: insert record: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE audit_chain_heads SET last_sequence = ?, last_hash = ? WHERE tenant_id = ?`,
		rec.SequenceNumber, rec.RecordHash, tenantID,
	); err != nil {
		return nil, fmt.Errorf("sqlite.Append: advance head: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite.Append: commit: %w", err)
	}
	return rec, nil
}

func (s *Store) NextSequence(ctx context.Context, tenantID string) (int64, error) {
	var seq int64
	err := s.sqlDB.QueryRowContext(ctx,
		`INSERT INTO audit_chain_heads (tenant_id, last_sequence) VALUES (?, 1)
		 ON CONFLICT (tenant_id) DO UPDATE SET last_sequence = last_sequence + 1
		 RETURNING last_sequence`,
		tenantID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("sqlite.NextSequence: %w", err)
	}
	return seq, nil
}

func (s *Store) CurrentSequence(ctx context.Context, tenantID string) (int64, error) {
	var seq int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT last_sequence FROM audit_chain_heads WHERE tenant_id = ?`,
		tenantID,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("sqlite.CurrentSequence: %w", domain.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite.CurrentSequence: %w", err)
	}
	return seq, nil
}

func (s *Store) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*domain.AuditRecord, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM audit_records WHERE tenant_id = ? AND id = ?`,
		tenantID, id.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite.GetByID: %w", err)
	}
	return scanOne(rows, "sqlite.GetByID")
}

func (s *Store) LastRecord(ctx context.Context, tenantID string) (*domain.AuditRecord, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM audit_records WHERE tenant_id = ?
		 ORDER BY sequence_number DESC LIMIT 1`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite.LastRecord: %w", err)
	}
	return scanOne(rows, "sqlite.LastRecord")
}

// ListBySequence returns records with sequence >= fromSequence in ascending
// order. A non-positive limit returns them all.
func (s *Store) ListBySequence(ctx context.Context, tenantID string, fromSequence int64, limit int) ([]*domain.AuditRecord, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM audit_records
		 WHERE tenant_id = ? AND sequence_number >= ?
		 ORDER BY sequence_number LIMIT ?`,
		tenantID, fromSequence, sqlLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite.ListBySequence: %w", err)
	}
	return scanRecords(rows, "sqlite.ListBySequence")
}

func (s *Store) FindExpired(ctx context.Context, before time.Time, limit int) ([]*domain.AuditRecord, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM audit_records
		 WHERE expires_at <= ?
		 ORDER BY expires_at, tenant_id, sequence_number LIMIT ?`,
		toMicros(before), sqlLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite.FindExpired: %w", err)
	}
	return scanRecords(rows, "sqlite.FindExpired")
}

func (s *Store) DeleteExpired(ctx context.Context, ids []uuid.UUID, before time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	args := make([]any, 0, len(ids)+1)
	for _, id := range ids {
		args = append(args, id.String())
	}
	args = append(args, toMicros(before))

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	res, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM audit_records WHERE id IN (`+placeholders+`) AND expires_at <= ?`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite.DeleteExpired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite.DeleteExpired: rows affected: %w", err)
	}
	return n, nil
}

func (s *Store) CountExpired(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	if err := s.sqlDB.QueryRowContext(ctx,
		`SELECT count(*) FROM audit_records WHERE expires_at <= ?`,
		toMicros(before),
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite.CountExpired: %w", err)
	}
	return n, nil
}

func scanOne(rows *sql.Rows, caller string) (*domain.AuditRecord, error) {
	recs, err := scanRecords(rows, caller)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%s: %w", caller, domain.ErrNotFound)
	}
	return recs[0], nil
}

func scanRecords(rows *sql.Rows, caller string) ([]*domain.AuditRecord, error) {
	defer rows.Close()

	recs := []*domain.AuditRecord{}
	for rows.Next() {
		var rec domain.AuditRecord
		var id, props string
		var level, createdAt, expiresAt int64

		if err := rows.Scan(
			&id, &rec.TenantID, &rec.SequenceNumber, &rec.RecordType, &rec.Description,
			&rec.SubjectType, &rec.SubjectID, &rec.CauserType, &rec.CauserID,
			&props, &level,
			&rec.PreviousHash, &rec.RecordHash, &rec.Signature, &rec.SignedBy,
			&createdAt, &expiresAt,
		); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", caller, err)
		}

		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("%s: parse id %q: %w", caller, id, err)
		}
		rec.ID = parsed
		rec.Properties = []byte(props)
		rec.Level = domain.Level(level)
		rec.CreatedAt = fromMicros(createdAt)
		rec.ExpiresAt = fromMicros(expiresAt)
		recs = append(recs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", caller, err)
	}
	return recs, nil
}

func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

// sqlLimit maps "no limit" to SQLite's -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
