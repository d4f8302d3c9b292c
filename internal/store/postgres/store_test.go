package postgres_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/auditchain/internal/audit"
	"github.com/gosuda/auditchain/internal/domain"
	"github.com/gosuda/auditchain/internal/store/postgres"
)

// openStore connects to AUDITCHAIN_TEST_DSN; the tests are skipped without it.
func openStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := os.Getenv("AUDITCHAIN_TEST_DSN")
	if dsn == "" {
		t.Skip("AUDITCHAIN_TEST_DSN not set")
	}

	ctx := context.Background()
	s, err := postgres.New(ctx, dsn, 8)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestAppendAndVerify(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	tenant := "pg-" + uuid.NewString()

	e := audit.NewEngine(s.Audit())
	for i := range 3 {
		_, err := e.LogSync(ctx, &audit.LogRequest{
			TenantID:    tenant,
			RecordType:  "user.updated",
			Description: "pipe | and \\ survive",
			Properties:  map[string]any{"n": i, "nested": map[string]any{"b": 1.50, "a": "x"}},
			Level:       domain.LevelMedium,
		})
		require.NoError(t, err)
	}

	report, err := audit.NewVerifier(s.Audit(), audit.WithPageSize(2)).VerifyChain(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, int64(3), report.RecordsChecked)

	last, err := s.Audit().LastRecord(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, int64(3), last.SequenceNumber)
	assert.Equal(t, domain.LevelMedium, last.Level)
}

func TestConcurrentAppend(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	tenant := "pg-" + uuid.NewString()
	e := audit.NewEngine(s.Audit())

	const writers = 20
	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.LogSync(ctx, &audit.LogRequest{TenantID: tenant, RecordType: "x.y"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	gaps, err := audit.NewVerifier(s.Audit()).DetectSequenceGaps(ctx, tenant)
	require.NoError(t, err)
	assert.Empty(t, gaps)

	cur, err := s.Audit().CurrentSequence(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, int64(writers), cur)
}

func TestDuplicateIDConflicts(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	tenant := "pg-" + uuid.NewString()
	id := uuid.New()

	build := func(head domain.ChainHead) (*domain.AuditRecord, error) {
		now := time.Now().UTC()
		return &domain.AuditRecord{
			ID: id, TenantID: tenant, SequenceNumber: head.Sequence, RecordType: "a",
			Properties: []byte(`{}`), Level: domain.LevelLow, PreviousHash: head.PreviousHash,
			RecordHash: "h", CreatedAt: now, ExpiresAt: now,
		}, nil
	}
	_, err := s.Audit().Append(ctx, tenant, build)
	require.NoError(t, err)
	_, err = s.Audit().Append(ctx, tenant, build)
	require.ErrorIs(t, err, domain.ErrConflict)

	cur, err := s.Audit().CurrentSequence(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cur, "failed append rolls back the head")
}

func TestExpiredLifecycle(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	tenant := "pg-" + uuid.NewString()
	past := time.Now().Add(-48 * time.Hour)

	e := audit.NewEngine(s.Audit(), audit.WithClock(func() time.Time { return past }))
	_, err := e.LogSync(ctx, &audit.LogRequest{TenantID: tenant, RecordType: "a", RetentionDays: 1})
	require.NoError(t, err)
	live, err := e.LogSync(ctx, &audit.LogRequest{TenantID: tenant, RecordType: "a", RetentionDays: 30})
	require.NoError(t, err)

	cutoff := time.Now()
	expired, err := s.Audit().FindExpired(ctx, cutoff, 0)
	require.NoError(t, err)

	var ids []uuid.UUID
	for _, rec := range expired {
		if rec.TenantID == tenant {
			ids = append(ids, rec.ID)
		}
	}
	require.Len(t, ids, 1)

	n, err := s.Audit().DeleteExpired(ctx, append(ids, live), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "live record survives even when listed")

	_, err = s.Audit().GetByID(ctx, tenant, live)
	require.NoError(t, err)
}
