package audit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/auditchain/internal/audit"
	"github.com/gosuda/auditchain/internal/domain"
	"github.com/gosuda/auditchain/internal/signing"
	"github.com/gosuda/auditchain/internal/store/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testLogger(t *testing.T) zerolog.Logger {
	return zerolog.New(zerolog.NewTestWriter(t))
}

func testKeyring(t *testing.T) *signing.Keyring {
	t.Helper()
	k, err := signing.Parse([]byte("test-root-secret"), []string{"primary"})
	require.NoError(t, err)
	return k
}

func logN(t *testing.T, e *audit.Engine, tenantID string, n int) {
	t.Helper()
	for i := range n {
		_, err := e.LogSync(context.Background(), &audit.LogRequest{
			TenantID:    tenantID,
			RecordType:  "invoice.created",
			Description: "invoice created",
			SubjectType: "invoice",
			SubjectID:   string(rune('a' + i)),
			Properties:  map[string]any{"amount": i * 100, "currency": "EUR"},
		})
		require.NoError(t, err)
	}
}

func chain(t *testing.T, s *memory.Store, tenantID string) []*domain.AuditRecord {
	t.Helper()
	recs, err := s.ListBySequence(context.Background(), tenantID, 1, 0)
	require.NoError(t, err)
	return recs
}
