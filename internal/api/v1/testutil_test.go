package v1_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	v1 "github.com/gosuda/auditchain/internal/api/v1"
	"github.com/gosuda/auditchain/internal/audit"
	"github.com/gosuda/auditchain/internal/auth"
	"github.com/gosuda/auditchain/internal/retention"
	"github.com/gosuda/auditchain/internal/server/middleware"
	"github.com/gosuda/auditchain/internal/signing"
	"github.com/gosuda/auditchain/internal/store/memory"
)

const testTenant = "tenant-a"

// ---------------------------------------------------------------------------
// Context helpers inject tenant/role into context for DoCtx.
// ---------------------------------------------------------------------------

func operatorCtx(tenantID, role string) context.Context {
	return middleware.WithOperator(context.Background(), tenantID, "ops@example.com", role)
}

func writerCtx() context.Context { return operatorCtx(testTenant, auth.RoleWriter) }
func readerCtx() context.Context { return operatorCtx(testTenant, auth.RoleReader) }
func adminCtx() context.Context  { return operatorCtx(testTenant, auth.RoleAdmin) }

// ---------------------------------------------------------------------------
// Fixture: real engine over the in-memory store
// ---------------------------------------------------------------------------

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type fixture struct {
	api      humatest.TestAPI
	store    *memory.Store
	engine   *audit.Engine
	verifier *audit.Verifier
	queue    *audit.ChannelQueue
}

type fixtureOpts struct {
	signed bool
	queued bool
}

func newFixture(t *testing.T, o fixtureOpts) *fixture {
	t.Helper()

	_, api := humatest.New(t)
	store := memory.New()
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}

	engineOpts := []audit.Option{audit.WithClock(clk.Now)}
	verifierOpts := []audit.VerifierOption{audit.WithPageSize(2)}
	if o.signed {
		keys, err := signing.Parse([]byte("api-test-root"), []string{"primary"})
		require.NoError(t, err)
		engineOpts = append(engineOpts, audit.WithSigner(keys))
		verifierOpts = append(verifierOpts, audit.WithVerifierSigner(keys))
	}

	f := &fixture{api: api, store: store}
	if o.queued {
		f.queue = audit.NewChannelQueue(16)
		engineOpts = append(engineOpts, audit.WithQueue(f.queue))
	}

	f.engine = audit.NewEngine(store, engineOpts...)
	f.verifier = audit.NewVerifier(store, verifierOpts...)

	v1.RegisterRecordRoutes(api, f.engine, f.verifier)
	v1.RegisterChainRoutes(api, f.verifier, f.engine.Sequencer())
	v1.RegisterRetentionRoutes(api, retention.NewManager(store))
	return f
}

func (f *fixture) log(t *testing.T, n int, retentionDays int) {
	t.Helper()
	for i := range n {
		_, err := f.engine.LogSync(context.Background(), &audit.LogRequest{
			TenantID:      testTenant,
			RecordType:    "order.placed",
			Description:   "order placed",
			Properties:    map[string]any{"n": i},
			RetentionDays: retentionDays,
		})
		require.NoError(t, err)
	}
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func testLogger(t *testing.T) zerolog.Logger {
	return zerolog.New(zerolog.NewTestWriter(t))
}
