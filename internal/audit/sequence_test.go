package audit_test

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/auditchain/internal/audit"
	"github.com/gosuda/auditchain/internal/store/memory"
)

func TestSequencerNextConcurrent(t *testing.T) {
	t.Parallel()

	const callers = 200
	store := memory.New()
	seq := audit.NewSequencer(store, testLogger(t))

	// Start from a non-zero head so the property covers last+1..last+N.
	for range 3 {
		_, err := seq.Next(context.Background(), "T1")
		require.NoError(t, err)
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		got []int64
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := seq.Next(context.Background(), "T1")
			assert.NoError(t, err)
			mu.Lock()
			got = append(got, n)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	require.Len(t, got, callers)
	for i, n := range got {
		assert.Equal(t, int64(4+i), n)
	}
}

func TestSequencerCurrent(t *testing.T) {
	t.Parallel()

	store := memory.New()
	seq := audit.NewSequencer(store, testLogger(t))

	_, ok, err := seq.Current(context.Background(), "T1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = seq.Next(context.Background(), "T1")
	require.NoError(t, err)

	n, ok, err := seq.Current(context.Background(), "T1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), n)
}

func TestSequencerRejectsEmptyTenant(t *testing.T) {
	t.Parallel()

	_, err := audit.NewSequencer(memory.New(), testLogger(t)).Next(context.Background(), "")
	require.ErrorIs(t, err, audit.ErrInvalidRequest)
}

func TestSequencerResetRefused(t *testing.T) {
	t.Parallel()

	store := memory.New()
	seq := audit.NewSequencer(store, testLogger(t))
	_, err := seq.Next(context.Background(), "T1")
	require.NoError(t, err)

	require.ErrorIs(t, seq.Reset(context.Background(), "T1"), audit.ErrSequenceReset)

	n, _, err := seq.Current(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "counter untouched")
}

func TestReservedNumberBecomesGap(t *testing.T) {
	t.Parallel()

	store := memory.New()
	e := audit.NewEngine(store)
	logN(t, e, "T1", 1)

	_, err := e.Sequencer().Next(context.Background(), "T1")
	require.NoError(t, err)
	logN(t, e, "T1", 1)

	gaps, err := audit.NewVerifier(store).DetectSequenceGaps(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, gaps)
}
