package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_BoundsConcurrency(t *testing.T) {
	p := New(2, nil)
	release := make(chan struct{})
	var peak, current atomic.Int32
	var wg sync.WaitGroup

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		wg.Add(1)
		require.NoError(t, p.Submit(id, func(context.Context) {
			defer wg.Done()
			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			<-release
			current.Add(-1)
		}))
	}

	require.Eventually(t, func() bool { return p.Running() == 2 && p.Queued() == 3 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(2), peak.Load())
	require.Eventually(t, func() bool { return p.Running() == 0 && p.Queued() == 0 }, time.Second, time.Millisecond)
}

func TestPool_RejectsDuplicateIDs(t *testing.T) {
	p := New(1, nil)
	release := make(chan struct{})
	done := make(chan struct{})

	require.NoError(t, p.Submit("job", func(context.Context) {
		<-release
		close(done)
	}))
	assert.ErrorIs(t, p.Submit("job", func(context.Context) {}), ErrDuplicateJob)
	assert.True(t, p.Active("job"))

	close(release)
	<-done
	require.Eventually(t, func() bool { return !p.Active("job") }, time.Second, time.Millisecond)
	assert.NoError(t, p.Submit("job", func(context.Context) {}))
}

func TestPool_ShutdownCancelsAndDrains(t *testing.T) {
	p := New(1, nil)
	var cancelled atomic.Int32

	for _, id := range []string{"running", "queued"} {
		require.NoError(t, p.Submit(id, func(ctx context.Context) {
			<-ctx.Done()
			cancelled.Add(1)
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
	assert.Equal(t, int32(2), cancelled.Load())

	assert.ErrorIs(t, p.Submit("late", func(context.Context) {}), ErrPoolClosed)
}

func TestPool_ShutdownTimesOut(t *testing.T) {
	p := New(1, nil)
	block := make(chan struct{})
	defer close(block)
	require.NoError(t, p.Submit("stuck", func(context.Context) { <-block }))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Shutdown(ctx), context.DeadlineExceeded)
}

func TestPool_SurvivesPanics(t *testing.T) {
	p := New(1, nil)
	require.NoError(t, p.Submit("boom", func(context.Context) { panic("boom") }))

	done := make(chan struct{})
	require.NoError(t, p.Submit("next", func(context.Context) { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool did not release the slot after a panic")
	}
}
