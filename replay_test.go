package quantum

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrainAppliesInEnqueueOrder(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	engine := NewReplayEngine(q, nil)

	want := []string{
		"https://server/api/dispatch/trips/1/acknowledge",
		"https://server/api/dispatch/trips/1/status",
		"https://server/api/epcr/records/1/vitals",
		"https://server/api/epcr/records/1/narrative",
		"https://server/api/fleet/units/u1/status",
	}
	for _, u := range want {
		require.NoError(t, q.Enqueue(ctx, u, "POST", nil, nil))
	}

	var got []string
	stats, err := engine.Drain(ctx, func(_ context.Context, m QueuedMutation) (bool, error) {
		got = append(got, m.TargetURL)
		return true, nil
	})
	require.NoError(t, err)

	assert.Equal(t, want, got)
	assert.Equal(t, DrainStats{Applied: 5}, stats)

	count, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDrainBoundedRetry(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	engine := NewReplayEngine(q, nil)

	require.NoError(t, q.Enqueue(ctx, "https://server/api/billing/claims", "POST", nil, []byte(`{"tripId":"t1"}`)))

	calls := 0
	fail := func(_ context.Context, m QueuedMutation) (bool, error) {
		calls++
		return false, errors.New("connection refused")
	}

	for pass := 1; pass <= MaxReplayAttempts; pass++ {
		stats, err := engine.Drain(ctx, fail)
		require.NoError(t, err)
		if pass < MaxReplayAttempts {
			assert.Equal(t, DrainStats{Retried: 1}, stats, "pass %d", pass)
		} else {
			assert.Equal(t, DrainStats{Dropped: 1}, stats, "pass %d", pass)
		}
	}
	assert.Equal(t, MaxReplayAttempts, calls)

	count, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "exhausted mutation must be removed")

	// A further pass finds nothing: never replayed a sixth time.
	stats, err := engine.Drain(ctx, fail)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{}, stats)
	assert.Equal(t, MaxReplayAttempts, calls)

	letters, err := q.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, "connection refused", letters[0].LastError)
}

func TestDrainPartialFailureIsolation(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	engine := NewReplayEngine(q, nil)

	for _, u := range []string{"https://server/a", "https://server/b", "https://server/c"} {
		require.NoError(t, q.Enqueue(ctx, u, "POST", nil, nil))
	}

	stats, err := engine.Drain(ctx, func(_ context.Context, m QueuedMutation) (bool, error) {
		if m.TargetURL == "https://server/b" {
			return false, errors.New("network error")
		}
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, DrainStats{Applied: 2, Retried: 1}, stats)

	pending, err := q.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "https://server/b", pending[0].TargetURL)
	assert.Equal(t, 1, pending[0].RetryCount)
}

func TestDrainNotReentrant(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	engine := NewReplayEngine(q, nil)

	require.NoError(t, q.Enqueue(ctx, "https://server/api/epcr/records", "POST", nil, nil))

	entered := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	var firstStats DrainStats
	go func() {
		defer wg.Done()
		firstStats, _ = engine.Drain(ctx, func(context.Context, QueuedMutation) (bool, error) {
			close(entered)
			<-release
			return true, nil
		})
	}()

	<-entered
	// Second drain while the first is mid-flight is a no-op.
	stats, err := engine.Drain(ctx, func(context.Context, QueuedMutation) (bool, error) {
		t.Fatal("overlapping drain must not apply mutations")
		return false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, DrainStats{}, stats)

	close(release)
	wg.Wait()
	assert.Equal(t, DrainStats{Applied: 1}, firstStats)
}

func TestDrainStopsOnContextCancel(t *testing.T) {
	q := newTestQueue(t)
	engine := NewReplayEngine(q, nil)

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(ctx, "https://server/api/fleet/units/u1/position", "POST", nil, nil))
	}

	calls := 0
	_, err := engine.Drain(ctx, func(context.Context, QueuedMutation) (bool, error) {
		calls++
		cancel()
		return false, context.Canceled
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)

	count, err := q.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count, "mutations stay queued for the next drain")
}
