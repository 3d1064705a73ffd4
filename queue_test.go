package quantum

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewQueue(store, nil)
}

func TestQueueEnqueueListOrder(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	urls := []string{"/api/epcr/records", "/api/epcr/records/1/vitals", "/api/billing/claims"}
	for _, u := range urls {
		require.NoError(t, q.Enqueue(ctx, "https://server"+u, "POST", map[string]string{"Content-Type": "application/json"}, []byte(`{}`)))
	}

	pending, err := q.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for i, m := range pending {
		assert.Equal(t, "https://server"+urls[i], m.TargetURL)
		assert.Equal(t, "POST", m.Method)
		assert.Equal(t, "application/json", m.Headers["Content-Type"])
		assert.Equal(t, []byte(`{}`), m.Body)
		assert.Zero(t, m.RetryCount)
		assert.False(t, m.EnqueuedAt.IsZero())
	}
}

func TestQueueMutationIDsUnique(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	// Enqueue quickly enough that timestamp prefixes collide; the random
	// suffix must still keep ids unique.
	for i := 0; i < 50; i++ {
		require.NoError(t, q.Enqueue(ctx, "https://server/api/fleet/units/u1/position", "POST", nil, nil))
	}

	pending, err := q.ListPending(ctx)
	require.NoError(t, err)
	seen := make(map[string]bool, len(pending))
	for _, m := range pending {
		assert.False(t, seen[m.ID], "duplicate mutation id %s", m.ID)
		seen[m.ID] = true
	}
}

func TestQueueSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")

	store, err := OpenStore(path)
	require.NoError(t, err)
	q := NewQueue(store, nil)
	require.NoError(t, q.Enqueue(ctx, "https://server/api/epcr/records", "POST", nil, []byte(`{"unitId":"u1"}`)))
	require.NoError(t, store.Close())

	// Re-open: schema creation is idempotent and the entry is still there.
	store, err = OpenStore(path)
	require.NoError(t, err)
	defer store.Close()
	q = NewQueue(store, nil)

	count, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	pending, err := q.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, []byte(`{"unitId":"u1"}`), pending[0].Body)
}

func TestQueueRemoveIdempotent(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, "https://server/api/billing/claims", "POST", nil, nil))
	pending, err := q.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, q.Remove(ctx, pending[0].ID))
	require.NoError(t, q.Remove(ctx, pending[0].ID))
	require.NoError(t, q.Remove(ctx, "no-such-id"))

	count, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestQueueUpdateRetryPersists(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, "https://server/api/fleet/units/u1/status", "POST", nil, nil))
	pending, err := q.ListPending(ctx)
	require.NoError(t, err)

	require.NoError(t, q.UpdateRetry(ctx, pending[0].ID, 3))

	pending, err = q.ListPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, pending[0].RetryCount)
}

func TestQueueDeadLetter(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, "https://server/api/epcr/records/9/vitals", "POST", map[string]string{"Authorization": "Bearer t"}, []byte(`{"spo2":97}`)))
	pending, err := q.ListPending(ctx)
	require.NoError(t, err)

	m := pending[0]
	m.RetryCount = MaxReplayAttempts
	require.NoError(t, q.deadLetter(ctx, m, "connection refused"))

	count, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "dead-lettered mutation must leave the queue")

	letters, err := q.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, m.ID, letters[0].ID)
	assert.Equal(t, MaxReplayAttempts, letters[0].RetryCount)
	assert.Equal(t, "connection refused", letters[0].LastError)
	assert.Equal(t, []byte(`{"spo2":97}`), letters[0].Body)
	assert.False(t, letters[0].DroppedAt.IsZero())
}
