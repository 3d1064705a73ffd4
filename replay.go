package quantum

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// ============================================================================
// Replay Engine
// ============================================================================

// ApplyFunc performs the actual network replay of one mutation. It returns
// true when the server accepted the replay. A false return or an error counts
// as one failed attempt.
type ApplyFunc func(ctx context.Context, m QueuedMutation) (bool, error)

// DrainStats reports the outcome of one drain pass.
type DrainStats struct {
	Applied int // replayed successfully and removed
	Retried int // failed, retry counter incremented
	Dropped int // retry ceiling reached, moved to dead letters
}

// ReplayEngine drains the mutation queue in enqueue order once connectivity
// returns.
type ReplayEngine struct {
	queue    *Queue
	log      *slog.Logger
	draining atomic.Bool
}

// NewReplayEngine creates a replay engine over the queue. A nil logger
// discards replay logs.
func NewReplayEngine(queue *Queue, log *slog.Logger) *ReplayEngine {
	if log == nil {
		log = slog.New(discardHandler{})
	}
	return &ReplayEngine{queue: queue, log: log}
}

// Drain replays all currently pending mutations through applyFn, visiting
// each pending item at most once per pass and never reordering them. A
// failing item does not abort the pass; its retry counter is incremented and
// processing continues. Items at the retry ceiling are dropped to the
// dead-letter table.
//
// Drain is non-reentrant: a second concurrent call is a no-op returning zero
// stats, so repeated connectivity-restored signals cannot double-apply an
// entry.
func (e *ReplayEngine) Drain(ctx context.Context, applyFn ApplyFunc) (DrainStats, error) {
	if !e.draining.CompareAndSwap(false, true) {
		return DrainStats{}, nil
	}
	defer e.draining.Store(false)

	// Read fresh so mutations enqueued since the last pass are included.
	pending, err := e.queue.ListPending(ctx)
	if err != nil {
		return DrainStats{}, fmt.Errorf("drain: %w", err)
	}

	var stats DrainStats
	for _, m := range pending {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		ok, applyErr := applyFn(ctx, m)
		if ok {
			if err := e.queue.Remove(ctx, m.ID); err != nil {
				e.log.Error("failed to remove replayed mutation", "id", m.ID, "error", err)
				continue
			}
			stats.Applied++
			e.log.Info("mutation replayed", "id", m.ID, "method", m.Method, "url", m.TargetURL)
			continue
		}

		retry := m.RetryCount + 1
		if retry >= MaxReplayAttempts {
			// Data-loss event: the mutation is dropped from the queue. Keep a
			// dead-letter copy so the loss stays reviewable.
			m.RetryCount = retry
			lastErr := "replay rejected"
			if applyErr != nil {
				lastErr = applyErr.Error()
			}
			if err := e.queue.deadLetter(ctx, m, lastErr); err != nil {
				e.log.Error("failed to dead-letter mutation", "id", m.ID, "error", err)
				continue
			}
			stats.Dropped++
			e.log.Error("mutation dropped after exhausting retries",
				"id", m.ID, "method", m.Method, "url", m.TargetURL,
				"attempts", retry, "error", lastErr)
			continue
		}

		if err := e.queue.UpdateRetry(ctx, m.ID, retry); err != nil {
			e.log.Error("failed to persist retry count", "id", m.ID, "error", err)
			continue
		}
		stats.Retried++
		e.log.Warn("mutation replay failed, will retry",
			"id", m.ID, "attempt", retry, "max", MaxReplayAttempts, "error", applyErr)
	}

	return stats, nil
}
