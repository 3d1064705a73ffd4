package quantum

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// MaxReplayAttempts is the retry ceiling per queued mutation. Once a
// mutation has failed this many replay passes it is removed from the queue
// unconditionally and copied to the dead-letter table.
const MaxReplayAttempts = 5

// QueuedMutation is one captured non-read API call awaiting replay.
type QueuedMutation struct {
	ID         string
	TargetURL  string
	Method     string
	Headers    map[string]string
	Body       []byte
	EnqueuedAt time.Time
	RetryCount int
}

// DeadLetter is a mutation dropped after exhausting its retry budget, kept
// for manual review.
type DeadLetter struct {
	QueuedMutation
	DroppedAt time.Time
	LastError string
}

// ============================================================================
// Mutation Queue
// ============================================================================

// Queue is the durable mutation queue over the persistent store. The
// interceptor writes to it; the replay engine reads, updates and deletes.
type Queue struct {
	store *Store
	log   *slog.Logger
}

// NewQueue creates a mutation queue over an opened store. A nil logger
// discards queue logs.
func NewQueue(store *Store, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.New(discardHandler{})
	}
	return &Queue{store: store, log: log}
}

// newMutationID returns a fresh id: millisecond timestamp prefix for
// monotonic-ish ordering plus a random suffix for uniqueness under clock
// coarseness.
func newMutationID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// Enqueue captures one mutation. The entry is persisted before returning;
// for valid input the only failure mode is unwritable storage.
func (q *Queue) Enqueue(ctx context.Context, targetURL, method string, headers map[string]string, body []byte) error {
	id := newMutationID()
	var headerJSON []byte
	if len(headers) > 0 {
		b, err := json.Marshal(headers)
		if err != nil {
			return fmt.Errorf("marshal headers: %w", err)
		}
		headerJSON = b
	}

	_, err := q.store.db.ExecContext(ctx,
		`INSERT INTO mutations (id, target_url, method, headers, body, enqueued_at, retry_count)
		 VALUES (?, ?, ?, ?, ?, ?, 0)`,
		id, targetURL, method, headerJSON, body, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("enqueue mutation: %w", err)
	}

	q.log.Info("mutation queued", "id", id, "method", method, "url", targetURL)
	return nil
}

// ListPending returns all queued mutations in enqueue order. The list is
// read fresh from storage on every call; callers must not cache it across a
// drain pass.
func (q *Queue) ListPending(ctx context.Context) ([]QueuedMutation, error) {
	rows, err := q.store.db.QueryContext(ctx,
		`SELECT id, target_url, method, headers, body, enqueued_at, retry_count
		 FROM mutations ORDER BY enqueued_at ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var pending []QueuedMutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		pending = append(pending, m)
	}
	return pending, rows.Err()
}

// Remove deletes a mutation by id. Removing a non-existent id is not an
// error.
func (q *Queue) Remove(ctx context.Context, id string) error {
	if _, err := q.store.db.ExecContext(ctx, `DELETE FROM mutations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove mutation: %w", err)
	}
	return nil
}

// Count returns the number of pending mutations.
func (q *Queue) Count(ctx context.Context) (int, error) {
	var count int
	err := q.store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mutations`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count mutations: %w", err)
	}
	return count, nil
}

// UpdateRetry persists an incremented retry counter for one mutation.
func (q *Queue) UpdateRetry(ctx context.Context, id string, retryCount int) error {
	if _, err := q.store.db.ExecContext(ctx,
		`UPDATE mutations SET retry_count = ? WHERE id = ?`, retryCount, id); err != nil {
		return fmt.Errorf("update retry count: %w", err)
	}
	return nil
}

// deadLetter copies a dropped mutation to the dead-letter table and removes
// it from the queue in one transaction.
func (q *Queue) deadLetter(ctx context.Context, m QueuedMutation, lastErr string) error {
	tx, err := q.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin dead-letter tx: %w", err)
	}
	defer tx.Rollback()

	var headerJSON []byte
	if len(m.Headers) > 0 {
		headerJSON, _ = json.Marshal(m.Headers)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO dead_letters
		 (id, target_url, method, headers, body, enqueued_at, retry_count, dropped_at, last_error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.TargetURL, m.Method, headerJSON, m.Body,
		m.EnqueuedAt.UnixMilli(), m.RetryCount, time.Now().UnixMilli(), lastErr)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM mutations WHERE id = ?`, m.ID); err != nil {
		return fmt.Errorf("remove dropped mutation: %w", err)
	}
	return tx.Commit()
}

// DeadLetters lists mutations dropped after exhausting retries, newest first.
func (q *Queue) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	rows, err := q.store.db.QueryContext(ctx,
		`SELECT id, target_url, method, headers, body, enqueued_at, retry_count, dropped_at, last_error
		 FROM dead_letters ORDER BY dropped_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var letters []DeadLetter
	for rows.Next() {
		var (
			dl         DeadLetter
			headerJSON []byte
			enqueuedAt int64
			droppedAt  int64
			lastErr    sql.NullString
		)
		if err := rows.Scan(&dl.ID, &dl.TargetURL, &dl.Method, &headerJSON, &dl.Body,
			&enqueuedAt, &dl.RetryCount, &droppedAt, &lastErr); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		if len(headerJSON) > 0 {
			_ = json.Unmarshal(headerJSON, &dl.Headers)
		}
		dl.EnqueuedAt = time.UnixMilli(enqueuedAt)
		dl.DroppedAt = time.UnixMilli(droppedAt)
		dl.LastError = lastErr.String
		letters = append(letters, dl)
	}
	return letters, rows.Err()
}

func scanMutation(rows *sql.Rows) (QueuedMutation, error) {
	var (
		m          QueuedMutation
		headerJSON []byte
		enqueuedAt int64
	)
	if err := rows.Scan(&m.ID, &m.TargetURL, &m.Method, &headerJSON, &m.Body,
		&enqueuedAt, &m.RetryCount); err != nil {
		return m, fmt.Errorf("scan mutation: %w", err)
	}
	if len(headerJSON) > 0 {
		if err := json.Unmarshal(headerJSON, &m.Headers); err != nil {
			return m, fmt.Errorf("decode headers: %w", err)
		}
	}
	m.EnqueuedAt = time.UnixMilli(enqueuedAt)
	return m, nil
}
