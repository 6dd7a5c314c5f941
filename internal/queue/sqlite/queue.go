// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package sqlite implements a durable single-file queue backend for
// deployments without PostgreSQL. One DB may hold any number of named queues.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/oops"
	// Register the pure-Go sqlite driver.
	_ "modernc.org/sqlite"

	"github.com/holomush/storyengine/internal/clock"
	"github.com/holomush/storyengine/internal/core"
	"github.com/holomush/storyengine/internal/queue"
)

//go:embed schema.sql
var schema string

const itemColumns = `id, queue_name, world_id, callback_id, payload, status, priority,
	attempts, max_attempts, error_message, cancelled, enqueued_at, updated_at, scheduled_at`

// DB is an open queue database shared by the queues created from it.
type DB struct {
	sqlDB *sql.DB
}

// Open opens (creating if needed) the queue database at path and applies
// the schema. Use ":memory:" for a throwaway database.
func Open(path string) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, oops.Code("QUEUE_CONFIG_INVALID").Errorf("sqlite queue path is required")
	}
	dsn := ":memory:"
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, oops.Code(queue.CodeBackend).With("path", path).Wrap(err)
	}
	// A single connection serialises writers and keeps ":memory:" databases alive.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, oops.Code(queue.CodeBackend).With("path", path).Wrap(err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, oops.Code(queue.CodeBackend).With("operation", "apply schema").Wrap(err)
	}
	return &DB{sqlDB: sqlDB}, nil
}

// Close releases the database.
func (db *DB) Close() error {
	if db == nil || db.sqlDB == nil {
		return nil
	}
	return db.sqlDB.Close()
}

// Queue is a queue.Queue stored in SQLite.
type Queue[T any] struct {
	db       *sql.DB
	name     string
	clock    clock.Clock
	notifier *queue.Notifier
}

// NewQueue creates the named queue on db.
func NewQueue[T any](db *DB, name string, clk clock.Clock) *Queue[T] {
	if clk == nil {
		clk = clock.System{}
	}
	return &Queue[T]{db: db.sqlDB, name: name, clock: clk, notifier: queue.NewNotifier()}
}

// Name returns the queue name.
func (q *Queue[T]) Name() string { return q.name }

// Notifier returns the enqueue signal.
func (q *Queue[T]) Notifier() *queue.Notifier { return q.notifier }

// Enqueue stores payload as a pending item.
func (q *Queue[T]) Enqueue(ctx context.Context, payload T, priority int) (string, error) {
	return q.EnqueueItem(ctx, queue.Item[T]{Payload: payload, Priority: priority})
}

// EnqueueItem stores a pending item.
func (q *Queue[T]) EnqueueItem(ctx context.Context, item queue.Item[T]) (string, error) {
	now := q.clock.Now()
	id := core.NewIDAt(now)
	data, err := queue.MarshalPayload(q.name, id, item.Payload)
	if err != nil {
		return "", err
	}
	maxAttempts := item.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = queue.DefaultMaxAttempts
	}

	_, err = q.db.ExecContext(ctx, `
INSERT INTO queue_items (id, queue_name, world_id, callback_id, payload, status, priority,
	attempts, max_attempts, error_message, cancelled, enqueued_at, updated_at)
VALUES (?, ?, ?, ?, ?, 'pending', ?, 0, ?, '', 0, ?, ?)`,
		id, q.name, item.WorldID, item.CallbackID, data, item.Priority, maxAttempts,
		now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return "", queue.ErrBackend(q.name, "enqueue", err)
	}

	q.notifier.Notify()
	return id, nil
}

// Dequeue atomically claims the next eligible item.
func (q *Queue[T]) Dequeue(ctx context.Context) (*queue.Item[T], error) {
	now := q.clock.Now().UnixMilli()
	row := q.db.QueryRowContext(ctx, `
UPDATE queue_items
SET status = 'processing', attempts = attempts + 1, updated_at = ?, scheduled_at = NULL
WHERE id = (
	SELECT id FROM queue_items
	WHERE queue_name = ?
	  AND (status = 'pending' OR (status = 'delayed' AND (scheduled_at IS NULL OR scheduled_at <= ?)))
	ORDER BY priority DESC, enqueued_at ASC, id ASC
	LIMIT 1
)
RETURNING `+itemColumns,
		now, q.name, now)

	item, err := q.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return item, err
}

// Complete marks id completed.
func (q *Queue[T]) Complete(ctx context.Context, id string) error {
	return q.finish(ctx, id, queue.StatusCompleted, "")
}

// Fail marks id failed with reason.
func (q *Queue[T]) Fail(ctx context.Context, id, reason string) error {
	return q.finish(ctx, id, queue.StatusFailed, reason)
}

func (q *Queue[T]) finish(ctx context.Context, id string, status queue.Status, reason string) error {
	res, err := q.db.ExecContext(ctx, `
UPDATE queue_items SET status = ?, error_message = ?, updated_at = ?
WHERE queue_name = ? AND id = ? AND status NOT IN ('completed', 'failed')`,
		string(status), reason, q.clock.Now().UnixMilli(), q.name, id)
	if err != nil {
		return queue.ErrBackend(q.name, "finish "+string(status), err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists bool
	err = q.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM queue_items WHERE queue_name = ? AND id = ?)`,
		q.name, id).Scan(&exists)
	if err != nil {
		return queue.ErrBackend(q.name, "check item", err)
	}
	if !exists {
		return queue.ErrItemNotFound(q.name, id)
	}
	return nil
}

// Delay parks id until the given time.
func (q *Queue[T]) Delay(ctx context.Context, id string, until time.Time) error {
	res, err := q.db.ExecContext(ctx, `
UPDATE queue_items SET status = 'delayed', scheduled_at = ?, updated_at = ?
WHERE queue_name = ? AND id = ?`,
		until.UnixMilli(), q.clock.Now().UnixMilli(), q.name, id)
	if err != nil {
		return queue.ErrBackend(q.name, "delay", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return queue.ErrItemNotFound(q.name, id)
	}
	q.notifier.Notify()
	return nil
}

// Get returns id.
func (q *Queue[T]) Get(ctx context.Context, id string) (*queue.Item[T], error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM queue_items WHERE queue_name = ? AND id = ?`, q.name, id)
	item, err := q.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queue.ErrItemNotFound(q.name, id)
	}
	return item, err
}

// ListByStatus returns items in status, oldest first.
func (q *Queue[T]) ListByStatus(ctx context.Context, status queue.Status) ([]queue.Item[T], error) {
	if err := status.Validate(); err != nil {
		return nil, err
	}
	return q.list(ctx, "list by status", `
SELECT `+itemColumns+` FROM queue_items
WHERE queue_name = ? AND status = ?
ORDER BY enqueued_at ASC, id ASC`, q.name, string(status))
}

// ListByWorld returns non-terminal items for worldID.
func (q *Queue[T]) ListByWorld(ctx context.Context, worldID string) ([]queue.Item[T], error) {
	return q.list(ctx, "list by world", `
SELECT `+itemColumns+` FROM queue_items
WHERE queue_name = ? AND world_id = ? AND status NOT IN ('completed', 'failed')
ORDER BY enqueued_at ASC, id ASC`, q.name, worldID)
}

// History returns terminal items for worldID, newest first.
func (q *Queue[T]) History(ctx context.Context, worldID string, limit int) ([]queue.Item[T], error) {
	if limit <= 0 {
		limit = 50
	}
	return q.list(ctx, "history", `
SELECT `+itemColumns+` FROM queue_items
WHERE queue_name = ? AND world_id = ? AND status IN ('completed', 'failed')
ORDER BY updated_at DESC, id DESC
LIMIT ?`, q.name, worldID, limit)
}

// Depth counts pending items.
func (q *Queue[T]) Depth(ctx context.Context) (int, error) {
	return q.countStatus(ctx, queue.StatusPending)
}

// ProcessingCount counts processing items.
func (q *Queue[T]) ProcessingCount(ctx context.Context) (int, error) {
	return q.countStatus(ctx, queue.StatusProcessing)
}

// Cleanup deletes terminal items older than olderThan.
func (q *Queue[T]) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := q.db.ExecContext(ctx, `
DELETE FROM queue_items
WHERE queue_name = ? AND status IN ('completed', 'failed') AND updated_at < ?`,
		q.name, q.clock.Now().Add(-olderThan).UnixMilli())
	if err != nil {
		return 0, queue.ErrBackend(q.name, "cleanup", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ExpireOld fails pending items enqueued before olderThan ago.
func (q *Queue[T]) ExpireOld(ctx context.Context, olderThan time.Duration) (int, error) {
	now := q.clock.Now()
	res, err := q.db.ExecContext(ctx, `
UPDATE queue_items SET status = 'failed', error_message = 'expired', updated_at = ?
WHERE queue_name = ? AND status = 'pending' AND enqueued_at < ?`,
		now.UnixMilli(), q.name, now.Add(-olderThan).UnixMilli())
	if err != nil {
		return 0, queue.ErrBackend(q.name, "expire", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// RecoverStale releases processing items last updated before olderThan ago.
func (q *Queue[T]) RecoverStale(ctx context.Context, olderThan time.Duration) (int, error) {
	now := q.clock.Now()
	res, err := q.db.ExecContext(ctx, `
UPDATE queue_items SET
    status = CASE WHEN cancelled = 1 OR attempts >= max_attempts THEN 'failed' ELSE 'pending' END,
    error_message = CASE WHEN cancelled = 1 THEN ? WHEN attempts >= max_attempts THEN ? ELSE error_message END,
    updated_at = ?
WHERE queue_name = ? AND status = 'processing' AND updated_at < ?`,
		queue.CancelledReason, queue.AbandonedReason, now.UnixMilli(), q.name, now.Add(-olderThan).UnixMilli())
	if err != nil {
		return 0, queue.ErrBackend(q.name, "recover stale", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		q.notifier.Notify()
	}
	return int(n), nil
}

// CancelByCallback cancels the live item tagged with callbackID.
func (q *Queue[T]) CancelByCallback(ctx context.Context, callbackID string) (bool, error) {
	if callbackID == "" {
		return false, nil
	}
	now := q.clock.Now().UnixMilli()

	res, err := q.db.ExecContext(ctx, `
UPDATE queue_items SET status = 'failed', error_message = ?, cancelled = 1, updated_at = ?
WHERE queue_name = ? AND callback_id = ? AND status IN ('pending', 'delayed')`,
		queue.CancelledReason, now, q.name, callbackID)
	if err != nil {
		return false, queue.ErrBackend(q.name, "cancel pending", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}

	res, err = q.db.ExecContext(ctx, `
UPDATE queue_items SET cancelled = 1, updated_at = ?
WHERE queue_name = ? AND callback_id = ? AND status = 'processing'`,
		now, q.name, callbackID)
	if err != nil {
		return false, queue.ErrBackend(q.name, "cancel processing", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (q *Queue[T]) countStatus(ctx context.Context, status queue.Status) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_items WHERE queue_name = ? AND status = ?`,
		q.name, string(status)).Scan(&n)
	if err != nil {
		return 0, queue.ErrBackend(q.name, "count "+string(status), err)
	}
	return n, nil
}

func (q *Queue[T]) list(ctx context.Context, operation, query string, args ...any) ([]queue.Item[T], error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, queue.ErrBackend(q.name, operation, err)
	}
	defer rows.Close()

	items := make([]queue.Item[T], 0)
	for rows.Next() {
		item, err := q.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, queue.ErrBackend(q.name, operation, err)
	}
	return items, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (q *Queue[T]) scan(row scanner) (*queue.Item[T], error) {
	var (
		item                  queue.Item[T]
		payload               []byte
		status                string
		enqueuedAt, updatedAt int64
		scheduledAt           sql.NullInt64
	)
	err := row.Scan(&item.ID, &item.Queue, &item.WorldID, &item.CallbackID, &payload, &status,
		&item.Priority, &item.Attempts, &item.MaxAttempts, &item.Error, &item.Cancelled,
		&enqueuedAt, &updatedAt, &scheduledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, queue.ErrBackend(q.name, "scan item", err)
	}

	item.Status = queue.Status(status)
	item.EnqueuedAt = time.UnixMilli(enqueuedAt).UTC()
	item.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if scheduledAt.Valid {
		at := time.UnixMilli(scheduledAt.Int64).UTC()
		item.ScheduledAt = &at
	}
	item.Payload, err = queue.UnmarshalPayload[T](q.name, item.ID, payload)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

var _ queue.Queue[struct{}] = (*Queue[struct{}])(nil)
