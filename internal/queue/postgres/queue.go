// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres implements the durable queue backend on PostgreSQL.
//
// All queues share the queue_items table, partitioned by queue_name. Claiming
// uses FOR UPDATE SKIP LOCKED so several processes can drain one queue.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/holomush/storyengine/internal/clock"
	"github.com/holomush/storyengine/internal/core"
	"github.com/holomush/storyengine/internal/queue"
)

// Pool is the subset of pgxpool.Pool the queue needs; pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const itemColumns = `id, queue_name, world_id, callback_id, payload, status, priority,
	attempts, max_attempts, error_message, cancelled, enqueued_at, updated_at, scheduled_at`

// Queue is a queue.Queue stored in PostgreSQL.
type Queue[T any] struct {
	pool     Pool
	name     string
	clock    clock.Clock
	notifier *queue.Notifier
}

// New creates a PostgreSQL-backed queue named name.
func New[T any](pool Pool, name string, clk clock.Clock) *Queue[T] {
	if clk == nil {
		clk = clock.System{}
	}
	return &Queue[T]{pool: pool, name: name, clock: clk, notifier: queue.NewNotifier()}
}

// Name returns the queue name.
func (q *Queue[T]) Name() string { return q.name }

// Notifier returns the enqueue signal for workers in this process.
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

	_, err = q.pool.Exec(ctx,
		`INSERT INTO queue_items (id, queue_name, world_id, callback_id, payload, status, priority,
			attempts, max_attempts, error_message, cancelled, enqueued_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 'pending', $6, 0, $7, '', FALSE, $8, $8)`,
		id, q.name, item.WorldID, item.CallbackID, data, item.Priority, maxAttempts, now)
	if err != nil {
		return "", queue.ErrBackend(q.name, "enqueue", err)
	}

	q.notifier.Notify()
	return id, nil
}

// Dequeue atomically claims the next eligible item.
func (q *Queue[T]) Dequeue(ctx context.Context) (*queue.Item[T], error) {
	now := q.clock.Now()
	row := q.pool.QueryRow(ctx,
		`UPDATE queue_items
		 SET status = 'processing', attempts = attempts + 1, updated_at = $2, scheduled_at = NULL
		 WHERE id = (
			SELECT id FROM queue_items
			WHERE queue_name = $1
			  AND (status = 'pending' OR (status = 'delayed' AND (scheduled_at IS NULL OR scheduled_at <= $2)))
			ORDER BY priority DESC, enqueued_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+itemColumns,
		q.name, now)

	item, err := q.scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
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
	tag, err := q.pool.Exec(ctx,
		`UPDATE queue_items SET status = $3, error_message = $4, updated_at = $5
		 WHERE queue_name = $1 AND id = $2 AND status NOT IN ('completed', 'failed')`,
		q.name, id, string(status), reason, q.clock.Now())
	if err != nil {
		return queue.ErrBackend(q.name, "finish "+string(status), err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	return q.mustExist(ctx, id)
}

// Delay parks id until the given time.
func (q *Queue[T]) Delay(ctx context.Context, id string, until time.Time) error {
	tag, err := q.pool.Exec(ctx,
		`UPDATE queue_items SET status = 'delayed', scheduled_at = $3, updated_at = $4
		 WHERE queue_name = $1 AND id = $2`,
		q.name, id, until.UTC(), q.clock.Now())
	if err != nil {
		return queue.ErrBackend(q.name, "delay", err)
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrItemNotFound(q.name, id)
	}
	q.notifier.Notify()
	return nil
}

// Get returns id.
func (q *Queue[T]) Get(ctx context.Context, id string) (*queue.Item[T], error) {
	row := q.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM queue_items WHERE queue_name = $1 AND id = $2`,
		q.name, id)
	item, err := q.scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, queue.ErrItemNotFound(q.name, id)
	}
	return item, err
}

// ListByStatus returns items in status, oldest first.
func (q *Queue[T]) ListByStatus(ctx context.Context, status queue.Status) ([]queue.Item[T], error) {
	if err := status.Validate(); err != nil {
		return nil, err
	}
	return q.list(ctx, "list by status",
		`SELECT `+itemColumns+` FROM queue_items
		 WHERE queue_name = $1 AND status = $2
		 ORDER BY enqueued_at ASC, id ASC`,
		q.name, string(status))
}

// ListByWorld returns non-terminal items for worldID.
func (q *Queue[T]) ListByWorld(ctx context.Context, worldID string) ([]queue.Item[T], error) {
	return q.list(ctx, "list by world",
		`SELECT `+itemColumns+` FROM queue_items
		 WHERE queue_name = $1 AND world_id = $2 AND status NOT IN ('completed', 'failed')
		 ORDER BY enqueued_at ASC, id ASC`,
		q.name, worldID)
}

// History returns terminal items for worldID, newest first.
func (q *Queue[T]) History(ctx context.Context, worldID string, limit int) ([]queue.Item[T], error) {
	if limit <= 0 {
		limit = 50
	}
	return q.list(ctx, "history",
		`SELECT `+itemColumns+` FROM queue_items
		 WHERE queue_name = $1 AND world_id = $2 AND status IN ('completed', 'failed')
		 ORDER BY updated_at DESC, id DESC
		 LIMIT $3`,
		q.name, worldID, limit)
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
	tag, err := q.pool.Exec(ctx,
		`DELETE FROM queue_items
		 WHERE queue_name = $1 AND status IN ('completed', 'failed') AND updated_at < $2`,
		q.name, q.clock.Now().Add(-olderThan))
	if err != nil {
		return 0, queue.ErrBackend(q.name, "cleanup", err)
	}
	return int(tag.RowsAffected()), nil
}

// ExpireOld fails pending items enqueued before olderThan ago.
func (q *Queue[T]) ExpireOld(ctx context.Context, olderThan time.Duration) (int, error) {
	now := q.clock.Now()
	tag, err := q.pool.Exec(ctx,
		`UPDATE queue_items SET status = 'failed', error_message = 'expired', updated_at = $3
		 WHERE queue_name = $1 AND status = 'pending' AND enqueued_at < $2`,
		q.name, now.Add(-olderThan), now)
	if err != nil {
		return 0, queue.ErrBackend(q.name, "expire", err)
	}
	return int(tag.RowsAffected()), nil
}

// RecoverStale releases processing items last updated before olderThan ago.
func (q *Queue[T]) RecoverStale(ctx context.Context, olderThan time.Duration) (int, error) {
	now := q.clock.Now()
	tag, err := q.pool.Exec(ctx,
		`UPDATE queue_items SET
			status = CASE WHEN cancelled OR attempts >= max_attempts THEN 'failed' ELSE 'pending' END,
			error_message = CASE WHEN cancelled THEN $4 WHEN attempts >= max_attempts THEN $5 ELSE error_message END,
			updated_at = $3
		 WHERE queue_name = $1 AND status = 'processing' AND updated_at < $2`,
		q.name, now.Add(-olderThan), now, queue.CancelledReason, queue.AbandonedReason)
	if err != nil {
		return 0, queue.ErrBackend(q.name, "recover stale", err)
	}
	if tag.RowsAffected() > 0 {
		q.notifier.Notify()
	}
	return int(tag.RowsAffected()), nil
}

// CancelByCallback cancels the live item tagged with callbackID.
func (q *Queue[T]) CancelByCallback(ctx context.Context, callbackID string) (bool, error) {
	if callbackID == "" {
		return false, nil
	}
	now := q.clock.Now()

	tag, err := q.pool.Exec(ctx,
		`UPDATE queue_items SET status = 'failed', error_message = $3, cancelled = TRUE, updated_at = $4
		 WHERE queue_name = $1 AND callback_id = $2 AND status IN ('pending', 'delayed')`,
		q.name, callbackID, queue.CancelledReason, now)
	if err != nil {
		return false, queue.ErrBackend(q.name, "cancel pending", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	tag, err = q.pool.Exec(ctx,
		`UPDATE queue_items SET cancelled = TRUE, updated_at = $3
		 WHERE queue_name = $1 AND callback_id = $2 AND status = 'processing'`,
		q.name, callbackID, now)
	if err != nil {
		return false, queue.ErrBackend(q.name, "cancel processing", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (q *Queue[T]) countStatus(ctx context.Context, status queue.Status) (int, error) {
	var n int
	err := q.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM queue_items WHERE queue_name = $1 AND status = $2`,
		q.name, string(status)).Scan(&n)
	if err != nil {
		return 0, queue.ErrBackend(q.name, "count "+string(status), err)
	}
	return n, nil
}

func (q *Queue[T]) mustExist(ctx context.Context, id string) error {
	var exists bool
	err := q.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM queue_items WHERE queue_name = $1 AND id = $2)`,
		q.name, id).Scan(&exists)
	if err != nil {
		return queue.ErrBackend(q.name, "check item", err)
	}
	if !exists {
		return queue.ErrItemNotFound(q.name, id)
	}
	return nil
}

func (q *Queue[T]) list(ctx context.Context, operation, sql string, args ...any) ([]queue.Item[T], error) {
	rows, err := q.pool.Query(ctx, sql, args...)
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

func (q *Queue[T]) scan(row pgx.Row) (*queue.Item[T], error) {
	var (
		item    queue.Item[T]
		payload []byte
		status  string
	)
	err := row.Scan(&item.ID, &item.Queue, &item.WorldID, &item.CallbackID, &payload, &status,
		&item.Priority, &item.Attempts, &item.MaxAttempts, &item.Error, &item.Cancelled,
		&item.EnqueuedAt, &item.UpdatedAt, &item.ScheduledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, queue.ErrBackend(q.name, "scan item", err)
	}
	item.Status = queue.Status(status)
	item.Payload, err = queue.UnmarshalPayload[T](q.name, item.ID, payload)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

var _ queue.Queue[struct{}] = (*Queue[struct{}])(nil)
