// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/holomush/storyengine/internal/clock"
	"github.com/holomush/storyengine/internal/core"
)

// MemoryQueue is an in-process Queue. Items do not survive a restart.
type MemoryQueue[T any] struct {
	name     string
	clock    clock.Clock
	notifier *Notifier

	mu    sync.Mutex
	items map[string]*Item[T]
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue[T any](name string, clk clock.Clock) *MemoryQueue[T] {
	if clk == nil {
		clk = clock.System{}
	}
	return &MemoryQueue[T]{
		name:     name,
		clock:    clk,
		notifier: NewNotifier(),
		items:    make(map[string]*Item[T]),
	}
}

// Name returns the queue name.
func (q *MemoryQueue[T]) Name() string { return q.name }

// Notifier returns the enqueue signal.
func (q *MemoryQueue[T]) Notifier() *Notifier { return q.notifier }

// Enqueue stores payload as a pending item.
func (q *MemoryQueue[T]) Enqueue(ctx context.Context, payload T, priority int) (string, error) {
	return q.EnqueueItem(ctx, Item[T]{Payload: payload, Priority: priority})
}

// EnqueueItem stores a pending item.
func (q *MemoryQueue[T]) EnqueueItem(_ context.Context, item Item[T]) (string, error) {
	now := q.clock.Now()
	stored := &Item[T]{
		ID:          core.NewIDAt(now),
		Queue:       q.name,
		WorldID:     item.WorldID,
		CallbackID:  item.CallbackID,
		Payload:     item.Payload,
		Priority:    item.Priority,
		Status:      StatusPending,
		EnqueuedAt:  now,
		UpdatedAt:   now,
		MaxAttempts: item.MaxAttempts,
	}
	if stored.MaxAttempts <= 0 {
		stored.MaxAttempts = DefaultMaxAttempts
	}

	q.mu.Lock()
	q.items[stored.ID] = stored
	q.mu.Unlock()

	q.notifier.Notify()
	return stored.ID, nil
}

// Dequeue claims the highest-priority, oldest eligible item.
func (q *MemoryQueue[T]) Dequeue(_ context.Context) (*Item[T], error) {
	now := q.clock.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	var best *Item[T]
	for _, it := range q.items {
		if !eligible(it, now) {
			continue
		}
		if best == nil || before(it, best) {
			best = it
		}
	}
	if best == nil {
		return nil, nil
	}

	best.Status = StatusProcessing
	best.Attempts++
	best.UpdatedAt = now
	best.ScheduledAt = nil
	out := *best
	return &out, nil
}

// Complete marks id completed.
func (q *MemoryQueue[T]) Complete(_ context.Context, id string) error {
	return q.finish(id, StatusCompleted, "")
}

// Fail marks id failed with reason.
func (q *MemoryQueue[T]) Fail(_ context.Context, id, reason string) error {
	return q.finish(id, StatusFailed, reason)
}

func (q *MemoryQueue[T]) finish(id string, status Status, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.items[id]
	if !ok {
		return ErrItemNotFound(q.name, id)
	}
	if it.Status.Terminal() {
		return nil
	}
	it.Status = status
	it.Error = reason
	it.UpdatedAt = q.clock.Now()
	return nil
}

// Delay parks id until the given time.
func (q *MemoryQueue[T]) Delay(_ context.Context, id string, until time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.items[id]
	if !ok {
		return ErrItemNotFound(q.name, id)
	}
	at := until.UTC()
	it.Status = StatusDelayed
	it.ScheduledAt = &at
	it.UpdatedAt = q.clock.Now()
	q.notifier.Notify()
	return nil
}

// Get returns a copy of id.
func (q *MemoryQueue[T]) Get(_ context.Context, id string) (*Item[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.items[id]
	if !ok {
		return nil, ErrItemNotFound(q.name, id)
	}
	out := *it
	return &out, nil
}

// ListByStatus returns items in status, oldest first.
func (q *MemoryQueue[T]) ListByStatus(_ context.Context, status Status) ([]Item[T], error) {
	if err := status.Validate(); err != nil {
		return nil, err
	}
	return q.collect(func(it *Item[T]) bool { return it.Status == status }, false), nil
}

// ListByWorld returns non-terminal items for worldID, oldest first.
func (q *MemoryQueue[T]) ListByWorld(_ context.Context, worldID string) ([]Item[T], error) {
	return q.collect(func(it *Item[T]) bool {
		return it.WorldID == worldID && !it.Status.Terminal()
	}, false), nil
}

// History returns terminal items for worldID, newest first.
func (q *MemoryQueue[T]) History(_ context.Context, worldID string, limit int) ([]Item[T], error) {
	out := q.collect(func(it *Item[T]) bool {
		return it.WorldID == worldID && it.Status.Terminal()
	}, true)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Depth counts pending items.
func (q *MemoryQueue[T]) Depth(_ context.Context) (int, error) {
	return q.count(StatusPending), nil
}

// ProcessingCount counts processing items.
func (q *MemoryQueue[T]) ProcessingCount(_ context.Context) (int, error) {
	return q.count(StatusProcessing), nil
}

// Cleanup deletes terminal items older than olderThan.
func (q *MemoryQueue[T]) Cleanup(_ context.Context, olderThan time.Duration) (int, error) {
	cutoff := q.clock.Now().Add(-olderThan)

	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for id, it := range q.items {
		if it.Status.Terminal() && it.UpdatedAt.Before(cutoff) {
			delete(q.items, id)
			removed++
		}
	}
	return removed, nil
}

// ExpireOld fails pending items enqueued before olderThan ago.
func (q *MemoryQueue[T]) ExpireOld(_ context.Context, olderThan time.Duration) (int, error) {
	now := q.clock.Now()
	cutoff := now.Add(-olderThan)

	q.mu.Lock()
	defer q.mu.Unlock()

	expired := 0
	for _, it := range q.items {
		if it.Status == StatusPending && it.EnqueuedAt.Before(cutoff) {
			it.Status = StatusFailed
			it.Error = "expired"
			it.UpdatedAt = now
			expired++
		}
	}
	return expired, nil
}

// RecoverStale releases processing items last updated before olderThan ago.
func (q *MemoryQueue[T]) RecoverStale(_ context.Context, olderThan time.Duration) (int, error) {
	now := q.clock.Now()
	cutoff := now.Add(-olderThan)

	q.mu.Lock()
	recovered := 0
	requeued := false
	for _, it := range q.items {
		if it.Status != StatusProcessing || !it.UpdatedAt.Before(cutoff) {
			continue
		}
		switch {
		case it.Cancelled:
			it.Status, it.Error = StatusFailed, CancelledReason
		case it.Attempts >= it.MaxAttempts:
			it.Status, it.Error = StatusFailed, AbandonedReason
		default:
			it.Status = StatusPending
			requeued = true
		}
		it.UpdatedAt = now
		recovered++
	}
	q.mu.Unlock()

	if requeued {
		q.notifier.Notify()
	}
	return recovered, nil
}

// CancelByCallback cancels the live item tagged with callbackID.
func (q *MemoryQueue[T]) CancelByCallback(_ context.Context, callbackID string) (bool, error) {
	if callbackID == "" {
		return false, nil
	}
	now := q.clock.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, it := range q.items {
		if it.CallbackID != callbackID {
			continue
		}
		switch it.Status {
		case StatusPending, StatusDelayed:
			it.Status = StatusFailed
			it.Error = CancelledReason
			it.Cancelled = true
			it.UpdatedAt = now
			return true, nil
		case StatusProcessing:
			it.Cancelled = true
			it.UpdatedAt = now
			return true, nil
		}
	}
	return false, nil
}

func (q *MemoryQueue[T]) count(status Status) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, it := range q.items {
		if it.Status == status {
			n++
		}
	}
	return n
}

func (q *MemoryQueue[T]) collect(keep func(*Item[T]) bool, newestFirst bool) []Item[T] {
	q.mu.Lock()
	out := make([]Item[T], 0)
	for _, it := range q.items {
		if keep(it) {
			out = append(out, *it)
		}
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].UpdatedAt.After(out[j].UpdatedAt) ||
				(out[i].UpdatedAt.Equal(out[j].UpdatedAt) && out[i].ID > out[j].ID)
		}
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt) ||
			(out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) && out[i].ID < out[j].ID)
	})
	return out
}

var _ Queue[struct{}] = (*MemoryQueue[struct{}])(nil)
