// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package queue provides the generic work queue that every pipeline stage is
// built on, together with the worker loop that drains it.
//
// A Queue is instantiated once per payload type, so each stage keeps its own
// depth, metrics and backpressure. Backends live in this package (memory) and
// in the postgres and sqlite subpackages (durable).
package queue

import (
	"context"
	"time"
)

// Status is the lifecycle state of a queue item.
type Status string

// Item statuses.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusDelayed    Status = "delayed"
)

// Validate checks that s is a known status.
func (s Status) Validate() error {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusDelayed:
		return nil
	default:
		return ErrInvalidStatus(string(s))
	}
}

// Terminal reports whether an item in status s will never be dequeued again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Priorities. Higher values are dequeued first.
const (
	PriorityNormal = 0
	PriorityPlayer = 0
	PriorityDM     = 1
)

// DefaultMaxAttempts is stored on items enqueued without an explicit limit.
const DefaultMaxAttempts = 3

// CancelledReason is the failure reason recorded for cancelled items.
const CancelledReason = "cancelled"

// AbandonedReason is recorded on stale processing items that have no
// attempts left.
const AbandonedReason = "abandoned"

// Item is one unit of work. Backends hand out copies; mutating a dequeued
// Item never changes the stored one.
type Item[T any] struct {
	ID          string
	Queue       string
	WorldID     string
	CallbackID  string
	Payload     T
	Priority    int
	Status      Status
	EnqueuedAt  time.Time
	UpdatedAt   time.Time
	ScheduledAt *time.Time
	Attempts    int
	MaxAttempts int
	Error       string
	// Cancelled is set when the item was cancelled while in flight. The
	// stage finishing it should drop its output instead of broadcasting.
	Cancelled bool
}

// Queue is a priority FIFO of typed work items.
type Queue[T any] interface {
	// Name identifies the queue in logs, metrics and durable storage.
	Name() string

	// Enqueue stores payload as a pending item and returns its id.
	Enqueue(ctx context.Context, payload T, priority int) (string, error)

	// EnqueueItem stores a pending item built from the caller's Payload,
	// Priority, WorldID, CallbackID and MaxAttempts. Other fields are ignored.
	EnqueueItem(ctx context.Context, item Item[T]) (string, error)

	// Dequeue claims the next eligible item and marks it processing.
	// Higher priority first, then oldest first. Returns nil when empty.
	Dequeue(ctx context.Context) (*Item[T], error)

	// Complete marks an item completed. Completing a terminal item is a no-op.
	Complete(ctx context.Context, id string) error

	// Fail marks an item failed with reason. Failing a terminal item is a no-op.
	Fail(ctx context.Context, id string, reason string) error

	// Delay parks an item until the given time.
	Delay(ctx context.Context, id string, until time.Time) error

	// Get returns a copy of an item. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*Item[T], error)

	// ListByStatus returns items in status, oldest first.
	ListByStatus(ctx context.Context, status Status) ([]Item[T], error)

	// ListByWorld returns the non-terminal items tagged with worldID.
	ListByWorld(ctx context.Context, worldID string) ([]Item[T], error)

	// History returns terminal items for worldID, newest first.
	History(ctx context.Context, worldID string, limit int) ([]Item[T], error)

	// Depth counts pending items.
	Depth(ctx context.Context) (int, error)

	// ProcessingCount counts items currently claimed by workers.
	ProcessingCount(ctx context.Context) (int, error)

	// Cleanup deletes terminal items last updated before olderThan ago.
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)

	// ExpireOld fails pending items enqueued before olderThan ago.
	ExpireOld(ctx context.Context, olderThan time.Duration) (int, error)

	// RecoverStale releases processing items not touched for olderThan,
	// typically left behind by a crashed worker. An item with attempts left
	// goes back to pending; an exhausted or cancelled one is failed.
	RecoverStale(ctx context.Context, olderThan time.Duration) (int, error)

	// CancelByCallback cancels the item tagged with callbackID. A pending
	// item is failed with CancelledReason; a processing item is flagged
	// Cancelled and left to finish. Reports whether an item matched.
	CancelByCallback(ctx context.Context, callbackID string) (bool, error)

	// Notifier returns the wake-up signal fired on every enqueue.
	Notifier() *Notifier
}

// eligible reports whether an item can be claimed at now.
func eligible[T any](it *Item[T], now time.Time) bool {
	switch it.Status {
	case StatusPending:
		return true
	case StatusDelayed:
		return it.ScheduledAt == nil || !it.ScheduledAt.After(now)
	default:
		return false
	}
}

// before orders two claimable items: higher priority, then older, then by id.
func before[T any](a, b *Item[T]) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.ID < b.ID
}

// HasCapacity reports whether fewer than limit items of q are processing.
func HasCapacity[T any](ctx context.Context, q Queue[T], limit int) (bool, error) {
	n, err := q.ProcessingCount(ctx)
	if err != nil {
		return false, err
	}
	return n < limit, nil
}
