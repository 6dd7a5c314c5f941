// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package queue

import (
	"context"
	"time"
)

// Notifier wakes an idle worker when work arrives. Signals coalesce: many
// Notify calls before a Wait produce one wake-up.
type Notifier struct {
	ch chan struct{}
}

// NewNotifier creates a Notifier.
func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{}, 1)}
}

// Notify signals that work is available. It never blocks.
func (n *Notifier) Notify() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until notified, the timeout elapses, or ctx is done.
// Returns true only when woken by Notify.
func (n *Notifier) Wait(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-n.ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
