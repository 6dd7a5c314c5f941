// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/holomush/storyengine/pkg/errutil"
)

// Janitor defaults.
const (
	DefaultCleanupInterval = 5 * time.Minute
	DefaultRetention       = 24 * time.Hour
	DefaultStaleAfter      = 15 * time.Minute
)

// Maintained is the housekeeping side of a Queue. Every Queue[T] satisfies
// it, which lets one janitor look after queues of different payload types.
type Maintained interface {
	Name() string
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)
	ExpireOld(ctx context.Context, olderThan time.Duration) (int, error)
	RecoverStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// JanitorConfig tunes a Janitor. Zero values fall back to defaults.
type JanitorConfig struct {
	// Interval is the pause between sweeps.
	Interval time.Duration
	// Retention is how long finished items stay readable in history.
	Retention time.Duration
	// StaleAfter is how long an item may sit in processing untouched
	// before it is considered abandoned by its worker.
	StaleAfter time.Duration
	Logger     *slog.Logger
}

// SweepResult counts what one sweep changed.
type SweepResult struct {
	Recovered int
	Expired   int
	Removed   int
}

type janitorTarget struct {
	queue       Maintained
	expireAfter time.Duration
}

// Janitor keeps queues bounded: it deletes old finished items, expires
// pending items nobody will act on, and releases items a dead worker left
// in processing. Register queues before calling Run.
type Janitor struct {
	cfg     JanitorConfig
	targets []janitorTarget
}

// NewJanitor creates a janitor with no queues.
func NewJanitor(cfg JanitorConfig) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultCleanupInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Janitor{cfg: cfg}
}

// Add registers q for cleanup and stale recovery.
func (j *Janitor) Add(q Maintained) {
	j.targets = append(j.targets, janitorTarget{queue: q})
}

// AddExpiring registers q like Add and also fails its pending items once
// they have waited longer than expireAfter.
func (j *Janitor) AddExpiring(q Maintained, expireAfter time.Duration) {
	j.targets = append(j.targets, janitorTarget{queue: q, expireAfter: expireAfter})
}

// Recover releases stale processing items on every queue. Run it once at
// startup, before the workers, so work claimed by a previous process is
// picked up again.
func (j *Janitor) Recover(ctx context.Context) int {
	total := 0
	for _, t := range j.targets {
		total += j.recover(ctx, t.queue)
	}
	return total
}

// Run sweeps every Interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep runs one maintenance pass over every queue. A failing queue is
// logged and skipped.
func (j *Janitor) Sweep(ctx context.Context) SweepResult {
	var res SweepResult
	for _, t := range j.targets {
		res.Recovered += j.recover(ctx, t.queue)
		if t.expireAfter > 0 {
			n, err := t.queue.ExpireOld(ctx, t.expireAfter)
			j.record(ctx, t.queue, MaintenanceExpired, n, err)
			res.Expired += n
		}
		n, err := t.queue.Cleanup(ctx, j.cfg.Retention)
		j.record(ctx, t.queue, MaintenanceRemoved, n, err)
		res.Removed += n
	}
	return res
}

func (j *Janitor) recover(ctx context.Context, q Maintained) int {
	n, err := q.RecoverStale(ctx, j.cfg.StaleAfter)
	j.record(ctx, q, MaintenanceRecovered, n, err)
	return n
}

func (j *Janitor) record(ctx context.Context, q Maintained, action string, n int, err error) {
	if err != nil {
		errutil.LogErrorContext(ctx, j.cfg.Logger, "queue maintenance failed", err,
			"queue", q.Name(),
			"action", action,
		)
		return
	}
	if n == 0 {
		return
	}
	RecordMaintenance(q.Name(), action, n)
	j.cfg.Logger.InfoContext(ctx, "queue maintenance",
		"queue", q.Name(),
		"action", action,
		"items", n,
	)
}

var _ Maintained = Queue[struct{}](nil)
