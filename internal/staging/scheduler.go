// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package staging

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/holomush/storyengine/pkg/errutil"
)

// DefaultSchedulerInterval is how often the scheduler looks for proposals
// to auto-approve.
const DefaultSchedulerInterval = 5 * time.Second

// Scheduler auto-approves proposals the DM left unanswered.
type Scheduler struct {
	svc      *Service
	worlds   func() []string
	interval time.Duration
	logger   *slog.Logger
}

// NewScheduler creates a scheduler over the worlds listed by worlds.
func NewScheduler(svc *Service, worlds func() []string, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultSchedulerInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{svc: svc, worlds: worlds, interval: interval, logger: logger}
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick auto-approves every proposal older than the approval timeout and
// returns how many were approved.
func (s *Scheduler) Tick(ctx context.Context) int {
	approved := 0
	for _, worldID := range s.worlds() {
		for _, p := range s.svc.ExpiredProposals(worldID, s.svc.ApprovalTimeout()) {
			_, err := s.svc.AutoApproveOnTimeout(ctx, worldID, p.RequestID)
			switch {
			case err == nil:
				approved++
			case errors.Is(err, ErrNotFound):
				// Resolved by the DM since the scan.
			default:
				errutil.LogErrorContext(ctx, s.logger, "staging auto-approval failed", err,
					"world_id", worldID,
					"request_id", p.RequestID,
				)
			}
		}
	}
	return approved
}
