// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package clock supplies wall-clock and monotonic time to the engine.
//
// Components take a Clock instead of calling time.Now so tests can pin or
// advance time deterministically.
package clock

import (
	"sync"
	"time"
)

// Clock is the time source consumed by every engine component.
type Clock interface {
	// Now returns the current wall-clock time in UTC.
	Now() time.Time
	// NowUnix returns the current wall-clock time as Unix seconds.
	NowUnix() int64
	// Instant returns a monotonic reading suitable for measuring durations.
	Instant() time.Time
}

// System reads the host clock.
type System struct{}

// Now returns time.Now in UTC.
func (System) Now() time.Time { return time.Now().UTC() }

// NowUnix returns time.Now as Unix seconds.
func (System) NowUnix() int64 { return time.Now().Unix() }

// Instant returns time.Now with its monotonic reading intact.
func (System) Instant() time.Time { return time.Now() }

// Manual is a Clock that only moves when told to.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a Manual clock pinned at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start.UTC()}
}

// Now returns the pinned time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// NowUnix returns the pinned time as Unix seconds.
func (m *Manual) NowUnix() int64 {
	return m.Now().Unix()
}

// Instant returns the pinned time.
func (m *Manual) Instant() time.Time {
	return m.Now()
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set pins the clock at t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t.UTC()
}

var (
	_ Clock = System{}
	_ Clock = (*Manual)(nil)
)
