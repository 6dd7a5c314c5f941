// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package game holds the value types shared by the world state store, the
// staging engine and the pipeline services.
package game

import (
	"fmt"
	"time"
)

// TimeOfDay buckets the in-fiction hour.
type TimeOfDay string

// Time of day buckets.
const (
	Morning   TimeOfDay = "morning"
	Afternoon TimeOfDay = "afternoon"
	Evening   TimeOfDay = "evening"
	Night     TimeOfDay = "night"
)

// TimeOfDayForHour maps an hour (0-23) to its bucket: 5-11 morning,
// 12-17 afternoon, 18-21 evening, everything else night.
func TimeOfDayForHour(hour int) TimeOfDay {
	switch {
	case hour >= 5 && hour <= 11:
		return Morning
	case hour >= 12 && hour <= 17:
		return Afternoon
	case hour >= 18 && hour <= 21:
		return Evening
	default:
		return Night
	}
}

// DefaultStart is the in-fiction moment new worlds begin at.
var DefaultStart = time.Date(1, time.January, 1, 9, 0, 0, 0, time.UTC)

// GameTime is the in-fiction clock of a world. It only moves when the DM
// advances it; wall-clock time never affects it.
type GameTime struct {
	Current time.Time `json:"current"`
	Paused  bool      `json:"paused"`
}

// NewGameTime returns a game time at t.
func NewGameTime(t time.Time) GameTime {
	return GameTime{Current: t.UTC()}
}

// Hour returns the in-fiction hour.
func (g GameTime) Hour() int { return g.Current.Hour() }

// TimeOfDay returns the bucket for the current hour.
func (g GameTime) TimeOfDay() TimeOfDay { return TimeOfDayForHour(g.Hour()) }

// Advance returns g moved forward by d.
func (g GameTime) Advance(d time.Duration) GameTime {
	g.Current = g.Current.Add(d)
	return g
}

// AdvanceHours returns g moved forward by h hours.
func (g GameTime) AdvanceHours(h int) GameTime {
	return g.Advance(time.Duration(h) * time.Hour)
}

// IsZero reports whether g was never set.
func (g GameTime) IsZero() bool { return g.Current.IsZero() }

// Before reports whether g is earlier than other.
func (g GameTime) Before(other GameTime) bool { return g.Current.Before(other.Current) }

// String renders the game time as "Day N, HH:MM (time of day)".
func (g GameTime) String() string {
	day := g.Current.YearDay()
	return fmt.Sprintf("Day %d, %02d:%02d (%s)", day, g.Current.Hour(), g.Current.Minute(), g.TimeOfDay())
}
