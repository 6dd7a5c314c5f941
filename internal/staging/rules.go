// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package staging

import (
	"fmt"

	"github.com/holomush/storyengine/internal/game"
)

// Relation is how an NPC relates to a region.
type Relation string

// Relations.
const (
	RelationHome      Relation = "home"
	RelationWorksAt   Relation = "works_at"
	RelationFrequents Relation = "frequents"
	RelationAvoids    Relation = "avoids"
)

// Shift is when a working NPC is on duty.
type Shift string

// Shifts.
const (
	ShiftDay    Shift = "day"
	ShiftNight  Shift = "night"
	ShiftAlways Shift = "always"
)

// Frequency is how often a frequenting NPC is around.
type Frequency string

// Frequencies.
const (
	FrequencyAlways    Frequency = "always"
	FrequencyOften     Frequency = "often"
	FrequencySometimes Frequency = "sometimes"
	FrequencyRarely    Frequency = "rarely"
)

// Candidate is an NPC with a relationship to the region being staged.
type Candidate struct {
	CharacterID string         `json:"character_id"`
	Name        string         `json:"name"`
	Relation    Relation       `json:"relation"`
	Shift       Shift          `json:"shift,omitempty"`
	Frequency   Frequency      `json:"frequency,omitempty"`
	TimeOfDay   game.TimeOfDay `json:"time_of_day,omitempty"`
	AvoidReason string         `json:"avoid_reason,omitempty"`
	DefaultMood string         `json:"default_mood,omitempty"`
}

// RuleBased derives presence for each candidate from its relationship and
// the time of day. The result is deterministic and keeps candidate order.
func RuleBased(candidates []Candidate, tod game.TimeOfDay) []game.StagedNPC {
	out := make([]game.StagedNPC, 0, len(candidates))
	for _, c := range candidates {
		present, reason := presence(c, tod)
		out = append(out, game.StagedNPC{
			CharacterID: c.CharacterID,
			Name:        c.Name,
			IsPresent:   present,
			Reasoning:   reason,
			Mood:        c.DefaultMood,
		})
	}
	return out
}

func presence(c Candidate, tod game.TimeOfDay) (bool, string) {
	switch c.Relation {
	case RelationHome:
		return explain(tod == game.Evening || tod == game.Night, "Lives here", tod)

	case RelationWorksAt:
		switch c.Shift {
		case ShiftDay:
			return explain(tod == game.Morning || tod == game.Afternoon, "Works here (day shift)", tod)
		case ShiftNight:
			return explain(tod == game.Evening || tod == game.Night, "Works here (night shift)", tod)
		default:
			return true, "Works here"
		}

	case RelationFrequents:
		freq := c.Frequency
		if freq == "" {
			freq = FrequencySometimes
		}
		reason := fmt.Sprintf("Frequents here (%s)", freq)
		if c.TimeOfDay != "" {
			reason = fmt.Sprintf("Frequents here (%s, %s)", freq, c.TimeOfDay)
		}
		if freq == FrequencyRarely {
			return false, reason
		}
		if c.TimeOfDay != "" {
			return explain(tod == c.TimeOfDay, reason, tod)
		}
		switch freq {
		case FrequencyAlways:
			return true, reason
		case FrequencyOften:
			return explain(tod == game.Afternoon || tod == game.Evening, reason, tod)
		default:
			return explain(tod == game.Evening, reason, tod)
		}

	case RelationAvoids:
		if c.AvoidReason != "" {
			return false, "Avoids this place: " + c.AvoidReason
		}
		return false, "Avoids this place"

	default:
		return false, "No known tie to this place"
	}
}

func explain(present bool, reason string, tod game.TimeOfDay) (bool, string) {
	if present {
		return true, reason
	}
	return false, fmt.Sprintf("%s; not expected in the %s", reason, tod)
}

// mergePrevious appends NPCs from an earlier staging that are not candidates
// any more, keeping their last known presence.
func mergePrevious(npcs []game.StagedNPC, previous *Staging) []game.StagedNPC {
	if previous == nil {
		return npcs
	}
	seen := make(map[string]bool, len(npcs))
	for _, n := range npcs {
		seen[n.CharacterID] = true
	}
	for _, n := range previous.NPCs {
		if !seen[n.CharacterID] {
			npcs = append(npcs, n)
			seen[n.CharacterID] = true
		}
	}
	return npcs
}
