// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package challenge

// SystemType groups rule systems by how rolls are read.
type SystemType string

// System types.
const (
	SystemD20       SystemType = "d20"
	SystemD100      SystemType = "d100"
	SystemNarrative SystemType = "narrative"
)

// NarrativeStyle selects how descriptor difficulties are resolved.
type NarrativeStyle string

// Narrative styles.
const (
	StylePbtA   NarrativeStyle = "pbta"
	StyleLadder NarrativeStyle = "ladder"
)

// Thresholds are PbtA-style total cut-offs. Zero critical values disable
// the critical outcomes.
type Thresholds struct {
	CriticalSuccess int `yaml:"critical_success"`
	FullSuccess     int `yaml:"full_success"`
	PartialSuccess  int `yaml:"partial_success"`
	CriticalFailure int `yaml:"critical_failure"`
}

// LadderRung maps a descriptor to a target on the ladder.
type LadderRung struct {
	Descriptor Descriptor `yaml:"descriptor"`
	Value      int        `yaml:"value"`
	Name       string     `yaml:"name"`
}

// Ladder is a Fate-style difficulty ladder. Beating the target by
// StyleShifts or more is a critical success; landing on it exactly is a tie.
type Ladder struct {
	Rungs       []LadderRung `yaml:"rungs"`
	StyleShifts int          `yaml:"style_shifts"`
}

// Target returns the ladder value for d, or 2 (Fair) when d is not on it.
func (l Ladder) Target(d Descriptor) int {
	for _, r := range l.Rungs {
		if r.Descriptor == d {
			return r.Value
		}
	}
	return 2
}

// Narrative configures descriptor resolution.
type Narrative struct {
	Style      NarrativeStyle `yaml:"style"`
	Thresholds Thresholds     `yaml:"thresholds"`
	Ladder     Ladder         `yaml:"ladder"`
}

// RuleSystem is a world's dice and outcome ladder.
type RuleSystem struct {
	Name        string     `yaml:"name"`
	Type        SystemType `yaml:"type"`
	DefaultDice string     `yaml:"default_dice"`
	Narrative   Narrative  `yaml:"narrative"`
	// Script is optional Lua defining classify(check) for opposed and
	// custom difficulties.
	Script string `yaml:"script"`
}

// FateLadder is the Fate Core ladder.
func FateLadder() Ladder {
	return Ladder{
		Rungs: []LadderRung{
			{Trivial, -2, "Terrible"},
			{Easy, 0, "Mediocre"},
			{Routine, 1, "Average"},
			{Moderate, 2, "Fair"},
			{Challenging, 3, "Good"},
			{Hard, 4, "Great"},
			{VeryHard, 5, "Superb"},
			{Extreme, 6, "Fantastic"},
			{Impossible, 8, "Legendary"},
		},
		StyleShifts: 3,
	}
}

// DefaultNarrative is PbtA: 10+ full success, 7-9 partial, 6- miss.
func DefaultNarrative() Narrative {
	return Narrative{
		Style:      StylePbtA,
		Thresholds: Thresholds{FullSuccess: 10, PartialSuccess: 7},
		Ladder:     FateLadder(),
	}
}

// GenericD20 is the rule system used when a world names none.
func GenericD20() RuleSystem {
	return RuleSystem{Name: "Generic D20", Type: SystemD20, DefaultDice: "1d20", Narrative: DefaultNarrative()}
}

// withDefaults fills the parts a YAML entry may leave out.
func (rs RuleSystem) withDefaults() RuleSystem {
	if rs.Type == "" {
		rs.Type = SystemD20
	}
	if rs.Narrative.Style == "" {
		rs.Narrative.Style = StylePbtA
	}
	if rs.Narrative.Thresholds.FullSuccess == 0 && rs.Narrative.Thresholds.PartialSuccess == 0 {
		rs.Narrative.Thresholds = DefaultNarrative().Thresholds
	}
	if len(rs.Narrative.Ladder.Rungs) == 0 {
		rs.Narrative.Ladder = FateLadder()
	}
	if rs.DefaultDice == "" {
		switch rs.Type {
		case SystemD100:
			rs.DefaultDice = "1d100"
		case SystemNarrative:
			rs.DefaultDice = "2d6"
		default:
			rs.DefaultDice = "1d20"
		}
	}
	return rs
}
