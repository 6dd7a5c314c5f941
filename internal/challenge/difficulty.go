// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package challenge

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DifficultyKind is how a challenge's target is expressed.
type DifficultyKind string

// Difficulty kinds.
const (
	DifficultyDC         DifficultyKind = "dc"
	DifficultyPercentage DifficultyKind = "percentage"
	DifficultyDescriptor DifficultyKind = "descriptor"
	DifficultyOpposed    DifficultyKind = "opposed"
	DifficultyCustom     DifficultyKind = "custom"
)

// Descriptor is a narrative difficulty rung.
type Descriptor string

// Descriptors, easiest first.
const (
	Trivial     Descriptor = "trivial"
	Easy        Descriptor = "easy"
	Routine     Descriptor = "routine"
	Moderate    Descriptor = "moderate"
	Challenging Descriptor = "challenging"
	Hard        Descriptor = "hard"
	VeryHard    Descriptor = "very_hard"
	Extreme     Descriptor = "extreme"
	Impossible  Descriptor = "impossible"
	Risky       Descriptor = "risky"
	Desperate   Descriptor = "desperate"
)

var descriptors = []Descriptor{
	Trivial, Easy, Routine, Moderate, Challenging, Hard, VeryHard, Extreme, Impossible, Risky, Desperate,
}

func parseDescriptor(s string) (Descriptor, bool) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
	for _, d := range descriptors {
		if string(d) == norm {
			return d, true
		}
	}
	return "", false
}

// Difficulty is the target a roll is measured against.
type Difficulty struct {
	Kind       DifficultyKind `json:"kind"`
	Value      int            `json:"value,omitempty"`
	Descriptor Descriptor     `json:"descriptor,omitempty"`
	Text       string         `json:"text,omitempty"`
}

// DC returns a d20-style difficulty class.
func DC(v int) Difficulty { return Difficulty{Kind: DifficultyDC, Value: v} }

// Percentage returns a roll-under percentile target.
func Percentage(v int) Difficulty { return Difficulty{Kind: DifficultyPercentage, Value: v} }

// ParseDifficulty reads "DC 15", "45%", "opposed" or a descriptor name.
// Anything else becomes a custom difficulty the DM adjudicates.
func ParseDifficulty(s string) Difficulty {
	t := strings.TrimSpace(s)
	upper := strings.ToUpper(t)
	if rest, ok := strings.CutPrefix(upper, "DC"); ok {
		if v, err := strconv.Atoi(strings.TrimSpace(rest)); err == nil {
			return DC(v)
		}
	}
	if rest, ok := strings.CutSuffix(t, "%"); ok {
		if v, err := strconv.Atoi(strings.TrimSpace(rest)); err == nil {
			return Percentage(v)
		}
	}
	if strings.EqualFold(t, "opposed") {
		return Difficulty{Kind: DifficultyOpposed}
	}
	if d, ok := parseDescriptor(t); ok {
		return Difficulty{Kind: DifficultyDescriptor, Descriptor: d}
	}
	return Difficulty{Kind: DifficultyCustom, Text: t}
}

// String renders the difficulty for humans.
func (d Difficulty) String() string {
	switch d.Kind {
	case DifficultyDC:
		return fmt.Sprintf("DC %d", d.Value)
	case DifficultyPercentage:
		return fmt.Sprintf("%d%%", d.Value)
	case DifficultyDescriptor:
		return string(d.Descriptor)
	case DifficultyOpposed:
		return "Opposed"
	}
	return d.Text
}

// UnmarshalYAML accepts the same strings as ParseDifficulty.
func (d *Difficulty) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	*d = ParseDifficulty(s)
	return nil
}
