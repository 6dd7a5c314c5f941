// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package challenge resolves dice rolls against challenges and holds the
// outcome until the DM decides how it reaches the players.
package challenge

import "fmt"

// OutcomeType classifies a roll.
type OutcomeType string

// Outcome types.
const (
	CriticalSuccess OutcomeType = "critical_success"
	Success         OutcomeType = "success"
	Partial         OutcomeType = "partial"
	Failure         OutcomeType = "failure"
	CriticalFailure OutcomeType = "critical_failure"
)

// Outcome is the narrative result of one outcome type.
type Outcome struct {
	Description string    `json:"description" yaml:"description"`
	Triggers    []Trigger `json:"triggers,omitempty" yaml:"triggers"`
}

// Outcomes lists a challenge's results. Success and Failure are required;
// the others fall back to them.
type Outcomes struct {
	Success         Outcome  `yaml:"success"`
	Failure         Outcome  `yaml:"failure"`
	Partial         *Outcome `yaml:"partial"`
	CriticalSuccess *Outcome `yaml:"critical_success"`
	CriticalFailure *Outcome `yaml:"critical_failure"`
}

// For returns the outcome to use for t.
func (o Outcomes) For(t OutcomeType) Outcome {
	switch t {
	case CriticalSuccess:
		if o.CriticalSuccess != nil {
			return *o.CriticalSuccess
		}
		return o.Success
	case Partial:
		if o.Partial != nil {
			return *o.Partial
		}
		return o.Success
	case CriticalFailure:
		if o.CriticalFailure != nil {
			return *o.CriticalFailure
		}
		return o.Failure
	case Failure:
		return o.Failure
	}
	return o.Success
}

// Challenge is a check a player can roll against.
type Challenge struct {
	ID          string     `yaml:"id"`
	WorldID     string     `yaml:"-"`
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Difficulty  Difficulty `yaml:"difficulty"`
	CheckStat   string     `yaml:"check_stat"`
	Outcomes    Outcomes   `yaml:"outcomes"`
	Disabled    bool       `yaml:"disabled"`
}

// Classify reads a roll against the challenge. roll is the dice result and
// modifier the character's bonus. Opposed and custom difficulties are left
// to the DM and classify as success unless the rule system's script reads
// them (see ClassifyScript).
func Classify(ch Challenge, rs RuleSystem, roll, modifier int) OutcomeType {
	o := ch.Outcomes
	switch ch.Difficulty.Kind {
	case DifficultyDC:
		switch {
		case roll == 20 && o.CriticalSuccess != nil:
			return CriticalSuccess
		case roll == 1 && o.CriticalFailure != nil:
			return CriticalFailure
		case roll+modifier >= ch.Difficulty.Value:
			return Success
		}
		return Failure
	case DifficultyPercentage:
		switch {
		case roll == 1 && o.CriticalSuccess != nil:
			return CriticalSuccess
		case roll == 100 && o.CriticalFailure != nil:
			return CriticalFailure
		case roll <= ch.Difficulty.Value:
			return Success
		}
		return Failure
	case DifficultyDescriptor:
		if rs.Narrative.Style == StyleLadder {
			return classifyLadder(rs.Narrative.Ladder, ch.Difficulty.Descriptor, roll+modifier)
		}
		return classifyPbtA(o, rs.Narrative.Thresholds, roll+modifier)
	}
	return Success
}

func classifyPbtA(o Outcomes, th Thresholds, total int) OutcomeType {
	switch {
	case th.CriticalSuccess != 0 && total >= th.CriticalSuccess && o.CriticalSuccess != nil:
		return CriticalSuccess
	case th.CriticalFailure != 0 && total <= th.CriticalFailure && o.CriticalFailure != nil:
		return CriticalFailure
	case total >= th.FullSuccess:
		return Success
	case total >= th.PartialSuccess:
		return Partial
	}
	return Failure
}

func classifyLadder(l Ladder, d Descriptor, total int) OutcomeType {
	shifts := total - l.Target(d)
	switch {
	case shifts >= l.StyleShifts:
		return CriticalSuccess
	case shifts > 0:
		return Success
	case shifts == 0:
		return Partial
	}
	return Failure
}

// TriggerType names an outcome side effect.
type TriggerType string

// Trigger types.
const (
	TriggerRevealInfo       TriggerType = "reveal_information"
	TriggerEnableChallenge  TriggerType = "enable_challenge"
	TriggerDisableChallenge TriggerType = "disable_challenge"
	TriggerModifyStat       TriggerType = "modify_stat"
	TriggerScene            TriggerType = "trigger_scene"
	TriggerGiveItem         TriggerType = "give_item"
	TriggerCustom           TriggerType = "custom"
)

// Trigger is a side effect attached to an outcome. Only the fields that
// belong to Type are set.
type Trigger struct {
	Type            TriggerType `json:"type" yaml:"type"`
	Info            string      `json:"info,omitempty" yaml:"info"`
	Persist         bool        `json:"persist,omitempty" yaml:"persist"`
	ChallengeID     string      `json:"challenge_id,omitempty" yaml:"challenge_id"`
	Stat            string      `json:"stat,omitempty" yaml:"stat"`
	Modifier        int         `json:"modifier,omitempty" yaml:"modifier"`
	SceneID         string      `json:"scene_id,omitempty" yaml:"scene_id"`
	ItemName        string      `json:"item_name,omitempty" yaml:"item_name"`
	ItemDescription string      `json:"item_description,omitempty" yaml:"item_description"`
	Description     string      `json:"description,omitempty" yaml:"description"`
}

// Validate checks the fields Type needs.
func (t Trigger) Validate() error {
	switch t.Type {
	case TriggerRevealInfo:
		if t.Info == "" {
			return ErrValidation("reveal trigger needs info")
		}
	case TriggerEnableChallenge, TriggerDisableChallenge:
		if t.ChallengeID == "" {
			return ErrValidation("%s trigger needs a challenge id", t.Type)
		}
	case TriggerModifyStat:
		if t.Stat == "" {
			return ErrValidation("stat trigger needs a stat name")
		}
	case TriggerScene:
		if t.SceneID == "" {
			return ErrValidation("scene trigger needs a scene id")
		}
	case TriggerGiveItem:
		if t.ItemName == "" {
			return ErrValidation("item trigger needs an item name")
		}
	case TriggerCustom:
		if t.Description == "" {
			return ErrValidation("custom trigger needs a description")
		}
	default:
		return ErrValidation("unknown trigger type %q", t.Type)
	}
	return nil
}

// String summarizes the trigger for the DM.
func (t Trigger) String() string {
	switch t.Type {
	case TriggerRevealInfo:
		if t.Persist {
			return "Reveal (persistent): " + t.Info
		}
		return "Reveal: " + t.Info
	case TriggerEnableChallenge:
		return "Enable challenge: " + t.ChallengeID
	case TriggerDisableChallenge:
		return "Disable challenge: " + t.ChallengeID
	case TriggerModifyStat:
		return fmt.Sprintf("Modify %s: %+d", t.Stat, t.Modifier)
	case TriggerScene:
		return "Trigger scene: " + t.SceneID
	case TriggerGiveItem:
		if t.ItemDescription != "" {
			return fmt.Sprintf("Give item: %s (%s)", t.ItemName, t.ItemDescription)
		}
		return "Give item: " + t.ItemName
	}
	return "Custom: " + t.Description
}
