// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package challenge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"

	"github.com/holomush/storyengine/pkg/errutil"
)

func TestParseDifficulty(t *testing.T) {
	tests := []struct {
		in   string
		want Difficulty
	}{
		{"DC 15", DC(15)},
		{"dc12", DC(12)},
		{"45%", Percentage(45)},
		{"Opposed", Difficulty{Kind: DifficultyOpposed}},
		{"Very Hard", Difficulty{Kind: DifficultyDescriptor, Descriptor: VeryHard}},
		{"risky", Difficulty{Kind: DifficultyDescriptor, Descriptor: Risky}},
		{"beat the duke at cards", Difficulty{Kind: DifficultyCustom, Text: "beat the duke at cards"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseDifficulty(tt.in))
		})
	}
}

func TestDifficulty_String(t *testing.T) {
	assert.Equal(t, "DC 15", DC(15).String())
	assert.Equal(t, "45%", Percentage(45).String())
	assert.Equal(t, "Opposed", Difficulty{Kind: DifficultyOpposed}.String())
	assert.Equal(t, "hard", ParseDifficulty("hard").String())
}

func TestDifficulty_UnmarshalYAML(t *testing.T) {
	var v struct {
		D Difficulty `yaml:"d"`
	}
	assert.NoError(t, yaml.Unmarshal([]byte(`d: "DC 18"`), &v))
	assert.Equal(t, DC(18), v.D)
}

func TestOutcomes_For(t *testing.T) {
	o := Outcomes{
		Success: Outcome{Description: "You pick the lock."},
		Failure: Outcome{Description: "The pick snaps."},
	}
	assert.Equal(t, "You pick the lock.", o.For(CriticalSuccess).Description)
	assert.Equal(t, "You pick the lock.", o.For(Partial).Description)
	assert.Equal(t, "The pick snaps.", o.For(CriticalFailure).Description)

	o.Partial = &Outcome{Description: "It opens, loudly."}
	assert.Equal(t, "It opens, loudly.", o.For(Partial).Description)
}

func TestClassify_DC(t *testing.T) {
	plain := Challenge{Difficulty: DC(15)}
	withCrits := Challenge{
		Difficulty: DC(15),
		Outcomes: Outcomes{
			CriticalSuccess: &Outcome{Description: "crit"},
			CriticalFailure: &Outcome{Description: "fumble"},
		},
	}
	rs := GenericD20()

	tests := []struct {
		name     string
		ch       Challenge
		roll     int
		modifier int
		want     OutcomeType
	}{
		{"meets the DC", plain, 15, 0, Success},
		{"modifier carries it", plain, 12, 3, Success},
		{"misses", plain, 14, 0, Failure},
		{"natural 20 without crit outcome", plain, 20, 0, Success},
		{"natural 1 without crit outcome", plain, 1, 20, Success},
		{"natural 20", withCrits, 20, -10, CriticalSuccess},
		{"natural 1", withCrits, 1, 20, CriticalFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.ch, rs, tt.roll, tt.modifier))
		})
	}
}

func TestClassify_Percentage(t *testing.T) {
	ch := Challenge{
		Difficulty: Percentage(40),
		Outcomes:   Outcomes{CriticalFailure: &Outcome{Description: "disaster"}},
	}
	rs := GenericD20()
	assert.Equal(t, Success, Classify(ch, rs, 40, 0))
	assert.Equal(t, Failure, Classify(ch, rs, 41, 0))
	assert.Equal(t, Success, Classify(ch, rs, 1, 0))
	assert.Equal(t, CriticalFailure, Classify(ch, rs, 100, 0))
}

func TestClassify_PbtA(t *testing.T) {
	ch := Challenge{Difficulty: ParseDifficulty("risky")}
	rs := GenericD20()
	assert.Equal(t, Success, Classify(ch, rs, 9, 1))
	assert.Equal(t, Partial, Classify(ch, rs, 7, 0))
	assert.Equal(t, Failure, Classify(ch, rs, 6, 0))
}

func TestClassify_Ladder(t *testing.T) {
	rs := GenericD20()
	rs.Narrative.Style = StyleLadder
	ch := Challenge{Difficulty: ParseDifficulty("good")}
	// "good" is not a descriptor, so it is custom and left to the DM.
	assert.Equal(t, Success, Classify(ch, rs, -4, 0))

	ch = Challenge{Difficulty: ParseDifficulty("challenging")} // Good (+3)
	assert.Equal(t, Failure, Classify(ch, rs, 2, 0))
	assert.Equal(t, Partial, Classify(ch, rs, 3, 0))
	assert.Equal(t, Success, Classify(ch, rs, 4, 1))
	assert.Equal(t, CriticalSuccess, Classify(ch, rs, 5, 1))
}

func TestClassify_OpposedIsLeftToTheDM(t *testing.T) {
	ch := Challenge{Difficulty: Difficulty{Kind: DifficultyOpposed}}
	assert.Equal(t, Success, Classify(ch, GenericD20(), 1, 0))
}

func TestTrigger_Validate(t *testing.T) {
	valid := []Trigger{
		{Type: TriggerRevealInfo, Info: "The vault code is 7-3-1"},
		{Type: TriggerEnableChallenge, ChallengeID: "vault"},
		{Type: TriggerModifyStat, Stat: "stress", Modifier: 1},
		{Type: TriggerScene, SceneID: "chase"},
		{Type: TriggerGiveItem, ItemName: "Brass key"},
		{Type: TriggerCustom, Description: "The bells ring"},
	}
	for _, tr := range valid {
		assert.NoError(t, tr.Validate(), tr.String())
	}

	invalid := []Trigger{
		{Type: TriggerRevealInfo},
		{Type: TriggerDisableChallenge},
		{Type: TriggerModifyStat},
		{Type: TriggerScene},
		{Type: TriggerGiveItem},
		{Type: TriggerCustom},
		{Type: "summon_dragon"},
	}
	for _, tr := range invalid {
		errutil.AssertErrorCode(t, tr.Validate(), CodeValidation)
	}
}

func TestTrigger_String(t *testing.T) {
	assert.Equal(t, "Modify stress: +1", Trigger{Type: TriggerModifyStat, Stat: "stress", Modifier: 1}.String())
	assert.Equal(t, "Reveal (persistent): a secret", Trigger{Type: TriggerRevealInfo, Info: "a secret", Persist: true}.String())
	assert.Equal(t, "Give item: Key (brass)", Trigger{Type: TriggerGiveItem, ItemName: "Key", ItemDescription: "brass"}.String())
}
