// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package challenge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/storyengine/pkg/errutil"
)

// seqRoller returns faces in order; a face f yields IntN result f-1.
type seqRoller struct {
	faces []int
	i     int
}

func (r *seqRoller) IntN(int) int {
	f := r.faces[r.i%len(r.faces)]
	r.i++
	return f - 1
}

func TestParseFormula(t *testing.T) {
	tests := []struct {
		in   string
		want Formula
	}{
		{"1d20", Formula{Count: 1, Sides: 20}},
		{"d20", Formula{Count: 1, Sides: 20}},
		{"2d6+1", Formula{Count: 2, Sides: 6, Modifier: 1}},
		{"3D8-2", Formula{Count: 3, Sides: 8, Modifier: -2}},
		{" 1d100 ", Formula{Count: 1, Sides: 100}},
		{"4d6 + 2", Formula{Count: 4, Sides: 6, Modifier: 2}},
		{"1d20+5-2", Formula{Count: 1, Sides: 20, Modifier: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormula(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFormula_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "20", "0d6", "xd6", "2d", "2d1", "2d+3", "2d6+x", "2d6+1d4", "101d6", "1d20+"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseFormula(in)
			errutil.AssertErrorCode(t, err, CodeInvalidDice)
		})
	}
}

func TestFormula_String(t *testing.T) {
	assert.Equal(t, "2d6+1", Formula{Count: 2, Sides: 6, Modifier: 1}.String())
	assert.Equal(t, "1d20-2", Formula{Count: 1, Sides: 20, Modifier: -2}.String())
	assert.Equal(t, "1d20", Formula{Count: 1, Sides: 20}.String())
}

func TestFormula_Roll(t *testing.T) {
	f := Formula{Count: 2, Sides: 6, Modifier: 1}
	res := f.Roll(&seqRoller{faces: []int{4, 5}})

	assert.Equal(t, []int{4, 5}, res.Rolls)
	assert.Equal(t, 9, res.DiceTotal)
	assert.Equal(t, 10, res.Total)
	assert.Equal(t, "2d6(4+5) + 1 = 10", res.Breakdown())
}

func TestFormula_Roll_StaysInRange(t *testing.T) {
	f := Formula{Count: 50, Sides: 6}
	res := f.Roll(RandomRoller{})
	for _, v := range res.Rolls {
		assert.GreaterOrEqual(t, v, 1)
		assert.LessOrEqual(t, v, 6)
	}
}

func TestRollResult_Breakdown(t *testing.T) {
	assert.Equal(t, "Manual: 14", ManualResult(14).Breakdown())

	neg := Formula{Count: 1, Sides: 20, Modifier: -3}.Roll(&seqRoller{faces: []int{10}})
	assert.Equal(t, "1d20(10) - 3 = 7", neg.Breakdown())
}

func TestDiceInput_Resolve(t *testing.T) {
	r := &seqRoller{faces: []int{17}}

	t.Run("formula", func(t *testing.T) {
		res, err := DiceInput{Kind: DiceFormula, Formula: "1d20"}.Resolve(r)
		require.NoError(t, err)
		assert.Equal(t, 17, res.Total)
		assert.False(t, res.Manual)
	})

	t.Run("manual", func(t *testing.T) {
		res, err := DiceInput{Kind: DiceManual, Value: 12}.Resolve(r)
		require.NoError(t, err)
		assert.Equal(t, 12, res.Total)
		assert.True(t, res.Manual)
	})

	t.Run("unknown kind counts as zero", func(t *testing.T) {
		res, err := DiceInput{Kind: "telepathy", Value: 99}.Resolve(r)
		require.NoError(t, err)
		assert.Equal(t, 0, res.Total)
		assert.True(t, res.Manual)
	})

	t.Run("bad formula", func(t *testing.T) {
		_, err := DiceInput{Kind: DiceFormula, Formula: "lots"}.Resolve(r)
		errutil.AssertErrorCode(t, err, CodeInvalidDice)
	})
}
