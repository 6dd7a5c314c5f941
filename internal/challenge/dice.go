// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package challenge

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/samber/oops"
)

// Roller produces uniform integers in [0, n).
type Roller interface {
	IntN(n int) int
}

// RandomRoller rolls with the process-wide random source.
type RandomRoller struct{}

// IntN implements Roller.
func (RandomRoller) IntN(n int) int { return rand.IntN(n) }

// Formula is a dice expression such as 2d6+1.
type Formula struct {
	Count    int `json:"count" yaml:"count"`
	Sides    int `json:"sides" yaml:"sides"`
	Modifier int `json:"modifier" yaml:"modifier"`
}

// MaxDiceCount caps how many dice one formula may roll.
const MaxDiceCount = 100

var formulaLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Int", Pattern: `\d+`},
	{Name: "D", Pattern: `[dD]`},
	{Name: "Sign", Pattern: `[+-]`},
	{Name: "whitespace", Pattern: `\s+`},
})

// formulaExpr matches: [count] "d" sides { ("+" | "-") int }
type formulaExpr struct {
	Count     *int           `parser:"@Int?"`
	Sides     int            `parser:"D @Int"`
	Modifiers []*formulaTerm `parser:"@@*"`
}

type formulaTerm struct {
	Sign  string `parser:"@Sign"`
	Value int    `parser:"@Int"`
}

var formulaParser = participle.MustBuild[formulaExpr](participle.Lexer(formulaLexer))

// ParseFormula parses NdS, dS and NdS followed by any number of +M or -M
// terms, case-insensitively. Terms are summed into the modifier.
func ParseFormula(s string) (Formula, error) {
	if strings.TrimSpace(s) == "" {
		return Formula{}, invalidDice(s, "empty formula")
	}
	expr, err := formulaParser.ParseString("", s)
	if err != nil {
		return Formula{}, oops.Code(CodeInvalidDice).With("formula", s).Wrapf(err, "invalid dice formula")
	}

	f := Formula{Count: 1, Sides: expr.Sides}
	if expr.Count != nil {
		f.Count = *expr.Count
	}
	for _, t := range expr.Modifiers {
		if t.Sign == "-" {
			f.Modifier -= t.Value
		} else {
			f.Modifier += t.Value
		}
	}

	switch {
	case f.Count < 1:
		return Formula{}, invalidDice(s, "dice count must be a positive number")
	case f.Count > MaxDiceCount:
		return Formula{}, invalidDice(s, fmt.Sprintf("at most %d dice may be rolled", MaxDiceCount))
	case f.Sides < 2:
		return Formula{}, invalidDice(s, "die size must be at least 2")
	}
	return f, nil
}

func invalidDice(formula, reason string) error {
	return oops.Code(CodeInvalidDice).With("formula", formula).Errorf("invalid dice formula: %s", reason)
}

// String renders the formula in NdS+M form.
func (f Formula) String() string {
	switch {
	case f.Modifier > 0:
		return fmt.Sprintf("%dd%d+%d", f.Count, f.Sides, f.Modifier)
	case f.Modifier < 0:
		return fmt.Sprintf("%dd%d%d", f.Count, f.Sides, f.Modifier)
	}
	return fmt.Sprintf("%dd%d", f.Count, f.Sides)
}

// Roll rolls every die and adds the formula's modifier.
func (f Formula) Roll(r Roller) RollResult {
	res := RollResult{Formula: f, Rolls: make([]int, f.Count), Modifier: f.Modifier}
	for i := range f.Count {
		res.Rolls[i] = r.IntN(f.Sides) + 1
		res.DiceTotal += res.Rolls[i]
	}
	res.Total = res.DiceTotal + f.Modifier
	return res
}

// RollResult is a resolved dice input. Manual results carry no formula.
type RollResult struct {
	Formula   Formula `json:"formula"`
	Rolls     []int   `json:"rolls,omitempty"`
	DiceTotal int     `json:"dice_total"`
	Modifier  int     `json:"modifier"`
	Total     int     `json:"total"`
	Manual    bool    `json:"manual"`
}

// ManualResult records a total the player rolled at the table.
func ManualResult(total int) RollResult {
	return RollResult{DiceTotal: total, Total: total, Manual: true}
}

// Breakdown describes how the total was reached.
func (r RollResult) Breakdown() string {
	if r.Manual {
		return fmt.Sprintf("Manual: %d", r.Total)
	}
	parts := make([]string, len(r.Rolls))
	for i, v := range r.Rolls {
		parts[i] = strconv.Itoa(v)
	}
	dice := fmt.Sprintf("%dd%d(%s)", r.Formula.Count, r.Formula.Sides, strings.Join(parts, "+"))
	switch {
	case r.Modifier > 0:
		return fmt.Sprintf("%s + %d = %d", dice, r.Modifier, r.Total)
	case r.Modifier < 0:
		return fmt.Sprintf("%s - %d = %d", dice, -r.Modifier, r.Total)
	}
	return fmt.Sprintf("%s = %d", dice, r.Total)
}

// DiceKind selects how a DiceInput is read.
type DiceKind string

// Dice input kinds.
const (
	DiceFormula DiceKind = "formula"
	DiceManual  DiceKind = "manual"
)

// DiceInput is what a player submits for a roll.
type DiceInput struct {
	Kind    DiceKind `json:"kind"`
	Formula string   `json:"formula,omitempty"`
	Value   int      `json:"value,omitempty"`
}

// Resolve produces the roll result. Unknown kinds count as a manual roll
// of zero.
func (d DiceInput) Resolve(r Roller) (RollResult, error) {
	switch d.Kind {
	case DiceFormula:
		f, err := ParseFormula(d.Formula)
		if err != nil {
			return RollResult{}, err
		}
		return f.Roll(r), nil
	case DiceManual:
		return ManualResult(d.Value), nil
	default:
		return ManualResult(0), nil
	}
}
