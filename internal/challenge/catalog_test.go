// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package challenge

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/storyengine/pkg/errutil"
)

const sampleCatalog = `
rule_systems:
  blades:
    type: narrative
    narrative:
      style: pbta
      thresholds:
        full_success: 6
        partial_success: 4
worlds:
  world-1:
    rule_system: blades
    challenges:
      - id: vault
        name: Crack the vault
        difficulty: risky
        check_stat: finesse
        outcomes:
          success:
            description: The tumblers fall into place.
            triggers:
              - type: reveal_information
                info: The ledger names the magistrate.
          failure:
            description: An alarm bell rings.
          partial:
            description: It opens, but someone heard.
  world-2:
    challenges:
      - id: climb
        name: Climb the wall
        difficulty: DC 12
        disabled: true
        outcomes:
          success:
            description: You reach the top.
          failure:
            description: You slide back down.
`

func TestLoadCatalog(t *testing.T) {
	ctx := context.Background()
	c, err := LoadCatalog(strings.NewReader(sampleCatalog))
	require.NoError(t, err)

	vault, err := c.Challenge(ctx, "world-1", "vault")
	require.NoError(t, err)
	assert.Equal(t, "world-1", vault.WorldID)
	assert.Equal(t, Risky, vault.Difficulty.Descriptor)
	assert.Equal(t, "finesse", vault.CheckStat)
	require.NotNil(t, vault.Outcomes.Partial)
	require.Len(t, vault.Outcomes.Success.Triggers, 1)
	assert.Equal(t, TriggerRevealInfo, vault.Outcomes.Success.Triggers[0].Type)
	assert.False(t, vault.Disabled)

	rs, err := c.RuleSystem(ctx, "world-1")
	require.NoError(t, err)
	assert.Equal(t, "blades", rs.Name)
	assert.Equal(t, SystemNarrative, rs.Type)
	assert.Equal(t, "2d6", rs.DefaultDice)
	assert.Equal(t, 6, rs.Narrative.Thresholds.FullSuccess)
	assert.Equal(t, "Terrible", rs.Narrative.Ladder.Rungs[0].Name)

	climb, err := c.Challenge(ctx, "world-2", "climb")
	require.NoError(t, err)
	assert.True(t, climb.Disabled)
	assert.Equal(t, DC(12), climb.Difficulty)

	rs2, err := c.RuleSystem(ctx, "world-2")
	require.NoError(t, err)
	assert.Equal(t, GenericD20().Name, rs2.Name)
}

func TestLoadCatalog_Empty(t *testing.T) {
	c, err := LoadCatalog(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, c.Challenges("world-1"))
}

func TestLoadCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		code string
	}{
		{
			name: "unknown field",
			doc:  "worlds:\n  w:\n    challenges:\n      - id: a\n        name: A\n        colour: red\n",
			code: CodeCatalogInvalid,
		},
		{
			name: "unknown rule system",
			doc:  "worlds:\n  w:\n    rule_system: gurps\n",
			code: CodeCatalogInvalid,
		},
		{
			name: "missing name",
			doc:  "worlds:\n  w:\n    challenges:\n      - id: a\n",
			code: CodeValidation,
		},
		{
			name: "bad trigger",
			doc: "worlds:\n  w:\n    challenges:\n      - id: a\n        name: A\n" +
				"        outcomes:\n          success:\n            triggers:\n              - type: give_item\n",
			code: CodeValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCatalog(strings.NewReader(tt.doc))
			errutil.AssertErrorCode(t, err, tt.code)
		})
	}
}

func TestMemoryCatalog_SetDisabled(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCatalog()
	c.Put(Challenge{ID: "vault", WorldID: "w", Name: "Vault"})

	require.NoError(t, c.SetDisabled(ctx, "w", "vault", true))
	ch, err := c.Challenge(ctx, "w", "vault")
	require.NoError(t, err)
	assert.True(t, ch.Disabled)

	err = c.SetDisabled(ctx, "w", "missing", true)
	errutil.AssertErrorCode(t, err, CodeNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCatalog_Challenges_SortedByID(t *testing.T) {
	c := NewMemoryCatalog()
	c.Put(Challenge{ID: "b", WorldID: "w", Name: "B"})
	c.Put(Challenge{ID: "a", WorldID: "w", Name: "A"})

	got := c.Challenges("w")
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}
