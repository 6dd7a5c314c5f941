// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package world

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/storyengine/internal/auth"
	"github.com/holomush/storyengine/internal/movement"
	"github.com/holomush/storyengine/internal/staging"
	"github.com/holomush/storyengine/pkg/errutil"
)

const world = "saltmarsh"

func loadFixture(t *testing.T) *Map {
	t.Helper()
	f, err := os.Open("testdata/saltmarsh.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	m, err := LoadMap(f)
	require.NoError(t, err)
	return m
}

func TestLoadMap(t *testing.T) {
	m := loadFixture(t)
	ctx := context.Background()

	assert.Equal(t, []string{world}, m.Worlds())
	info, err := m.World(world)
	require.NoError(t, err)
	assert.Equal(t, "Saltmarsh", info.Name)

	loc, err := m.Location(ctx, world, "gilded-eel")
	require.NoError(t, err)
	assert.Equal(t, "taproom", loc.DefaultRegionID)

	regions, err := m.Regions(ctx, world, "gilded-eel")
	require.NoError(t, err)
	require.Len(t, regions, 3)
	assert.Equal(t, "taproom", regions[0].ID)
	assert.Equal(t, "kitchen", regions[2].ID)

	pc, err := m.PlayerCharacter(ctx, world, "pc-ana")
	require.NoError(t, err)
	assert.Equal(t, "user-1", pc.UserID)
	assert.Equal(t, "taproom", pc.RegionID)
}

func TestLoadMap_BidirectionalConnections(t *testing.T) {
	m := loadFixture(t)
	ctx := context.Background()

	back, err := m.Connections(ctx, world, "kitchen")
	require.NoError(t, err)
	require.Len(t, back, 1)
	assert.Equal(t, "taproom", back[0].ToRegionID)

	fromCellar, err := m.Connections(ctx, world, "cellar")
	require.NoError(t, err)
	assert.Empty(t, fromCellar)
}

func TestLoadMap_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "unknown field", yaml: "worlds:\n  w:\n    colour: blue\n"},
		{name: "unknown npc", yaml: `worlds:
  w:
    locations:
      - id: l
        name: L
        regions:
          - id: r
            name: R
            npcs:
              - npc: ghost
                relation: home
`},
		{name: "bad relation", yaml: `worlds:
  w:
    npcs:
      - id: n
        name: N
    locations:
      - id: l
        name: L
        regions:
          - id: r
            name: R
            npcs:
              - npc: n
                relation: haunts
`},
		{name: "default region elsewhere", yaml: `worlds:
  w:
    locations:
      - id: a
        name: A
        regions:
          - id: ra
            name: RA
      - id: b
        name: B
        default_region: ra
`},
		{name: "self connection", yaml: `worlds:
  w:
    locations:
      - id: l
        name: L
        regions:
          - id: r
            name: R
    connections:
      - from: r
        to: r
`},
		{name: "character in wrong region", yaml: `worlds:
  w:
    locations:
      - id: a
        name: A
        regions:
          - id: ra
            name: RA
      - id: b
        name: B
    characters:
      - id: pc
        name: PC
        location: b
        region: ra
`},
		{name: "nameless location", yaml: "worlds:\n  w:\n    locations:\n      - id: l\n"},
		{name: "npc without id", yaml: "worlds:\n  w:\n    npcs:\n      - name: Marta\n"},
		{name: "region id with spaces", yaml: "worlds:\n  w:\n    locations:\n      - id: l\n        name: L\n        regions:\n          - id: back room\n            name: Back Room\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadMap(strings.NewReader(tt.yaml))
			errutil.AssertErrorCode(t, err, CodeMapInvalid)
		})
	}
}

func TestLoadMap_Empty(t *testing.T) {
	m, err := LoadMap(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, m.Worlds())
}

func TestMap_NotFound(t *testing.T) {
	m := loadFixture(t)
	ctx := context.Background()

	_, err := m.PlayerCharacter(ctx, world, "pc-ghost")
	assert.ErrorIs(t, err, movement.ErrNotFound)
	_, err = m.Region(ctx, "atlantis", "taproom")
	assert.ErrorIs(t, err, movement.ErrNotFound)
	_, err = m.Regions(ctx, world, "moon")
	assert.ErrorIs(t, err, movement.ErrNotFound)

	_, err = m.NPC(world, "npc-ghost")
	errutil.AssertErrorCode(t, err, CodeNPCNotFound)
	_, err = m.World("atlantis")
	errutil.AssertErrorCode(t, err, CodeWorldNotFound)
}

func TestMap_Candidates(t *testing.T) {
	m := loadFixture(t)

	got, err := m.CandidatesForRegion(context.Background(), world, "taproom")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Marta", got[0].Name)
	assert.Equal(t, staging.RelationWorksAt, got[0].Relation)
	assert.Equal(t, staging.ShiftAlways, got[0].Shift)
	assert.Equal(t, staging.FrequencyOften, got[1].Frequency)

	none, err := m.CandidatesForRegion(context.Background(), world, "cellar")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMap_Mutations(t *testing.T) {
	m := loadFixture(t)
	ctx := context.Background()

	require.NoError(t, m.UpdatePosition(ctx, world, "pc-ana", "docks", "pier"))
	pc, err := m.PlayerCharacter(ctx, world, "pc-ana")
	require.NoError(t, err)
	assert.Equal(t, "pier", pc.RegionID)

	require.NoError(t, m.SetConversationLock(world, "pc-ana", true))
	pc, err = m.PlayerCharacter(ctx, world, "pc-ana")
	require.NoError(t, err)
	assert.True(t, pc.InConversation)

	require.NoError(t, m.SetConnectionLock(world, "taproom", "cellar", false, ""))
	conns, err := m.Connections(ctx, world, "taproom")
	require.NoError(t, err)
	for _, c := range conns {
		assert.False(t, c.Locked, c.ToRegionID)
	}
	assert.True(t, errors.Is(m.SetConnectionLock(world, "taproom", "pier", true, ""), movement.ErrNotFound))

	require.NoError(t, m.SetEventActive(world, "ev-heist", true))
	require.Len(t, m.ActiveEvents(world), 2)
	assert.ErrorIs(t, m.SetEventActive(world, "ev-none", true), movement.ErrNotFound)
}

func TestMap_DrivesMovement(t *testing.T) {
	m := loadFixture(t)
	svc := movement.NewService(m, nil, nil, nil, nil)

	res, err := svc.MoveToRegion(context.Background(), movement.MoveRequest{
		WorldID: world, UserID: "user-1", PCID: "pc-ana", TargetRegionID: "cellar",
	})
	require.NoError(t, err)
	assert.Equal(t, movement.ResultBlocked, res.Kind)
	assert.Equal(t, "The trapdoor is bolted.", res.Reason)
}

func TestLoadMap_DMKeyHash(t *testing.T) {
	hash, err := auth.HashKey("lantern")
	require.NoError(t, err)

	m, err := LoadMap(strings.NewReader("worlds:\n  w:\n    dm_key_hash: \"" + hash + "\"\n"))
	require.NoError(t, err)
	info, err := m.World("w")
	require.NoError(t, err)
	assert.Equal(t, hash, info.DMKeyHash)

	_, err = LoadMap(strings.NewReader("worlds:\n  w:\n    dm_key_hash: plaintext\n"))
	errutil.AssertErrorCode(t, err, auth.CodeInvalidHash)
}
