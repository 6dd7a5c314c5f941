// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package world

import (
	"context"

	"github.com/holomush/storyengine/internal/challenge"
	"github.com/holomush/storyengine/internal/pipeline"
	"github.com/holomush/storyengine/internal/worldstate"
)

// ContextProvider fills NPC prompts from the map, the live world state and
// the challenge catalog.
type ContextProvider struct {
	m       *Map
	state   *worldstate.Store
	catalog *challenge.MemoryCatalog
}

var _ pipeline.ContextProvider = (*ContextProvider)(nil)

// NewContextProvider creates a provider. catalog may be nil.
func NewContextProvider(m *Map, state *worldstate.Store, catalog *challenge.MemoryCatalog) *ContextProvider {
	return &ContextProvider{m: m, state: state, catalog: catalog}
}

// PromptContext implements pipeline.ContextProvider. The pipeline fills in
// the acting character, game time, notes and history.
func (p *ContextProvider) PromptContext(ctx context.Context, action pipeline.PlayerAction) (pipeline.PromptContext, error) {
	npc, err := p.m.NPC(action.WorldID, action.TargetID)
	if err != nil {
		return pipeline.PromptContext{}, err
	}
	pc := pipeline.PromptContext{
		NPCID:          npc.ID,
		NPCName:        npc.Name,
		NPCDescription: npc.Description,
	}

	if sceneID := p.state.CurrentScene(action.WorldID); sceneID != "" {
		pc.SceneID = sceneID
		if s, ok := p.m.Scene(action.WorldID, sceneID); ok {
			pc.SceneName = s.Name
			pc.SceneDescription = s.Description
		}
	}

	if ch, err := p.m.PlayerCharacter(ctx, action.WorldID, action.CharacterID); err == nil && ch.LocationID != "" {
		if loc, err := p.m.Location(ctx, action.WorldID, ch.LocationID); err == nil {
			pc.LocationName = loc.Name
		}
	}

	if p.catalog != nil {
		for _, c := range p.catalog.Challenges(action.WorldID) {
			if c.Disabled {
				continue
			}
			pc.Challenges = append(pc.Challenges, pipeline.ChallengeHint{
				ID:          c.ID,
				Name:        c.Name,
				Description: c.Description,
				Difficulty:  c.Difficulty.String(),
			})
		}
	}
	for _, e := range p.m.ActiveEvents(action.WorldID) {
		pc.Events = append(pc.Events, pipeline.EventHint{ID: e.ID, Name: e.Name, Description: e.Description})
	}
	return pc, nil
}
