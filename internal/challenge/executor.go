// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package challenge

import (
	"context"
	"fmt"
	"sync"

	"github.com/holomush/storyengine/internal/worldstate"
)

// StatChange is one stat modified by a trigger.
type StatChange struct {
	CharacterID string
	Stat        string
	Delta       int
	Value       int
}

// ExecutionResult summarizes a trigger run. Failed triggers are reported as
// warnings and do not stop the others.
type ExecutionResult struct {
	StatChanges []StatChange
	Revealed    []string
	Warnings    []string
}

// TriggerExecutor applies outcome triggers to the world.
type TriggerExecutor interface {
	Execute(ctx context.Context, worldID, characterID string, triggers []Trigger) ExecutionResult
}

// Stats holds character stats per world.
type Stats struct {
	mu     sync.Mutex
	values map[string]int
}

// NewStats creates an empty stat table.
func NewStats() *Stats {
	return &Stats{values: make(map[string]int)}
}

func statKey(worldID, characterID, stat string) string {
	return worldID + "\x00" + characterID + "\x00" + stat
}

// Get returns a stat, zero when unset.
func (s *Stats) Get(worldID, characterID, stat string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[statKey(worldID, characterID, stat)]
}

// Add changes a stat by delta and returns the new value.
func (s *Stats) Add(worldID, characterID, stat string, delta int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := statKey(worldID, characterID, stat)
	s.values[k] += delta
	return s.values[k]
}

// StateExecutor applies triggers to the world state store, the catalog and
// a stat table, and records each effect in the conversation as a system line.
type StateExecutor struct {
	state   *worldstate.Store
	catalog Catalog
	stats   *Stats
}

// NewStateExecutor creates an executor. stats may be nil.
func NewStateExecutor(state *worldstate.Store, catalog Catalog, stats *Stats) *StateExecutor {
	if stats == nil {
		stats = NewStats()
	}
	return &StateExecutor{state: state, catalog: catalog, stats: stats}
}

// Execute implements TriggerExecutor.
func (e *StateExecutor) Execute(ctx context.Context, worldID, characterID string, triggers []Trigger) ExecutionResult {
	var res ExecutionResult
	for _, t := range triggers {
		if err := t.Validate(); err != nil {
			res.Warnings = append(res.Warnings, err.Error())
			continue
		}
		line, err := e.apply(ctx, worldID, characterID, t, &res)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", t, err))
			continue
		}
		e.state.AppendConversation(worldID, worldstate.ConversationEntry{
			SpeakerName: "System",
			Role:        worldstate.SpeakerSystem,
			Text:        line,
		})
	}
	return res
}

func (e *StateExecutor) apply(ctx context.Context, worldID, characterID string, t Trigger, res *ExecutionResult) (string, error) {
	switch t.Type {
	case TriggerRevealInfo:
		info := t.Info
		if t.Persist {
			info = "[JOURNAL] " + info
		}
		res.Revealed = append(res.Revealed, info)
		return "[REVELATION] " + t.Info, nil
	case TriggerEnableChallenge, TriggerDisableChallenge:
		disabled := t.Type == TriggerDisableChallenge
		if err := e.catalog.SetDisabled(ctx, worldID, t.ChallengeID, disabled); err != nil {
			return "", err
		}
		if disabled {
			return "[CHALLENGE DISABLED] " + t.ChallengeID, nil
		}
		return "[CHALLENGE ENABLED] " + t.ChallengeID, nil
	case TriggerModifyStat:
		value := e.stats.Add(worldID, characterID, t.Stat, t.Modifier)
		res.StatChanges = append(res.StatChanges, StatChange{
			CharacterID: characterID,
			Stat:        t.Stat,
			Delta:       t.Modifier,
			Value:       value,
		})
		return fmt.Sprintf("[STAT] %s %+d", t.Stat, t.Modifier), nil
	case TriggerScene:
		e.state.SetCurrentScene(worldID, t.SceneID)
		return "[SCENE TRANSITION] Moving to scene " + t.SceneID, nil
	case TriggerGiveItem:
		if t.ItemDescription != "" {
			return fmt.Sprintf("[ITEM RECEIVED] %s - %s", t.ItemName, t.ItemDescription), nil
		}
		return "[ITEM RECEIVED] " + t.ItemName, nil
	}
	return "[EVENT] " + t.Description, nil
}

var _ TriggerExecutor = (*StateExecutor)(nil)
