// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package pipeline

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/holomush/storyengine/internal/challenge"
	"github.com/holomush/storyengine/internal/oracle"
)

// Tool names the model may call while answering as an NPC.
const (
	ToolGiveItem     = "give_item"
	ToolRevealInfo   = "reveal_info"
	ToolTriggerEvent = "trigger_event"
	ToolUpdateStat   = "update_character_stat"
)

// GiveItemArgs are the arguments of give_item.
type GiveItemArgs struct {
	ItemName    string `json:"item_name" jsonschema:"description=Name of the item handed over"`
	Description string `json:"description" jsonschema:"description=What the item looks like"`
}

// RevealInfoArgs are the arguments of reveal_info.
type RevealInfoArgs struct {
	InfoType   string `json:"info_type" jsonschema:"enum=lore,enum=quest,enum=character,enum=location"`
	Content    string `json:"content" jsonschema:"description=The information revealed"`
	Importance string `json:"importance,omitempty" jsonschema:"enum=minor,enum=major,enum=critical"`
	Persist    bool   `json:"persist,omitempty" jsonschema:"description=Record in the player's journal"`
}

// TriggerEventArgs are the arguments of trigger_event.
type TriggerEventArgs struct {
	EventID string `json:"event_id"`
	Reason  string `json:"reason"`
}

// UpdateStatArgs are the arguments of update_character_stat.
type UpdateStatArgs struct {
	Stat  string `json:"stat"`
	Delta int    `json:"delta"`
}

var (
	toolsOnce sync.Once
	toolDefs  []oracle.ToolDefinition
)

// GameTools lists the tools offered with every NPC prompt. Parameter
// schemas are reflected from the argument structs.
func GameTools() []oracle.ToolDefinition {
	toolsOnce.Do(func() {
		toolDefs = []oracle.ToolDefinition{
			{Name: ToolGiveItem, Description: "Give an item to the player character", Parameters: schemaOf(&GiveItemArgs{})},
			{Name: ToolRevealInfo, Description: "Reveal a piece of information to the player", Parameters: schemaOf(&RevealInfoArgs{})},
			{Name: ToolTriggerEvent, Description: "Propose firing a narrative event", Parameters: schemaOf(&TriggerEventArgs{})},
			{Name: ToolUpdateStat, Description: "Change one of the player character's stats", Parameters: schemaOf(&UpdateStatArgs{})},
		}
	})
	out := make([]oracle.ToolDefinition, len(toolDefs))
	copy(out, toolDefs)
	return out
}

func schemaOf(v any) json.RawMessage {
	r := jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	s := r.Reflect(v)
	s.Version = ""
	s.ID = ""
	raw, err := json.Marshal(s)
	if err != nil {
		panic(err) // static structs always marshal
	}
	return raw
}

// ToolTrigger converts an approved tool into the trigger that applies it.
// Tools without a trigger form become custom events.
func ToolTrigger(t ProposedTool) (challenge.Trigger, error) {
	switch t.Name {
	case ToolGiveItem:
		var a GiveItemArgs
		if err := json.Unmarshal(t.Arguments, &a); err != nil {
			return challenge.Trigger{}, errInvalid("give_item arguments: %v", err)
		}
		return challenge.Trigger{Type: challenge.TriggerGiveItem, ItemName: a.ItemName, ItemDescription: a.Description}, nil
	case ToolRevealInfo:
		var a RevealInfoArgs
		if err := json.Unmarshal(t.Arguments, &a); err != nil {
			return challenge.Trigger{}, errInvalid("reveal_info arguments: %v", err)
		}
		return challenge.Trigger{Type: challenge.TriggerRevealInfo, Info: a.Content, Persist: a.Persist}, nil
	case ToolUpdateStat:
		var a UpdateStatArgs
		if err := json.Unmarshal(t.Arguments, &a); err != nil {
			return challenge.Trigger{}, errInvalid("update_character_stat arguments: %v", err)
		}
		return challenge.Trigger{Type: challenge.TriggerModifyStat, Stat: a.Stat, Modifier: a.Delta}, nil
	}
	desc := t.Description
	if desc == "" {
		desc = t.Name
	}
	return challenge.Trigger{Type: challenge.TriggerCustom, Description: desc}, nil
}

func proposedTools(calls []oracle.ToolCall) []ProposedTool {
	out := make([]ProposedTool, 0, len(calls))
	for i, c := range calls {
		id := c.ID
		if id == "" {
			id = fmt.Sprintf("tool-%d", i+1)
		}
		out = append(out, ProposedTool{
			ID:          id,
			Name:        c.Name,
			Description: describeTool(c),
			Arguments:   c.Arguments,
		})
	}
	return out
}

func describeTool(c oracle.ToolCall) string {
	switch c.Name {
	case ToolGiveItem:
		var a GiveItemArgs
		if json.Unmarshal(c.Arguments, &a) == nil {
			return "Give " + a.ItemName
		}
	case ToolRevealInfo:
		var a RevealInfoArgs
		if json.Unmarshal(c.Arguments, &a) == nil {
			return "Reveal: " + a.Content
		}
	case ToolTriggerEvent:
		var a TriggerEventArgs
		if json.Unmarshal(c.Arguments, &a) == nil {
			return "Trigger event " + a.EventID
		}
	case ToolUpdateStat:
		var a UpdateStatArgs
		if json.Unmarshal(c.Arguments, &a) == nil {
			return "Change " + a.Stat
		}
	}
	return c.Name
}
