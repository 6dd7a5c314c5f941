// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package staging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/holomush/storyengine/internal/game"
	"github.com/holomush/storyengine/internal/oracle"
)

// SuggestionTemperature is the sampling temperature for presence suggestions.
const SuggestionTemperature = 0.3

const suggestionSystemPrompt = "You are a helpful TTRPG assistant helping decide which NPCs should be present in a scene. " +
	"Respond with a JSON array of objects, each with 'name' (exact name from the list) and 'reason' (brief explanation). " +
	"Select the NPCs that would logically be present. Only include NPCs from the provided list."

type llmSuggestion struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// SuggestionInput is what the model sees when adjusting a rule-based list.
type SuggestionInput struct {
	RegionName   string
	LocationName string
	GameTime     game.GameTime
	Context      string
	Guidance     string
	RuleBased    []game.StagedNPC
}

// BuildSuggestionPrompt renders the presence prompt.
func BuildSuggestionPrompt(in SuggestionInput) oracle.Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Region: %s (in %s)\n", in.RegionName, in.LocationName)
	fmt.Fprintf(&b, "Time: %s\n", in.GameTime)
	if in.Context != "" {
		fmt.Fprintf(&b, "Context: %s\n", in.Context)
	}
	b.WriteString("\nAvailable NPCs:\n")
	for i, n := range in.RuleBased {
		status := "absent"
		if n.IsPresent {
			status = "present"
		}
		fmt.Fprintf(&b, "%d. %s (%s; rules say %s)\n", i+1, n.Name, n.Reasoning, status)
	}
	if g := strings.TrimSpace(in.Guidance); g != "" {
		fmt.Fprintf(&b, "\nDM's guidance: %s\n", g)
	}
	b.WriteString("\nWhich NPCs should be present? Respond with JSON only.")
	return oracle.NewPrompt(suggestionSystemPrompt, b.String()).WithTemperature(SuggestionTemperature)
}

// Suggest asks the model to adjust the rule-based list. The model's picks
// are marked present and listed first; every other rule-based NPC is kept but
// marked absent. Any failure returns the rule-based list unchanged.
func Suggest(ctx context.Context, llm oracle.LLM, in SuggestionInput, logger *slog.Logger) []game.StagedNPC {
	if logger == nil {
		logger = slog.Default()
	}
	if llm == nil || len(in.RuleBased) == 0 {
		return game.CloneNPCs(in.RuleBased)
	}

	resp, err := llm.Complete(ctx, BuildSuggestionPrompt(in))
	if err != nil {
		logger.WarnContext(ctx, "presence suggestion failed, using rule-based list",
			"region", in.RegionName,
			"error", err,
		)
		return game.CloneNPCs(in.RuleBased)
	}

	npcs, ok := ParseSuggestions(resp.Content, in.RuleBased)
	if !ok {
		logger.WarnContext(ctx, "presence suggestion unparseable, using rule-based list",
			"region", in.RegionName,
			"content", resp.Content,
		)
		return game.CloneNPCs(in.RuleBased)
	}
	return npcs
}

// ParseSuggestions applies a model answer to the rule-based list. It returns
// false when the answer holds no JSON array.
func ParseSuggestions(content string, ruleBased []game.StagedNPC) ([]game.StagedNPC, bool) {
	raw, ok := ExtractJSONArray(content)
	if !ok {
		return nil, false
	}
	var picks []llmSuggestion
	if err := json.Unmarshal([]byte(raw), &picks); err != nil {
		return nil, false
	}

	byName := make(map[string]int, len(ruleBased))
	for i, n := range ruleBased {
		byName[normalizeName(n.Name)] = i
	}

	chosen := make(map[int]bool)
	out := make([]game.StagedNPC, 0, len(ruleBased))
	for _, p := range picks {
		i, ok := byName[normalizeName(p.Name)]
		if !ok || chosen[i] {
			continue
		}
		chosen[i] = true
		n := ruleBased[i]
		n.IsPresent = true
		n.Reasoning = "[LLM] " + p.Reason
		out = append(out, n)
	}
	for i, n := range ruleBased {
		if chosen[i] {
			continue
		}
		n.IsPresent = false
		out = append(out, n)
	}
	return out, true
}

// ExtractJSONArray returns the text between the first '[' and the last ']'.
func ExtractJSONArray(content string) (string, bool) {
	start := strings.IndexByte(content, '[')
	end := strings.LastIndexByte(content, ']')
	if start < 0 || end <= start {
		return "", false
	}
	return content[start : end+1], true
}

func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
