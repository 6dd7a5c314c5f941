// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/holomush/storyengine/internal/challenge"
	"github.com/holomush/storyengine/internal/oracle"
)

// Sampling temperatures.
const (
	NPCTemperature        = 0.8
	SuggestionTemperature = 0.9
	OutcomeTemperature    = 0.7
)

const npcSystemPrompt = `You are %s, a character in a tabletop roleplaying game. Stay in character.
Answer in this format:
<reasoning>why you answer this way; the DM sees this, players do not</reasoning>
<dialogue>what you say and do</dialogue>
<topics>one topic per line</topics>
If an active challenge fits, add <challenge_suggestion>{"challenge_id": "...", "confidence": "low|medium|high", "reasoning": "..."}</challenge_suggestion>.
If an active narrative event fits, add <narrative_event_suggestion>{"event_id": "...", "confidence": "low|medium|high", "reasoning": "...", "matched_triggers": []}</narrative_event_suggestion>.`

// BuildNPCPrompt renders the prompt for an NPC response. feedback is the
// DM's note on a rejected earlier attempt.
func BuildNPCPrompt(pc PromptContext, feedback string) oracle.Prompt {
	var b strings.Builder
	if pc.SceneName != "" {
		fmt.Fprintf(&b, "Scene: %s\n", pc.SceneName)
	}
	if pc.SceneDescription != "" {
		fmt.Fprintf(&b, "%s\n", pc.SceneDescription)
	}
	if pc.LocationName != "" {
		fmt.Fprintf(&b, "Location: %s\n", pc.LocationName)
	}
	if pc.GameTime != "" {
		fmt.Fprintf(&b, "Time: %s\n", pc.GameTime)
	}
	if pc.NPCDescription != "" {
		fmt.Fprintf(&b, "\nAbout you: %s\n", pc.NPCDescription)
	}
	if pc.DirectorialNotes != "" {
		fmt.Fprintf(&b, "\nDM's direction: %s\n", pc.DirectorialNotes)
	}
	if len(pc.History) > 0 {
		b.WriteString("\nRecent conversation:\n")
		for _, e := range pc.History {
			fmt.Fprintf(&b, "%s: %s\n", e.SpeakerName, e.Text)
		}
	}
	if len(pc.Challenges) > 0 {
		b.WriteString("\nActive challenges:\n")
		for _, c := range pc.Challenges {
			fmt.Fprintf(&b, "- %s [%s] %s: %s\n", c.ID, c.Difficulty, c.Name, c.Description)
		}
	}
	if len(pc.Events) > 0 {
		b.WriteString("\nActive narrative events:\n")
		for _, e := range pc.Events {
			fmt.Fprintf(&b, "- %s %s: %s\n", e.ID, e.Name, e.Description)
		}
	}
	if feedback != "" {
		fmt.Fprintf(&b, "\nThe DM rejected your previous answer: %s\n", feedback)
	}
	fmt.Fprintf(&b, "\n%s (%s)", pc.CharacterName, pc.ActionType)
	if pc.PlayerDialogue != "" {
		fmt.Fprintf(&b, ": %s", pc.PlayerDialogue)
	}

	p := oracle.NewPrompt(fmt.Sprintf(npcSystemPrompt, pc.NPCName), b.String()).WithTemperature(NPCTemperature)
	p.Tools = GameTools()
	return p
}

// BuildSuggestionPrompt renders a creative-suggestion prompt.
func BuildSuggestionPrompt(sc SuggestionContext) oracle.Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Suggest five options for the %s", sc.FieldType)
	if sc.EntityType != "" {
		fmt.Fprintf(&b, " of a %s", sc.EntityType)
	}
	if sc.EntityName != "" {
		fmt.Fprintf(&b, " named %s", sc.EntityName)
	}
	b.WriteString(".\n")
	if sc.WorldSetting != "" {
		fmt.Fprintf(&b, "Setting: %s\n", sc.WorldSetting)
	}
	if sc.Hints != "" {
		fmt.Fprintf(&b, "Hints: %s\n", sc.Hints)
	}
	if sc.Additional != "" {
		fmt.Fprintf(&b, "Context: %s\n", sc.Additional)
	}
	b.WriteString("Respond with a JSON array of strings only.")
	return oracle.NewPrompt("You are a creative assistant for a tabletop RPG game master.", b.String()).
		WithTemperature(SuggestionTemperature)
}

// BuildOutcomePrompt renders the prompt for outcome phrasings or branches.
func BuildOutcomePrompt(req challenge.SuggestionRequest) oracle.Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Challenge: %s\n", req.ChallengeName)
	if req.ChallengeDescription != "" {
		fmt.Fprintf(&b, "%s\n", req.ChallengeDescription)
	}
	fmt.Fprintf(&b, "Result: %s\n", req.RollContext)
	if req.Guidance != "" {
		fmt.Fprintf(&b, "DM's guidance: %s\n", req.Guidance)
	}
	if req.Branches {
		fmt.Fprintf(&b, "\nWrite %d distinct ways this %s could play out. ", req.BranchCount, req.OutcomeType)
		b.WriteString(`Respond with a JSON array of objects with "title" and "description" only.`)
	} else {
		fmt.Fprintf(&b, "\nWrite three alternative descriptions of this %s. ", req.OutcomeType)
		b.WriteString("Respond with a JSON array of strings only.")
	}
	return oracle.NewPrompt("You narrate the results of dice rolls in a tabletop RPG. Be vivid and brief.", b.String()).
		WithTemperature(OutcomeTemperature)
}

// ParseBranches reads outcome branches and gives each an id.
func ParseBranches(raw string) ([]challenge.Branch, bool) {
	raw = StripSpecialTokens(raw)
	start, end := strings.IndexByte(raw, '['), strings.LastIndexByte(raw, ']')
	if start < 0 || end <= start {
		return nil, false
	}
	var list []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &list); err != nil {
		return nil, false
	}
	out := make([]challenge.Branch, 0, len(list))
	for _, b := range list {
		if strings.TrimSpace(b.Description) == "" {
			continue
		}
		out = append(out, challenge.Branch{
			ID:          fmt.Sprintf("branch-%d", len(out)+1),
			Title:       strings.TrimSpace(b.Title),
			Description: strings.TrimSpace(b.Description),
		})
	}
	return out, len(out) > 0
}
