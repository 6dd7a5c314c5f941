// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package pipeline

import (
	"encoding/json"
	"regexp"
	"strings"
)

// NPCResponse is a model answer split into its tagged sections.
type NPCResponse struct {
	Reasoning string
	Dialogue  string
	Topics    []string
	Challenge *RawChallengeSuggestion
	Event     *RawEventSuggestion
}

// RawChallengeSuggestion is the JSON inside <challenge_suggestion>.
type RawChallengeSuggestion struct {
	ChallengeID string `json:"challenge_id"`
	Confidence  string `json:"confidence"`
	Reasoning   string `json:"reasoning"`
}

// RawEventSuggestion is the JSON inside <narrative_event_suggestion>.
type RawEventSuggestion struct {
	EventID         string   `json:"event_id"`
	Confidence      string   `json:"confidence"`
	Reasoning       string   `json:"reasoning"`
	MatchedTriggers []string `json:"matched_triggers"`
}

var (
	reasoningRE     = tagRE("reasoning")
	dialogueRE      = tagRE("dialogue")
	topicsRE        = tagRE("topics")
	challengeRE     = tagRE("challenge_suggestion")
	eventRE         = tagRE("narrative_event_suggestion")
	beatsRE         = tagRE("suggested_beats")
	specialTokensRE = regexp.MustCompile(`<\|[^|>]+\|>|\[/?INST\]|<</?SYS>>`)
	finalChannelRE  = regexp.MustCompile(`(?s)<\|channel\|>final<\|message\|>(.*)$`)
	listMarkerRE    = regexp.MustCompile(`^\s*(?:[-*]|\d+[.)])\s+`)
)

func tagRE(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?s)<` + name + `>(.*?)</` + name + `>`)
}

// StripSpecialTokens removes chat-template tokens some models leak. When the
// answer has a final channel, only that channel is kept.
func StripSpecialTokens(raw string) string {
	if m := finalChannelRE.FindStringSubmatch(raw); m != nil {
		raw = strings.TrimSpace(m[1])
	}
	return specialTokensRE.ReplaceAllString(raw, "")
}

// ParseNPCResponse reads a tagged model answer. Without a <dialogue> tag the
// whole answer, minus the other tags, is the dialogue. Malformed suggestion
// JSON is dropped.
func ParseNPCResponse(raw string) NPCResponse {
	raw = StripSpecialTokens(raw)
	var out NPCResponse

	if m := reasoningRE.FindStringSubmatch(raw); m != nil {
		out.Reasoning = strings.TrimSpace(m[1])
	}
	if m := dialogueRE.FindStringSubmatch(raw); m != nil {
		out.Dialogue = strings.TrimSpace(m[1])
	} else {
		out.Dialogue = stripTags(raw)
	}
	if m := topicsRE.FindStringSubmatch(raw); m != nil {
		for _, line := range strings.Split(m[1], "\n") {
			if t := strings.TrimSpace(line); t != "" {
				out.Topics = append(out.Topics, t)
			}
		}
	}
	if m := challengeRE.FindStringSubmatch(raw); m != nil {
		var cs RawChallengeSuggestion
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &cs); err == nil && cs.ChallengeID != "" {
			out.Challenge = &cs
		}
	}
	if m := eventRE.FindStringSubmatch(raw); m != nil {
		var es RawEventSuggestion
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &es); err == nil && es.EventID != "" {
			out.Event = &es
		}
	}
	return out
}

func stripTags(raw string) string {
	for _, re := range []*regexp.Regexp{reasoningRE, topicsRE, challengeRE, eventRE, beatsRE} {
		raw = re.ReplaceAllString(raw, "")
	}
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			lines = append(lines, t)
		}
	}
	return strings.Join(lines, "\n")
}

// ParseSuggestionList reads a list of suggestions: a JSON string array if
// the answer holds one, otherwise one suggestion per non-empty line with
// list markers removed.
func ParseSuggestionList(raw string) []string {
	raw = StripSpecialTokens(raw)
	if start, end := strings.IndexByte(raw, '['), strings.LastIndexByte(raw, ']'); start >= 0 && end > start {
		var list []string
		if err := json.Unmarshal([]byte(raw[start:end+1]), &list); err == nil {
			return compact(list)
		}
	}
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(listMarkerRE.ReplaceAllString(line, ""))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func compact(list []string) []string {
	out := list[:0]
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
