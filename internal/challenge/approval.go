// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package challenge

import (
	"time"

	"github.com/holomush/storyengine/internal/worldstate"
)

// Branch is one LLM-written alternative for an outcome.
type Branch struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// OutcomeApproval is a resolved roll waiting on the DM. It lives in the
// world's pending approvals and is replaced, never mutated, on update.
type OutcomeApproval struct {
	ResolutionID            string      `json:"resolution_id"`
	WorldID                 string      `json:"world_id"`
	ChallengeID             string      `json:"challenge_id"`
	ChallengeName           string      `json:"challenge_name"`
	ChallengeDescription    string      `json:"challenge_description,omitempty"`
	CharacterID             string      `json:"character_id"`
	CharacterName           string      `json:"character_name"`
	UserID                  string      `json:"user_id,omitempty"`
	Roll                    int         `json:"roll"`
	Modifier                int         `json:"modifier"`
	Total                   int         `json:"total"`
	RollBreakdown           string      `json:"roll_breakdown"`
	OutcomeType             OutcomeType `json:"outcome_type"`
	OutcomeDescription      string      `json:"outcome_description"`
	Triggers                []Trigger   `json:"triggers,omitempty"`
	Suggestions             []string    `json:"suggestions,omitempty"`
	Branches                []Branch    `json:"branches,omitempty"`
	IsGeneratingSuggestions bool        `json:"is_generating_suggestions"`
	CreatedAt               time.Time   `json:"created_at"`
}

// ApprovalID implements worldstate.Approval.
func (a OutcomeApproval) ApprovalID() string { return a.ResolutionID }

// ApprovalKind implements worldstate.Approval.
func (a OutcomeApproval) ApprovalKind() worldstate.ApprovalKind {
	return worldstate.ApprovalChallengeOutcome
}

func (a OutcomeApproval) clone() OutcomeApproval {
	a.Triggers = append([]Trigger(nil), a.Triggers...)
	a.Suggestions = append([]string(nil), a.Suggestions...)
	a.Branches = append([]Branch(nil), a.Branches...)
	return a
}

func (a OutcomeApproval) branch(id string) (Branch, bool) {
	for _, b := range a.Branches {
		if b.ID == id {
			return b, true
		}
	}
	return Branch{}, false
}

// Event payloads.

// RollSubmittedPayload tells players a roll is waiting on the DM. It never
// carries the outcome.
type RollSubmittedPayload struct {
	ResolutionID  string `json:"resolution_id"`
	ChallengeID   string `json:"challenge_id"`
	ChallengeName string `json:"challenge_name"`
	CharacterName string `json:"character_name"`
	Roll          int    `json:"roll"`
	Modifier      int    `json:"modifier"`
	Total         int    `json:"total"`
}

// ChallengeResolvedPayload is the approved outcome as players see it.
type ChallengeResolvedPayload struct {
	ResolutionID  string      `json:"resolution_id"`
	ChallengeID   string      `json:"challenge_id"`
	ChallengeName string      `json:"challenge_name"`
	CharacterID   string      `json:"character_id"`
	CharacterName string      `json:"character_name"`
	Roll          int         `json:"roll"`
	Modifier      int         `json:"modifier"`
	Total         int         `json:"total"`
	Outcome       OutcomeType `json:"outcome"`
	Description   string      `json:"description"`
	RollBreakdown string      `json:"roll_breakdown"`
}

// SuggestionsPayload delivers alternative phrasings to the DM.
type SuggestionsPayload struct {
	ResolutionID string   `json:"resolution_id"`
	Suggestions  []string `json:"suggestions"`
}

// BranchesPayload delivers outcome branches to the DM.
type BranchesPayload struct {
	ResolutionID string      `json:"resolution_id"`
	OutcomeType  OutcomeType `json:"outcome_type"`
	Branches     []Branch    `json:"branches"`
}

// StatUpdatedPayload reports one stat change made by a trigger.
type StatUpdatedPayload struct {
	CharacterID string `json:"character_id"`
	Stat        string `json:"stat"`
	Delta       int    `json:"delta"`
	Value       int    `json:"value"`
}
