// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package worldstate holds the transient per-world session state shared by
// the pipeline: game time, recent conversation, approvals waiting on the DM,
// staging proposals, the current scene and directorial notes.
//
// Every operation locks only the world it touches and completes without I/O.
// Callers never read a composite snapshot and write it back; each mutation is
// its own method.
package worldstate

import (
	"time"

	"github.com/holomush/storyengine/internal/game"
)

// MaxConversationEntries caps each world's conversation history.
const MaxConversationEntries = 30

// SpeakerRole identifies who produced a conversation entry.
type SpeakerRole string

// Speaker roles.
const (
	SpeakerPlayer SpeakerRole = "player"
	SpeakerNPC    SpeakerRole = "npc"
	SpeakerDM     SpeakerRole = "dm"
	SpeakerSystem SpeakerRole = "system"
)

// ConversationEntry is one line of dialogue in a world.
type ConversationEntry struct {
	SpeakerID   string        `json:"speaker_id"`
	SpeakerName string        `json:"speaker_name"`
	Role        SpeakerRole   `json:"role"`
	Text        string        `json:"text"`
	At          time.Time     `json:"at"`
	GameTime    game.GameTime `json:"game_time"`
}

// ApprovalKind distinguishes the things a DM can be asked to approve.
type ApprovalKind string

// Approval kinds.
const (
	ApprovalNPCResponse      ApprovalKind = "npc_response"
	ApprovalChallengeOutcome ApprovalKind = "challenge_outcome"
)

// Approval is an item waiting on a DM decision. Stored values are treated as
// immutable: updates replace the value rather than mutating it.
type Approval interface {
	ApprovalID() string
	ApprovalKind() ApprovalKind
}

// PendingStaging is a staging proposal waiting on the DM.
type PendingStaging struct {
	RequestID       string           `json:"request_id"`
	WorldID         string           `json:"world_id"`
	RegionID        string           `json:"region_id"`
	RegionName      string           `json:"region_name"`
	LocationID      string           `json:"location_id"`
	LocationName    string           `json:"location_name"`
	GameTime        game.GameTime    `json:"game_time"`
	RuleBasedNPCs   []game.StagedNPC `json:"rule_based_npcs"`
	LLMBasedNPCs    []game.StagedNPC `json:"llm_based_npcs"`
	DefaultTTLHours int              `json:"default_ttl_hours"`
	Context         string           `json:"context,omitempty"`
	Guidance        string           `json:"guidance,omitempty"`
	WaitingPCs      []game.WaitingPC `json:"waiting_pcs"`
	CreatedAt       time.Time        `json:"created_at"`
}

func (p PendingStaging) clone() PendingStaging {
	p.RuleBasedNPCs = game.CloneNPCs(p.RuleBasedNPCs)
	p.LLMBasedNPCs = game.CloneNPCs(p.LLMBasedNPCs)
	if p.WaitingPCs != nil {
		pcs := make([]game.WaitingPC, len(p.WaitingPCs))
		copy(pcs, p.WaitingPCs)
		p.WaitingPCs = pcs
	}
	return p
}

// RuntimeState is a read-only copy of one world's state.
type RuntimeState struct {
	WorldID          string
	Initialized      bool
	GameTime         game.GameTime
	Conversation     []ConversationEntry
	PendingApprovals []Approval
	PendingStagings  []PendingStaging
	CurrentSceneID   string
	DirectorialNotes string
}
