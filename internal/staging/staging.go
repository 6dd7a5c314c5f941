// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package staging resolves which NPCs are present in a region. A staging is a
// DM-approved snapshot of NPC presence that stays valid for a number of
// in-game hours; at most one staging per region is active at a time.
package staging

import (
	"time"

	"github.com/holomush/storyengine/internal/game"
)

// DefaultTTLHours is how long a staging stays valid when no TTL is given.
const DefaultTTLHours = 3

// Source records how a staging's NPC list was produced.
type Source string

// Sources.
const (
	SourceRuleBased    Source = "rule_based"
	SourceLLMBased     Source = "llm_based"
	SourceDMManual     Source = "dm_manual"
	SourcePreStaged    Source = "pre_staged"
	SourceAutoApproved Source = "auto_approved"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceRuleBased, SourceLLMBased, SourceDMManual, SourcePreStaged, SourceAutoApproved:
		return true
	}
	return false
}

// Staging is an approved NPC presence snapshot for a region. GameTime is the
// in-game time of approval and ApprovedAt the wall-clock time.
type Staging struct {
	ID         string           `json:"id"`
	RegionID   string           `json:"region_id"`
	LocationID string           `json:"location_id"`
	WorldID    string           `json:"world_id"`
	NPCs       []game.StagedNPC `json:"npcs"`
	GameTime   game.GameTime    `json:"game_time"`
	ApprovedAt time.Time        `json:"approved_at"`
	TTLHours   int              `json:"ttl_hours"`
	ApprovedBy string           `json:"approved_by"`
	Source     Source           `json:"source"`
	DMGuidance string           `json:"dm_guidance,omitempty"`
	IsActive   bool             `json:"is_active"`
}

// ExpiresAt is the game time at which the staging stops being valid.
func (s Staging) ExpiresAt() game.GameTime {
	return s.GameTime.AdvanceHours(s.TTLHours)
}

// IsValid reports whether the staging is active and unexpired at now.
func (s Staging) IsValid(now game.GameTime) bool {
	return s.IsActive && now.Current.Before(s.ExpiresAt().Current)
}

// PresentNPCs returns the NPCs marked present, hidden ones included.
func (s Staging) PresentNPCs() []game.StagedNPC {
	var out []game.StagedNPC
	for _, n := range s.NPCs {
		if n.IsPresent {
			out = append(out, n)
		}
	}
	return out
}

// VisibleNPCs returns the NPCs players can see.
func (s Staging) VisibleNPCs() []game.StagedNPC {
	var out []game.StagedNPC
	for _, n := range s.NPCs {
		if n.IsVisibleToPlayers() {
			out = append(out, n)
		}
	}
	return out
}

func (s Staging) clone() Staging {
	s.NPCs = game.CloneNPCs(s.NPCs)
	return s
}

// Event payloads.

// StagingReadyPayload tells the DM a region's staging was approved.
type StagingReadyPayload struct {
	RegionID  string           `json:"region_id"`
	StagingID string           `json:"staging_id"`
	Source    Source           `json:"source"`
	NPCs      []game.StagedNPC `json:"npcs"`
}

// SceneChangedPayload tells a player which NPCs they see on arrival.
type SceneChangedPayload struct {
	RegionID   string           `json:"region_id"`
	LocationID string           `json:"location_id"`
	NPCs       []game.StagedNPC `json:"npcs"`
}

// StagingPendingPayload tells a player the DM is still setting the scene.
type StagingPendingPayload struct {
	RegionID       string `json:"region_id"`
	RegionName     string `json:"region_name"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// NewSceneChanged builds the player view of a staging.
func NewSceneChanged(s Staging) SceneChangedPayload {
	return SceneChangedPayload{
		RegionID:   s.RegionID,
		LocationID: s.LocationID,
		NPCs:       s.VisibleNPCs(),
	}
}
