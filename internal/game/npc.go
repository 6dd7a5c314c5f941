// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package game

// StagedNPC is one NPC's presence decision within a staging.
type StagedNPC struct {
	CharacterID         string `json:"character_id"`
	Name                string `json:"name"`
	IsPresent           bool   `json:"is_present"`
	IsHiddenFromPlayers bool   `json:"is_hidden_from_players"`
	Reasoning           string `json:"reasoning"`
	Mood                string `json:"mood,omitempty"`
}

// IsVisibleToPlayers reports whether players should see the NPC.
func (n StagedNPC) IsVisibleToPlayers() bool {
	return n.IsPresent && !n.IsHiddenFromPlayers
}

// WaitingPC is a player character parked until a region's staging is approved.
type WaitingPC struct {
	PCID   string `json:"pc_id"`
	PCName string `json:"pc_name"`
	UserID string `json:"user_id"`
}

// CloneNPCs copies a staged NPC list.
func CloneNPCs(npcs []StagedNPC) []StagedNPC {
	if npcs == nil {
		return nil
	}
	out := make([]StagedNPC, len(npcs))
	copy(out, npcs)
	return out
}
