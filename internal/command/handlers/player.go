// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package handlers

import (
	"context"

	"github.com/holomush/storyengine/internal/broadcast"
	"github.com/holomush/storyengine/internal/challenge"
	"github.com/holomush/storyengine/internal/command"
	"github.com/holomush/storyengine/internal/movement"
	"github.com/holomush/storyengine/internal/pipeline"
	"github.com/holomush/storyengine/internal/protocol"
)

// QueuedResult acknowledges a message that was queued.
type QueuedResult struct {
	ItemID string `json:"item_id"`
}

// PositionResult is where a character stands.
type PositionResult struct {
	CharacterID  string `json:"character_id"`
	Name         string `json:"name"`
	LocationID   string `json:"location_id,omitempty"`
	LocationName string `json:"location_name,omitempty"`
	RegionID     string `json:"region_id,omitempty"`
	RegionName   string `json:"region_name,omitempty"`
}

// MoveResult is the outcome of a move. A scene change or a staging wait
// has already been pushed as its own event.
type MoveResult struct {
	Outcome    movement.ResultKind `json:"outcome"`
	RegionID   string              `json:"region_id"`
	RegionName string              `json:"region_name,omitempty"`
	Reason     string              `json:"reason,omitempty"`
}

// RollResult acknowledges a roll. The outcome stays with the DM.
type RollResult struct {
	ResolutionID string `json:"resolution_id"`
	Roll         int    `json:"roll"`
	Total        int    `json:"total"`
}

// PlayerActionHandler queues a player action.
func PlayerActionHandler(ctx context.Context, exec *command.Execution) error {
	p, err := protocol.Payload[protocol.PlayerAction](exec.Message)
	if err != nil {
		return err
	}
	id, err := exec.Services.Players.Enqueue(ctx, pipeline.PlayerAction{
		WorldID:       exec.WorldID,
		UserID:        exec.UserID,
		CharacterID:   p.CharacterID,
		CharacterName: p.CharacterName,
		ActionType:    p.ActionType,
		TargetID:      p.TargetID,
		Dialogue:      p.Dialogue,
		RegionID:      p.RegionID,
		Timestamp:     exec.Services.Clock.Now(),
	})
	if err != nil {
		return err
	}
	return exec.Reply(ctx, QueuedResult{ItemID: id})
}

// SelectCharacterHandler reports a character's position.
func SelectCharacterHandler(ctx context.Context, exec *command.Execution) error {
	p, err := protocol.Payload[protocol.SelectCharacter](exec.Message)
	if err != nil {
		return err
	}
	pos, err := exec.Services.Movement.SelectCharacter(ctx, exec.WorldID, p.CharacterID)
	if err != nil {
		return err
	}
	if exec.Role != broadcast.RoleDM && pos.PC.UserID != "" && pos.PC.UserID != exec.UserID {
		return errNotYourCharacter(p.CharacterID)
	}
	res := PositionResult{CharacterID: pos.PC.ID, Name: pos.PC.Name}
	if pos.Location != nil {
		res.LocationID, res.LocationName = pos.Location.ID, pos.Location.Name
	}
	if pos.Region != nil {
		res.RegionID, res.RegionName = pos.Region.ID, pos.Region.Name
	}
	return exec.Reply(ctx, res)
}

// MoveToRegionHandler walks a character to a region.
func MoveToRegionHandler(ctx context.Context, exec *command.Execution) error {
	p, err := protocol.Payload[protocol.MoveToRegion](exec.Message)
	if err != nil {
		return err
	}
	res, err := exec.Services.Movement.MoveToRegion(ctx, movement.MoveRequest{
		WorldID:        exec.WorldID,
		UserID:         exec.UserID,
		PCID:           p.CharacterID,
		TargetRegionID: p.RegionID,
	})
	if err != nil {
		return err
	}
	return exec.Reply(ctx, moveResult(res))
}

// ExitToLocationHandler moves a character to another location.
func ExitToLocationHandler(ctx context.Context, exec *command.Execution) error {
	p, err := protocol.Payload[protocol.ExitToLocation](exec.Message)
	if err != nil {
		return err
	}
	res, err := exec.Services.Movement.ExitToLocation(ctx, movement.ExitRequest{
		WorldID:          exec.WorldID,
		UserID:           exec.UserID,
		PCID:             p.CharacterID,
		TargetLocationID: p.LocationID,
		ArrivalRegionID:  p.ArrivalRegionID,
	})
	if err != nil {
		return err
	}
	return exec.Reply(ctx, moveResult(res))
}

func moveResult(r movement.Result) MoveResult {
	return MoveResult{Outcome: r.Kind, RegionID: r.RegionID, RegionName: r.RegionName, Reason: r.Reason}
}

// SubmitRollHandler rolls against a challenge.
func SubmitRollHandler(ctx context.Context, exec *command.Execution) error {
	p, err := protocol.Payload[protocol.SubmitRoll](exec.Message)
	if err != nil {
		return err
	}
	a, err := exec.Services.Challenges.SubmitRoll(ctx, challenge.RollSubmission{
		WorldID:       exec.WorldID,
		ChallengeID:   p.ChallengeID,
		CharacterID:   p.CharacterID,
		CharacterName: p.CharacterName,
		UserID:        exec.UserID,
		Dice: challenge.DiceInput{
			Kind:    challenge.DiceKind(p.Dice.Kind),
			Formula: p.Dice.Formula,
			Value:   p.Dice.Value,
		},
		Modifier: p.Modifier,
	})
	if err != nil {
		return err
	}
	return exec.Reply(ctx, RollResult{ResolutionID: a.ResolutionID, Roll: a.Roll, Total: a.Total})
}
