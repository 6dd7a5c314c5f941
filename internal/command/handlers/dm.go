// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package handlers

import (
	"context"

	"github.com/holomush/storyengine/internal/challenge"
	"github.com/holomush/storyengine/internal/command"
	"github.com/holomush/storyengine/internal/game"
	"github.com/holomush/storyengine/internal/pipeline"
	"github.com/holomush/storyengine/internal/protocol"
	"github.com/holomush/storyengine/internal/staging"
)

// StagingResult describes an approved staging.
type StagingResult struct {
	StagingID string         `json:"staging_id"`
	RegionID  string         `json:"region_id"`
	Source    staging.Source `json:"source"`
	TTLHours  int            `json:"ttl_hours"`
	NPCCount  int            `json:"npc_count"`
}

// PendingResponse is an NPC response waiting on the DM.
type PendingResponse struct {
	ItemID           string `json:"item_id"`
	NPCID            string `json:"npc_id"`
	NPCName          string `json:"npc_name"`
	ProposedDialogue string `json:"proposed_dialogue"`
	PlayerDialogue   string `json:"player_dialogue,omitempty"`
	RetryCount       int    `json:"retry_count"`
}

// PendingResult is everything waiting on the DM.
type PendingResult struct {
	Responses []PendingResponse           `json:"responses"`
	Outcomes  []challenge.OutcomeApproval `json:"outcomes"`
}

// OutcomeDecisionHandler applies the DM's verdict on a rolled outcome.
func OutcomeDecisionHandler(ctx context.Context, exec *command.Execution) error {
	p, err := protocol.Payload[protocol.OutcomeDecision](exec.Message)
	if err != nil {
		return err
	}
	err = exec.Services.Challenges.ProcessDecision(ctx, exec.WorldID, p.ResolutionID, challenge.Decision{
		Kind:                challenge.DecisionKind(p.Kind),
		ModifiedDescription: p.ModifiedDescription,
		Guidance:            p.Guidance,
		BranchID:            p.BranchID,
		BranchCount:         p.BranchCount,
	})
	if err != nil {
		return err
	}
	return exec.Reply(ctx, map[string]string{"resolution_id": p.ResolutionID})
}

// ApprovalDecisionHandler queues the DM's verdict on an NPC response.
func ApprovalDecisionHandler(ctx context.Context, exec *command.Execution) error {
	p, err := protocol.Payload[protocol.ApprovalDecision](exec.Message)
	if err != nil {
		return err
	}
	id, err := exec.Services.DMActions.Enqueue(ctx, pipeline.DMAction{
		WorldID:        exec.WorldID,
		DMID:           exec.UserID,
		Kind:           pipeline.ActionApprovalDecision,
		ApprovalItemID: p.ItemID,
		Decision: &pipeline.ApprovalDecision{
			Kind:             pipeline.DecisionKind(p.Kind),
			ModifiedDialogue: p.ModifiedDialogue,
			ApprovedTools:    p.ApprovedTools,
			Feedback:         p.Feedback,
			DMResponse:       p.DMResponse,
			ItemRecipients:   p.ItemRecipients,
		},
		Timestamp: exec.Services.Clock.Now(),
	})
	if err != nil {
		return err
	}
	return exec.Reply(ctx, QueuedResult{ItemID: id})
}

// DMActionHandler queues a direct DM command.
func DMActionHandler(ctx context.Context, exec *command.Execution) error {
	p, err := protocol.Payload[protocol.DMAction](exec.Message)
	if err != nil {
		return err
	}
	id, err := exec.Services.DMActions.Enqueue(ctx, pipeline.DMAction{
		WorldID:   exec.WorldID,
		DMID:      exec.UserID,
		Kind:      pipeline.DMActionKind(p.Kind),
		NPCID:     p.NPCID,
		NPCName:   p.NPCName,
		Dialogue:  p.Dialogue,
		EventID:   p.EventID,
		EventName: p.EventName,
		SceneID:   p.SceneID,
		Timestamp: exec.Services.Clock.Now(),
	})
	if err != nil {
		return err
	}
	return exec.Reply(ctx, QueuedResult{ItemID: id})
}

// ApproveStagingHandler approves a pending staging proposal.
func ApproveStagingHandler(ctx context.Context, exec *command.Execution) error {
	p, err := protocol.Payload[protocol.ApproveStaging](exec.Message)
	if err != nil {
		return err
	}
	st, err := exec.Services.Staging.Approve(ctx, staging.ApproveRequest{
		WorldID:    exec.WorldID,
		RequestID:  p.RequestID,
		NPCs:       stagedNPCs(p.NPCs),
		TTLHours:   p.TTLHours,
		ApprovedBy: exec.UserID,
		Source:     staging.Source(p.Source),
		DMGuidance: p.Guidance,
	})
	if err != nil {
		return err
	}
	return exec.Reply(ctx, stagingResult(st))
}

// PreStageHandler stages a region ahead of arrivals.
func PreStageHandler(ctx context.Context, exec *command.Execution) error {
	p, err := protocol.Payload[protocol.PreStage](exec.Message)
	if err != nil {
		return err
	}
	st, err := exec.Services.Staging.PreStage(ctx, staging.PreStageRequest{
		WorldID:    exec.WorldID,
		RegionID:   p.RegionID,
		LocationID: p.LocationID,
		NPCs:       stagedNPCs(p.NPCs),
		TTLHours:   p.TTLHours,
		ApprovedBy: exec.UserID,
		DMGuidance: p.Guidance,
	})
	if err != nil {
		return err
	}
	return exec.Reply(ctx, stagingResult(st))
}

// ListPendingHandler lists the responses and outcomes waiting on the DM.
func ListPendingHandler(ctx context.Context, exec *command.Execution) error {
	items, err := exec.Services.Approvals.Pending(ctx, exec.WorldID)
	if err != nil {
		return err
	}
	res := PendingResult{
		Responses: make([]PendingResponse, 0, len(items)),
		Outcomes:  exec.Services.Challenges.Pending(exec.WorldID),
	}
	for _, it := range items {
		res.Responses = append(res.Responses, PendingResponse{
			ItemID:           it.ID,
			NPCID:            it.Payload.NPCID,
			NPCName:          it.Payload.NPCName,
			ProposedDialogue: it.Payload.ProposedDialogue,
			PlayerDialogue:   it.Payload.PlayerDialogue,
			RetryCount:       it.Payload.RetryCount,
		})
	}
	if res.Outcomes == nil {
		res.Outcomes = []challenge.OutcomeApproval{}
	}
	return exec.Reply(ctx, res)
}

func stagedNPCs(in []protocol.StagedNPC) []game.StagedNPC {
	out := make([]game.StagedNPC, 0, len(in))
	for _, n := range in {
		out = append(out, game.StagedNPC{
			CharacterID:         n.CharacterID,
			Name:                n.Name,
			IsPresent:           n.IsPresent,
			IsHiddenFromPlayers: n.IsHiddenFromPlayers,
			Reasoning:           n.Reasoning,
			Mood:                n.Mood,
		})
	}
	return out
}

func stagingResult(st *staging.Staging) StagingResult {
	return StagingResult{
		StagingID: st.ID,
		RegionID:  st.RegionID,
		Source:    st.Source,
		TTLHours:  st.TTLHours,
		NPCCount:  len(st.NPCs),
	}
}
