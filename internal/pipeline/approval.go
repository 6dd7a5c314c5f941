// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/storyengine/internal/broadcast"
	"github.com/holomush/storyengine/internal/challenge"
	"github.com/holomush/storyengine/internal/queue"
	"github.com/holomush/storyengine/internal/worldstate"
)

// MaxRejectRetries caps how often a rejected response is regenerated.
const MaxRejectRetries = 3

// RejectedByDM is the failure reason of a response rejected past the cap.
const RejectedByDM = "Rejected by DM"

// DefaultNotifyInterval is how often pending approvals are rechecked when
// nothing new is enqueued.
const DefaultNotifyInterval = 5 * time.Second

// ApprovalService holds NPC responses until the DM decides on them. Items
// stay pending in the approval queue until a decision completes or fails
// them.
type ApprovalService struct {
	queue    queue.Queue[ApprovalRequest]
	llm      *LLMService
	state    *worldstate.Store
	executor challenge.TriggerExecutor
	notifier

	mu       sync.Mutex
	notified map[string]struct{}
	inFlight map[string]struct{}
}

// NewApprovalService creates the approval stage. executor applies approved
// tools and may be nil.
func NewApprovalService(q queue.Queue[ApprovalRequest], llm *LLMService, state *worldstate.Store,
	executor challenge.TriggerExecutor, events broadcast.Port, logger *slog.Logger,
) *ApprovalService {
	return &ApprovalService{
		queue:    q,
		llm:      llm,
		state:    state,
		executor: executor,
		notifier: newNotifier(events, logger),
		notified: make(map[string]struct{}),
		inFlight: make(map[string]struct{}),
	}
}

// Enqueue queues an NPC response for review and returns its item id.
func (s *ApprovalService) Enqueue(ctx context.Context, req ApprovalRequest) (string, error) {
	if req.WorldID == "" {
		return "", errInvalid("approval request needs a world")
	}
	id, err := s.queue.EnqueueItem(ctx, queue.Item[ApprovalRequest]{
		WorldID:  req.WorldID,
		Payload:  req,
		Priority: queue.PriorityPlayer,
	})
	if err != nil {
		return "", errEnqueue(s.queue.Name(), err)
	}
	return id, nil
}

// Pending lists the world's responses waiting on the DM, oldest first.
func (s *ApprovalService) Pending(ctx context.Context, worldID string) ([]queue.Item[ApprovalRequest], error) {
	items, err := s.queue.ListByWorld(ctx, worldID)
	if err != nil {
		return nil, err
	}
	out := items[:0]
	for _, it := range items {
		if it.Status == queue.StatusPending {
			out = append(out, it)
		}
	}
	return out, nil
}

// Run sends ApprovalRequired for new items until ctx is cancelled.
func (s *ApprovalService) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultNotifyInterval
	}
	s.logger.InfoContext(ctx, "approval notifier started")
	defer s.logger.InfoContext(ctx, "approval notifier stopped")
	for {
		if _, err := s.NotifyPending(ctx); err != nil && ctx.Err() == nil {
			s.logger.WarnContext(ctx, "approval notification pass failed", "error", err)
		}
		s.queue.Notifier().Wait(ctx, interval)
		if ctx.Err() != nil {
			return nil
		}
	}
}

// NotifyPending sends ApprovalRequired to the DM for every pending item
// not announced yet. Returns how many were sent.
func (s *ApprovalService) NotifyPending(ctx context.Context) (int, error) {
	items, err := s.queue.ListByStatus(ctx, queue.StatusPending)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	live := make(map[string]struct{}, len(items))
	var fresh []queue.Item[ApprovalRequest]
	for _, it := range items {
		live[it.ID] = struct{}{}
		if _, seen := s.notified[it.ID]; !seen {
			fresh = append(fresh, it)
		}
	}
	for id := range s.notified {
		if _, ok := live[id]; !ok {
			delete(s.notified, id)
		}
	}
	for _, it := range fresh {
		s.notified[it.ID] = struct{}{}
	}
	s.mu.Unlock()

	for _, it := range fresh {
		req := it.Payload
		s.emit(ctx, it.WorldID, broadcast.ToDM(broadcast.EventApprovalRequired, ApprovalRequiredPayload{
			RequestID:           it.ID,
			NPCName:             req.NPCName,
			ProposedDialogue:    req.ProposedDialogue,
			InternalReasoning:   req.InternalReasoning,
			ProposedTools:       req.ProposedTools,
			ChallengeSuggestion: req.ChallengeSuggestion,
			EventSuggestion:     req.EventSuggestion,
			RetryCount:          req.RetryCount,
		}))
	}
	return len(fresh), nil
}

// ProcessDecision applies the DM's decision to approval itemID.
func (s *ApprovalService) ProcessDecision(ctx context.Context, worldID, itemID string, d ApprovalDecision) error {
	if !s.claim(itemID) {
		return oops.Code(CodeApprovalClosed).
			With("world_id", worldID).
			With("item_id", itemID).
			Errorf("approval %s is already being decided", itemID)
	}
	defer s.release(itemID)

	it, err := s.queue.Get(ctx, itemID)
	if errors.Is(err, queue.ErrNotFound) || (err == nil && it.WorldID != worldID) {
		return oops.Code(CodeApprovalNotFound).
			With("world_id", worldID).
			With("item_id", itemID).
			Errorf("approval %s not found", itemID)
	}
	if err != nil {
		return err
	}
	if it.Status.Terminal() {
		return oops.Code(CodeApprovalClosed).
			With("world_id", worldID).
			With("item_id", itemID).
			With("status", it.Status).
			Errorf("approval %s is already %s", itemID, it.Status)
	}

	req := it.Payload
	switch d.Kind {
	case DecisionAccept:
		return s.deliver(ctx, it, req.ProposedDialogue, req.ProposedTools, nil)
	case DecisionAcceptWithRecipients:
		return s.deliver(ctx, it, req.ProposedDialogue, req.ProposedTools, d.ItemRecipients)
	case DecisionAcceptWithModification:
		dialogue := req.ProposedDialogue
		if d.ModifiedDialogue != "" {
			dialogue = d.ModifiedDialogue
		}
		return s.deliver(ctx, it, dialogue, approvedTools(req.ProposedTools, d.ApprovedTools), d.ItemRecipients)
	case DecisionTakeOver:
		if d.DMResponse == "" {
			return errInvalid("take over needs a response")
		}
		return s.deliver(ctx, it, d.DMResponse, nil, nil)
	case DecisionReject:
		return s.reject(ctx, it, d.Feedback)
	default:
		return errInvalid("unknown approval decision %q", d.Kind)
	}
}

func (s *ApprovalService) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[id]; busy {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *ApprovalService) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}

// deliver sends the NPC's line to the players, records it and applies the
// approved tools.
func (s *ApprovalService) deliver(ctx context.Context, it *queue.Item[ApprovalRequest], dialogue string,
	tools []ProposedTool, recipients map[string][]string,
) error {
	req := it.Payload
	if err := s.queue.Complete(ctx, it.ID); err != nil {
		return err
	}

	s.emit(ctx, req.WorldID, broadcast.ToPlayers(broadcast.EventDialogueResponse, DialogueResponsePayload{
		SpeakerID:   req.NPCID,
		SpeakerName: req.NPCName,
		Text:        dialogue,
	}))
	s.state.AppendConversation(req.WorldID, worldstate.ConversationEntry{
		SpeakerID:   req.NPCID,
		SpeakerName: req.NPCName,
		Role:        worldstate.SpeakerNPC,
		Text:        dialogue,
	})
	s.applyTools(ctx, req, tools, recipients)

	s.logger.InfoContext(ctx, "npc response approved",
		"world_id", req.WorldID,
		"item_id", it.ID,
		"npc_id", req.NPCID,
		"tools", len(tools))
	return nil
}

func (s *ApprovalService) applyTools(ctx context.Context, req ApprovalRequest, tools []ProposedTool, recipients map[string][]string) {
	for _, tool := range tools {
		if tool.Name == ToolTriggerEvent {
			s.fireEvent(ctx, req.WorldID, tool)
			continue
		}
		if s.executor == nil {
			continue
		}
		trig, err := ToolTrigger(tool)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping malformed tool",
				"world_id", req.WorldID, "tool", tool.Name, "error", err)
			continue
		}
		targets := []string{req.CharacterID}
		if tool.Name == ToolGiveItem && len(recipients[tool.ID]) > 0 {
			targets = recipients[tool.ID]
		}
		for _, characterID := range targets {
			res := s.executor.Execute(ctx, req.WorldID, characterID, []challenge.Trigger{trig})
			for _, w := range res.Warnings {
				s.logger.WarnContext(ctx, "tool failed",
					"world_id", req.WorldID, "tool", tool.Name, "character_id", characterID, "warning", w)
			}
			for _, c := range res.StatChanges {
				s.emit(ctx, req.WorldID, broadcast.ToAll(broadcast.EventStatUpdated, challenge.StatUpdatedPayload{
					CharacterID: c.CharacterID,
					Stat:        c.Stat,
					Delta:       c.Delta,
					Value:       c.Value,
				}))
			}
		}
	}
}

func (s *ApprovalService) fireEvent(ctx context.Context, worldID string, tool ProposedTool) {
	var a TriggerEventArgs
	if err := json.Unmarshal(tool.Arguments, &a); err != nil || a.EventID == "" {
		s.logger.WarnContext(ctx, "skipping malformed trigger_event", "world_id", worldID, "tool_id", tool.ID)
		return
	}
	s.emit(ctx, worldID, broadcast.ToAll(broadcast.EventNarrativeEventFired, EventTriggeredPayload{EventID: a.EventID}))
}

// reject regenerates the response with the DM's feedback, or gives up once
// the retries are spent.
func (s *ApprovalService) reject(ctx context.Context, it *queue.Item[ApprovalRequest], feedback string) error {
	req := it.Payload
	if req.RetryCount >= MaxRejectRetries || req.Prompt == nil || s.llm == nil {
		if err := s.queue.Fail(ctx, it.ID, RejectedByDM); err != nil {
			return err
		}
		s.emit(ctx, req.WorldID, broadcast.ToDM(broadcast.EventResponseRejected, ResponseRejectedPayload{
			RequestID: it.ID,
			NPCName:   req.NPCName,
			Feedback:  feedback,
			Reason:    RejectedByDM,
		}))
		s.logger.InfoContext(ctx, "npc response rejected",
			"world_id", req.WorldID, "item_id", it.ID, "retries", req.RetryCount)
		return nil
	}

	if _, err := s.llm.Enqueue(ctx, LLMRequest{
		Type:         RequestNPCResponse,
		WorldID:      req.WorldID,
		UserID:       req.UserID,
		ActionItemID: req.SourceActionID,
		CallbackID:   it.CallbackID,
		Prompt:       req.Prompt,
		Feedback:     feedback,
		RetryCount:   req.RetryCount + 1,
	}); err != nil {
		return err
	}
	if err := s.queue.Complete(ctx, it.ID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "npc response sent back for regeneration",
		"world_id", req.WorldID, "item_id", it.ID, "retry", req.RetryCount+1)
	return nil
}

func approvedTools(tools []ProposedTool, ids []string) []ProposedTool {
	var out []ProposedTool
	for _, t := range tools {
		if slices.Contains(ids, t.ID) {
			out = append(out, t)
		}
	}
	return out
}
