// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package pipeline

import (
	"context"
	"log/slog"

	"github.com/holomush/storyengine/internal/broadcast"
	"github.com/holomush/storyengine/internal/clienterr"
	"github.com/holomush/storyengine/internal/queue"
	"github.com/holomush/storyengine/internal/worldstate"
)

// DMActionService runs DM commands ahead of player work.
type DMActionService struct {
	queue     queue.Queue[DMAction]
	approvals *ApprovalService
	state     *worldstate.Store
	notifier
}

// NewDMActionService creates the DM action stage.
func NewDMActionService(q queue.Queue[DMAction], approvals *ApprovalService, state *worldstate.Store,
	events broadcast.Port, logger *slog.Logger,
) *DMActionService {
	return &DMActionService{
		queue:     q,
		approvals: approvals,
		state:     state,
		notifier:  newNotifier(events, logger),
	}
}

// Enqueue queues a DM action and returns its item id.
func (s *DMActionService) Enqueue(ctx context.Context, action DMAction) (string, error) {
	if err := validateAction(action); err != nil {
		return "", err
	}
	id, err := s.queue.EnqueueItem(ctx, queue.Item[DMAction]{
		WorldID:  action.WorldID,
		Payload:  action,
		Priority: queue.PriorityDM,
	})
	if err != nil {
		return "", errEnqueue(s.queue.Name(), err)
	}
	return id, nil
}

// Depth counts DM actions waiting for a worker.
func (s *DMActionService) Depth(ctx context.Context) (int, error) {
	return s.queue.Depth(ctx)
}

// Worker returns a worker draining the DM action queue.
func (s *DMActionService) Worker(cfg queue.WorkerConfig) *queue.Worker[DMAction] {
	if cfg.Logger == nil {
		cfg.Logger = s.logger
	}
	return queue.NewWorker(s.queue, s.Handle, cfg)
}

// Handle runs one DM action. Failures are reported to the DM who sent it.
func (s *DMActionService) Handle(ctx context.Context, item *queue.Item[DMAction]) error {
	action := item.Payload
	if err := s.run(ctx, action); err != nil {
		s.actionFailed(ctx, action.WorldID, action.DMID, item.ID, clienterr.OpDMAction, err)
		return err
	}
	return nil
}

func (s *DMActionService) run(ctx context.Context, action DMAction) error {
	if err := validateAction(action); err != nil {
		return err
	}
	switch action.Kind {
	case ActionApprovalDecision:
		return s.approvals.ProcessDecision(ctx, action.WorldID, action.ApprovalItemID, *action.Decision)

	case ActionDirectNPCControl:
		s.emit(ctx, action.WorldID, broadcast.ToPlayers(broadcast.EventDialogueResponse, DialogueResponsePayload{
			SpeakerID:   action.NPCID,
			SpeakerName: action.NPCName,
			Text:        action.Dialogue,
		}))
		s.state.AppendConversation(action.WorldID, worldstate.ConversationEntry{
			SpeakerID:   action.NPCID,
			SpeakerName: action.NPCName,
			Role:        worldstate.SpeakerNPC,
			Text:        action.Dialogue,
		})

	case ActionTriggerEvent:
		s.emit(ctx, action.WorldID, broadcast.ToAll(broadcast.EventNarrativeEventFired, EventTriggeredPayload{
			EventID:   action.EventID,
			EventName: action.EventName,
		}))

	case ActionTransitionScene:
		s.state.SetCurrentScene(action.WorldID, action.SceneID)
		s.emit(ctx, action.WorldID, broadcast.ToAll(broadcast.EventSceneChanged, SceneChangedPayload{
			SceneID: action.SceneID,
		}))
	}

	s.logger.InfoContext(ctx, "dm action applied",
		"world_id", action.WorldID,
		"dm_id", action.DMID,
		"kind", action.Kind)
	return nil
}

func validateAction(a DMAction) error {
	if a.WorldID == "" {
		return errInvalid("dm action needs a world")
	}
	switch a.Kind {
	case ActionApprovalDecision:
		if a.ApprovalItemID == "" || a.Decision == nil {
			return errInvalid("approval decision needs an item and a decision")
		}
	case ActionDirectNPCControl:
		if a.NPCID == "" || a.Dialogue == "" {
			return errInvalid("npc control needs an npc and dialogue")
		}
	case ActionTriggerEvent:
		if a.EventID == "" {
			return errInvalid("trigger event needs an event id")
		}
	case ActionTransitionScene:
		if a.SceneID == "" {
			return errInvalid("scene transition needs a scene id")
		}
	default:
		return errInvalid("unknown dm action %q", a.Kind)
	}
	return nil
}
