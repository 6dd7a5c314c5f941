// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package pipeline

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/holomush/storyengine/internal/broadcast"
	"github.com/holomush/storyengine/internal/clienterr"
	"github.com/holomush/storyengine/internal/queue"
	"github.com/holomush/storyengine/internal/worldstate"
)

// PromptHistoryEntries is how much conversation an NPC prompt carries.
const PromptHistoryEntries = 10

// ContextProvider resolves the scene, NPC, challenges and events around a
// player action. The pipeline fills in the character, the conversation and
// the directorial notes itself.
type ContextProvider interface {
	PromptContext(ctx context.Context, action PlayerAction) (PromptContext, error)
}

// ContextFunc adapts a function to ContextProvider.
type ContextFunc func(ctx context.Context, action PlayerAction) (PromptContext, error)

// PromptContext implements ContextProvider.
func (f ContextFunc) PromptContext(ctx context.Context, action PlayerAction) (PromptContext, error) {
	return f(ctx, action)
}

// PlayerActionService turns player actions into NPC prompt requests.
type PlayerActionService struct {
	queue     queue.Queue[PlayerAction]
	llm       *LLMService
	state     *worldstate.Store
	provider  ContextProvider
	notifier
}

// NewPlayerActionService creates the player action stage.
func NewPlayerActionService(q queue.Queue[PlayerAction], llm *LLMService, state *worldstate.Store,
	provider ContextProvider, events broadcast.Port, logger *slog.Logger,
) *PlayerActionService {
	return &PlayerActionService{
		queue:    q,
		llm:      llm,
		state:    state,
		provider: provider,
		notifier: newNotifier(events, logger),
	}
}

// Enqueue queues a player action and returns its item id.
func (s *PlayerActionService) Enqueue(ctx context.Context, action PlayerAction) (string, error) {
	if action.WorldID == "" || action.CharacterID == "" {
		return "", errInvalid("player action needs a world and a character")
	}
	id, err := s.queue.EnqueueItem(ctx, queue.Item[PlayerAction]{
		WorldID:  action.WorldID,
		Payload:  action,
		Priority: queue.PriorityPlayer,
	})
	if err != nil {
		return "", errEnqueue(s.queue.Name(), err)
	}
	return id, nil
}

// Depth counts player actions waiting for a worker.
func (s *PlayerActionService) Depth(ctx context.Context) (int, error) {
	return s.queue.Depth(ctx)
}

// Worker returns a worker draining the player action queue.
func (s *PlayerActionService) Worker(cfg queue.WorkerConfig) *queue.Worker[PlayerAction] {
	if cfg.Logger == nil {
		cfg.Logger = s.logger
	}
	return queue.NewWorker(s.queue, s.Handle, cfg)
}

// Handle records the player's line and hands the action to the LLM stage.
// Actions that address no NPC are only recorded.
func (s *PlayerActionService) Handle(ctx context.Context, item *queue.Item[PlayerAction]) error {
	action := item.Payload
	history := s.state.Conversation(action.WorldID, PromptHistoryEntries)

	if action.Dialogue != "" {
		s.state.AppendConversation(action.WorldID, worldstate.ConversationEntry{
			SpeakerID:   action.CharacterID,
			SpeakerName: action.CharacterName,
			Role:        worldstate.SpeakerPlayer,
			Text:        action.Dialogue,
		})
	}
	if action.TargetID == "" {
		return nil
	}

	pc, err := s.provider.PromptContext(ctx, action)
	if err != nil {
		err = oops.Code(CodeContextFailed).
			With("world_id", action.WorldID).
			With("target_id", action.TargetID).
			Wrap(err)
		s.notifyFailed(ctx, item, err)
		return err
	}
	pc.CharacterID = action.CharacterID
	pc.CharacterName = action.CharacterName
	pc.ActionType = action.ActionType
	pc.PlayerDialogue = action.Dialogue
	if pc.NPCID == "" {
		pc.NPCID = action.TargetID
	}
	pc.GameTime = s.state.GameTime(action.WorldID).String()
	pc.DirectorialNotes = s.state.DirectorialNotes(action.WorldID)
	pc.History = history

	if _, err := s.llm.Enqueue(ctx, LLMRequest{
		Type:         RequestNPCResponse,
		WorldID:      action.WorldID,
		UserID:       action.UserID,
		ActionItemID: item.ID,
		CallbackID:   item.ID,
		Prompt:       &pc,
	}); err != nil {
		s.notifyFailed(ctx, item, err)
		return err
	}

	s.logger.DebugContext(ctx, "player action handed off",
		"world_id", action.WorldID,
		"item_id", item.ID,
		"npc_id", pc.NPCID)
	return nil
}

func (s *PlayerActionService) notifyFailed(ctx context.Context, item *queue.Item[PlayerAction], err error) {
	s.actionFailed(ctx, item.Payload.WorldID, item.Payload.UserID, item.ID, clienterr.OpSubmitAction, err)
}
