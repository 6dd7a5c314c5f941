// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package pipeline

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/holomush/storyengine/internal/broadcast"
	"github.com/holomush/storyengine/internal/challenge"
	"github.com/holomush/storyengine/internal/clienterr"
	"github.com/holomush/storyengine/internal/core"
	"github.com/holomush/storyengine/internal/oracle"
	"github.com/holomush/storyengine/internal/queue"
)

// CancelledByUser is the reason reported when a suggestion is cancelled.
const CancelledByUser = "Cancelled by user"

// LLMService runs model requests: NPC responses, creative suggestions and
// outcome phrasings.
type LLMService struct {
	queue     queue.Queue[LLMRequest]
	approvals queue.Queue[ApprovalRequest]
	llm       oracle.LLM
	outcomes  *challenge.Service
	notifier
}

// NewLLMService creates the LLM stage. NPC responses are forwarded to
// approvals. outcomes may be nil when challenges are not in use.
func NewLLMService(q queue.Queue[LLMRequest], approvals queue.Queue[ApprovalRequest], llm oracle.LLM,
	outcomes *challenge.Service, events broadcast.Port, logger *slog.Logger,
) *LLMService {
	return &LLMService{
		queue:     q,
		approvals: approvals,
		llm:       llm,
		outcomes:  outcomes,
		notifier:  newNotifier(events, logger),
	}
}

// Enqueue queues req and returns the item id. A request without a
// CallbackID gets one. DM-initiated requests jump player ones.
func (s *LLMService) Enqueue(ctx context.Context, req LLMRequest) (string, error) {
	if err := validateRequest(req); err != nil {
		return "", err
	}
	if req.CallbackID == "" {
		req.CallbackID = core.NewID()
	}
	priority := queue.PriorityDM
	if req.Type == RequestNPCResponse {
		priority = queue.PriorityPlayer
	}
	id, err := s.queue.EnqueueItem(ctx, queue.Item[LLMRequest]{
		WorldID:    req.WorldID,
		CallbackID: req.CallbackID,
		Payload:    req,
		Priority:   priority,
	})
	if err != nil {
		return "", errEnqueue(s.queue.Name(), err)
	}
	return id, nil
}

// EnqueueSuggestion queues a creative suggestion for the DM and returns the
// request id the results and a cancellation refer to.
func (s *LLMService) EnqueueSuggestion(ctx context.Context, worldID, userID string, sc SuggestionContext) (string, error) {
	callbackID := core.NewID()
	_, err := s.Enqueue(ctx, LLMRequest{
		Type:       RequestSuggestion,
		WorldID:    worldID,
		UserID:     userID,
		CallbackID: callbackID,
		Suggestion: &sc,
	})
	if err != nil {
		return "", err
	}
	return callbackID, nil
}

// RequestOutcomeSuggestions implements challenge.SuggestionRequester.
func (s *LLMService) RequestOutcomeSuggestions(ctx context.Context, req challenge.SuggestionRequest) error {
	_, err := s.Enqueue(ctx, LLMRequest{
		Type:       RequestOutcomeSuggestion,
		WorldID:    req.WorldID,
		CallbackID: req.ResolutionID,
		Outcome:    &req,
	})
	return err
}

// CancelByCallback cancels the request tagged callbackID and tells the DM.
// Reports whether a request matched.
func (s *LLMService) CancelByCallback(ctx context.Context, worldID, callbackID string) (bool, error) {
	ok, err := s.queue.CancelByCallback(ctx, callbackID)
	if err != nil || !ok {
		return false, err
	}
	s.emit(ctx, worldID, broadcast.ToDM(broadcast.EventSuggestionFailed, SuggestionPayload{
		RequestID: callbackID,
		Error:     CancelledByUser,
	}))
	s.logger.InfoContext(ctx, "llm request cancelled",
		"world_id", worldID,
		"callback_id", callbackID)
	return true, nil
}

// Depth counts requests waiting for a worker.
func (s *LLMService) Depth(ctx context.Context) (int, error) {
	return s.queue.Depth(ctx)
}

// Worker returns a worker draining the LLM queue.
func (s *LLMService) Worker(cfg queue.WorkerConfig) *queue.Worker[LLMRequest] {
	if cfg.Logger == nil {
		cfg.Logger = s.logger
	}
	return queue.NewWorker(s.queue, s.Handle, cfg)
}

// Handle runs one request.
func (s *LLMService) Handle(ctx context.Context, item *queue.Item[LLMRequest]) error {
	if err := validateRequest(item.Payload); err != nil {
		return err
	}
	switch item.Payload.Type {
	case RequestNPCResponse:
		return s.handleNPC(ctx, item)
	case RequestSuggestion:
		return s.handleSuggestion(ctx, item)
	case RequestOutcomeSuggestion:
		return s.handleOutcome(ctx, item)
	default:
		return errInvalid("unknown llm request type %q", item.Payload.Type)
	}
}

func (s *LLMService) handleNPC(ctx context.Context, item *queue.Item[LLMRequest]) error {
	req := item.Payload
	resp, err := s.llm.Complete(ctx, BuildNPCPrompt(*req.Prompt, req.Feedback))
	if err != nil {
		err = oops.Code(CodeOracleFailed).With("world_id", req.WorldID).With("item_id", item.ID).Wrap(err)
		s.actionFailed(ctx, req.WorldID, req.UserID, item.ID, clienterr.OpSubmitAction, err)
		return err
	}
	if s.cancelled(ctx, item) {
		return nil
	}

	parsed := ParseNPCResponse(resp.Content)
	tools := proposedTools(resp.ToolCalls)
	if parsed.Dialogue == "" && len(tools) == 0 {
		err := oops.Code(CodeOracleFailed).With("item_id", item.ID).Errorf("model returned no dialogue")
		s.actionFailed(ctx, req.WorldID, req.UserID, item.ID, clienterr.OpSubmitAction, err)
		return err
	}

	approval := ApprovalRequest{
		WorldID:             req.WorldID,
		SourceActionID:      req.ActionItemID,
		CharacterID:         req.Prompt.CharacterID,
		UserID:              req.UserID,
		NPCID:               req.Prompt.NPCID,
		NPCName:             req.Prompt.NPCName,
		ProposedDialogue:    parsed.Dialogue,
		InternalReasoning:   parsed.Reasoning,
		ProposedTools:       tools,
		Topics:              parsed.Topics,
		ChallengeSuggestion: matchChallenge(parsed.Challenge, req.Prompt.Challenges),
		EventSuggestion:     matchEvent(parsed.Event, req.Prompt.Events),
		PlayerDialogue:      req.Prompt.PlayerDialogue,
		RetryCount:          req.RetryCount,
		Prompt:              req.Prompt,
	}
	id, err := s.approvals.EnqueueItem(ctx, queue.Item[ApprovalRequest]{
		WorldID:    req.WorldID,
		CallbackID: req.CallbackID,
		Payload:    approval,
		Priority:   queue.PriorityPlayer,
	})
	if err != nil {
		return errEnqueue(s.approvals.Name(), err)
	}
	s.logger.InfoContext(ctx, "npc response awaiting approval",
		"world_id", req.WorldID,
		"approval_id", id,
		"npc_id", approval.NPCID,
		"retry", req.RetryCount)
	return nil
}

func (s *LLMService) handleSuggestion(ctx context.Context, item *queue.Item[LLMRequest]) error {
	req := item.Payload
	resp, err := s.llm.Complete(ctx, BuildSuggestionPrompt(*req.Suggestion))
	if err != nil {
		err = oops.Code(CodeOracleFailed).With("world_id", req.WorldID).With("item_id", item.ID).Wrap(err)
		s.suggestionFailed(ctx, item, clienterr.Message(clienterr.OpEnqueueSuggestion))
		return err
	}
	if s.cancelled(ctx, item) {
		return nil
	}

	suggestions := ParseSuggestionList(resp.Content)
	if len(suggestions) == 0 {
		s.suggestionFailed(ctx, item, "No suggestions were returned.")
		return oops.Code(CodeOracleFailed).With("item_id", item.ID).Errorf("model returned no suggestions")
	}
	s.emit(ctx, req.WorldID, broadcast.ToDM(broadcast.EventSuggestionCompleted, SuggestionPayload{
		RequestID:   req.CallbackID,
		FieldType:   req.Suggestion.FieldType,
		Suggestions: suggestions,
	}))
	return nil
}

func (s *LLMService) suggestionFailed(ctx context.Context, item *queue.Item[LLMRequest], message string) {
	if s.cancelled(ctx, item) {
		return
	}
	s.emit(ctx, item.Payload.WorldID, broadcast.ToDM(broadcast.EventSuggestionFailed, SuggestionPayload{
		RequestID: item.Payload.CallbackID,
		FieldType: item.Payload.Suggestion.FieldType,
		Error:     message,
	}))
}

func (s *LLMService) handleOutcome(ctx context.Context, item *queue.Item[LLMRequest]) error {
	if s.outcomes == nil {
		return errInvalid("outcome suggestions are not enabled")
	}
	req := *item.Payload.Outcome

	resp, err := s.llm.Complete(ctx, BuildOutcomePrompt(req))
	if err != nil {
		s.outcomes.SuggestionsFailed(ctx, req.WorldID, req.ResolutionID, err.Error())
		return oops.Code(CodeOracleFailed).With("resolution_id", req.ResolutionID).Wrap(err)
	}
	if s.cancelled(ctx, item) {
		s.outcomes.SuggestionsFailed(ctx, req.WorldID, req.ResolutionID, CancelledByUser)
		return nil
	}

	if req.Branches {
		branches, ok := ParseBranches(resp.Content)
		if !ok {
			s.outcomes.SuggestionsFailed(ctx, req.WorldID, req.ResolutionID, "unparseable branches")
			return oops.Code(CodeOracleFailed).With("resolution_id", req.ResolutionID).Errorf("model returned no branches")
		}
		return s.outcomes.UpdateBranches(ctx, req.WorldID, req.ResolutionID, branches)
	}

	suggestions := ParseSuggestionList(resp.Content)
	if len(suggestions) == 0 {
		s.outcomes.SuggestionsFailed(ctx, req.WorldID, req.ResolutionID, "no suggestions")
		return oops.Code(CodeOracleFailed).With("resolution_id", req.ResolutionID).Errorf("model returned no suggestions")
	}
	return s.outcomes.UpdateSuggestions(ctx, req.WorldID, req.ResolutionID, suggestions)
}

// cancelled reports whether item was cancelled while the model was running.
func (s *LLMService) cancelled(ctx context.Context, item *queue.Item[LLMRequest]) bool {
	return cancelledInFlight(ctx, s.queue, item, s.logger)
}

func validateRequest(req LLMRequest) error {
	if req.WorldID == "" {
		return errInvalid("llm request needs a world")
	}
	switch req.Type {
	case RequestNPCResponse:
		if req.Prompt == nil {
			return errInvalid("npc response request needs a prompt")
		}
	case RequestSuggestion:
		if req.Suggestion == nil {
			return errInvalid("suggestion request needs a suggestion context")
		}
	case RequestOutcomeSuggestion:
		if req.Outcome == nil {
			return errInvalid("outcome suggestion request needs an outcome")
		}
	default:
		return errInvalid("unknown llm request type %q", req.Type)
	}
	return nil
}

// matchChallenge keeps a suggestion only if it names an active challenge.
func matchChallenge(raw *RawChallengeSuggestion, active []ChallengeHint) *ChallengeSuggestion {
	if raw == nil {
		return nil
	}
	for _, c := range active {
		if c.ID == raw.ChallengeID {
			return &ChallengeSuggestion{
				ChallengeID:   c.ID,
				ChallengeName: c.Name,
				Difficulty:    c.Difficulty,
				Confidence:    raw.Confidence,
				Reasoning:     raw.Reasoning,
			}
		}
	}
	return nil
}

// matchEvent keeps a suggestion only if it names an active event.
func matchEvent(raw *RawEventSuggestion, active []EventHint) *EventSuggestion {
	if raw == nil {
		return nil
	}
	for _, e := range active {
		if e.ID == raw.EventID {
			return &EventSuggestion{
				EventID:         e.ID,
				EventName:       e.Name,
				Confidence:      raw.Confidence,
				Reasoning:       raw.Reasoning,
				MatchedTriggers: raw.MatchedTriggers,
			}
		}
	}
	return nil
}
