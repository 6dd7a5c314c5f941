// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package pipeline

import (
	"encoding/json"
	"time"

	"github.com/holomush/storyengine/internal/challenge"
	"github.com/holomush/storyengine/internal/worldstate"
)

// Queue names.
const (
	QueuePlayerActions = "player_actions"
	QueueLLMRequests   = "llm_requests"
	QueueApprovals     = "dm_approvals"
	QueueAssets        = "asset_generation"
	QueueDMActions     = "dm_actions"
)

// PlayerAction is something a player did that an NPC may answer.
type PlayerAction struct {
	WorldID       string    `json:"world_id"`
	UserID        string    `json:"user_id"`
	CharacterID   string    `json:"character_id"`
	CharacterName string    `json:"character_name"`
	ActionType    string    `json:"action_type"`
	TargetID      string    `json:"target_id,omitempty"`
	Dialogue      string    `json:"dialogue,omitempty"`
	RegionID      string    `json:"region_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// RequestType selects what an LLM request produces.
type RequestType string

// LLM request types.
const (
	RequestNPCResponse       RequestType = "npc_response"
	RequestSuggestion        RequestType = "suggestion"
	RequestOutcomeSuggestion RequestType = "outcome_suggestion"
)

// ChallengeHint is an active challenge the NPC may suggest.
type ChallengeHint struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Difficulty  string `json:"difficulty,omitempty"`
}

// EventHint is an active narrative event the NPC may steer towards.
type EventHint struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// PromptContext is everything the model sees when answering as an NPC.
type PromptContext struct {
	SceneID          string                         `json:"scene_id,omitempty"`
	SceneName        string                         `json:"scene_name,omitempty"`
	SceneDescription string                         `json:"scene_description,omitempty"`
	LocationName     string                         `json:"location_name,omitempty"`
	GameTime         string                         `json:"game_time,omitempty"`
	CharacterID      string                         `json:"character_id"`
	CharacterName    string                         `json:"character_name"`
	NPCID            string                         `json:"npc_id"`
	NPCName          string                         `json:"npc_name"`
	NPCDescription   string                         `json:"npc_description,omitempty"`
	ActionType       string                         `json:"action_type"`
	PlayerDialogue   string                         `json:"player_dialogue,omitempty"`
	DirectorialNotes string                         `json:"directorial_notes,omitempty"`
	History          []worldstate.ConversationEntry `json:"history,omitempty"`
	Challenges       []ChallengeHint                `json:"challenges,omitempty"`
	Events           []EventHint                    `json:"events,omitempty"`
}

// SuggestionContext describes a creative field the DM wants ideas for.
type SuggestionContext struct {
	FieldType    string `json:"field_type"`
	EntityType   string `json:"entity_type,omitempty"`
	EntityName   string `json:"entity_name,omitempty"`
	WorldSetting string `json:"world_setting,omitempty"`
	Hints        string `json:"hints,omitempty"`
	Additional   string `json:"additional_context,omitempty"`
}

// LLMRequest is one unit of model work. Exactly one of Prompt, Suggestion
// and Outcome is set, matching Type.
type LLMRequest struct {
	Type         RequestType                  `json:"type"`
	WorldID      string                       `json:"world_id"`
	UserID       string                       `json:"user_id,omitempty"`
	ActionItemID string                       `json:"action_item_id,omitempty"`
	CallbackID   string                       `json:"callback_id"`
	Prompt       *PromptContext               `json:"prompt,omitempty"`
	Suggestion   *SuggestionContext           `json:"suggestion,omitempty"`
	Outcome      *challenge.SuggestionRequest `json:"outcome,omitempty"`
	// Feedback is the DM's note from a rejected earlier attempt.
	Feedback   string `json:"feedback,omitempty"`
	RetryCount int    `json:"retry_count,omitempty"`
}

// ProposedTool is a side effect the model proposed alongside its dialogue.
type ProposedTool struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Arguments   json.RawMessage `json:"arguments"`
}

// ChallengeSuggestion is the model's proposal to call for a roll.
type ChallengeSuggestion struct {
	ChallengeID   string `json:"challenge_id"`
	ChallengeName string `json:"challenge_name"`
	Difficulty    string `json:"difficulty,omitempty"`
	Confidence    string `json:"confidence,omitempty"`
	Reasoning     string `json:"reasoning,omitempty"`
}

// EventSuggestion is the model's proposal to fire a narrative event.
type EventSuggestion struct {
	EventID         string   `json:"event_id"`
	EventName       string   `json:"event_name"`
	Confidence      string   `json:"confidence,omitempty"`
	Reasoning       string   `json:"reasoning,omitempty"`
	MatchedTriggers []string `json:"matched_triggers,omitempty"`
}

// ApprovalRequest is an NPC response waiting on the DM.
type ApprovalRequest struct {
	WorldID             string               `json:"world_id"`
	SourceActionID      string               `json:"source_action_id"`
	CharacterID         string               `json:"character_id,omitempty"`
	UserID              string               `json:"user_id,omitempty"`
	NPCID               string               `json:"npc_id"`
	NPCName             string               `json:"npc_name"`
	ProposedDialogue    string               `json:"proposed_dialogue"`
	InternalReasoning   string               `json:"internal_reasoning,omitempty"`
	ProposedTools       []ProposedTool       `json:"proposed_tools,omitempty"`
	Topics              []string             `json:"topics,omitempty"`
	ChallengeSuggestion *ChallengeSuggestion `json:"challenge_suggestion,omitempty"`
	EventSuggestion     *EventSuggestion     `json:"event_suggestion,omitempty"`
	PlayerDialogue      string               `json:"player_dialogue,omitempty"`
	RetryCount          int                  `json:"retry_count"`
	// Prompt is kept so a rejected response can be regenerated.
	Prompt *PromptContext `json:"prompt,omitempty"`
}

// DecisionKind is the DM's verdict on an NPC response.
type DecisionKind string

// Approval decision kinds.
const (
	DecisionAccept                 DecisionKind = "accept"
	DecisionAcceptWithRecipients   DecisionKind = "accept_with_recipients"
	DecisionAcceptWithModification DecisionKind = "accept_with_modification"
	DecisionReject                 DecisionKind = "reject"
	DecisionTakeOver               DecisionKind = "take_over"
)

// ApprovalDecision is a DM decision on an ApprovalRequest. Only the fields
// of Kind are read.
type ApprovalDecision struct {
	Kind             DecisionKind `json:"kind"`
	ModifiedDialogue string       `json:"modified_dialogue,omitempty"`
	ApprovedTools    []string     `json:"approved_tools,omitempty"`
	Feedback         string       `json:"feedback,omitempty"`
	DMResponse       string       `json:"dm_response,omitempty"`
	// ItemRecipients maps a give_item tool id to the characters receiving it.
	ItemRecipients map[string][]string `json:"item_recipients,omitempty"`
}

// AssetRequest asks for an image asset.
type AssetRequest struct {
	WorldID        string `json:"world_id"`
	BatchID        string `json:"batch_id"`
	EntityType     string `json:"entity_type"`
	EntityID       string `json:"entity_id"`
	AssetType      string `json:"asset_type"`
	Workflow       string `json:"workflow"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Count          int    `json:"count"`
	StyleReference string `json:"style_reference,omitempty"`
	RequestedBy    string `json:"requested_by,omitempty"`
}

// DMActionKind selects what a DM action does.
type DMActionKind string

// DM action kinds.
const (
	ActionApprovalDecision DMActionKind = "approval_decision"
	ActionDirectNPCControl DMActionKind = "direct_npc_control"
	ActionTriggerEvent     DMActionKind = "trigger_event"
	ActionTransitionScene  DMActionKind = "transition_scene"
)

// DMAction is a DM command. Only the fields of Kind are set.
type DMAction struct {
	WorldID        string            `json:"world_id"`
	DMID           string            `json:"dm_id"`
	Kind           DMActionKind      `json:"kind"`
	ApprovalItemID string            `json:"approval_item_id,omitempty"`
	Decision       *ApprovalDecision `json:"decision,omitempty"`
	NPCID          string            `json:"npc_id,omitempty"`
	NPCName        string            `json:"npc_name,omitempty"`
	Dialogue       string            `json:"dialogue,omitempty"`
	EventID        string            `json:"event_id,omitempty"`
	EventName      string            `json:"event_name,omitempty"`
	SceneID        string            `json:"scene_id,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

// Broadcast payloads.

// DialogueResponsePayload is an approved NPC line.
type DialogueResponsePayload struct {
	SpeakerID   string `json:"speaker_id"`
	SpeakerName string `json:"speaker_name"`
	Text        string `json:"text"`
}

// ApprovalRequiredPayload asks the DM to review an NPC response.
type ApprovalRequiredPayload struct {
	RequestID           string               `json:"request_id"`
	NPCName             string               `json:"npc_name"`
	ProposedDialogue    string               `json:"proposed_dialogue"`
	InternalReasoning   string               `json:"internal_reasoning,omitempty"`
	ProposedTools       []ProposedTool       `json:"proposed_tools,omitempty"`
	ChallengeSuggestion *ChallengeSuggestion `json:"challenge_suggestion,omitempty"`
	EventSuggestion     *EventSuggestion     `json:"event_suggestion,omitempty"`
	RetryCount          int                  `json:"retry_count"`
}

// ResponseRejectedPayload tells the DM a rejection used up the retries.
type ResponseRejectedPayload struct {
	RequestID string `json:"request_id"`
	NPCName   string `json:"npc_name"`
	Feedback  string `json:"feedback"`
	Reason    string `json:"reason"`
}

// SuggestionPayload carries suggestion results or their failure.
type SuggestionPayload struct {
	RequestID   string   `json:"request_id"`
	FieldType   string   `json:"field_type"`
	Suggestions []string `json:"suggestions,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// BatchStatus is an asset batch's state as the DM sees it.
type BatchStatus string

// Batch statuses.
const (
	BatchQueued     BatchStatus = "queued"
	BatchGenerating BatchStatus = "generating"
	BatchReady      BatchStatus = "ready"
	BatchFailed     BatchStatus = "failed"
)

// GenerationPayload reports asset batch progress.
type GenerationPayload struct {
	BatchID    string      `json:"batch_id"`
	EntityType string      `json:"entity_type"`
	EntityID   string      `json:"entity_id"`
	AssetType  string      `json:"asset_type"`
	Status     BatchStatus `json:"status"`
	Progress   int         `json:"progress"`
	Assets     []string    `json:"assets,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// EventTriggeredPayload announces a narrative event.
type EventTriggeredPayload struct {
	EventID   string `json:"event_id"`
	EventName string `json:"event_name,omitempty"`
}

// SceneChangedPayload announces a scene transition.
type SceneChangedPayload struct {
	SceneID string `json:"scene_id"`
}

// ActionFailedPayload tells a user their queued action could not run. The
// message is already safe to show.
type ActionFailedPayload struct {
	ItemID        string `json:"item_id"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id"`
}
