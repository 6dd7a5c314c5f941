// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package protocol defines the JSON messages clients send over the session
// socket, generates their JSON Schemas and validates inbound frames against
// them before they are decoded.
package protocol

import "encoding/json"

// MessageType names an inbound message.
type MessageType string

// Inbound message types.
const (
	TypePlayerAction      MessageType = "player_action"
	TypeSelectCharacter   MessageType = "select_character"
	TypeMoveToRegion      MessageType = "move_to_region"
	TypeExitToLocation    MessageType = "exit_to_location"
	TypeSubmitRoll        MessageType = "submit_roll"
	TypeOutcomeDecision   MessageType = "outcome_decision"
	TypeApprovalDecision  MessageType = "approval_decision"
	TypeDMAction          MessageType = "dm_action"
	TypeApproveStaging    MessageType = "approve_staging"
	TypePreStage          MessageType = "pre_stage"
	TypeRequestSuggestion MessageType = "request_suggestion"
	TypeCancelSuggestion  MessageType = "cancel_suggestion"
	TypeGenerateAsset     MessageType = "generate_asset"
	TypeCancelAsset       MessageType = "cancel_asset"
	TypeMarkRead          MessageType = "mark_read"
	TypeListBatches       MessageType = "list_batches"
	TypeListPending       MessageType = "list_pending"
)

// Envelope wraps every inbound frame.
type Envelope struct {
	Type      MessageType     `json:"type" jsonschema:"minLength=1"`
	RequestID string          `json:"request_id,omitempty" jsonschema:"description=Echoed back on errors"`
	Payload   json.RawMessage `json:"payload"`
}

// PlayerAction is something a player character says or does.
type PlayerAction struct {
	CharacterID   string `json:"character_id" jsonschema:"minLength=1"`
	CharacterName string `json:"character_name" jsonschema:"minLength=1"`
	ActionType    string `json:"action_type" jsonschema:"enum=speak,enum=examine,enum=interact,enum=travel"`
	TargetID      string `json:"target_id,omitempty" jsonschema:"description=NPC the action is aimed at"`
	Dialogue      string `json:"dialogue,omitempty" jsonschema:"maxLength=4000"`
	RegionID      string `json:"region_id,omitempty"`
}

// SelectCharacter picks the character a player controls.
type SelectCharacter struct {
	CharacterID string `json:"character_id" jsonschema:"minLength=1"`
}

// MoveToRegion walks a character to a region of its location.
type MoveToRegion struct {
	CharacterID string `json:"character_id" jsonschema:"minLength=1"`
	RegionID    string `json:"region_id" jsonschema:"minLength=1"`
}

// ExitToLocation moves a character to another location.
type ExitToLocation struct {
	CharacterID     string `json:"character_id" jsonschema:"minLength=1"`
	LocationID      string `json:"location_id" jsonschema:"minLength=1"`
	ArrivalRegionID string `json:"arrival_region_id,omitempty"`
}

// Dice is a roll either typed in by the player or rolled by the server.
type Dice struct {
	Kind    string `json:"kind" jsonschema:"enum=manual,enum=formula"`
	Formula string `json:"formula,omitempty" jsonschema:"example=1d20+3"`
	Value   int    `json:"value,omitempty"`
}

// SubmitRoll rolls against a challenge.
type SubmitRoll struct {
	ChallengeID   string `json:"challenge_id" jsonschema:"minLength=1"`
	CharacterID   string `json:"character_id" jsonschema:"minLength=1"`
	CharacterName string `json:"character_name,omitempty"`
	Dice          Dice   `json:"dice"`
	Modifier      int    `json:"modifier,omitempty"`
}

// OutcomeDecision is the DM's verdict on a rolled outcome.
type OutcomeDecision struct {
	ResolutionID        string `json:"resolution_id" jsonschema:"minLength=1"`
	Kind                string `json:"kind" jsonschema:"enum=accept,enum=edit,enum=suggest,enum=request_branches,enum=select_branch"`
	ModifiedDescription string `json:"modified_description,omitempty"`
	Guidance            string `json:"guidance,omitempty"`
	BranchID            string `json:"branch_id,omitempty"`
	BranchCount         int    `json:"branch_count,omitempty" jsonschema:"minimum=1,maximum=5"`
}

// ApprovalDecision is the DM's verdict on an NPC response.
type ApprovalDecision struct {
	ItemID           string              `json:"item_id" jsonschema:"minLength=1"`
	Kind             string              `json:"kind" jsonschema:"enum=accept,enum=accept_with_recipients,enum=accept_with_modification,enum=reject,enum=take_over"`
	ModifiedDialogue string              `json:"modified_dialogue,omitempty"`
	ApprovedTools    []string            `json:"approved_tools,omitempty"`
	Feedback         string              `json:"feedback,omitempty"`
	DMResponse       string              `json:"dm_response,omitempty"`
	ItemRecipients   map[string][]string `json:"item_recipients,omitempty"`
}

// DMAction is a direct DM command.
type DMAction struct {
	Kind      string `json:"kind" jsonschema:"enum=direct_npc_control,enum=trigger_event,enum=transition_scene"`
	NPCID     string `json:"npc_id,omitempty"`
	NPCName   string `json:"npc_name,omitempty"`
	Dialogue  string `json:"dialogue,omitempty"`
	EventID   string `json:"event_id,omitempty"`
	EventName string `json:"event_name,omitempty"`
	SceneID   string `json:"scene_id,omitempty"`
}

// StagedNPC is one NPC in a staging the DM approves.
type StagedNPC struct {
	CharacterID         string `json:"character_id" jsonschema:"minLength=1"`
	Name                string `json:"name" jsonschema:"minLength=1"`
	IsPresent           bool   `json:"is_present"`
	IsHiddenFromPlayers bool   `json:"is_hidden_from_players,omitempty"`
	Reasoning           string `json:"reasoning,omitempty"`
	Mood                string `json:"mood,omitempty"`
}

// ApproveStaging approves a pending staging proposal.
type ApproveStaging struct {
	RequestID string      `json:"request_id" jsonschema:"minLength=1"`
	NPCs      []StagedNPC `json:"npcs"`
	TTLHours  int         `json:"ttl_hours,omitempty" jsonschema:"minimum=1,maximum=168"`
	Source    string      `json:"source,omitempty" jsonschema:"enum=rule_based,enum=llm_based,enum=dm_manual"`
	Guidance  string      `json:"guidance,omitempty"`
}

// PreStage stages a region before anyone arrives.
type PreStage struct {
	RegionID   string      `json:"region_id" jsonschema:"minLength=1"`
	LocationID string      `json:"location_id" jsonschema:"minLength=1"`
	NPCs       []StagedNPC `json:"npcs"`
	TTLHours   int         `json:"ttl_hours,omitempty" jsonschema:"minimum=1,maximum=168"`
	Guidance   string      `json:"guidance,omitempty"`
}

// RequestSuggestion asks the model for ideas for a creative field.
type RequestSuggestion struct {
	FieldType    string `json:"field_type" jsonschema:"minLength=1"`
	EntityType   string `json:"entity_type,omitempty"`
	EntityName   string `json:"entity_name,omitempty"`
	WorldSetting string `json:"world_setting,omitempty"`
	Hints        string `json:"hints,omitempty"`
	Additional   string `json:"additional_context,omitempty"`
}

// CancelSuggestion cancels a suggestion request.
type CancelSuggestion struct {
	RequestID string `json:"request_id" jsonschema:"minLength=1"`
}

// GenerateAsset asks for image assets.
type GenerateAsset struct {
	EntityType     string `json:"entity_type" jsonschema:"minLength=1"`
	EntityID       string `json:"entity_id" jsonschema:"minLength=1"`
	AssetType      string `json:"asset_type" jsonschema:"enum=portrait,enum=sprite,enum=backdrop,enum=item"`
	Workflow       string `json:"workflow" jsonschema:"minLength=1"`
	Prompt         string `json:"prompt" jsonschema:"minLength=1,maxLength=4000"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Count          int    `json:"count,omitempty" jsonschema:"minimum=1,maximum=8"`
	StyleReference string `json:"style_reference,omitempty"`
}

// CancelAsset cancels a queued asset batch.
type CancelAsset struct {
	BatchID string `json:"batch_id" jsonschema:"minLength=1"`
}

// MarkRead flags a generated batch or suggestion as read or unread.
type MarkRead struct {
	EntityType string `json:"entity_type" jsonschema:"enum=batch,enum=suggestion"`
	ItemID     string `json:"item_id" jsonschema:"minLength=1"`
	Read       bool   `json:"read"`
}

// ListBatches lists the world's asset batches with read flags.
type ListBatches struct {
	Limit int `json:"limit,omitempty" jsonschema:"minimum=1,maximum=200"`
}

// ListPending lists NPC responses and roll outcomes waiting on the DM.
type ListPending struct{}

// payloads creates an empty payload for each message type.
var payloads = map[MessageType]func() any{
	TypePlayerAction:      func() any { return &PlayerAction{} },
	TypeSelectCharacter:   func() any { return &SelectCharacter{} },
	TypeMoveToRegion:      func() any { return &MoveToRegion{} },
	TypeExitToLocation:    func() any { return &ExitToLocation{} },
	TypeSubmitRoll:        func() any { return &SubmitRoll{} },
	TypeOutcomeDecision:   func() any { return &OutcomeDecision{} },
	TypeApprovalDecision:  func() any { return &ApprovalDecision{} },
	TypeDMAction:          func() any { return &DMAction{} },
	TypeApproveStaging:    func() any { return &ApproveStaging{} },
	TypePreStage:          func() any { return &PreStage{} },
	TypeRequestSuggestion: func() any { return &RequestSuggestion{} },
	TypeCancelSuggestion:  func() any { return &CancelSuggestion{} },
	TypeGenerateAsset:     func() any { return &GenerateAsset{} },
	TypeCancelAsset:       func() any { return &CancelAsset{} },
	TypeMarkRead:          func() any { return &MarkRead{} },
	TypeListBatches:       func() any { return &ListBatches{} },
	TypeListPending:       func() any { return &ListPending{} },
}

// Types lists every inbound message type.
func Types() []MessageType {
	out := make([]MessageType, 0, len(payloads))
	for t := range payloads {
		out = append(out, t)
	}
	sortTypes(out)
	return out
}
