// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/storyengine/pkg/errutil"
)

func newCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec()
	require.NoError(t, err)
	return c
}

func TestCodec_Decode(t *testing.T) {
	c := newCodec(t)

	msg, err := c.Decode([]byte(`{
		"type": "submit_roll",
		"request_id": "req-1",
		"payload": {
			"challenge_id": "ch-lock",
			"character_id": "pc-ana",
			"dice": {"kind": "formula", "formula": "1d20+3"},
			"modifier": 2
		}
	}`))
	require.NoError(t, err)
	assert.Equal(t, TypeSubmitRoll, msg.Type)
	assert.Equal(t, "req-1", msg.RequestID)

	roll, err := Payload[SubmitRoll](msg)
	require.NoError(t, err)
	assert.Equal(t, "ch-lock", roll.ChallengeID)
	assert.Equal(t, "1d20+3", roll.Dice.Formula)
	assert.Equal(t, 2, roll.Modifier)

	_, err = Payload[MoveToRegion](msg)
	errutil.AssertErrorCode(t, err, CodeUnknownType)
}

func TestCodec_DecodeRejects(t *testing.T) {
	c := newCodec(t)

	tests := []struct {
		name  string
		frame string
		code  string
	}{
		{name: "not json", frame: `hello`, code: CodeInvalidEnvelope},
		{name: "missing type", frame: `{"payload":{}}`, code: CodeInvalidEnvelope},
		{name: "unknown type", frame: `{"type":"teleport","payload":{}}`, code: CodeUnknownType},
		{name: "missing required field", frame: `{"type":"move_to_region","payload":{"character_id":"pc-ana"}}`, code: CodeSchemaViolation},
		{name: "empty required field", frame: `{"type":"move_to_region","payload":{"character_id":"","region_id":"r"}}`, code: CodeSchemaViolation},
		{name: "missing payload", frame: `{"type":"cancel_asset"}`, code: CodeSchemaViolation},
		{name: "enum violation", frame: `{"type":"mark_read","payload":{"entity_type":"scroll","item_id":"x","read":true}}`, code: CodeSchemaViolation},
		{name: "unknown field", frame: `{"type":"cancel_asset","payload":{"batch_id":"b","force":true}}`, code: CodeSchemaViolation},
		{name: "out of range", frame: `{"type":"generate_asset","payload":{"entity_type":"npc","entity_id":"n","asset_type":"portrait","workflow":"w","prompt":"p","count":20}}`, code: CodeSchemaViolation},
		{name: "wrong type", frame: `{"type":"submit_roll","payload":{"challenge_id":"c","character_id":"p","dice":{"kind":"manual","value":"twelve"}}}`, code: CodeSchemaViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decode([]byte(tt.frame))
			errutil.AssertErrorCode(t, err, tt.code)
		})
	}
}

func TestCodec_EveryTypeDecodesItsPayload(t *testing.T) {
	c := newCodec(t)
	frames := map[MessageType]string{
		TypePlayerAction:      `{"character_id":"pc","character_name":"Ana","action_type":"speak","target_id":"npc","dialogue":"Hi"}`,
		TypeSelectCharacter:   `{"character_id":"pc"}`,
		TypeMoveToRegion:      `{"character_id":"pc","region_id":"r"}`,
		TypeExitToLocation:    `{"character_id":"pc","location_id":"l"}`,
		TypeSubmitRoll:        `{"challenge_id":"c","character_id":"pc","dice":{"kind":"manual","value":12}}`,
		TypeOutcomeDecision:   `{"resolution_id":"res","kind":"request_branches","branch_count":3}`,
		TypeApprovalDecision:  `{"item_id":"it","kind":"accept_with_recipients","item_recipients":{"tool-1":["pc"]}}`,
		TypeDMAction:          `{"kind":"transition_scene","scene_id":"s"}`,
		TypeApproveStaging:    `{"request_id":"rq","npcs":[{"character_id":"n","name":"Marta","is_present":true}]}`,
		TypePreStage:          `{"region_id":"r","location_id":"l","npcs":[]}`,
		TypeRequestSuggestion: `{"field_type":"npc_name"}`,
		TypeCancelSuggestion:  `{"request_id":"rq"}`,
		TypeGenerateAsset:     `{"entity_type":"npc","entity_id":"n","asset_type":"portrait","workflow":"w","prompt":"p"}`,
		TypeCancelAsset:       `{"batch_id":"b"}`,
		TypeMarkRead:          `{"entity_type":"batch","item_id":"b","read":true}`,
		TypeListBatches:       `{"limit":20}`,
		TypeListPending:       `{}`,
	}
	require.Len(t, frames, len(Types()))

	for typ, payload := range frames {
		t.Run(string(typ), func(t *testing.T) {
			frame, err := json.Marshal(map[string]any{"type": typ, "payload": json.RawMessage(payload)})
			require.NoError(t, err)
			msg, err := c.Decode(frame)
			require.NoError(t, err)
			assert.Equal(t, typ, msg.Type)
			assert.NotNil(t, msg.Payload)
		})
	}
}

func TestSchemas(t *testing.T) {
	all, err := Schemas()
	require.NoError(t, err)
	assert.Len(t, all, len(Types())+1)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(all[string(TypeMoveToRegion)], &doc))
	assert.Equal(t, SchemaID("move_to_region"), doc["$id"])
	assert.ElementsMatch(t, []any{"character_id", "region_id"}, doc["required"])

	require.NoError(t, json.Unmarshal(all[EventSchemaName], &doc))
	assert.Equal(t, "Broadcast event", doc["title"])

	_, err = GenerateSchema("teleport")
	errutil.AssertErrorCode(t, err, CodeUnknownType)
}

func TestFormatViolation(t *testing.T) {
	assert.Empty(t, FormatViolation(nil))
}
