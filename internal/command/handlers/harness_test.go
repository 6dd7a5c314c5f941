// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package handlers_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/holomush/storyengine/internal/broadcast"
	"github.com/holomush/storyengine/internal/challenge"
	"github.com/holomush/storyengine/internal/clock"
	"github.com/holomush/storyengine/internal/command"
	"github.com/holomush/storyengine/internal/command/handlers"
	"github.com/holomush/storyengine/internal/movement"
	"github.com/holomush/storyengine/internal/oracle"
	"github.com/holomush/storyengine/internal/pipeline"
	"github.com/holomush/storyengine/internal/protocol"
	"github.com/holomush/storyengine/internal/queue"
	"github.com/holomush/storyengine/internal/readstate"
	"github.com/holomush/storyengine/internal/staging"
	"github.com/holomush/storyengine/internal/world"
	"github.com/holomush/storyengine/internal/worldstate"
)

const worldID = "saltmarsh"

const worldYAML = `
worlds:
  saltmarsh:
    name: Saltmarsh
    npcs:
      - id: npc-marta
        name: Marta
    locations:
      - id: gilded-eel
        name: The Gilded Eel
        default_region: taproom
        regions:
          - id: taproom
            name: Taproom
            npcs:
              - npc: npc-marta
                relation: works_at
                shift: always
          - id: cellar
            name: Cellar
          - id: kitchen
            name: Kitchen
    connections:
      - from: taproom
        to: kitchen
        bidirectional: true
      - from: taproom
        to: cellar
        locked: true
        lock_description: The trapdoor is bolted.
    characters:
      - id: pc-ana
        name: Ana
        user_id: user-1
        location: gilded-eel
        region: taproom
`

var (
	ana   = command.Session{WorldID: worldID, UserID: "user-1", Role: broadcast.RolePlayer}
	bo    = command.Session{WorldID: worldID, UserID: "user-2", Role: broadcast.RolePlayer}
	dm    = command.Session{WorldID: worldID, UserID: "dm-1", Role: broadcast.RoleDM}
	watch = command.Session{WorldID: worldID, UserID: "watcher", Role: broadcast.RoleSpectator}
)

type harness struct {
	clk        *clock.Manual
	events     *broadcast.Recorder
	services   *command.Services
	dispatcher *command.Dispatcher
	registry   *command.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC))
	events := broadcast.NewRecorder()
	state := worldstate.NewStore(clk)

	m, err := world.LoadMap(strings.NewReader(worldYAML))
	require.NoError(t, err)

	catalog := challenge.NewMemoryCatalog()
	catalog.Put(challenge.Challenge{
		ID:         "lock",
		WorldID:    worldID,
		Name:       "Pick the lock",
		Difficulty: challenge.DC(15),
		Outcomes: challenge.Outcomes{
			Success: challenge.Outcome{Description: "The lock clicks open."},
			Failure: challenge.Outcome{Description: "The pick snaps."},
		},
	})
	stats := challenge.NewStats()
	executor := challenge.NewStateExecutor(state, catalog, stats)
	challenges := challenge.NewService(catalog, state, executor, events, challenge.Config{Clock: clk})

	llmQ := queue.NewMemoryQueue[pipeline.LLMRequest](pipeline.QueueLLMRequests, clk)
	approvalQ := queue.NewMemoryQueue[pipeline.ApprovalRequest](pipeline.QueueApprovals, clk)
	llm := pipeline.NewLLMService(llmQ, approvalQ, oracle.Disabled{}, challenges, events, nil)
	challenges.SetSuggestionRequester(llm)
	approvals := pipeline.NewApprovalService(approvalQ, llm, state, executor, events, nil)
	reads := readstate.NewMemory(clk)

	stagings := staging.NewService(staging.NewMemoryRepository(), m, state, oracle.Disabled{}, events,
		staging.Config{Clock: clk, ApprovalTimeout: 30 * time.Second})

	h := &harness{clk: clk, events: events, registry: command.NewRegistry()}
	h.services = &command.Services{
		Players: pipeline.NewPlayerActionService(
			queue.NewMemoryQueue[pipeline.PlayerAction](pipeline.QueuePlayerActions, clk),
			llm, state, world.NewContextProvider(m, state, catalog), events, nil),
		LLM:       llm,
		Approvals: approvals,
		DMActions: pipeline.NewDMActionService(
			queue.NewMemoryQueue[pipeline.DMAction](pipeline.QueueDMActions, clk), approvals, state, events, nil),
		Assets: pipeline.NewAssetService(
			queue.NewMemoryQueue[pipeline.AssetRequest](pipeline.QueueAssets, clk),
			oracle.Disabled{}, reads, events, pipeline.AssetConfig{}),
		Challenges: challenges,
		Staging:    stagings,
		Movement:   movement.NewService(m, stagings, state, events, nil),
		Reads:      reads,
		Events:     events,
		Clock:      clk,
	}

	codec, err := protocol.NewCodec()
	require.NoError(t, err)
	handlers.RegisterAll(h.registry)
	h.dispatcher = command.NewDispatcher(h.registry, codec, h.services, handlers.PublicCodes())
	return h
}

// send dispatches one message and returns the ack's result.
func (h *harness) send(t *testing.T, sess command.Session, typ protocol.MessageType, payload any) (any, error) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	frame, err := json.Marshal(protocol.Envelope{Type: typ, RequestID: "req-" + string(typ), Payload: raw})
	require.NoError(t, err)

	h.events.Reset()
	if err := h.dispatcher.Dispatch(context.Background(), sess, frame); err != nil {
		return nil, err
	}
	acks := h.events.OfType(broadcast.EventAck)
	require.Len(t, acks, 1)
	ack, ok := acks[0].Payload.(command.AckPayload)
	require.True(t, ok)
	require.Equal(t, typ, ack.Type)
	return ack.Result, nil
}

// mustSend is send for messages expected to succeed.
func (h *harness) mustSend(t *testing.T, sess command.Session, typ protocol.MessageType, payload any) any {
	t.Helper()
	res, err := h.send(t, sess, typ, payload)
	require.NoError(t, err)
	return res
}

func resultAs[T any](t *testing.T, res any) T {
	t.Helper()
	v, ok := res.(T)
	require.True(t, ok, "result is %T", res)
	return v
}
