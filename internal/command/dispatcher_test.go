// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package command_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/storyengine/internal/broadcast"
	"github.com/holomush/storyengine/internal/clienterr"
	"github.com/holomush/storyengine/internal/clock"
	"github.com/holomush/storyengine/internal/command"
	"github.com/holomush/storyengine/internal/protocol"
	"github.com/holomush/storyengine/pkg/errutil"
)

var (
	player = command.Session{WorldID: "saltmarsh", UserID: "user-1", Role: broadcast.RolePlayer}
	dm     = command.Session{WorldID: "saltmarsh", UserID: "dm-1", Role: broadcast.RoleDM}
)

type dispatchHarness struct {
	events     *broadcast.Recorder
	registry   *command.Registry
	dispatcher *command.Dispatcher
}

func newDispatchHarness(t *testing.T, opts ...command.DispatcherOption) *dispatchHarness {
	t.Helper()
	codec, err := protocol.NewCodec()
	require.NoError(t, err)

	h := &dispatchHarness{events: broadcast.NewRecorder(), registry: command.NewRegistry()}
	services := &command.Services{Events: h.events, Clock: clock.System{}}
	h.dispatcher = command.NewDispatcher(h.registry, codec, services,
		clienterr.Public{"CHALLENGE_INACTIVE": true}, opts...)

	require.NoError(t, h.registry.Register(command.Entry{
		Type: protocol.TypeCancelAsset,
		Handler: func(ctx context.Context, exec *command.Execution) error {
			p, err := protocol.Payload[protocol.CancelAsset](exec.Message)
			if err != nil {
				return err
			}
			return exec.Reply(ctx, map[string]string{"batch_id": p.BatchID})
		},
		Roles:     []broadcast.Role{broadcast.RoleDM, broadcast.RolePlayer},
		Operation: clienterr.OpGenerateAsset,
	}))
	return h
}

func (h *dispatchHarness) failure(t *testing.T) command.ErrorPayload {
	t.Helper()
	evs := h.events.OfType(broadcast.EventActionFailed)
	require.Len(t, evs, 1)
	p, ok := evs[0].Payload.(command.ErrorPayload)
	require.True(t, ok)
	return p
}

func TestDispatch_RunsHandlerAndAcks(t *testing.T) {
	h := newDispatchHarness(t)

	err := h.dispatcher.Dispatch(context.Background(), player,
		[]byte(`{"type":"cancel_asset","request_id":"r-1","payload":{"batch_id":"b-9"}}`))
	require.NoError(t, err)

	acks := h.events.OfType(broadcast.EventAck)
	require.Len(t, acks, 1)
	assert.Equal(t, broadcast.ScopeUser, acks[0].Scope)
	assert.Equal(t, "user-1", acks[0].UserID)
	ack, ok := acks[0].Payload.(command.AckPayload)
	require.True(t, ok)
	assert.Equal(t, "r-1", ack.RequestID)
	assert.Equal(t, protocol.TypeCancelAsset, ack.Type)
	assert.Equal(t, map[string]string{"batch_id": "b-9"}, ack.Result)
	assert.Empty(t, h.events.OfType(broadcast.EventActionFailed))
}

func TestDispatch_NoSession(t *testing.T) {
	h := newDispatchHarness(t)

	err := h.dispatcher.Dispatch(context.Background(), command.Session{UserID: "user-1"},
		[]byte(`{"type":"cancel_asset","payload":{"batch_id":"b"}}`))
	errutil.AssertErrorCode(t, err, command.CodeNoSession)
	assert.Empty(t, h.events.Events())
}

func TestDispatch_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		sess     command.Session
		frame    string
		wantCode string
		wantMsg  string
	}{
		{
			name:     "malformed frame",
			sess:     player,
			frame:    `{"type":`,
			wantCode: protocol.CodeInvalidEnvelope,
			wantMsg:  "The request was malformed.",
		},
		{
			name:     "unknown type",
			sess:     player,
			frame:    `{"type":"teleport","payload":{}}`,
			wantCode: protocol.CodeUnknownType,
			wantMsg:  "Unknown request.",
		},
		{
			name:     "schema violation",
			sess:     player,
			frame:    `{"type":"cancel_asset","payload":{"batch_id":""}}`,
			wantCode: protocol.CodeSchemaViolation,
			wantMsg:  "The request was malformed.",
		},
		{
			name:     "no handler registered",
			sess:     player,
			frame:    `{"type":"list_batches","payload":{}}`,
			wantCode: command.CodeUnknownMessage,
			wantMsg:  "Unknown request.",
		},
		{
			name:     "spectator",
			sess:     command.Session{WorldID: "saltmarsh", UserID: "watcher", Role: broadcast.RoleSpectator},
			frame:    `{"type":"cancel_asset","payload":{"batch_id":"b"}}`,
			wantCode: command.CodePermissionDenied,
			wantMsg:  "You don't have permission to do that.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newDispatchHarness(t)

			err := h.dispatcher.Dispatch(context.Background(), tt.sess, []byte(tt.frame))
			errutil.AssertErrorCode(t, err, tt.wantCode)

			p := h.failure(t)
			assert.Equal(t, tt.wantCode, p.Code)
			assert.Equal(t, tt.wantMsg, p.Message)
			assert.NotEmpty(t, p.CorrelationID)
			assert.Empty(t, h.events.OfType(broadcast.EventAck))
		})
	}
}

func TestDispatch_HandlerErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"internal detail is hidden", errors.New("pq: connection refused"), clienterr.CodeInternal},
		{"public code passes", oops.Code("CHALLENGE_INACTIVE").Errorf("challenge lock is disabled"), "CHALLENGE_INACTIVE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newDispatchHarness(t)
			require.NoError(t, h.registry.Register(command.Entry{
				Type:      protocol.TypeListPending,
				Handler:   func(context.Context, *command.Execution) error { return tt.err },
				Operation: clienterr.OpResolveOutcome,
			}))

			err := h.dispatcher.Dispatch(context.Background(), dm,
				[]byte(`{"type":"list_pending","request_id":"r-2"}`))
			require.ErrorIs(t, err, tt.err)

			p := h.failure(t)
			assert.Equal(t, tt.wantCode, p.Code)
			assert.Equal(t, clienterr.Message(clienterr.OpResolveOutcome), p.Message)
			assert.Equal(t, "r-2", p.RequestID)
			assert.Equal(t, protocol.TypeListPending, p.Type)
			assert.NotContains(t, p.Message, "pq")
		})
	}
}

func TestDispatch_RateLimitsPlayersOnly(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	rl := command.NewRateLimiter(command.RateLimiterConfig{BurstCapacity: 1, SustainedRate: 1, Clock: clk})
	t.Cleanup(rl.Close)
	h := newDispatchHarness(t, command.WithRateLimiter(rl))
	frame := []byte(`{"type":"cancel_asset","payload":{"batch_id":"b"}}`)
	ctx := context.Background()

	require.NoError(t, h.dispatcher.Dispatch(ctx, player, frame))
	err := h.dispatcher.Dispatch(ctx, player, frame)
	errutil.AssertErrorCode(t, err, command.CodeRateLimited)
	assert.Equal(t, "Too many requests. Please slow down.", h.failure(t).Message)

	for range 5 {
		require.NoError(t, h.dispatcher.Dispatch(ctx, dm, frame))
	}

	clk.Advance(time.Second)
	require.NoError(t, h.dispatcher.Dispatch(ctx, player, frame))
}

func TestDispatch_RecordsMetrics(t *testing.T) {
	h := newDispatchHarness(t)
	before := testutil.ToFloat64(command.MessagesHandled.WithLabelValues("cancel_asset", command.StatusSuccess))

	require.NoError(t, h.dispatcher.Dispatch(context.Background(), player,
		[]byte(`{"type":"cancel_asset","payload":{"batch_id":"b"}}`)))

	after := testutil.ToFloat64(command.MessagesHandled.WithLabelValues("cancel_asset", command.StatusSuccess))
	assert.InDelta(t, 1, after-before, 0.001)
}

func TestDispatch_ReplyFailureIsLogged(t *testing.T) {
	h := newDispatchHarness(t)
	h.events.FailWith(errors.New("hub closed"))

	err := h.dispatcher.Dispatch(context.Background(), player, []byte(`{"type":"teleport"}`))
	errutil.AssertErrorCode(t, err, protocol.CodeUnknownType)
}

func TestDispatch_RateExemptMessages(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	rl := command.NewRateLimiter(command.RateLimiterConfig{BurstCapacity: 1, SustainedRate: 1, Clock: clk})
	t.Cleanup(rl.Close)
	exempt, err := command.CompileMessagePatterns([]string{"list_*"})
	require.NoError(t, err)
	h := newDispatchHarness(t, command.WithRateLimiter(rl), command.WithRateExemptions(exempt))
	require.NoError(t, h.registry.Register(command.Entry{
		Type:    protocol.TypeListPending,
		Handler: func(ctx context.Context, exec *command.Execution) error { return exec.Reply(ctx, nil) },
	}))
	ctx := context.Background()

	require.NoError(t, h.dispatcher.Dispatch(ctx, player, []byte(`{"type":"cancel_asset","payload":{"batch_id":"b"}}`)))
	for range 3 {
		require.NoError(t, h.dispatcher.Dispatch(ctx, player, []byte(`{"type":"list_pending"}`)))
	}
	err = h.dispatcher.Dispatch(ctx, player, []byte(`{"type":"cancel_asset","payload":{"batch_id":"b"}}`))
	errutil.AssertErrorCode(t, err, command.CodeRateLimited)
}
