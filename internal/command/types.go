// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package command routes validated client messages to the engine services
// with role checks, rate limiting, tracing and metrics.
package command

import (
	"context"

	"github.com/holomush/storyengine/internal/broadcast"
	"github.com/holomush/storyengine/internal/challenge"
	"github.com/holomush/storyengine/internal/clienterr"
	"github.com/holomush/storyengine/internal/clock"
	"github.com/holomush/storyengine/internal/movement"
	"github.com/holomush/storyengine/internal/pipeline"
	"github.com/holomush/storyengine/internal/protocol"
	"github.com/holomush/storyengine/internal/readstate"
	"github.com/holomush/storyengine/internal/staging"
)

// Handler runs one message.
type Handler func(ctx context.Context, exec *Execution) error

// Entry is a registered message handler.
type Entry struct {
	Type    protocol.MessageType
	Handler Handler
	// Roles may send the message. Empty allows every role.
	Roles []broadcast.Role
	// Operation selects the client message used when the handler fails.
	Operation clienterr.Operation
	Help      string
}

// Allows reports whether role may send the entry's message.
func (e Entry) Allows(role broadcast.Role) bool {
	if len(e.Roles) == 0 {
		return true
	}
	for _, r := range e.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Session is who sent a message.
type Session struct {
	WorldID string
	UserID  string
	Role    broadcast.Role
}

// Execution is one message being handled.
type Execution struct {
	Session
	Message  protocol.Message
	Services *Services
}

// Reply sends result to the sender as an ack of the message.
func (e *Execution) Reply(ctx context.Context, result any) error {
	return e.Services.Events.Broadcast(ctx, e.WorldID, broadcast.ToUser(e.UserID, broadcast.EventAck, AckPayload{
		RequestID: e.Message.RequestID,
		Type:      e.Message.Type,
		Result:    result,
	}))
}

// AckPayload answers a handled message.
type AckPayload struct {
	RequestID string               `json:"request_id,omitempty"`
	Type      protocol.MessageType `json:"type"`
	Result    any                  `json:"result,omitempty"`
}

// ErrorPayload tells the sender a message failed. The message is safe to
// show.
type ErrorPayload struct {
	RequestID     string               `json:"request_id,omitempty"`
	Type          protocol.MessageType `json:"type,omitempty"`
	Code          string               `json:"code"`
	Message       string               `json:"message"`
	CorrelationID string               `json:"correlation_id"`
}

// Services are the engine services handlers call. Handlers must not keep
// references beyond one execution.
type Services struct {
	Players    *pipeline.PlayerActionService
	LLM        *pipeline.LLMService
	Approvals  *pipeline.ApprovalService
	DMActions  *pipeline.DMActionService
	Assets     *pipeline.AssetService
	Challenges *challenge.Service
	Staging    *staging.Service
	Movement   *movement.Service
	Reads      readstate.Port
	Events     broadcast.Port
	Clock      clock.Clock
}
