// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package command

import (
	"github.com/samber/oops"

	"github.com/holomush/storyengine/internal/broadcast"
	"github.com/holomush/storyengine/internal/protocol"
)

// Error codes for message dispatch failures.
const (
	CodeUnknownMessage   = "UNKNOWN_MESSAGE"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeRateLimited      = "RATE_LIMITED"
	CodeNoSession        = "NO_SESSION"
	CodeInvalidEntry     = "INVALID_HANDLER_ENTRY"
)

// ErrUnknownMessage creates an error for a message without a handler.
func ErrUnknownMessage(t protocol.MessageType) error {
	return oops.Code(CodeUnknownMessage).
		With("type", t).
		Errorf("no handler for message %s", t)
}

// ErrPermissionDenied creates an error for a role that may not send t.
func ErrPermissionDenied(t protocol.MessageType, role broadcast.Role) error {
	return oops.Code(CodePermissionDenied).
		With("type", t).
		With("role", role).
		Errorf("role %s may not send %s", role, t)
}

// ErrRateLimited creates an error for a sender over its budget.
func ErrRateLimited(cooldownMs int64) error {
	return oops.Code(CodeRateLimited).
		With("cooldown_ms", cooldownMs).
		Errorf("Too many requests. Please slow down.")
}

// ErrNoSession creates an error for a message without a world or user.
func ErrNoSession() error {
	return oops.Code(CodeNoSession).Errorf("message has no world or user")
}

// ErrInvalidEntry creates an error for a malformed registry entry.
func ErrInvalidEntry(t protocol.MessageType) error {
	return oops.Code(CodeInvalidEntry).
		With("type", t).
		Errorf("handler entry needs a type and a handler")
}

// ClientMessage returns the sentence shown for dispatch-level failures, or
// "" when the handler's operation message applies.
func ClientMessage(code string) string {
	switch code {
	case CodeUnknownMessage, protocol.CodeUnknownType:
		return "Unknown request."
	case CodePermissionDenied:
		return "You don't have permission to do that."
	case CodeRateLimited:
		return "Too many requests. Please slow down."
	case protocol.CodeInvalidEnvelope, protocol.CodeSchemaViolation:
		return "The request was malformed."
	case CodeNoSession:
		return "No world or user associated with this connection."
	}
	return ""
}
