// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package clienterr turns internal errors into messages that are safe to send
// to a connected client.
//
// The full error, with its oops context, is logged once under a correlation
// id. The client gets an operation-specific sentence, a stable code and the
// same id so operators can find the log entry.
package clienterr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/holomush/storyengine/internal/core"
	"github.com/holomush/storyengine/internal/logging"
	"github.com/holomush/storyengine/pkg/errutil"
)

// CodeInternal is sent when an error carries no code a client may see.
const CodeInternal = "INTERNAL_ERROR"

// Operation names what the client was trying to do.
type Operation string

// Operations with a client message.
const (
	OpSubmitAction      Operation = "submit_action"
	OpEnqueueSuggestion Operation = "enqueue_suggestion"
	OpApproveResponse   Operation = "approve_response"
	OpApproveStaging    Operation = "approve_staging"
	OpSubmitRoll        Operation = "submit_roll"
	OpResolveOutcome    Operation = "resolve_outcome"
	OpGenerateAsset     Operation = "generate_asset"
	OpMove              Operation = "move"
	OpDMAction          Operation = "dm_action"
)

var messages = map[Operation]string{
	OpSubmitAction:      "Failed to submit your action. Please try again.",
	OpEnqueueSuggestion: "Failed to enqueue suggestion. Please try again.",
	OpApproveResponse:   "Failed to apply the approval. Please try again.",
	OpApproveStaging:    "Failed to approve the staging. Please try again.",
	OpSubmitRoll:        "Failed to submit the roll. Please try again.",
	OpResolveOutcome:    "Failed to resolve the outcome. Please try again.",
	OpGenerateAsset:     "Failed to queue asset generation. Please try again.",
	OpMove:              "Failed to move. Please try again.",
	OpDMAction:          "Failed to run the DM action. Please try again.",
}

// Error is what a client receives.
type Error struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id"`
}

// Error implements error.
func (e Error) Error() string {
	return fmt.Sprintf("%s: %s (ref: %s)", e.Code, e.Message, e.CorrelationID)
}

// Public lists the error codes whose text a client may see verbatim. Codes
// not listed are reported as CodeInternal.
type Public map[string]bool

// Sanitizer builds client errors.
type Sanitizer struct {
	logger *slog.Logger
	public Public
}

// New creates a sanitizer. public may be nil.
func New(logger *slog.Logger, public Public) *Sanitizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sanitizer{logger: logger, public: public}
}

// Sanitize logs err and returns the client-safe form. The correlation id is
// the one on ctx, or a new one. A nil err returns the zero Error.
func (s *Sanitizer) Sanitize(ctx context.Context, op Operation, err error) Error {
	if err == nil {
		return Error{}
	}
	id := logging.CorrelationID(ctx)
	if id == "" {
		id = core.NewID()
	}
	errutil.LogErrorContext(ctx, s.logger, "client operation failed", err,
		"operation", string(op),
		"error_id", id,
	)
	return Error{
		Code:          s.code(err),
		Message:       Message(op),
		CorrelationID: id,
	}
}

func (s *Sanitizer) code(err error) string {
	var ce Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	if code := errutil.Code(err); s.public[code] {
		return code
	}
	return CodeInternal
}

// Message returns the generic sentence for op.
func Message(op Operation) string {
	if m, ok := messages[op]; ok {
		return m
	}
	return "Something went wrong. Please try again."
}
