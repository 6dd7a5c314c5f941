// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package challenge

import (
	"errors"

	"github.com/samber/oops"
)

// Error codes for challenge resolution.
const (
	CodeNotFound           = "CHALLENGE_NOT_FOUND"
	CodeResolutionNotFound = "CHALLENGE_RESOLUTION_NOT_FOUND"
	CodeInactive           = "CHALLENGE_INACTIVE"
	CodeInvalidDice        = "CHALLENGE_INVALID_DICE"
	CodeValidation         = "CHALLENGE_VALIDATION_FAILED"
	CodeCatalogInvalid     = "CHALLENGE_CATALOG_INVALID"
	CodeSuggestionFailed   = "CHALLENGE_SUGGESTION_FAILED"
)

// ErrNotFound is wrapped by the package's not-found errors.
var ErrNotFound = errors.New("not found")

// ErrChallengeNotFound reports an unknown challenge.
func ErrChallengeNotFound(worldID, challengeID string) error {
	return oops.Code(CodeNotFound).
		With("world_id", worldID).
		With("challenge_id", challengeID).
		Wrap(ErrNotFound)
}

// ErrResolutionNotFound reports an unknown or already decided resolution.
func ErrResolutionNotFound(worldID, resolutionID string) error {
	return oops.Code(CodeResolutionNotFound).
		With("world_id", worldID).
		With("resolution_id", resolutionID).
		Wrap(ErrNotFound)
}

// ErrValidation reports malformed input.
func ErrValidation(format string, args ...any) error {
	return oops.Code(CodeValidation).Errorf(format, args...)
}
