// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package handlers

import (
	"github.com/samber/oops"

	"github.com/holomush/storyengine/internal/challenge"
	"github.com/holomush/storyengine/internal/clienterr"
	"github.com/holomush/storyengine/internal/command"
	"github.com/holomush/storyengine/internal/movement"
	"github.com/holomush/storyengine/internal/pipeline"
	"github.com/holomush/storyengine/internal/staging"
)

// PublicCodes are the handler error codes a client may see. Any other
// failure reaches the client as INTERNAL_ERROR.
func PublicCodes() clienterr.Public {
	return clienterr.Public{
		movement.CodePCNotFound:          true,
		movement.CodeRegionNotFound:      true,
		movement.CodeLocationNotFound:    true,
		movement.CodeRegionMismatch:      true,
		movement.CodeNoArrivalRegion:     true,
		movement.CodeConversationLocked:  true,
		movement.CodeValidation:          true,
		staging.CodeNotFound:             true,
		staging.CodeProposalNotFound:     true,
		staging.CodeRegionNotFound:       true,
		staging.CodeValidation:           true,
		staging.CodeConflict:             true,
		challenge.CodeNotFound:           true,
		challenge.CodeResolutionNotFound: true,
		challenge.CodeInactive:           true,
		challenge.CodeInvalidDice:        true,
		challenge.CodeValidation:         true,
		pipeline.CodeInvalidPayload:      true,
		pipeline.CodeApprovalNotFound:    true,
		pipeline.CodeApprovalClosed:      true,
	}
}

func errNotYourCharacter(characterID string) error {
	return oops.Code(command.CodePermissionDenied).
		With("character_id", characterID).
		Errorf("character %s belongs to another player", characterID)
}
