// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package movement

import (
	"errors"

	"github.com/samber/oops"
)

// Error codes for movement.
const (
	CodePCNotFound         = "MOVEMENT_PC_NOT_FOUND"
	CodeRegionNotFound     = "MOVEMENT_REGION_NOT_FOUND"
	CodeLocationNotFound   = "MOVEMENT_LOCATION_NOT_FOUND"
	CodeRegionMismatch     = "MOVEMENT_REGION_LOCATION_MISMATCH"
	CodeNoArrivalRegion    = "MOVEMENT_NO_ARRIVAL_REGION"
	CodeConversationLocked = "MOVEMENT_CONVERSATION_LOCKED"
	CodeGraphFailed        = "MOVEMENT_GRAPH_FAILED"
	CodeValidation         = "MOVEMENT_VALIDATION_FAILED"
)

// ErrNotFound is returned by Graph implementations for unknown entities.
var ErrNotFound = errors.New("not found")

// lookup converts a Graph error into a movement error carrying code when the
// entity is missing.
func lookup(err error, code, key, id string) error {
	if errors.Is(err, ErrNotFound) {
		return oops.Code(code).With(key, id).Errorf("%s %s not found", key, id)
	}
	return oops.Code(CodeGraphFailed).With(key, id).Wrap(err)
}
