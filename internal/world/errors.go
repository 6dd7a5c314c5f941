// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package world

import "github.com/samber/oops"

// Error codes for the world map.
const (
	CodeMapInvalid    = "WORLD_MAP_INVALID"
	CodeWorldNotFound = "WORLD_NOT_FOUND"
	CodeNPCNotFound   = "WORLD_NPC_NOT_FOUND"
)

// ErrWorldNotFound reports an unknown world.
func ErrWorldNotFound(worldID string) error {
	return oops.Code(CodeWorldNotFound).With("world_id", worldID).Errorf("world %s not found", worldID)
}
