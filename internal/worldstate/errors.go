// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package worldstate

import (
	"errors"

	"github.com/samber/oops"
)

// Error codes for world state lookups.
const (
	CodeApprovalNotFound = "WORLD_STATE_APPROVAL_NOT_FOUND"
	CodeStagingNotFound  = "WORLD_STATE_STAGING_NOT_FOUND"
)

// ErrNotFound is wrapped by every not-found error from this package.
var ErrNotFound = errors.New("not found")

// ErrApprovalNotFound reports a missing pending approval.
func ErrApprovalNotFound(worldID, id string) error {
	return oops.Code(CodeApprovalNotFound).
		With("world_id", worldID).
		With("approval_id", id).
		Wrap(ErrNotFound)
}

// ErrStagingNotFound reports a missing pending staging proposal.
func ErrStagingNotFound(worldID, requestID string) error {
	return oops.Code(CodeStagingNotFound).
		With("world_id", worldID).
		With("request_id", requestID).
		Wrap(ErrNotFound)
}
