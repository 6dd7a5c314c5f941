// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package staging

import (
	"errors"

	"github.com/samber/oops"
)

// Error codes for staging operations.
const (
	CodeNotFound         = "STAGING_NOT_FOUND"
	CodeProposalNotFound = "STAGING_PROPOSAL_NOT_FOUND"
	CodeValidation       = "STAGING_VALIDATION_FAILED"
	CodeRegionNotFound   = "STAGING_REGION_NOT_FOUND"
	CodeStoreFailed      = "STAGING_STORE_FAILED"
	CodeConflict         = "STAGING_CONFLICT"
	CodeCandidatesFailed = "STAGING_CANDIDATES_FAILED"
)

// ErrNotFound is wrapped by every not-found error from this package and its
// repositories.
var ErrNotFound = errors.New("not found")

// ErrStagingNotFound reports an unknown staging id.
func ErrStagingNotFound(id string) error {
	return oops.Code(CodeNotFound).With("staging_id", id).Wrap(ErrNotFound)
}

// ErrProposalNotFound reports an unknown or already resolved proposal.
func ErrProposalNotFound(worldID, requestID string) error {
	return oops.Code(CodeProposalNotFound).
		With("world_id", worldID).
		With("request_id", requestID).
		Wrap(ErrNotFound)
}

// ErrValidation reports malformed input.
func ErrValidation(format string, args ...any) error {
	return oops.Code(CodeValidation).Errorf(format, args...)
}
