// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package queue

import (
	"errors"

	"github.com/samber/oops"
)

// Error codes for queue failures.
const (
	CodeNotFound      = "QUEUE_ITEM_NOT_FOUND"
	CodeBackend       = "QUEUE_BACKEND_FAILED"
	CodeSerialization = "QUEUE_SERIALIZATION_FAILED"
	CodeInvalidStatus = "QUEUE_INVALID_STATUS"
	CodeHandlerPanic  = "QUEUE_HANDLER_PANIC"
)

// ErrNotFound is the sentinel wrapped by every not-found queue error.
var ErrNotFound = errors.New("queue item not found")

// ErrItemNotFound creates a not-found error for id.
func ErrItemNotFound(queue, id string) error {
	return oops.Code(CodeNotFound).
		With("queue", queue).
		With("item_id", id).
		Wrap(ErrNotFound)
}

// ErrBackend wraps a storage failure.
func ErrBackend(queue, operation string, cause error) error {
	return oops.Code(CodeBackend).
		With("queue", queue).
		With("operation", operation).
		Wrap(cause)
}

// ErrSerialization wraps a payload encode/decode failure.
func ErrSerialization(queue, id string, cause error) error {
	return oops.Code(CodeSerialization).
		With("queue", queue).
		With("item_id", id).
		Wrap(cause)
}

// ErrInvalidStatus rejects an unknown status string.
func ErrInvalidStatus(status string) error {
	return oops.Code(CodeInvalidStatus).
		With("status", status).
		Errorf("invalid queue status %q", status)
}
