// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package oracle

import (
	"context"
	"errors"

	"github.com/samber/oops"
)

// Error codes for oracle failures.
const (
	CodeTimeout         = "ORACLE_TIMEOUT"
	CodeUnavailable     = "ORACLE_UNAVAILABLE"
	CodeInvalidResponse = "ORACLE_INVALID_RESPONSE"
	CodeRejected        = "ORACLE_REQUEST_REJECTED"
)

// ErrPermanent marks failures that retrying cannot fix.
var ErrPermanent = errors.New("permanent oracle failure")

// ErrTimeout reports an oracle call that ran past its deadline.
func ErrTimeout(oracle string, cause error) error {
	return oops.Code(CodeTimeout).With("oracle", oracle).Wrap(orDefault(cause, context.DeadlineExceeded))
}

// ErrUnavailable reports an oracle that could not be reached.
func ErrUnavailable(oracle string, cause error) error {
	return oops.Code(CodeUnavailable).With("oracle", oracle).Wrap(orDefault(cause, errors.New("oracle unavailable")))
}

// ErrInvalidResponse reports an answer the engine could not use.
func ErrInvalidResponse(oracle, detail string) error {
	return oops.Code(CodeInvalidResponse).With("oracle", oracle).Errorf("invalid response: %s", detail)
}

// ErrRejected reports a request the oracle refused, such as a bad request or
// an authentication failure. It is never retried.
func ErrRejected(oracle string, status int, detail string) error {
	return oops.Code(CodeRejected).
		With("oracle", oracle).
		With("status", status).
		Wrapf(ErrPermanent, "request rejected: %s", detail)
}

// Retryable reports whether err may succeed on another attempt.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, ErrPermanent) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

func orDefault(err, def error) error {
	if err != nil {
		return err
	}
	return def
}
