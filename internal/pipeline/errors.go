// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package pipeline

import (
	"github.com/samber/oops"
)

// Error codes for pipeline stages.
const (
	CodeInvalidPayload   = "PIPELINE_INVALID_PAYLOAD"
	CodeEnqueueFailed    = "PIPELINE_ENQUEUE_FAILED"
	CodeApprovalNotFound = "PIPELINE_APPROVAL_NOT_FOUND"
	CodeApprovalClosed   = "PIPELINE_APPROVAL_CLOSED"
	CodeOracleFailed     = "PIPELINE_ORACLE_FAILED"
	CodeGenerationFailed = "PIPELINE_GENERATION_FAILED"
	CodeContextFailed    = "PIPELINE_CONTEXT_FAILED"
)

func errInvalid(format string, args ...any) error {
	return oops.Code(CodeInvalidPayload).Errorf(format, args...)
}

func errEnqueue(queueName string, err error) error {
	return oops.Code(CodeEnqueueFailed).With("queue", queueName).Wrap(err)
}
