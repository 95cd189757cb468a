package tools

import (
	"errors"
	"fmt"
)

// ErrorCode classifies invocation failures. The orchestrator never retries
// on its own; callers decide using Retryable.
type ErrorCode string

const (
	// ErrCodeInvalidRequest marks a malformed envelope or unknown tool.
	ErrCodeInvalidRequest ErrorCode = "INVALID_REQUEST"

	// ErrCodeCanonViolation marks an invocation that failed the sovereignty test.
	ErrCodeCanonViolation ErrorCode = "CANON_VIOLATION"

	// ErrCodeTrustRejected marks a source whose trust is below threshold.
	ErrCodeTrustRejected ErrorCode = "TRUST_REJECTED"

	// ErrCodeToolCrash marks a panic inside the tool.
	ErrCodeToolCrash ErrorCode = "TOOL_CRASH"

	// ErrCodeTimeout marks a deadline expiry.
	ErrCodeTimeout ErrorCode = "TIMEOUT"

	// ErrCodeOverloaded marks a queue-full rejection of a low-priority call.
	ErrCodeOverloaded ErrorCode = "OVERLOADED"

	// ErrCodeDependencyUnavailable marks an offline downstream collaborator.
	ErrCodeDependencyUnavailable ErrorCode = "DEPENDENCY_UNAVAILABLE"

	// ErrCodePolicyBlocked marks a mutation the evolution policy refused.
	ErrCodePolicyBlocked ErrorCode = "POLICY_BLOCKED"

	// ErrCodeInternal marks an invariant breach. Not retryable; alert.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeInvalidRequest:        false,
	ErrCodeCanonViolation:        false,
	ErrCodeTrustRejected:         false,
	ErrCodeToolCrash:             true,
	ErrCodeTimeout:               true,
	ErrCodeOverloaded:            true,
	ErrCodeDependencyUnavailable: true,
	ErrCodePolicyBlocked:         false,
	ErrCodeInternal:              false,
}

// Retryable reports whether an invocation failing with this code may be
// resubmitted unchanged.
func (c ErrorCode) Retryable() bool {
	return retryableCodes[c]
}

// Failure builds a failed Result with the code's retryability filled in.
func Failure(code ErrorCode, format string, args ...any) Result {
	return Result{
		Success:   false,
		ErrorCode: code,
		Message:   fmt.Sprintf(format, args...),
		Retryable: code.Retryable(),
	}
}

// Registry errors.
var (
	// ErrToolNotFound is returned when a tool is not registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolNameEmpty is returned when a tool has no name.
	ErrToolNameEmpty = errors.New("tool name cannot be empty")

	// ErrNilCapability is returned when registering a nil capability.
	ErrNilCapability = errors.New("capability cannot be nil")

	// ErrToolAlreadyRegistered is returned when registering a duplicate.
	ErrToolAlreadyRegistered = errors.New("tool already registered")
)
