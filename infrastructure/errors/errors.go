// Package errors provides unified, structured error handling for the
// execution core: a coded, wrappable error used across the Job
// Coordinator, Transaction Worker, Approval Machine and Event Bus.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a unique error code.
type Code string

const (
	// Validation errors (1xxx)
	CodeInvalidAddress   Code = "VAL_1001"
	CodeMissingField     Code = "VAL_1002"
	CodeInvalidPlanGraph Code = "VAL_1003"

	// Chain errors (2xxx)
	CodeUnsupportedChain Code = "CHAIN_2001"
	CodeSimulationFailed Code = "CHAIN_2002"
	CodeBroadcastFailed  Code = "CHAIN_2003"
	CodeConfirmTimeout   Code = "CHAIN_2004"

	// Approval errors (3xxx)
	CodeApprovalNotPending Code = "APPR_3001"
	CodeApprovalExpired    Code = "APPR_3002"
	CodeRiskBlocked        Code = "APPR_3003"

	// Job/queue errors (4xxx)
	CodeJobNotFound    Code = "JOB_4001"
	CodeJobAttemptsMax Code = "JOB_4002"
	CodeQueueUnknown   Code = "JOB_4003"

	// Service errors (5xxx)
	CodeInternal     Code = "SVC_5001"
	CodeStorageError Code = "SVC_5002"
	CodeTimeout      Code = "SVC_5003"
)

// Kind classifies how the Job Coordinator should treat an error emitted by
// a worker processor (spec §7).
type Kind int

const (
	// KindFatal terminates the job immediately without further retry.
	KindFatal Kind = iota
	// KindRetryable re-enqueues the job with backoff, subject to max-attempts.
	KindRetryable
)

// Error is a coded, wrappable error carrying an HTTP status (for surfaces
// that expose one) and a retry classification.
type Error struct {
	Code       Code
	Message    string
	HTTPStatus int
	Kind       Kind
	Details    map[string]any
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetails attaches a diagnostic key/value.
func (e *Error) WithDetails(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Retryable reports whether the Job Coordinator should retry the job that
// produced this error.
func (e *Error) Retryable() bool { return e.Kind == KindRetryable }

func newFatal(code Code, message string, status int) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: status, Kind: KindFatal}
}

func wrapFatal(code Code, message string, status int, err error) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: status, Kind: KindFatal, Err: err}
}

func wrapRetryable(code Code, message string, status int, err error) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: status, Kind: KindRetryable, Err: err}
}

// InvalidAddress reports a malformed sender/recipient address (fatal).
func InvalidAddress(field, value string) *Error {
	return newFatal(CodeInvalidAddress, "invalid address", http.StatusBadRequest).
		WithDetails("field", field).WithDetails("value", value)
}

// MissingField reports a required field absent from the input (fatal).
func MissingField(field string) *Error {
	return newFatal(CodeMissingField, "missing required field", http.StatusBadRequest).
		WithDetails("field", field)
}

// InvalidPlanGraph reports a plan whose dependency graph is invalid (fatal).
func InvalidPlanGraph(reason string) *Error {
	return newFatal(CodeInvalidPlanGraph, reason, http.StatusBadRequest)
}

// UnsupportedChain reports a chain-id with no registered adapter (fatal).
func UnsupportedChain(chainID int64) *Error {
	return newFatal(CodeUnsupportedChain, "unsupported chain", http.StatusUnprocessableEntity).
		WithDetails("chain_id", chainID)
}

// SimulationFailed reports a dry-run revert before broadcast (fatal).
func SimulationFailed(reason string, err error) *Error {
	return wrapFatal(CodeSimulationFailed, reason, http.StatusUnprocessableEntity, err)
}

// BroadcastFailed wraps a broadcast error, classified retryable or fatal by
// the caller based on the adapter's error classification.
func BroadcastFailed(err error, retryable bool) *Error {
	if retryable {
		return wrapRetryable(CodeBroadcastFailed, "broadcast failed", http.StatusServiceUnavailable, err)
	}
	return wrapFatal(CodeBroadcastFailed, "broadcast failed", http.StatusServiceUnavailable, err)
}

// ConfirmTimeout reports the receipt-poll ceiling was exceeded (fatal; a
// separate reconciliation path may re-attempt per spec §4.5 step 8).
func ConfirmTimeout(hash string) *Error {
	return newFatal(CodeConfirmTimeout, "confirmation timeout", http.StatusGatewayTimeout).
		WithDetails("hash", hash)
}

// ApprovalNotPending reports a resolve attempt on an already-resolved
// approval (invariant §8.2/§4.4).
func ApprovalNotPending(current string) *Error {
	return newFatal(CodeApprovalNotPending, "approval is not pending", http.StatusConflict).
		WithDetails("status", current)
}

// RiskBlocked reports a risk score above the hard block ceiling.
func RiskBlocked(score, maxScore float64) *Error {
	return newFatal(CodeRiskBlocked, "risk score exceeds maximum allowed", http.StatusForbidden).
		WithDetails("score", score).WithDetails("max", maxScore)
}

// JobAttemptsExhausted reports a job whose retry budget is spent.
func JobAttemptsExhausted(queue, jobID string) *Error {
	return newFatal(CodeJobAttemptsMax, "max attempts reached", http.StatusConflict).
		WithDetails("queue", queue).WithDetails("job_id", jobID)
}

// Internal wraps an unexpected internal error.
func Internal(message string, err error) *Error {
	return wrapFatal(CodeInternal, message, http.StatusInternalServerError, err)
}

// StorageError wraps a persistence-layer failure (retryable by default —
// transient store errors should not poison a job's retry budget on a
// single blip).
func StorageError(operation string, err error) *Error {
	return wrapRetryable(CodeStorageError, "storage operation failed", http.StatusInternalServerError, err).
		WithDetails("operation", operation)
}

// As extracts an *Error from err's chain, if present.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// HTTPStatus returns the HTTP status for err, defaulting to 500.
func HTTPStatus(err error) int {
	if e, ok := As(err); ok {
		return e.HTTPStatus
	}
	return http.StatusInternalServerError
}
