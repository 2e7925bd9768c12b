// Package fault defines the error taxonomy shared by every Covault engine
// component. Failures carry a Kind (the broad class a caller can branch on)
// and a stable code string suitable for logs, receipts, and API surfaces.
//
// Every failure aborts the enclosing unit of work; the engine never retries
// internally. Retry is "resubmit a corrected intent", an operator action.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure into one of the engine's error classes.
type Kind string

const (
	// KindAuthorization covers callers that are not members or role
	// holders, account mismatches, and foreign origin proofs.
	KindAuthorization Kind = "AUTHORIZATION"
	// KindDependency covers unknown or stale plug-in version proofs.
	KindDependency Kind = "DEPENDENCY"
	// KindStateConflict covers duplicate locks, missing locks, double
	// approvals, and disapprovals without a prior approval.
	KindStateConflict Kind = "STATE_CONFLICT"
	// KindTiming covers too-early execution, expiry, and closed voting
	// windows.
	KindTiming Kind = "TIMING"
	// KindPolicy covers invalid or non-restrictive policy transitions and
	// unmet thresholds.
	KindPolicy Kind = "POLICY"
	// KindCompletion covers executables finished before every action was
	// drained and expired intents destroyed with actions still attached.
	KindCompletion Kind = "COMPLETION"
)

// Stable error codes. The namespace scheme is COVAULT/<AREA>/<CODE>.
const (
	CodeUnknownDependency  = "COVAULT/DEPS/UNKNOWN_DEPENDENCY"
	CodeAlreadyLocked      = "COVAULT/VAULT/ALREADY_LOCKED"
	CodeNoLock             = "COVAULT/VAULT/NO_LOCK"
	CodeReceiptMismatch    = "COVAULT/VAULT/RECEIPT_MISMATCH"
	CodeWrongAccount       = "COVAULT/AUTH/WRONG_ACCOUNT"
	CodeWrongOrigin        = "COVAULT/AUTH/WRONG_ORIGIN"
	CodeNotMember          = "COVAULT/AUTH/NOT_MEMBER"
	CodeNotRoleHolder      = "COVAULT/AUTH/NOT_ROLE_HOLDER"
	CodeAlreadyApproved    = "COVAULT/OUTCOME/ALREADY_APPROVED"
	CodeNotApproved        = "COVAULT/OUTCOME/NOT_APPROVED"
	CodeThresholdNotMet    = "COVAULT/OUTCOME/THRESHOLD_NOT_REACHED"
	CodeTooEarly           = "COVAULT/TIMING/TOO_EARLY"
	CodeExpired            = "COVAULT/TIMING/EXPIRED"
	CodeNotExpired         = "COVAULT/TIMING/NOT_EXPIRED"
	CodeVotingClosed       = "COVAULT/TIMING/VOTING_CLOSED"
	CodePolicyNotRestrict  = "COVAULT/UPGRADES/POLICY_SHOULD_RESTRICT"
	CodeInvalidPolicy      = "COVAULT/UPGRADES/INVALID_POLICY"
	CodeActionsRemaining   = "COVAULT/INTENTS/ACTIONS_REMAINING"
	CodeActionsNotDrained  = "COVAULT/INTENTS/ACTIONS_NOT_DRAINED"
	CodeIntentNotFound     = "COVAULT/INTENTS/NOT_FOUND"
	CodeIntentKeyTaken     = "COVAULT/INTENTS/KEY_ALREADY_EXISTS"
	CodeExecutableIssued   = "COVAULT/INTENTS/EXECUTABLE_OUTSTANDING"
	CodeAdmissionDenied    = "COVAULT/POLICY/ADMISSION_DENIED"
	CodePayloadRejected    = "COVAULT/POLICY/PAYLOAD_REJECTED"
	CodeInvalidConfig      = "COVAULT/CONFIG/INVALID"
	CodeAccountNotFound    = "COVAULT/SUBSTRATE/ACCOUNT_NOT_FOUND"
	CodeAccountExists      = "COVAULT/SUBSTRATE/ACCOUNT_EXISTS"
	CodeLeaseUnavailable   = "COVAULT/SUBSTRATE/LEASE_UNAVAILABLE"
	CodeReceiptConsumed    = "COVAULT/VAULT/RECEIPT_CONSUMED"
	CodeMaxPowerExceeded   = "COVAULT/OUTCOME/MAX_POWER_EXCEEDED"
	CodeTicketMismatch     = "COVAULT/UPGRADES/TICKET_MISMATCH"
)

// Error is the concrete error type produced by the engine.
type Error struct {
	Kind Kind
	Code string
	Msg  string
	Err  error // wrapped cause, optional
}

// New creates a fault with the given kind, code, and message.
func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

// Newf creates a fault with a formatted message.
func Newf(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a new fault. The cause participates in
// errors.Is/errors.As chains.
func Wrap(kind Kind, code, msg string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg, Err: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports code equality so that sentinel comparisons like
// errors.Is(err, fault.New(...CodeNoLock...)) behave sensibly.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// KindOf extracts the Kind from an error chain. Returns "" for non-fault
// errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// CodeOf extracts the stable code from an error chain. Returns "" for
// non-fault errors.
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsKind reports whether err (or anything it wraps) is a fault of the
// given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsCode reports whether err (or anything it wraps) carries the given
// stable code.
func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}
