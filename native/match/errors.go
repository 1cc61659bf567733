package match

import (
	"errors"
	"fmt"
)

// ErrorCode classifies the failure modes of the escrow core. Precondition
// failures are expected and user-facing; integrity and capability failures are
// always blocking.
type ErrorCode uint8

const (
	// CodePrecondition marks an invalid action for the current state, a
	// duplicate deposit, a missing player and similar expected rejections.
	CodePrecondition ErrorCode = iota + 1
	// CodeCapability marks a target network that lacks a scripting feature
	// required by the covenant builder.
	CodeCapability
	// CodeIntegrity marks a request that would break a theft-resistance
	// invariant, such as a settlement output to a third party.
	CodeIntegrity
	// CodeTransport marks a failed or timed out chain submission.
	CodeTransport
)

func (c ErrorCode) String() string {
	switch c {
	case CodePrecondition:
		return "precondition"
	case CodeCapability:
		return "capability"
	case CodeIntegrity:
		return "integrity"
	case CodeTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Error is the structured rejection value returned by the match core. It is
// always returned, never panicked.
type Error struct {
	Code   ErrorCode
	Op     string
	Reason string
}

func (e *Error) Error() string {
	if e == nil {
		return "match: nil error"
	}
	if e.Op == "" {
		return fmt.Sprintf("match: %s: %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("match: %s: %s: %s", e.Code, e.Op, e.Reason)
}

func newPrecondition(op, format string, args ...interface{}) *Error {
	return &Error{Code: CodePrecondition, Op: op, Reason: fmt.Sprintf(format, args...)}
}

func newIntegrity(op, format string, args ...interface{}) *Error {
	return &Error{Code: CodeIntegrity, Op: op, Reason: fmt.Sprintf(format, args...)}
}

// NewCapabilityError reports a missing scripting feature on the target
// network. Exposed so the script backend can fail fast before funds move.
func NewCapabilityError(op, format string, args ...interface{}) *Error {
	return &Error{Code: CodeCapability, Op: op, Reason: fmt.Sprintf(format, args...)}
}

// NewTransportError wraps a chain submission failure.
func NewTransportError(op, format string, args ...interface{}) *Error {
	return &Error{Code: CodeTransport, Op: op, Reason: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the error code from err, or zero when err is not a match
// error.
func CodeOf(err error) ErrorCode {
	var me *Error
	if errors.As(err, &me) {
		return me.Code
	}
	return 0
}

// IsPrecondition reports whether err is an expected precondition rejection.
func IsPrecondition(err error) bool { return CodeOf(err) == CodePrecondition }

// IsIntegrity reports whether err marks a theft-resistance violation.
func IsIntegrity(err error) bool { return CodeOf(err) == CodeIntegrity }

// IsCapability reports whether err marks a missing network scripting feature.
func IsCapability(err error) bool { return CodeOf(err) == CodeCapability }
