package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess       Code = 0
	CodeInternal      Code = 1
	CodeUsage         Code = 2
	CodeAuth          Code = 10
	CodeRateLimited   Code = 11
	CodeUnavailable   Code = 12
	CodeUnsupported   Code = 13
	CodeInvalidAmount Code = 14
	CodeBlocked       Code = 16
	CodeNoLiquidity   Code = 20
	CodeHubRejected   Code = 21
	CodeSigner        Code = 22
	CodeOnChain       Code = 23
	CodeActionTimeout Code = 24
	CodeBusy          Code = 25
)

// Error is a typed error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// HasCode reports whether any typed error in err's chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		typed, ok := As(err)
		if !ok {
			return false
		}
		if typed.Code == code {
			return true
		}
		err = typed.Cause
	}
	return false
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if typed, ok := As(err); ok {
		return int(typed.Code)
	}
	return int(CodeInternal)
}

// TypeName returns the envelope error type for a code.
func TypeName(code Code) string {
	switch code {
	case CodeUsage:
		return "usage_error"
	case CodeAuth:
		return "auth_error"
	case CodeRateLimited:
		return "rate_limited"
	case CodeUnavailable:
		return "unavailable"
	case CodeUnsupported:
		return "unsupported"
	case CodeInvalidAmount:
		return "invalid_amount"
	case CodeBlocked:
		return "command_blocked"
	case CodeNoLiquidity:
		return "no_liquidity"
	case CodeHubRejected:
		return "hub_rejected"
	case CodeSigner:
		return "signer_error"
	case CodeOnChain:
		return "onchain_error"
	case CodeActionTimeout:
		return "timeout"
	case CodeBusy:
		return "busy"
	default:
		return "internal_error"
	}
}
