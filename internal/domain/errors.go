package domain

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a failure kind surfaced by the capture and session layers.
type ErrorCode string

// Capture and file layer.
const (
	ErrorCodePermissionDenied    ErrorCode = "permission_denied"
	ErrorCodeDeviceUnavailable   ErrorCode = "device_unavailable"
	ErrorCodeUnsupportedPlatform ErrorCode = "unsupported_platform"
	ErrorCodeInvalidState        ErrorCode = "invalid_state"
	ErrorCodeRead                ErrorCode = "read_error"
)

// Session layer.
const (
	ErrorCodeConfiguration ErrorCode = "configuration_error"
	ErrorCodeNetwork       ErrorCode = "network_error"
	ErrorCodeRemote        ErrorCode = "remote_error"
	ErrorCodeCancelled     ErrorCode = "cancelled"
)

// Sentinels for errors.Is. They match any *Error with the same code.
var (
	ErrPermissionDenied    = &Error{Code: ErrorCodePermissionDenied}
	ErrDeviceUnavailable   = &Error{Code: ErrorCodeDeviceUnavailable}
	ErrUnsupportedPlatform = &Error{Code: ErrorCodeUnsupportedPlatform}
	ErrInvalidState        = &Error{Code: ErrorCodeInvalidState}
	ErrRead                = &Error{Code: ErrorCodeRead}
	ErrConfiguration       = &Error{Code: ErrorCodeConfiguration}
	ErrNetwork             = &Error{Code: ErrorCodeNetwork}
	ErrRemote              = &Error{Code: ErrorCodeRemote}
	ErrCancelled           = &Error{Code: ErrorCodeCancelled}
)

// Error carries a failure kind and a message suitable for display.
// None of these errors are retried internally.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

func NewError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Errorf builds an Error with a formatted message.
func Errorf(code ErrorCode, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Cause == nil:
		return string(e.Code)
	case e.Cause != nil && e.Message == "":
		return fmt.Sprintf("%s: %v", e.Code, e.Cause)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches sentinels by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Message == "" && t.Cause == nil
}

// AsError extracts the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	if target, ok := AsError(err); ok {
		return target.Code
	}
	return ""
}
