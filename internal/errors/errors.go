package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a smartcopy error kind.
type ErrorCode string

const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"     // 400
	ErrUnknownMessage     ErrorCode = "UNKNOWN_MESSAGE"     // 400
	ErrSensitiveData      ErrorCode = "SENSITIVE_DATA"      // 422
	ErrContextInvalidated ErrorCode = "CONTEXT_INVALIDATED" // 410
	ErrChannelClosed      ErrorCode = "CHANNEL_CLOSED"      // 410
	ErrUnreachable        ErrorCode = "UNREACHABLE"         // 503
	ErrClipboardFailure   ErrorCode = "CLIPBOARD_FAILURE"   // 500
	ErrBackendFailure     ErrorCode = "BACKEND_FAILURE"     // 502
	ErrInternal           ErrorCode = "INTERNAL"            // 500
)

// Error represents a structured error with code, status, and details.
// Runtime failures are classified here once so callers never inspect
// error strings.
type Error struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *Error {
	return &Error{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewUnknownMessage creates a 400 error for a message type outside the protocol.
func NewUnknownMessage(msgType string) *Error {
	return &Error{
		Code:    ErrUnknownMessage,
		Status:  400,
		Message: "Unknown message type",
		Details: map[string]any{"type": msgType},
	}
}

// NewSensitiveData creates a 422 error when the privacy filter blocks a copy.
func NewSensitiveData() *Error {
	return &Error{
		Code:    ErrSensitiveData,
		Status:  422,
		Message: "selection contains sensitive data",
	}
}

// NewContextInvalidated creates a 410 error when the extension runtime
// has been reloaded or torn down underneath a client context.
func NewContextInvalidated(cause error) *Error {
	return &Error{
		Code:    ErrContextInvalidated,
		Status:  410,
		Message: "extension context invalidated",
		Cause:   cause,
	}
}

// NewChannelClosed creates a 410 error for sends on a destroyed channel.
func NewChannelClosed(channelID string) *Error {
	return &Error{
		Code:    ErrChannelClosed,
		Status:  410,
		Message: fmt.Sprintf("channel closed: %s", channelID),
		Details: map[string]any{"channel_id": channelID},
	}
}

// NewUnreachable creates a 503 error when the background context cannot be reached.
func NewUnreachable(cause error) *Error {
	msg := "background unreachable"
	if cause != nil {
		msg = fmt.Sprintf("background unreachable: %v", cause)
	}
	return &Error{
		Code:    ErrUnreachable,
		Status:  503,
		Message: msg,
		Cause:   cause,
	}
}

// NewClipboardFailure creates a 500 error when the clipboard write fails.
func NewClipboardFailure(cause error) *Error {
	return &Error{
		Code:    ErrClipboardFailure,
		Status:  500,
		Message: "failed to copy text",
		Cause:   cause,
	}
}

// NewBackendFailure creates a 502 error for a failed AI backend call.
func NewBackendFailure(feature string, status int, cause error) *Error {
	msg := fmt.Sprintf("%s request failed", feature)
	if status > 0 {
		msg = fmt.Sprintf("%s request failed with status %d", feature, status)
	}
	return &Error{
		Code:    ErrBackendFailure,
		Status:  502,
		Message: msg,
		Details: map[string]any{"feature": feature, "status": status},
		Cause:   cause,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *Error {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &Error{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		Cause:   err,
	}
}

// Is checks if err (or anything it wraps) is an Error with the given code.
func Is(err error, code ErrorCode) bool {
	return KindOf(err) == code
}

// KindOf returns the code of the first Error in err's chain, or "" if none.
func KindOf(err error) ErrorCode {
	var sErr *Error
	if stderrors.As(err, &sErr) {
		return sErr.Code
	}
	return ""
}

// Transient reports whether err means the background may come back on its own.
func Transient(err error) bool {
	switch KindOf(err) {
	case ErrContextInvalidated, ErrChannelClosed, ErrUnreachable:
		return true
	}
	return false
}
