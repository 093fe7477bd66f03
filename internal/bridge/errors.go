package bridge

import (
	"errors"
	"fmt"
)

// ErrConnectionAborted signals that the host closed the stream. It is the
// expected way for a worker loop to end and is never logged as an error.
var ErrConnectionAborted = errors.New("connection aborted")

// ProtocolError reports a broken bridge invariant: a signal byte with no
// token, a token naming no payload, a process missing its kinds. Dispatch and
// ReceiveFromHost raise it with panic; SendMessage returns it for a value of
// the wrong type.
type ProtocolError struct {
	// Code identifies the violation.
	Code ProtocolErrorCode

	// Message is a human-readable description.
	Message string

	// Process names the affected process, if known.
	Process string
}

// ProtocolErrorCode categorizes protocol errors.
type ProtocolErrorCode string

const (
	// ErrCodeMissingToken indicates a signal byte arrived with no queued token.
	ErrCodeMissingToken ProtocolErrorCode = "MISSING_TOKEN"

	// ErrCodeBadToken indicates a side-channel token that is not a handle.
	ErrCodeBadToken ProtocolErrorCode = "BAD_TOKEN"

	// ErrCodeUnknownHandle indicates a handle absent from the payload table.
	ErrCodeUnknownHandle ProtocolErrorCode = "UNKNOWN_HANDLE"

	// ErrCodeMissingKind indicates the process has no valid type or return kind.
	ErrCodeMissingKind ProtocolErrorCode = "MISSING_KIND"

	// ErrCodeWrongType indicates a host value that does not match the input kind.
	ErrCodeWrongType ProtocolErrorCode = "WRONG_TYPE"

	// ErrCodeMissingChannel indicates the process has no side channel.
	ErrCodeMissingChannel ProtocolErrorCode = "MISSING_CHANNEL"

	// ErrCodeMissingHandler indicates the process has no call handler.
	ErrCodeMissingHandler ProtocolErrorCode = "MISSING_HANDLER"
)

func (e *ProtocolError) Error() string {
	if e.Process != "" {
		return fmt.Sprintf("%s: %s (process=%s)", e.Code, e.Message, e.Process)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newProtocolError(code ProtocolErrorCode, process, format string, args ...any) *ProtocolError {
	return &ProtocolError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Process: process,
	}
}

// IsProtocolError reports whether err is a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// IsWrongTypeError reports whether err is a WRONG_TYPE ProtocolError.
func IsWrongTypeError(err error) bool {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Code == ErrCodeWrongType
	}
	return false
}

// IsConnectionAborted reports whether err ends a loop by design.
func IsConnectionAborted(err error) bool {
	return errors.Is(err, ErrConnectionAborted)
}
