package core

import "fmt"

// ErrorCode enumerates protocol failure kinds.
type ErrorCode string

const (
	CodeExtensionNotConnected ErrorCode = "EXTENSION_NOT_CONNECTED"
	CodeConnectionLost        ErrorCode = "CONNECTION_LOST"
	CodeTimeout               ErrorCode = "TIMEOUT"
	CodeProtocolError         ErrorCode = "PROTOCOL_ERROR"
	CodeInvalidParams         ErrorCode = "INVALID_PARAMS"
	CodeUnknownAction         ErrorCode = "UNKNOWN_ACTION"
	CodeSessionNotFound       ErrorCode = "SESSION_NOT_FOUND"
	CodeSessionAmbiguous      ErrorCode = "SESSION_AMBIGUOUS"
	CodeDaemonNotRunning      ErrorCode = "DAEMON_NOT_RUNNING"
	CodeInternal              ErrorCode = "INTERNAL"
)

// ProtocolError is the structured failure carried on both wires.
// Hint and Details are omitted, never null, when absent.
type ProtocolError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Hint    string    `json:"hint,omitempty"`
	Details any       `json:"details,omitempty"`
}

func (e *ProtocolError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf builds a ProtocolError.
func Errorf(code ErrorCode, format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithHint returns e with hint set.
func (e *ProtocolError) WithHint(hint string) *ProtocolError {
	e.Hint = hint
	return e
}

// WithDetails returns e with details set.
func (e *ProtocolError) WithDetails(details any) *ProtocolError {
	e.Details = details
	return e
}
