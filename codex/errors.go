package codex

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors for common failure conditions.
var (
	// ErrAlreadyConnected is returned when Connect is called on a live transport.
	ErrAlreadyConnected = errors.New("transport already connected")

	// ErrNotConnected is returned when an operation requires a live transport.
	ErrNotConnected = errors.New("transport not connected")

	// ErrDisconnecting is returned when an operation is attempted during teardown.
	ErrDisconnecting = errors.New("transport is disconnecting")

	// ErrConnectionClosed rejects pending requests and queued writes when the
	// runtime process goes away.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrRequestTimeout is returned when a request's response never arrives.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrInvalidState is returned for disallowed state transitions.
	ErrInvalidState = errors.New("invalid state transition")

	// ErrTurnActive is returned when an operation cannot run mid-turn.
	ErrTurnActive = errors.New("a turn is in progress")

	// ErrTurnComplete is returned by Turn.Next after the complete event has
	// been delivered.
	ErrTurnComplete = errors.New("turn already complete")

	// ErrPermissionTimeout resolves a permission prompt nobody answered.
	ErrPermissionTimeout = errors.New("permission request timed out")

	// ErrReauthRequired is returned when stored credentials are gone for good
	// and the host must run a fresh authentication flow.
	ErrReauthRequired = errors.New("re-authentication required")

	// ErrInvalidRefreshToken is returned (possibly wrapped) by a TokenRefresher
	// when the refresh token is definitively rejected, as opposed to a
	// transient network failure.
	ErrInvalidRefreshToken = errors.New("refresh token is invalid")

	// ErrRefreshWaitTimeout is returned to a secondary caller whose bounded
	// wait on an in-flight credential refresh elapsed.
	ErrRefreshWaitTimeout = errors.New("credential refresh wait timed out")
)

// RPCError represents a JSON-RPC error returned by the runtime.
type RPCError struct {
	Message string
	Code    int
	Data    json.RawMessage
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ProcessError represents a failure of the runtime subprocess itself.
type ProcessError struct {
	Cause    error
	Message  string
	Stderr   string
	ExitCode int
}

func (e *ProcessError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("%s (exit code %d)", e.Message, e.ExitCode)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProcessError) Unwrap() error {
	return e.Cause
}

// ProtocolError represents a protocol-level failure such as an unparseable
// line. These are logged and dropped, never fatal.
type ProtocolError struct {
	Cause   error
	Message string
	Line    string
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProtocolError) Unwrap() error {
	return e.Cause
}
