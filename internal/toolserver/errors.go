package toolserver

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when a server has no live session.
	ErrNotConnected = errors.New("tool server not connected")

	// ErrUnknownServer is returned for names that are not configured.
	ErrUnknownServer = errors.New("unknown tool server")

	// ErrInvalidName is returned when a server name is empty or contains the separator.
	ErrInvalidName = errors.New("invalid tool server name")
)

// ConnectError reports a failed connect attempt for one server.
type ConnectError struct {
	Server string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Server, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// QueryError reports a transport or protocol failure talking to a connected server.
type QueryError struct {
	Server string
	Op     string
	Err    error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Server, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// ToolExecutionError carries the failure payload a server returned for a tool call.
type ToolExecutionError struct {
	Server  string
	Tool    string
	Payload string
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s on %s failed: %s", e.Tool, e.Server, e.Payload)
}
