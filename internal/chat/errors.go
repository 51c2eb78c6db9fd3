package chat

import (
	"errors"
	"fmt"
)

// ErrEmptyMessage rejects a send whose text is empty after trimming.
var ErrEmptyMessage = errors.New("message is empty")

// ErrMessageTooLong rejects a send exceeding the protocol length bound.
var ErrMessageTooLong = errors.New("message is too long")

// ErrEmptyRoomName rejects a room join without a name.
var ErrEmptyRoomName = errors.New("room name is required")

// ErrNotConnected rejects an outbound emission without a live connection.
var ErrNotConnected = errors.New("not connected")

// ErrClientClosed rejects operations after the run loop has stopped.
var ErrClientClosed = errors.New("chat client is closed")

// ErrConnectAborted reports a connect attempt that was superseded by a
// disconnect or a newer attempt before its handshake finished.
var ErrConnectAborted = errors.New("connect attempt aborted")

// ConnectionError reports a handshake or transport failure. It is surfaced
// to the caller with its cause; the client never retries on its own.
type ConnectionError struct {
	Cause error
}

func (e *ConnectionError) Error() string {
	if e == nil || e.Cause == nil {
		return "connection failed"
	}
	return fmt.Sprintf("connection failed: %v", e.Cause)
}

func (e *ConnectionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
