package chat

// ConnState tracks the lifecycle of the single chat connection.
type ConnState int

const (
	// StateDisconnected means no connection exists.
	StateDisconnected ConnState = iota

	// StateConnecting means a handshake is in flight.
	StateConnecting

	// StateConnected means the connection is established and bound.
	StateConnected

	// StateError means the last handshake or transport failed. Leaving this
	// state requires an explicit retry.
	StateError
)

// String returns the state name.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
