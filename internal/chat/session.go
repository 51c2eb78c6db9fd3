package chat

import (
	"strings"

	"github.com/dingychat/dingychat-go/internal/protocol"
)

// sessionManager owns the connection and its lifecycle state. No other
// component creates, destroys, or writes to the transport directly.
type sessionManager struct {
	dial      Dialer
	serverURL string

	username string
	color    string
	token    string

	state   ConnState
	conn    Conn
	lastErr error
}

func newSessionManager(dial Dialer, serverURL, username, color string) *sessionManager {
	return &sessionManager{
		dial:      dial,
		serverURL: serverURL,
		username:  username,
		color:     color,
		state:     StateDisconnected,
	}
}

// emit writes an outbound frame on the live connection.
func (m *sessionManager) emit(frame protocol.Frame) error {
	if m.conn == nil {
		return ErrNotConnected
	}
	return m.conn.WriteFrame(frame)
}

// clear drops the session credentials after a disconnect or logout.
func (m *sessionManager) clear() {
	m.token = ""
	m.lastErr = nil
	m.state = StateDisconnected
}

func (m *sessionManager) setError(err error) {
	m.state = StateError
	m.lastErr = err
}

func validToken(token string) bool {
	return strings.TrimSpace(token) != ""
}
