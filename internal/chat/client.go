// Package chat implements the client-side coordinator for one room-based
// chat session.
//
// The client owns a single multiplexed WebSocket connection and reconciles
// local state (messages, typing indicators, presence, connection state)
// against server-pushed events. All state lives on one task queue processed
// by a single goroutine, so the components hold no locks: inbound frames,
// timer fires, and user actions are serialized in arrival order.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"time"

	"github.com/dingychat/dingychat-go/internal/platform/timeouts"
	"github.com/dingychat/dingychat-go/internal/protocol"
)

const taskQueueDepth = 64

// DefaultRoom is joined right after a successful connect when the
// configuration names no other room.
const DefaultRoom = "general"

// Config defines the inputs for a chat client.
type Config struct {
	ServerURL   string
	Username    string
	Color       string
	DefaultRoom string

	// TypingWindow overrides the stopTyping inactivity interval. Zero means
	// the protocol default of one second.
	TypingWindow time.Duration

	// Dial overrides the transport dialer. Nil means DialWebSocket.
	Dial Dialer

	// Now overrides the clock used for locally synthesized messages.
	Now func() time.Time
}

// Client coordinates the session, room, typing, and presence state for one
// connection.
type Client struct {
	defaultRoom string

	// dialGen stamps each connect attempt. A handshake completing for a
	// stale generation discards its connection instead of installing it.
	dialGen uint64

	tasks   chan func()
	closed  chan struct{}
	updates chan struct{}

	session    *sessionManager
	rooms      *roomStore
	typing     *typingCoordinator
	presence   *presenceTracker
	dispatcher *dispatcher
}

// Snapshot is a copy of the client state for rendering.
type Snapshot struct {
	State       ConnState
	LastError   string
	Username    string
	Color       string
	Room        string
	Messages    []protocol.Message
	TypingUsers []string
	Presence    map[string]int
	KnownRooms  []string
}

// New builds a client. The client does nothing until Run starts its task
// queue.
func New(cfg Config) (*Client, error) {
	serverURL := strings.TrimSpace(cfg.ServerURL)
	if serverURL == "" {
		return nil, errors.New("server url is required")
	}
	username := strings.TrimSpace(cfg.Username)
	if username == "" {
		return nil, errors.New("username is required")
	}
	room := strings.TrimSpace(cfg.DefaultRoom)
	if room == "" {
		room = DefaultRoom
	}
	dial := cfg.Dial
	if dial == nil {
		dial = DialWebSocket
	}
	window := cfg.TypingWindow
	if window <= 0 {
		window = timeouts.TypingWindow
	}

	c := &Client{
		defaultRoom: room,
		tasks:       make(chan func(), taskQueueDepth),
		closed:      make(chan struct{}),
		updates:     make(chan struct{}, 1),
	}
	c.session = newSessionManager(dial, serverURL, username, cfg.Color)
	c.rooms = newRoomStore(c.session.emit, cfg.Now)
	c.typing = newTypingCoordinator(c.session.emit, c.post, window)
	c.presence = newPresenceTracker()
	c.dispatcher = newDispatcher(c.handlerTable)
	return c, nil
}

// Run processes the task queue until ctx ends. Every mutation of client
// state happens on this goroutine.
func (c *Client) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	defer close(c.closed)

	for {
		select {
		case <-ctx.Done():
			c.teardownConn()
			return nil
		case fn := <-c.tasks:
			fn()
			c.notify()
		}
	}
}

// Updates signals after state changes; notifications are coalesced.
func (c *Client) Updates() <-chan struct{} {
	return c.updates
}

// do runs fn on the task queue and waits for it.
func (c *Client) do(fn func()) error {
	done := make(chan struct{})
	select {
	case c.tasks <- func() { fn(); close(done) }:
	case <-c.closed:
		return ErrClientClosed
	}
	select {
	case <-done:
		return nil
	case <-c.closed:
		return ErrClientClosed
	}
}

// post queues fn without waiting. Used by the read pump and timer fires.
func (c *Client) post(fn func()) {
	select {
	case c.tasks <- fn:
	case <-c.closed:
	}
}

func (c *Client) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

// Connect establishes the connection. Disconnected turns into Connecting,
// then Connected on handshake success or Error on failure. Connecting while
// already Connected is a no-op reusing the live connection; a failed
// handshake is never retried automatically.
//
// On success the client immediately joins the default room. An attempt
// superseded by a disconnect or a newer attempt while its handshake was in
// flight returns ErrConnectAborted.
func (c *Client) Connect(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validToken(token) {
		return errors.New("session token is required")
	}

	var (
		begin bool
		dial  Dialer
		url   string
		gen   uint64
	)
	err := c.do(func() {
		if c.session.state == StateConnected || c.session.state == StateConnecting {
			return
		}
		c.session.state = StateConnecting
		c.session.token = token
		c.dialGen++
		gen = c.dialGen
		begin = true
		dial = c.session.dial
		url = c.session.serverURL
	})
	if err != nil || !begin {
		return err
	}

	// The dial happens off the task queue so event processing never blocks
	// on the handshake. State transitions stay on the queue.
	conn, dialErr := dial(ctx, url, token)

	var result error
	err = c.do(func() {
		// A disconnect or a newer attempt may have superseded this
		// handshake while it was in flight. Its outcome must not touch the
		// session.
		if gen != c.dialGen || c.session.state != StateConnecting {
			if conn != nil {
				_ = conn.Close()
			}
			result = ErrConnectAborted
			return
		}
		if dialErr != nil {
			c.session.setError(dialErr)
			result = &ConnectionError{Cause: dialErr}
			return
		}
		if bindErr := c.dispatcher.bind(conn); bindErr != nil {
			_ = conn.Close()
			c.session.setError(bindErr)
			result = &ConnectionError{Cause: bindErr}
			return
		}
		c.session.conn = conn
		c.session.state = StateConnected
		c.session.lastErr = nil
		go c.readPump(conn)

		c.typing.roomChanged()
		if joinErr := c.rooms.join(c.defaultRoom); joinErr != nil {
			log.Printf("chat: join default room %q: %v", c.defaultRoom, joinErr)
		}
	})
	if err != nil {
		return err
	}
	return result
}

// Retry is the explicit user-driven second attempt: it tears down any
// partial connection, then connects again.
func (c *Client) Retry(ctx context.Context, token string) error {
	err := c.do(func() {
		c.teardownConn()
		c.session.state = StateDisconnected
	})
	if err != nil {
		return err
	}
	return c.Connect(ctx, token)
}

// Disconnect unregisters every handler bound for the connection, tears down
// the transport, and clears the session before returning.
func (c *Client) Disconnect() error {
	return c.do(func() {
		c.teardownConn()
		c.session.clear()
	})
}

// teardownConn closes the live connection, if any. Runs on the task queue.
func (c *Client) teardownConn() {
	if c.session.conn == nil {
		return
	}
	c.dispatcher.unbind(c.session.conn)
	if err := c.session.conn.Close(); err != nil {
		log.Printf("chat: close connection: %v", err)
	}
	c.session.conn = nil
	c.typing.roomChanged()
}

// JoinRoom switches the current room. The local buffer is cleared before the
// join request goes out; the server answers with a history replay.
func (c *Client) JoinRoom(name string) error {
	var result error
	err := c.do(func() {
		result = c.rooms.join(name)
		if result == nil {
			c.typing.roomChanged()
		}
	})
	if err != nil {
		return err
	}
	return result
}

// SendMessage validates and emits a chat message, then clears any active
// local typing state. Validation failures never reach the transport.
func (c *Client) SendMessage(text string) error {
	var result error
	err := c.do(func() {
		result = c.rooms.send(text)
		if result == nil {
			c.typing.messageSent()
		}
	})
	if err != nil {
		return err
	}
	return result
}

// Keystroke records local typing activity for the debounced typing signal.
func (c *Client) Keystroke() error {
	var result error
	err := c.do(func() {
		result = c.typing.keystroke()
	})
	if err != nil {
		return err
	}
	return result
}

// Snapshot copies the current client state.
func (c *Client) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := c.do(func() {
		snap = Snapshot{
			State:       c.session.state,
			Username:    c.session.username,
			Color:       c.session.color,
			Room:        c.rooms.current,
			Messages:    c.rooms.snapshotMessages(),
			TypingUsers: c.typing.snapshotRemote(),
			Presence:    c.presence.snapshot(),
			KnownRooms:  c.rooms.snapshotKnown(),
		}
		if c.session.lastErr != nil {
			snap.LastError = c.session.lastErr.Error()
		}
	})
	return snap, err
}

// SeedRooms installs directory-provided room names into the known-rooms
// list before the first join.
func (c *Client) SeedRooms(names []string) error {
	return c.do(func() {
		for _, name := range names {
			c.rooms.register(name)
		}
	})
}

func (c *Client) readPump(conn Conn) {
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			c.post(func() { c.transportClosed(conn, err) })
			return
		}
		c.post(func() { c.dispatcher.dispatch(conn, frame) })
	}
}

// transportClosed handles the read pump ending. A pump for a stale
// connection is ignored.
func (c *Client) transportClosed(conn Conn, cause error) {
	if c.session.conn != conn {
		return
	}
	c.dispatcher.unbind(conn)
	_ = conn.Close()
	c.session.conn = nil
	c.typing.roomChanged()

	if errors.Is(cause, io.EOF) || errors.Is(cause, io.ErrUnexpectedEOF) {
		log.Printf("chat: server closed the connection")
		c.session.state = StateDisconnected
		return
	}
	log.Printf("chat: connection lost: %v", cause)
	c.session.setError(cause)
}

func (c *Client) handlerTable() map[string]handlerFunc {
	return map[string]handlerFunc{
		protocol.EventLoadMessages:  c.handleLoadMessages,
		protocol.EventChatMessage:   c.handleChatMessage,
		protocol.EventSystemMessage: c.handleSystemMessage,
		protocol.EventTyping:        c.handleTyping,
		protocol.EventStopTyping:    c.handleStopTyping,
		protocol.EventDeleteMessage: c.handleDeleteMessage,
		protocol.EventRoomCreated:   c.handleRoomCreated,
		protocol.EventRoomUsers:     c.handleRoomUsers,
		protocol.EventConnect:       c.handleConnect,
		protocol.EventConnectError:  c.handleConnectError,
		protocol.EventDisconnect:    c.handleDisconnect,
	}
}

func (c *Client) handleLoadMessages(raw json.RawMessage) error {
	msgs, err := protocol.DecodeMessages(raw)
	if err != nil {
		return err
	}
	c.rooms.replace(msgs)
	return nil
}

func (c *Client) handleChatMessage(raw json.RawMessage) error {
	msg, err := protocol.DecodeMessage(raw)
	if err != nil {
		return err
	}
	c.rooms.receive(msg)
	return nil
}

func (c *Client) handleSystemMessage(raw json.RawMessage) error {
	text, err := protocol.DecodeString(raw)
	if err != nil {
		return err
	}
	c.rooms.appendSystem(text)
	return nil
}

func (c *Client) handleTyping(raw json.RawMessage) error {
	username, err := protocol.DecodeString(raw)
	if err != nil {
		return err
	}
	c.typing.addRemote(username)
	return nil
}

func (c *Client) handleStopTyping(raw json.RawMessage) error {
	username, err := protocol.DecodeString(raw)
	if err != nil {
		return err
	}
	c.typing.removeRemote(username)
	return nil
}

// handleDeleteMessage acknowledges the event without mutating the buffer.
// The server never follows up with a corrected history, so the id is only
// logged.
func (c *Client) handleDeleteMessage(raw json.RawMessage) error {
	messageID, err := protocol.DecodeString(raw)
	if err != nil {
		return err
	}
	log.Printf("chat: message %q deleted on server, no local effect", messageID)
	return nil
}

func (c *Client) handleRoomCreated(raw json.RawMessage) error {
	name, err := protocol.DecodeString(raw)
	if err != nil {
		return err
	}
	c.rooms.register(name)
	return nil
}

func (c *Client) handleRoomUsers(raw json.RawMessage) error {
	users, err := protocol.DecodeRoomUsers(raw)
	if err != nil {
		return err
	}
	c.presence.set(users.Room, users.Count)
	return nil
}

func (c *Client) handleConnect(json.RawMessage) error {
	if c.session.conn != nil {
		c.session.state = StateConnected
		c.session.lastErr = nil
	}
	return nil
}

func (c *Client) handleConnectError(raw json.RawMessage) error {
	cause := "connect_error"
	if text, err := protocol.DecodeString(raw); err == nil {
		cause = text
	}
	c.session.setError(errors.New(cause))
	return nil
}

func (c *Client) handleDisconnect(json.RawMessage) error {
	c.teardownConn()
	c.session.state = StateDisconnected
	return nil
}
