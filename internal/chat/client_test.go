package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dingychat/dingychat-go/internal/protocol"
)

type fakeConn struct {
	mu      sync.Mutex
	written []protocol.Frame

	inbound   chan protocol.Frame
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan protocol.Frame, 16),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) ReadFrame() (protocol.Frame, error) {
	select {
	case frame := <-f.inbound:
		return frame, nil
	case <-f.closed:
		return protocol.Frame{}, io.EOF
	}
}

func (f *fakeConn) WriteFrame(frame protocol.Frame) error {
	select {
	case <-f.closed:
		return errors.New("connection is closed")
	default:
	}
	f.mu.Lock()
	f.written = append(f.written, frame)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// writtenEvents returns the outbound event names in emission order.
func (f *fakeConn) writtenEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	events := make([]string, 0, len(f.written))
	for _, frame := range f.written {
		events = append(events, frame.Event)
	}
	return events
}

func (f *fakeConn) countEvent(event string) int {
	count := 0
	for _, name := range f.writtenEvents() {
		if name == event {
			count++
		}
	}
	return count
}

func (f *fakeConn) push(t *testing.T, event string, payload any) {
	t.Helper()
	frame, err := protocol.NewFrame(event, payload)
	if err != nil {
		t.Fatalf("build %s frame: %v", event, err)
	}
	select {
	case f.inbound <- frame:
	case <-time.After(time.Second):
		t.Fatalf("push %s frame timed out", event)
	}
}

func startClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		_ = client.Run(ctx)
	}()
	return client
}

func startConnectedClient(t *testing.T, conn *fakeConn) *Client {
	t.Helper()
	client := startClient(t, Config{
		ServerURL:    "ws://chat.test/ws",
		Username:     "alice",
		Color:        "#FF0000",
		TypingWindow: 30 * time.Millisecond,
		Dial: func(context.Context, string, string) (Conn, error) {
			return conn, nil
		},
	})
	if err := client.Connect(context.Background(), "token-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return client
}

func snapshot(t *testing.T, client *Client) Snapshot {
	t.Helper()
	snap, err := client.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return snap
}

func waitFor(t *testing.T, what string, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectJoinsDefaultRoom(t *testing.T) {
	conn := newFakeConn()
	client := startConnectedClient(t, conn)

	snap := snapshot(t, client)
	if snap.State != StateConnected {
		t.Fatalf("state = %v, want %v", snap.State, StateConnected)
	}
	if snap.Room != DefaultRoom {
		t.Fatalf("room = %q, want %q", snap.Room, DefaultRoom)
	}
	if got := conn.countEvent(protocol.EventJoinRoom); got != 1 {
		t.Fatalf("joinRoom emissions = %d, want 1", got)
	}
}

func TestConnectWhileConnectedIsNoOp(t *testing.T) {
	conn := newFakeConn()
	dials := 0
	client := startClient(t, Config{
		ServerURL: "ws://chat.test/ws",
		Username:  "alice",
		Dial: func(context.Context, string, string) (Conn, error) {
			dials++
			return conn, nil
		},
	})

	if err := client.Connect(context.Background(), "token-1"); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	if err := client.Connect(context.Background(), "token-1"); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if dials != 1 {
		t.Fatalf("dial count = %d, want 1", dials)
	}
}

func TestConnectFailureTransitionsToError(t *testing.T) {
	dials := 0
	client := startClient(t, Config{
		ServerURL: "ws://chat.test/ws",
		Username:  "alice",
		Dial: func(context.Context, string, string) (Conn, error) {
			dials++
			return nil, errors.New("handshake refused")
		},
	})

	err := client.Connect(context.Background(), "token-1")
	if err == nil {
		t.Fatal("expected connect error")
	}
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("error = %v, want ConnectionError", err)
	}
	if !strings.Contains(connErr.Error(), "handshake refused") {
		t.Fatalf("error = %v, want handshake cause", connErr)
	}

	snap := snapshot(t, client)
	if snap.State != StateError {
		t.Fatalf("state = %v, want %v", snap.State, StateError)
	}

	// No automatic second attempt within the observation window.
	time.Sleep(50 * time.Millisecond)
	if dials != 1 {
		t.Fatalf("dial count = %d, want 1", dials)
	}
}

func TestRetryTearsDownAndDialsAgain(t *testing.T) {
	conn := newFakeConn()
	dials := 0
	client := startClient(t, Config{
		ServerURL: "ws://chat.test/ws",
		Username:  "alice",
		Dial: func(context.Context, string, string) (Conn, error) {
			dials++
			if dials == 1 {
				return nil, errors.New("handshake refused")
			}
			return conn, nil
		},
	})

	if err := client.Connect(context.Background(), "token-1"); err == nil {
		t.Fatal("expected first connect to fail")
	}
	if err := client.Retry(context.Background(), "token-1"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if dials != 2 {
		t.Fatalf("dial count = %d, want 2", dials)
	}
	if snap := snapshot(t, client); snap.State != StateConnected {
		t.Fatalf("state = %v, want %v", snap.State, StateConnected)
	}
}

func TestConnectRequiresToken(t *testing.T) {
	client := startClient(t, Config{
		ServerURL: "ws://chat.test/ws",
		Username:  "alice",
		Dial: func(context.Context, string, string) (Conn, error) {
			t.Fatal("dial must not run without a token")
			return nil, nil
		},
	})

	if err := client.Connect(context.Background(), "  "); err == nil {
		t.Fatal("expected error for blank token")
	}
}

func TestDisconnectDuringHandshakeIsFinal(t *testing.T) {
	conn := newFakeConn()
	release := make(chan struct{})
	client := startClient(t, Config{
		ServerURL: "ws://chat.test/ws",
		Username:  "alice",
		Dial: func(context.Context, string, string) (Conn, error) {
			<-release
			return conn, nil
		},
	})

	done := make(chan error, 1)
	go func() {
		done <- client.Connect(context.Background(), "token-1")
	}()
	waitFor(t, "connecting state", func() bool {
		return snapshot(t, client).State == StateConnecting
	})

	if err := client.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	close(release)

	if err := <-done; !errors.Is(err, ErrConnectAborted) {
		t.Fatalf("connect = %v, want ErrConnectAborted", err)
	}
	if snap := snapshot(t, client); snap.State != StateDisconnected {
		t.Fatalf("state after disconnect = %v, want %v", snap.State, StateDisconnected)
	}
	if !conn.isClosed() {
		t.Fatal("expected the late handshake's connection to be closed")
	}
	if got := conn.countEvent(protocol.EventJoinRoom); got != 0 {
		t.Fatalf("joinRoom emissions = %d, want 0 on a discarded connection", got)
	}
}

func TestRetryDuringHungHandshakeKeepsOneConnection(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	releaseFirst := make(chan struct{})

	var mu sync.Mutex
	dials := 0
	client := startClient(t, Config{
		ServerURL: "ws://chat.test/ws",
		Username:  "alice",
		Dial: func(context.Context, string, string) (Conn, error) {
			mu.Lock()
			dials++
			attempt := dials
			mu.Unlock()
			if attempt == 1 {
				<-releaseFirst
				return first, nil
			}
			return second, nil
		},
	})

	done := make(chan error, 1)
	go func() {
		done <- client.Connect(context.Background(), "token-1")
	}()
	waitFor(t, "connecting state", func() bool {
		return snapshot(t, client).State == StateConnecting
	})

	if err := client.Retry(context.Background(), "token-1"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	close(releaseFirst)

	if err := <-done; !errors.Is(err, ErrConnectAborted) {
		t.Fatalf("first connect = %v, want ErrConnectAborted", err)
	}
	if snap := snapshot(t, client); snap.State != StateConnected {
		t.Fatalf("state = %v, want %v", snap.State, StateConnected)
	}
	if !first.isClosed() {
		t.Fatal("expected the superseded connection to be closed")
	}
	if second.isClosed() {
		t.Fatal("expected the retry's connection to stay live")
	}
	if got := second.countEvent(protocol.EventJoinRoom); got != 1 {
		t.Fatalf("joinRoom emissions on live connection = %d, want 1", got)
	}
}

func TestDisconnectClearsSession(t *testing.T) {
	conn := newFakeConn()
	client := startConnectedClient(t, conn)

	if err := client.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if !conn.isClosed() {
		t.Fatal("expected transport to be closed")
	}
	if snap := snapshot(t, client); snap.State != StateDisconnected {
		t.Fatalf("state = %v, want %v", snap.State, StateDisconnected)
	}
	if err := client.SendMessage("hello"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("send after disconnect = %v, want ErrNotConnected", err)
	}
}

func TestRoomSwitchClearsBufferBeforeReplay(t *testing.T) {
	conn := newFakeConn()
	client := startConnectedClient(t, conn)

	conn.push(t, protocol.EventChatMessage, protocol.Message{ID: "m1", Room: DefaultRoom, Sender: "bob", Text: "old"})
	waitFor(t, "message in general", func() bool {
		return len(snapshot(t, client).Messages) == 1
	})

	if err := client.JoinRoom("random"); err != nil {
		t.Fatalf("join room: %v", err)
	}

	snap := snapshot(t, client)
	if snap.Room != "random" {
		t.Fatalf("room = %q, want %q", snap.Room, "random")
	}
	if len(snap.Messages) != 0 {
		t.Fatalf("messages after switch = %d, want 0", len(snap.Messages))
	}

	conn.push(t, protocol.EventLoadMessages, []protocol.Message{
		{ID: "r1", Room: "random", Sender: "carol", Text: "replay one"},
		{ID: "r2", Room: "random", Sender: "carol", Text: "replay two"},
	})
	waitFor(t, "replay", func() bool {
		return len(snapshot(t, client).Messages) == 2
	})

	snap = snapshot(t, client)
	if snap.Messages[0].ID != "r1" || snap.Messages[1].ID != "r2" {
		t.Fatalf("replay order = %q, %q", snap.Messages[0].ID, snap.Messages[1].ID)
	}
}

func TestMessagesForOtherRoomsAreDropped(t *testing.T) {
	conn := newFakeConn()
	client := startConnectedClient(t, conn)

	conn.push(t, protocol.EventChatMessage, protocol.Message{ID: "m1", Room: "random", Sender: "bob", Text: "elsewhere"})
	conn.push(t, protocol.EventChatMessage, protocol.Message{ID: "m2", Room: DefaultRoom, Sender: "bob", Text: "here"})

	waitFor(t, "current-room message", func() bool {
		return len(snapshot(t, client).Messages) == 1
	})
	snap := snapshot(t, client)
	if snap.Messages[0].ID != "m2" {
		t.Fatalf("kept message = %q, want m2", snap.Messages[0].ID)
	}
}

func TestMessageOrderIsFIFOByReceipt(t *testing.T) {
	conn := newFakeConn()
	client := startConnectedClient(t, conn)

	conn.push(t, protocol.EventChatMessage, protocol.Message{ID: "m1", Room: DefaultRoom, Sender: "bob", Text: "first"})
	conn.push(t, protocol.EventChatMessage, protocol.Message{ID: "m2", Room: DefaultRoom, Sender: "bob", Text: "second"})

	waitFor(t, "both messages", func() bool {
		return len(snapshot(t, client).Messages) == 2
	})
	snap := snapshot(t, client)
	if snap.Messages[0].ID != "m1" || snap.Messages[1].ID != "m2" {
		t.Fatalf("order = %q, %q, want m1 then m2", snap.Messages[0].ID, snap.Messages[1].ID)
	}
}

func TestSendMessageValidatesLocally(t *testing.T) {
	conn := newFakeConn()
	client := startConnectedClient(t, conn)
	sent := conn.countEvent(protocol.EventChatMessage)

	if err := client.SendMessage("   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("empty send = %v, want ErrEmptyMessage", err)
	}
	if err := client.SendMessage(strings.Repeat("a", 501)); !errors.Is(err, ErrMessageTooLong) {
		t.Fatalf("long send = %v, want ErrMessageTooLong", err)
	}

	if got := conn.countEvent(protocol.EventChatMessage); got != sent {
		t.Fatalf("chatMessage emissions = %d, want %d", got, sent)
	}
	if len(snapshot(t, client).Messages) != 0 {
		t.Fatal("expected buffer to stay empty")
	}
}

func TestSendMessageEmitsTrimmedText(t *testing.T) {
	conn := newFakeConn()
	client := startConnectedClient(t, conn)

	if err := client.SendMessage("  hello  "); err != nil {
		t.Fatalf("send: %v", err)
	}

	var sent *protocol.Frame
	for _, frame := range func() []protocol.Frame {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return append([]protocol.Frame(nil), conn.written...)
	}() {
		if frame.Event == protocol.EventChatMessage {
			sent = &frame
			break
		}
	}
	if sent == nil {
		t.Fatal("expected a chatMessage emission")
	}
	var payload protocol.OutboundMessage
	if err := json.Unmarshal(sent.Payload, &payload); err != nil {
		t.Fatalf("decode outbound payload: %v", err)
	}
	if payload.Text != "hello" {
		t.Fatalf("text = %q, want %q", payload.Text, "hello")
	}
	if payload.IsSystem {
		t.Fatal("expected isSystem=false")
	}
}

func TestTypingBurstEmitsOnce(t *testing.T) {
	conn := newFakeConn()
	client := startConnectedClient(t, conn)

	for i := 0; i < 5; i++ {
		if err := client.Keystroke(); err != nil {
			t.Fatalf("keystroke %d: %v", i, err)
		}
	}
	if got := conn.countEvent(protocol.EventTyping); got != 1 {
		t.Fatalf("typing emissions = %d, want 1", got)
	}

	waitFor(t, "stopTyping after idle window", func() bool {
		return conn.countEvent(protocol.EventStopTyping) == 1
	})
	// No further emissions once idle.
	time.Sleep(80 * time.Millisecond)
	if got := conn.countEvent(protocol.EventStopTyping); got != 1 {
		t.Fatalf("stopTyping emissions = %d, want 1", got)
	}
}

func TestTypingRestartsAfterIdle(t *testing.T) {
	conn := newFakeConn()
	client := startConnectedClient(t, conn)

	if err := client.Keystroke(); err != nil {
		t.Fatalf("keystroke: %v", err)
	}
	waitFor(t, "first stopTyping", func() bool {
		return conn.countEvent(protocol.EventStopTyping) == 1
	})

	if err := client.Keystroke(); err != nil {
		t.Fatalf("second burst keystroke: %v", err)
	}
	if got := conn.countEvent(protocol.EventTyping); got != 2 {
		t.Fatalf("typing emissions = %d, want 2", got)
	}
}

func TestSendCancelsTypingTimer(t *testing.T) {
	conn := newFakeConn()
	client := startConnectedClient(t, conn)

	if err := client.Keystroke(); err != nil {
		t.Fatalf("keystroke: %v", err)
	}
	if err := client.SendMessage("hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := conn.countEvent(protocol.EventStopTyping); got != 1 {
		t.Fatalf("stopTyping emissions = %d, want 1 immediately after send", got)
	}

	// The cancelled timer must not fire a duplicate later.
	time.Sleep(80 * time.Millisecond)
	if got := conn.countEvent(protocol.EventStopTyping); got != 1 {
		t.Fatalf("stopTyping emissions = %d, want 1 after window", got)
	}
}

func TestRemoteTypingSetAddAndRemove(t *testing.T) {
	conn := newFakeConn()
	client := startConnectedClient(t, conn)

	conn.push(t, protocol.EventTyping, "bob")
	waitFor(t, "bob typing", func() bool {
		return len(snapshot(t, client).TypingUsers) == 1
	})

	// Duplicate add is a no-op.
	conn.push(t, protocol.EventTyping, "bob")
	conn.push(t, protocol.EventTyping, "carol")
	waitFor(t, "carol typing", func() bool {
		return len(snapshot(t, client).TypingUsers) == 2
	})

	conn.push(t, protocol.EventStopTyping, "bob")
	waitFor(t, "bob stopped", func() bool {
		users := snapshot(t, client).TypingUsers
		return len(users) == 1 && users[0] == "carol"
	})

	// Removing an absent user is a no-op.
	conn.push(t, protocol.EventStopTyping, "dave")
	time.Sleep(20 * time.Millisecond)
	if users := snapshot(t, client).TypingUsers; len(users) != 1 {
		t.Fatalf("typing users = %v, want one entry", users)
	}
}

func TestRejectedJoinLeavesTypingStateIntact(t *testing.T) {
	conn := newFakeConn()
	client := startConnectedClient(t, conn)

	conn.push(t, protocol.EventTyping, "bob")
	waitFor(t, "bob typing", func() bool {
		return len(snapshot(t, client).TypingUsers) == 1
	})
	if err := client.Keystroke(); err != nil {
		t.Fatalf("keystroke: %v", err)
	}

	if err := client.JoinRoom("  "); !errors.Is(err, ErrEmptyRoomName) {
		t.Fatalf("join = %v, want ErrEmptyRoomName", err)
	}

	snap := snapshot(t, client)
	if snap.Room != DefaultRoom {
		t.Fatalf("room = %q, want %q", snap.Room, DefaultRoom)
	}
	if len(snap.TypingUsers) != 1 {
		t.Fatalf("typing users = %v, want bob to survive a rejected join", snap.TypingUsers)
	}
	// The local burst timer was not cancelled either: the idle window still
	// produces its stopTyping.
	waitFor(t, "stopTyping after idle window", func() bool {
		return conn.countEvent(protocol.EventStopTyping) == 1
	})
}

func TestRoomSwitchClearsRemoteTyping(t *testing.T) {
	conn := newFakeConn()
	client := startConnectedClient(t, conn)

	conn.push(t, protocol.EventTyping, "bob")
	waitFor(t, "bob typing", func() bool {
		return len(snapshot(t, client).TypingUsers) == 1
	})

	if err := client.JoinRoom("random"); err != nil {
		t.Fatalf("join room: %v", err)
	}
	if users := snapshot(t, client).TypingUsers; len(users) != 0 {
		t.Fatalf("typing users after switch = %v, want none", users)
	}
}

func TestPresenceLastWriteWins(t *testing.T) {
	conn := newFakeConn()
	client := startConnectedClient(t, conn)

	conn.push(t, protocol.EventRoomUsers, protocol.RoomUsers{Room: "general", Count: 3})
	conn.push(t, protocol.EventRoomUsers, protocol.RoomUsers{Room: "random", Count: 7})
	conn.push(t, protocol.EventRoomUsers, protocol.RoomUsers{Room: "general", Count: 5})

	waitFor(t, "presence updates", func() bool {
		snap := snapshot(t, client)
		return snap.Presence["general"] == 5 && snap.Presence["random"] == 7
	})
}

func TestSystemMessageSynthesizedLocally(t *testing.T) {
	conn := newFakeConn()
	client := startConnectedClient(t, conn)

	conn.push(t, protocol.EventSystemMessage, "bob joined the room")
	waitFor(t, "system message", func() bool {
		return len(snapshot(t, client).Messages) == 1
	})

	msg := snapshot(t, client).Messages[0]
	if !msg.IsSystem {
		t.Fatal("expected isSystem=true")
	}
	if msg.Sender != systemSender {
		t.Fatalf("sender = %q, want %q", msg.Sender, systemSender)
	}
	if msg.Color != systemColor {
		t.Fatalf("color = %q, want %q", msg.Color, systemColor)
	}
	if msg.Room != DefaultRoom {
		t.Fatalf("room = %q, want %q", msg.Room, DefaultRoom)
	}
	if msg.ID == "" {
		t.Fatal("expected locally generated id")
	}
}

func TestDeleteMessageLeavesBufferUntouched(t *testing.T) {
	conn := newFakeConn()
	client := startConnectedClient(t, conn)

	conn.push(t, protocol.EventChatMessage, protocol.Message{ID: "m1", Room: DefaultRoom, Sender: "bob", Text: "keep me"})
	waitFor(t, "message", func() bool {
		return len(snapshot(t, client).Messages) == 1
	})

	conn.push(t, protocol.EventDeleteMessage, "m1")
	time.Sleep(20 * time.Millisecond)
	if got := len(snapshot(t, client).Messages); got != 1 {
		t.Fatalf("messages = %d, want 1 (delete has no local effect)", got)
	}
}

func TestRoomCreatedRegistersKnownRoom(t *testing.T) {
	conn := newFakeConn()
	client := startConnectedClient(t, conn)

	conn.push(t, protocol.EventRoomCreated, "watercooler")
	waitFor(t, "known room", func() bool {
		for _, name := range snapshot(t, client).KnownRooms {
			if name == "watercooler" {
				return true
			}
		}
		return false
	})
}

func TestMalformedPayloadIsDropped(t *testing.T) {
	conn := newFakeConn()
	client := startConnectedClient(t, conn)

	conn.inbound <- protocol.Frame{Event: protocol.EventChatMessage, Payload: json.RawMessage(`{"room":` )}
	conn.push(t, protocol.EventChatMessage, protocol.Message{ID: "m1", Room: DefaultRoom, Sender: "bob", Text: "survives"})

	waitFor(t, "valid message after malformed one", func() bool {
		return len(snapshot(t, client).Messages) == 1
	})
}

func TestServerDisconnectEventTearsDown(t *testing.T) {
	conn := newFakeConn()
	client := startConnectedClient(t, conn)

	conn.push(t, protocol.EventDisconnect, nil)
	waitFor(t, "disconnected state", func() bool {
		return snapshot(t, client).State == StateDisconnected
	})
	if !conn.isClosed() {
		t.Fatal("expected transport to be closed")
	}
}

func TestTransportEOFMarksDisconnected(t *testing.T) {
	conn := newFakeConn()
	client := startConnectedClient(t, conn)

	_ = conn.Close()
	waitFor(t, "disconnected state", func() bool {
		return snapshot(t, client).State == StateDisconnected
	})
}

func TestSeedRoomsPopulatesKnownList(t *testing.T) {
	client := startClient(t, Config{
		ServerURL: "ws://chat.test/ws",
		Username:  "alice",
		Dial: func(context.Context, string, string) (Conn, error) {
			return newFakeConn(), nil
		},
	})
	if err := client.SeedRooms([]string{"general", "random", "introductions"}); err != nil {
		t.Fatalf("seed rooms: %v", err)
	}
	if got := len(snapshot(t, client).KnownRooms); got != 3 {
		t.Fatalf("known rooms = %d, want 3", got)
	}
}
