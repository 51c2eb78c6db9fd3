package chat

import (
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dingychat/dingychat-go/internal/platform/id"
	"github.com/dingychat/dingychat-go/internal/protocol"
)

const (
	systemSender = "System"
	systemColor  = "#6B7280"
)

type emitFunc func(protocol.Frame) error

// roomStore holds the current room and its ordered message buffer.
//
// Only the current room is buffered: a message for any other room is dropped,
// never queued. Switching rooms clears the buffer synchronously, before the
// server's history replay arrives.
type roomStore struct {
	emit emitFunc
	now  func() time.Time

	current  string
	messages []protocol.Message
	known    []string
}

func newRoomStore(emit emitFunc, now func() time.Time) *roomStore {
	if now == nil {
		now = time.Now
	}
	return &roomStore{emit: emit, now: now}
}

// join switches to the named room. The buffer is cleared before the outbound
// join request is emitted, so no stale messages survive the switch.
func (r *roomStore) join(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyRoomName
	}

	r.current = name
	r.messages = nil
	r.register(name)

	frame, err := protocol.NewFrame(protocol.EventJoinRoom, name)
	if err != nil {
		return err
	}
	return r.emit(frame)
}

// send validates and emits an outbound chat message. Validation failures are
// resolved here: nothing reaches the transport and the buffer is untouched.
func (r *roomStore) send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > protocol.MaxMessageRunes {
		return ErrMessageTooLong
	}

	frame, err := protocol.NewFrame(protocol.EventChatMessage, protocol.OutboundMessage{
		Text:     text,
		IsSystem: false,
	})
	if err != nil {
		return err
	}
	return r.emit(frame)
}

// receive appends a message in receipt order when it belongs to the current
// room. Messages for other rooms are dropped.
func (r *roomStore) receive(msg protocol.Message) bool {
	if msg.Room != r.current {
		return false
	}
	r.messages = append(r.messages, msg)
	return true
}

// replace installs the server's history replay for the current room.
func (r *roomStore) replace(msgs []protocol.Message) {
	r.messages = append([]protocol.Message(nil), msgs...)
}

// appendSystem synthesizes a server notice as a local system message.
func (r *roomStore) appendSystem(text string) {
	msgID, err := id.NewID()
	if err != nil {
		log.Printf("chat: generate system message id: %v", err)
		return
	}
	r.messages = append(r.messages, protocol.Message{
		ID:        msgID,
		Room:      r.current,
		Sender:    systemSender,
		Text:      text,
		Color:     systemColor,
		CreatedAt: r.now(),
		IsSystem:  true,
	})
}

// register adds a room to the known-rooms list once.
func (r *roomStore) register(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	for _, existing := range r.known {
		if existing == name {
			return
		}
	}
	r.known = append(r.known, name)
}

func (r *roomStore) snapshotMessages() []protocol.Message {
	return append([]protocol.Message(nil), r.messages...)
}

func (r *roomStore) snapshotKnown() []string {
	return append([]string(nil), r.known...)
}
