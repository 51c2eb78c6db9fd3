// Package protocol defines the wire format shared with the chat server.
//
// Every frame is a JSON envelope carrying an event name and a payload whose
// shape depends on the event. Payloads are validated here, at the decode
// boundary, so state mutators never see malformed data.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Inbound event names (server to client).
const (
	EventLoadMessages  = "loadMessages"
	EventChatMessage   = "chatMessage"
	EventSystemMessage = "systemMessage"
	EventTyping        = "typing"
	EventStopTyping    = "stopTyping"
	EventDeleteMessage = "deleteMessage"
	EventRoomCreated   = "roomCreated"
	EventRoomUsers     = "roomUsers"
	EventConnect       = "connect"
	EventConnectError  = "connect_error"
	EventDisconnect    = "disconnect"
)

// Outbound event names (client to server). EventChatMessage, EventTyping and
// EventStopTyping are reused in the outbound direction.
const (
	EventJoinRoom = "joinRoom"
)

// MaxMessageRunes bounds the length of an outbound chat message. The bound
// is enforced before the send ever reaches the transport.
const MaxMessageRunes = 500

// ErrEmptyPayload indicates a frame arrived without a required payload.
var ErrEmptyPayload = errors.New("payload is required")

// Frame is the envelope for every event crossing the connection.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewFrame marshals payload into a frame for the given event.
func NewFrame(event string, payload any) (Frame, error) {
	event = strings.TrimSpace(event)
	if event == "" {
		return Frame{}, errors.New("event name is required")
	}
	if payload == nil {
		return Frame{Event: event}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Frame{Event: event, Payload: raw}, nil
}

// Message is a single chat message as delivered by the server.
type Message struct {
	ID        string    `json:"_id"`
	Room      string    `json:"room"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"createdAt"`
	IsSystem  bool      `json:"isSystem,omitempty"`
}

// OutboundMessage is the payload of a client-sent chatMessage event.
type OutboundMessage struct {
	Text     string `json:"text"`
	IsSystem bool   `json:"isSystem"`
}

// RoomUsers is the payload of a roomUsers presence push.
type RoomUsers struct {
	Room  string   `json:"room"`
	Users []string `json:"users"`
	Count int      `json:"count"`
}

// DecodeMessage validates and decodes a chatMessage payload.
func DecodeMessage(raw json.RawMessage) (Message, error) {
	if len(raw) == 0 {
		return Message{}, ErrEmptyPayload
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message payload: %w", err)
	}
	if strings.TrimSpace(msg.Room) == "" {
		return Message{}, errors.New("message room is required")
	}
	return msg, nil
}

// DecodeMessages validates and decodes a loadMessages history payload.
func DecodeMessages(raw json.RawMessage) ([]Message, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyPayload
	}
	var msgs []Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, fmt.Errorf("decode history payload: %w", err)
	}
	return msgs, nil
}

// DecodeString validates and decodes a bare-string payload (usernames, room
// names, system message text, message ids).
func DecodeString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", ErrEmptyPayload
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", fmt.Errorf("decode string payload: %w", err)
	}
	if strings.TrimSpace(value) == "" {
		return "", errors.New("string payload is empty")
	}
	return value, nil
}

// DecodeRoomUsers validates and decodes a roomUsers payload.
func DecodeRoomUsers(raw json.RawMessage) (RoomUsers, error) {
	if len(raw) == 0 {
		return RoomUsers{}, ErrEmptyPayload
	}
	var users RoomUsers
	if err := json.Unmarshal(raw, &users); err != nil {
		return RoomUsers{}, fmt.Errorf("decode room users payload: %w", err)
	}
	if strings.TrimSpace(users.Room) == "" {
		return RoomUsers{}, errors.New("room users room is required")
	}
	if users.Count < 0 {
		return RoomUsers{}, errors.New("room users count must not be negative")
	}
	return users, nil
}
