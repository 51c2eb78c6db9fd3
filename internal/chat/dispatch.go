package chat

import (
	"encoding/json"
	"errors"
	"log"

	"github.com/dingychat/dingychat-go/internal/protocol"
)

var errAlreadyBound = errors.New("dispatcher is already bound")

type handlerFunc func(json.RawMessage) error

// dispatcher routes inbound frames to component handlers.
//
// Handlers are registered once per connection at bind time and removed as a
// unit at unbind time. Binding twice without an intervening unbind is an
// error: a second registration would double-fire every handler on every
// future event.
type dispatcher struct {
	newTable func() map[string]handlerFunc

	bound    Conn
	handlers map[string]handlerFunc
}

func newDispatcher(newTable func() map[string]handlerFunc) *dispatcher {
	return &dispatcher{newTable: newTable}
}

// bind registers one handler per recognized event name for conn.
func (d *dispatcher) bind(conn Conn) error {
	if conn == nil {
		return errors.New("connection is required")
	}
	if d.bound != nil {
		return errAlreadyBound
	}
	d.bound = conn
	d.handlers = d.newTable()
	return nil
}

// unbind removes every handler registered for conn.
func (d *dispatcher) unbind(conn Conn) {
	if d.bound == nil || d.bound != conn {
		return
	}
	d.bound = nil
	d.handlers = nil
}

// dispatch validates and routes a frame from conn. Frames from a connection
// that is no longer bound are dropped; malformed payloads are logged and
// dropped without touching state.
func (d *dispatcher) dispatch(conn Conn, frame protocol.Frame) {
	if d.bound == nil || d.bound != conn {
		return
	}
	handler, ok := d.handlers[frame.Event]
	if !ok {
		log.Printf("chat: unrecognized event %q", frame.Event)
		return
	}
	if err := handler(frame.Payload); err != nil {
		log.Printf("chat: drop %s event: %v", frame.Event, err)
	}
}
