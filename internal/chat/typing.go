package chat

import (
	"time"

	"github.com/dingychat/dingychat-go/internal/protocol"
)

type typingPhase int

const (
	typingIdle typingPhase = iota
	typingActive
)

// typingCoordinator owns both halves of the typing indicator.
//
// The local half is a two-state machine: the first keystroke of a burst emits
// a single typing signal, every keystroke resets one inactivity timer, and
// expiry or an explicit send emits stopTyping. The remote half is a set of
// usernames currently typing in the current room.
//
// Timer fires are posted back onto the client's task queue; a generation
// counter discards a fire that raced a later keystroke or cancel.
type typingCoordinator struct {
	emit   emitFunc
	post   func(func())
	window time.Duration

	phase typingPhase
	timer *time.Timer
	gen   uint64

	remote []string
}

func newTypingCoordinator(emit emitFunc, post func(func()), window time.Duration) *typingCoordinator {
	if window <= 0 {
		window = time.Second
	}
	return &typingCoordinator{emit: emit, post: post, window: window}
}

// keystroke records local typing activity. The typing signal goes out once
// per burst; the inactivity timer restarts on every call.
func (t *typingCoordinator) keystroke() error {
	if t.phase == typingIdle {
		frame, err := protocol.NewFrame(protocol.EventTyping, nil)
		if err != nil {
			return err
		}
		if err := t.emit(frame); err != nil {
			return err
		}
		t.phase = typingActive
	}

	t.gen++
	gen := t.gen
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.window, func() {
		t.post(func() { t.expire(gen) })
	})
	return nil
}

// expire fires when the inactivity window elapses without a keystroke.
func (t *typingCoordinator) expire(gen uint64) {
	if gen != t.gen || t.phase != typingActive {
		return
	}
	t.stopEmit()
	t.phase = typingIdle
	t.timer = nil
}

// messageSent cancels the pending timer and emits stopTyping immediately,
// regardless of timer state.
func (t *typingCoordinator) messageSent() {
	t.cancelTimer()
	t.stopEmit()
	t.phase = typingIdle
}

// roomChanged cancels the pending timer and clears the remote set. Typing
// state never crosses a room switch.
func (t *typingCoordinator) roomChanged() {
	t.cancelTimer()
	t.phase = typingIdle
	t.remote = nil
}

func (t *typingCoordinator) cancelTimer() {
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *typingCoordinator) stopEmit() {
	frame, err := protocol.NewFrame(protocol.EventStopTyping, nil)
	if err != nil {
		return
	}
	_ = t.emit(frame)
}

// addRemote records that a user is typing. Adding twice is a no-op.
func (t *typingCoordinator) addRemote(username string) {
	for _, existing := range t.remote {
		if existing == username {
			return
		}
	}
	t.remote = append(t.remote, username)
}

// removeRemote clears a user's typing entry. Removing an absent user is a
// no-op.
func (t *typingCoordinator) removeRemote(username string) {
	for i, existing := range t.remote {
		if existing == username {
			t.remote = append(t.remote[:i], t.remote[i+1:]...)
			return
		}
	}
}

func (t *typingCoordinator) snapshotRemote() []string {
	return append([]string(nil), t.remote...)
}
