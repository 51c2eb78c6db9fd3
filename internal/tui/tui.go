// Package tui renders one chat session in the terminal.
package tui

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/jroimartin/gocui"

	"github.com/dingychat/dingychat-go/internal/chat"
)

const (
	msgView    = "messages"
	roomView   = "rooms"
	typingView = "typing"
	statusView = "status"
	inputView  = "input"
)

// Controller is the slice of the chat client the UI drives.
type Controller interface {
	Snapshot() (chat.Snapshot, error)
	Updates() <-chan struct{}
	JoinRoom(name string) error
	SendMessage(text string) error
	Keystroke() error
	Retry(ctx context.Context, token string) error
	Disconnect() error
}

// UI is the gocui front end for one chat session.
type UI struct {
	gui        *gocui.Gui
	client     Controller
	token      string
	onLogout   func()
	statusLine string
}

// Config defines the inputs for the terminal UI.
type Config struct {
	Client Controller

	// Token is handed back to the client on a user-requested retry.
	Token string

	// OnLogout runs when the user issues /logout, before the UI closes.
	OnLogout func()
}

func New(cfg Config) (*UI, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("chat client is required")
	}
	g, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		return nil, fmt.Errorf("init terminal: %w", err)
	}
	g.Cursor = true
	g.InputEsc = true

	ui := &UI{
		gui:      g,
		client:   cfg.Client,
		token:    cfg.Token,
		onLogout: cfg.OnLogout,
	}
	g.SetManagerFunc(ui.layout)
	return ui, nil
}

// Run drives the UI until the user quits or ctx ends. Client state changes
// trigger re-renders through the update channel.
func (ui *UI) Run(ctx context.Context) error {
	if err := ui.keybindings(); err != nil {
		return fmt.Errorf("bind keys: %w", err)
	}

	renderCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go ui.watch(renderCtx)

	if err := ui.gui.MainLoop(); err != nil && err != gocui.ErrQuit {
		return err
	}
	return nil
}

func (ui *UI) Close() {
	ui.gui.Close()
}

func (ui *UI) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			ui.gui.Update(func(*gocui.Gui) error { return gocui.ErrQuit })
			return
		case <-ui.client.Updates():
			ui.render()
		}
	}
}

func (ui *UI) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()

	sidebarWidth := 22
	msgWidth := maxX - sidebarWidth - 1
	msgHeight := maxY - 6

	if v, err := g.SetView(msgView, 0, 0, msgWidth, msgHeight); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Messages"
		v.Wrap = true
		v.Autoscroll = true
	}

	if v, err := g.SetView(roomView, msgWidth+1, 0, maxX-1, msgHeight); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Rooms"
		v.Wrap = true
	}

	if v, err := g.SetView(typingView, 0, msgHeight+1, maxX-1, msgHeight+3); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Frame = false
	}

	if v, err := g.SetView(statusView, 0, msgHeight+3, maxX-1, maxY-3); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Status"
	}

	if v, err := g.SetView(inputView, 0, maxY-3, maxX-1, maxY-1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Input"
		v.Editable = true
		v.Editor = gocui.EditorFunc(ui.edit)
		if _, err := g.SetCurrentView(inputView); err != nil {
			return err
		}
	}

	ui.render()
	return nil
}

// edit wraps the default editor so every printable keystroke feeds the
// typing debouncer.
func (ui *UI) edit(v *gocui.View, key gocui.Key, ch rune, mod gocui.Modifier) {
	gocui.DefaultEditor.Edit(v, key, ch, mod)
	if ch != 0 || key == gocui.KeySpace {
		if err := ui.client.Keystroke(); err != nil {
			log.Printf("tui: keystroke: %v", err)
		}
	}
}

func (ui *UI) keybindings() error {
	if err := ui.gui.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone,
		func(*gocui.Gui, *gocui.View) error {
			return gocui.ErrQuit
		}); err != nil {
		return err
	}
	return ui.gui.SetKeybinding(inputView, gocui.KeyEnter, gocui.ModNone, ui.handleInput)
}

func (ui *UI) handleInput(_ *gocui.Gui, v *gocui.View) error {
	input := strings.TrimSpace(v.Buffer())
	v.Clear()
	if err := v.SetCursor(0, 0); err != nil {
		return err
	}
	if input == "" {
		return nil
	}

	if strings.HasPrefix(input, "/") {
		return ui.handleCommand(input)
	}

	if err := ui.client.SendMessage(input); err != nil {
		ui.setStatus(fmt.Sprintf("send failed: %v", err))
	}
	return nil
}

func (ui *UI) handleCommand(input string) error {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/join":
		if len(fields) < 2 {
			ui.setStatus("usage: /join <room>")
			return nil
		}
		if err := ui.client.JoinRoom(fields[1]); err != nil {
			ui.setStatus(fmt.Sprintf("join failed: %v", err))
		}
	case "/rooms":
		snap, err := ui.client.Snapshot()
		if err != nil {
			return nil
		}
		ui.setStatus("rooms: " + strings.Join(snap.KnownRooms, ", "))
	case "/retry":
		go func() {
			if err := ui.client.Retry(context.Background(), ui.token); err != nil {
				ui.setStatus(fmt.Sprintf("retry failed: %v", err))
				ui.render()
			}
		}()
	case "/logout":
		if err := ui.client.Disconnect(); err != nil {
			log.Printf("tui: disconnect: %v", err)
		}
		if ui.onLogout != nil {
			ui.onLogout()
		}
		return gocui.ErrQuit
	case "/quit":
		return gocui.ErrQuit
	default:
		ui.setStatus("commands: /join /rooms /retry /logout /quit")
	}
	return nil
}

func (ui *UI) setStatus(line string) {
	ui.statusLine = line
	ui.render()
}

func (ui *UI) render() {
	snap, err := ui.client.Snapshot()
	if err != nil {
		return
	}
	ui.gui.Update(func(g *gocui.Gui) error {
		if v, err := g.View(msgView); err == nil {
			v.Clear()
			for _, msg := range snap.Messages {
				if msg.IsSystem {
					fmt.Fprintf(v, "-- %s --\n", msg.Text)
					continue
				}
				fmt.Fprintf(v, "[%s] %s: %s\n", msg.CreatedAt.Local().Format("15:04"), msg.Sender, msg.Text)
			}
		}
		if v, err := g.View(roomView); err == nil {
			v.Clear()
			names := append([]string(nil), snap.KnownRooms...)
			sort.Strings(names)
			for _, name := range names {
				prefix := "  "
				if name == snap.Room {
					prefix = "* "
				}
				if count, ok := snap.Presence[name]; ok {
					fmt.Fprintf(v, "%s%s (%d)\n", prefix, name, count)
					continue
				}
				fmt.Fprintf(v, "%s%s\n", prefix, name)
			}
		}
		if v, err := g.View(typingView); err == nil {
			v.Clear()
			fmt.Fprint(v, typingLine(snap.TypingUsers))
		}
		if v, err := g.View(statusView); err == nil {
			v.Clear()
			fmt.Fprint(v, statusLine(snap, ui.statusLine))
		}
		return nil
	})
}

func typingLine(users []string) string {
	switch len(users) {
	case 0:
		return ""
	case 1:
		return users[0] + " is typing..."
	case 2:
		return users[0] + " and " + users[1] + " are typing..."
	default:
		return "several people are typing..."
	}
}

func statusLine(snap chat.Snapshot, extra string) string {
	line := fmt.Sprintf("%s | %s | room: %s", snap.Username, snap.State, snap.Room)
	if snap.State == chat.StateError && snap.LastError != "" {
		line += " | " + snap.LastError + " (/retry to reconnect)"
	}
	if extra != "" {
		line += " | " + extra
	}
	return line
}
