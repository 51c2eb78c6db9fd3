package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/dingychat/dingychat-go/internal/protocol"
)

// Conn is one bidirectional chat connection carrying JSON frames.
type Conn interface {
	ReadFrame() (protocol.Frame, error)
	WriteFrame(protocol.Frame) error
	Close() error
}

// Dialer establishes a connection to the chat server. The token authenticates
// the handshake; a dial error means the handshake failed. Cancelling ctx
// abandons an in-flight handshake.
type Dialer func(ctx context.Context, serverURL, token string) (Conn, error)

// DialWebSocket opens a WebSocket connection to the chat server, presenting
// the session token as a bearer credential during the handshake.
func DialWebSocket(ctx context.Context, serverURL, token string) (Conn, error) {
	serverURL = strings.TrimSpace(serverURL)
	if serverURL == "" {
		return nil, errors.New("server url is required")
	}

	origin := strings.Replace(serverURL, "ws", "http", 1)
	cfg, err := websocket.NewConfig(serverURL, origin)
	if err != nil {
		return nil, fmt.Errorf("build websocket config: %w", err)
	}
	if token = strings.TrimSpace(token); token != "" {
		cfg.Header = make(map[string][]string)
		cfg.Header["Authorization"] = []string{"Bearer " + token}
	}

	type dialResult struct {
		ws  *websocket.Conn
		err error
	}
	handshake := make(chan dialResult, 1)
	go func() {
		ws, err := websocket.DialConfig(cfg)
		handshake <- dialResult{ws: ws, err: err}
	}()

	select {
	case <-ctx.Done():
		// The handshake goroutine still owns the socket; close it whenever
		// it finishes.
		go func() {
			if result := <-handshake; result.ws != nil {
				_ = result.ws.Close()
			}
		}()
		return nil, fmt.Errorf("dial chat server: %w", ctx.Err())
	case result := <-handshake:
		if result.err != nil {
			return nil, fmt.Errorf("dial chat server: %w", result.err)
		}
		return newWSConn(result.ws), nil
	}
}

type wsConn struct {
	ws      *websocket.Conn
	decoder *json.Decoder

	writeMu sync.Mutex
	encoder *json.Encoder
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{
		ws:      ws,
		decoder: json.NewDecoder(ws),
		encoder: json.NewEncoder(ws),
	}
}

func (c *wsConn) ReadFrame() (protocol.Frame, error) {
	var frame protocol.Frame
	if err := c.decoder.Decode(&frame); err != nil {
		return protocol.Frame{}, err
	}
	return frame, nil
}

func (c *wsConn) WriteFrame(frame protocol.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.encoder.Encode(frame)
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}
