package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ascending/ascend/internal/protocol"
)

const (
	// DefaultReadLimit is the largest message accepted. Notebooks with
	// big sources travel in one start_sync or merge_notebooks message.
	DefaultReadLimit = 64 << 20

	// DefaultWriteTimeout bounds a single Send.
	DefaultWriteTimeout = 10 * time.Second
)

// Conn is a protocol.Channel over a WebSocket connection. Each command is one
// text message.
type Conn struct {
	ws           *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
	closed       atomic.Bool
}

// NewConn wraps an established WebSocket connection.
func NewConn(ws *websocket.Conn) *Conn {
	ws.SetReadLimit(DefaultReadLimit)
	return &Conn{ws: ws, writeTimeout: DefaultWriteTimeout}
}

// Dial connects to a live session's WebSocket endpoint, e.g.
// ws://localhost:12517/ws.
func Dial(ctx context.Context, url string) (*Conn, error) {
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return NewConn(ws), nil
}

// Send writes cmd as one JSON text message.
func (c *Conn) Send(ctx context.Context, cmd protocol.Command) error {
	if c.closed.Load() {
		return protocol.ErrChannelClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()

	if err := wsjson.Write(ctx, c.ws, cmd); err != nil {
		if c.isClosedErr(err) {
			return protocol.ErrChannelClosed
		}
		return fmt.Errorf("failed to send %s: %w", cmd.Kind, err)
	}
	return nil
}

// Receive reads the next command. A message that does not decode returns an
// error wrapping protocol.ErrMalformed and leaves the connection usable.
//
// Cancelling ctx while Receive is blocked closes the connection.
func (c *Conn) Receive(ctx context.Context) (protocol.Command, error) {
	typ, data, err := c.ws.Read(ctx)
	if err != nil {
		if c.isClosedErr(err) {
			return protocol.Command{}, protocol.ErrChannelClosed
		}
		if ctx.Err() != nil {
			return protocol.Command{}, ctx.Err()
		}
		return protocol.Command{}, fmt.Errorf("failed to read: %w", err)
	}
	if typ != websocket.MessageText {
		return protocol.Command{}, fmt.Errorf("%w: binary message", protocol.ErrMalformed)
	}
	return decode(data)
}

// Close sends a normal closure to the peer.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.ws.Close(websocket.StatusNormalClosure, "")
	if err != nil && !c.isClosedErr(err) {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

// closeWith closes with an explicit status, used by the server on shutdown.
func (c *Conn) closeWith(code websocket.StatusCode, reason string) {
	if c.closed.CompareAndSwap(false, true) {
		_ = c.ws.Close(code, reason)
	}
}

func (c *Conn) isClosedErr(err error) bool {
	if c.closed.Load() {
		return true
	}
	return websocket.CloseStatus(err) != -1 ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF)
}
