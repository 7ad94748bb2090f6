package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultWriteWait = 10 * time.Second

var ErrChannelClosed = errors.New("channel closed")

// WSChannel adapts a websocket connection to Channel. gorilla connections
// allow only one concurrent writer, so every write goes through mu.
type WSChannel struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	writeWait time.Duration
	closed    bool
}

// NewWSChannel wraps conn.
func NewWSChannel(conn *websocket.Conn) *WSChannel {
	return &WSChannel{conn: conn, writeWait: defaultWriteWait}
}

// Send writes n as a JSON text frame. The write deadline is the earlier of
// the context deadline and the channel's write timeout.
func (c *WSChannel) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}

	deadline := time.Now().Add(c.writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteJSON(n)
}

// Ping writes a websocket ping control frame.
func (c *WSChannel) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
}

// Close marks the channel closed and closes the connection.
func (c *WSChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
