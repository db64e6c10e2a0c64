package ws

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

var (
	errClientClosed = errors.New("connection closed")
	errSendBacklog  = errors.New("send buffer full")
)

// client wraps one websocket connection behind the relay's Sender capability.
// The read goroutine feeds the dispatcher; writePump drains the send channel
// so a slow socket never blocks a dispatch.
type client struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newClient(conn *websocket.Conn, buffer int) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, buffer),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// Send enqueues one frame. It reports an error when the connection is gone or
// the client has fallen too far behind; the relay reacts by dropping the
// session from future deliveries.
func (c *client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSendBacklog
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
