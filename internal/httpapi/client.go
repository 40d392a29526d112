package httpapi

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	clientSendBuffer = 64
	writeWait        = 5 * time.Second
	maxMessageSize   = 4096
)

// client is one connected remote control. Only writeLoop writes to conn.
type client struct {
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{conn: conn, send: make(chan []byte, clientSendBuffer)}
}

// enqueue must be called with the hub lock held.
func (c *client) enqueue(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *client) closeConn() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

func (c *client) writeLoop() {
	defer c.closeConn()

	for payload := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
}
