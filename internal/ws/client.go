package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 16 << 10
	sendBufferSize = 256
)

// Client is one websocket connection bound to an identity.
type Client struct {
	ConnID string
	UserID string

	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool

	rooms map[string]struct{} // guarded by Hub.mu
}

func NewClient(conn *websocket.Conn, userID string) *Client {
	return &Client{
		ConnID: uuid.NewString(),
		UserID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
	}
}

// Serve runs the write pump in the background and the read pump on the
// calling goroutine. Each text frame is handed to onMessage; onClose runs
// once after the connection is gone and the client is unregistered.
func (c *Client) Serve(h *Hub, onMessage func(c *Client, payload []byte), onClose func(c *Client)) {
	go c.writePump()
	c.readPump(h, onMessage, onClose)
}

func (c *Client) readPump(h *Hub, onMessage func(*Client, []byte), onClose func(*Client)) {
	defer func() {
		h.Unregister(c)
		_ = c.conn.Close()
		if onClose != nil {
			onClose(c)
		}
		log.Debug().Str("conn", c.ConnID).Str("user", c.UserID).Msg("[ws] read pump closed")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		kind, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("conn", c.ConnID).Msg("[ws] unexpected close")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		onMessage(c, payload)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug().Err(err).Str("conn", c.ConnID).Msg("[ws] write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue reports false when the client is closed or its buffer is full.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
