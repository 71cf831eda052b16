package network

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a frame.
	writeWait = 10 * time.Second

	// Time allowed between pongs before the peer is considered gone.
	pongWait = 60 * time.Second

	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	sendBufferSize = 256
)

var (
	ErrClosed         = errors.New("network: connection closed")
	ErrSendBufferFull = errors.New("network: send buffer full")
)

// Client is one websocket peer. Writes go through a buffered channel drained
// by writeLoop, reads are delivered to the handler from readLoop.
type Client struct {
	id   string
	conn *websocket.Conn
	hub  *Hub
	log  *zap.Logger

	mu     sync.Mutex
	closed bool
	send   chan Message
}

func newClient(conn *websocket.Conn, hub *Hub, log *zap.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:   id,
		conn: conn,
		hub:  hub,
		log:  log.With(zap.String("conn", id), zap.String("remote", conn.RemoteAddr().String())),
		send: make(chan Message, sendBufferSize),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) RemoteAddr() string { return c.conn.RemoteAddr().String() }

// Send never blocks. A peer too slow to drain its buffer is disconnected, so
// it never keeps a seat without receiving the room's events.
func (c *Client) Send(msg Message) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	select {
	case c.send <- msg:
		c.mu.Unlock()
		return nil
	default:
	}
	c.mu.Unlock()

	c.log.Warn("send buffer full, closing slow peer", zap.String("type", msg.Type))
	c.Close()
	return ErrSendBufferFull
}

// Close stops writeLoop and closes the socket, which ends readLoop and
// unregisters the client from the hub.
func (c *Client) Close() {
	c.shutdown()
	if c.conn != nil {
		c.conn.Close()
	}
}

// shutdown closes the send channel once, which stops writeLoop.
func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) readLoop() {
	defer func() {
		if !c.hub.enqueue(c.hub.unregister, c) {
			c.shutdown()
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("unexpected close", zap.Error(err))
			}
			return
		}
		// Handled on this goroutine so frames of one peer keep their order
		// without serializing unrelated peers behind each other.
		c.hub.handler.OnMessage(c, msg)
	}
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.log.Debug("write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
