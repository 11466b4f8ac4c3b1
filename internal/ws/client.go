package ws

import (
	"time"

	"github.com/gofiber/websocket/v2"
)

const (
	readLimit    = 64 * 1024
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 256
)

type Client struct {
	userID string
	conn   *websocket.Conn
	send   chan Envelope
	hub    *Hub
}

// Attach binds an upgraded connection to the hub and blocks until the
// connection dies. Meant to be called from the websocket handler.
func (h *Hub) Attach(userID string, conn *websocket.Conn) {
	c := &Client{
		userID: userID,
		conn:   conn,
		send:   make(chan Envelope, sendBuffer),
		hub:    h,
	}
	h.register(c)
	go c.writePump()
	c.readPump()
}

func (c *Client) enqueue(env Envelope) {
	select {
	case c.send <- env:
	default:
		// slow consumer: drop rather than stall every other client
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// clients only listen on this socket; inbound frames just refresh
		// the read deadline
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
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
		case env := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(time.Second)); err != nil {
				return
			}
		}
	}
}
