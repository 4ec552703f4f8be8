package rt

import (
	"time"

	"github.com/gorilla/websocket"

	"fleetwire.org/internal/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
)

// client is the middleman between one websocket connection and the gateway.
type client struct {
	gw     *Gateway
	conn   *websocket.Conn
	userID string
	role   auth.Role
	send   chan outMessage
}

func newClient(g *Gateway, conn *websocket.Conn, userID string, role auth.Role) *client {
	return &client{
		gw:     g,
		conn:   conn,
		userID: userID,
		role:   role,
		send:   make(chan outMessage, 32),
	}
}

func (c *client) start() {
	go c.writePump()
	go c.readPump()
}

// readPump pumps inbound events into the gateway. Decode failures on the
// envelope terminate the connection; malformed payloads inside a valid
// envelope are dropped by the gateway without closing anything.
func (c *client) readPump() {
	defer func() {
		c.gw.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		c.gw.handleMessage(c, msg)
	}
}

// writePump pumps gateway messages to the connection and keeps it alive
// with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
