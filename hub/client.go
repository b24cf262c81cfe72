package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/chilts/sid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/vault-app/vault-hub/auth"
)

// OverflowPolicy decides what happens when a connection's outbound queue is full
type OverflowPolicy string

const (
	// OverflowDisconnect closes a connection that can't keep up
	OverflowDisconnect OverflowPolicy = "disconnect"

	// OverflowDropOldest discards the oldest queued frame to make room
	OverflowDropOldest OverflowPolicy = "drop-oldest"
)

// Client is a websocket connection bound to a user identity
type Client struct {
	id       string
	identity auth.Identity
	openedAt time.Time

	conn *websocket.Conn
	hub  *Hub
	log  *logrus.Entry

	mu       sync.Mutex
	send     chan []byte
	closed   bool
	overflow OverflowPolicy

	closeOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, identity auth.Identity) *Client {
	c := &Client{
		id:       sid.IdBase64(),
		identity: identity,
		openedAt: time.Now(),
		conn:     conn,
		hub:      hub,
		send:     make(chan []byte, hub.options.SendQueueSize),
		overflow: hub.options.Overflow,
	}
	c.log = logrus.WithField("comp", "client").WithField("conn_id", c.id).WithField("user_id", identity.UserID)
	return c
}

func (c *Client) ID() string { return c.id }
func (c *Client) UserID() string { return c.identity.UserID }
func (c *Client) Identity() auth.Identity { return c.identity }
func (c *Client) OpenedAt() time.Time { return c.openedAt }

// Send queues frame without blocking. When the queue is full the overflow policy applies.
func (c *Client) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- frame:
		return true
	default:
	}

	if c.overflow == OverflowDropOldest {
		select {
		case <-c.send:
			c.log.Warn("send queue full, dropped oldest frame")
		default:
		}
		select {
		case c.send <- frame:
			return true
		default:
			return false
		}
	}

	c.log.Warn("send queue full, disconnecting")
	c.closeSendLocked()
	return false
}

// Close stops accepting frames, the write pump then closes the socket which ends the read pump
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeSendLocked()
}

func (c *Client) closeSendLocked() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) sendJSON(v interface{}) bool {
	frame, err := json.Marshal(v)
	if err != nil {
		c.log.WithError(err).Error("error encoding frame")
		return false
	}
	return c.Send(frame)
}

func (c *Client) ack(cid int, data interface{}, err error) {
	if cid == 0 {
		return
	}
	ack := &AckMessage{RID: cid, Data: data}
	if err != nil {
		ack.Error = err.Error()
	}
	c.sendJSON(ack)
}

// fail reports err for an inbound event, through the ack when the frame carried a cid and as
// an error event otherwise
func (c *Client) fail(cid int, event string, err error) {
	if cid != 0 {
		c.ack(cid, nil, err)
		return
	}
	c.sendJSON(&OutboundMessage{Event: EventError, Data: &ErrorPayload{Event: event, Error: err.Error()}})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.OnClose(c)
		_ = c.conn.Close()
	}()

	pongWait := c.hub.options.PongTimeout
	c.conn.SetReadLimit(c.hub.options.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, rawData, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Error("failed to read message")
			}
			break
		}

		if msgType != websocket.TextMessage {
			continue
		}
		c.hub.handleFrame(c, rawData)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.options.PongTimeout * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	writeTimeout := c.hub.options.WriteTimeout
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.WithError(err).Debug("failed to write message")
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.WithError(err).Debug("failed to send ping message")
				c.Close()
				return
			}
		}
	}
}
