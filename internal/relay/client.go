package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/1ureka.net.mesh/internal/signaling"
	"github.com/1ureka/1ureka.net.mesh/internal/util"
)

// Keepalive tuning, mirroring the client side of the control socket.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	sendQueueSize = 64
)

// client is the relay's per-connection actor: one read pump and one write
// pump per socket. The read pump is the only goroutine that interprets
// messages from this connection; everything outbound goes through the send
// queue drained by the write pump.
type client struct {
	id   string
	reg  *Registry
	conn *websocket.Conn

	send      chan *signaling.Message
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(id string, reg *Registry, conn *websocket.Conn) *client {
	return &client{
		id:   id,
		reg:  reg,
		conn: conn,
		send: make(chan *signaling.Message, sendQueueSize),
		done: make(chan struct{}),
	}
}

// ID implements Conn.
func (c *client) ID() string { return c.id }

// Deliver implements Conn. Best-effort: if the send queue is full the
// message is dropped rather than blocking the relay.
func (c *client) Deliver(msg *signaling.Message) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		util.LogWarning("send queue full for %s, dropping %s", c.id, msg.Type)
	}
}

// close releases the socket exactly once and removes the connection from
// its room.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
		c.reg.Disconnect(c.id)
	})
}

// readPump interprets inbound control messages until the socket drops.
func (c *client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg signaling.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				util.LogDebug("read error for %s: %v", c.id, err)
			}
			return
		}

		switch {
		case msg.Type == signaling.MsgTypeJoin:
			peers := c.reg.Join(msg.Room, c)
			util.LogInfo("%s joined room %q (%d prior members)", c.id, msg.Room, len(peers))
			c.Deliver(&signaling.Message{Type: signaling.MsgTypePeers, Peers: peers})

		case signaling.IsSignal(msg.Type):
			// Stamp the sender so the recipient can route the reply; the
			// payload itself is forwarded untouched.
			msg.SourcePeerID = c.id
			c.reg.Forward(msg.PeerID, &msg)

		default:
			util.LogDebug("unknown message type %q from %s", msg.Type, c.id)
		}
	}
}

// writePump drains the send queue and keeps the socket alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				util.LogDebug("write error for %s: %v", c.id, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
