package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/1ureka.net.mesh/internal/util"
)

// Keepalive tuning.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024 // enough for any SDP
)

// ErrLinkClosed is returned by Send after the link has shut down.
var ErrLinkClosed = errors.New("relay link closed")

// Link is the client side of the relay control socket. All reads happen on
// one pump goroutine and all writes on another; callers interact only with
// Send and the Incoming channel.
type Link struct {
	conn *websocket.Conn

	incoming chan *Message
	outgoing chan *Message

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the relay at the given WebSocket URL and starts the
// read/write pumps. The Incoming channel is closed when the socket drops.
func Dial(ctx context.Context, url string) (*Link, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}

	l := &Link{
		conn:     conn,
		incoming: make(chan *Message, 32),
		outgoing: make(chan *Message, 32),
		done:     make(chan struct{}),
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go l.readPump()
	go l.writePump()

	return l, nil
}

// Incoming returns the channel of messages received from the relay.
// It is closed when the control socket disconnects.
func (l *Link) Incoming() <-chan *Message {
	return l.incoming
}

// Send enqueues a message for transmission to the relay.
func (l *Link) Send(msg *Message) error {
	// Checked first on its own: with buffered queue space free, a
	// two-case select could pick the enqueue even after shutdown.
	select {
	case <-l.done:
		return ErrLinkClosed
	default:
	}

	select {
	case l.outgoing <- msg:
		return nil
	case <-l.done:
		return ErrLinkClosed
	}
}

// Close shuts the link down. Safe to call more than once.
func (l *Link) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}

// readPump reads messages from the socket into the incoming channel.
// It owns all reads on the connection.
func (l *Link) readPump() {
	defer func() {
		l.Close()
		l.conn.Close()
		close(l.incoming)
	}()

	l.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var msg Message
		if err := l.conn.ReadJSON(&msg); err != nil {
			select {
			case <-l.done:
				// Shutting down anyway.
			default:
				util.LogDebug("relay link read error: %v", err)
			}
			return
		}

		select {
		case l.incoming <- &msg:
		case <-l.done:
			return
		}
	}
}

// writePump drains the outgoing channel and sends periodic pings.
// It owns all writes on the connection.
func (l *Link) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		l.conn.Close()
	}()

	for {
		select {
		case msg := <-l.outgoing:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteJSON(msg); err != nil {
				util.LogDebug("relay link write error: %v", err)
				l.Close()
				return
			}

		case <-ticker.C:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				l.Close()
				return
			}

		case <-l.done:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			l.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
