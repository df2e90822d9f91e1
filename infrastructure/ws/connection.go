// Package ws carries participant sessions over websockets.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"negotiation-hub/contract"
	"negotiation-hub/domain/event"
	"negotiation-hub/errors"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Application close codes sent to clients.
const (
	CloseSessionReplaced    = 4001
	CloseDisconnected       = 4002
	CloseIdentityUnresolved = 4003
)

var closeCodes = map[string]int{
	"session replaced":         CloseSessionReplaced,
	"disconnected by operator": CloseDisconnected,
	"identity unresolved":      CloseIdentityUnresolved,
}

var _ contract.ConnectionHandle = (*Connection)(nil)

// Connection wraps a websocket and serializes outbound writes through a buffered channel.
// It is safe for concurrent use. The send channel is never closed, the write loop
// stops on done.
type Connection struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
	log  *slog.Logger

	mu      sync.Mutex
	pending map[string]chan struct{} // frame id -> closed on ack
}

func NewConnection(ws *websocket.Conn, bufferSize int, log *slog.Logger) *Connection {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Connection{
		id:      uuid.NewString(),
		ws:      ws,
		send:    make(chan []byte, bufferSize),
		done:    make(chan struct{}),
		log:     log,
		pending: make(map[string]chan struct{}),
	}
}

// Start launches the write loop. It must be called exactly once per connection.
func (c *Connection) Start() {
	go c.writeLoop()
}

func (c *Connection) ID() string {
	return c.id
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Push enqueues frame for delivery. A client too slow to drain its buffer is disconnected.
func (c *Connection) Push(_ context.Context, frame event.Frame) (<-chan struct{}, error) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return nil, err
	}

	var acked chan struct{}
	if frame.Ack {
		acked = make(chan struct{})
		c.mu.Lock()
		c.pending[frame.ID] = acked
		c.mu.Unlock()
	}

	select {
	case <-c.done:
		c.forget(frame.ID)
		return nil, errors.ErrConnectionClosed
	default:
	}

	select {
	case c.send <- payload:
		return acked, nil
	default:
		c.forget(frame.ID)
		c.closeWith(websocket.CloseGoingAway, "send buffer full")
		return nil, errors.ErrSendBufferFull
	}
}

// Acknowledge releases whoever waits on the ack of frameID.
func (c *Connection) Acknowledge(frameID string) bool {
	c.mu.Lock()
	acked, ok := c.pending[frameID]
	delete(c.pending, frameID)
	c.mu.Unlock()
	if ok {
		close(acked)
	}
	return ok
}

func (c *Connection) forget(frameID string) {
	c.mu.Lock()
	delete(c.pending, frameID)
	c.mu.Unlock()
}

// Reject writes frame straight to the socket and closes it with reason.
// It is meant for sessions refused before Start, when no write loop owns the socket.
func (c *Connection) Reject(frame event.Frame, reason string) {
	payload, err := json.Marshal(frame)
	if err == nil {
		err = c.write(websocket.TextMessage, payload)
	}
	if err != nil {
		c.log.Debug("Unable to send rejection", "connection_id", c.id, "error", err)
	}
	c.Close(reason)
}

// Close terminates the connection with a close code derived from reason.
func (c *Connection) Close(reason string) {
	code, ok := closeCodes[reason]
	if !ok {
		code = websocket.CloseNormalClosure
	}
	c.closeWith(code, reason)
}

func (c *Connection) closeWith(code int, reason string) {
	c.once.Do(func() {
		close(c.done)
		deadline := time.Now().Add(writeWait)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
		c.log.Debug("Connection closed", "connection_id", c.id, "code", code, "reason", reason)
	})
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			if err := c.write(websocket.TextMessage, payload); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (c *Connection) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
