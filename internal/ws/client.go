package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be < pongWait
	maxMessageSize = 4096
	sendBufferSize = 64
)

// clientConn is one live websocket tied to an authenticated identity.
// Writes go through the buffered send channel and a single writePump so
// broadcasts never block on a slow socket; a full buffer marks the
// connection for removal instead. The send channel is never closed: a
// broadcast may still hold this conn in its target snapshot after the
// conn was unregistered, so shutdown is signalled through done instead.
type clientConn struct {
	id       string
	identity string
	rawConn  *websocket.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClientConn(identity string, rawConn *websocket.Conn) *clientConn {
	return &clientConn{
		id:       uuid.NewString(),
		identity: identity,
		rawConn:  rawConn,
		send:     make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
	}
}

// enqueue is non-blocking; false means the conn is closed or the
// consumer is too slow.
func (c *clientConn) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *clientConn) enqueueJSON(v interface{}) bool {
	payload, err := json.Marshal(v)
	if err != nil {
		zap.L().Warn("ws.marshal", zap.Error(err))
		return true // nothing to deliver, not the socket's fault
	}
	return c.enqueue(payload)
}

// close signals shutdown exactly once; writePump observes done, sends
// the close frame and closes the underlying socket.
func (c *clientConn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *clientConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.rawConn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.rawConn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.rawConn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			_ = c.rawConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.rawConn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.rawConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.rawConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
