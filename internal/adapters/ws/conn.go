// Package ws wraps gorilla connections for the signaling hub: buffered
// sends with backpressure, read/write pumps, and liveness probing.
package ws

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/core"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 5 * time.Second

	sendBuffer = 32
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// Conn implements core.SignalConnection over a websocket.
type Conn struct {
	ws   *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool

	// wmu serializes socket writes; gorilla permits one writer at a
	// time and probes run off the write loop's goroutine.
	wmu sync.Mutex

	// alive is set by the pong handler and cleared on every probe.
	// A connection that misses a full probe cycle is considered dead.
	alive atomic.Bool

	onClose func()
}

func NewConn(ws *websocket.Conn, onClose func()) *Conn {
	c := &Conn{
		ws:      ws,
		send:    make(chan core.Frame, sendBuffer),
		onClose: onClose,
	}
	c.alive.Store(true)
	ws.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})
	return c
}

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *Conn) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.ws.Close()
	c.mu.Unlock()
	if c.onClose != nil {
		c.onClose()
	}
}

// Probe reports whether the peer answered the previous probe, then
// clears the flag and sends a new ping. A false return means a full
// cycle passed without a pong.
func (c *Conn) Probe() bool {
	wasAlive := c.alive.Swap(false)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	c.wmu.Lock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.ws.WriteMessage(websocket.PingMessage, nil)
	c.wmu.Unlock()
	if err != nil {
		return false
	}
	return wasAlive
}

// WriteLoop drains the send channel onto the socket.
func (c *Conn) WriteLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			c.wmu.Lock()
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.ws.WriteMessage(websocket.TextMessage, data)
			c.wmu.Unlock()
			if err != nil {
				log.Error().Err(err).Str("module", "adapters.ws").Msg("write error")
				return
			}
		}
	}
}

// ReadLoop feeds inbound frames to handle until the transport fails,
// then closes the connection.
func (c *Conn) ReadLoop(ctx context.Context, readLimit int64, handle func([]byte)) {
	defer c.Close()
	c.ws.SetReadLimit(readLimit)
	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.ws.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "adapters.ws").Msg("read error")
				}
				return
			}
			handle(data)
		}
	}
}
