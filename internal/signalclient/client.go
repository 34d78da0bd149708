// Package signalclient maintains the client side of the signaling
// connection: dialing the hub, pumping messages, and reconnecting with
// capped exponential backoff when the transport drops.
package signalclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 256 * 1024

	backoffBase          = time.Second
	backoffCap           = 10 * time.Second
	maxReconnectAttempts = 5
)

var (
	ErrUnhealthy      = errors.New("hub health check failed")
	ErrGaveUp         = errors.New("signaling reconnect attempts exhausted")
	ErrNotConnected   = errors.New("not connected")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Client manages the persistent connection to the signaling hub.
type Client struct {
	baseURL string
	wsURL   string
	token   string

	httpClient *http.Client

	mu   sync.RWMutex
	conn *websocket.Conn

	out    chan protocol.Message
	Events *Events

	pending *answerBook
}

func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		wsURL:      wsURLFor(baseURL),
		token:      uuid.NewString(),
		httpClient: &http.Client{Timeout: 5 * time.Second},
		out:        make(chan protocol.Message, 64),
		Events:     NewEvents(),
		pending:    newAnswerBook(),
	}
}

func wsURLFor(baseURL string) string {
	switch {
	case len(baseURL) > 8 && baseURL[:8] == "https://":
		return "wss://" + baseURL[8:] + "/api/ws/signal"
	case len(baseURL) > 7 && baseURL[:7] == "http://":
		return "ws://" + baseURL[7:] + "/api/ws/signal"
	default:
		return "ws://" + baseURL + "/api/ws/signal"
	}
}

// Health performs the stateless probe clients run before opening the
// persistent connection.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnhealthy, err)
	}
	defer resp.Body.Close()
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Status != "ok" {
		return ErrUnhealthy
	}
	return nil
}

// Register satisfies the peer broker contract: the identity is
// registered once the hub is reachable over the probe endpoint.
func (c *Client) Register(ctx context.Context) error {
	return c.Health(ctx)
}

// Connect probes the hub and dials the websocket.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.Health(ctx); err != nil {
		return err
	}
	return c.dial(ctx)
}

func (c *Client) dial(ctx context.Context) error {
	header := http.Header{}
	header.Set("Cookie", "ct="+c.token)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, header)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// Send enqueues one message for the write pump.
func (c *Client) Send(msg protocol.Message) error {
	select {
	case c.out <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Run pumps the connection until ctx is canceled or reconnection gives
// up. Backoff starts at one second, doubles, and is capped; after the
// attempt budget is spent the loss is surfaced as fatal.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.pump(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Str("module", "signalclient").Msg("signaling connection lost")

		if err := c.reconnect(ctx); err != nil {
			c.Events.emitFatal(err)
			return err
		}
	}
}

func (c *Client) reconnect(ctx context.Context) error {
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		delay := backoffDelay(attempt)
		log.Info().Str("module", "signalclient").Int("attempt", attempt).
			Dur("delay", delay).Msg("reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if err := c.Connect(ctx); err == nil {
			log.Info().Str("module", "signalclient").Msg("reconnected")
			return nil
		}
	}
	return ErrGaveUp
}

// backoffDelay returns the exponential delay for a 1-based attempt.
func backoffDelay(attempt int) time.Duration {
	d := backoffBase << (attempt - 1)
	if d > backoffCap || d <= 0 {
		return backoffCap
	}
	return d
}

// pump runs one connection's read and write loops until either fails.
func (c *Client) pump(ctx context.Context) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 2)

	go func() { errc <- c.writePump(pumpCtx, conn) }()
	go func() { errc <- c.readPump(conn) }()

	err := <-errc
	_ = conn.Close()
	return err
}

func (c *Client) writePump(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-c.out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return err
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

func (c *Client) readPump(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		c.route(msg)
	}
}

// Close shuts the transport; the hub observes it as a disconnection.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

func (c *Client) route(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeWebRTCAnswer:
		c.pending.deliver(msg.UserID, msg.SDP)
	default:
		c.Events.emit(msg)
	}
}
