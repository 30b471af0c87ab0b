package websocket

import (
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

const (
	sendChSize   = 10_000
	maxReconnect = 10
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
)

// connection manages a WebSocket connection. Each dialled link has exactly one
// write goroutine; a dropped link is replaced by at most one reconnect.
type connection struct {
	mu     sync.Mutex
	link   *link
	sendCh chan []byte
	done   chan struct{} // closed on shutdown
	closed bool

	wsURL   string
	secret  string
	backoff time.Duration

	// snapshot returns the messages that rebuild the front end's state after
	// a reconnect.
	snapshot func() [][]byte
	// onMessage receives every inbound frame.
	onMessage func([]byte)

	logger *slog.Logger
}

// link is one dialled connection and the loops serving it.
type link struct {
	conn       *ws.Conn
	stop       chan struct{} // closed when the link is dropped
	writerDone chan struct{}
}

func newConnection(logger *slog.Logger, snapshot func() [][]byte, onMessage func([]byte)) *connection {
	return &connection{
		sendCh:    make(chan []byte, sendChSize),
		done:      make(chan struct{}),
		backoff:   time.Second,
		snapshot:  snapshot,
		onMessage: onMessage,
		logger:    logger,
	}
}

// dial connects to the WebSocket server and starts read/write loops.
func (c *connection) dial(rawURL, secret string) error {
	c.wsURL = rawURL
	c.secret = secret

	conn, err := c.dialOnce()
	if err != nil {
		return err
	}
	c.start(conn)
	return nil
}

// start makes conn the live link and serves it.
func (c *connection) start(conn *ws.Conn) {
	l := &link{conn: conn, stop: make(chan struct{}), writerDone: make(chan struct{})}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.link = l
	c.mu.Unlock()

	go c.writeLoop(l)
	go c.readLoop(l)
}

// dialOnce performs a single WebSocket dial with the secret query param.
func (c *connection) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if c.secret != "" {
		q := u.Query()
		q.Set("secret", c.secret)
		u.RawQuery = q.Encode()
	}

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// writeLoop drains sendCh and writes messages to the link. It returns when
// the link is dropped or the connection shuts down.
func (c *connection) writeLoop(l *link) {
	defer close(l.writerDone)
	for {
		select {
		case <-c.done:
			return
		case <-l.stop:
			return
		case data := <-c.sendCh:
			if err := l.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
				c.drop(l)
				return
			}
			if err := l.conn.WriteMessage(ws.TextMessage, data); err != nil {
				c.logger.Warn("WebSocket write error", "error", err)
				c.drop(l)
				return
			}
		}
	}
}

// readLoop hands every inbound frame to onMessage.
func (c *connection) readLoop(l *link) {
	for {
		_, message, err := l.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			case <-l.stop:
				return
			default:
			}
			c.logger.Warn("WebSocket read error", "error", err)
			c.drop(l)
			return
		}

		if c.onMessage != nil {
			c.onMessage(message)
		}
	}
}

// drop retires l and starts a reconnect. Only the first caller for the live
// link has any effect.
func (c *connection) drop(l *link) {
	c.mu.Lock()
	if c.closed || c.link != l {
		c.mu.Unlock()
		return
	}
	c.link = nil
	close(l.stop)
	c.mu.Unlock()

	_ = l.conn.Close()
	go c.reconnect(l)
}

// reconnect attempts to re-establish the WebSocket connection with
// exponential backoff once the old link's writer has exited. On success it
// replays the current map state and serves the new link.
func (c *connection) reconnect(old *link) {
	<-old.writerDone

	backoff := c.backoff
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		c.logger.Info("Reconnecting to map WebSocket", "attempt", attempt, "backoff", backoff)
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		conn, err := c.dialOnce()
		if err != nil {
			c.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		if err := c.replay(conn); err != nil {
			c.logger.Warn("Failed to replay map state after reconnect", "error", err)
			_ = conn.Close()
			continue
		}

		c.logger.Info("Map WebSocket reconnected", "attempt", attempt)
		c.start(conn)
		return
	}

	c.logger.Error("Map WebSocket reconnect failed after max attempts", "maxAttempts", maxReconnect)
}

func (c *connection) replay(conn *ws.Conn) error {
	if c.snapshot == nil {
		return nil
	}
	for _, msg := range c.snapshot() {
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return err
		}
		if err := conn.WriteMessage(ws.TextMessage, msg); err != nil {
			return err
		}
	}
	return nil
}

// send pushes data to the write loop. Non-blocking; drops if channel full.
func (c *connection) send(data []byte) {
	select {
	case c.sendCh <- data:
	default:
		c.logger.Warn("Map WebSocket send channel full, dropping message")
	}
}

// close sends a WebSocket close frame and shuts down all goroutines.
// WriteControl is safe alongside a write in progress.
func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	l := c.link
	c.link = nil
	c.mu.Unlock()

	if l == nil {
		return nil
	}
	_ = l.conn.WriteControl(
		ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	return l.conn.Close()
}
