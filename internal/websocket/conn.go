package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/tickbridge"
	"github.com/luciancaetano/tickbridge/internal/logging"
)

const (
	outboxSize   = 256
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
	closeWait    = time.Second
	maxFrameSize = 10 * 1024 * 1024
)

type outbound struct {
	frame tickbridge.FrameType
	data  []byte
}

// Conn implements tickbridge.Conn on top of a gorilla connection.
//
// Writes go through a single write pump goroutine; Send only queues.
type Conn struct {
	handle      tickbridge.ConnHandle
	conn        *websocket.Conn
	remoteAddr  string
	ctx         context.Context
	cancel      context.CancelFunc
	sendCh      chan outbound
	mu          sync.RWMutex
	closed      bool
	rateLimiter *rate.Limiter
	log         zerolog.Logger
}

// newConn wraps conn. The caller must run writePump.
func newConn(conn *websocket.Conn, remoteAddr string, rateLimitConfig *RateLimitConfig, log zerolog.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	handle := tickbridge.ConnHandle(uuid.New().String())

	return &Conn{
		handle:      handle,
		conn:        conn,
		remoteAddr:  remoteAddr,
		ctx:         ctx,
		cancel:      cancel,
		sendCh:      make(chan outbound, outboxSize),
		rateLimiter: rateLimitConfig.newLimiter(),
		log: log.With().
			Str(logging.FieldConnID, string(handle)).
			Str(logging.FieldRemoteAddr, remoteAddr).
			Logger(),
	}
}

// Handle returns the connection's opaque handle
func (c *Conn) Handle() tickbridge.ConnHandle {
	return c.handle
}

// RemoteAddr returns the client's remote network address
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// Context returns the connection's lifecycle context
func (c *Conn) Context() context.Context {
	return c.ctx
}

// Send queues a frame for the write pump. It never blocks: a full outbox
// returns ErrOutboxFull and the frame is dropped.
func (c *Conn) Send(ctx context.Context, frame tickbridge.FrameType, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return tickbridge.ErrConnectionClosed
	}

	select {
	case <-c.ctx.Done():
		return tickbridge.ErrContextCancelled
	default:
	}

	select {
	case c.sendCh <- outbound{frame: frame, data: data}:
		return nil
	default:
		return tickbridge.ErrOutboxFull
	}
}

// Close closes the client connection
func (c *Conn) Close(ctx context.Context) error {
	return c.CloseWithCode(ctx, websocket.CloseNormalClosure, "")
}

// CloseWithCode closes the connection with a close code and optional reason
func (c *Conn) CloseWithCode(ctx context.Context, code int, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cancel()
	c.mu.Unlock()

	// WriteControl may wait for a pump stuck on a slow peer. It runs outside
	// mu so Send keeps failing fast meanwhile.
	deadline := time.Now().Add(closeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)

	return c.conn.Close()
}

// IsAlive returns true if the connection is still active
func (c *Conn) IsAlive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed && c.ctx.Err() == nil
}

// checkRateLimit returns true if the frame is allowed.
func (c *Conn) checkRateLimit() bool {
	if c.rateLimiter == nil {
		return true
	}
	return c.rateLimiter.Allow()
}

// writePump pumps frames from the outbox to the websocket connection and
// keeps the connection alive with periodic pings. On a write failure it
// closes the socket itself; on cancellation CloseWithCode owns the socket.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	failed := false
	defer func() {
		ticker.Stop()
		c.cancel()
		if failed {
			c.conn.Close()
		}
	}()

	for {
		select {
		case msg := <-c.sendCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(messageType(msg.frame), msg.data); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				failed = true
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				failed = true
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

func messageType(frame tickbridge.FrameType) int {
	if frame == tickbridge.FrameBinary {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}
