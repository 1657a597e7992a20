// Package client is a JSON-RPC 2.0 WebSocket client for a tickbridge server.
//
// A Client is safe for concurrent use. Replies are matched to calls by id, so
// a queued host command and an immediate ping may be awaited at the same time.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/luciancaetano/tickbridge"
	"github.com/luciancaetano/tickbridge/internal/logging"
	"github.com/luciancaetano/tickbridge/internal/rpc"
)

// DefaultURL is the address of a bridge on the local machine.
const DefaultURL = "ws://localhost:3000"

var (
	// ErrClosed is returned by calls on a closed client.
	ErrClosed = errors.New("client closed")
	// ErrDialTimeout is returned when no connection could be made in time.
	ErrDialTimeout = errors.New("could not connect before timeout")
)

// Options configures Dial.
type Options struct {
	// Timeout bounds the whole dial including retries. Default 5s.
	Timeout time.Duration
	// RetryInterval is the first wait between attempts; it doubles after each
	// refused attempt up to MaxRetryInterval. Default 100ms.
	RetryInterval time.Duration
	// MaxRetryInterval defaults to 2s.
	MaxRetryInterval time.Duration
	// HostCommand selects the execute method. Default "george".
	HostCommand string
	// Frame selects the frame type of requests. Default text.
	Frame tickbridge.FrameType
	// Header is sent with the upgrade request.
	Header http.Header
	// Logger defaults to a no-op logger.
	Logger *zerolog.Logger
}

func (o *Options) withDefaults() Options {
	var out Options
	if o != nil {
		out = *o
	}
	if out.Timeout <= 0 {
		out.Timeout = 5 * time.Second
	}
	if out.RetryInterval <= 0 {
		out.RetryInterval = 100 * time.Millisecond
	}
	if out.MaxRetryInterval <= 0 {
		out.MaxRetryInterval = 2 * time.Second
	}
	if out.HostCommand == "" {
		out.HostCommand = tickbridge.DefaultHostCommand
	}
	if out.Frame == 0 {
		out.Frame = tickbridge.FrameText
	}
	return out
}

// ResponseError is an error envelope returned by the server.
type ResponseError struct {
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("json-rpc error (%d): %s", e.Code, e.Message)
}

// HostError is a host command that ran but reported failure in its result
// text, e.g. "ERROR -1".
type HostError struct {
	Command string
	Result  string
}

func (e *HostError) Error() string {
	return fmt.Sprintf("command %q returned %q", e.Command, e.Result)
}

var errorResult = regexp.MustCompile(`(?i)^ERROR -?\d+`)

// IsErrorResult reports whether a host result is an "ERROR <n>" value.
func IsErrorResult(result string) bool {
	return errorResult.MatchString(result)
}

// FormatCommand joins a command and its arguments, quoting string arguments
// that contain spaces.
func FormatCommand(command string, args ...any) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, command)
	for _, arg := range args {
		if s, ok := arg.(string); ok {
			if strings.Contains(s, " ") {
				s = `"` + s + `"`
			}
			parts = append(parts, s)
			continue
		}
		parts = append(parts, fmt.Sprint(arg))
	}
	return strings.Join(parts, " ")
}

// Client is a connected JSON-RPC client.
type Client struct {
	conn          *websocket.Conn
	messageType   int
	executeMethod string
	log           zerolog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan *rpc.ResponseEnvelope
	err     error

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to url, retrying refused attempts until opts.Timeout elapses
// or ctx is done.
func Dial(ctx context.Context, url string, opts *Options) (*Client, error) {
	o := opts.withDefaults()
	log := zerolog.Nop()
	if o.Logger != nil {
		log = *o.Logger
	}

	ctx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: o.Timeout}
	wait := o.RetryInterval
	for attempt := 1; ; attempt++ {
		conn, _, err := dialer.DialContext(ctx, url, o.Header)
		if err == nil {
			log.Debug().Str("url", url).Int("attempt", attempt).Msg("connected")
			return newClient(conn, o, log), nil
		}
		if errors.Is(err, websocket.ErrBadHandshake) {
			return nil, fmt.Errorf("dial %s: %w", url, err)
		}

		log.Warn().Err(err).Dur("retry_in", wait).Msg("connection refused, retrying")
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrDialTimeout, url, err)
		case <-time.After(wait):
		}
		wait = min(wait*2, o.MaxRetryInterval)
	}
}

func newClient(conn *websocket.Conn, o Options, log zerolog.Logger) *Client {
	messageType := websocket.TextMessage
	if o.Frame == tickbridge.FrameBinary {
		messageType = websocket.BinaryMessage
	}
	c := &Client{
		conn:          conn,
		messageType:   messageType,
		executeMethod: tickbridge.ExecuteMethod(o.HostCommand),
		log:           log,
		pending:       make(map[int64]chan *rpc.ResponseEnvelope),
		done:          make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Call sends method with params and waits for the reply carrying its id.
// An error envelope is returned as *ResponseError.
func (c *Client) Call(ctx context.Context, method string, params ...string) (string, error) {
	ch := make(chan *rpc.ResponseEnvelope, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return "", err
	}
	id := c.nextID
	c.nextID++
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, rpc.EncodeRequest(id, method, params)); err != nil {
		return "", err
	}

	select {
	case env := <-ch:
		if env.Error != nil {
			return "", &ResponseError{Code: env.Error.Code, Message: env.Error.Message, Data: env.Error.Data}
		}
		var result string
		if err := json.Unmarshal(env.Result, &result); err != nil {
			return "", fmt.Errorf("decode result: %w", err)
		}
		return result, nil
	case <-c.done:
		return "", c.closeErr()
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Ping checks the server is answering.
func (c *Client) Ping(ctx context.Context) error {
	result, err := c.Call(ctx, tickbridge.MethodPing)
	if err != nil {
		return err
	}
	if result != "pong" {
		return fmt.Errorf("unexpected ping result %q", result)
	}
	return nil
}

// Execute runs a host command. A result of the form "ERROR <n>" is returned
// together with a *HostError.
func (c *Client) Execute(ctx context.Context, command string) (string, error) {
	result, err := c.Call(ctx, c.executeMethod, command)
	if err != nil {
		return "", err
	}
	if IsErrorResult(result) {
		return result, &HostError{Command: command, Result: result}
	}
	return result, nil
}

// Close sends a close frame and releases the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.fail(ErrClosed)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) write(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return c.closeErr()
	default:
	}

	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(c.messageType, data); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}

		env, err := rpc.DecodeResponse(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("undecodable response")
			continue
		}
		if env.ID == nil {
			if env.Error != nil {
				c.log.Warn().Int("code", env.Error.Code).Str("message", env.Error.Message).Msg("uncorrelated error")
			}
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[*env.ID]
		c.mu.Unlock()
		if !ok {
			c.log.Debug().Int64(logging.FieldRPCID, *env.ID).Msg("response for unknown id")
			continue
		}
		select {
		case ch <- env:
		default:
			c.log.Debug().Int64(logging.FieldRPCID, *env.ID).Msg("duplicate response dropped")
		}
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.err = err
	close(c.done)
}

func (c *Client) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
