package tickbridge

import "context"

// FrameType is the WebSocket data frame opcode of a message. Replies always
// mirror the frame type of the request they answer.
type FrameType int

// Frame opcodes as defined by RFC 6455.
const (
	FrameText   FrameType = 1
	FrameBinary FrameType = 2
)

// String returns "text" or "binary".
func (f FrameType) String() string {
	switch f {
	case FrameText:
		return "text"
	case FrameBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// ConnHandle identifies a connected peer without owning it.
//
// A handle stays valid as a value after the peer disconnects; resolving it
// then fails with ErrConnNotFound or ErrConnectionClosed.
type ConnHandle string

// PendingCommand is a host command received over the network and waiting to
// be executed on the host's thread.
//
// It is created by the connection goroutine, owned by the queue until a tick
// pops it, and never mutated.
type PendingCommand struct {
	// ID is the JSON-RPC request id the reply must carry.
	ID int64
	// Command is the host command text.
	Command string
	// Conn is the connection the request arrived on.
	Conn ConnHandle
	// Frame is the frame type of the request.
	Frame FrameType
}

// Executor runs a command against host state and returns its textual output.
//
// Execute is always called from the host's own thread, one command at a time.
type Executor interface {
	Execute(command string) (string, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(command string) (string, error)

// Execute calls f(command).
func (f ExecutorFunc) Execute(command string) (string, error) {
	return f(command)
}

// Replier delivers an encoded reply to a connection.
//
// Reply returns an error when the handle no longer resolves to a live
// connection; callers log it and move on.
type Replier interface {
	Reply(ctx context.Context, conn ConnHandle, frame FrameType, data []byte) error
}

// Server defines the WebSocket side of the bridge.
//
// Example usage:
//
//	import "github.com/luciancaetano/tickbridge/ws"
//
//	queue := ws.NewQueue()
//	server := ws.New(ws.NewConfig(":3000", queue))
//	if err := server.Start(ctx); err != nil {
//	    log.Printf("bridge disabled: %v", err)
//	}
//	defer server.Stop(ctx)
type Server interface {
	Replier

	// Start binds the listening socket and begins accepting connections on a
	// background goroutine.
	//
	// Returns an error if the server is already running or if binding fails.
	// A failed Start leaves the server stopped.
	Start(ctx context.Context) error

	// Stop terminates the accept loop, closes every connection and waits for
	// all background goroutines to exit before returning.
	Stop(ctx context.Context) error

	// Addr returns the bound listen address, or "" when not running.
	Addr() string
}

// Conn represents a connected WebSocket peer.
//
// The client's context is automatically cancelled when the connection closes.
type Conn interface {
	// Handle returns the opaque handle other components use to reach this
	// connection.
	Handle() ConnHandle

	// RemoteAddr returns the peer's remote network address.
	RemoteAddr() string

	// Context returns the connection's lifecycle context.
	Context() context.Context

	// Send queues a frame for delivery.
	//
	// Returns an error if the connection is closed or the context is cancelled.
	Send(ctx context.Context, frame FrameType, data []byte) error

	// Close closes the connection with a normal closure code.
	Close(ctx context.Context) error

	// CloseWithCode closes the connection with a specific WebSocket close code
	// and optional reason.
	CloseWithCode(ctx context.Context, code int, reason string) error

	// IsAlive returns true if the connection is still active.
	IsAlive() bool
}
