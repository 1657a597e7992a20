package tickbridge

import "errors"

// JSON-RPC version
const (
	JSONRPCVersion = "2.0"
)

// Built-in method names.
const (
	MethodPing = "ping"

	// ExecutePrefix is prepended to the host command name to form the
	// asynchronous method, e.g. "execute_george".
	ExecutePrefix = "execute_"

	// DefaultHostCommand is the host command name used when none is configured.
	DefaultHostCommand = "george"
)

// ExecuteMethod returns the asynchronous method name for a host command.
func ExecuteMethod(hostCommand string) string {
	if hostCommand == "" {
		hostCommand = DefaultHostCommand
	}
	return ExecutePrefix + hostCommand
}

// Standard error messages
const (
	ErrMethodNotFound = "Method not found"
	ErrRateLimited    = "Rate limit exceeded"
)

// Connection and lifecycle errors.
var (
	ErrServerAlreadyRunning = errors.New("server already running")
	ErrConnectionClosed     = errors.New("client connection is closed")
	ErrConnNotFound         = errors.New("client not found")
	ErrContextCancelled     = errors.New("client context cancelled")
	ErrOutboxFull           = errors.New("client send queue full")
	ErrQueueClosed          = errors.New("queue closed")
)
