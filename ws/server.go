// Package ws is the public entry point for embedding a tickbridge server in a
// host application.
package ws

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/luciancaetano/tickbridge"
	"github.com/luciancaetano/tickbridge/internal/drain"
	"github.com/luciancaetano/tickbridge/internal/host"
	"github.com/luciancaetano/tickbridge/internal/queue"
	"github.com/luciancaetano/tickbridge/internal/rpc"
	"github.com/luciancaetano/tickbridge/internal/websocket"
)

type RateLimitConfig = websocket.RateLimitConfig
type CheckOriginFn = websocket.CheckOriginFn
type OnConnectFn = websocket.OnConnectFn
type OnDisconnectFn = websocket.OnClientDisconnectFn
type ServerConfig = *websocket.ServerConfig
type Queue = websocket.CommandQueue
type Codec = rpc.Codec
type Drainer = drain.Drainer
type DrainerConfig = drain.Config
type TickLoop = host.Loop

// New creates a WebSocket server that answers ping immediately and pushes
// execute requests to cfg.Queue.
//
// Example:
//
//	queue := ws.NewQueue()
//	cfg := ws.NewConfig(":3000", queue)
//	cfg.OnConnect = func(conn tickbridge.Conn) {
//	    log.Printf("connected: %s", conn.Handle())
//	}
//	server := ws.New(cfg)
func New(cfg ServerConfig) tickbridge.Server {
	return websocket.New(cfg)
}

// NewConfig returns a server configuration listening on addr and feeding
// queue. Origins are not checked and rate limiting is off; set the fields
// directly to change that.
func NewConfig(addr string, queue *Queue) ServerConfig {
	return &websocket.ServerConfig{
		Addr:            addr,
		Queue:           queue,
		CheckOrigin:     AllOrigins(),
		RateLimitConfig: NoRateLimit(),
	}
}

// NewQueue returns an empty command queue to share between a server and a
// drainer.
func NewQueue() *Queue {
	return queue.New[tickbridge.PendingCommand]()
}

// NewCodec returns a codec that transcodes host results from sourceEncoding
// (an HTML encoding label such as "windows-1252") to UTF-8. An empty name
// means results are already UTF-8.
func NewCodec(sourceEncoding string) (*Codec, error) {
	return rpc.NewCodec(sourceEncoding)
}

// NewDrainer returns the tick callback that executes queued commands and
// replies through replier. Call its Tick method from the host thread only.
func NewDrainer(queue *Queue, replier tickbridge.Replier, executor tickbridge.Executor) *Drainer {
	return drain.New(drain.Config{
		Source:   queue,
		Replier:  replier,
		Executor: executor,
	})
}

// NewDrainerWithConfig is NewDrainer with control over the host command name,
// codec and logger.
func NewDrainerWithConfig(cfg DrainerConfig) *Drainer {
	return drain.New(cfg)
}

// NewTickLoop returns a loop that calls drainer.Tick every interval on a
// single goroutine, for hosts without a timer of their own.
func NewTickLoop(interval time.Duration, drainer *Drainer, log *zerolog.Logger) *TickLoop {
	return host.NewLoop(interval, drainer.Tick, log)
}

// AllOrigins returns a CheckOriginFn that allows every origin.
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return websocket.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return websocket.NoRateLimit()
}
