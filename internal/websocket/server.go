package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/luciancaetano/tickbridge"
	"github.com/luciancaetano/tickbridge/internal/logging"
	"github.com/luciancaetano/tickbridge/internal/queue"
	"github.com/luciancaetano/tickbridge/internal/rpc"
)

// CheckOriginFn is a function that validates the origin of a WebSocket connection request.
// It receives the HTTP request and returns true if the origin is allowed, false otherwise.
type CheckOriginFn = func(r *http.Request) bool

// OnConnectFn is called after the WebSocket handshake completes and before the
// connection's first frame is read.
//
// Note: This function is called synchronously during connection setup.
// Avoid long-running operations that could block the connection.
type OnConnectFn = func(conn tickbridge.Conn)

// OnClientDisconnectFn is invoked when a connection ends. voluntary is true
// when the peer sent a normal or going-away close frame.
type OnClientDisconnectFn = func(conn tickbridge.Conn, voluntary bool)

// CommandQueue is the queue shared with the tick-driven drainer.
type CommandQueue = queue.Queue[tickbridge.PendingCommand]

// ServerConfig configures a Server.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":3000" or "127.0.0.1:0".
	Addr string
	// Path is the upgrade path. Defaults to "/", which accepts every path.
	Path string
	// HostCommand names the host command language; the asynchronous method
	// is "execute_" + HostCommand. Defaults to tickbridge.DefaultHostCommand.
	HostCommand string

	RateLimitConfig    *RateLimitConfig
	CheckOrigin        CheckOriginFn
	OnConnect          OnConnectFn
	OnClientDisconnect OnClientDisconnectFn

	// Queue receives PendingCommands. A new queue is created when nil.
	Queue *CommandQueue
	// Codec encodes replies. Defaults to a UTF-8 codec.
	Codec *rpc.Codec
	// Logger defaults to a no-op logger.
	Logger *zerolog.Logger
}

// Server implements tickbridge.Server
type Server struct {
	addr          string
	path          string
	hostCommand   string
	executeMethod string

	queue           *CommandQueue
	codec           *rpc.Codec
	rateLimitConfig *RateLimitConfig
	upgrader        websocket.Upgrader
	onConnect       OnConnectFn
	onDisconnect    OnClientDisconnectFn
	log             zerolog.Logger

	conns sync.Map // map[tickbridge.ConnHandle]*Conn

	mu         sync.RWMutex
	running    bool
	httpServer *http.Server
	boundAddr  string

	// wg tracks the serve goroutine, every connection read loop and every
	// write pump. Add is only called while running is true, under mu.
	wg sync.WaitGroup
}

// New creates a new WebSocket server instance with the specified configuration.
//
// If RateLimitConfig is nil, DefaultRateLimitConfig() is used.
func New(cfg *ServerConfig) *Server {
	if cfg.RateLimitConfig == nil {
		cfg.RateLimitConfig = DefaultRateLimitConfig()
	}

	path := cfg.Path
	if path == "" {
		path = "/"
	}
	hostCommand := cfg.HostCommand
	if hostCommand == "" {
		hostCommand = tickbridge.DefaultHostCommand
	}
	q := cfg.Queue
	if q == nil {
		q = queue.New[tickbridge.PendingCommand]()
	}
	codec := cfg.Codec
	if codec == nil {
		codec = &rpc.Codec{}
	}
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}

	return &Server{
		addr:            cfg.Addr,
		path:            path,
		hostCommand:     hostCommand,
		executeMethod:   tickbridge.ExecuteMethod(hostCommand),
		queue:           q,
		codec:           codec,
		rateLimitConfig: cfg.RateLimitConfig,
		onConnect:       cfg.OnConnect,
		onDisconnect:    cfg.OnClientDisconnect,
		log:             log.With().Str("component", "ws-server").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
}

// Queue returns the queue PendingCommands are pushed to.
func (s *Server) Queue() *CommandQueue {
	return s.queue
}

// Codec returns the codec used for replies.
func (s *Server) Codec() *rpc.Codec {
	return s.codec
}

// ExecuteMethod returns the name of the asynchronous method, e.g. "execute_george".
func (s *Server) ExecuteMethod() string {
	return s.executeMethod
}

// Addr returns the bound listen address, or "" when the server is stopped.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.boundAddr
}

// Start binds the listen address and serves connections on a background
// goroutine. Bind failures are logged and returned, leaving the server
// stopped.
func (s *Server) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return tickbridge.ErrServerAlreadyRunning
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.mu.Unlock()
		s.log.Error().Err(err).Str("addr", s.addr).Msg("listen failed, server is not accepting connections")
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleWebSocket)

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: writeWait,
	}
	s.httpServer = srv
	s.boundAddr = ln.Addr().String()
	s.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("serve loop exited")
		}
	}()

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str(logging.FieldMethod, s.executeMethod).
		Msg("accepting connections")
	return nil
}

// Stop stops accepting connections, closes every open connection and waits
// for all server goroutines to exit. ctx bounds the HTTP shutdown only; Stop
// never returns while a connection goroutine is still running.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	srv := s.httpServer
	s.mu.Unlock()

	s.log.Info().Msg("stopping server")

	var shutdownErr error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("shutdown: %w", err)
			_ = srv.Close()
		}
	}

	s.conns.Range(func(key, value any) bool {
		if conn, ok := value.(*Conn); ok {
			_ = conn.CloseWithCode(ctx, websocket.CloseGoingAway, "server shutting down")
		}
		return true
	})

	s.wg.Wait()

	s.mu.Lock()
	s.httpServer = nil
	s.boundAddr = ""
	s.mu.Unlock()

	s.log.Info().Int(logging.FieldBacklog, s.queue.Len()).Msg("server stopped")
	return shutdownErr
}

// Reply sends data to the connection behind handle.
func (s *Server) Reply(ctx context.Context, handle tickbridge.ConnHandle, frame tickbridge.FrameType, data []byte) error {
	v, ok := s.conns.Load(handle)
	if !ok {
		return fmt.Errorf("%w: %s", tickbridge.ErrConnNotFound, handle)
	}
	return v.(*Conn).Send(ctx, frame, data)
}

// handleWebSocket upgrades the request and runs the connection's read loop on
// the request goroutine.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	if !s.running {
		s.mu.RUnlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.RUnlock()
	defer s.wg.Done()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Str(logging.FieldRemoteAddr, r.RemoteAddr).Msg("upgrade failed")
		return
	}

	conn := newConn(ws, r.RemoteAddr, s.rateLimitConfig, s.log)
	s.conns.Store(conn.Handle(), conn)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		conn.writePump()
	}()

	// Stop may have swept the connection map before the Store above.
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()
	if !running {
		s.conns.Delete(conn.Handle())
		_ = conn.CloseWithCode(context.Background(), websocket.CloseGoingAway, "server shutting down")
		return
	}

	s.handleConn(conn)
}

// handleConn reads frames until the connection ends. Frames are handled one
// at a time, in arrival order.
func (s *Server) handleConn(conn *Conn) {
	voluntary := false
	defer func() {
		s.conns.Delete(conn.Handle())
		_ = conn.Close(context.Background())
		if s.onDisconnect != nil {
			s.onDisconnect(conn, voluntary)
		}
		conn.log.Debug().Bool("voluntary", voluntary).Msg("client disconnected")
	}()

	conn.conn.SetReadLimit(maxFrameSize)
	_ = conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	if s.onConnect != nil {
		s.onConnect(conn)
	}
	conn.log.Debug().Msg("client connected")

	for {
		msgType, data, err := conn.conn.ReadMessage()
		if err != nil {
			voluntary = websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				conn.log.Debug().Err(err).Msg("unexpected close")
			}
			return
		}

		_ = conn.conn.SetReadDeadline(time.Now().Add(pongWait))

		frame := tickbridge.FrameText
		if msgType == websocket.BinaryMessage {
			frame = tickbridge.FrameBinary
		}

		if !conn.checkRateLimit() {
			conn.log.Warn().Msg("rate limit exceeded, dropping frame")
			s.send(conn, frame, s.codec.EncodeError(rpc.NoID, rpc.CodeRateLimited, tickbridge.ErrRateLimited))
			continue
		}

		s.handleMessage(conn, frame, data)
	}
}

// handleMessage processes one frame and sends the immediate reply, if any.
func (s *Server) handleMessage(conn tickbridge.Conn, frame tickbridge.FrameType, data []byte) {
	if reply := s.process(conn.Handle(), frame, data); reply != nil {
		s.send(conn, frame, reply)
	}
}

func (s *Server) send(conn tickbridge.Conn, frame tickbridge.FrameType, data []byte) {
	if err := conn.Send(context.Background(), frame, data); err != nil {
		s.log.Warn().Err(err).Str(logging.FieldConnID, string(conn.Handle())).Msg("failed to send reply")
	}
}

// process decodes and dispatches one frame. It returns the immediate reply,
// or nil when the request was queued for the host.
func (s *Server) process(handle tickbridge.ConnHandle, frame tickbridge.FrameType, data []byte) (reply []byte) {
	defer func() {
		if r := recover(); r != nil {
			err := rpc.Internal(fmt.Errorf("%v", r))
			s.log.Error().Err(err).Str(logging.FieldConnID, string(handle)).Msg("panic while handling frame")
			reply = s.codec.EncodeFailure(err)
		}
	}()

	req, err := rpc.Decode(data)
	if err != nil {
		s.log.Debug().Err(err).Str(logging.FieldConnID, string(handle)).Msg("rejected frame")
		return s.codec.EncodeFailure(err)
	}

	switch req.Method {
	case tickbridge.MethodPing:
		return s.codec.EncodeResult(req.ID, "pong")

	case s.executeMethod:
		if len(req.Params) != 1 {
			return s.codec.EncodeError(req.ID, rpc.CodeInvalidParams,
				fmt.Sprintf("Give a single parameter which is the %s command", s.hostCommand))
		}
		cmd := tickbridge.PendingCommand{
			ID:      req.ID,
			Command: req.Params[0],
			Conn:    handle,
			Frame:   frame,
		}
		if !s.queue.Push(cmd) {
			return s.codec.EncodeError(req.ID, rpc.CodeServerError, tickbridge.ErrQueueClosed.Error())
		}
		s.log.Debug().
			Str(logging.FieldConnID, string(handle)).
			Int64(logging.FieldRPCID, req.ID).
			Str(logging.FieldMethod, req.Method).
			Int(logging.FieldBacklog, s.queue.Len()).
			Msg("command queued")
		return nil

	default:
		return s.codec.EncodeError(req.ID, rpc.CodeMethodNotFound, tickbridge.ErrMethodNotFound)
	}
}
