// Package tickbridge exposes a single-threaded, tick-driven host application to
// remote clients over JSON-RPC 2.0 on WebSocket.
//
// Network I/O and message parsing run on background goroutines. Host commands
// run only on the host's own thread: each host tick drains at most one queued
// command, executes it and sends the reply back on the connection the request
// came from.
//
// # Architecture
//
//	client ─frame─▶ server ─decode─▶ dispatch ─┬─▶ immediate reply (ping, errors)
//	                                           └─▶ queue.Push(PendingCommand)
//	host tick ─▶ drainer.Tick ─▶ queue.TryPop ─▶ Executor ─▶ Replier.Reply
//
// The queue is an explicit component shared between the server and the
// drainer, never a package-level singleton.
//
// # Quick Start
//
//	import (
//	    "github.com/luciancaetano/tickbridge"
//	    "github.com/luciancaetano/tickbridge/ws"
//	)
//
//	queue := ws.NewQueue()
//	server := ws.New(ws.NewConfig(":3000", queue))
//	if err := server.Start(ctx); err != nil {
//	    log.Printf("bridge disabled: %v", err)
//	}
//
//	drainer := ws.NewDrainer(queue, server, tickbridge.ExecutorFunc(runOnHost))
//
//	// From the host's tick callback:
//	drainer.Tick(ctx)
//
// # Protocol
//
// Requests:
//
//	{"jsonrpc":"2.0","id":1,"method":"ping","params":[]}
//	{"jsonrpc":"2.0","id":2,"method":"execute_george","params":["tv_GetWidth"]}
//
// Responses:
//
//	{"jsonrpc":"2.0","result":"pong","id":1}
//	{"jsonrpc":"2.0","error":{"code":-32601,"message":"Method not found"},"id":3}
//
// Error codes: -32700 parse error, -32600 invalid request, -32601 method not
// found, -32602 invalid params, -32000 server error (including host command
// failures), -32001 rate limited.
//
// A frame that cannot be decoded never closes the connection; it is answered
// with an error envelope whose id is null.
//
// # Important
//
//   - Frames on one connection are processed in order, one at a time.
//   - Queued commands run in the order they were parsed, across all clients.
//   - The queue is unbounded and commands never time out.
//   - Replies to clients that went away are logged and dropped.
package tickbridge
