// Package drain runs queued commands on the host's thread, one per tick.
package drain

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/luciancaetano/tickbridge"
	"github.com/luciancaetano/tickbridge/internal/logging"
	"github.com/luciancaetano/tickbridge/internal/queue"
	"github.com/luciancaetano/tickbridge/internal/rpc"
)

// Source is the consumer side of the command queue.
type Source interface {
	IsEmpty() bool
	TryPop() (tickbridge.PendingCommand, bool)
}

var _ Source = (*queue.Queue[tickbridge.PendingCommand])(nil)

// Config configures a Drainer.
type Config struct {
	Source   Source
	Replier  tickbridge.Replier
	Executor tickbridge.Executor

	// HostCommand names the host command language in failure messages.
	// Defaults to tickbridge.DefaultHostCommand.
	HostCommand string
	// Codec defaults to a UTF-8 codec.
	Codec *rpc.Codec
	// Logger defaults to a no-op logger.
	Logger *zerolog.Logger
}

// Drainer is the poll-and-process callback the host invokes on every tick.
// It is not safe for concurrent use; call it from the host's thread only.
type Drainer struct {
	source   Source
	replier  tickbridge.Replier
	executor tickbridge.Executor
	codec    *rpc.Codec
	failMsg  string
	log      zerolog.Logger
}

// New returns a Drainer.
func New(cfg Config) *Drainer {
	hostCommand := cfg.HostCommand
	if hostCommand == "" {
		hostCommand = tickbridge.DefaultHostCommand
	}
	codec := cfg.Codec
	if codec == nil {
		codec = &rpc.Codec{}
	}
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}

	return &Drainer{
		source:   cfg.Source,
		replier:  cfg.Replier,
		executor: cfg.Executor,
		codec:    codec,
		failMsg:  fmt.Sprintf("Error when executing %s command", hostCommand),
		log:      log.With().Str("component", "drain").Logger(),
	}
}

// Tick executes at most one queued command and sends its reply. It never
// waits for work and reports whether a command was processed.
func (d *Drainer) Tick(ctx context.Context) bool {
	if d.source.IsEmpty() {
		return false
	}

	cmd, ok := d.source.TryPop()
	if !ok {
		return false
	}

	var reply []byte
	result, err := d.execute(cmd.Command)
	if err != nil {
		d.log.Debug().Err(err).Int64(logging.FieldRPCID, cmd.ID).Msg("command failed")
		reply = d.codec.EncodeError(cmd.ID, rpc.CodeServerError, d.failMsg)
	} else {
		reply = d.codec.EncodeResult(cmd.ID, result)
	}

	if err := d.replier.Reply(ctx, cmd.Conn, cmd.Frame, reply); err != nil {
		d.log.Warn().
			Err(err).
			Str(logging.FieldConnID, string(cmd.Conn)).
			Int64(logging.FieldRPCID, cmd.ID).
			Msg("reply undeliverable, dropping")
	}
	return true
}

// execute runs the command, turning a panic in the host primitive into an
// execution failure.
func (d *Drainer) execute(command string) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return d.executor.Execute(command)
}
