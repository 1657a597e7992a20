package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/tickbridge"
	"github.com/luciancaetano/tickbridge/client"
	"github.com/luciancaetano/tickbridge/internal/config"
	"github.com/luciancaetano/tickbridge/internal/host"
	"github.com/luciancaetano/tickbridge/internal/logging"
	"github.com/luciancaetano/tickbridge/ws"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "tickbridge",
		Short:         "JSON-RPC WebSocket bridge to a tick-driven host",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newServeCmd(), newPingCmd(), newExecCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge with a simulated host that echoes commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "YAML configuration file")
	cmd.Flags().IntVar(&port, "port", config.DefaultPort, "Listen port (overrides "+config.EnvPort+")")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	log, closer, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	for _, w := range cfg.Warnings {
		log.Warn().Msg(w)
	}

	codec, err := ws.NewCodec(cfg.SourceEncoding)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue := ws.NewQueue()
	serverCfg := ws.NewConfig(cfg.Addr(), queue)
	serverCfg.Path = cfg.Path
	serverCfg.HostCommand = cfg.HostCommand
	serverCfg.Codec = codec
	serverCfg.Logger = &log
	serverCfg.RateLimitConfig = rateLimit(cfg.RateLimit)
	serverCfg.OnConnect = func(conn tickbridge.Conn) {
		log.Info().
			Str(logging.FieldConnID, string(conn.Handle())).
			Str(logging.FieldRemoteAddr, conn.RemoteAddr()).
			Msg("client connected")
	}
	serverCfg.OnClientDisconnect = func(conn tickbridge.Conn, voluntary bool) {
		log.Info().
			Str(logging.FieldConnID, string(conn.Handle())).
			Bool("voluntary", voluntary).
			Msg("client disconnected")
	}

	// A failed bind leaves the host running without the bridge.
	server := ws.New(serverCfg)
	listening := true
	if err := server.Start(ctx); err != nil {
		log.Error().Err(err).Str("addr", cfg.Addr()).Msg("bridge unavailable, host keeps running")
		listening = false
	}

	drainer := ws.NewDrainerWithConfig(ws.DrainerConfig{
		Source:      queue,
		Replier:     server,
		Executor:    host.Echo{},
		HostCommand: cfg.HostCommand,
		Codec:       codec,
		Logger:      &log,
	})
	ws.NewTickLoop(cfg.TickInterval, drainer, &log).Run(ctx)

	if listening {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Stop(stopCtx); err != nil {
			log.Warn().Err(err).Msg("unclean shutdown")
		}
	}
	if n := queue.Len(); n > 0 {
		log.Info().Int(logging.FieldBacklog, n).Msg("discarding undrained commands")
	}
	return nil
}

func rateLimit(rl config.RateLimitConfig) *ws.RateLimitConfig {
	if !rl.Enabled() {
		return ws.NoRateLimit()
	}
	return &ws.RateLimitConfig{
		MessagesPerSecond: rate.Limit(rl.PerSecond),
		Burst:             rl.Burst,
		Enabled:           true,
	}
}

type clientOptions struct {
	url         string
	timeout     time.Duration
	hostCommand string
}

func (o *clientOptions) register(cmd *cobra.Command) {
	url := os.Getenv(config.EnvURL)
	if url == "" {
		url = client.DefaultURL
	}
	cmd.Flags().StringVar(&o.url, "url", url, "Bridge URL (default from "+config.EnvURL+")")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 5*time.Second, "Connect and call timeout")
	cmd.Flags().StringVar(&o.hostCommand, "host-command", tickbridge.DefaultHostCommand, "Host command language")
}

func (o *clientOptions) dial(ctx context.Context) (*client.Client, error) {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)
	return client.Dial(ctx, o.url, &client.Options{
		Timeout:     o.timeout,
		HostCommand: o.hostCommand,
		Logger:      &log,
	})
}

func newPingCmd() *cobra.Command {
	opts := &clientOptions{}
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check that a bridge is answering",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*opts.timeout)
			defer cancel()

			c, err := opts.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			start := time.Now()
			if err := c.Ping(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pong from %s in %s\n", opts.url, time.Since(start).Round(time.Microsecond))
			return nil
		},
	}
	opts.register(cmd)
	return cmd
}

func newExecCmd() *cobra.Command {
	opts := &clientOptions{}
	cmd := &cobra.Command{
		Use:   "exec <command>...",
		Short: "Run a host command and print its result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*opts.timeout)
			defer cancel()

			c, err := opts.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			result, err := c.Execute(ctx, strings.Join(args, " "))
			if result != "" {
				fmt.Fprintln(cmd.OutOrStdout(), result)
			}
			return err
		},
	}
	opts.register(cmd)
	return cmd
}
