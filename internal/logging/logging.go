// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultFile is the conventional log location. A leading "~/" is expanded
// to the user's home directory.
const DefaultFile = "~/.tvpaint-ws-server.log"

// The log file rotates at FileMaxSizeMB and keeps FileBackups old files.
const (
	FileMaxSizeMB = 1
	FileBackups   = 1
)

// Field keys shared by every component.
const (
	FieldConnID     = "conn_id"
	FieldRemoteAddr = "remote_addr"
	FieldMethod     = "method"
	FieldRPCID      = "rpc_id"
	FieldBacklog    = "backlog"
)

// Options selects level and output.
type Options struct {
	// Level is a zerolog level name. Empty means info.
	Level string
	// Format is "json", "console" or "auto". Auto picks console on a terminal.
	Format string
	// File, when set, receives JSON lines in addition to Output. "off" and
	// "none" disable it.
	File string
	// Output defaults to os.Stderr.
	Output io.Writer
}

// New returns a logger and a closer for any opened log file.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("log level: %w", err)
		}
		level = l
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	var primary io.Writer
	switch strings.ToLower(opts.Format) {
	case "", "auto":
		if isTerminal(out) {
			primary = console(out)
		} else {
			primary = out
		}
	case "console":
		primary = console(out)
	case "json":
		primary = out
	default:
		return zerolog.Nop(), nopCloser{}, fmt.Errorf("unknown log format %q", opts.Format)
	}

	var closer io.Closer = nopCloser{}
	writer := primary
	if path, enabled, err := filePath(opts.File); err != nil {
		return zerolog.Nop(), nopCloser{}, err
	} else if enabled {
		f := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    FileMaxSizeMB,
			MaxBackups: FileBackups,
		}
		closer = f
		writer = zerolog.MultiLevelWriter(primary, f)
	}

	logger := zerolog.New(writer).Level(level).With().Timestamp().Logger()
	return logger, closer, nil
}

func filePath(file string) (string, bool, error) {
	switch strings.ToLower(strings.TrimSpace(file)) {
	case "", "off", "none":
		return "", false, nil
	}
	if rest, ok := strings.CutPrefix(file, "~/"); ok {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", false, fmt.Errorf("log file: %w", err)
		}
		file = filepath.Join(home, rest)
	}
	return file, true, nil
}

func console(out io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
