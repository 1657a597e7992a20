// Package host simulates a tick-driven host application so the bridge can run
// standalone. A real embedding replaces it with the host's own tick
// notification and command primitive.
package host

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTickInterval is the timer period of a typical host plugin tick.
const DefaultTickInterval = 20 * time.Millisecond

// TickFunc is called once per tick on the loop goroutine. It must not block.
type TickFunc func(ctx context.Context) bool

// Loop plays the role of the host's single logical thread: it invokes
// TickFunc at a fixed interval, always from the same goroutine.
type Loop struct {
	interval time.Duration
	tick     TickFunc
	log      zerolog.Logger
}

// NewLoop returns a loop calling tick every interval. A non-positive interval
// uses DefaultTickInterval.
func NewLoop(interval time.Duration, tick TickFunc, log *zerolog.Logger) *Loop {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	l := zerolog.Nop()
	if log != nil {
		l = *log
	}
	return &Loop{
		interval: interval,
		tick:     tick,
		log:      l.With().Str("component", "host").Logger(),
	}
}

// Interval returns the tick period.
func (l *Loop) Interval() time.Duration {
	return l.interval
}

// Run ticks until ctx is done and returns the number of ticks that did work.
func (l *Loop) Run(ctx context.Context) int {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.log.Debug().Dur("interval", l.interval).Msg("tick loop started")
	worked := 0
	for {
		select {
		case <-ctx.Done():
			l.log.Debug().Int("worked", worked).Msg("tick loop stopped")
			return worked
		case <-ticker.C:
			if l.tick(ctx) {
				worked++
			}
		}
	}
}

// ErrEmptyCommand is returned by Echo for a blank command.
var ErrEmptyCommand = errors.New("empty command")

// Echo is a stand-in host primitive that returns the command text unchanged.
type Echo struct{}

// Execute returns command, or ErrEmptyCommand when it is empty.
func (Echo) Execute(command string) (string, error) {
	if command == "" {
		return "", ErrEmptyCommand
	}
	return command, nil
}
