// Package cli implements the layoutsched command-line interface.
//
// The CLI is built using cobra and logs through charmbracelet/log.
//
// # Commands
//
// The main commands are:
//   - simulate: Run a scenario on a virtual clock and print its timeline
//   - watch: Step through a scenario interactively in the terminal
//   - serve: Replay a scenario in real time behind an HTTP API
//   - config: Print or validate scheduler tuning files
//
// # Logging
//
// All commands support --verbose (-v) for debug-level logging, which
// includes the scheduler's per-pass bookkeeping. Loggers are passed through
// context.Context.
//
// # Example
//
//	import "github.com/matzehuels/layoutsched/internal/cli"
//
//	func main() {
//	    c := cli.New(os.Stderr, cli.LogInfo)
//	    if err := c.RootCommand().Execute(); err != nil {
//	        os.Exit(1)
//	    }
//	}
package cli

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// newLogger creates a logger stamping lines as "15:04:05.00".
func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}

// quietLogger keeps scheduler output off a terminal UI.
func quietLogger() *log.Logger {
	return newLogger(io.Discard, log.FatalLevel)
}

// progress measures the wall time of a command.
type progress struct {
	logger *log.Logger
	start  time.Time
}

func newProgress(l *log.Logger) *progress {
	return &progress{logger: l, start: time.Now()}
}

// done logs msg with the wall time taken, e.g. "Simulated feed took=12ms".
func (p *progress) done(msg string, keyvals ...any) {
	keyvals = append(keyvals, "took", time.Since(p.start).Round(time.Millisecond))
	p.logger.Info(msg, keyvals...)
}

type ctxKey int

const loggerKey ctxKey = 0

// withLogger returns a new context with the given logger attached.
func withLogger(ctx context.Context, l *log.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// loggerFromContext retrieves the logger from ctx, or log.Default().
func loggerFromContext(ctx context.Context) *log.Logger {
	if l, ok := ctx.Value(loggerKey).(*log.Logger); ok {
		return l
	}
	return log.Default()
}
