package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/matzehuels/layoutsched/internal/cli"
	"github.com/matzehuels/layoutsched/pkg/errors"
)

// Exit codes.
const (
	exitFailure     = 1
	exitInvalidFile = 2
	exitInterrupted = 130
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case stderrors.Is(err, context.Canceled):
		return exitInterrupted
	case errors.Is(err, errors.ErrCodeInvalidScenario), errors.Is(err, errors.ErrCodeInvalidConfig):
		fmt.Fprintln(os.Stderr, errors.UserMessage(err))
		return exitInvalidFile
	default:
		fmt.Fprintln(os.Stderr, err)
		return exitFailure
	}
}

func run(ctx context.Context) error {
	var verbose bool

	c := cli.New(os.Stderr, cli.LogInfo)
	root := c.RootCommand()
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	attach := root.PersistentPreRunE
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if verbose {
			c.SetLogLevel(cli.LogDebug)
		}
		return attach(cmd, args)
	}

	return root.ExecuteContext(ctx)
}
