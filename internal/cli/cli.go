// Package cli implements the layoutsched command-line interface.
package cli

import (
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/layoutsched/pkg/buildinfo"
	"github.com/matzehuels/layoutsched/pkg/config"
	"github.com/matzehuels/layoutsched/pkg/scenario"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// appName is the application name used for display.
	appName = "layoutsched"

	// defaultAddr is where `serve` listens by default.
	defaultAddr = "127.0.0.1:8421"
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	// tuningPath is the --config flag shared by every command.
	tuningPath string
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "Layoutsched simulates a viewport-aware resource scheduler",
		Long: `Layoutsched drives a resource scheduler and size-negotiation engine over
simulated documents. Scenario files describe a viewport, a tree of elements
and a timeline of scrolls, resizes, visibility changes and size requests.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cmd.SetContext(withLogger(cmd.Context(), c.Logger))
			return nil
		},
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVar(&c.tuningPath, "config", "", "scheduler tuning file (TOML)")

	root.AddCommand(c.simulateCommand())
	root.AddCommand(c.watchCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.configCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// =============================================================================
// Loading Helpers
// =============================================================================

// tuning returns the --config tuning, or nil for the defaults.
func (c *CLI) tuning() (*config.Tuning, error) {
	if c.tuningPath == "" {
		return nil, nil
	}
	t, err := config.Load(c.tuningPath)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// options builds simulation options from the shared flags.
func (c *CLI) options(historyLimit int) (scenario.Options, error) {
	t, err := c.tuning()
	if err != nil {
		return scenario.Options{}, err
	}
	return scenario.Options{Tuning: t, Logger: c.Logger, HistoryLimit: historyLimit}, nil
}
