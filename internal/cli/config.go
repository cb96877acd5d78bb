package cli

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/matzehuels/layoutsched/pkg/config"
	"github.com/matzehuels/layoutsched/pkg/errors"
	"github.com/matzehuels/layoutsched/pkg/scenario"
)

// configCommand creates the config command with its subcommands.
func (c *CLI) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect scheduler tuning and scenario files",
	}
	cmd.AddCommand(c.configPrintCommand())
	cmd.AddCommand(c.configValidateCommand())
	return cmd
}

func (c *CLI) configPrintCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "print",
		Short: "Print the effective tuning as TOML",
		Long:  `Print the tuning given with --config, or the defaults, as TOML.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := c.tuning()
			if err != nil {
				return err
			}
			if t == nil {
				d := config.Default()
				t = &d
			}
			return t.Encode(cmd.OutOrStdout())
		},
	}
}

func (c *CLI) configValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file.toml>...",
		Short: "Validate tuning or scenario files",
		Long: `Validate each file as a scenario if it has scenario keys (element, event,
viewport, ...), otherwise as a tuning file.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var failed error
			for _, path := range args {
				if err := validateFile(path); err != nil {
					printError("%s: %v", path, err)
					failed = err
					continue
				}
				printSuccess("%s", path)
			}
			return failed
		},
	}
}

// scenarioKeys are top-level keys only scenario files have.
var scenarioKeys = []string{"element", "event", "viewport", "name", "duration", "visibility", "description"}

// validateFile validates path as a scenario or a tuning file, judged by its
// top-level keys.
func validateFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var top map[string]any
	if _, err := toml.Decode(string(data), &top); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, err, "decode %s", path)
	}
	for _, k := range scenarioKeys {
		if _, ok := top[k]; ok {
			_, err := scenario.Parse(data)
			return err
		}
	}
	_, err = config.Parse(data)
	return err
}
