package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/layoutsched/pkg/forest"
	"github.com/matzehuels/layoutsched/pkg/scenario"
)

// simulateOptions holds flags for the simulate command.
type simulateOptions struct {
	dotPath  string
	detailed bool
	jsonOut  bool
	quiet    bool
	only     string
	history  int
}

// simulateCommand creates the simulate command.
func (c *CLI) simulateCommand() *cobra.Command {
	var opts simulateOptions

	cmd := &cobra.Command{
		Use:   "simulate <scenario.toml>",
		Short: "Run a scenario on a virtual clock",
		Long: `Run a scenario deterministically and print its timeline, the final state of
every managed resource and the size negotiation decisions.

Use --dot to export the managed forest: a .svg path renders it with Graphviz,
any other path receives DOT source.`,
		Example: `  layoutsched simulate examples/feed.toml
  layoutsched simulate examples/feed.toml --only event,decision,request
  layoutsched simulate examples/feed.toml --dot forest.svg --detailed
  layoutsched simulate examples/feed.toml --json > report.json`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeScenario,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runSimulate(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.dotPath, "dot", "", "write the final managed forest to this file (.svg or .dot)")
	cmd.Flags().BoolVar(&opts.detailed, "detailed", false, "include state, box and priority in forest labels")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "print the report as JSON")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "skip the timeline")
	cmd.Flags().StringVar(&opts.only, "only", "", "comma-separated timeline kinds to show (event,state,build,schedule,start,complete,decision,request,error)")
	cmd.Flags().IntVar(&opts.history, "history", 0, "keep only the last N timeline entries (0 keeps all)")

	return cmd
}

func (c *CLI) runSimulate(cmd *cobra.Command, path string, opts simulateOptions) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)

	sc, err := scenario.Load(path)
	if err != nil {
		return err
	}
	simOpts, err := c.options(opts.history)
	if err != nil {
		return err
	}

	prog := newProgress(logger)
	rep, err := scenario.Run(ctx, sc, simOpts)
	if err != nil {
		return err
	}
	prog.done("Simulated "+sc.Name, "virtual", rep.Elapsed, "passes", rep.Passes)

	if opts.dotPath != "" {
		if err := writeForest(cmd, rep, opts); err != nil {
			return err
		}
	}

	if opts.jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	printReport(cmd, rep, opts)
	return nil
}

func writeForest(cmd *cobra.Command, rep *scenario.Report, opts simulateOptions) error {
	dot := forest.ToDOT(rep.Final, forest.Options{Detailed: opts.detailed})
	data := []byte(dot)
	if strings.HasSuffix(opts.dotPath, ".svg") {
		svg, err := forest.RenderSVG(cmd.Context(), dot)
		if err != nil {
			return err
		}
		data = svg
	}
	if err := os.WriteFile(opts.dotPath, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", opts.dotPath, err)
	}
	return nil
}

func printReport(cmd *cobra.Command, rep *scenario.Report, opts simulateOptions) {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, StyleTitle.Render(rep.Scenario))
	printKeyValue("elapsed", rep.Elapsed.String())
	printKeyValue("passes", fmt.Sprintf("%d", rep.Passes))
	printKeyValue("decisions", fmt.Sprintf("%d", len(rep.Decisions)))
	fmt.Fprintln(out)

	if !opts.quiet {
		writeTimeline(out, rep.Entries, parseKinds(opts.only))
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, resourceTable(rep.Final))
	fmt.Fprintln(out, summaryLine(rep.Final))
	fmt.Fprintln(out)

	for _, e := range rep.Errors {
		printWarning("%s", e)
	}
	if opts.dotPath != "" {
		printSuccess("Forest written")
		printFile(opts.dotPath)
	}
}

// parseKinds parses a comma-separated kind list into a set.
func parseKinds(s string) map[string]bool {
	if s == "" {
		return nil
	}
	kinds := make(map[string]bool)
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			kinds[k] = true
		}
	}
	return kinds
}
