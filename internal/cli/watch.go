package cli

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/matzehuels/layoutsched/pkg/scenario"
	"github.com/matzehuels/layoutsched/pkg/scheduler"
)

const (
	watchTick      = 100 * time.Millisecond
	watchScrollPx  = 100
	watchTailLines = 12
)

var (
	watchHelpStyle   = lipgloss.NewStyle().Foreground(colorDim)
	watchPausedStyle = lipgloss.NewStyle().Foreground(colorYellow).Bold(true)
)

// visibilityCycle is the order `v` steps through.
var visibilityCycle = []scheduler.Visibility{
	scheduler.Visible,
	scheduler.Hidden,
	scheduler.Inactive,
	scheduler.Paused,
	scheduler.Prerender,
	scheduler.Preview,
}

// watchCommand creates the watch command.
func (c *CLI) watchCommand() *cobra.Command {
	var speed float64

	cmd := &cobra.Command{
		Use:   "watch <scenario.toml>",
		Short: "Step through a scenario interactively",
		Long: `Run a scenario on a virtual clock in the terminal. The scripted timeline
plays as usual while you scroll the document and change its visibility.

Keys: ↑/↓ scroll, pgup/pgdn scroll a viewport, v cycle visibility,
space pause, +/- speed, q quit.`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeScenario,
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := scenario.Load(args[0])
			if err != nil {
				return err
			}
			opts, err := c.options(500)
			if err != nil {
				return err
			}
			opts.Logger = quietLogger()

			s, err := scenario.New(sc, opts)
			if err != nil {
				return err
			}
			defer s.Close()
			s.Start()

			_, err = tea.NewProgram(newWatchModel(s, speed), tea.WithContext(cmd.Context())).Run()
			return err
		},
	}

	cmd.Flags().Float64Var(&speed, "speed", 1, "virtual seconds per real second")
	return cmd
}

type tickMsg time.Time

// watchModel is the bubbletea model driving a [scenario.Sim].
type watchModel struct {
	sim    *scenario.Sim
	speed  float64
	paused bool
	vis    int
}

func newWatchModel(s *scenario.Sim, speed float64) watchModel {
	if speed <= 0 {
		speed = 1
	}
	return watchModel{sim: s, speed: speed}
}

func tick() tea.Cmd {
	return tea.Tick(watchTick, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m watchModel) Init() tea.Cmd {
	return tick()
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "up", "k":
			m.sim.Scroll(-watchScrollPx)
		case "down", "j":
			m.sim.Scroll(watchScrollPx)
		case "pgup":
			m.sim.Scroll(-m.sim.Document().Rect().Height)
		case "pgdown":
			m.sim.Scroll(m.sim.Document().Rect().Height)
		case "v":
			m.vis = (m.vis + 1) % len(visibilityCycle)
			m.sim.SetVisibility(visibilityCycle[m.vis])
		case " ":
			m.paused = !m.paused
		case "+", "=":
			m.speed *= 2
		case "-":
			m.speed = max(m.speed/2, 0.125)
		}
	case tickMsg:
		if !m.paused && !m.sim.Done() {
			m.sim.Advance(time.Duration(float64(watchTick) * m.speed))
		}
		return m, tick()
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	snap := m.sim.Scheduler().Snapshot()

	b.WriteString(StyleTitle.Render(m.sim.Name()) + "\n")
	status := fmt.Sprintf("t=%s/%s  visibility %s  scroll %.0f  speed %gx",
		m.sim.Elapsed().Round(time.Millisecond), m.sim.Duration(), snap.Visibility, snap.Viewport.Top, m.speed)
	b.WriteString(StyleDim.Render(status))
	switch {
	case m.sim.Done():
		b.WriteString("  " + StyleSuccess.Render("done"))
	case m.paused:
		b.WriteString("  " + watchPausedStyle.Render("paused"))
	}
	b.WriteString("\n\n")

	b.WriteString(resourceTable(snap) + "\n")
	b.WriteString(summaryLine(snap) + "\n\n")

	entries := m.sim.Recorder().Entries()
	if len(entries) > watchTailLines {
		entries = entries[len(entries)-watchTailLines:]
	}
	for _, e := range entries {
		b.WriteString(formatEntry(e) + "\n")
	}

	b.WriteString("\n" + watchHelpStyle.Render("↑/↓ scroll  pgup/pgdn page  v visibility  space pause  +/- speed  q quit"))
	return b.String()
}
