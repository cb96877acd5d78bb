package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/matzehuels/layoutsched/pkg/scenario"
	"github.com/matzehuels/layoutsched/pkg/scheduler"
)

// =============================================================================
// Color Palette
// =============================================================================

var (
	colorCyan   = lipgloss.Color("36")  // Teal - primary actions
	colorGreen  = lipgloss.Color("35")  // Green - success
	colorYellow = lipgloss.Color("220") // Amber - warnings
	colorRed    = lipgloss.Color("167") // Soft red - errors
	colorBlue   = lipgloss.Color("75")  // Light blue - scheduling
	colorWhite  = lipgloss.Color("255") // Bright white - values
	colorGray   = lipgloss.Color("245") // Gray - secondary text
	colorDim    = lipgloss.Color("240") // Dim gray - muted text
)

// =============================================================================
// Public Styles
// =============================================================================

var (
	// StyleTitle for main headings.
	StyleTitle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)

	// StyleDim for secondary/muted text.
	StyleDim = lipgloss.NewStyle().Foreground(colorDim)

	// StyleValue for data values.
	StyleValue = lipgloss.NewStyle().Foreground(colorWhite)

	// StyleNumber for numeric values.
	StyleNumber = lipgloss.NewStyle().Foreground(colorCyan)

	// StyleSuccess for success messages.
	StyleSuccess = lipgloss.NewStyle().Foreground(colorGreen)

	// StyleWarning for warning messages.
	StyleWarning = lipgloss.NewStyle().Foreground(colorYellow)
)

// =============================================================================
// Internal Styles
// =============================================================================

var (
	styleIconSuccess = lipgloss.NewStyle().Foreground(colorGreen)
	styleIconError   = lipgloss.NewStyle().Foreground(colorRed)
	styleIconWarning = lipgloss.NewStyle().Foreground(colorYellow)
	styleIconInfo    = lipgloss.NewStyle().Foreground(colorGray)

	styleHeader = lipgloss.NewStyle().Foreground(colorGray).Bold(true)

	// Timeline entry kinds.
	kindStyles = map[string]lipgloss.Style{
		scenario.KindEvent:    lipgloss.NewStyle().Foreground(colorCyan).Bold(true),
		scenario.KindState:    lipgloss.NewStyle().Foreground(colorGray),
		scenario.KindBuild:    lipgloss.NewStyle().Foreground(colorWhite),
		scenario.KindSchedule: lipgloss.NewStyle().Foreground(colorBlue),
		scenario.KindStart:    lipgloss.NewStyle().Foreground(colorBlue),
		scenario.KindComplete: lipgloss.NewStyle().Foreground(colorGreen),
		scenario.KindDecision: lipgloss.NewStyle().Foreground(colorYellow),
		scenario.KindRequest:  lipgloss.NewStyle().Foreground(colorYellow),
		scenario.KindError:    lipgloss.NewStyle().Foreground(colorRed),
	}

	stateStyles = map[string]lipgloss.Style{
		"NOT_BUILT":        lipgloss.NewStyle().Foreground(colorDim),
		"NOT_LAID_OUT":     lipgloss.NewStyle().Foreground(colorGray),
		"READY_FOR_LAYOUT": lipgloss.NewStyle().Foreground(colorYellow),
		"LAYOUT_SCHEDULED": lipgloss.NewStyle().Foreground(colorBlue),
		"LAYOUT_COMPLETE":  lipgloss.NewStyle().Foreground(colorGreen),
		"LAYOUT_FAILED":    lipgloss.NewStyle().Foreground(colorRed),
	}
)

// =============================================================================
// Icons
// =============================================================================

const (
	iconSuccess = "✓"
	iconError   = "✗"
	iconWarning = "!"
	iconInfo    = "›"
	iconArrow   = "→"
)

// =============================================================================
// Status Output
// =============================================================================

func printSuccess(format string, args ...any) {
	fmt.Println(styleIconSuccess.Render(iconSuccess) + " " + fmt.Sprintf(format, args...))
}

func printError(format string, args ...any) {
	fmt.Println(styleIconError.Render(iconError) + " " + fmt.Sprintf(format, args...))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(styleIconWarning.Render(iconWarning) + " " + StyleWarning.Render(msg))
}

func printInfo(format string, args ...any) {
	fmt.Println(styleIconInfo.Render(iconInfo) + " " + fmt.Sprintf(format, args...))
}

// printFile prints a file output line.
func printFile(path string) {
	fmt.Println("  " + StyleDim.Render(iconArrow) + " " + StyleValue.Render(path))
}

// printKeyValue prints a labeled value.
func printKeyValue(key, value string) {
	keyStyle := lipgloss.NewStyle().Foreground(colorGray).Width(12)
	fmt.Println(keyStyle.Render(key) + " " + StyleValue.Render(value))
}

// =============================================================================
// Timeline
// =============================================================================

// writeTimeline renders timeline entries one per line. Entries of kinds not
// in kinds are skipped; an empty kinds keeps everything.
func writeTimeline(w io.Writer, entries []scenario.Entry, kinds map[string]bool) {
	for _, e := range entries {
		if len(kinds) > 0 && !kinds[e.Kind] {
			continue
		}
		fmt.Fprintln(w, formatEntry(e))
	}
}

func formatEntry(e scenario.Entry) string {
	style, ok := kindStyles[e.Kind]
	if !ok {
		style = StyleValue
	}
	at := StyleDim.Render(fmt.Sprintf("%9s", e.At))
	kind := style.Render(fmt.Sprintf("%-9s", e.Kind))
	if e.Resource == "" {
		return at + " " + kind + " " + e.Detail
	}
	return at + " " + kind + " " + StyleValue.Render(e.Resource) + " " + StyleDim.Render(e.Detail)
}

// =============================================================================
// Resource Table
// =============================================================================

// resourceTable renders the managed resources of a snapshot.
func resourceTable(snap scheduler.Snapshot) string {
	rows := make([][]string, 0, len(snap.Resources))
	for _, r := range snap.Resources {
		var flags []string
		if r.InViewport {
			flags = append(flags, "viewport")
		}
		if r.Owned {
			flags = append(flags, "owned")
		}
		if r.Blocked {
			flags = append(flags, "blocked")
		}
		if r.Paused {
			flags = append(flags, "paused")
		}
		if r.PendingOverflow {
			flags = append(flags, "overflow")
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", r.ID),
			r.Label,
			r.State,
			fmt.Sprintf("%.0f", r.Box.Top),
			fmt.Sprintf("%.0f", r.Box.Height),
			fmt.Sprintf("%d", r.Priority),
			fmt.Sprintf("%d", r.Layouts),
			strings.Join(flags, ","),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("ID", "Node", "State", "Top", "Height", "Prio", "Layouts", "Flags").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == -1 {
				return styleHeader
			}
			base := lipgloss.NewStyle().Padding(0, 1)
			if col == 2 && row < len(snap.Resources) {
				if s, ok := stateStyles[snap.Resources[row].State]; ok {
					return s.Padding(0, 1)
				}
			}
			return base
		})
	return t.Render()
}

// summaryLine renders one-line scheduler counters.
func summaryLine(snap scheduler.Snapshot) string {
	parts := []string{
		fmt.Sprintf("%d resources", len(snap.Resources)),
		fmt.Sprintf("%d queued", len(snap.Queue)),
		fmt.Sprintf("%d executing", len(snap.Executing)),
		fmt.Sprintf("%d passes", snap.Passes),
		fmt.Sprintf("%d builds", snap.BuildAttempts),
	}
	if snap.PendingSizes > 0 {
		parts = append(parts, fmt.Sprintf("%d size requests", snap.PendingSizes))
	}
	line := "  "
	for i, part := range parts {
		if i > 0 {
			line += StyleDim.Render(" · ")
		}
		line += StyleDim.Render(part)
	}
	return line
}
