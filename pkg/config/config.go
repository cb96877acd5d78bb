// Package config holds the scheduler's tunable constants.
//
// Every threshold the pass loop, the size negotiation and the focus history
// use lives in [Tuning]. [Default] returns the production values; [Load] and
// [Parse] overlay a TOML document on top of them, so a file only needs the
// keys it changes:
//
//	[scheduler]
//	build_quota = 40
//	idle_threshold = "2s"
//
//	[negotiation]
//	viewport_buffer = 0.2
//
// Durations are written as Go duration strings ("500ms", "1m").
package config

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/layoutsched/pkg/errors"
)

// Duration is a time.Duration that reads and writes as a duration string.
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Tuning is the full set of tunables.
type Tuning struct {
	Scheduler   Scheduler   `toml:"scheduler"`
	Negotiation Negotiation `toml:"negotiation"`
	Focus       Focus       `toml:"focus"`
}

// Scheduler tunes the pass loop.
type Scheduler struct {
	// BuildQuota is how many builds may run before the document is first
	// visible. Render-blocking nodes are exempt.
	BuildQuota int `toml:"build_quota"`

	// IdleThreshold is how long the queue must stay drained before idle
	// preloads are scheduled, and IdleLayouts how many are scheduled per pass.
	IdleThreshold Duration `toml:"idle_threshold"`
	IdleLayouts   int      `toml:"idle_layouts"`

	// TaskBudget is the largest timeout a peeked task may have and still be
	// executed in the current pass.
	TaskBudget Duration `toml:"task_budget"`

	// PriorityPenalty is how long a task waits per priority step.
	PriorityPenalty Duration `toml:"priority_penalty"`

	PostTaskPassDelay Duration `toml:"post_task_pass_delay"`
	MutateDeferDelay  Duration `toml:"mutate_defer_delay"`
	MinIdlePassDelay  Duration `toml:"min_idle_pass_delay"`
	MaxIdlePassDelay  Duration `toml:"max_idle_pass_delay"`

	// VisibleExpand grows the viewport on every side for in-viewport checks.
	VisibleExpand float64 `toml:"visible_expand"`

	// Load rectangle expansion while the document is visible.
	LoadSides float64 `toml:"load_sides"`
	LoadAbove float64 `toml:"load_above"`
	LoadBelow float64 `toml:"load_below"`

	// ScrollAwayPenalty divides render-outside allowances of nodes the
	// reader is scrolling away from.
	ScrollAwayPenalty float64 `toml:"scroll_away_penalty"`
}

// Negotiation tunes the size-change rules.
type Negotiation struct {
	// ViewportBuffer is the fraction of the viewport height kept as a
	// margin above and below the visible area.
	ViewportBuffer float64 `toml:"viewport_buffer"`

	// NearBottomRatio and NearBottomCap define the bottom band of the
	// document where resizes are always applied.
	NearBottomRatio float64 `toml:"near_bottom_ratio"`
	NearBottomCap   float64 `toml:"near_bottom_cap"`

	// ScrollEpsilon is how far the viewport must have scrolled before
	// resizes above it are compensated.
	ScrollEpsilon float64 `toml:"scroll_epsilon"`

	// Compensated resizes wait for scrolling to stop: velocity below
	// StoppedVelocity for ScrollSettle, or no scroll at all for ScrollIdle.
	StoppedVelocity float64  `toml:"stopped_velocity"`
	ScrollSettle    Duration `toml:"scroll_settle"`
	ScrollIdle      Duration `toml:"scroll_idle"`
}

// Focus tunes the activity history.
type Focus struct {
	Window Duration `toml:"window"`
}

// Default returns the production tuning.
func Default() Tuning {
	return Tuning{
		Scheduler: Scheduler{
			BuildQuota:        20,
			IdleThreshold:     Duration(5 * time.Second),
			IdleLayouts:       4,
			TaskBudget:        Duration(16 * time.Millisecond),
			PriorityPenalty:   Duration(time.Second),
			PostTaskPassDelay: Duration(time.Second),
			MutateDeferDelay:  Duration(500 * time.Millisecond),
			MinIdlePassDelay:  Duration(5 * time.Second),
			MaxIdlePassDelay:  Duration(30 * time.Second),
			VisibleExpand:     0.25,
			LoadSides:         0.25,
			LoadAbove:         0.25,
			LoadBelow:         2,
			ScrollAwayPenalty: 2,
		},
		Negotiation: Negotiation{
			ViewportBuffer:  0.1,
			NearBottomRatio: 0.15,
			NearBottomCap:   1000,
			ScrollEpsilon:   1,
			StoppedVelocity: 0.01,
			ScrollSettle:    Duration(500 * time.Millisecond),
			ScrollIdle:      Duration(time.Second),
		},
		Focus: Focus{
			Window: Duration(time.Minute),
		},
	}
}

// Load reads a TOML file over the defaults.
func Load(path string) (Tuning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tuning{}, errors.Wrap(errors.ErrCodeInvalidConfig, err, "read %s", path)
	}
	return Parse(data)
}

// Parse decodes a TOML document over the defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (Tuning, error) {
	t := Default()
	md, err := toml.Decode(string(data), &t)
	if err != nil {
		return Tuning{}, errors.Wrap(errors.ErrCodeInvalidConfig, err, "decode tuning")
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return Tuning{}, errors.New(errors.ErrCodeInvalidConfig, "unknown keys: %s", strings.Join(keys, ", "))
	}
	if err := t.Validate(); err != nil {
		return Tuning{}, err
	}
	return t, nil
}

// Encode writes t as TOML.
func (t Tuning) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(t)
}

// Validate checks that every value is usable.
func (t Tuning) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	s := t.Scheduler
	check(s.BuildQuota >= 0, "scheduler.build_quota must be >= 0, got %d", s.BuildQuota)
	check(s.IdleLayouts >= 0, "scheduler.idle_layouts must be >= 0, got %d", s.IdleLayouts)
	check(s.IdleThreshold >= 0, "scheduler.idle_threshold must be >= 0")
	check(s.TaskBudget >= 0, "scheduler.task_budget must be >= 0")
	check(s.PriorityPenalty > 0, "scheduler.priority_penalty must be > 0")
	check(s.PostTaskPassDelay >= 0, "scheduler.post_task_pass_delay must be >= 0")
	check(s.MutateDeferDelay >= 0, "scheduler.mutate_defer_delay must be >= 0")
	check(s.MinIdlePassDelay > 0, "scheduler.min_idle_pass_delay must be > 0")
	check(s.MaxIdlePassDelay >= s.MinIdlePassDelay,
		"scheduler.max_idle_pass_delay (%s) must be >= min_idle_pass_delay (%s)",
		s.MaxIdlePassDelay.D(), s.MinIdlePassDelay.D())
	check(s.VisibleExpand >= 0, "scheduler.visible_expand must be >= 0")
	check(s.LoadSides >= 0 && s.LoadAbove >= 0 && s.LoadBelow >= 0, "scheduler.load_* must be >= 0")
	check(s.ScrollAwayPenalty >= 1, "scheduler.scroll_away_penalty must be >= 1, got %g", s.ScrollAwayPenalty)

	n := t.Negotiation
	check(n.ViewportBuffer >= 0 && n.ViewportBuffer < 0.5, "negotiation.viewport_buffer must be in [0, 0.5), got %g", n.ViewportBuffer)
	check(n.NearBottomRatio >= 0 && n.NearBottomRatio <= 1, "negotiation.near_bottom_ratio must be in [0, 1], got %g", n.NearBottomRatio)
	check(n.NearBottomCap >= 0, "negotiation.near_bottom_cap must be >= 0")
	check(n.ScrollEpsilon >= 0, "negotiation.scroll_epsilon must be >= 0")
	check(n.StoppedVelocity >= 0, "negotiation.stopped_velocity must be >= 0")
	check(n.ScrollSettle >= 0 && n.ScrollIdle >= 0, "negotiation.scroll_settle and scroll_idle must be >= 0")

	check(t.Focus.Window > 0, "focus.window must be > 0")

	if len(problems) > 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "%s", strings.Join(problems, "; "))
	}
	return nil
}
