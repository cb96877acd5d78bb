// Package scenario scripts scheduler simulations.
//
// A [Scenario] is a TOML document describing a simulated page: the viewport,
// a tree of elements with their capabilities and failure modes, and a
// timeline of events (scrolling, resizing, visibility changes, size requests,
// focus, elements being added or removed):
//
//	name = "feed"
//	duration = "20s"
//
//	[viewport]
//	width = 1000
//	height = 800
//
//	[[element]]
//	name = "hero"
//	height = 400
//	render_blocking = true
//
//	[[element]]
//	name = "ad"
//	height = 250
//	fail_build = "consent"
//
//	[[event]]
//	at = "2s"
//	action = "scroll"
//	top = 1200
//	velocity = 1.5
//
// [Sim] runs a scenario deterministically on a virtual clock and produces a
// [Report]; [Session] replays it in real time on a live loop so it can be
// inspected and driven over HTTP.
package scenario

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/layoutsched/pkg/config"
	"github.com/matzehuels/layoutsched/pkg/errors"
	"github.com/matzehuels/layoutsched/pkg/layout"
	"github.com/matzehuels/layoutsched/pkg/node"
	"github.com/matzehuels/layoutsched/pkg/scheduler"
)

// Event actions.
const (
	ActionScroll          = "scroll"
	ActionStopScrolling   = "stop"
	ActionResize          = "resize"
	ActionVisibility      = "visibility"
	ActionChangeSize      = "change_size"
	ActionForceChangeSize = "force_change_size"
	ActionFocus           = "focus"
	ActionAdd             = "add"
	ActionRemove          = "remove"
	ActionUnblock         = "unblock"
	ActionPriority        = "priority"
	ActionHide            = "hide"
	ActionShow            = "show"
)

// targeted lists the actions that act on an element.
var targeted = map[string]bool{
	ActionChangeSize:      true,
	ActionForceChangeSize: true,
	ActionFocus:           true,
	ActionAdd:             true,
	ActionRemove:          true,
	ActionUnblock:         true,
	ActionPriority:        true,
	ActionHide:            true,
	ActionShow:            true,
}

var untargeted = map[string]bool{
	ActionScroll:        true,
	ActionStopScrolling: true,
	ActionResize:        true,
	ActionVisibility:    true,
}

const (
	defaultWidth  = 1000
	defaultHeight = 800

	// tail is how long a scenario keeps running after its last event when
	// no duration is given.
	tail = 10 * time.Second
)

// Scenario is a scripted simulation.
type Scenario struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`

	// Visibility is the initial document visibility ("visible" by default).
	Visibility string `toml:"visibility"`

	// Duration is how much virtual time the scenario covers.
	Duration config.Duration `toml:"duration"`

	Viewport Viewport  `toml:"viewport"`
	Elements []Element `toml:"element"`
	Events   []Event   `toml:"event"`
}

// Viewport is the simulated window.
type Viewport struct {
	Width   float64 `toml:"width"`
	Height  float64 `toml:"height"`
	NoFixed bool    `toml:"no_fixed"`
}

// Margins are element margins.
type Margins struct {
	Top    float64 `toml:"top"`
	Right  float64 `toml:"right"`
	Bottom float64 `toml:"bottom"`
	Left   float64 `toml:"left"`
}

// MarginEdges is a margin change; missing edges are unchanged.
type MarginEdges struct {
	Top    *float64 `toml:"top"`
	Right  *float64 `toml:"right"`
	Bottom *float64 `toml:"bottom"`
	Left   *float64 `toml:"left"`
}

// Element describes one simulated element.
type Element struct {
	Name    string  `toml:"name"`
	Parent  string  `toml:"parent"`
	Height  float64 `toml:"height"`
	Width   float64 `toml:"width"`
	Margins Margins `toml:"margins"`
	Row     bool    `toml:"row"`
	Hidden  bool    `toml:"hidden"`

	// Fixed pins the element this far below the viewport top.
	Fixed *float64 `toml:"fixed"`

	// Unmanaged elements take part in flow but are not scheduled.
	Unmanaged bool `toml:"unmanaged"`

	// Detached elements only enter the document on an "add" event.
	Detached bool `toml:"detached"`

	// Owner names an ancestor that schedules this element.
	Owner string `toml:"owner"`

	Priority         int  `toml:"priority"`
	NotUpgraded      bool `toml:"not_upgraded"`
	RenderBlocking   bool `toml:"render_blocking"`
	Fluid            bool `toml:"fluid"`
	RelayoutOnResize bool `toml:"relayout_on_resize"`
	PrerenderAllowed bool `toml:"prerender_allowed"`
	PreviewAllowed   bool `toml:"preview_allowed"`
	Placeholder      bool `toml:"placeholder"`

	// RenderOutside and IdleRenderOutside are "always", "never" or a number
	// of viewports.
	RenderOutside     string `toml:"render_outside"`
	IdleRenderOutside string `toml:"idle_render_outside"`

	// FailBuild is "error" or "consent".
	FailBuild string `toml:"fail_build"`

	// FailLayout makes every layout fail with this message.
	FailLayout string `toml:"fail_layout"`

	KeepContent bool `toml:"keep_content"`
}

// Event is one timeline entry.
type Event struct {
	At     config.Duration `toml:"at"`
	Action string          `toml:"action"`
	Target string          `toml:"target"`

	// Top and Velocity drive "scroll".
	Top      float64 `toml:"top"`
	Velocity float64 `toml:"velocity"`

	// Width and Height are the new viewport size for "resize" and the
	// requested size for size changes.
	Width   *float64     `toml:"width"`
	Height  *float64     `toml:"height"`
	Margins *MarginEdges `toml:"margins"`

	// State is the visibility for "visibility".
	State string `toml:"state"`

	// User marks a size change as user activated.
	User bool `toml:"user"`

	// Priority is the new layout priority for "priority".
	Priority int `toml:"priority"`
}

// Load reads a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidScenario, err, "read %s", path)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if sc.Name == "" {
		sc.Name = strings.TrimSuffix(path[strings.LastIndex(path, "/")+1:], ".toml")
	}
	return sc, nil
}

// Parse decodes and validates a scenario. Unknown keys are rejected.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	md, err := toml.Decode(string(data), &sc)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidScenario, err, "decode scenario")
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		slices.Sort(keys)
		return nil, errors.New(errors.ErrCodeInvalidScenario, "unknown keys: %s", strings.Join(keys, ", "))
	}
	sc.setDefaults()
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (sc *Scenario) setDefaults() {
	if sc.Viewport.Width == 0 {
		sc.Viewport.Width = defaultWidth
	}
	if sc.Viewport.Height == 0 {
		sc.Viewport.Height = defaultHeight
	}
	if sc.Visibility == "" {
		sc.Visibility = scheduler.Visible.String()
	}
	if sc.Duration == 0 {
		last := time.Duration(0)
		for _, ev := range sc.Events {
			last = max(last, ev.At.D())
		}
		sc.Duration = config.Duration(last + tail)
	}
}

// Validate checks names, references, allowances and events.
func (sc *Scenario) Validate() error {
	var problems []string
	fail := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if sc.Viewport.Width <= 0 || sc.Viewport.Height <= 0 {
		fail("viewport must have a positive size, got %gx%g", sc.Viewport.Width, sc.Viewport.Height)
	}
	if _, err := scheduler.ParseVisibility(sc.Visibility); err != nil {
		fail("%v", err)
	}

	byName := make(map[string]*Element, len(sc.Elements))
	for i := range sc.Elements {
		e := &sc.Elements[i]
		switch {
		case e.Name == "":
			fail("element %d has no name", i)
			continue
		case byName[e.Name] != nil:
			fail("duplicate element %q", e.Name)
			continue
		}
		if e.Parent != "" && byName[e.Parent] == nil {
			fail("element %q: parent %q must be declared before it", e.Name, e.Parent)
		}
		byName[e.Name] = e
		if e.Owner != "" && !isAncestor(byName, e.Owner, e) {
			fail("element %q: owner %q is not an ancestor", e.Name, e.Owner)
		}
		if e.Owner != "" && e.Unmanaged {
			fail("element %q: unmanaged elements cannot be owned", e.Name)
		}
		if _, err := e.Capabilities(); err != nil {
			fail("element %q: %v", e.Name, err)
		}
		switch e.FailBuild {
		case "", "error", "consent":
		default:
			fail("element %q: fail_build must be \"error\" or \"consent\", got %q", e.Name, e.FailBuild)
		}
	}

	for i, ev := range sc.Events {
		where := "event " + strconv.Itoa(i) + " (" + ev.Action + ")"
		if ev.At < 0 {
			fail("%s: negative time", where)
		}
		switch {
		case targeted[ev.Action]:
			if byName[ev.Target] == nil {
				fail("%s: unknown target %q", where, ev.Target)
			}
		case untargeted[ev.Action]:
		default:
			fail("%s: unknown action", where)
			continue
		}
		switch ev.Action {
		case ActionVisibility:
			if _, err := scheduler.ParseVisibility(ev.State); err != nil {
				fail("%s: %v", where, err)
			}
		case ActionChangeSize, ActionForceChangeSize:
			if ev.SizeChange().IsEmpty() {
				fail("%s: no height, width or margins given", where)
			}
		case ActionAdd:
			if t := byName[ev.Target]; t != nil && !t.Detached {
				fail("%s: %q is not detached", where, ev.Target)
			}
		}
	}

	if len(problems) > 0 {
		return errors.New(errors.ErrCodeInvalidScenario, "%s", strings.Join(problems, "; "))
	}
	return nil
}

func isAncestor(byName map[string]*Element, ancestor string, e *Element) bool {
	for p := byName[e.Parent]; p != nil; p = byName[p.Parent] {
		if p.Name == ancestor {
			return true
		}
	}
	return false
}

// Capabilities returns the node capabilities the element declares.
func (e Element) Capabilities() (node.Capabilities, error) {
	c := node.DefaultCapabilities()
	c.Upgraded = !e.NotUpgraded
	c.RenderBlocking = e.RenderBlocking
	c.Fluid = e.Fluid
	c.RelayoutOnResize = e.RelayoutOnResize
	c.PrerenderAllowed = e.PrerenderAllowed
	c.PreviewAllowed = e.PreviewAllowed
	c.Placeholder = e.Placeholder
	c.LayoutPriority = e.Priority

	var err error
	if c.RenderOutsideViewport, err = parseAllowance(e.RenderOutside, c.RenderOutsideViewport); err != nil {
		return c, err
	}
	if c.IdleRenderOutsideViewport, err = parseAllowance(e.IdleRenderOutside, c.IdleRenderOutsideViewport); err != nil {
		return c, err
	}
	return c, nil
}

func parseAllowance(s string, def node.Allowance) (node.Allowance, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return def, nil
	case "always", "true":
		return node.Always(), nil
	case "never", "false":
		return node.Never(), nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || n < 0 {
		return def, errors.New(errors.ErrCodeInvalidScenario, "allowance must be always, never or a number of viewports, got %q", s)
	}
	return node.Viewports(n), nil
}

// SizeChange returns the size change an event requests.
func (ev Event) SizeChange() node.SizeChange {
	c := node.SizeChange{Height: ev.Height, Width: ev.Width}
	if m := ev.Margins; m != nil {
		c.Margins = &layout.MarginChange{Top: m.Top, Right: m.Right, Bottom: m.Bottom, Left: m.Left}
	}
	return c
}

// sortedEvents returns the events ordered by time, keeping file order for
// events at the same time.
func (sc *Scenario) sortedEvents() []Event {
	evs := slices.Clone(sc.Events)
	slices.SortStableFunc(evs, func(a, b Event) int {
		switch {
		case a.At < b.At:
			return -1
		case a.At > b.At:
			return 1
		default:
			return 0
		}
	})
	return evs
}
