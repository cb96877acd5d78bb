package scenario

import (
	"strings"
	"testing"
	"time"

	"github.com/matzehuels/layoutsched/pkg/errors"
	"github.com/matzehuels/layoutsched/pkg/node"
)

const feed = `
name = "feed"

[viewport]
width = 1200
height = 900

[[element]]
name = "hero"
height = 400
render_blocking = true

[[element]]
name = "carousel"
height = 300
row = true

[[element]]
name = "slide"
parent = "carousel"
owner = "carousel"
height = 300
render_outside = "always"

[[element]]
name = "late"
height = 100
detached = true

[[event]]
at = "2s"
action = "scroll"
top = 500
velocity = 1.5

[[event]]
at = "1s"
action = "add"
target = "late"

[[event]]
at = "3s"
action = "change_size"
target = "hero"
height = 500
user = true
`

func TestParse(t *testing.T) {
	sc, err := Parse([]byte(feed))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if sc.Name != "feed" || len(sc.Elements) != 4 || len(sc.Events) != 3 {
		t.Fatalf("Parse() = %+v", sc)
	}
	if sc.Viewport.Width != 1200 || sc.Viewport.Height != 900 {
		t.Errorf("viewport = %+v", sc.Viewport)
	}
	if sc.Visibility != "visible" {
		t.Errorf("Visibility = %q, want visible default", sc.Visibility)
	}
	if got := sc.Duration.D(); got != 13*time.Second {
		t.Errorf("Duration = %v, want last event + 10s", got)
	}
	if !sc.Events[2].User || *sc.Events[2].Height != 500 {
		t.Errorf("change_size event = %+v", sc.Events[2])
	}

	evs := sc.sortedEvents()
	for i, want := range []string{ActionAdd, ActionScroll, ActionChangeSize} {
		if evs[i].Action != want {
			t.Errorf("sortedEvents()[%d] = %s, want %s", i, evs[i].Action, want)
		}
	}
}

func TestParseDefaults(t *testing.T) {
	sc, err := Parse([]byte(`
[[element]]
name = "a"
height = 10
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if sc.Viewport.Width != defaultWidth || sc.Viewport.Height != defaultHeight {
		t.Errorf("viewport = %+v, want defaults", sc.Viewport)
	}
	if got := sc.Duration.D(); got != tail {
		t.Errorf("Duration = %v, want %v", got, tail)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		toml string
		want string
	}{
		{"unknown key", "[[element]]\nname = \"a\"\ncolour = \"red\"", "unknown keys: element.colour"},
		{"no name", "[[element]]\nheight = 1", "has no name"},
		{"duplicate", "[[element]]\nname = \"a\"\n[[element]]\nname = \"a\"", "duplicate element"},
		{"parent after child", "[[element]]\nname = \"a\"\nparent = \"b\"\n[[element]]\nname = \"b\"", "must be declared before"},
		{"owner not ancestor", "[[element]]\nname = \"a\"\n[[element]]\nname = \"b\"\nowner = \"a\"", "not an ancestor"},
		{"bad allowance", "[[element]]\nname = \"a\"\nrender_outside = \"sometimes\"", "allowance"},
		{"bad fail_build", "[[element]]\nname = \"a\"\nfail_build = \"maybe\"", "fail_build"},
		{"bad visibility", "visibility = \"dimmed\"", "visibility"},
		{"unknown action", "[[event]]\naction = \"jump\"", "unknown action"},
		{"unknown target", "[[event]]\naction = \"focus\"\ntarget = \"ghost\"", "unknown target"},
		{"empty size change", "[[element]]\nname = \"a\"\n[[event]]\naction = \"change_size\"\ntarget = \"a\"", "no height"},
		{"add attached", "[[element]]\nname = \"a\"\n[[event]]\naction = \"add\"\ntarget = \"a\"", "not detached"},
		{"negative time", "[[event]]\nat = \"-1s\"\naction = \"scroll\"", "negative time"},
		{"bad viewport", "[viewport]\nwidth = -5", "positive size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.toml))
			if err == nil {
				t.Fatal("Parse() error = nil")
			}
			if !errors.Is(err, errors.ErrCodeInvalidScenario) {
				t.Errorf("Parse() error code = %v, want INVALID_SCENARIO", errors.GetCode(err))
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Parse() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestCapabilities(t *testing.T) {
	tests := []struct {
		name string
		e    Element
		want func(*node.Capabilities)
	}{
		{"defaults", Element{}, func(*node.Capabilities) {}},
		{"always", Element{RenderOutside: "always"}, func(c *node.Capabilities) {
			c.RenderOutsideViewport = node.Always()
		}},
		{"ratio", Element{IdleRenderOutside: "2.5"}, func(c *node.Capabilities) {
			c.IdleRenderOutsideViewport = node.Viewports(2.5)
		}},
		{"flags", Element{NotUpgraded: true, Fluid: true, Priority: 1, PrerenderAllowed: true}, func(c *node.Capabilities) {
			c.Upgraded = false
			c.Fluid = true
			c.LayoutPriority = 1
			c.PrerenderAllowed = true
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := node.DefaultCapabilities()
			tt.want(&want)
			got, err := tt.e.Capabilities()
			if err != nil {
				t.Fatalf("Capabilities() error = %v", err)
			}
			if got != want {
				t.Errorf("Capabilities() = %+v, want %+v", got, want)
			}
		})
	}
}

func TestEventSizeChange(t *testing.T) {
	h, top := 300.0, 8.0
	ev := Event{Height: &h, Margins: &MarginEdges{Top: &top}}
	c := ev.SizeChange()
	if c.Height == nil || *c.Height != 300 || c.Width != nil {
		t.Errorf("SizeChange() = %+v", c)
	}
	if c.Margins == nil || *c.Margins.Top != 8 || c.Margins.Left != nil {
		t.Errorf("SizeChange().Margins = %+v", c.Margins)
	}
	if !(Event{}).SizeChange().IsEmpty() {
		t.Error("empty event SizeChange() is not empty")
	}
}
