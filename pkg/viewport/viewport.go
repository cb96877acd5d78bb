// Package viewport defines the geometry provider the scheduler consumes.
//
// The scheduler never computes layout itself. It asks a Viewport where the
// visible window is, how tall the document is and where each node sits, and
// it asks the Viewport to move the scroll position when a resize above the
// fold has to be compensated. [github.com/matzehuels/layoutsched/pkg/sim]
// provides a simulated implementation.
package viewport

import (
	"github.com/matzehuels/layoutsched/pkg/layout"
	"github.com/matzehuels/layoutsched/pkg/node"
)

// Viewport reports document and viewport geometry.
// All methods are called on the scheduler's loop goroutine.
type Viewport interface {
	// Rect returns the visible rectangle in document coordinates.
	Rect() layout.Rect

	// ScrollTop and ScrollLeft return the current scroll offsets.
	ScrollTop() float64
	ScrollLeft() float64

	// SetScrollTop moves the vertical scroll position.
	SetScrollTop(top float64)

	// ScrollHeight returns the full scrollable height.
	ScrollHeight() float64

	// ContentHeight returns the height of the document content.
	ContentHeight() float64

	// Velocity returns the most recent scroll velocity in pixels per
	// millisecond. Positive values scroll down.
	Velocity() float64

	// SupportsPositionFixed reports whether fixed positioning is honored.
	SupportsPositionFixed() bool

	// Measure returns the node's layout box in document coordinates. ok is
	// false when the node's document is gone.
	Measure(n node.Node) (box layout.Rect, ok bool)

	// IsFixed reports whether the node is or sits in a fixed-position
	// container.
	IsFixed(n node.Node) bool

	// Margins returns the node's current outer margins.
	Margins(n node.Node) layout.Margins

	// WidthBudget returns the available width of the node's parent and the
	// summed widths of all of the parent's children. ok is false when the
	// node has no measurable parent.
	WidthBudget(n node.Node) (available, used float64, ok bool)
}

// ScrollDirection returns +1 when scrolling down or idle and -1 when
// scrolling up.
func ScrollDirection(velocity float64) int {
	if velocity < 0 {
		return -1
	}
	return 1
}
