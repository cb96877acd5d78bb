// Package node defines the contract between the scheduler and the visual
// nodes it manages.
//
// A node is owned by the host application. The scheduler never copies it: it
// wraps it in a resource, calls its lifecycle hooks at the right moments and
// reads its capability descriptor to decide what the node is allowed to do.
//
// # Threading
//
// Build and Layout are invoked off the scheduler's loop goroutine and may
// block; they must honor ctx cancellation. Every other hook is called on the
// loop goroutine and must not block.
package node

import (
	"context"

	"github.com/matzehuels/layoutsched/pkg/layout"
)

// Node is a managed visual element.
type Node interface {
	// Parent returns the structural parent, or nil for a root.
	Parent() Node

	// Capabilities describes what the node supports. It is read on every
	// use, so implementations may change the answer over time (for example
	// once the node has been upgraded).
	Capabilities() Capabilities

	// Build constructs the node's internal state.
	Build(ctx context.Context) error

	// Layout renders the node. ctx is cancelled when the node is unlaid out
	// while the layout is in flight.
	Layout(ctx context.Context) error

	// Unlayout tears down rendered content. It reports whether internal state
	// was actually released; false means the node keeps its last content.
	Unlayout() bool

	// Pause and Resume suspend and restore activity such as playback.
	Pause()
	Resume()

	// ApplySize applies an accepted size change.
	ApplySize(change SizeChange)

	// Overflowed reports that a size change was denied (overflown true) or
	// finally applied after an earlier denial (overflown false).
	Overflowed(overflown bool, change SizeChange)
}

// BoxObserver is implemented by nodes that want to know about their measured
// layout box. It is optional.
type BoxObserver interface {
	LayoutBoxChanged(box layout.Rect, sizeChanged bool)
}

// SizeChange is a requested or applied size. Nil fields are unchanged.
type SizeChange struct {
	Height  *float64
	Width   *float64
	Margins *layout.MarginChange
}

// IsEmpty reports whether the change carries no dimension at all.
func (c SizeChange) IsEmpty() bool {
	return c.Height == nil && c.Width == nil && (c.Margins == nil || c.Margins.IsZero())
}

// Capabilities is the static descriptor the scheduler checks instead of
// probing the node ad hoc.
type Capabilities struct {
	// Upgraded reports that the node is eligible to build.
	Upgraded bool

	// RenderBlocking nodes are built even when the prerender build quota
	// is exhausted.
	RenderBlocking bool

	// Fluid nodes count as displayed even with a zero measured size.
	Fluid bool

	// RelayoutOnResize nodes are laid out again when their box changes.
	RelayoutOnResize bool

	// PrerenderAllowed and PreviewAllowed permit layout while the document
	// is in the respective visibility state.
	PrerenderAllowed bool
	PreviewAllowed   bool

	// Placeholder nodes are sized by their parent and can only be measured
	// once the parent is managed.
	Placeholder bool

	// LayoutPriority is the declared priority. Lower runs sooner.
	LayoutPriority int

	// RenderOutsideViewport is how far outside the viewport the node may be
	// laid out during regular passes.
	RenderOutsideViewport Allowance

	// IdleRenderOutsideViewport is the same allowance for idle passes.
	IdleRenderOutsideViewport Allowance
}

// DefaultCapabilities returns the descriptor of an ordinary upgraded node:
// priority 0, renderable up to three viewports away, not idle-renderable.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		Upgraded:                  true,
		RenderOutsideViewport:     Viewports(3),
		IdleRenderOutsideViewport: Never(),
	}
}
