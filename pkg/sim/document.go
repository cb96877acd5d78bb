// Package sim is a simulated document for driving the scheduler without a
// real rendering engine.
//
// A [Document] lays its [Element] tree out in simple block flow: elements
// stack vertically inside their parent, rows stack their children
// horizontally, fixed elements are pinned relative to the viewport, and
// hidden elements take no space. Layout is recomputed lazily on the first
// geometry read after a change, so a size change applied by the scheduler is
// observable synchronously, as scroll compensation requires.
//
// Document implements [viewport.Viewport] and Element implements
// [node.Node]. Both are meant to be used from the scheduler's loop
// goroutine only; Element's Build and Layout hooks are the exception and are
// safe to run concurrently.
package sim

import (
	"math"

	"github.com/matzehuels/layoutsched/pkg/layout"
	"github.com/matzehuels/layoutsched/pkg/node"
	"github.com/matzehuels/layoutsched/pkg/viewport"
)

var _ viewport.Viewport = (*Document)(nil)

// Document is a simulated scrollable document.
type Document struct {
	width, height float64
	scrollTop     float64
	scrollLeft    float64
	velocity      float64
	noFixed       bool
	gone          bool

	roots   []*Element
	byName  map[string]*Element
	content float64
	dirty   bool
}

// NewDocument creates an empty document with a viewport of the given size.
func NewDocument(width, height float64) *Document {
	return &Document{width: width, height: height, byName: make(map[string]*Element)}
}

// Append adds e as the last child of parent, or as a root if parent is nil.
func (d *Document) Append(parent, e *Element) {
	e.doc = d
	e.parent = parent
	if parent == nil {
		d.roots = append(d.roots, e)
	} else {
		parent.children = append(parent.children, e)
	}
	d.byName[e.name] = e
	d.dirty = true
}

// Remove detaches e and its subtree.
func (d *Document) Remove(e *Element) {
	if e.parent == nil {
		d.roots = without(d.roots, e)
	} else {
		e.parent.children = without(e.parent.children, e)
	}
	d.forget(e)
	e.parent = nil
	d.dirty = true
}

func (d *Document) forget(e *Element) {
	delete(d.byName, e.name)
	e.doc = nil
	for _, c := range e.children {
		d.forget(c)
	}
}

func without(list []*Element, e *Element) []*Element {
	for i, c := range list {
		if c == e {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

// Element returns the attached element with the given name.
func (d *Document) Element(name string) (*Element, bool) {
	e, ok := d.byName[name]
	return e, ok
}

// Elements returns every attached element in document order.
func (d *Document) Elements() []*Element {
	var out []*Element
	var walk func([]*Element)
	walk = func(list []*Element) {
		for _, e := range list {
			out = append(out, e)
			walk(e.children)
		}
	}
	walk(d.roots)
	return out
}

// Roots returns the top-level elements.
func (d *Document) Roots() []*Element { return d.roots }

// ScrollTo moves the viewport, clamped to the document, and records the
// scroll velocity in pixels per millisecond.
func (d *Document) ScrollTo(top, velocity float64) {
	d.velocity = velocity
	d.SetScrollTop(top)
}

// StopScrolling zeroes the velocity.
func (d *Document) StopScrolling() { d.velocity = 0 }

// Resize changes the viewport size.
func (d *Document) Resize(width, height float64) {
	d.width, d.height = width, height
	d.dirty = true
	d.SetScrollTop(d.scrollTop)
}

// SetGone simulates the document being torn down: every Measure fails.
func (d *Document) SetGone(gone bool) { d.gone = gone }

// SetFixedSupported toggles support for fixed positioning.
func (d *Document) SetFixedSupported(ok bool) { d.noFixed = !ok }

// =============================================================================
// viewport.Viewport
// =============================================================================

// Rect implements viewport.Viewport.
func (d *Document) Rect() layout.Rect {
	return layout.LTWH(d.scrollLeft, d.scrollTop, d.width, d.height)
}

// ScrollTop implements viewport.Viewport.
func (d *Document) ScrollTop() float64 { return d.scrollTop }

// ScrollLeft implements viewport.Viewport.
func (d *Document) ScrollLeft() float64 { return d.scrollLeft }

// SetScrollTop implements viewport.Viewport.
func (d *Document) SetScrollTop(top float64) {
	maxTop := math.Max(0, d.ScrollHeight()-d.height)
	d.scrollTop = math.Min(math.Max(0, top), maxTop)
}

// ScrollHeight implements viewport.Viewport.
func (d *Document) ScrollHeight() float64 {
	return math.Max(d.ContentHeight(), d.height)
}

// ContentHeight implements viewport.Viewport.
func (d *Document) ContentHeight() float64 {
	d.reflow()
	return d.content
}

// Velocity implements viewport.Viewport.
func (d *Document) Velocity() float64 { return d.velocity }

// SupportsPositionFixed implements viewport.Viewport.
func (d *Document) SupportsPositionFixed() bool { return !d.noFixed }

// Measure implements viewport.Viewport.
func (d *Document) Measure(n node.Node) (layout.Rect, bool) {
	e, ok := n.(*Element)
	if !ok || d.gone || e.doc != d {
		return layout.Rect{}, false
	}
	d.reflow()
	if e.hidden || hiddenAncestor(e) {
		return layout.Rect{}, true
	}
	if top, fixed := fixedTop(e); fixed {
		return e.box.Move(0, top+d.scrollTop), true
	}
	return e.box, true
}

// IsFixed implements viewport.Viewport.
func (d *Document) IsFixed(n node.Node) bool {
	e, ok := n.(*Element)
	if !ok {
		return false
	}
	_, fixed := fixedTop(e)
	return fixed
}

// Margins implements viewport.Viewport.
func (d *Document) Margins(n node.Node) layout.Margins {
	if e, ok := n.(*Element); ok {
		return e.margins
	}
	return layout.Margins{}
}

// WidthBudget implements viewport.Viewport.
func (d *Document) WidthBudget(n node.Node) (available, used float64, ok bool) {
	e, isElem := n.(*Element)
	if !isElem || e.parent == nil || e.doc != d {
		return 0, 0, false
	}
	d.reflow()
	available = e.parent.box.Width
	for _, c := range e.parent.children {
		if c.hidden {
			continue
		}
		used += c.box.Width + c.margins.Left + c.margins.Right
	}
	return available, used, true
}

// =============================================================================
// Flow layout
// =============================================================================

func (d *Document) reflow() {
	if !d.dirty {
		return
	}
	d.dirty = false
	cursor := 0.0
	for _, e := range d.roots {
		cursor = d.flow(e, 0, cursor, d.width)
	}
	d.content = cursor
}

// flow places e in vertical flow at (left, top) inside a container of the
// given width and returns the top of the next sibling.
func (d *Document) flow(e *Element, left, top, width float64) float64 {
	if e.hidden {
		e.box = layout.LTWH(left, top, 0, 0)
		return top
	}
	if e.fixed {
		d.place(e, left+e.margins.Left, 0, width-e.margins.Left-e.margins.Right)
		return top
	}
	d.place(e, left+e.margins.Left, top+e.margins.Top, width-e.margins.Left-e.margins.Right)
	return e.box.Bottom() + e.margins.Bottom
}

// place lays e and its subtree out with its border box at (left, top).
// Fixed boxes are laid out at top 0 and shifted on Measure.
func (d *Document) place(e *Element, left, top, avail float64) {
	w := e.width
	if w <= 0 || w > avail && !e.parentIsRow() {
		w = math.Max(avail, 0)
	}

	extent := 0.0
	if e.row {
		x := left
		for _, c := range e.children {
			if c.hidden {
				c.box = layout.LTWH(x, top, 0, 0)
				continue
			}
			cw := c.width
			if cw <= 0 {
				cw = w / float64(len(e.children))
			}
			d.place(c, x+c.margins.Left, top+c.margins.Top, cw)
			x = c.box.Right() + c.margins.Right
			extent = math.Max(extent, c.box.Bottom()+c.margins.Bottom-top)
		}
	} else {
		y := top
		for _, c := range e.children {
			y = d.flow(c, left, y, w)
		}
		extent = y - top
	}

	e.box = layout.LTWH(left, top, w, math.Max(e.height, extent))
}

func (e *Element) parentIsRow() bool { return e.parent != nil && e.parent.row }

func hiddenAncestor(e *Element) bool {
	for p := e.parent; p != nil; p = p.parent {
		if p.hidden {
			return true
		}
	}
	return false
}

func fixedTop(e *Element) (float64, bool) {
	for cur := e; cur != nil; cur = cur.parent {
		if cur.fixed {
			return cur.fixedTop, true
		}
	}
	return 0, false
}
