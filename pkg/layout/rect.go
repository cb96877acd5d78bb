// Package layout provides the geometry primitives shared by the scheduler:
// layout boxes in document coordinates, margins, and the margin deltas carried
// by size-change requests.
//
// All coordinates are in CSS-like pixels with the origin at the top-left of
// the document and Y growing downward.
package layout

import "math"

// Rect is a node's position and size in document coordinates.
type Rect struct {
	Left, Top     float64
	Width, Height float64
}

// LTWH builds a Rect from left, top, width and height.
func LTWH(left, top, width, height float64) Rect {
	return Rect{Left: left, Top: top, Width: width, Height: height}
}

// Right returns the X coordinate of the right edge.
func (r Rect) Right() float64 { return r.Left + r.Width }

// Bottom returns the Y coordinate of the bottom edge.
func (r Rect) Bottom() float64 { return r.Top + r.Height }

// IsEmpty reports whether the rect has no area.
func (r Rect) IsEmpty() bool { return r.Width <= 0 || r.Height <= 0 }

// SizeEquals reports whether both rects have the same width and height.
// Position is ignored.
func (r Rect) SizeEquals(o Rect) bool {
	return r.Width == o.Width && r.Height == o.Height
}

// Overlaps reports whether r and o intersect. Touching edges count as
// overlapping, which matches how near-visible nodes are treated.
func (r Rect) Overlaps(o Rect) bool {
	return r.Top <= o.Bottom() && o.Top <= r.Bottom() &&
		r.Left <= o.Right() && o.Left <= r.Right()
}

// Move returns r translated by dx, dy.
func (r Rect) Move(dx, dy float64) Rect {
	r.Left += dx
	r.Top += dy
	return r
}

// Expand returns r grown on every side by the given multiples of its own
// size: sides is applied to the width on both the left and the right, above
// and below to the height on the respective edge.
func (r Rect) Expand(sides, above, below float64) Rect {
	dw := r.Width * sides
	return Rect{
		Left:   r.Left - dw,
		Top:    r.Top - r.Height*above,
		Width:  r.Width + 2*dw,
		Height: r.Height * (1 + above + below),
	}
}

// ExpandUniform grows r by the same ratio on every side.
func (r Rect) ExpandUniform(ratio float64) Rect {
	return r.Expand(ratio, ratio, ratio)
}

// ViewportsFrom returns how many viewport heights r's top edge sits below
// the top of vp, rounded toward negative infinity. Rects above vp yield
// negative values.
func (r Rect) ViewportsFrom(vp Rect) float64 {
	if vp.Height <= 0 {
		return 0
	}
	return math.Floor((r.Top - vp.Top) / vp.Height)
}

// Margins are the four outer margins of a node.
type Margins struct {
	Top, Right, Bottom, Left float64
}

// MarginChange is a requested margin update. Nil edges keep their value.
type MarginChange struct {
	Top, Right, Bottom, Left *float64
}

// IsZero reports whether no edge is requested.
func (m MarginChange) IsZero() bool {
	return m.Top == nil && m.Right == nil && m.Bottom == nil && m.Left == nil
}

// Diff returns the per-edge difference between the requested margins and
// current. Unrequested edges report 0.
func (m MarginChange) Diff(current Margins) Margins {
	var d Margins
	if m.Top != nil {
		d.Top = *m.Top - current.Top
	}
	if m.Right != nil {
		d.Right = *m.Right - current.Right
	}
	if m.Bottom != nil {
		d.Bottom = *m.Bottom - current.Bottom
	}
	if m.Left != nil {
		d.Left = *m.Left - current.Left
	}
	return d
}

// Apply returns current with the requested edges replaced.
func (m MarginChange) Apply(current Margins) Margins {
	if m.Top != nil {
		current.Top = *m.Top
	}
	if m.Right != nil {
		current.Right = *m.Right
	}
	if m.Bottom != nil {
		current.Bottom = *m.Bottom
	}
	if m.Left != nil {
		current.Left = *m.Left
	}
	return current
}

// IsZero reports whether all margins are zero.
func (m Margins) IsZero() bool {
	return m.Top == 0 && m.Right == 0 && m.Bottom == 0 && m.Left == 0
}

// Ptr returns a pointer to v. It keeps optional sizes terse at call sites.
func Ptr(v float64) *float64 { return &v }
