package sim

import (
	"context"
	"sync"

	"github.com/matzehuels/layoutsched/pkg/layout"
	"github.com/matzehuels/layoutsched/pkg/node"
)

// Stats counts the hooks the scheduler invoked on an element.
type Stats struct {
	Builds    int
	Layouts   int
	Unlayouts int
	Pauses    int
	Resumes   int
	Applied   int
	Overflows int

	// Overflown is the last overflow state reported to the element.
	Overflown bool
}

// Element is a simulated node in a [Document].
//
// Geometry and capabilities are read on the loop goroutine. Build and Layout
// run off the loop, so everything they touch is guarded by mu.
type Element struct {
	name     string
	doc      *Document
	parent   *Element
	children []*Element

	height   float64
	width    float64 // 0 fills the parent
	margins  layout.Margins
	hidden   bool
	fixed    bool
	fixedTop float64
	row      bool
	caps     node.Capabilities

	box layout.Rect

	mu          sync.Mutex
	buildErr    error
	layoutErr   error
	hold        chan struct{}
	keepContent bool
	stats       Stats
}

// NewElement creates a detached element of the given height with default
// capabilities.
func NewElement(name string, height float64) *Element {
	return &Element{name: name, height: height, caps: node.DefaultCapabilities()}
}

// Name returns the element's name.
func (e *Element) Name() string { return e.name }

func (e *Element) String() string { return e.name }

// Children returns the element's children in flow order.
func (e *Element) Children() []*Element { return e.children }

// Parent implements node.Node.
func (e *Element) Parent() node.Node {
	if e.parent == nil {
		return nil
	}
	return e.parent
}

// ParentElement returns the parent as an element.
func (e *Element) ParentElement() *Element { return e.parent }

// Capabilities implements node.Node.
func (e *Element) Capabilities() node.Capabilities { return e.caps }

// SetCapabilities replaces the capability descriptor.
func (e *Element) SetCapabilities(c node.Capabilities) { e.caps = c }

// UpdateCapabilities edits the capability descriptor in place.
func (e *Element) UpdateCapabilities(fn func(*node.Capabilities)) { fn(&e.caps) }

// Height returns the declared height.
func (e *Element) Height() float64 { return e.height }

// SetHeight changes the declared height.
func (e *Element) SetHeight(h float64) {
	e.height = h
	e.invalidate()
}

// SetWidth sets an explicit width; 0 fills the parent.
func (e *Element) SetWidth(w float64) {
	e.width = w
	e.invalidate()
}

// Margins returns the element's margins.
func (e *Element) Margins() layout.Margins { return e.margins }

// SetMargins replaces the element's margins.
func (e *Element) SetMargins(m layout.Margins) {
	e.margins = m
	e.invalidate()
}

// SetHidden toggles display. Hidden elements measure as empty.
func (e *Element) SetHidden(hidden bool) {
	e.hidden = hidden
	e.invalidate()
}

// SetFixed pins the element top pixels below the top of the viewport.
func (e *Element) SetFixed(top float64) {
	e.fixed = true
	e.fixedTop = top
	e.invalidate()
}

// SetRow lays the element's children out horizontally.
func (e *Element) SetRow(row bool) {
	e.row = row
	e.invalidate()
}

func (e *Element) invalidate() {
	if e.doc != nil {
		e.doc.dirty = true
	}
}

// FailBuild makes every later Build return err. Nil clears the failure.
func (e *Element) FailBuild(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buildErr = err
}

// FailLayout makes every later Layout return err. Nil clears the failure.
func (e *Element) FailLayout(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.layoutErr = err
}

// HoldLayouts makes Layout block until ReleaseLayouts or cancellation.
func (e *Element) HoldLayouts() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hold == nil {
		e.hold = make(chan struct{})
	}
}

// ReleaseLayouts lets held layouts finish.
func (e *Element) ReleaseLayouts() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hold != nil {
		close(e.hold)
		e.hold = nil
	}
}

// KeepContent makes Unlayout report that the element kept its content.
func (e *Element) KeepContent(keep bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.keepContent = keep
}

// Stats returns a copy of the hook counters.
func (e *Element) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Build implements node.Node.
func (e *Element) Build(ctx context.Context) error {
	e.mu.Lock()
	e.stats.Builds++
	err := e.buildErr
	e.mu.Unlock()
	if err != nil {
		return err
	}
	return ctx.Err()
}

// Layout implements node.Node.
func (e *Element) Layout(ctx context.Context) error {
	e.mu.Lock()
	e.stats.Layouts++
	hold := e.hold
	e.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.layoutErr
}

// Unlayout implements node.Node.
func (e *Element) Unlayout() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Unlayouts++
	return !e.keepContent
}

// Pause implements node.Node.
func (e *Element) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Pauses++
}

// Resume implements node.Node.
func (e *Element) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Resumes++
}

// ApplySize implements node.Node.
func (e *Element) ApplySize(change node.SizeChange) {
	if change.Height != nil {
		e.height = *change.Height
	}
	if change.Width != nil {
		e.width = *change.Width
	}
	if change.Margins != nil {
		e.margins = change.Margins.Apply(e.margins)
	}
	e.invalidate()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Applied++
}

// Overflowed implements node.Node.
func (e *Element) Overflowed(overflown bool, _ node.SizeChange) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Overflown = overflown
	if overflown {
		e.stats.Overflows++
	}
}
