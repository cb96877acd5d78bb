// Package resource wraps managed nodes in the scheduler's lifecycle state
// machine.
//
// A [Resource] owns everything the scheduler knows about one node: its
// [State], its measured layout box, whether it is in the viewport, the size
// change that was last denied to it, and the layout currently in flight.
//
// # Lifecycle
//
//	NOT_BUILT ──build──▶ NOT_LAID_OUT ──measure──▶ READY_FOR_LAYOUT
//	                          ▲                          │ schedule
//	                          │ unlayout                 ▼
//	                          └──────────────── LAYOUT_SCHEDULED
//	                                               │        │
//	                                               ▼        ▼
//	                                    LAYOUT_COMPLETE  LAYOUT_FAILED
//
// COMPLETE and FAILED return to READY_FOR_LAYOUT on remeasure only for nodes
// that declare RelayoutOnResize.
//
// # Cancellation
//
// Each layout attempt resolves an [outcome.Future] exactly once. Unlayout
// resolves the in-flight attempt as cancelled before the node's Layout hook
// returns, so a layout that finishes after its own cancellation can never be
// reported as a success.
//
// Resources are not safe for concurrent use; all methods run on the
// scheduler's loop goroutine.
package resource

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/layoutsched/pkg/errors"
	"github.com/matzehuels/layoutsched/pkg/frame"
	"github.com/matzehuels/layoutsched/pkg/layout"
	"github.com/matzehuels/layoutsched/pkg/node"
	"github.com/matzehuels/layoutsched/pkg/observability"
	"github.com/matzehuels/layoutsched/pkg/outcome"
	"github.com/matzehuels/layoutsched/pkg/viewport"
)

// Env is what a resource needs from its scheduler.
type Env struct {
	// Ctx is the parent of every build and layout context.
	Ctx context.Context

	Viewport viewport.Viewport
	Runner   frame.Runner
	Logger   *log.Logger
	Hooks    observability.ResourceHooks
	Owners   *Index

	// Managed reports whether a node is managed by the same scheduler. It
	// gates measuring placeholders.
	Managed func(node.Node) bool

	// ScrollAwayPenalty divides render-outside allowances of nodes the
	// reader is scrolling away from.
	ScrollAwayPenalty float64
}

type attempt struct {
	cancel context.CancelFunc
	future *outcome.Future
}

// Resource is the scheduler's state holder for one node.
type Resource struct {
	id   int
	node node.Node
	env  *Env

	state    State
	building bool
	blocked  bool
	detached bool
	built    *outcome.Future
	buildErr error

	box              layout.Rect
	initialBox       layout.Rect
	measured         bool
	measureRequested bool
	fixed            bool
	inViewport       bool

	pendingChange    *node.SizeChange
	priorityOverride *int

	layoutCount int
	layoutErr   error
	inflight    *attempt
	paused      bool
}

// New wraps n. The resource starts NOT_BUILT.
func New(id int, n node.Node, env *Env) *Resource {
	if env.Logger == nil {
		env.Logger = log.Default()
	}
	if env.Hooks == nil {
		env.Hooks = observability.NoopResourceHooks{}
	}
	if env.Ctx == nil {
		env.Ctx = context.Background()
	}
	return &Resource{id: id, node: n, env: env, built: outcome.New()}
}

func (r *Resource) String() string {
	return fmt.Sprintf("resource#%d(%s)", r.id, r.state)
}

// ID returns the resource's stable id.
func (r *Resource) ID() int { return r.id }

// Node returns the wrapped node.
func (r *Resource) Node() node.Node { return r.node }

// State returns the lifecycle state.
func (r *Resource) State() State { return r.state }

func (r *Resource) setState(s State) {
	if r.state == s {
		return
	}
	from := r.state
	r.state = s
	r.env.Hooks.OnStateChange(r.env.Ctx, r.id, from.String(), s.String())
}

// =============================================================================
// Build
// =============================================================================

// IsBuilt reports whether the node has been built.
func (r *Resource) IsBuilt() bool { return r.state != NotBuilt }

// IsBuilding reports whether a build is in flight.
func (r *Resource) IsBuilding() bool { return r.building }

// IsBlocked reports whether the last build was blocked by consent.
func (r *Resource) IsBlocked() bool { return r.blocked }

// Built resolves when the node has been built. It fails if the build fails
// and is cancelled if the resource is disconnected first.
func (r *Resource) Built() *outcome.Future { return r.built }

// BuildError returns the last non-consent build failure.
func (r *Resource) BuildError() error { return r.buildErr }

// CanBuild reports whether Build would start a build.
func (r *Resource) CanBuild() bool {
	return r.state == NotBuilt && !r.building && !r.blocked && !r.detached &&
		r.node.Capabilities().Upgraded
}

// Build starts building the node off the loop and reports whether it did.
// done runs on the loop once the build finishes, unless the resource has been
// disconnected in the meantime.
//
// Consent-blocked failures park the resource until [Resource.Unblock]; they
// are not reported as errors.
func (r *Resource) Build(done func(error)) bool {
	if !r.CanBuild() {
		return false
	}
	r.building = true
	ctx := r.env.Ctx
	start := r.env.Runner.Now()
	r.env.Runner.Go(func() error {
		return r.node.Build(ctx)
	}, func(err error) {
		r.building = false
		if r.detached {
			return
		}
		r.env.Hooks.OnBuild(ctx, r.id, r.env.Runner.Now().Sub(start), err)
		if err != nil {
			r.buildFailed(err)
		} else {
			r.setState(NotLaidOut)
			r.measureRequested = true
			r.built.Resolve(outcome.Success())
		}
		if done != nil {
			done(err)
		}
	})
	return true
}

func (r *Resource) buildFailed(err error) {
	if errors.IsBlockedByConsent(err) {
		r.blocked = true
		r.env.Logger.Debug("build blocked by consent", "resource", r.id)
		return
	}
	r.buildErr = errors.Wrap(errors.ErrCodeBuildFailed, err, "build resource %d", r.id)
	r.env.Logger.Error("build failed", "resource", r.id, "err", err)
	r.built.Resolve(outcome.Failure(r.buildErr))
}

// Unblock lets a consent-blocked resource build again.
func (r *Resource) Unblock() bool {
	if !r.blocked {
		return false
	}
	r.blocked = false
	return true
}

// =============================================================================
// Measure
// =============================================================================

// RequestMeasure marks the resource for remeasurement on the next pass.
func (r *Resource) RequestMeasure() { r.measureRequested = true }

// IsMeasureRequested reports whether a remeasure was requested.
func (r *Resource) IsMeasureRequested() bool { return r.measureRequested }

// HasBeenMeasured reports whether Measure has succeeded at least once.
func (r *Resource) HasBeenMeasured() bool { return r.measured }

// Measure reads the node's layout box from the viewport.
//
// Placeholders are skipped until their parent is managed. A node whose
// document is gone is pinned to NOT_LAID_OUT.
func (r *Resource) Measure() {
	caps := r.node.Capabilities()
	if caps.Placeholder {
		parent := r.node.Parent()
		if parent == nil || r.env.Managed == nil || !r.env.Managed(parent) {
			return
		}
	}
	r.measureRequested = false

	vp := r.env.Viewport
	box, ok := vp.Measure(r.node)
	if !ok {
		if r.state != NotBuilt {
			r.setState(NotLaidOut)
		}
		return
	}

	old := r.LayoutBox()
	r.fixed = vp.SupportsPositionFixed() && vp.IsFixed(r.node)
	if r.fixed {
		r.box = box.Move(-vp.ScrollLeft(), -vp.ScrollTop())
	} else {
		r.box = box
	}

	sizeChanged := !old.SizeEquals(box)
	if r.state == NotLaidOut || old.Top != box.Top || sizeChanged || !r.measured {
		if caps.Upgraded && r.IsBuilt() {
			switch r.state {
			case NotLaidOut:
				r.setState(ReadyForLayout)
			case LayoutComplete, LayoutFailed:
				if caps.RelayoutOnResize {
					r.setState(ReadyForLayout)
				}
			}
		}
	}

	if !r.measured {
		r.initialBox = box
		r.measured = true
	}
	if obs, ok := r.node.(node.BoxObserver); ok {
		obs.LayoutBoxChanged(box, sizeChanged)
	}
}

// LayoutBox returns the last measured box in document coordinates. Fixed
// boxes are stored relative to the viewport and follow the scroll position.
func (r *Resource) LayoutBox() layout.Rect {
	if !r.fixed {
		return r.box
	}
	vp := r.env.Viewport
	return r.box.Move(vp.ScrollLeft(), vp.ScrollTop())
}

// InitialLayoutBox returns the first measured box.
func (r *Resource) InitialLayoutBox() layout.Rect { return r.initialBox }

// IsFixed reports whether the node was fixed-positioned at last measure.
func (r *Resource) IsFixed() bool { return r.fixed }

// IsDisplayed reports whether the node has a non-empty box, or is fluid.
func (r *Resource) IsDisplayed() bool {
	if !r.measured {
		return false
	}
	if r.box.Height > 0 && r.box.Width > 0 {
		return true
	}
	return r.node.Capabilities().Fluid
}

// OverlapsRect reports whether the layout box overlaps rect.
func (r *Resource) OverlapsRect(rect layout.Rect) bool {
	return r.LayoutBox().Overlaps(rect)
}

// InViewport reports the last computed viewport membership.
func (r *Resource) InViewport() bool { return r.inViewport }

// SetInViewport records viewport membership and reports whether it changed.
func (r *Resource) SetInViewport(in bool) bool {
	if r.inViewport == in {
		return false
	}
	r.inViewport = in
	return true
}

// =============================================================================
// Size
// =============================================================================

// ChangeSize applies an accepted size change and requests a remeasure.
func (r *Resource) ChangeSize(change node.SizeChange) {
	r.node.ApplySize(change)
	r.RequestMeasure()
}

// Overflow notifies the node that a size change was denied (overflown) or
// finally applied, and records the pending change.
func (r *Resource) Overflow(overflown bool, change node.SizeChange) {
	r.node.Overflowed(overflown, change)
	if overflown {
		c := change
		r.pendingChange = &c
	} else {
		r.pendingChange = nil
	}
}

// PendingChangeSize returns the last denied size change.
func (r *Resource) PendingChangeSize() (node.SizeChange, bool) {
	if r.pendingChange == nil {
		return node.SizeChange{}, false
	}
	return *r.pendingChange, true
}

// =============================================================================
// Priority
// =============================================================================

// LayoutPriority returns the override set with SetLayoutPriority, or the
// node's declared priority.
func (r *Resource) LayoutPriority() int {
	if r.priorityOverride != nil {
		return *r.priorityOverride
	}
	return r.node.Capabilities().LayoutPriority
}

// SetLayoutPriority overrides the declared priority.
func (r *Resource) SetLayoutPriority(p int) { r.priorityOverride = &p }

// =============================================================================
// Ownership and viewport allowances
// =============================================================================

// Owner returns the node responsible for scheduling this one.
func (r *Resource) Owner() (node.Node, bool) {
	if r.env.Owners == nil {
		return nil, false
	}
	return r.env.Owners.Owner(r.node)
}

// HasOwner reports whether an owner schedules this resource.
func (r *Resource) HasOwner() bool {
	_, ok := r.Owner()
	return ok
}

// RenderOutsideViewport reports whether the node may be laid out at its
// current distance from the viewport. Owned resources always may.
func (r *Resource) RenderOutsideViewport() bool {
	return r.HasOwner() || r.withinAllowance(r.node.Capabilities().RenderOutsideViewport)
}

// IdleRenderOutsideViewport is RenderOutsideViewport for idle passes.
func (r *Resource) IdleRenderOutsideViewport() bool {
	return r.withinAllowance(r.node.Capabilities().IdleRenderOutsideViewport)
}

func (r *Resource) withinAllowance(a node.Allowance) bool {
	if _, isRatio := a.Ratio(); !isRatio {
		return a.Bool()
	}
	distance, penalty, inside := r.viewportDistance()
	if inside {
		return true
	}
	return a.Within(distance, r.env.Viewport.Rect().Height, penalty)
}

// viewportDistance returns how far the box is outside the viewport and the
// penalty for scrolling away from it.
func (r *Resource) viewportDistance() (distance, penalty float64, inside bool) {
	vp := r.env.Viewport
	vpBox := vp.Rect()
	box := r.LayoutBox()
	dir := viewport.ScrollDirection(vp.Velocity())
	penalty = 1
	switch {
	case box.Bottom() < vpBox.Top:
		distance = vpBox.Top - box.Bottom()
		if dir == 1 {
			penalty = r.env.ScrollAwayPenalty
		}
	case box.Top > vpBox.Bottom():
		distance = box.Top - vpBox.Bottom()
		if dir == -1 {
			penalty = r.env.ScrollAwayPenalty
		}
	default:
		return 0, 1, true
	}
	return distance, penalty, false
}

// =============================================================================
// Layout
// =============================================================================

// LayoutCount returns how many layouts have been started since the last
// unlayout.
func (r *Resource) LayoutCount() int { return r.layoutCount }

// LayoutError returns the error of the last failed layout.
func (r *Resource) LayoutError() error { return r.layoutErr }

// IsLayoutPending reports whether a layout is in flight.
func (r *Resource) IsLayoutPending() bool { return r.inflight != nil }

// LayoutScheduled records that a layout task has been queued.
func (r *Resource) LayoutScheduled() { r.setState(LayoutScheduled) }

// LayoutCanceled undoes LayoutScheduled after the task was dropped.
func (r *Resource) LayoutCanceled() {
	if r.state != LayoutScheduled || r.inflight != nil {
		return
	}
	if r.measured {
		r.setState(ReadyForLayout)
	} else {
		r.setState(NotLaidOut)
	}
}

// StartLayout lays the node out off the loop. The returned future resolves
// on the loop.
func (r *Resource) StartLayout() *outcome.Future {
	if r.inflight != nil {
		return r.precondition("layout of resource %d already in flight", r.id)
	}
	switch r.state {
	case NotBuilt:
		return r.precondition("resource %d is not built", r.id)
	case LayoutComplete:
		return outcome.Resolved(outcome.Success())
	case LayoutFailed:
		return outcome.Resolved(outcome.Failure(r.layoutErr))
	case NotLaidOut:
		return r.precondition("resource %d has not been measured for layout", r.id)
	}
	if !r.IsDisplayed() {
		return r.precondition("resource %d is not displayed", r.id)
	}
	if r.layoutCount > 0 && !r.node.Capabilities().RelayoutOnResize {
		r.setState(LayoutComplete)
		return outcome.Resolved(outcome.Success())
	}

	r.layoutCount++
	r.setState(LayoutScheduled)

	ctx, cancel := context.WithCancel(r.env.Ctx)
	att := &attempt{cancel: cancel, future: outcome.New()}
	r.inflight = att
	r.env.Runner.Go(func() error {
		return r.node.Layout(ctx)
	}, func(err error) {
		r.layoutDone(att, err)
	})
	return att.future
}

func (r *Resource) precondition(format string, args ...any) *outcome.Future {
	return outcome.Resolved(outcome.Failure(errors.New(errors.ErrCodePrecondition, format, args...)))
}

func (r *Resource) layoutDone(att *attempt, err error) {
	att.cancel()
	if r.inflight != att {
		// Cancelled by unlayout or disconnect; the future is already resolved.
		return
	}
	r.inflight = nil

	switch {
	case err == nil:
		r.layoutErr = nil
		r.setState(LayoutComplete)
		att.future.Resolve(outcome.Success())
	case errors.IsCancellation(err) || r.env.Ctx.Err() != nil:
		if r.measured {
			r.setState(ReadyForLayout)
		} else {
			r.setState(NotLaidOut)
		}
		att.future.Resolve(outcome.FromError(errors.Wrap(errors.ErrCodeCancelled, err, "layout of resource %d", r.id)))
	default:
		r.layoutErr = errors.Wrap(errors.ErrCodeLayoutFailed, err, "layout of resource %d", r.id)
		r.setState(LayoutFailed)
		r.env.Logger.Warn("layout failed", "resource", r.id, "err", err)
		att.future.Resolve(outcome.Failure(r.layoutErr))
	}
}

// abortLayout cancels the in-flight attempt and reports whether there was one.
func (r *Resource) abortLayout(reason string) bool {
	att := r.inflight
	if att == nil {
		return false
	}
	r.inflight = nil
	att.cancel()
	att.future.Resolve(outcome.Cancellation(fmt.Sprintf("%s of resource %d", reason, r.id)))
	return true
}

// Unlayout tears the node down. It is a no-op before READY_FOR_LAYOUT.
// If the node kept its content, the state is left unchanged, except that an
// aborted in-flight layout leaves the resource READY_FOR_LAYOUT again.
func (r *Resource) Unlayout() {
	if r.state < ReadyForLayout {
		return
	}
	aborted := r.abortLayout("unlayout")
	r.SetInViewport(false)
	if r.node.Unlayout() {
		r.setState(NotLaidOut)
		r.layoutCount = 0
		r.layoutErr = nil
		return
	}
	if aborted {
		r.setState(ReadyForLayout)
	}
}

// =============================================================================
// Pause and unload
// =============================================================================

// IsPaused reports whether the resource is paused.
func (r *Resource) IsPaused() bool { return r.paused }

// Pause suspends the node. It is a no-op before build.
func (r *Resource) Pause() {
	if !r.IsBuilt() || r.paused {
		return
	}
	r.paused = true
	r.node.Pause()
}

// Resume restores a paused node.
func (r *Resource) Resume() {
	if !r.IsBuilt() || !r.paused {
		return
	}
	r.paused = false
	r.node.Resume()
}

// Unload pauses and unlays out the node.
func (r *Resource) Unload() {
	r.Pause()
	r.Unlayout()
}

// Disconnect detaches the resource for good: any in-flight layout or build
// is cancelled and later completions are ignored.
func (r *Resource) Disconnect() {
	if r.detached {
		return
	}
	r.detached = true
	r.abortLayout("disconnect")
	r.built.Resolve(outcome.Cancellation(fmt.Sprintf("resource %d removed", r.id)))
	if r.env.Owners != nil {
		r.env.Owners.Forget(r.node)
	}
}

// IsDisconnected reports whether Disconnect was called.
func (r *Resource) IsDisconnected() bool { return r.detached }
