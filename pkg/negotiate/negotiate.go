// Package negotiate decides whether pending size changes may be applied.
//
// Resizing content the reader is looking at makes everything below it jump.
// The [Engine] therefore evaluates each pending [Request] once per pass
// against a single read of the viewport and applies the first matching rule:
//
//  1. no-change: nothing differs, the request succeeds trivially
//  2. forced: forced requests, or any request while the document is not
//     visible, apply immediately
//  3. active: the node or something inside it was recently focused, or the
//     request came from a user gesture
//  4. below-viewport: the node sits below the buffered viewport bottom
//  5. above-viewport: the node sits above the buffered viewport top and the
//     page has been scrolled; the change is applied once scrolling stops and
//     the scroll position is compensated by the change in document height
//  6. near-bottom: the node is in the bottom band of the document
//  7. shrink-deferred: the node or one of its margins would shrink; the
//     request waits for the next pass
//  8. width: only the width changes; applied if it fits the parent
//  9. overflow: the node keeps its size and is told it overflowed
package negotiate

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/layoutsched/pkg/config"
	"github.com/matzehuels/layoutsched/pkg/errors"
	"github.com/matzehuels/layoutsched/pkg/history"
	"github.com/matzehuels/layoutsched/pkg/layout"
	"github.com/matzehuels/layoutsched/pkg/observability"
	"github.com/matzehuels/layoutsched/pkg/outcome"
	"github.com/matzehuels/layoutsched/pkg/viewport"
)

// Rule identifies the rule that decided a request.
type Rule int

const (
	// RuleNoChange (1): nothing differs from the current size.
	RuleNoChange Rule = iota + 1
	// RuleForced (2): forced, or the document is not visible.
	RuleForced
	// RuleActive (3): user-activated, or a descendant was focused recently.
	RuleActive
	// RuleBelowViewport (4): the node sits below the viewport.
	RuleBelowViewport
	// RuleAboveViewport (5): the node sits above the viewport; the scroll
	// position is compensated.
	RuleAboveViewport
	// RuleNearBottom (6): the node is close to the end of the document.
	RuleNearBottom
	// RuleShrinkDeferred (7): height or a margin shrinks in the viewport.
	RuleShrinkDeferred
	// RuleWidth (8): only the horizontal extent changes and must fit the
	// parent's width budget.
	RuleWidth
	// RuleOverflow (9): growth in the viewport is denied.
	RuleOverflow
)

var ruleNames = map[Rule]string{
	RuleNoChange:       "no-change",
	RuleForced:         "forced",
	RuleActive:         "active",
	RuleBelowViewport:  "below-viewport",
	RuleAboveViewport:  "above-viewport",
	RuleNearBottom:     "near-bottom",
	RuleShrinkDeferred: "shrink-deferred",
	RuleWidth:          "width",
	RuleOverflow:       "overflow",
}

func (r Rule) String() string {
	if n, ok := ruleNames[r]; ok {
		return n
	}
	return fmt.Sprintf("rule(%d)", int(r))
}

// Action is what happened to a request.
type Action int

const (
	// Applied: the size changed.
	Applied Action = iota + 1
	// Unchanged: there was nothing to change.
	Unchanged
	// Deferred: the request stays pending for the next pass.
	Deferred
	// Overflowed: the request was denied and the node notified.
	Overflowed
)

func (a Action) String() string {
	switch a {
	case Applied:
		return "applied"
	case Unchanged:
		return "unchanged"
	case Deferred:
		return "deferred"
	case Overflowed:
		return "overflow"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Decision records how one request was handled.
type Decision struct {
	ResourceID int
	Rule       Rule
	Action     Action
}

// Input is the per-pass context that is not read from the viewport.
type Input struct {
	// Visible reports whether the document is currently visible.
	Visible bool

	Now        time.Time
	LastScroll time.Time
}

// Result summarizes a negotiation pass.
type Result struct {
	Decisions []Decision

	// Applied counts the requests whose size changed.
	Applied int

	// RelayoutTop is the smallest non-negative top of an applied node, or -1.
	// Everything from there down needs remeasurement.
	RelayoutTop float64
}

// Engine runs negotiation passes.
type Engine struct {
	vp      viewport.Viewport
	active  *history.History
	tuning  config.Negotiation
	logger  *log.Logger
	hooks   observability.NegotiationHooks
	ctx     context.Context
	decided []Decision
}

// Options configure an Engine. Zero fields take defaults.
type Options struct {
	Tuning  config.Negotiation
	Logger  *log.Logger
	Hooks   observability.NegotiationHooks
	Context context.Context
}

// New creates an engine reading geometry from vp and focus from active.
func New(vp viewport.Viewport, active *history.History, opts Options) *Engine {
	if opts.Tuning == (config.Negotiation{}) {
		opts.Tuning = config.Default().Negotiation
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Hooks == nil {
		opts.Hooks = observability.NoopNegotiationHooks{}
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	return &Engine{
		vp:     vp,
		active: active,
		tuning: opts.Tuning,
		logger: opts.Logger,
		hooks:  opts.Hooks,
		ctx:    opts.Context,
	}
}

// frameState is the single read of viewport state shared by every request
// of a pass.
type frameState struct {
	rect          layout.Rect
	topBuffer     float64
	bottomBuffer  float64
	contentHeight float64
	scrollStopped bool
	visible       bool
}

// Run evaluates every pending request. Applied and denied requests are
// removed from p; deferred ones are put back.
func (e *Engine) Run(p *Pending, in Input) Result {
	reqs := p.Take()
	e.decided = e.decided[:0]
	res := Result{RelayoutTop: -1}
	if len(reqs) == 0 {
		return res
	}

	rect := e.vp.Rect()
	sinceScroll := in.Now.Sub(in.LastScroll)
	fs := frameState{
		rect:          rect,
		topBuffer:     rect.Height * e.tuning.ViewportBuffer,
		bottomBuffer:  rect.Height * e.tuning.ViewportBuffer,
		contentHeight: e.vp.ContentHeight(),
		visible:       in.Visible,
		scrollStopped: (math.Abs(e.vp.Velocity()) < e.tuning.StoppedVelocity && sinceScroll > e.tuning.ScrollSettle.D()) ||
			sinceScroll > e.tuning.ScrollIdle.D(),
	}

	var compensated []*Request
	aboveChange := 0.0
	for _, req := range reqs {
		rule, action := e.decide(req, fs, &aboveChange)
		switch action {
		case Applied:
			if rule == RuleAboveViewport {
				compensated = append(compensated, req)
				continue
			}
			e.apply(req, &res)
		case Unchanged:
			req.Future.Resolve(outcome.Success())
		case Deferred:
			p.Add(req)
		case Overflowed:
			req.Resource.Overflow(true, req.Change)
			req.Future.Resolve(outcome.Failure(errors.New(errors.ErrCodeSizeDenied,
				"size change of resource %d denied by rule %s", req.Resource.ID(), rule)))
		}
		e.record(req, rule, action)
	}

	if len(compensated) > 0 {
		e.applyCompensated(compensated, &res)
	}
	res.Decisions = append([]Decision(nil), e.decided...)
	return res
}

type diffs struct {
	height, width            float64
	top, bottom, left, right float64
	current                  layout.Margins
}

func (d diffs) isZero() bool {
	return d.height == 0 && d.width == 0 && d.top == 0 && d.bottom == 0 && d.left == 0 && d.right == 0
}

func (e *Engine) diffs(req *Request, box layout.Rect) diffs {
	var d diffs
	if req.Change.Height != nil {
		d.height = *req.Change.Height - box.Height
	}
	if req.Change.Width != nil {
		d.width = *req.Change.Width - box.Width
	}
	if m := req.Change.Margins; m != nil && !m.IsZero() {
		d.current = e.vp.Margins(req.Resource.Node())
		md := m.Diff(d.current)
		d.top, d.bottom, d.left, d.right = md.Top, md.Bottom, md.Left, md.Right
	}
	return d
}

func (e *Engine) decide(req *Request, fs frameState, aboveChange *float64) (Rule, Action) {
	r := req.Resource
	box := r.LayoutBox()
	d := e.diffs(req, box)

	topUnchanged := box.Top
	if d.top != 0 {
		topUnchanged = box.Top - d.current.Top
	}
	bottomDisplaced := box.Bottom()
	if d.bottom != 0 {
		bottomDisplaced = box.Bottom() + d.current.Bottom
	}
	belowLine := fs.rect.Bottom() - fs.bottomBuffer

	switch {
	case d.isZero():
		return RuleNoChange, Unchanged

	case req.Force || !fs.visible:
		return RuleForced, Applied

	case (e.active != nil && e.active.HasDescendantsOf(r.Node())) || req.UserActivated:
		return RuleActive, Applied

	case topUnchanged >= belowLine || (d.top == 0 && box.Bottom()+math.Min(d.height, 0) >= belowLine):
		return RuleBelowViewport, Applied

	case fs.rect.Top > e.tuning.ScrollEpsilon && bottomDisplaced <= fs.rect.Top+fs.topBuffer &&
		!(d.height < 0 && fs.rect.Top+*aboveChange < -d.height):
		if !fs.scrollStopped {
			return RuleAboveViewport, Deferred
		}
		*aboveChange += d.height
		return RuleAboveViewport, Applied

	case e.nearBottom(box, r.InitialLayoutBox(), fs.contentHeight):
		return RuleNearBottom, Applied

	case d.height < 0 || d.top < 0 || d.bottom < 0 || d.left < 0 || d.right < 0:
		return RuleShrinkDeferred, Deferred

	case d.height == 0 && d.top == 0 && d.bottom == 0:
		available, used, ok := e.vp.WidthBudget(r.Node())
		if !ok {
			m := e.vp.Margins(r.Node())
			available, used = fs.rect.Width, box.Width+m.Left+m.Right
		}
		if used+d.width+d.left+d.right <= available {
			return RuleWidth, Applied
		}
		return RuleWidth, Overflowed

	default:
		return RuleOverflow, Overflowed
	}
}

func (e *Engine) nearBottom(box, initial layout.Rect, contentHeight float64) bool {
	threshold := math.Max(contentHeight*(1-e.tuning.NearBottomRatio), contentHeight-e.tuning.NearBottomCap)
	return box.Bottom() >= threshold || initial.Bottom() >= threshold
}

func (e *Engine) apply(req *Request, res *Result) {
	r := req.Resource
	if top := r.LayoutBox().Top; top >= 0 && (res.RelayoutTop < 0 || top < res.RelayoutTop) {
		res.RelayoutTop = top
	}
	r.ChangeSize(req.Change)
	if _, pending := r.PendingChangeSize(); pending {
		r.Overflow(false, req.Change)
	}
	res.Applied++
	req.Future.Resolve(outcome.Success())
}

// applyCompensated applies resizes above the viewport as one batch and moves
// the scroll position by the resulting change in document height, so the
// content under the reader stays put.
func (e *Engine) applyCompensated(reqs []*Request, res *Result) {
	oldHeight := e.vp.ScrollHeight()
	scrollTop := e.vp.ScrollTop()
	for _, req := range reqs {
		e.apply(req, res)
	}
	newHeight := e.vp.ScrollHeight()
	if delta := newHeight - oldHeight; delta != 0 {
		e.vp.SetScrollTop(scrollTop + delta)
		e.logger.Debug("scroll compensated", "requests", len(reqs), "delta", delta)
	}
}

func (e *Engine) record(req *Request, rule Rule, action Action) {
	id := req.Resource.ID()
	e.decided = append(e.decided, Decision{ResourceID: id, Rule: rule, Action: action})
	e.logger.Debug("negotiate", "resource", id, "rule", rule.String(), "action", action.String())
	e.hooks.OnDecision(e.ctx, id, rule.String(), action.String())
}
