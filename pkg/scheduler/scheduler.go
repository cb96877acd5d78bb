// Package scheduler decides when each managed node is built, laid out,
// preloaded, paused, unlaid out and resized.
//
// A [Scheduler] owns the set of [resource.Resource] values for one document.
// All work happens in a single reschedulable pass running on a
// [frame.Runner]. Each pass, depending on the document's [Visibility]:
//
//  1. negotiates pending size changes (see package negotiate)
//  2. discovers work: builds what may be built, remeasures what moved,
//     recomputes in-viewport membership and queues layout tasks for
//     resources inside the load rectangle, plus a few preloads when idle
//  3. executes queued tasks in score order within a per-pass budget
//
// and finally schedules the next pass.
//
// # Threading
//
// A Scheduler is not safe for concurrent use. Every method must be called on
// the runner's loop goroutine; node Build and Layout hooks run off the loop
// and their completions are posted back to it.
package scheduler

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/matzehuels/layoutsched/pkg/config"
	"github.com/matzehuels/layoutsched/pkg/errors"
	"github.com/matzehuels/layoutsched/pkg/frame"
	"github.com/matzehuels/layoutsched/pkg/history"
	"github.com/matzehuels/layoutsched/pkg/negotiate"
	"github.com/matzehuels/layoutsched/pkg/node"
	"github.com/matzehuels/layoutsched/pkg/observability"
	"github.com/matzehuels/layoutsched/pkg/outcome"
	"github.com/matzehuels/layoutsched/pkg/queue"
	"github.com/matzehuels/layoutsched/pkg/resource"
	"github.com/matzehuels/layoutsched/pkg/viewport"
)

// Options configure a Scheduler. Zero fields take defaults.
type Options struct {
	// Tuning holds the scheduling constants. The zero value means
	// config.Default().
	Tuning *config.Tuning

	Logger *log.Logger

	// Hooks defaults to the globally registered hooks.
	Hooks observability.Hooks

	// Visibility is the initial document visibility, Visible by default.
	Visibility Visibility

	// Context is the parent of every build and layout context. Close
	// cancels it.
	Context context.Context
}

// Scheduler schedules the resources of one document.
type Scheduler struct {
	id     string
	vp     viewport.Viewport
	runner frame.Runner
	tuning config.Tuning
	logger *log.Logger
	hooks  observability.Hooks
	ctx    context.Context
	cancel context.CancelFunc

	env       *resource.Env
	owners    *resource.Index
	resources []*resource.Resource
	byNode    map[node.Node]*resource.Resource
	nextID    int

	queue   *queue.Queue[*Task]
	exec    *queue.Queue[*Task]
	pending *negotiate.Pending
	engine  *negotiate.Engine
	active  *history.History
	pass    *frame.Pass

	visibility    Visibility
	passVis       Visibility
	firstVisible  time.Time
	everVisible   bool
	buildAttempts int

	relayoutAll bool
	relayoutTop float64
	lastScroll  time.Time

	started bool
	closed  bool
}

// New creates a scheduler for the document vp describes.
func New(vp viewport.Viewport, runner frame.Runner, opts Options) *Scheduler {
	tuning := config.Default()
	if opts.Tuning != nil {
		tuning = *opts.Tuning
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Visibility == 0 {
		opts.Visibility = Visible
	}
	hooks := opts.Hooks
	if hooks.Scheduler == nil && hooks.Negotiation == nil && hooks.Resource == nil {
		hooks = observability.Registered()
	}
	hooks = hooks.WithDefaults()

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(opts.Context)
	s := &Scheduler{
		id:          id,
		vp:          vp,
		runner:      runner,
		tuning:      tuning,
		logger:      opts.Logger.With("scheduler", id[:8]),
		hooks:       hooks,
		ctx:         ctx,
		cancel:      cancel,
		owners:      resource.NewIndex(),
		byNode:      make(map[node.Node]*resource.Resource),
		queue:       queue.New[*Task](runner.Now),
		exec:        queue.New[*Task](runner.Now),
		pending:     negotiate.NewPending(),
		active:      history.New(tuning.Focus.Window.D(), runner.Now),
		visibility:  opts.Visibility,
		passVis:     Prerender,
		relayoutTop: -1,
	}
	s.env = &resource.Env{
		Ctx:               ctx,
		Viewport:          vp,
		Runner:            runner,
		Logger:            s.logger,
		Hooks:             hooks.Resource,
		Owners:            s.owners,
		Managed:           s.IsManaged,
		ScrollAwayPenalty: tuning.Scheduler.ScrollAwayPenalty,
	}
	s.engine = negotiate.New(vp, s.active, negotiate.Options{
		Tuning:  tuning.Negotiation,
		Logger:  s.logger,
		Hooks:   hooks.Negotiation,
		Context: ctx,
	})
	s.pass = frame.NewPass(runner, s.doPass)
	if s.visibility == Visible {
		s.markVisible()
	}
	return s
}

// ID returns the scheduler's instance id.
func (s *Scheduler) ID() string { return s.id }

// Tuning returns the constants the scheduler runs with.
func (s *Scheduler) Tuning() config.Tuning { return s.tuning }

// Start runs the first pass. Passes requested before Start are held back.
func (s *Scheduler) Start() {
	if s.started || s.closed {
		return
	}
	s.started = true
	s.relayoutAll = true
	s.logger.Debug("start", "resources", len(s.resources), "visibility", s.visibility.String())
	s.schedulePass(0)
}

// Close stops all passes, cancels in-flight work and disconnects every
// resource. Pending size requests resolve cancelled.
func (s *Scheduler) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.pass.Cancel()
	for _, r := range s.resources {
		r.Disconnect()
	}
	for _, req := range s.pending.Take() {
		req.Future.Resolve(outcome.Cancellation("scheduler closed"))
	}
	s.queue.Purge(func(*Task) bool { return true })
	s.exec.Purge(func(*Task) bool { return true })
	s.cancel()
	s.logger.Debug("closed")
}

func (s *Scheduler) schedulePass(delay time.Duration) {
	if !s.started || s.closed {
		return
	}
	s.pass.Schedule(delay)
}

// =============================================================================
// Resources
// =============================================================================

// Add starts managing n. It is built right away when the build quota allows.
func (s *Scheduler) Add(n node.Node) (*resource.Resource, error) {
	if s.closed {
		return nil, errors.New(errors.ErrCodePrecondition, "scheduler closed")
	}
	if _, ok := s.byNode[n]; ok {
		return nil, errors.New(errors.ErrCodePrecondition, "node %s is already managed", label(n))
	}
	s.nextID++
	r := resource.New(s.nextID, n, s.env)
	s.resources = append(s.resources, r)
	s.byNode[n] = r
	s.owners.Invalidate()
	s.logger.Debug("add", "resource", r.ID(), "node", label(n))
	s.buildOrSchedule(r)
	s.schedulePass(0)
	return r, nil
}

// Remove stops managing n. A built node is unloaded first.
func (s *Scheduler) Remove(n node.Node) error {
	r, ok := s.byNode[n]
	if !ok {
		return errors.New(errors.ErrCodeNotManaged, "node %s is not managed", label(n))
	}
	s.removeResource(r)
	return nil
}

func (s *Scheduler) removeResource(r *resource.Resource) {
	i := slices.Index(s.resources, r)
	if i < 0 {
		return
	}
	s.resources = slices.Delete(s.resources, i, i+1)
	delete(s.byNode, r.Node())
	if r.IsBuilt() {
		r.Unload()
	}
	s.cleanupTasks(r, true)
	s.pending.Drop(r)
	r.Disconnect()
	s.active.Forget(r.Node())
	s.owners.Invalidate()
	s.logger.Debug("remove", "resource", r.ID())
}

// IsManaged reports whether n is managed by s.
func (s *Scheduler) IsManaged(n node.Node) bool {
	_, ok := s.byNode[n]
	return ok
}

// Resource returns the resource wrapping n.
func (s *Scheduler) Resource(n node.Node) (*resource.Resource, bool) {
	r, ok := s.byNode[n]
	return r, ok
}

// Resources returns the managed resources in insertion order.
func (s *Scheduler) Resources() []*resource.Resource {
	return slices.Clone(s.resources)
}

func (s *Scheduler) lookup(n node.Node) (*resource.Resource, error) {
	r, ok := s.byNode[n]
	if !ok {
		return nil, errors.New(errors.ErrCodeNotManaged, "node %s is not managed", label(n))
	}
	return r, nil
}

// Upgraded tells the scheduler that n may have become buildable.
func (s *Scheduler) Upgraded(n node.Node) error {
	r, err := s.lookup(n)
	if err != nil {
		return err
	}
	s.buildOrSchedule(r)
	s.schedulePass(0)
	return nil
}

// Unblock lets a consent-blocked node build again.
func (s *Scheduler) Unblock(n node.Node) error {
	r, err := s.lookup(n)
	if err != nil {
		return err
	}
	if r.Unblock() {
		s.buildOrSchedule(r)
		s.schedulePass(0)
	}
	return nil
}

// RequestMeasure marks n for remeasurement on the next pass.
func (s *Scheduler) RequestMeasure(n node.Node) error {
	r, err := s.lookup(n)
	if err != nil {
		return err
	}
	r.RequestMeasure()
	s.schedulePass(0)
	return nil
}

// SetOwner makes owner responsible for scheduling n and everything under it.
func (s *Scheduler) SetOwner(n, owner node.Node) error {
	return s.owners.SetOwner(n, owner)
}

// UpdateLayoutPriority overrides n's priority, including for queued tasks.
func (s *Scheduler) UpdateLayoutPriority(n node.Node, priority int) error {
	r, err := s.lookup(n)
	if err != nil {
		return err
	}
	r.SetLayoutPriority(priority)
	s.queue.ForEach(func(t *Task) {
		if t.Resource == r {
			t.Priority = priority + t.Kind.offset()
		}
	})
	s.schedulePass(0)
	return nil
}

// =============================================================================
// Build
// =============================================================================

// underBuildQuota reports whether another build may start. Before the
// document was first visible only a limited number of builds are allowed.
func (s *Scheduler) underBuildQuota() bool {
	return s.everVisible || s.buildAttempts < s.tuning.Scheduler.BuildQuota
}

func (s *Scheduler) buildOrSchedule(r *resource.Resource) {
	if !r.CanBuild() {
		return
	}
	if !s.underBuildQuota() && !r.Node().Capabilities().RenderBlocking {
		return
	}
	if r.Build(func(err error) { s.built(r, err) }) {
		s.buildAttempts++
	}
}

func (s *Scheduler) built(r *resource.Resource, err error) {
	if err != nil && !errors.IsBlockedByConsent(err) {
		s.removeResource(r)
		return
	}
	s.schedulePass(0)
}

// =============================================================================
// Size changes
// =============================================================================

// Event describes what triggered a size request.
type Event struct {
	// UserActivated marks requests caused by a user gesture.
	UserActivated bool
}

// RequestChangeSize asks for n to be resized. The change is negotiated on the
// next pass. The future succeeds once applied and fails with SIZE_DENIED
// when denied; a newer request for the same node cancels it.
func (s *Scheduler) RequestChangeSize(n node.Node, change node.SizeChange, ev *Event) *outcome.Future {
	req := &negotiate.Request{Change: change}
	if ev != nil {
		req.UserActivated = ev.UserActivated
	}
	return s.scheduleChangeSize(n, req)
}

// ForceChangeSize resizes n on the next pass without negotiation.
func (s *Scheduler) ForceChangeSize(n node.Node, change node.SizeChange) *outcome.Future {
	return s.scheduleChangeSize(n, &negotiate.Request{Change: change, Force: true})
}

func (s *Scheduler) scheduleChangeSize(n node.Node, req *negotiate.Request) *outcome.Future {
	r, err := s.lookup(n)
	if err != nil {
		return outcome.Resolved(outcome.Failure(err))
	}
	req.Resource = r
	req.Future = outcome.New()
	s.pending.Add(req)
	s.schedulePass(0)
	return req.Future
}

// =============================================================================
// Viewport and focus
// =============================================================================

// ViewportChanged tells the scheduler the viewport moved or resized. With
// relayoutAll every resource is remeasured on the next pass.
func (s *Scheduler) ViewportChanged(relayoutAll bool) {
	if relayoutAll {
		s.relayoutAll = true
	}
	s.schedulePass(0)
}

// Scrolled records a scroll event.
func (s *Scheduler) Scrolled() {
	s.lastScroll = s.runner.Now()
	s.schedulePass(0)
}

// Focus records that n received focus.
func (s *Scheduler) Focus(n node.Node) {
	s.active.Push(n)
}

// =============================================================================
// Visibility
// =============================================================================

// Visibility returns the current document visibility.
func (s *Scheduler) Visibility() Visibility { return s.visibility }

// SetVisibility changes the document visibility. The implied work runs on the
// next pass.
func (s *Scheduler) SetVisibility(v Visibility) {
	if v == s.visibility {
		return
	}
	s.logger.Info("visibility", "from", s.visibility.String(), "to", v.String())
	s.visibility = v
	if v == Visible {
		s.markVisible()
	}
	s.schedulePass(0)
}

func (s *Scheduler) markVisible() {
	s.everVisible = true
	if s.firstVisible.IsZero() {
		s.firstVisible = s.runner.Now()
	}
}

func (s *Scheduler) isVisible() bool { return s.visibility == Visible }

// =============================================================================
// Owner-driven scheduling
// =============================================================================

// ScheduleLayout lays out the resources in the given subtrees on behalf of
// their owner parent.
func (s *Scheduler) ScheduleLayout(parent node.Node, subtrees ...node.Node) {
	s.scheduleForOwner(parent, KindLayout, subtrees)
}

// SchedulePreload is ScheduleLayout at preload priority.
func (s *Scheduler) SchedulePreload(parent node.Node, subtrees ...node.Node) {
	s.scheduleForOwner(parent, KindPreload, subtrees)
}

// SchedulePause pauses the resources in the given subtrees.
func (s *Scheduler) SchedulePause(parent node.Node, subtrees ...node.Node) {
	for _, r := range s.subresources(subtrees) {
		r.Pause()
	}
}

// ScheduleResume resumes the resources in the given subtrees.
func (s *Scheduler) ScheduleResume(parent node.Node, subtrees ...node.Node) {
	for _, r := range s.subresources(subtrees) {
		r.Resume()
	}
}

// ScheduleUnlayout unlays out the resources in the given subtrees.
func (s *Scheduler) ScheduleUnlayout(parent node.Node, subtrees ...node.Node) {
	for _, r := range s.subresources(subtrees) {
		r.Unlayout()
		s.cleanupTasks(r, false)
	}
}

func (s *Scheduler) scheduleForOwner(parent node.Node, kind Kind, subtrees []node.Node) {
	parentPriority := 0
	if pr, ok := s.byNode[parent]; ok {
		parentPriority = pr.LayoutPriority()
	}
	for _, r := range s.subresources(subtrees) {
		if r.IsBuilt() {
			s.measureAndSchedule(r, kind, parentPriority)
			continue
		}
		s.buildOrSchedule(r)
		r.Built().Then(func(o outcome.Outcome) {
			if o.OK() && !s.closed {
				s.measureAndSchedule(r, kind, parentPriority)
			}
		})
	}
}

func (s *Scheduler) measureAndSchedule(r *resource.Resource, kind Kind, parentPriority int) {
	r.Measure()
	if r.State() == resource.ReadyForLayout && r.IsDisplayed() {
		s.scheduleLayoutOrPreload(r, kind, parentPriority, false)
	}
}

// subresources returns the managed resources at or below the given nodes.
func (s *Scheduler) subresources(subtrees []node.Node) []*resource.Resource {
	var out []*resource.Resource
	for _, r := range s.resources {
		for _, root := range subtrees {
			if within(r.Node(), root) {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

func within(n, root node.Node) bool {
	for p := n; p != nil; p = p.Parent() {
		if p == root {
			return true
		}
	}
	return false
}

func label(n node.Node) string {
	if st, ok := n.(fmt.Stringer); ok {
		return st.String()
	}
	return fmt.Sprintf("%T", n)
}
