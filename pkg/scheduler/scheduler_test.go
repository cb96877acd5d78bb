package scheduler

import (
	"context"
	stderrors "errors"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/layoutsched/pkg/config"
	"github.com/matzehuels/layoutsched/pkg/errors"
	"github.com/matzehuels/layoutsched/pkg/frame"
	"github.com/matzehuels/layoutsched/pkg/layout"
	"github.com/matzehuels/layoutsched/pkg/node"
	"github.com/matzehuels/layoutsched/pkg/observability"
	"github.com/matzehuels/layoutsched/pkg/outcome"
	"github.com/matzehuels/layoutsched/pkg/resource"
	"github.com/matzehuels/layoutsched/pkg/sim"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// step is long enough for a requested pass and its follow-up to run.
const step = 50 * time.Millisecond

type recorder struct {
	passes    int
	scheduled []string
	completed map[string]string
}

func (r *recorder) OnPass(context.Context, observability.PassInfo) { r.passes++ }

func (r *recorder) OnTaskScheduled(_ context.Context, id string, _ int) {
	r.scheduled = append(r.scheduled, id)
}

func (r *recorder) OnTaskStart(context.Context, string, time.Duration) {}

func (r *recorder) OnTaskComplete(_ context.Context, id, status string, _ time.Duration) {
	if r.completed == nil {
		r.completed = make(map[string]string)
	}
	r.completed[id] = status
}

type fixture struct {
	doc    *sim.Document
	runner *frame.Manual
	sched  *Scheduler
	rec    *recorder
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	doc := sim.NewDocument(1000, 800)
	m := frame.NewManual(epoch)
	rec := &recorder{}
	opts.Logger = log.New(io.Discard)
	opts.Hooks = observability.Hooks{Scheduler: rec}
	s := New(doc, m, opts)
	t.Cleanup(s.Close)
	return &fixture{doc: doc, runner: m, sched: s, rec: rec}
}

// add appends a managed root element.
func (f *fixture) add(t *testing.T, name string, height float64) (*sim.Element, *resource.Resource) {
	t.Helper()
	e := sim.NewElement(name, height)
	f.doc.Append(nil, e)
	r, err := f.sched.Add(e)
	if err != nil {
		t.Fatalf("Add(%s) error = %v", name, err)
	}
	return e, r
}

// spacer appends an unmanaged root element.
func (f *fixture) spacer(height float64) {
	f.doc.Append(nil, sim.NewElement("spacer", height))
}

func (f *fixture) start() {
	f.sched.Start()
	f.runner.AdvanceSettled(step)
}

func outcomeOf(t *testing.T, fut *outcome.Future) outcome.Outcome {
	t.Helper()
	o, ok := fut.Result()
	if !ok {
		t.Fatal("future not resolved")
	}
	return o
}

func TestLayoutsResourcesNearViewport(t *testing.T) {
	f := newFixture(t, Options{})
	a, ra := f.add(t, "a", 300)
	b, rb := f.add(t, "b", 300)
	c, rc := f.add(t, "c", 300)
	f.spacer(3000)
	far, rfar := f.add(t, "far", 100)

	f.start()

	for _, tc := range []struct {
		e *sim.Element
		r *resource.Resource
	}{{a, ra}, {b, rb}, {c, rc}} {
		if got := tc.r.State(); got != resource.LayoutComplete {
			t.Errorf("%s state = %v, want LAYOUT_COMPLETE", tc.e.Name(), got)
		}
		if got := tc.e.Stats().Layouts; got != 1 {
			t.Errorf("%s layouts = %d, want 1", tc.e.Name(), got)
		}
	}
	if got := rfar.State(); got != resource.ReadyForLayout {
		t.Errorf("far state = %v, want READY_FOR_LAYOUT", got)
	}
	if got := far.Stats().Layouts; got != 0 {
		t.Errorf("far layouts = %d, want 0", got)
	}
	if !ra.InViewport() || !rc.InViewport() || rfar.InViewport() {
		t.Errorf("in viewport a=%v c=%v far=%v, want true true false", ra.InViewport(), rc.InViewport(), rfar.InViewport())
	}
	if got := f.rec.completed[TaskID(ra.ID(), KindLayout)]; got != "succeeded" {
		t.Errorf("task status = %q, want succeeded", got)
	}
	if f.rec.passes == 0 {
		t.Error("OnPass never called")
	}
}

func TestPrerenderBuildQuota(t *testing.T) {
	f := newFixture(t, Options{Visibility: Prerender})
	quota := f.sched.Tuning().Scheduler.BuildQuota
	for i := 0; i < quota; i++ {
		f.add(t, "e", 10)
	}
	late, rlate := f.add(t, "late", 10)
	blocking := sim.NewElement("blocking", 10)
	blocking.UpdateCapabilities(func(c *node.Capabilities) { c.RenderBlocking = true })
	f.doc.Append(nil, blocking)
	if _, err := f.sched.Add(blocking); err != nil {
		t.Fatal(err)
	}

	f.start()

	if got := late.Stats().Builds; got != 0 {
		t.Fatalf("late builds while prerendering = %d, want 0", got)
	}
	if got := rlate.State(); got != resource.NotBuilt {
		t.Errorf("late state = %v, want NOT_BUILT", got)
	}
	if got := blocking.Stats().Builds; got != 1 {
		t.Errorf("render-blocking builds = %d, want 1", got)
	}
	first := f.sched.Resources()[0]
	if got := first.State(); got != resource.ReadyForLayout {
		t.Errorf("prerender layout not allowed: state = %v, want READY_FOR_LAYOUT", got)
	}

	f.sched.SetVisibility(Visible)
	f.runner.AdvanceSettled(step)
	f.runner.AdvanceSettled(step)

	if got := late.Stats().Builds; got != 1 {
		t.Errorf("late builds once visible = %d, want 1", got)
	}
	if got := rlate.State(); got != resource.LayoutComplete {
		t.Errorf("late state once visible = %v, want LAYOUT_COMPLETE", got)
	}
}

func TestPrerenderAllowedLaysOut(t *testing.T) {
	f := newFixture(t, Options{Visibility: Prerender})
	e, r := f.add(t, "a", 100)
	e.UpdateCapabilities(func(c *node.Capabilities) { c.PrerenderAllowed = true })
	f.start()
	if got := r.State(); got != resource.LayoutComplete {
		t.Errorf("state = %v, want LAYOUT_COMPLETE", got)
	}
	if r.InViewport() {
		t.Error("InViewport() = true while prerendering")
	}
}

func TestUnloadDuringInFlightLayout(t *testing.T) {
	f := newFixture(t, Options{})
	e, r := f.add(t, "a", 300)
	e.HoldLayouts()

	f.sched.Start()
	f.runner.Settle()
	f.runner.Advance(0)

	task, ok := f.sched.exec.Get(TaskID(r.ID(), KindLayout))
	if !ok {
		t.Fatal("layout task not executing")
	}
	fut := task.future

	f.sched.SetVisibility(Inactive)
	f.runner.Advance(step)
	e.ReleaseLayouts()
	f.runner.Settle()

	o := outcomeOf(t, fut)
	if o.Status != outcome.Cancelled {
		t.Errorf("layout outcome = %v, want cancelled", o)
	}
	if got := r.State(); got != resource.NotLaidOut {
		t.Errorf("state = %v, want NOT_LAID_OUT", got)
	}
	if got := f.sched.exec.Len(); got != 0 {
		t.Errorf("executing = %d, want 0", got)
	}

	f.runner.AdvanceSettled(10 * time.Second)
	if got := r.State(); got != resource.NotLaidOut {
		t.Errorf("state while inactive = %v, want NOT_LAID_OUT", got)
	}
	if got := e.Stats().Layouts; got != 1 {
		t.Errorf("layouts = %d, want 1", got)
	}
}

func TestVisibilityTransitions(t *testing.T) {
	f := newFixture(t, Options{})
	e, r := f.add(t, "a", 300)
	f.start()

	f.sched.SetVisibility(Paused)
	f.runner.AdvanceSettled(step)
	if got := e.Stats().Pauses; got != 1 {
		t.Errorf("pauses = %d, want 1", got)
	}
	if got := r.State(); got != resource.LayoutComplete {
		t.Errorf("paused state = %v, want LAYOUT_COMPLETE", got)
	}

	f.sched.SetVisibility(Visible)
	f.runner.AdvanceSettled(step)
	if got := e.Stats().Resumes; got != 1 {
		t.Errorf("resumes = %d, want 1", got)
	}

	f.sched.SetVisibility(Inactive)
	f.runner.AdvanceSettled(step)
	if got := e.Stats().Unlayouts; got != 1 {
		t.Errorf("unlayouts = %d, want 1", got)
	}
	if got := r.State(); got != resource.NotLaidOut {
		t.Errorf("inactive state = %v, want NOT_LAID_OUT", got)
	}

	f.sched.SetVisibility(Visible)
	f.runner.AdvanceSettled(step)
	if got := r.State(); got != resource.LayoutComplete {
		t.Errorf("state after reactivation = %v, want LAYOUT_COMPLETE", got)
	}
	if got := e.Stats().Layouts; got != 2 {
		t.Errorf("layouts = %d, want 2", got)
	}
}

func TestIdlePreload(t *testing.T) {
	f := newFixture(t, Options{})
	f.add(t, "a", 100)
	f.spacer(2400)
	below, rbelow := f.add(t, "below", 100)

	f.start()
	if got := rbelow.State(); got != resource.ReadyForLayout {
		t.Fatalf("below state = %v, want READY_FOR_LAYOUT", got)
	}

	f.runner.AdvanceSettled(4 * time.Second)
	if got := below.Stats().Layouts; got != 0 {
		t.Errorf("layouts before idle = %d, want 0", got)
	}

	f.runner.AdvanceSettled(2 * time.Second)
	if got := rbelow.State(); got != resource.LayoutComplete {
		t.Errorf("below state once idle = %v, want LAYOUT_COMPLETE", got)
	}
	if _, ok := f.rec.completed[TaskID(rbelow.ID(), KindPreload)]; !ok {
		t.Errorf("no preload task completed, got %v", f.rec.completed)
	}
}

func TestIdlePreloadBeforeAnyTask(t *testing.T) {
	f := newFixture(t, Options{})
	f.spacer(3000)
	below, rbelow := f.add(t, "below", 100)

	f.start()
	f.runner.AdvanceSettled(step)
	if got := rbelow.State(); got != resource.LayoutComplete {
		t.Errorf("below state = %v, want LAYOUT_COMPLETE", got)
	}
	if got := below.Stats().Layouts; got != 1 {
		t.Errorf("layouts = %d, want 1", got)
	}
	if _, ok := f.rec.completed[TaskID(rbelow.ID(), KindPreload)]; !ok {
		t.Errorf("no preload task completed, got %v", f.rec.completed)
	}
}

func TestBuildFailureRemovesResource(t *testing.T) {
	f := newFixture(t, Options{})
	e := sim.NewElement("broken", 100)
	e.FailBuild(stderrors.New("boom"))
	f.doc.Append(nil, e)
	r, err := f.sched.Add(e)
	if err != nil {
		t.Fatal(err)
	}
	f.start()

	if f.sched.IsManaged(e) {
		t.Error("IsManaged() = true after build failure")
	}
	if !r.IsDisconnected() {
		t.Error("IsDisconnected() = false")
	}
	if o := outcomeOf(t, r.Built()); o.Status != outcome.Failed || !errors.Is(o.Err, errors.ErrCodeBuildFailed) {
		t.Errorf("Built() = %v, want BUILD_FAILED failure", o)
	}
}

func TestConsentBlockedBuildParks(t *testing.T) {
	f := newFixture(t, Options{})
	e := sim.NewElement("gated", 100)
	e.FailBuild(errors.New(errors.ErrCodeConsentBlocked, "no consent"))
	f.doc.Append(nil, e)
	r, err := f.sched.Add(e)
	if err != nil {
		t.Fatal(err)
	}
	f.start()

	if !f.sched.IsManaged(e) || !r.IsBlocked() {
		t.Fatalf("managed=%v blocked=%v, want true true", f.sched.IsManaged(e), r.IsBlocked())
	}
	f.runner.AdvanceSettled(10 * time.Second)
	if got := e.Stats().Builds; got != 1 {
		t.Errorf("builds while blocked = %d, want 1", got)
	}

	e.FailBuild(nil)
	if err := f.sched.Unblock(e); err != nil {
		t.Fatal(err)
	}
	f.runner.AdvanceSettled(step)
	f.runner.AdvanceSettled(step)
	if got := r.State(); got != resource.LayoutComplete {
		t.Errorf("state after unblock = %v, want LAYOUT_COMPLETE", got)
	}
}

func TestScore(t *testing.T) {
	f := newFixture(t, Options{})
	f.add(t, "top", 100)
	f.spacer(1600)
	f.add(t, "mid", 100)
	f.spacer(2000)
	f.runner.Settle()
	rs := f.sched.Resources()
	for _, r := range rs {
		r.Measure()
	}
	top, mid := rs[0], rs[1]

	tests := []struct {
		name   string
		scroll float64
		task   *Task
		want   float64
	}{
		{"in viewport", 0, &Task{Resource: top}, 0},
		{"two viewports below", 0, &Task{Resource: mid}, 2},
		{"priority dominates", 0, &Task{Resource: mid, Priority: 1}, 12},
		{"behind scroll direction", 2000, &Task{Resource: top}, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.doc.ScrollTo(tt.scroll, 0)
			for _, r := range rs {
				r.Measure()
			}
			if got := f.sched.score(tt.task); got != tt.want {
				t.Errorf("score() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTaskTimeout(t *testing.T) {
	f := newFixture(t, Options{})
	_, r := f.add(t, "a", 100)

	if got := f.sched.taskTimeout(&Task{Resource: r, Priority: 2}); got != 2*time.Second {
		t.Errorf("timeout right after visible = %v, want 2s", got)
	}
	f.runner.Advance(1500 * time.Millisecond)
	if got := f.sched.taskTimeout(&Task{Resource: r, Priority: 2}); got != 500*time.Millisecond {
		t.Errorf("timeout after 1.5s = %v, want 500ms", got)
	}

	_ = f.sched.exec.Enqueue(&Task{id: "x", Resource: r, started: f.runner.Now()})
	if got := f.sched.taskTimeout(&Task{Resource: r, Priority: 1}); got != time.Second {
		t.Errorf("timeout behind executing task = %v, want 1s", got)
	}
	if got := f.sched.taskTimeout(&Task{Resource: r, Priority: 0}); got != 0 {
		t.Errorf("timeout at same priority = %v, want 0", got)
	}

	p := newFixture(t, Options{Visibility: Prerender})
	if got := p.sched.taskTimeout(&Task{Priority: 5}); got != 0 {
		t.Errorf("timeout before first visible = %v, want 0", got)
	}
}

func TestScheduleDedupe(t *testing.T) {
	f := newFixture(t, Options{})
	_, r := f.add(t, "a", 100)
	f.runner.Settle()
	calls := 0
	cb := func() *outcome.Future { calls++; return outcome.Resolved(outcome.Success()) }

	f.sched.schedule(r, KindLayout, 5, false, cb)
	f.sched.schedule(r, KindLayout, 5, false, cb)
	if got := f.sched.queue.Len(); got != 1 {
		t.Fatalf("queue length = %d, want 1", got)
	}
	f.sched.schedule(r, KindLayout, 0, false, cb)
	task, _ := f.sched.queue.Get(TaskID(r.ID(), KindLayout))
	if task.Priority != 0 {
		t.Errorf("priority after better request = %d, want 0", task.Priority)
	}
	f.sched.schedule(r, KindLayout, 3, false, cb)
	task, _ = f.sched.queue.Get(TaskID(r.ID(), KindLayout))
	if task.Priority != 0 {
		t.Errorf("priority after worse request = %d, want 0", task.Priority)
	}
	f.sched.schedule(r, KindPreload, 0, false, cb)
	if got := f.sched.queue.Len(); got != 2 {
		t.Errorf("queue length with preload = %d, want 2", got)
	}
	if got := r.State(); got != resource.LayoutScheduled {
		t.Errorf("state = %v, want LAYOUT_SCHEDULED", got)
	}

	if err := f.sched.UpdateLayoutPriority(r.Node(), 4); err != nil {
		t.Fatal(err)
	}
	task, _ = f.sched.queue.Get(TaskID(r.ID(), KindPreload))
	if task.Priority != 6 {
		t.Errorf("preload priority after update = %d, want 6", task.Priority)
	}
	if calls != 0 {
		t.Errorf("callback ran %d times before any pass", calls)
	}
}

func TestRemove(t *testing.T) {
	f := newFixture(t, Options{})
	e, r := f.add(t, "a", 100)
	f.start()

	fut := f.sched.RequestChangeSize(e, node.SizeChange{Height: layout.Ptr(200)}, nil)
	if err := f.sched.Remove(e); err != nil {
		t.Fatal(err)
	}
	if f.sched.IsManaged(e) || !r.IsDisconnected() {
		t.Errorf("managed=%v disconnected=%v, want false true", f.sched.IsManaged(e), r.IsDisconnected())
	}
	if got := e.Stats().Unlayouts; got != 1 {
		t.Errorf("unlayouts = %d, want 1", got)
	}
	if o := outcomeOf(t, fut); o.Status != outcome.Cancelled {
		t.Errorf("size request = %v, want cancelled", o)
	}
	if err := f.sched.Remove(e); !errors.Is(err, errors.ErrCodeNotManaged) {
		t.Errorf("second Remove() error = %v, want NOT_MANAGED", err)
	}
	if _, err := f.sched.Add(e); err != nil {
		t.Errorf("re-Add() error = %v", err)
	}
	if _, err := f.sched.Add(e); !errors.Is(err, errors.ErrCodePrecondition) {
		t.Errorf("duplicate Add() error = %v, want PRECONDITION", err)
	}
}

func TestSizeRequests(t *testing.T) {
	f := newFixture(t, Options{})
	a, _ := f.add(t, "a", 300)
	b, rb := f.add(t, "b", 300)
	f.spacer(2000)
	below, _ := f.add(t, "below", 100)
	f.spacer(2000)
	f.start()

	grow := node.SizeChange{Height: layout.Ptr(500)}
	denied := f.sched.RequestChangeSize(b, grow, nil)
	applied := f.sched.RequestChangeSize(below, grow, nil)
	f.sched.Focus(a)
	focused := f.sched.RequestChangeSize(a, grow, nil)
	f.runner.AdvanceSettled(step)

	if o := outcomeOf(t, denied); o.Status != outcome.Failed || !errors.Is(o.Err, errors.ErrCodeSizeDenied) {
		t.Errorf("in-viewport grow = %v, want SIZE_DENIED", o)
	}
	if !b.Stats().Overflown {
		t.Error("denied node not told it overflowed")
	}
	var info ResourceInfo
	for _, ri := range f.sched.Snapshot().Resources {
		if ri.ID == rb.ID() {
			info = ri
		}
	}
	if !info.PendingOverflow {
		t.Error("snapshot PendingOverflow = false")
	}

	if o := outcomeOf(t, applied); !o.OK() || below.Height() != 500 {
		t.Errorf("below-fold grow = %v height %v, want success 500", o, below.Height())
	}
	if o := outcomeOf(t, focused); !o.OK() || a.Height() != 500 {
		t.Errorf("focused grow = %v height %v, want success 500", o, a.Height())
	}

	forced := f.sched.ForceChangeSize(b, grow)
	f.runner.AdvanceSettled(step)
	if o := outcomeOf(t, forced); !o.OK() || b.Height() != 500 {
		t.Errorf("forced grow = %v height %v, want success 500", o, b.Height())
	}
	if b.Stats().Overflown {
		t.Error("overflow not cleared after forced apply")
	}

	stranger := sim.NewElement("stranger", 10)
	if o := outcomeOf(t, f.sched.RequestChangeSize(stranger, grow, nil)); !errors.Is(o.Err, errors.ErrCodeNotManaged) {
		t.Errorf("unmanaged request = %v, want NOT_MANAGED", o)
	}
}

func TestOwnerScheduledLayout(t *testing.T) {
	tuning := config.Default()
	tuning.Scheduler.IdleLayouts = 0
	f := newFixture(t, Options{Tuning: &tuning})
	f.spacer(3000)
	parent := sim.NewElement("parent", 100)
	child := sim.NewElement("child", 50)
	f.doc.Append(nil, parent)
	f.doc.Append(parent, child)
	rp, _ := f.sched.Add(parent)
	rc, _ := f.sched.Add(child)
	if err := f.sched.SetOwner(child, parent); err != nil {
		t.Fatal(err)
	}
	f.start()

	if got := rc.State(); got != resource.ReadyForLayout {
		t.Fatalf("owned child state = %v, want READY_FOR_LAYOUT", got)
	}

	f.sched.ScheduleLayout(parent, child)
	f.runner.AdvanceSettled(step)
	if got := rc.State(); got != resource.LayoutComplete {
		t.Errorf("owned child state = %v, want LAYOUT_COMPLETE", got)
	}
	if got := rp.State(); got != resource.ReadyForLayout {
		t.Errorf("parent state = %v, want READY_FOR_LAYOUT", got)
	}

	f.sched.SchedulePause(parent, child)
	f.sched.ScheduleResume(parent, child)
	f.sched.ScheduleUnlayout(parent, child)
	st := child.Stats()
	if st.Pauses != 1 || st.Resumes != 1 || st.Unlayouts != 1 {
		t.Errorf("stats = %+v, want one pause, resume and unlayout", st)
	}
	if got := rc.State(); got != resource.NotLaidOut {
		t.Errorf("state after unlayout = %v, want NOT_LAID_OUT", got)
	}
	if err := f.sched.SetOwner(parent, child); !errors.Is(err, errors.ErrCodePrecondition) {
		t.Errorf("SetOwner(descendant) error = %v, want PRECONDITION", err)
	}
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t, Options{})
	parent := sim.NewElement("parent", 0)
	child := sim.NewElement("child", 100)
	f.doc.Append(nil, parent)
	f.doc.Append(parent, child)
	rp, _ := f.sched.Add(parent)
	f.sched.Add(child)
	f.start()

	snap := f.sched.Snapshot()
	if snap.ID != f.sched.ID() || snap.Visibility != "visible" {
		t.Errorf("snapshot id=%q visibility=%q", snap.ID, snap.Visibility)
	}
	if len(snap.Resources) != 2 {
		t.Fatalf("resources = %d, want 2", len(snap.Resources))
	}
	if got := snap.Resources[1]; got.Label != "child" || got.ParentID != rp.ID() || got.State != "LAYOUT_COMPLETE" {
		t.Errorf("child info = %+v", got)
	}
	if snap.Passes == 0 || snap.BuildAttempts != 2 {
		t.Errorf("passes=%d builds=%d", snap.Passes, snap.BuildAttempts)
	}
}

func TestClose(t *testing.T) {
	f := newFixture(t, Options{})
	e, r := f.add(t, "a", 100)
	e.HoldLayouts()
	f.sched.Start()
	f.runner.Settle()
	f.runner.Advance(0)
	task, ok := f.sched.exec.Get(TaskID(r.ID(), KindLayout))
	if !ok {
		t.Fatal("layout not executing")
	}

	f.sched.Close()
	f.runner.Settle()
	if o := outcomeOf(t, task.future); o.Status != outcome.Cancelled {
		t.Errorf("layout = %v, want cancelled", o)
	}
	if _, err := f.sched.Add(sim.NewElement("late", 10)); !errors.Is(err, errors.ErrCodePrecondition) {
		t.Errorf("Add() after Close error = %v, want PRECONDITION", err)
	}
}

func TestParseVisibility(t *testing.T) {
	tests := []struct {
		in      string
		want    Visibility
		wantErr bool
	}{
		{"visible", Visible, false},
		{" Hidden ", Hidden, false},
		{"prerender", Prerender, false},
		{"gone", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseVisibility(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseVisibility(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseVisibility(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if got := Visibility(42).String(); got != "visibility(42)" {
		t.Errorf("String() = %q", got)
	}
}
