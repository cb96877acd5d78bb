package scheduler

import (
	"time"

	"github.com/matzehuels/layoutsched/pkg/layout"
	"github.com/matzehuels/layoutsched/pkg/negotiate"
	"github.com/matzehuels/layoutsched/pkg/observability"
	"github.com/matzehuels/layoutsched/pkg/outcome"
	"github.com/matzehuels/layoutsched/pkg/resource"
)

// doPass is the pass handler. It applies the visibility transition from the
// state the previous pass saw.
func (s *Scheduler) doPass() {
	if s.closed {
		return
	}
	from := s.passVis
	s.passVis = s.visibility
	s.transition(from, s.visibility)
	s.reportPass()
}

func (s *Scheduler) reportPass() {
	built := 0
	for _, r := range s.resources {
		if r.IsBuilt() {
			built++
		}
	}
	var next time.Duration
	if t, ok := s.pass.NextTime(); ok {
		next = t.Sub(s.runner.Now())
	}
	s.hooks.Scheduler.OnPass(s.ctx, observability.PassInfo{
		Visibility: s.visibility.String(),
		Resources:  len(s.resources),
		Queued:     s.queue.Len(),
		Executing:  s.exec.Len(),
		Built:      built,
		NextDelay:  next,
	})
}

// doWork runs the three phases of a pass and schedules the next one.
func (s *Scheduler) doWork() {
	rect := s.vp.Rect()
	if rect.Width <= 0 || rect.Height <= 0 {
		return
	}
	if s.pending.Len() > 0 {
		s.mutateWork()
	}
	s.discoverWork()
	delay := s.work()
	if s.pending.Len() > 0 {
		delay = min(delay, s.tuning.Scheduler.MutateDeferDelay.D())
	}
	s.schedulePass(delay)
}

// =============================================================================
// Mutate
// =============================================================================

func (s *Scheduler) mutateWork() {
	res := s.engine.Run(s.pending, negotiate.Input{
		Visible:    s.isVisible(),
		Now:        s.runner.Now(),
		LastScroll: s.lastScroll,
	})
	if res.RelayoutTop >= 0 && (s.relayoutTop < 0 || res.RelayoutTop < s.relayoutTop) {
		s.relayoutTop = res.RelayoutTop
	}
}

// =============================================================================
// Discover
// =============================================================================

func (s *Scheduler) discoverWork() {
	now := s.runner.Now()
	relayoutAll := s.relayoutAll
	s.relayoutAll = false
	relayoutTop := s.relayoutTop
	s.relayoutTop = -1

	// Builds and relayouts.
	relayouts, remeasures := 0, 0
	for _, r := range s.resources {
		if r.State() == resource.NotBuilt && !r.IsBuilding() {
			s.buildOrSchedule(r)
		}
		if relayoutAll || !r.HasBeenMeasured() || r.State() == resource.NotLaidOut {
			relayouts++
		}
		if r.IsMeasureRequested() {
			remeasures++
		}
	}

	// Remeasure. Resources that stop being displayed are unloaded.
	var toUnload []*resource.Resource
	if relayouts > 0 || remeasures > 0 || relayoutAll || relayoutTop >= 0 {
		for _, r := range s.resources {
			if r.HasOwner() && !r.IsMeasureRequested() {
				continue
			}
			needs := relayoutAll ||
				r.State() == resource.NotLaidOut ||
				!r.HasBeenMeasured() ||
				r.IsMeasureRequested() ||
				(relayoutTop >= 0 && r.LayoutBox().Bottom() >= relayoutTop)
			if !needs {
				continue
			}
			wasDisplayed := r.IsDisplayed()
			r.Measure()
			if wasDisplayed && !r.IsDisplayed() {
				toUnload = append(toUnload, r)
			}
		}
	}
	for _, r := range toUnload {
		r.Unload()
		s.cleanupTasks(r, false)
	}

	visible := s.isVisible()
	vp := s.vp.Rect()
	loadRect, haveLoadRect := s.loadRect(vp)
	visibleRect := vp
	if visible {
		visibleRect = vp.ExpandUniform(s.tuning.Scheduler.VisibleExpand)
	}

	// In-viewport membership. Nothing is in the viewport of a document that
	// is not visible.
	for _, r := range s.resources {
		if r.State() == resource.NotBuilt || r.HasOwner() {
			continue
		}
		r.SetInViewport(visible && r.IsDisplayed() && r.OverlapsRect(visibleRect))
	}

	// Layouts near the viewport.
	if haveLoadRect {
		for _, r := range s.resources {
			if !r.IsBuilt() && !r.IsBuilding() && !r.HasOwner() && r.HasBeenMeasured() &&
				r.IsDisplayed() && r.OverlapsRect(loadRect) {
				s.buildOrSchedule(r)
			}
			if r.State() != resource.ReadyForLayout || r.HasOwner() {
				continue
			}
			if r.IsDisplayed() && r.OverlapsRect(loadRect) {
				s.scheduleLayoutOrPreload(r, KindLayout, 0, false)
			}
		}
	}

	// Idle preloads: first what may render outside the viewport when idle,
	// then anything ready.
	if visible && s.isIdle(now) {
		n := 0
		limit := s.tuning.Scheduler.IdleLayouts
		for _, r := range s.resources {
			if n >= limit {
				break
			}
			if s.idleCandidate(r) && r.IdleRenderOutsideViewport() {
				s.scheduleLayoutOrPreload(r, KindPreload, 0, false)
				n++
			}
		}
		for _, r := range s.resources {
			if n >= limit {
				break
			}
			if s.idleCandidate(r) {
				s.scheduleLayoutOrPreload(r, KindPreload, 0, false)
				n++
			}
		}
	}
}

func (s *Scheduler) idleCandidate(r *resource.Resource) bool {
	return r.State() == resource.ReadyForLayout && !r.HasOwner() && r.IsDisplayed()
}

// loadRect is the area in which resources are laid out. A visible document
// loads a generous margin below the fold; a prerendering one only the
// viewport itself. Other states load nothing.
func (s *Scheduler) loadRect(vp layout.Rect) (layout.Rect, bool) {
	t := s.tuning.Scheduler
	switch {
	case s.isVisible():
		return vp.Expand(t.LoadSides, t.LoadAbove, t.LoadBelow), true
	case s.visibility.prerendering():
		return vp, true
	default:
		return layout.Rect{}, false
	}
}

// isIdle reports whether nothing is queued or executing and the last task
// finished a while ago. A scheduler that never ran a task has been idle
// since the zero time.
func (s *Scheduler) isIdle(now time.Time) bool {
	last := s.exec.LastDequeueTime()
	return s.exec.Len() == 0 && s.queue.Len() == 0 &&
		now.After(last.Add(s.tuning.Scheduler.IdleThreshold.D()))
}

// =============================================================================
// Scheduling
// =============================================================================

// isLayoutAllowed reports whether r may be laid out now.
func (s *Scheduler) isLayoutAllowed(r *resource.Resource, forceOutsideViewport bool) bool {
	if r.State() == resource.NotBuilt || !r.IsDisplayed() {
		return false
	}
	if !s.isVisible() {
		caps := r.Node().Capabilities()
		switch s.visibility {
		case Prerender:
			if !caps.PrerenderAllowed {
				return false
			}
		case Preview:
			if !caps.PreviewAllowed {
				return false
			}
		default:
			return false
		}
	}
	if !r.InViewport() && !r.RenderOutsideViewport() && !r.IdleRenderOutsideViewport() && !forceOutsideViewport {
		return false
	}
	return true
}

func (s *Scheduler) scheduleLayoutOrPreload(r *resource.Resource, kind Kind, parentPriority int, forceOutsideViewport bool) {
	if r.State() == resource.NotBuilt || !r.IsDisplayed() {
		s.logger.Debug("not ready for layout", "resource", r.ID(), "state", r.State().String())
		return
	}
	if !s.isLayoutAllowed(r, forceOutsideViewport) {
		return
	}
	s.schedule(r, kind, parentPriority, forceOutsideViewport, r.StartLayout)
}

// schedule queues a task unless a task with the same id and equal or better
// priority is queued already.
func (s *Scheduler) schedule(r *resource.Resource, kind Kind, parentPriority int, forceOutsideViewport bool, callback func() *outcome.Future) {
	now := s.runner.Now()
	t := &Task{
		id:                   TaskID(r.ID(), kind),
		Resource:             r,
		Kind:                 kind,
		Priority:             max(r.LayoutPriority(), parentPriority) + kind.offset(),
		ForceOutsideViewport: forceOutsideViewport,
		callback:             callback,
		scheduled:            now,
	}
	queued, ok := s.queue.Get(t.id)
	if !ok || t.Priority < queued.Priority {
		if ok {
			s.queue.Dequeue(queued)
		}
		_ = s.queue.Enqueue(t)
		s.hooks.Scheduler.OnTaskScheduled(s.ctx, t.id, t.Priority)
		s.logger.Debug("schedule", "task", t.id, "priority", t.Priority)
		s.schedulePass(s.taskTimeout(t))
	}
	r.LayoutScheduled()
}

// =============================================================================
// Work
// =============================================================================

// work executes queued tasks in score order until the queue is empty or the
// best task has to wait longer than the per-pass budget. It returns the delay
// until the next pass.
func (s *Scheduler) work() time.Duration {
	now := s.runner.Now()
	budget := s.tuning.Scheduler.TaskBudget.D()
	timeout := time.Duration(-1)

	t, ok := s.queue.Peek(s.score)
	for ok {
		timeout = s.taskTimeout(t)
		if timeout > budget {
			break
		}
		s.queue.Dequeue(t)
		if executing, busy := s.exec.Get(t.id); busy {
			// Run again once the current attempt settles.
			task := t
			executing.future.Then(func(outcome.Outcome) { s.reschedule(task) })
		} else {
			s.execute(t, now)
		}
		t, ok = s.queue.Peek(s.score)
		timeout = -1
	}
	if timeout >= 0 {
		return timeout
	}

	// Nothing left to run: back off in proportion to how long the executor
	// has been quiet.
	st := s.tuning.Scheduler
	delay := now.Sub(s.exec.LastDequeueTime()) * 2
	return min(max(delay, st.MinIdlePassDelay.D()), st.MaxIdlePassDelay.D())
}

func (s *Scheduler) execute(t *Task, now time.Time) {
	r := t.Resource
	r.Measure()
	if !s.isLayoutAllowed(r, t.ForceOutsideViewport) {
		r.LayoutCanceled()
		return
	}
	t.started = now
	s.hooks.Scheduler.OnTaskStart(s.ctx, t.id, now.Sub(t.scheduled))
	t.future = t.callback()
	_ = s.exec.Enqueue(t)
	t.future.Then(func(o outcome.Outcome) { s.taskComplete(t, o) })
}

func (s *Scheduler) reschedule(t *Task) {
	if s.closed {
		return
	}
	if _, queued := s.queue.Get(t.id); !queued {
		_ = s.queue.Enqueue(t)
	}
}

func (s *Scheduler) taskComplete(t *Task, o outcome.Outcome) {
	if !s.exec.Dequeue(t) {
		return
	}
	took := s.runner.Now().Sub(t.started)
	s.hooks.Scheduler.OnTaskComplete(s.ctx, t.id, o.Status.String(), took)
	s.logger.Debug("task complete", "task", t.id, "status", o.Status.String(), "took", took)
	s.schedulePass(s.tuning.Scheduler.PostTaskPassDelay.D())
}

// cleanupTasks drops r's queued tasks and, with removeExecuting, its
// executing ones. A resource left LAYOUT_SCHEDULED without work is reverted.
func (s *Scheduler) cleanupTasks(r *resource.Resource, removeExecuting bool) {
	mine := func(t *Task) bool { return t.Resource == r }
	s.queue.Purge(mine)
	if removeExecuting {
		s.exec.Purge(mine)
	}
	if r.State() == resource.LayoutScheduled && !r.IsLayoutPending() {
		r.LayoutCanceled()
	}
}
