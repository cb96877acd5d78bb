package scheduler

import (
	"fmt"
	"math"
	"time"

	"github.com/matzehuels/layoutsched/pkg/outcome"
	"github.com/matzehuels/layoutsched/pkg/resource"
	"github.com/matzehuels/layoutsched/pkg/viewport"
)

// Kind is the kind of work a task performs.
type Kind int

const (
	// KindLayout lays out a resource near the viewport.
	KindLayout Kind = iota
	// KindPreload lays out a resource ahead of need, at lower priority.
	KindPreload
)

func (k Kind) String() string {
	if k == KindPreload {
		return "preload"
	}
	return "layout"
}

func (k Kind) letter() string {
	if k == KindPreload {
		return "P"
	}
	return "L"
}

// offset is added to the resource priority.
func (k Kind) offset() int {
	if k == KindPreload {
		return 2
	}
	return 0
}

// priorityBase weighs priority against viewport distance in task scores.
const priorityBase = 10

// Task is one unit of scheduled layout work.
type Task struct {
	id       string
	Resource *resource.Resource
	Kind     Kind
	Priority int

	// ForceOutsideViewport bypasses the viewport distance check.
	ForceOutsideViewport bool

	callback  func() *outcome.Future
	scheduled time.Time
	started   time.Time
	future    *outcome.Future
}

// TaskID returns the id a task of kind k for resource id would have.
func TaskID(resourceID int, k Kind) string {
	return fmt.Sprintf("%d#%s", resourceID, k.letter())
}

// ID implements queue.Item.
func (t *Task) ID() string { return t.id }

// Scheduled returns when the task was enqueued.
func (t *Task) Scheduled() time.Time { return t.scheduled }

// Started returns when the task began executing.
func (t *Task) Started() time.Time { return t.started }

// score orders the queue: lower runs first. Tasks are ranked by priority,
// then by how many viewports away their node is, with nodes behind the
// scroll direction counted double.
func (s *Scheduler) score(t *Task) float64 {
	vp := s.vp.Rect()
	pos := t.Resource.LayoutBox().ViewportsFrom(vp)
	if sign(pos) != viewport.ScrollDirection(s.vp.Velocity()) {
		pos *= 2
	}
	return float64(t.Priority*priorityBase) + math.Abs(pos)
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// taskTimeout is how long t should wait before it may execute. Before the
// document was ever visible nothing waits. With nothing executing, a task
// waits its priority penalty measured from the first visible time. Otherwise
// it waits until every executing task of better priority had a head start
// proportional to the priority difference.
func (s *Scheduler) taskTimeout(t *Task) time.Duration {
	now := s.runner.Now()
	penalty := s.tuning.Scheduler.PriorityPenalty.D()
	if s.exec.Len() == 0 {
		if s.firstVisible.IsZero() {
			return 0
		}
		d := time.Duration(t.Priority)*penalty - now.Sub(s.firstVisible)
		return max(d, 0)
	}
	var timeout time.Duration
	s.exec.ForEach(func(other *Task) {
		head := time.Duration(max(t.Priority-other.Priority, 0)) * penalty
		timeout = max(timeout, head-now.Sub(other.started))
	})
	return timeout
}
