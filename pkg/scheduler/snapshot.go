package scheduler

import (
	"time"

	"github.com/matzehuels/layoutsched/pkg/layout"
	"github.com/matzehuels/layoutsched/pkg/resource"
)

// Snapshot is a point-in-time view of the scheduler for inspection.
type Snapshot struct {
	ID            string         `json:"id"`
	Time          time.Time      `json:"time"`
	Visibility    string         `json:"visibility"`
	Viewport      layout.Rect    `json:"viewport"`
	ContentHeight float64        `json:"content_height"`
	Passes        int            `json:"passes"`
	BuildAttempts int            `json:"build_attempts"`
	PendingSizes  int            `json:"pending_sizes"`
	Resources     []ResourceInfo `json:"resources"`
	Queue         []TaskInfo     `json:"queue"`
	Executing     []TaskInfo     `json:"executing"`
}

// ResourceInfo describes one resource.
type ResourceInfo struct {
	ID       int         `json:"id"`
	Label    string      `json:"label"`
	ParentID int         `json:"parent_id,omitempty"`
	OwnerID  int         `json:"owner_id,omitempty"`
	State    string      `json:"state"`
	Box      layout.Rect `json:"box"`
	Priority int         `json:"priority"`

	InViewport      bool `json:"in_viewport"`
	Displayed       bool `json:"displayed"`
	Fixed           bool `json:"fixed,omitempty"`
	Owned           bool `json:"owned,omitempty"`
	Building        bool `json:"building,omitempty"`
	Blocked         bool `json:"blocked,omitempty"`
	Paused          bool `json:"paused,omitempty"`
	PendingOverflow bool `json:"pending_overflow,omitempty"`
	Layouts         int  `json:"layouts"`
}

// TaskInfo describes one queued or executing task.
type TaskInfo struct {
	ID         string  `json:"id"`
	ResourceID int     `json:"resource_id"`
	Kind       string  `json:"kind"`
	Priority   int     `json:"priority"`
	Score      float64 `json:"score"`
}

// Snapshot captures the current state.
func (s *Scheduler) Snapshot() Snapshot {
	snap := Snapshot{
		ID:            s.id,
		Time:          s.runner.Now(),
		Visibility:    s.visibility.String(),
		Viewport:      s.vp.Rect(),
		ContentHeight: s.vp.ContentHeight(),
		Passes:        s.pass.Runs(),
		BuildAttempts: s.buildAttempts,
		PendingSizes:  s.pending.Len(),
	}
	for _, r := range s.resources {
		snap.Resources = append(snap.Resources, s.resourceInfo(r))
	}
	s.queue.ForEach(func(t *Task) { snap.Queue = append(snap.Queue, s.taskInfo(t)) })
	s.exec.ForEach(func(t *Task) { snap.Executing = append(snap.Executing, s.taskInfo(t)) })
	return snap
}

func (s *Scheduler) resourceInfo(r *resource.Resource) ResourceInfo {
	_, pending := r.PendingChangeSize()
	info := ResourceInfo{
		ID:              r.ID(),
		Label:           label(r.Node()),
		State:           r.State().String(),
		Box:             r.LayoutBox(),
		Priority:        r.LayoutPriority(),
		InViewport:      r.InViewport(),
		Displayed:       r.IsDisplayed(),
		Fixed:           r.IsFixed(),
		Owned:           r.HasOwner(),
		Building:        r.IsBuilding(),
		Blocked:         r.IsBlocked(),
		Paused:          r.IsPaused(),
		PendingOverflow: pending,
		Layouts:         r.LayoutCount(),
	}
	if owner, ok := r.Owner(); ok {
		if ownerRes, managed := s.byNode[owner]; managed {
			info.OwnerID = ownerRes.ID()
		}
	}
	for p := r.Node().Parent(); p != nil; p = p.Parent() {
		if pr, ok := s.byNode[p]; ok {
			info.ParentID = pr.ID()
			break
		}
	}
	return info
}

func (s *Scheduler) taskInfo(t *Task) TaskInfo {
	return TaskInfo{
		ID:         t.id,
		ResourceID: t.Resource.ID(),
		Kind:       t.Kind.String(),
		Priority:   t.Priority,
		Score:      s.score(t),
	}
}
