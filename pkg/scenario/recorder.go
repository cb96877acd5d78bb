package scenario

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/matzehuels/layoutsched/pkg/observability"
)

// Entry kinds.
const (
	KindEvent    = "event"
	KindState    = "state"
	KindBuild    = "build"
	KindSchedule = "schedule"
	KindStart    = "start"
	KindComplete = "complete"
	KindDecision = "decision"
	KindRequest  = "request"
	KindError    = "error"
)

// Entry is one line of a scenario timeline.
type Entry struct {
	At       time.Duration `json:"at"`
	Kind     string        `json:"kind"`
	Resource string        `json:"resource,omitempty"`
	Detail   string        `json:"detail"`
}

func (e Entry) String() string {
	if e.Resource == "" {
		return fmt.Sprintf("%8s %-9s %s", e.At, e.Kind, e.Detail)
	}
	return fmt.Sprintf("%8s %-9s %s: %s", e.At, e.Kind, e.Resource, e.Detail)
}

// Decision is a size negotiation outcome.
type Decision struct {
	At       time.Duration `json:"at"`
	Resource string        `json:"resource"`
	Rule     string        `json:"rule"`
	Action   string        `json:"action"`
}

// Recorder collects scheduler hook events into a timeline. It implements
// every hook interface and is safe for concurrent use.
type Recorder struct {
	mu        sync.Mutex
	now       func() time.Time
	start     time.Time
	limit     int
	names     map[int]string
	entries   []Entry
	decisions []Decision
	passes    int
	dropped   int
}

// NewRecorder creates a recorder timing entries from now(). A positive limit
// keeps only the most recent entries.
func NewRecorder(now func() time.Time, limit int) *Recorder {
	return &Recorder{
		now:   now,
		start: now(),
		limit: limit,
		names: make(map[int]string),
	}
}

// Hooks returns a bundle routing every category to r.
func (r *Recorder) Hooks() observability.Hooks {
	return observability.Hooks{Scheduler: r, Negotiation: r, Resource: r}
}

// Name labels resource id in the timeline.
func (r *Recorder) Name(id int, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[id] = name
}

// Note appends a free-form entry.
func (r *Recorder) Note(kind, resource, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(kind, resource, detail)
}

// Entries returns a copy of the timeline.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Decisions returns a copy of the negotiation decisions.
func (r *Recorder) Decisions() []Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Decision(nil), r.decisions...)
}

// Passes returns the number of scheduler passes seen.
func (r *Recorder) Passes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.passes
}

// Dropped returns how many entries fell off a bounded timeline.
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func (r *Recorder) elapsed() time.Duration { return r.now().Sub(r.start) }

func (r *Recorder) add(kind, resource, detail string) {
	r.entries = append(r.entries, Entry{At: r.elapsed(), Kind: kind, Resource: resource, Detail: detail})
	if r.limit > 0 && len(r.entries) > r.limit {
		n := len(r.entries) - r.limit
		r.entries = append(r.entries[:0], r.entries[n:]...)
		r.dropped += n
	}
}

func (r *Recorder) name(id int) string {
	if n, ok := r.names[id]; ok {
		return n
	}
	return "#" + strconv.Itoa(id)
}

// taskName turns "3#L" into "<name of 3> layout".
func (r *Recorder) taskName(taskID string) string {
	rid, kind, _ := strings.Cut(taskID, "#")
	id, err := strconv.Atoi(rid)
	if err != nil {
		return taskID
	}
	switch kind {
	case "L":
		return r.name(id) + " layout"
	case "P":
		return r.name(id) + " preload"
	}
	return r.name(id)
}

// OnPass implements [observability.SchedulerHooks].
func (r *Recorder) OnPass(context.Context, observability.PassInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.passes++
}

// OnTaskScheduled implements [observability.SchedulerHooks].
func (r *Recorder) OnTaskScheduled(_ context.Context, taskID string, priority int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(KindSchedule, r.taskName(taskID), fmt.Sprintf("priority %d", priority))
}

// OnTaskStart implements [observability.SchedulerHooks].
func (r *Recorder) OnTaskStart(_ context.Context, taskID string, waited time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(KindStart, r.taskName(taskID), "waited "+waited.String())
}

// OnTaskComplete implements [observability.SchedulerHooks].
func (r *Recorder) OnTaskComplete(_ context.Context, taskID string, status string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(KindComplete, r.taskName(taskID), status+" in "+d.String())
}

// OnDecision implements [observability.NegotiationHooks].
func (r *Recorder) OnDecision(_ context.Context, resourceID int, rule, action string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := r.name(resourceID)
	r.decisions = append(r.decisions, Decision{At: r.elapsed(), Resource: name, Rule: rule, Action: action})
	r.add(KindDecision, name, rule+" -> "+action)
}

// OnStateChange implements [observability.ResourceHooks].
func (r *Recorder) OnStateChange(_ context.Context, resourceID int, from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(KindState, r.name(resourceID), from+" -> "+to)
}

// OnBuild implements [observability.ResourceHooks].
func (r *Recorder) OnBuild(_ context.Context, resourceID int, d time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	detail := "ok in " + d.String()
	if err != nil {
		detail = "failed: " + err.Error()
	}
	r.add(KindBuild, r.name(resourceID), detail)
}
