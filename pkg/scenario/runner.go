package scenario

import (
	"context"
	"time"

	"github.com/matzehuels/layoutsched/pkg/frame"
	"github.com/matzehuels/layoutsched/pkg/scheduler"
	"github.com/matzehuels/layoutsched/pkg/sim"
)

// Epoch is the virtual time a deterministic simulation starts at.
var Epoch = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

// frameVelocityWindow converts an interactive scroll step into a velocity.
const frameVelocityWindow = 16.0

// Sim runs a scenario on a virtual clock. Everything is deterministic:
// builds and layouts of simulated elements complete before the clock moves
// on, and events fire at their exact times.
type Sim struct {
	*world
	runner *frame.Manual
	events []Event
	next   int
	errs   []error
}

// New prepares a simulation. Call Start before advancing it.
func New(sc *Scenario, opts Options) (*Sim, error) {
	runner := frame.NewManual(Epoch)
	w, err := newWorld(sc, runner, opts)
	if err != nil {
		return nil, err
	}
	return &Sim{world: w, runner: runner, events: sc.sortedEvents()}, nil
}

// Start starts the scheduler and runs everything due at time zero.
func (s *Sim) Start() {
	s.sched.Start()
	s.advanceTo(context.Background(), 0)
}

// Scheduler returns the simulated scheduler.
func (s *Sim) Scheduler() *scheduler.Scheduler { return s.sched }

// Document returns the simulated document.
func (s *Sim) Document() *sim.Document { return s.doc }

// Recorder returns the timeline recorder.
func (s *Sim) Recorder() *Recorder { return s.rec }

// Elapsed returns the virtual time since the start.
func (s *Sim) Elapsed() time.Duration { return s.runner.Now().Sub(Epoch) }

// Duration returns the scenario length.
func (s *Sim) Duration() time.Duration { return s.sc.Duration.D() }

// Done reports whether the scenario has run its full length.
func (s *Sim) Done() bool { return s.Elapsed() >= s.Duration() }

// Errors returns the events that could not be applied.
func (s *Sim) Errors() []error { return s.errs }

// Advance moves the simulation forward by d.
func (s *Sim) Advance(d time.Duration) {
	s.advanceTo(context.Background(), s.Elapsed()+d)
}

// Scroll scrolls the document by delta pixels outside the scripted timeline.
func (s *Sim) Scroll(delta float64) {
	s.apply(Event{
		Action:   ActionScroll,
		Top:      s.doc.ScrollTop() + delta,
		Velocity: delta / frameVelocityWindow,
	})
	s.runner.Settle()
}

// SetVisibility changes the document visibility outside the scripted
// timeline.
func (s *Sim) SetVisibility(v scheduler.Visibility) {
	s.sched.SetVisibility(v)
	s.runner.Settle()
}

func (s *Sim) advanceTo(ctx context.Context, target time.Duration) error {
	for s.next < len(s.events) && s.events[s.next].At.D() <= target {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev := s.events[s.next]
		s.next++
		s.runner.AdvanceSettled(max(ev.At.D()-s.Elapsed(), 0))
		if err := s.apply(ev); err != nil {
			s.logger.Warn("event failed", "at", ev.At.D(), "action", ev.Action, "target", ev.Target, "err", err)
			s.rec.Note(KindError, ev.Target, err.Error())
			s.errs = append(s.errs, err)
		}
		s.runner.Settle()
	}
	s.runner.AdvanceSettled(max(target-s.Elapsed(), 0))
	return ctx.Err()
}

// Close stops the scheduler.
func (s *Sim) Close() {
	s.sched.Close()
	s.runner.Settle()
}

// Report summarizes the simulation so far.
func (s *Sim) Report() *Report {
	rep := &Report{
		Scenario:  s.sc.Name,
		Elapsed:   s.Elapsed(),
		Passes:    s.rec.Passes(),
		Entries:   s.rec.Entries(),
		Decisions: s.rec.Decisions(),
		Final:     s.sched.Snapshot(),
	}
	for _, decl := range s.sc.Elements {
		st := s.elems[decl.Name].Stats()
		rep.Elements = append(rep.Elements, ElementStats{
			Name:      decl.Name,
			Attached:  s.attached[decl.Name],
			Builds:    st.Builds,
			Layouts:   st.Layouts,
			Unlayouts: st.Unlayouts,
			Pauses:    st.Pauses,
			Resumes:   st.Resumes,
			Applied:   st.Applied,
			Overflows: st.Overflows,
		})
	}
	for _, err := range s.errs {
		rep.Errors = append(rep.Errors, err.Error())
	}
	return rep
}

// Report is the result of a simulation.
type Report struct {
	Scenario  string             `json:"scenario"`
	Elapsed   time.Duration      `json:"elapsed"`
	Passes    int                `json:"passes"`
	Entries   []Entry            `json:"entries"`
	Decisions []Decision         `json:"decisions"`
	Elements  []ElementStats     `json:"elements"`
	Errors    []string           `json:"errors,omitempty"`
	Final     scheduler.Snapshot `json:"final"`
}

// ElementStats counts the hooks invoked on one element.
type ElementStats struct {
	Name      string `json:"name"`
	Attached  bool   `json:"attached"`
	Builds    int    `json:"builds"`
	Layouts   int    `json:"layouts"`
	Unlayouts int    `json:"unlayouts"`
	Pauses    int    `json:"pauses"`
	Resumes   int    `json:"resumes"`
	Applied   int    `json:"applied"`
	Overflows int    `json:"overflows"`
}

// Element returns the stats of the named element.
func (r *Report) Element(name string) (ElementStats, bool) {
	for _, e := range r.Elements {
		if e.Name == name {
			return e, true
		}
	}
	return ElementStats{}, false
}

// Run simulates sc for its full duration.
func Run(ctx context.Context, sc *Scenario, opts Options) (*Report, error) {
	s, err := New(sc, opts)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	s.Start()
	if err := s.advanceTo(ctx, s.Duration()); err != nil {
		return nil, err
	}
	return s.Report(), nil
}
