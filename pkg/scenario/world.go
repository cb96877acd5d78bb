package scenario

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/layoutsched/pkg/config"
	"github.com/matzehuels/layoutsched/pkg/errors"
	"github.com/matzehuels/layoutsched/pkg/frame"
	"github.com/matzehuels/layoutsched/pkg/layout"
	"github.com/matzehuels/layoutsched/pkg/outcome"
	"github.com/matzehuels/layoutsched/pkg/scheduler"
	"github.com/matzehuels/layoutsched/pkg/sim"
)

// Options configures a simulation.
type Options struct {
	// Tuning overrides the default scheduler constants.
	Tuning *config.Tuning

	// Logger receives scheduler logs. Defaults to log.Default().
	Logger *log.Logger

	// HistoryLimit bounds the recorded timeline; zero keeps everything.
	HistoryLimit int

	// Context is the parent of the scheduler's context.
	Context context.Context
}

// world is a scenario's document, elements and scheduler, shared by the
// deterministic and the live runner. It is only touched on the loop.
type world struct {
	sc       *Scenario
	doc      *sim.Document
	sched    *scheduler.Scheduler
	rec      *Recorder
	logger   *log.Logger
	decls    map[string]*Element
	elems    map[string]*sim.Element
	attached map[string]bool
}

func newWorld(sc *Scenario, runner frame.Runner, opts Options) (*world, error) {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	vis, err := scheduler.ParseVisibility(sc.Visibility)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidScenario, err, "scenario %s", sc.Name)
	}

	doc := sim.NewDocument(sc.Viewport.Width, sc.Viewport.Height)
	doc.SetFixedSupported(!sc.Viewport.NoFixed)

	rec := NewRecorder(runner.Now, opts.HistoryLimit)
	w := &world{
		sc:       sc,
		doc:      doc,
		rec:      rec,
		logger:   opts.Logger,
		decls:    make(map[string]*Element, len(sc.Elements)),
		elems:    make(map[string]*sim.Element, len(sc.Elements)),
		attached: make(map[string]bool, len(sc.Elements)),
	}
	for i := range sc.Elements {
		decl := &sc.Elements[i]
		e, err := newElement(decl)
		if err != nil {
			return nil, err
		}
		w.decls[decl.Name] = decl
		w.elems[decl.Name] = e
	}

	w.sched = scheduler.New(doc, runner, scheduler.Options{
		Tuning:     opts.Tuning,
		Logger:     opts.Logger,
		Hooks:      rec.Hooks(),
		Visibility: vis,
		Context:    opts.Context,
	})
	for _, decl := range sc.Elements {
		// Children are attached with their parent.
		if decl.Detached || decl.Parent != "" {
			continue
		}
		if err := w.attach(decl.Name); err != nil {
			w.sched.Close()
			return nil, err
		}
	}
	return w, nil
}

// Name returns the scenario name.
func (w *world) Name() string { return w.sc.Name }

func newElement(decl *Element) (*sim.Element, error) {
	caps, err := decl.Capabilities()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidScenario, err, "element %s", decl.Name)
	}
	e := sim.NewElement(decl.Name, decl.Height)
	e.SetCapabilities(caps)
	if decl.Width > 0 {
		e.SetWidth(decl.Width)
	}
	e.SetMargins(layout.Margins(decl.Margins))
	e.SetRow(decl.Row)
	e.SetHidden(decl.Hidden)
	if decl.Fixed != nil {
		e.SetFixed(*decl.Fixed)
	}
	switch decl.FailBuild {
	case "error":
		e.FailBuild(fmt.Errorf("simulated build failure of %s", decl.Name))
	case "consent":
		e.FailBuild(errors.New(errors.ErrCodeConsentBlocked, "%s waits for consent", decl.Name))
	}
	if decl.FailLayout != "" {
		e.FailLayout(fmt.Errorf("%s", decl.FailLayout))
	}
	e.KeepContent(decl.KeepContent)
	return e, nil
}

// attach inserts an element and its non-detached descendants into the
// document and starts managing them.
func (w *world) attach(name string) error {
	decl := w.decls[name]
	if w.attached[name] {
		return errors.New(errors.ErrCodeInvalidScenario, "element %s is already attached", name)
	}
	var parent *sim.Element
	if decl.Parent != "" {
		if !w.attached[decl.Parent] {
			return errors.New(errors.ErrCodeInvalidScenario, "element %s: parent %s is not attached", name, decl.Parent)
		}
		parent = w.elems[decl.Parent]
	}
	e := w.elems[name]
	w.doc.Append(parent, e)
	w.attached[name] = true

	if !decl.Unmanaged {
		r, err := w.sched.Add(e)
		if err != nil {
			return err
		}
		w.rec.Name(r.ID(), name)
	}
	if decl.Owner != "" {
		if err := w.sched.SetOwner(e, w.elems[decl.Owner]); err != nil {
			return err
		}
	}

	for _, child := range w.sc.Elements {
		if child.Parent == name && !child.Detached {
			if err := w.attach(child.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

// detach removes an element's subtree from the document and the scheduler.
func (w *world) detach(name string) error {
	if !w.attached[name] {
		return errors.New(errors.ErrCodeInvalidScenario, "element %s is not attached", name)
	}
	if err := w.unmanage(name); err != nil {
		return err
	}
	w.doc.Remove(w.elems[name])
	return nil
}

func (w *world) unmanage(name string) error {
	for _, child := range w.sc.Elements {
		if child.Parent == name && w.attached[child.Name] {
			if err := w.unmanage(child.Name); err != nil {
				return err
			}
		}
	}
	if e := w.elems[name]; w.sched.IsManaged(e) {
		if err := w.sched.Remove(e); err != nil {
			return err
		}
	}
	w.attached[name] = false
	return nil
}

// apply runs one timeline event.
func (w *world) apply(ev Event) error {
	e := w.elems[ev.Target]
	w.rec.Note(KindEvent, ev.Target, describe(ev))

	switch ev.Action {
	case ActionScroll:
		w.doc.ScrollTo(ev.Top, ev.Velocity)
		w.sched.Scrolled()
		w.sched.ViewportChanged(false)
	case ActionStopScrolling:
		w.doc.StopScrolling()
		w.sched.ViewportChanged(false)
	case ActionResize:
		vp := w.doc.Rect()
		width, height := vp.Width, vp.Height
		if ev.Width != nil {
			width = *ev.Width
		}
		if ev.Height != nil {
			height = *ev.Height
		}
		w.doc.Resize(width, height)
		w.sched.ViewportChanged(true)
	case ActionVisibility:
		v, err := scheduler.ParseVisibility(ev.State)
		if err != nil {
			return errors.Wrap(errors.ErrCodeInvalidScenario, err, "visibility event")
		}
		w.sched.SetVisibility(v)
	case ActionChangeSize, ActionForceChangeSize:
		var fut *outcome.Future
		if ev.Action == ActionForceChangeSize {
			fut = w.sched.ForceChangeSize(e, ev.SizeChange())
		} else {
			fut = w.sched.RequestChangeSize(e, ev.SizeChange(), &scheduler.Event{UserActivated: ev.User})
		}
		target := ev.Target
		fut.Then(func(o outcome.Outcome) {
			w.rec.Note(KindRequest, target, o.String())
		})
	case ActionFocus:
		w.sched.Focus(e)
	case ActionAdd, ActionRemove:
		var err error
		if ev.Action == ActionAdd {
			err = w.attach(ev.Target)
		} else {
			err = w.detach(ev.Target)
		}
		// Siblings after the target moved.
		w.sched.ViewportChanged(true)
		return err
	case ActionUnblock:
		e.FailBuild(nil)
		return w.sched.Unblock(e)
	case ActionPriority:
		return w.sched.UpdateLayoutPriority(e, ev.Priority)
	case ActionHide, ActionShow:
		e.SetHidden(ev.Action == ActionHide)
		w.sched.ViewportChanged(true)
	default:
		return errors.New(errors.ErrCodeInvalidScenario, "unknown action %q", ev.Action)
	}
	return nil
}

func describe(ev Event) string {
	switch ev.Action {
	case ActionScroll:
		return fmt.Sprintf("scroll to %g at %g px/ms", ev.Top, ev.Velocity)
	case ActionResize:
		return fmt.Sprintf("resize %s x %s", optional(ev.Width), optional(ev.Height))
	case ActionVisibility:
		return "visibility " + ev.State
	case ActionChangeSize, ActionForceChangeSize:
		s := fmt.Sprintf("%s height %s width %s", ev.Action, optional(ev.Height), optional(ev.Width))
		if ev.User {
			s += " (user)"
		}
		return s
	case ActionPriority:
		return fmt.Sprintf("priority %d", ev.Priority)
	}
	return ev.Action
}

func optional(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%g", *v)
}
