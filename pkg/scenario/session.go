package scenario

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/matzehuels/layoutsched/pkg/errors"
	"github.com/matzehuels/layoutsched/pkg/frame"
	"github.com/matzehuels/layoutsched/pkg/node"
	"github.com/matzehuels/layoutsched/pkg/outcome"
	"github.com/matzehuels/layoutsched/pkg/scheduler"
)

// Session replays a scenario in real time on a live loop. Its methods may be
// called from any goroutine while Run is active.
type Session struct {
	*world
	loop   *frame.Loop
	events []Event
}

// NewSession prepares a live replay of sc.
func NewSession(sc *Scenario, opts Options) (*Session, error) {
	loop := frame.NewLoop()
	w, err := newWorld(sc, loop, opts)
	if err != nil {
		return nil, err
	}
	return &Session{world: w, loop: loop, events: sc.sortedEvents()}, nil
}

// Run starts the scheduler and the timeline and serves the loop until ctx is
// done. The scheduler is closed on return.
func (s *Session) Run(ctx context.Context) error {
	s.loop.Post(func() {
		s.sched.Start()
		for _, ev := range s.events {
			s.loop.After(ev.At.D(), func() {
				if err := s.apply(ev); err != nil {
					s.logger.Warn("event failed", "action", ev.Action, "target", ev.Target, "err", err)
					s.rec.Note(KindError, ev.Target, err.Error())
				}
			})
		}
	})
	err := s.loop.Run(ctx)
	s.sched.Close()
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Recorder returns the timeline recorder.
func (s *Session) Recorder() *Recorder { return s.rec }

// Snapshot captures the scheduler state.
func (s *Session) Snapshot(ctx context.Context) (scheduler.Snapshot, error) {
	var snap scheduler.Snapshot
	err := s.loop.Do(ctx, func() { snap = s.sched.Snapshot() })
	return snap, err
}

// Scroll scrolls the document to top.
func (s *Session) Scroll(ctx context.Context, top, velocity float64) error {
	return s.do(ctx, Event{Action: ActionScroll, Top: top, Velocity: velocity})
}

// SetVisibility changes the document visibility.
func (s *Session) SetVisibility(ctx context.Context, state string) error {
	if _, err := scheduler.ParseVisibility(state); err != nil {
		return err
	}
	return s.do(ctx, Event{Action: ActionVisibility, State: state})
}

func (s *Session) do(ctx context.Context, ev Event) error {
	var applyErr error
	if err := s.loop.Do(ctx, func() { applyErr = s.apply(ev) }); err != nil {
		return err
	}
	return applyErr
}

// ChangeSize requests a size change for the resource with the given id and
// waits up to wait for the outcome. A request still deferred after wait is
// reported with ok false.
func (s *Session) ChangeSize(ctx context.Context, id int, change node.SizeChange, force, user bool, wait time.Duration) (o outcome.Outcome, ok bool, err error) {
	var fut *outcome.Future
	var lookupErr error
	err = s.loop.Do(ctx, func() {
		for _, r := range s.sched.Resources() {
			if r.ID() != id {
				continue
			}
			if force {
				fut = s.sched.ForceChangeSize(r.Node(), change)
			} else {
				fut = s.sched.RequestChangeSize(r.Node(), change, &scheduler.Event{UserActivated: user})
			}
			return
		}
		lookupErr = errors.New(errors.ErrCodeNotManaged, "no resource %d", id)
	})
	if err != nil {
		return o, false, err
	}
	if lookupErr != nil {
		return o, false, lookupErr
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-fut.Done():
		o, ok = fut.Result()
		return o, ok, nil
	case <-timer.C:
		return o, false, nil
	case <-ctx.Done():
		return o, false, ctx.Err()
	}
}
