// Package outcome models the result of asynchronous scheduler work as a
// tagged value instead of a shared "aborted" flag.
//
// A Future is assigned exactly once. Whoever resolves it first wins and every
// later Resolve is ignored, which is what makes a layout that finishes after
// its own cancellation unable to report success.
package outcome

import (
	"fmt"
	"sync"

	"github.com/matzehuels/layoutsched/pkg/errors"
)

// Status tags an Outcome.
type Status int

const (
	// Succeeded means the work completed.
	Succeeded Status = iota + 1
	// Failed means the work ran and failed; Err holds the reason.
	Failed
	// Cancelled means the work was aborted before it could complete.
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is the final result of a Future.
type Outcome struct {
	Status Status
	Err    error
}

// Success returns a Succeeded outcome.
func Success() Outcome { return Outcome{Status: Succeeded} }

// Failure returns a Failed outcome carrying err.
func Failure(err error) Outcome { return Outcome{Status: Failed, Err: err} }

// Cancellation returns a Cancelled outcome carrying a cancellation error.
func Cancellation(reason string) Outcome {
	return Outcome{Status: Cancelled, Err: errors.Cancelled("%s", reason)}
}

// FromError maps a plain error onto an outcome: nil succeeds, cancellation
// errors cancel, anything else fails.
func FromError(err error) Outcome {
	switch {
	case err == nil:
		return Success()
	case errors.IsCancellation(err):
		return Outcome{Status: Cancelled, Err: err}
	default:
		return Failure(err)
	}
}

// OK reports whether the outcome succeeded.
func (o Outcome) OK() bool { return o.Status == Succeeded }

func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("%s: %v", o.Status, o.Err)
	}
	return o.Status.String()
}

// Future is a single-assignment outcome with completion callbacks.
// Callbacks run synchronously on the goroutine that resolves the future, so
// scheduler code resolves futures on its loop goroutine only. Done and
// Result are safe from any goroutine.
type Future struct {
	mu        sync.Mutex
	resolved  bool
	outcome   Outcome
	callbacks []func(Outcome)
	done      chan struct{}
}

// New returns an unresolved future.
func New() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved returns a future that has already completed with o.
func Resolved(o Outcome) *Future {
	f := New()
	f.Resolve(o)
	return f
}

// Resolve completes the future. It reports false if the future was already
// resolved, in which case o is discarded.
func (f *Future) Resolve(o Outcome) bool {
	f.mu.Lock()
	if f.resolved {
		f.mu.Unlock()
		return false
	}
	f.resolved = true
	f.outcome = o
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(o)
	}
	return true
}

// Then registers cb to run once the future resolves. If it already has, cb
// runs immediately.
func (f *Future) Then(cb func(Outcome)) {
	f.mu.Lock()
	if !f.resolved {
		f.callbacks = append(f.callbacks, cb)
		f.mu.Unlock()
		return
	}
	o := f.outcome
	f.mu.Unlock()
	cb(o)
}

// Done is closed when the future resolves.
func (f *Future) Done() <-chan struct{} { return f.done }

// Result returns the outcome and whether the future has resolved.
func (f *Future) Result() (Outcome, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcome, f.resolved
}
