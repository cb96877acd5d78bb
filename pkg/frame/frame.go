// Package frame provides the cooperative execution model the scheduler runs
// on: a single logical thread of control that owns all scheduler state, with
// timers and off-thread work whose continuations are posted back onto it.
//
// Two implementations are provided:
//   - [Loop] owns a goroutine and real time; use it in long-running hosts.
//   - [Manual] is driven explicitly with a virtual clock; use it in tests and
//     deterministic simulations.
//
// [Pass] sits on top of either and implements the reschedulable single pass
// the scheduler's work loop is built on.
package frame

import "time"

// Runner is the execution environment handed to the scheduler.
type Runner interface {
	// Now returns the current time on the runner's clock.
	Now() time.Time

	// Post queues fn to run on the loop goroutine.
	Post(fn func())

	// After runs fn on the loop goroutine once d has elapsed.
	After(d time.Duration, fn func()) Timer

	// Go runs work off the loop goroutine and posts then(err) back onto it.
	Go(work func() error, then func(error))
}

// Timer is a cancellable pending callback.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call
	// stopped the timer; false means it already fired or was stopped.
	Stop() bool
}
