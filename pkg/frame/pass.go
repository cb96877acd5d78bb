package frame

import "time"

const (
	// minRunningDelay is the shortest delay accepted while the pass handler
	// itself is running, so a pass cannot reschedule itself for "now".
	minRunningDelay = 10 * time.Millisecond

	// rescheduleSlack is how much sooner a new request has to be before an
	// already pending pass is moved.
	rescheduleSlack = 10 * time.Millisecond
)

// Pass is a single reschedulable callback: at most one run is pending at a
// time and a request only moves it if it is meaningfully sooner.
// It must be used from the loop goroutine.
type Pass struct {
	runner  Runner
	handler func()

	timer    Timer
	nextTime time.Time
	running  bool
	runs     int
}

// NewPass creates a pass that calls handler on r's loop.
func NewPass(r Runner, handler func()) *Pass {
	return &Pass{runner: r, handler: handler}
}

// Schedule requests a run after delay. It reports whether a new run was
// scheduled; false means an earlier or equivalent run is already pending.
func (p *Pass) Schedule(delay time.Duration) bool {
	if delay < 0 {
		delay = 0
	}
	if p.running && delay < minRunningDelay {
		delay = minRunningDelay
	}
	next := p.runner.Now().Add(delay)
	if p.IsPending() && next.Sub(p.nextTime) >= -rescheduleSlack {
		return false
	}
	p.Cancel()
	p.nextTime = next
	p.timer = p.runner.After(delay, p.run)
	return true
}

// IsPending reports whether a run is scheduled.
func (p *Pass) IsPending() bool { return p.timer != nil }

// NextTime returns the deadline of the pending run.
func (p *Pass) NextTime() (time.Time, bool) { return p.nextTime, p.timer != nil }

// IsRunning reports whether the handler is currently executing.
func (p *Pass) IsRunning() bool { return p.running }

// Runs returns how many times the handler has run.
func (p *Pass) Runs() int { return p.runs }

// Cancel drops the pending run, if any.
func (p *Pass) Cancel() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.nextTime = time.Time{}
}

func (p *Pass) run() {
	p.timer = nil
	p.nextTime = time.Time{}
	p.running = true
	p.runs++
	defer func() { p.running = false }()
	p.handler()
}
