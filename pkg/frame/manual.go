package frame

import (
	"sync"
	"time"
)

// Manual is a deterministic Runner with a virtual clock.
//
// Nothing happens on its own: posted callbacks run on Flush, timers fire on
// Advance, and Settle waits for off-loop work started with Go. The goroutine
// calling these methods plays the role of the loop goroutine.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	queue  []func()
	timers []*manualTimer
	seq    uint64

	inflight sync.WaitGroup
}

// NewManual creates a manual runner whose clock starts at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the virtual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Post queues fn for the next Flush. It is safe from any goroutine.
func (m *Manual) Post(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
}

// After registers fn to fire once the virtual clock reaches now+d.
func (m *Manual) After(d time.Duration, fn func()) Timer {
	if d < 0 {
		d = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{m: m, when: m.now.Add(d), seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

// Go runs work on a goroutine; its continuation is posted when it returns.
func (m *Manual) Go(work func() error, then func(error)) {
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		err := work()
		m.Post(func() { then(err) })
	}()
}

// Flush runs queued callbacks, including ones they post, until the queue is
// empty. It returns the number of callbacks run.
func (m *Manual) Flush() int {
	n := 0
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return n
		}
		fn := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		fn()
		n++
	}
}

// Settle waits for all off-loop work and flushes until quiescent. Work that
// never returns makes Settle block forever; use Flush in that case.
func (m *Manual) Settle() {
	for {
		m.inflight.Wait()
		if m.Flush() == 0 {
			return
		}
	}
}

// Advance moves the clock forward by d, firing due timers in deadline order
// and flushing after each one.
func (m *Manual) Advance(d time.Duration) {
	m.advance(d, false)
}

// AdvanceSettled is Advance with a Settle after every fired timer, so
// off-loop work started by a timer completes before the next one fires.
func (m *Manual) AdvanceSettled(d time.Duration) {
	m.advance(d, true)
}

func (m *Manual) advance(d time.Duration, settle bool) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	m.drain(settle)
	for {
		t := m.popDue(target)
		if t == nil {
			break
		}
		t.fn()
		m.drain(settle)
	}

	m.mu.Lock()
	if target.After(m.now) {
		m.now = target
	}
	m.mu.Unlock()
}

func (m *Manual) drain(settle bool) {
	if settle {
		m.Settle()
		return
	}
	m.Flush()
}

// popDue removes and returns the earliest live timer due at or before target,
// moving the clock to its deadline.
func (m *Manual) popDue(target time.Time) *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()

	best := -1
	live := m.timers[:0]
	for _, t := range m.timers {
		if t.stopped || t.fired {
			continue
		}
		live = append(live, t)
	}
	m.timers = live

	for i, t := range m.timers {
		if t.when.After(target) {
			continue
		}
		if best == -1 || t.when.Before(m.timers[best].when) ||
			(t.when.Equal(m.timers[best].when) && t.seq < m.timers[best].seq) {
			best = i
		}
	}
	if best == -1 {
		return nil
	}
	t := m.timers[best]
	t.fired = true
	m.timers = append(m.timers[:best], m.timers[best+1:]...)
	if t.when.After(m.now) {
		m.now = t.when
	}
	return t
}

// NextDeadline returns the earliest pending timer deadline.
func (m *Manual) NextDeadline() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var next time.Time
	found := false
	for _, t := range m.timers {
		if t.stopped || t.fired {
			continue
		}
		if !found || t.when.Before(next) {
			next = t.when
			found = true
		}
	}
	return next, found
}

// PendingTimers returns the number of live timers.
func (m *Manual) PendingTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type manualTimer struct {
	m       *Manual
	when    time.Time
	seq     uint64
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}
