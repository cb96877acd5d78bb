package frame

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Loop is a goroutine-owned event loop on real time.
//
// Callbacks posted to the loop run one at a time, in posting order, on the
// goroutine that calls Run. The zero value is not usable; use NewLoop.
type Loop struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
}

// NewLoop creates a loop. Nothing runs until Run is called.
func NewLoop() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Now returns the wall clock.
func (l *Loop) Now() time.Time { return time.Now() }

// Post queues fn. It is safe from any goroutine.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Do runs fn on the loop and waits for it to return. It must not be called
// from the loop goroutine.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// After runs fn on the loop once d has elapsed.
func (l *Loop) After(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped.Load() {
				return
			}
			t.ran.Store(true)
			fn()
		})
	})
	return t
}

// Go runs work on a new goroutine and posts then(err) to the loop.
func (l *Loop) Go(work func() error, then func(error)) {
	go func() {
		err := work()
		l.Post(func() { then(err) })
	}()
}

// Run executes posted callbacks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		if len(batch) == 0 {
			select {
			case <-l.wake:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		for _, fn := range batch {
			fn()
		}
	}
}

type loopTimer struct {
	timer   *time.Timer
	stopped atomic.Bool
	ran     atomic.Bool
}

func (t *loopTimer) Stop() bool {
	if t.stopped.Swap(true) {
		return false
	}
	t.timer.Stop()
	return !t.ran.Load()
}
