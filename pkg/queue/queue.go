// Package queue implements the scheduler's task queue: a small min-priority
// queue whose ordering is decided by a scoring function supplied at peek
// time rather than fixed at insertion.
//
// Scores depend on state that changes between passes (scroll position,
// viewport size), so no heap invariant is maintained. Every operation is a
// linear scan, which is the right trade for queues of tens of tasks.
package queue

import (
	"errors"
	"fmt"
	"time"
)

// ErrAlreadyEnqueued is returned by [Queue.Enqueue] when a task with the same
// id is already queued.
var ErrAlreadyEnqueued = errors.New("task already enqueued")

// Item is anything with a stable identity.
type Item interface {
	ID() string
}

// Queue is an insertion-ordered set of tasks keyed by id.
// It is not safe for concurrent use.
type Queue[T Item] struct {
	tasks []T
	byID  map[string]T
	now   func() time.Time

	lastEnqueue time.Time
	lastDequeue time.Time
}

// New creates an empty queue that stamps enqueue and dequeue times with now.
// A nil now uses time.Now.
func New[T Item](now func() time.Time) *Queue[T] {
	if now == nil {
		now = time.Now
	}
	return &Queue[T]{byID: make(map[string]T), now: now}
}

// Len returns the number of queued tasks.
func (q *Queue[T]) Len() int { return len(q.tasks) }

// Get returns the queued task with the given id.
func (q *Queue[T]) Get(id string) (T, bool) {
	t, ok := q.byID[id]
	return t, ok
}

// LastEnqueueTime returns when a task was last enqueued.
func (q *Queue[T]) LastEnqueueTime() time.Time { return q.lastEnqueue }

// LastDequeueTime returns when a task was last dequeued.
func (q *Queue[T]) LastDequeueTime() time.Time { return q.lastDequeue }

// Enqueue appends task. It fails with ErrAlreadyEnqueued if a task with the
// same id is present.
func (q *Queue[T]) Enqueue(task T) error {
	id := task.ID()
	if _, ok := q.byID[id]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyEnqueued, id)
	}
	q.tasks = append(q.tasks, task)
	q.byID[id] = task
	q.lastEnqueue = q.now()
	return nil
}

// Dequeue removes the task with task's id and reports whether it was
// present. Successful removals update the dequeue time.
func (q *Queue[T]) Dequeue(task T) bool {
	id := task.ID()
	if _, ok := q.byID[id]; !ok {
		return false
	}
	for i := range q.tasks {
		if q.tasks[i].ID() == id {
			q.removeAt(i)
			q.lastDequeue = q.now()
			return true
		}
	}
	return false
}

// Peek returns the task with the lowest score without removing it. Ties go
// to the earliest inserted task.
func (q *Queue[T]) Peek(score func(T) float64) (T, bool) {
	var best T
	found := false
	var bestScore float64
	for _, t := range q.tasks {
		s := score(t)
		if !found || s < bestScore {
			best, bestScore, found = t, s, true
		}
	}
	return best, found
}

// ForEach calls fn for every task in insertion order.
func (q *Queue[T]) ForEach(fn func(T)) {
	for _, t := range q.tasks {
		fn(t)
	}
}

// Purge removes every task matching pred and returns how many were removed.
// Survivors keep their relative order.
func (q *Queue[T]) Purge(pred func(T) bool) int {
	n := 0
	for i := len(q.tasks) - 1; i >= 0; i-- {
		if pred(q.tasks[i]) {
			q.removeAt(i)
			n++
		}
	}
	return n
}

func (q *Queue[T]) removeAt(i int) {
	delete(q.byID, q.tasks[i].ID())
	q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
}
