// Package history records which nodes were focused recently.
//
// The size negotiation lets a node resize immediately when the reader has
// just interacted with it or with something inside it. History keeps a small
// time-windowed log of focus events for that check.
package history

import (
	"time"

	"github.com/matzehuels/layoutsched/pkg/node"
)

// Entry is one focus event.
type Entry struct {
	Node node.Node
	Time time.Time
}

// History is a time-windowed focus log. It is not safe for concurrent use.
type History struct {
	window  time.Duration
	now     func() time.Time
	entries []Entry
}

// New creates a history that forgets entries older than window.
func New(window time.Duration, now func() time.Time) *History {
	if now == nil {
		now = time.Now
	}
	return &History{window: window, now: now}
}

// Push records that n was focused now. Refocusing the most recent node only
// refreshes its timestamp.
func (h *History) Push(n node.Node) {
	t := h.now()
	if last := len(h.entries) - 1; last >= 0 && h.entries[last].Node == n {
		h.entries[last].Time = t
	} else {
		h.entries = append(h.entries, Entry{Node: n, Time: t})
	}
	h.PurgeBefore(t.Add(-h.window))
}

// PurgeBefore drops every entry recorded before t.
func (h *History) PurgeBefore(t time.Time) {
	keep := len(h.entries)
	for i, e := range h.entries {
		if !e.Time.Before(t) {
			keep = i
			break
		}
	}
	h.entries = append(h.entries[:0], h.entries[keep:]...)
}

// Len returns the number of retained entries.
func (h *History) Len() int { return len(h.entries) }

// Last returns the most recent entry.
func (h *History) Last() (Entry, bool) {
	if len(h.entries) == 0 {
		return Entry{}, false
	}
	return h.entries[len(h.entries)-1], true
}

// HasDescendantsOf reports whether n, or any node inside n, was focused
// within the window.
func (h *History) HasDescendantsOf(n node.Node) bool {
	h.PurgeBefore(h.now().Add(-h.window))
	for _, e := range h.entries {
		for cur := e.Node; cur != nil; cur = cur.Parent() {
			if cur == n {
				return true
			}
		}
	}
	return false
}

// Forget drops every entry for n.
func (h *History) Forget(n node.Node) {
	out := h.entries[:0]
	for _, e := range h.entries {
		if e.Node != n {
			out = append(out, e)
		}
	}
	h.entries = out
}
