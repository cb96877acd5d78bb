package scheduler

import (
	"fmt"
	"strings"
)

// Visibility is the document's visibility state.
type Visibility int

const (
	// Prerender: the document is loaded but not shown yet.
	Prerender Visibility = iota + 1
	// Preview: the document is shown in a preview surface.
	Preview
	// Visible: the document is shown to the reader.
	Visible
	// Hidden: the document is in a background tab.
	Hidden
	// Inactive: the document was navigated away from and should release
	// everything.
	Inactive
	// Paused: the document is kept but should stop activity.
	Paused
)

var visibilityNames = map[Visibility]string{
	Prerender: "prerender",
	Preview:   "preview",
	Visible:   "visible",
	Hidden:    "hidden",
	Inactive:  "inactive",
	Paused:    "paused",
}

func (v Visibility) String() string {
	if n, ok := visibilityNames[v]; ok {
		return n
	}
	return fmt.Sprintf("visibility(%d)", int(v))
}

// ParseVisibility parses a visibility name.
func ParseVisibility(s string) (Visibility, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for v, n := range visibilityNames {
		if n == s {
			return v, nil
		}
	}
	return 0, fmt.Errorf("unknown visibility %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (v Visibility) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Visibility) UnmarshalText(text []byte) error {
	parsed, err := ParseVisibility(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v Visibility) prerendering() bool { return v == Prerender || v == Preview }

func (v Visibility) shown() bool { return v == Visible || v == Hidden }

func (v Visibility) suspended() bool { return v == Inactive || v == Paused }

// transition runs the work a visibility change implies. It is applied once
// per pass with the visibility the previous pass saw, so steady states
// repeat their own handler (visible→visible does work, inactive→inactive
// does nothing).
func (s *Scheduler) transition(from, to Visibility) {
	switch {
	case from.prerendering() && to != Paused:
		s.doWork()
	case from.shown() && to.shown():
		s.doWork()
	case from.shown() && to == Inactive, from == Paused && to == Inactive:
		s.unloadAll()
	case from.shown() && to == Paused:
		s.pauseAll()
	case from.suspended() && to.shown():
		s.resumeAll()
		if to == Visible {
			s.doWork()
		}
	}
}

func (s *Scheduler) unloadAll() {
	for _, r := range s.resources {
		r.Unload()
		s.cleanupTasks(r, true)
	}
}

func (s *Scheduler) pauseAll() {
	for _, r := range s.resources {
		r.Pause()
	}
}

func (s *Scheduler) resumeAll() {
	for _, r := range s.resources {
		r.Resume()
	}
}
