package scenario

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/layoutsched/pkg/scheduler"
)

func parse(t *testing.T, src string) *Scenario {
	t.Helper()
	sc, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return sc
}

func quiet() Options { return Options{Logger: log.New(io.Discard)} }

func run(t *testing.T, src string) *Report {
	t.Helper()
	rep, err := Run(context.Background(), parse(t, src), quiet())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return rep
}

func stats(t *testing.T, rep *Report, name string) ElementStats {
	t.Helper()
	st, ok := rep.Element(name)
	if !ok {
		t.Fatalf("no element %s in report", name)
	}
	return st
}

func info(snap scheduler.Snapshot, label string) (scheduler.ResourceInfo, bool) {
	for _, ri := range snap.Resources {
		if ri.Label == label {
			return ri, true
		}
	}
	return scheduler.ResourceInfo{}, false
}

const page = `
duration = "3s"

[[element]]
name = "hero"
height = 400

[[element]]
name = "spacer"
height = 5000
unmanaged = true

[[element]]
name = "far"
height = 100
`

func TestRunLaysOutNearViewport(t *testing.T) {
	rep := run(t, page)

	if st := stats(t, rep, "hero"); st.Builds != 1 || st.Layouts < 1 {
		t.Errorf("hero = %+v, want built and laid out", st)
	}
	if st := stats(t, rep, "far"); st.Layouts != 0 {
		t.Errorf("far layouts = %d, want 0", st.Layouts)
	}
	if st := stats(t, rep, "spacer"); st.Builds != 0 {
		t.Errorf("unmanaged spacer builds = %d, want 0", st.Builds)
	}
	if ri, ok := info(rep.Final, "hero"); !ok || ri.State != "LAYOUT_COMPLETE" || !ri.InViewport {
		t.Errorf("hero snapshot = %+v", ri)
	}
	if _, ok := info(rep.Final, "spacer"); ok {
		t.Error("unmanaged spacer appears in the snapshot")
	}
	if rep.Elapsed != 3*time.Second || rep.Passes == 0 {
		t.Errorf("Elapsed = %v, Passes = %d", rep.Elapsed, rep.Passes)
	}
}

func TestRunScroll(t *testing.T) {
	rep := run(t, page+`
[[event]]
at = "1s"
action = "scroll"
top = 4800
`)

	if st := stats(t, rep, "far"); st.Layouts < 1 {
		t.Errorf("far layouts after scroll = %d, want at least 1", st.Layouts)
	}
	if ri, _ := info(rep.Final, "far"); !ri.InViewport {
		t.Errorf("far snapshot = %+v, want in viewport", ri)
	}

	var found bool
	for _, e := range rep.Entries {
		if e.Kind == KindEvent && e.At == time.Second && strings.HasPrefix(e.Detail, "scroll to 4800") {
			found = true
		}
	}
	if !found {
		t.Errorf("no scroll event at 1s in timeline: %v", rep.Entries)
	}
}

func TestSimConsentUnblock(t *testing.T) {
	sc := parse(t, `
duration = "3s"

[[element]]
name = "ad"
height = 250
fail_build = "consent"

[[event]]
at = "1s"
action = "unblock"
target = "ad"
`)
	s, err := New(sc, quiet())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()
	s.Start()

	s.Advance(500 * time.Millisecond)
	ri, _ := info(s.Scheduler().Snapshot(), "ad")
	if !ri.Blocked || ri.State != "NOT_BUILT" {
		t.Errorf("ad before unblock = %+v, want blocked NOT_BUILT", ri)
	}

	s.Advance(2500 * time.Millisecond)
	if !s.Done() {
		t.Errorf("Done() = false at %v", s.Elapsed())
	}
	st := stats(t, s.Report(), "ad")
	if st.Builds != 2 || st.Layouts != 1 {
		t.Errorf("ad after unblock = %+v, want 2 builds 1 layout", st)
	}
}

func TestRunAddAndRemove(t *testing.T) {
	rep := run(t, `
duration = "3s"

[[element]]
name = "hero"
height = 400

[[element]]
name = "late"
height = 100
detached = true

[[element]]
name = "late-child"
parent = "late"
height = 50

[[event]]
at = "1s"
action = "add"
target = "late"

[[event]]
at = "2s"
action = "remove"
target = "hero"
`)

	if st := stats(t, rep, "late-child"); !st.Attached || st.Layouts < 1 {
		t.Errorf("late-child = %+v, want attached with its parent and laid out", st)
	}
	if st := stats(t, rep, "hero"); st.Attached {
		t.Error("hero still attached after remove")
	}
	if _, ok := info(rep.Final, "hero"); ok {
		t.Error("removed hero still managed")
	}
	if ri, ok := info(rep.Final, "late"); !ok || ri.State != "LAYOUT_COMPLETE" {
		t.Errorf("late snapshot = %+v", ri)
	}
}

func TestRunRecordsEventErrors(t *testing.T) {
	rep := run(t, `
duration = "3s"

[[element]]
name = "hero"
height = 400

[[event]]
at = "1s"
action = "remove"
target = "hero"

[[event]]
at = "2s"
action = "priority"
target = "hero"
priority = 1
`)

	if len(rep.Errors) != 1 || !strings.Contains(rep.Errors[0], "NOT_MANAGED") {
		t.Errorf("Errors = %v, want one NOT_MANAGED", rep.Errors)
	}
}

func TestRunSizeRequests(t *testing.T) {
	rep := run(t, `
duration = "3s"

[[element]]
name = "lead"
height = 300
unmanaged = true

[[element]]
name = "card"
height = 300

[[element]]
name = "spacer"
height = 2400
unmanaged = true

[[element]]
name = "below"
height = 100

[[element]]
name = "tail"
height = 2000
unmanaged = true

[[event]]
at = "1s"
action = "change_size"
target = "below"
height = 300

[[event]]
at = "1500ms"
action = "change_size"
target = "card"
height = 600
`)

	requests := map[string]string{}
	for _, e := range rep.Entries {
		if e.Kind == KindRequest {
			requests[e.Resource] = e.Detail
		}
	}
	if got := requests["below"]; got != "succeeded" {
		t.Errorf("below request = %q, want succeeded", got)
	}
	if got := requests["card"]; !strings.HasPrefix(got, "failed") || !strings.Contains(got, "SIZE_DENIED") {
		t.Errorf("card request = %q, want SIZE_DENIED", got)
	}
	if st := stats(t, rep, "card"); st.Overflows == 0 {
		t.Error("denied card was not told it overflowed")
	}
	if st := stats(t, rep, "below"); st.Applied != 1 {
		t.Errorf("below applied = %d, want 1", st.Applied)
	}
	if len(rep.Decisions) < 2 {
		t.Errorf("Decisions = %+v, want at least 2", rep.Decisions)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Run(ctx, parse(t, page+"[[event]]\nat = \"1s\"\naction = \"stop\"\n"), quiet()); err == nil {
		t.Error("Run() error = nil on a cancelled context")
	}
}

func TestSimInteractive(t *testing.T) {
	s, err := New(parse(t, page), quiet())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()
	s.Start()

	s.Scroll(4800)
	s.Advance(100 * time.Millisecond)
	if got := s.Document().ScrollTop(); got != 4700 {
		t.Errorf("ScrollTop() = %v, want clamped 4700", got)
	}
	if ri, _ := info(s.Scheduler().Snapshot(), "far"); ri.State != "LAYOUT_COMPLETE" {
		t.Errorf("far after interactive scroll = %+v", ri)
	}

	s.SetVisibility(scheduler.Hidden)
	s.Advance(100 * time.Millisecond)
	if got := s.Scheduler().Visibility(); got != scheduler.Hidden {
		t.Errorf("Visibility() = %v, want hidden", got)
	}
}

func TestExamples(t *testing.T) {
	paths, err := filepath.Glob("../../examples/*.toml")
	if err != nil {
		t.Fatal(err)
	}
	for _, path := range paths {
		if filepath.Base(path) == "tuning.toml" {
			continue
		}
		t.Run(filepath.Base(path), func(t *testing.T) {
			sc, err := Load(path)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			rep, err := Run(context.Background(), sc, quiet())
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if rep.Elapsed != sc.Duration.D() {
				t.Errorf("Elapsed = %v, want %v", rep.Elapsed, sc.Duration.D())
			}
			if len(rep.Errors) > 0 {
				t.Errorf("event errors: %v", rep.Errors)
			}
		})
	}
}
