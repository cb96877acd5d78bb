package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matzehuels/layoutsched/pkg/errors"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	d := Default()
	if d.Scheduler.BuildQuota != 20 {
		t.Errorf("BuildQuota = %d, want 20", d.Scheduler.BuildQuota)
	}
	if d.Scheduler.TaskBudget.D() != 16*time.Millisecond {
		t.Errorf("TaskBudget = %v, want 16ms", d.Scheduler.TaskBudget.D())
	}
	if d.Focus.Window.D() != time.Minute {
		t.Errorf("Focus.Window = %v, want 1m", d.Focus.Window.D())
	}
}

func TestParseOverlaysDefaults(t *testing.T) {
	doc := `
[scheduler]
build_quota = 40
idle_threshold = "2s"

[negotiation]
viewport_buffer = 0.2
`
	got, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got.Scheduler.BuildQuota != 40 {
		t.Errorf("BuildQuota = %d, want 40", got.Scheduler.BuildQuota)
	}
	if got.Scheduler.IdleThreshold.D() != 2*time.Second {
		t.Errorf("IdleThreshold = %v, want 2s", got.Scheduler.IdleThreshold.D())
	}
	if got.Negotiation.ViewportBuffer != 0.2 {
		t.Errorf("ViewportBuffer = %g, want 0.2", got.Negotiation.ViewportBuffer)
	}
	if got.Scheduler.IdleLayouts != 4 {
		t.Errorf("unset IdleLayouts = %d, want default 4", got.Scheduler.IdleLayouts)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantSub string
	}{
		{"syntax", "[scheduler\n", "decode tuning"},
		{"unknown key", "[scheduler]\nbogus = 1\n", "scheduler.bogus"},
		{"bad duration", "[focus]\nwindow = \"soon\"\n", "decode tuning"},
		{"invalid value", "[scheduler]\nbuild_quota = -1\n", "build_quota"},
		{"inverted delays", "[scheduler]\nmax_idle_pass_delay = \"1s\"\n", "max_idle_pass_delay"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("Parse() error = nil")
			}
			if !errors.Is(err, errors.ErrCodeInvalidConfig) {
				t.Errorf("Parse() code = %s, want INVALID_CONFIG", errors.GetCode(err))
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("Parse() error = %q, want it to mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestEncodeRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	if err := Default().Encode(&buf); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !strings.Contains(buf.String(), `task_budget = "16ms"`) {
		t.Errorf("Encode() output missing duration string:\n%s", buf.String())
	}
	got, err := Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("Parse(Encode()) error = %v", err)
	}
	if got != Default() {
		t.Errorf("Parse(Encode(Default())) = %+v, want defaults", got)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.toml")
	if err := os.WriteFile(path, []byte("[focus]\nwindow = \"30s\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Focus.Window.D() != 30*time.Second {
		t.Errorf("Focus.Window = %v, want 30s", got.Focus.Window.D())
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); !errors.Is(err, errors.ErrCodeInvalidConfig) {
		t.Errorf("Load(missing) error = %v, want INVALID_CONFIG", err)
	}
}

func TestLoadExample(t *testing.T) {
	got, err := Load("../../examples/tuning.toml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Scheduler.BuildQuota != 8 || got.Scheduler.TaskBudget.D() != 8*time.Millisecond {
		t.Errorf("scheduler = %+v", got.Scheduler)
	}
	if got.Scheduler.IdleLayouts != Default().Scheduler.IdleLayouts {
		t.Errorf("IdleLayouts = %d, want the default", got.Scheduler.IdleLayouts)
	}
}
