package forest

import (
	"strings"
	"testing"

	"github.com/matzehuels/layoutsched/pkg/layout"
	"github.com/matzehuels/layoutsched/pkg/scheduler"
)

func testSnapshot() scheduler.Snapshot {
	return scheduler.Snapshot{
		Resources: []scheduler.ResourceInfo{
			{ID: 1, Label: "feed", State: "LAYOUT_COMPLETE", Box: layout.LTWH(0, 0, 1000, 600), InViewport: true},
			{ID: 2, Label: "card", ParentID: 1, State: "READY_FOR_LAYOUT"},
			{ID: 3, Label: "slide", ParentID: 2, OwnerID: 1, Owned: true, State: "NOT_BUILT"},
		},
	}
}

func TestToDOT(t *testing.T) {
	dot := ToDOT(testSnapshot(), Options{})

	for _, want := range []string{
		"digraph G {",
		`"r1" [label="feed", fillcolor=palegreen, penwidth=2];`,
		`"r2" [label="card", fillcolor=lightyellow];`,
		`"r1" -> "r2";`,
		`"r2" -> "r3";`,
		`"r1" -> "r3" [style=dashed, label="owns"];`,
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("ToDOT() missing %q\n%s", want, dot)
		}
	}
	if strings.Contains(dot, `"r2" -> "r1"`) {
		t.Error("ToDOT() contains reversed edge")
	}
}

func TestToDOTOwnerIsParent(t *testing.T) {
	snap := scheduler.Snapshot{Resources: []scheduler.ResourceInfo{
		{ID: 1, Label: "carousel", State: "LAYOUT_COMPLETE"},
		{ID: 2, Label: "slide", ParentID: 1, OwnerID: 1, Owned: true, State: "NOT_LAID_OUT"},
	}}
	dot := ToDOT(snap, Options{})
	if strings.Contains(dot, "owns") {
		t.Errorf("ToDOT() draws an owner edge that duplicates the parent edge\n%s", dot)
	}
	if !strings.Contains(dot, `style="rounded,filled,dashed"`) {
		t.Errorf("ToDOT() does not mark owned resources\n%s", dot)
	}
}

func TestDetailedLabel(t *testing.T) {
	got := fmtLabel(testSnapshot().Resources[0], true)
	want := "feed #1\nLAYOUT_COMPLETE\ntop 0 h 600\npriority 0\nin viewport"
	if got != want {
		t.Errorf("fmtLabel() = %q, want %q", got, want)
	}
	if got := fmtLabel(testSnapshot().Resources[1], false); got != "card" {
		t.Errorf("fmtLabel() = %q, want card", got)
	}
}
