// Package forest renders the scheduler's managed forest as a Graphviz
// diagram.
//
// Every managed resource becomes a box labelled with its node and colored by
// lifecycle state. Solid edges follow the structural parent relation between
// managed resources; dashed edges point from an owner to the resources it
// schedules explicitly.
//
//	dot := forest.ToDOT(sched.Snapshot(), forest.Options{Detailed: true})
//	svg, err := forest.RenderSVG(dot)
//
// # Dependencies
//
// This package uses [github.com/goccy/go-graphviz] for in-process SVG
// rendering.
package forest

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-graphviz"

	"github.com/matzehuels/layoutsched/pkg/scheduler"
)

// Options configures diagram generation.
type Options struct {
	// Detailed adds state, box and priority to node labels.
	Detailed bool
}

var stateColors = map[string]string{
	"NOT_BUILT":        "white",
	"NOT_LAID_OUT":     "lightgrey",
	"READY_FOR_LAYOUT": "lightyellow",
	"LAYOUT_SCHEDULED": "lightblue",
	"LAYOUT_COMPLETE":  "palegreen",
	"LAYOUT_FAILED":    "salmon",
}

// ToDOT converts a snapshot to Graphviz DOT source.
func ToDOT(snap scheduler.Snapshot, opts Options) string {
	var buf bytes.Buffer
	buf.WriteString("digraph G {\n")
	buf.WriteString("  rankdir=TB;\n")
	buf.WriteString("  bgcolor=\"transparent\";\n")
	buf.WriteString("  node [shape=box, style=\"rounded,filled\", fillcolor=white, fontsize=14, margin=\"0.2,0.1\"];\n")
	buf.WriteString("  ranksep=0.4;\n")
	buf.WriteString("  nodesep=0.3;\n")
	buf.WriteString("\n")

	for _, r := range snap.Resources {
		fmt.Fprintf(&buf, "  %q [%s];\n", nodeID(r.ID), strings.Join(fmtAttrs(r, opts.Detailed), ", "))
	}

	buf.WriteString("\n")
	for _, r := range snap.Resources {
		if r.ParentID != 0 {
			fmt.Fprintf(&buf, "  %q -> %q;\n", nodeID(r.ParentID), nodeID(r.ID))
		}
		if r.OwnerID != 0 && r.OwnerID != r.ParentID {
			fmt.Fprintf(&buf, "  %q -> %q [style=dashed, label=\"owns\"];\n", nodeID(r.OwnerID), nodeID(r.ID))
		}
	}

	buf.WriteString("}\n")
	return buf.String()
}

func nodeID(id int) string { return fmt.Sprintf("r%d", id) }

func fmtLabel(r scheduler.ResourceInfo, detailed bool) string {
	if !detailed {
		return r.Label
	}
	parts := []string{
		r.State,
		fmt.Sprintf("top %.0f h %.0f", r.Box.Top, r.Box.Height),
		fmt.Sprintf("priority %d", r.Priority),
	}
	if r.InViewport {
		parts = append(parts, "in viewport")
	}
	return fmt.Sprintf("%s #%d\n%s", r.Label, r.ID, strings.Join(parts, "\n"))
}

func fmtAttrs(r scheduler.ResourceInfo, detailed bool) []string {
	attrs := []string{fmt.Sprintf("label=%q", fmtLabel(r, detailed))}
	if c, ok := stateColors[r.State]; ok {
		attrs = append(attrs, fmt.Sprintf("fillcolor=%s", c))
	}
	if r.Owned {
		attrs = append(attrs, "style=\"rounded,filled,dashed\"")
	}
	if r.InViewport {
		attrs = append(attrs, "penwidth=2")
	}
	return attrs
}

// RenderSVG renders DOT source to SVG using Graphviz.
func RenderSVG(ctx context.Context, dot string) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.SVG, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return buf.Bytes(), nil
}
