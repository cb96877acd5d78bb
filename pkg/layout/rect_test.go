package layout

import "testing"

func TestRectEdges(t *testing.T) {
	r := LTWH(10, 20, 30, 40)
	if got := r.Right(); got != 40 {
		t.Errorf("Right() = %v, want %v", got, 40)
	}
	if got := r.Bottom(); got != 60 {
		t.Errorf("Bottom() = %v, want %v", got, 60)
	}
}

func TestRectOverlaps(t *testing.T) {
	vp := LTWH(0, 100, 100, 100)
	tests := []struct {
		name string
		r    Rect
		want bool
	}{
		{name: "inside", r: LTWH(10, 120, 10, 10), want: true},
		{name: "above", r: LTWH(10, 0, 10, 50), want: false},
		{name: "below", r: LTWH(10, 250, 10, 10), want: false},
		{name: "touching top edge", r: LTWH(10, 50, 10, 50), want: true},
		{name: "right of viewport", r: LTWH(150, 120, 10, 10), want: false},
		{name: "spanning", r: LTWH(-10, 0, 200, 400), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.Overlaps(vp); got != tt.want {
				t.Errorf("Overlaps() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRectExpand(t *testing.T) {
	r := LTWH(0, 1000, 400, 800)

	got := r.Expand(0.25, 0.25, 2)
	want := Rect{Left: -100, Top: 800, Width: 600, Height: 800 * 3.25}
	if got != want {
		t.Errorf("Expand() = %+v, want %+v", got, want)
	}
	if got.Bottom() != r.Bottom()+1600 {
		t.Errorf("Expand() bottom = %v, want %v", got.Bottom(), r.Bottom()+1600)
	}

	u := r.ExpandUniform(0.25)
	if u.Top != 800 || u.Bottom() != 2000 {
		t.Errorf("ExpandUniform() = %+v, want top 800 bottom 2000", u)
	}
}

func TestRectViewportsFrom(t *testing.T) {
	vp := LTWH(0, 1000, 400, 500)
	tests := []struct {
		top  float64
		want float64
	}{
		{top: 1000, want: 0},
		{top: 1499, want: 0},
		{top: 1500, want: 1},
		{top: 2600, want: 3},
		{top: 900, want: -1},
		{top: 0, want: -2},
	}
	for _, tt := range tests {
		if got := LTWH(0, tt.top, 10, 10).ViewportsFrom(vp); got != tt.want {
			t.Errorf("ViewportsFrom(top=%v) = %v, want %v", tt.top, got, tt.want)
		}
	}
}

func TestMarginChange(t *testing.T) {
	cur := Margins{Top: 10, Right: 0, Bottom: 5, Left: 0}
	mc := MarginChange{Top: Ptr(20), Bottom: Ptr(0)}

	d := mc.Diff(cur)
	if d.Top != 10 || d.Bottom != -5 || d.Left != 0 || d.Right != 0 {
		t.Errorf("Diff() = %+v", d)
	}

	applied := mc.Apply(cur)
	if applied != (Margins{Top: 20, Bottom: 0}) {
		t.Errorf("Apply() = %+v", applied)
	}

	if (MarginChange{}).IsZero() != true {
		t.Error("empty MarginChange should be zero")
	}
	if mc.IsZero() {
		t.Error("MarginChange with edges should not be zero")
	}
}
