package node

import "fmt"

// Allowance is either a plain yes/no or a multiple of the viewport height
// within which rendering outside the viewport is permitted.
// The zero value denies.
type Allowance struct {
	ratio   float64
	isRatio bool
	allowed bool
}

// Always permits rendering anywhere.
func Always() Allowance { return Allowance{allowed: true} }

// Never denies rendering outside the viewport.
func Never() Allowance { return Allowance{} }

// Viewports permits rendering within n viewport heights of the viewport.
func Viewports(n float64) Allowance { return Allowance{ratio: n, isRatio: true} }

// Ratio returns the viewport multiplier and whether the allowance is one.
func (a Allowance) Ratio() (float64, bool) { return a.ratio, a.isRatio }

// Bool returns the fixed answer for non-ratio allowances.
func (a Allowance) Bool() bool { return a.allowed }

// Within evaluates the allowance for a node that is distance pixels outside a
// viewport of the given height. penalty > 1 shrinks the permitted distance,
// which is how scrolling away from a node makes it harder to qualify.
func (a Allowance) Within(distance, viewportHeight, penalty float64) bool {
	if !a.isRatio {
		return a.allowed
	}
	if penalty <= 0 {
		penalty = 1
	}
	return distance < viewportHeight*a.ratio/penalty
}

func (a Allowance) String() string {
	if a.isRatio {
		return fmt.Sprintf("%gvp", a.ratio)
	}
	return fmt.Sprintf("%t", a.allowed)
}
