package objective

import (
	"fmt"
	"math"
	"math/rand"
)

// Bounds defines an axis-aligned box of valid parameter values.
// Every candidate handed to an objective function lies inside the box.
type Bounds struct {
	Lower []float64
	Upper []float64
}

// NewBounds creates uniform bounds [lo, hi] in every dimension.
func NewBounds(dim int, lo, hi float64) Bounds {
	lower := make([]float64, dim)
	upper := make([]float64, dim)
	for i := range lower {
		lower[i] = lo
		upper[i] = hi
	}
	return Bounds{Lower: lower, Upper: upper}
}

// Dim returns the dimensionality of the box.
func (b Bounds) Dim() int {
	return len(b.Lower)
}

// Validate checks the box before any evaluation happens.
func (b Bounds) Validate() error {
	if len(b.Lower) == 0 {
		return fmt.Errorf("bounds are empty")
	}
	if len(b.Lower) != len(b.Upper) {
		return fmt.Errorf("bounds dimension mismatch: %d lower vs %d upper", len(b.Lower), len(b.Upper))
	}
	for i := range b.Lower {
		if math.IsNaN(b.Lower[i]) || math.IsNaN(b.Upper[i]) {
			return fmt.Errorf("bounds contain NaN at dimension %d", i)
		}
		if b.Lower[i] > b.Upper[i] {
			return fmt.Errorf("lower bound exceeds upper bound at dimension %d: %g > %g", i, b.Lower[i], b.Upper[i])
		}
	}
	return nil
}

// Contains reports whether x lies inside the box.
func (b Bounds) Contains(x []float64) bool {
	if len(x) != b.Dim() {
		return false
	}
	for i, v := range x {
		if v < b.Lower[i] || v > b.Upper[i] {
			return false
		}
	}
	return true
}

// Clamp repairs x in place so it lies inside the box and returns it.
// A point already inside the box is returned unchanged.
func (b Bounds) Clamp(x []float64) []float64 {
	for i := range x {
		x[i] = clamp(x[i], b.Lower[i], b.Upper[i])
	}
	return x
}

// Random returns a feasible point uniformly distributed inside the box.
func (b Bounds) Random(rng *rand.Rand) []float64 {
	x := make([]float64, b.Dim())
	for i := range x {
		x[i] = b.Lower[i] + rng.Float64()*(b.Upper[i]-b.Lower[i])
	}
	return x
}

// Scale returns half the extent of the box per dimension.
func (b Bounds) Scale() []float64 {
	s := make([]float64, b.Dim())
	for i := range s {
		s[i] = 0.5 * (b.Upper[i] - b.Lower[i])
	}
	return s
}

// Typical returns the center of the box.
func (b Bounds) Typical() []float64 {
	t := make([]float64, b.Dim())
	for i := range t {
		t[i] = 0.5 * (b.Upper[i] + b.Lower[i])
	}
	return t
}

// Shrink returns a sub-box of width factor*(upper-lower) centered on x,
// clipped back into the receiver. The center is clamped into the box first
// so the result is never empty.
func (b Bounds) Shrink(center []float64, factor float64) Bounds {
	lower := make([]float64, b.Dim())
	upper := make([]float64, b.Dim())
	for i := range lower {
		c := clamp(center[i], b.Lower[i], b.Upper[i])
		half := 0.5 * factor * (b.Upper[i] - b.Lower[i])
		lower[i] = math.Max(b.Lower[i], c-half)
		upper[i] = math.Min(b.Upper[i], c+half)
	}
	return Bounds{Lower: lower, Upper: upper}
}

func clamp(val, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, val))
}
