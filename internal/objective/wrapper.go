package objective

import (
	"math"
	"sync"
)

// Wrapper counts invocations of an objective function and tracks the best
// point seen so far. It is safe for concurrent use, so the same wrapper can
// sit underneath parallel population evaluation and parallel restarts.
type Wrapper struct {
	mu    sync.Mutex
	fn    Func
	count int
	bestX []float64
	bestY float64
}

// NewWrapper wraps fn with evaluation counting and best-point tracking.
func NewWrapper(fn Func) *Wrapper {
	return &Wrapper{
		fn:    fn,
		bestY: math.Inf(1),
	}
}

// Eval evaluates the wrapped function. The objective itself runs outside the
// lock so concurrent workers are only serialized for the bookkeeping.
func (w *Wrapper) Eval(x []float64) float64 {
	y := w.fn(x)

	w.mu.Lock()
	w.count++
	if y < w.bestY {
		w.bestY = y
		w.bestX = append(w.bestX[:0:0], x...)
	}
	w.mu.Unlock()

	return y
}

// Count returns the number of evaluations performed so far.
func (w *Wrapper) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// BestX returns a copy of the best point seen so far, or nil before the
// first evaluation.
func (w *Wrapper) BestX() []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.bestX == nil {
		return nil
	}
	return append([]float64{}, w.bestX...)
}

// BestY returns the best objective value seen so far, +Inf before the
// first evaluation.
func (w *Wrapper) BestY() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bestY
}
