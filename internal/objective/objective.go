package objective

import "fmt"

// Func is an objective function mapping a parameter vector to a scalar cost.
// Implementations may be arbitrary caller code; they must return the same
// value for the same input within one optimization run and must be safe to
// call concurrently when parallel evaluation is requested.
type Func func(x []float64) float64

// SafeCall invokes fn and converts a panic inside the objective into an error,
// so a misbehaving caller-supplied function fails one evaluation instead of
// taking down the worker that runs it.
func SafeCall(fn Func, x []float64) (y float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("objective function panicked: %v", r)
		}
	}()
	return fn(x), nil
}
