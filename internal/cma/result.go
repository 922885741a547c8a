package cma

// TermCode identifies why an optimization run stopped. The integer values
// form a closed, stable set; callers and tests rely on the exact codes.
type TermCode int

const (
	// Running means the run has not terminated yet.
	Running TermCode = iota
	// TargetReached means the best fitness dropped to the configured target.
	TargetReached
	// MaxIterations means the derived generation cap was hit.
	MaxIterations
	// Stagnation means the run gave up after sustained numerical trouble:
	// step-size underflow or an ill-conditioned covariance that repeated
	// recovery could not fix.
	Stagnation
	// MaxEvaluations means the evaluation budget was exhausted. This is a
	// normal termination path, not an error.
	MaxEvaluations
	// FlatFitness means the best fitness showed no detectable improvement
	// over a trailing window of generations.
	FlatFitness
)

func (c TermCode) String() string {
	switch c {
	case Running:
		return "running"
	case TargetReached:
		return "target reached"
	case MaxIterations:
		return "max iterations"
	case Stagnation:
		return "stagnation"
	case MaxEvaluations:
		return "max evaluations"
	case FlatFitness:
		return "flat fitness"
	default:
		return "unknown"
	}
}

// Result holds the outcome of one optimization run.
type Result struct {
	// X is the best point found; it always lies inside the search bounds.
	X []float64 `json:"x"`
	// Fun is the objective value of X.
	Fun float64 `json:"fun"`
	// NFev is the exact number of objective evaluations consumed.
	NFev int `json:"nfev"`
	// NIt is the number of generations executed.
	NIt int `json:"nit"`
	// Status tells why the run stopped.
	Status TermCode `json:"status"`
}
