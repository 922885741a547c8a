package cma

import "math"

// progressTracker watches the best fitness across generations and detects
// when the run has gone flat: no significant improvement for a trailing
// window of generations.
type progressTracker struct {
	// patience is the number of generations without significant improvement
	// before the run is declared flat.
	patience int

	// threshold is the minimum relative improvement that counts as progress.
	// Near zero an absolute comparison takes over, since relative improvement
	// is meaningless there.
	threshold float64

	best            float64
	lastSignificant float64
	staleCount      int
	generations     int
}

// newProgressTracker derives the window from the problem size: larger
// populations cover more ground per generation and need less patience.
func newProgressTracker(dim, lambda int) *progressTracker {
	return &progressTracker{
		patience:        10 + 30*dim/lambda,
		threshold:       1e-12,
		best:            math.Inf(1),
		lastSignificant: math.Inf(1),
	}
}

// update records the best fitness of one generation and returns true when
// the fitness has been flat for the whole patience window.
func (p *progressTracker) update(fitness float64) bool {
	p.generations++
	if fitness < p.best {
		p.best = fitness
	}

	if p.generations == 1 {
		p.lastSignificant = fitness
		return false
	}

	improvement := p.lastSignificant - fitness
	significant := improvement > p.threshold*math.Max(math.Abs(p.lastSignificant), 1)

	if significant {
		p.lastSignificant = fitness
		p.staleCount = 0
		return false
	}

	p.staleCount++
	return p.staleCount >= p.patience
}
