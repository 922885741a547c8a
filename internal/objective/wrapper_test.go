package objective

import (
	"math"
	"sync"
	"testing"
)

func TestWrapperCountsEvaluations(t *testing.T) {
	w := NewWrapper(Sphere(2).Fn)

	for i := 0; i < 25; i++ {
		w.Eval([]float64{float64(i), 1})
	}

	if w.Count() != 25 {
		t.Errorf("Expected 25 evaluations, got %d", w.Count())
	}
}

func TestWrapperTracksBest(t *testing.T) {
	w := NewWrapper(Sphere(2).Fn)

	if !math.IsInf(w.BestY(), 1) {
		t.Error("BestY should be +Inf before any evaluation")
	}
	if w.BestX() != nil {
		t.Error("BestX should be nil before any evaluation")
	}

	w.Eval([]float64{3, 4})
	w.Eval([]float64{1, 1})
	w.Eval([]float64{2, 2})

	if w.BestY() != 2 {
		t.Errorf("Expected best value 2, got %f", w.BestY())
	}
	best := w.BestX()
	if best[0] != 1 || best[1] != 1 {
		t.Errorf("Expected best point (1,1), got %v", best)
	}
}

func TestWrapperConcurrent(t *testing.T) {
	w := NewWrapper(Sphere(1).Fn)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				w.Eval([]float64{float64(g*100 + i)})
			}
		}(g)
	}
	wg.Wait()

	if w.Count() != 800 {
		t.Errorf("Expected 800 evaluations, got %d", w.Count())
	}
	if w.BestY() != 0 {
		t.Errorf("Expected best value 0, got %f", w.BestY())
	}
}

func TestSafeCallRecoversPanic(t *testing.T) {
	bad := func(x []float64) float64 {
		panic("objective blew up")
	}

	_, err := SafeCall(bad, []float64{1})
	if err == nil {
		t.Fatal("Expected error from panicking objective")
	}

	y, err := SafeCall(Sphere(2).Fn, []float64{3, 4})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if y != 25 {
		t.Errorf("Expected 25, got %f", y)
	}
}
