package opt

import (
	"math"
	"math/rand"
	"testing"

	"github.com/cwbudde/cmaretry/internal/objective"
)

func TestCMABackendOnSphere(t *testing.T) {
	prob := objective.Sphere(3)
	wrapper := objective.NewWrapper(prob.Fn)
	backend := NewCMA(8000, 20)

	ret, err := backend.Minimize(wrapper.Eval, prob.Bounds, nil, nil, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatalf("Minimize failed: %v", err)
	}

	if ret.Fun > 0.1 {
		t.Errorf("Expected cost near 0, got %f", ret.Fun)
	}
	if ret.NFev != wrapper.Count() {
		t.Errorf("nfev %d does not match wrapper count %d", ret.NFev, wrapper.Count())
	}
	for i, v := range ret.X {
		if math.Abs(v) > 1.0 {
			t.Errorf("Parameter %d = %f, expected near 0", i, v)
		}
	}
}

func TestMayflyBackendOnSphere(t *testing.T) {
	prob := objective.Sphere(3)
	backend := NewMayfly(100, 20)

	ret, err := backend.Minimize(prob.Fn, prob.Bounds, nil, nil, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatalf("Minimize failed: %v", err)
	}

	if len(ret.X) != 3 {
		t.Fatalf("Expected 3 parameters, got %d", len(ret.X))
	}
	if ret.Fun > 0.1 {
		t.Errorf("Expected cost near 0, got %f", ret.Fun)
	}
	if !prob.Bounds.Contains(ret.X) {
		t.Errorf("Best point outside bounds: %v", ret.X)
	}
	if ret.NFev <= 0 {
		t.Errorf("Expected positive evaluation count, got %d", ret.NFev)
	}
}

func TestBackendsDeterministic(t *testing.T) {
	prob := objective.Sphere(2)

	for _, name := range []string{"cma", "mayfly"} {
		run := func() float64 {
			backend, err := ByName(name, 5000, 20, 0, false)
			if err != nil {
				t.Fatalf("ByName(%s) failed: %v", name, err)
			}
			ret, err := backend.Minimize(prob.Fn, prob.Bounds, nil, nil, rand.New(rand.NewSource(123)))
			if err != nil {
				t.Fatalf("Minimize failed: %v", err)
			}
			return ret.Fun
		}

		if a, b := run(), run(); a != b {
			t.Errorf("Backend %s non-deterministic: %f vs %f", name, a, b)
		}
	}
}

func TestByNameUnknownBackend(t *testing.T) {
	if _, err := ByName("annealing", 1000, 10, 0, false); err == nil {
		t.Error("Expected error for unknown backend")
	}
}

func TestByNameMayflyRejectsUnsupportedOptions(t *testing.T) {
	if _, err := ByName("mayfly", 1000, 20, 0, true); err == nil {
		t.Error("Expected error for mayfly with parallel evaluation")
	}
	if _, err := ByName("mayfly", 1000, 20, -950, false); err == nil {
		t.Error("Expected error for mayfly with a stop-fitness target")
	}
	if _, err := ByName("mayfly", 1000, 20, 0, false); err != nil {
		t.Errorf("Expected mayfly without unsupported options to build, got %v", err)
	}
}
