package objective

import (
	"math"
	"testing"
)

func TestSphereMinimum(t *testing.T) {
	p := Sphere(3)
	if v := p.Fn([]float64{0, 0, 0}); v != 0 {
		t.Errorf("Sphere at origin should be 0, got %f", v)
	}
	if v := p.Fn([]float64{1, 2, 2}); v != 9 {
		t.Errorf("Sphere(1,2,2) should be 9, got %f", v)
	}
}

func TestRosenbrockMinimum(t *testing.T) {
	p := Rosenbrock(4)
	if v := p.Fn([]float64{1, 1, 1, 1}); v != 0 {
		t.Errorf("Rosenbrock at (1,1,1,1) should be 0, got %f", v)
	}
}

func TestRastriginMinimum(t *testing.T) {
	p := Rastrigin(5)
	if v := p.Fn(make([]float64, 5)); math.Abs(v) > 1e-12 {
		t.Errorf("Rastrigin at origin should be 0, got %g", v)
	}
}

func TestAckleyMinimum(t *testing.T) {
	p := Ackley(3)
	if v := p.Fn(make([]float64, 3)); math.Abs(v) > 1e-12 {
		t.Errorf("Ackley at origin should be 0, got %g", v)
	}
}

func TestEggholderGlobalMinimum(t *testing.T) {
	p := Eggholder()
	v := p.Fn([]float64{512, 404.2319})
	if math.Abs(v-(-959.6407)) > 1e-3 {
		t.Errorf("Eggholder global minimum should be about -959.6407, got %f", v)
	}
}

func TestByName(t *testing.T) {
	for _, name := range Names() {
		p, err := ByName(name, 3)
		if err != nil {
			t.Errorf("ByName(%s) failed: %v", name, err)
			continue
		}
		if err := p.Bounds.Validate(); err != nil {
			t.Errorf("Bounds of %s invalid: %v", name, err)
		}
	}

	if _, err := ByName("nonexistent", 3); err == nil {
		t.Error("ByName should fail for unknown function")
	}
	if _, err := ByName("sphere", 0); err == nil {
		t.Error("ByName should fail for non-positive dimension")
	}
}
