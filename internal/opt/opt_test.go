package opt

import (
	"context"
	"math"
	"testing"
)

func sphere(x []float64) float64 {
	var s float64
	for _, v := range x {
		s += v * v
	}
	return s
}

func TestValidateBounds(t *testing.T) {
	cases := []struct {
		name    string
		lower   []float64
		upper   []float64
		wantErr bool
	}{
		{"valid", []float64{-1, -2}, []float64{1, 2}, false},
		{"length mismatch", []float64{-1}, []float64{1, 2}, true},
		{"inverted", []float64{1}, []float64{-1}, true},
		{"degenerate", []float64{1}, []float64{1}, true},
		{"infinite", []float64{math.Inf(-1)}, []float64{1}, true},
		{"nan", []float64{0}, []float64{math.NaN()}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateBounds(tc.lower, tc.upper)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateBounds() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestNewFactory(t *testing.T) {
	base := Config{
		Lower:    []float64{-5, -5},
		Upper:    []float64{5, 5},
		MaxIters: 100,
	}

	for _, alg := range []string{"random", "hillclimb"} {
		cfg := base
		cfg.Algorithm = alg
		if _, err := New(cfg); err != nil {
			t.Errorf("New(%q) failed: %v", alg, err)
		}
	}

	cfg := base
	cfg.Algorithm = "simplex"
	if _, err := New(cfg); err == nil {
		t.Error("expected error for unknown algorithm")
	}

	cfg = base
	cfg.Algorithm = "random"
	cfg.MaxIters = 0
	if _, err := New(cfg); err == nil {
		t.Error("expected error for non-positive iteration limit")
	}

	cfg = base
	cfg.Algorithm = "random"
	cfg.Lower = nil
	cfg.Upper = nil
	if _, err := New(cfg); err == nil {
		t.Error("expected error for missing bounds")
	}
}

func TestRandomSearchStaysInBounds(t *testing.T) {
	lower := []float64{-2, 0}
	upper := []float64{2, 1}
	o := NewRandomSearch(50, math.Inf(-1), nil)

	var n int
	err := o.Run(context.Background(), sphere, lower, upper, func(it Iteration) {
		n++
		for d, v := range it.X {
			if v < lower[d] || v > upper[d] {
				t.Errorf("iteration %d dim %d out of bounds: %g", it.Index, d, v)
			}
		}
		if it.NewCalls != 1 {
			t.Errorf("iteration %d reported %d calls", it.Index, it.NewCalls)
		}
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if n != 50 {
		t.Errorf("emitted %d iterations, want 50", n)
	}
}

func TestRandomSearchStopsAtTarget(t *testing.T) {
	// Any sample of the sphere within these bounds is below the target.
	o := NewRandomSearch(1000, 100, nil)

	var n int
	err := o.Run(context.Background(), sphere,
		[]float64{-1}, []float64{1}, func(Iteration) { n++ })
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if n != 1 {
		t.Errorf("emitted %d iterations, want 1", n)
	}
}

func TestRandomSearchCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := NewRandomSearch(1000, math.Inf(-1), nil)
	err := o.Run(ctx, sphere, []float64{-1}, []float64{1}, func(Iteration) {})
	if err != context.Canceled {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
}

func TestHillClimberImproves(t *testing.T) {
	o, err := NewHillClimber(500, math.Inf(-1), 0.1, 42, nil)
	if err != nil {
		t.Fatalf("NewHillClimber failed: %v", err)
	}

	lower := []float64{-5, -5}
	upper := []float64{5, 5}

	best := math.Inf(1)
	var first float64
	var n int
	err = o.Run(context.Background(), sphere, lower, upper, func(it Iteration) {
		if n == 0 {
			first = it.Fx
		}
		n++
		if it.Fx < best {
			best = it.Fx
		}
		for d, v := range it.X {
			if v < lower[d] || v > upper[d] {
				t.Errorf("iteration %d dim %d out of bounds: %g", it.Index, d, v)
			}
		}
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if n != 500 {
		t.Errorf("emitted %d iterations, want 500", n)
	}
	if best >= first {
		t.Errorf("no improvement over %d iterations: first %g, best %g", n, first, best)
	}
}

func TestHillClimberRejectsLargeStepScale(t *testing.T) {
	if _, err := NewHillClimber(10, 0, 1.5, 0, nil); err == nil {
		t.Error("expected error for step scale >= 1")
	}
}

func TestNewRejectsBadStartPoint(t *testing.T) {
	base := Config{
		Algorithm: "random",
		Lower:     []float64{-5, -5},
		Upper:     []float64{5, 5},
		MaxIters:  100,
	}

	cfg := base
	cfg.Start = []float64{0}
	if _, err := New(cfg); err == nil {
		t.Error("expected error for start point dimension mismatch")
	}

	cfg = base
	cfg.Start = []float64{0, 7}
	if _, err := New(cfg); err == nil {
		t.Error("expected error for start point outside the bounds")
	}
}

func TestRandomSearchEvaluatesStartFirst(t *testing.T) {
	start := []float64{1.5, -0.5}
	o := NewRandomSearch(10, math.Inf(-1), start)

	var first []float64
	err := o.Run(context.Background(), sphere,
		[]float64{-2, -2}, []float64{2, 2}, func(it Iteration) {
			if it.Index == 0 {
				first = it.X
			}
		})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for d, v := range first {
		if v != start[d] {
			t.Errorf("first evaluation dim %d = %g, want %g", d, v, start[d])
		}
	}
}

func TestHillClimberStartsFromGivenPoint(t *testing.T) {
	start := []float64{2, 3}
	o, err := NewHillClimber(50, math.Inf(-1), 0.1, 42, start)
	if err != nil {
		t.Fatalf("NewHillClimber failed: %v", err)
	}

	var first []float64
	err = o.Run(context.Background(), sphere,
		[]float64{-5, -5}, []float64{5, 5}, func(it Iteration) {
			if it.Index == 0 {
				first = it.X
			}
		})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for d, v := range first {
		if v != start[d] {
			t.Errorf("first evaluation dim %d = %g, want %g", d, v, start[d])
		}
	}
}

func TestRandomGenerator(t *testing.T) {
	lower := []float64{-3, 1}
	upper := []float64{3, 2}
	g, err := NewRandomGenerator(lower, upper)
	if err != nil {
		t.Fatalf("NewRandomGenerator failed: %v", err)
	}

	for i := 0; i < 100; i++ {
		x := g.Generate()
		for d, v := range x {
			if v < lower[d] || v > upper[d] {
				t.Fatalf("sample %d dim %d out of bounds: %g", i, d, v)
			}
		}
	}

	if _, err := NewRandomGenerator([]float64{1}, []float64{0}); err == nil {
		t.Error("expected error for inverted bounds")
	}
}
