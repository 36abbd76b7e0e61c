package opt

import (
	"context"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
	"lukechampine.com/frand"
)

// HillClimber proposes Gaussian steps around the best point found so far and
// accepts only improvements. Step width is proportional to the bound range.
type HillClimber struct {
	maxIters  int
	target    float64
	stepScale float64
	seed      uint64
	start     []float64
}

// NewHillClimber creates a Gaussian hill climbing optimizer. A non-nil start
// point replaces the random one.
func NewHillClimber(maxIters int, target, stepScale float64, seed uint64, start []float64) (*HillClimber, error) {
	if stepScale <= 0 {
		stepScale = 0.1
	}
	if stepScale >= 1 {
		return nil, fmt.Errorf("opt: step scale must be below 1, got %g", stepScale)
	}
	return &HillClimber{maxIters: maxIters, target: target, stepScale: stepScale, seed: seed, start: start}, nil
}

func (h *HillClimber) Run(ctx context.Context, eval Objective, lower, upper []float64, emit func(Iteration)) error {
	dim := len(lower)

	seed := h.seed
	if seed == 0 {
		seed = frand.Uint64n(1 << 62)
	}
	rng := rand.New(rand.NewPCG(seed, 0))

	steps := make([]distuv.Normal, dim)
	for d := range steps {
		steps[d] = distuv.Normal{Mu: 0, Sigma: h.stepScale * (upper[d] - lower[d]), Src: rng}
	}

	best := make([]float64, dim)
	if h.start != nil {
		copy(best, h.start)
	} else {
		for d := range best {
			best[d] = lower[d] + (upper[d]-lower[d])*rng.Float64()
		}
	}
	bestFx := eval(best)
	emit(Iteration{Index: 0, NewCalls: 1, X: best, Fx: bestFx})
	if bestFx <= h.target {
		return nil
	}

	for i := 1; i < h.maxIters; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		x := make([]float64, dim)
		for d := range x {
			v := best[d] + steps[d].Rand()
			if v < lower[d] {
				v = lower[d]
			}
			if v > upper[d] {
				v = upper[d]
			}
			x[d] = v
		}
		fx := eval(x)

		emit(Iteration{Index: i, NewCalls: 1, X: x, Fx: fx})

		if fx < bestFx {
			best, bestFx = x, fx
		}
		if bestFx <= h.target {
			return nil
		}
	}
	return nil
}
