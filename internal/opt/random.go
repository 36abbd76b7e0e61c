package opt

import (
	"context"

	"lukechampine.com/frand"
)

// RandomSearch samples the search space uniformly and keeps the best point.
// Deliberately dumb: it serves as a baseline algorithm and as easy prey for
// the hunters.
type RandomSearch struct {
	maxIters int
	target   float64
	start    []float64
}

// NewRandomSearch creates a uniform random search optimizer. A non-nil start
// point is evaluated first before sampling begins.
func NewRandomSearch(maxIters int, target float64, start []float64) *RandomSearch {
	return &RandomSearch{maxIters: maxIters, target: target, start: start}
}

func (r *RandomSearch) Run(ctx context.Context, eval Objective, lower, upper []float64, emit func(Iteration)) error {
	dim := len(lower)

	i := 0
	if r.start != nil {
		x := append([]float64(nil), r.start...)
		fx := eval(x)
		emit(Iteration{Index: 0, NewCalls: 1, X: x, Fx: fx})
		if fx <= r.target {
			return nil
		}
		i = 1
	}

	for ; i < r.maxIters; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		x := make([]float64, dim)
		for d := range x {
			x[d] = lower[d] + (upper[d]-lower[d])*frand.Float64()
		}
		fx := eval(x)

		emit(Iteration{Index: i, NewCalls: 1, X: x, Fx: fx})

		if fx <= r.target {
			return nil
		}
	}
	return nil
}
