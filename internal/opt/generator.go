package opt

import (
	"fmt"
	"math"

	"lukechampine.com/frand"
)

// Generator produces starting points for new workers.
type Generator interface {
	Generate() []float64
}

// ValidateBounds checks that every lower bound lies strictly below its upper
// bound and that all bounds are finite.
func ValidateBounds(lower, upper []float64) error {
	if len(lower) != len(upper) {
		return fmt.Errorf("opt: bounds length mismatch: %d vs %d", len(lower), len(upper))
	}
	for i := range lower {
		if lower[i] >= upper[i] {
			return fmt.Errorf("opt: invalid bounds at dim %d: [%g, %g]", i, lower[i], upper[i])
		}
		if math.IsInf(lower[i], 0) || math.IsInf(upper[i], 0) ||
			math.IsNaN(lower[i]) || math.IsNaN(upper[i]) {
			return fmt.Errorf("opt: non-finite bounds at dim %d", i)
		}
	}
	return nil
}

// RandomGenerator draws uniform starting points within the bounds.
type RandomGenerator struct {
	lower, upper []float64
}

// NewRandomGenerator validates the bounds and returns a uniform generator.
func NewRandomGenerator(lower, upper []float64) (*RandomGenerator, error) {
	if err := ValidateBounds(lower, upper); err != nil {
		return nil, err
	}
	return &RandomGenerator{lower: lower, upper: upper}, nil
}

func (g *RandomGenerator) Generate() []float64 {
	x := make([]float64, len(g.lower))
	for i := range x {
		x[i] = g.lower[i] + (g.upper[i]-g.lower[i])*frand.Float64()
	}
	return x
}
