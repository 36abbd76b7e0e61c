// Package opt defines the optimization algorithm interface the manager's
// workers run, plus the built-in algorithms and starting point generators.
package opt

import (
	"context"
	"fmt"
)

// Objective is the function being minimized.
type Objective func(x []float64) float64

// Iteration is one optimization step reported back to the manager.
type Iteration struct {
	Index    int
	NewCalls int // objective evaluations consumed by this step
	X        []float64
	Fx       float64
}

// Optimizer defines an optimization algorithm.
//
// Run minimizes eval within the bounds, calling emit after every iteration so
// the manager can stream the trajectory. Run returns nil when the algorithm
// reached its own stopping criterion and ctx.Err() when it was cancelled.
type Optimizer interface {
	Run(ctx context.Context, eval Objective, lower, upper []float64, emit func(Iteration)) error
}

// Config describes one worker's algorithm instance.
type Config struct {
	Algorithm string    `json:"algorithm"` // "random" or "hillclimb"
	Lower     []float64 `json:"lower"`
	Upper     []float64 `json:"upper"`
	MaxIters  int       `json:"maxIters"`
	Target    float64   `json:"target"` // stop once fx <= Target
	StepScale float64   `json:"stepScale,omitempty"`
	Seed      uint64    `json:"seed,omitempty"`

	// Start is the first point evaluated, typically produced by a Generator.
	// Nil lets the algorithm pick its own start.
	Start []float64 `json:"start,omitempty"`
}

// New builds the optimizer described by cfg.
func New(cfg Config) (Optimizer, error) {
	if len(cfg.Lower) == 0 || len(cfg.Lower) != len(cfg.Upper) {
		return nil, fmt.Errorf("opt: invalid bounds: %d lower vs %d upper", len(cfg.Lower), len(cfg.Upper))
	}
	if err := ValidateBounds(cfg.Lower, cfg.Upper); err != nil {
		return nil, err
	}
	if cfg.MaxIters <= 0 {
		return nil, fmt.Errorf("opt: max iterations must be positive, got %d", cfg.MaxIters)
	}
	if cfg.Start != nil {
		if len(cfg.Start) != len(cfg.Lower) {
			return nil, fmt.Errorf("opt: start point dimension %d does not match bounds dimension %d",
				len(cfg.Start), len(cfg.Lower))
		}
		for i, v := range cfg.Start {
			if v < cfg.Lower[i] || v > cfg.Upper[i] {
				return nil, fmt.Errorf("opt: start point outside bounds at dim %d: %g", i, v)
			}
		}
	}

	switch cfg.Algorithm {
	case "random":
		return NewRandomSearch(cfg.MaxIters, cfg.Target, cfg.Start), nil
	case "hillclimb":
		return NewHillClimber(cfg.MaxIters, cfg.Target, cfg.StepScale, cfg.Seed, cfg.Start)
	default:
		return nil, fmt.Errorf("opt: unknown algorithm: %s", cfg.Algorithm)
	}
}
