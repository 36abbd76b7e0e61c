package main

import (
	"fmt"
	"math"

	"github.com/cwbudde/opthive/internal/opt"
)

// Built-in benchmark objectives for exercising the manager from the CLI.
func objectiveByName(name string) (opt.Objective, error) {
	switch name {
	case "sphere":
		return func(x []float64) float64 {
			var s float64
			for _, v := range x {
				s += v * v
			}
			return s
		}, nil
	case "rastrigin":
		return func(x []float64) float64 {
			s := 10 * float64(len(x))
			for _, v := range x {
				s += v*v - 10*math.Cos(2*math.Pi*v)
			}
			return s
		}, nil
	case "rosenbrock":
		return func(x []float64) float64 {
			var s float64
			for i := 0; i < len(x)-1; i++ {
				a := x[i+1] - x[i]*x[i]
				b := 1 - x[i]
				s += 100*a*a + b*b
			}
			return s
		}, nil
	default:
		return nil, fmt.Errorf("unknown objective: %s", name)
	}
}
