// Package regress fits the decay model f(t) = (y0-c*yinf)*exp(-b*t) + c*yinf
// to worker trajectories. Hunters consult it to judge whether a worker is
// likely to improve further. Fits are cached per worker, keyed by a content
// hash of the input series.
package regress

import "math"

// Fit holds the three fitted parameters of the decay model.
type Fit struct {
	Decay     float64 // b, bounded to [0, 5]
	Asymptote float64 // c, bounded to [0, 1], fraction of y0 kept at t=inf
	Noise     float64 // s, bounded to [1e-4, 0.5], relative noise scale
}

var bounds = [3][2]float64{
	{0, 5},
	{0, 1},
	{1e-4, 0.5},
}

func inBounds(p []float64) bool {
	for i, v := range p {
		if v < bounds[i][0] || v > bounds[i][1] || math.IsNaN(v) {
			return false
		}
	}
	return true
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// model evaluates the normalised decay curve at time t.
// u(t) = (1-c)*exp(-b*t) + c, with u = y/y0.
func model(b, c, t float64) float64 {
	return (1-c)*math.Exp(-b*t) + c
}

// logLikelihood computes the Gaussian log-likelihood of the normalised series
// u observed at times t under parameters p = (b, c, s).
func logLikelihood(p, t, u []float64) float64 {
	b, c, s := p[0], p[1], p[2]
	n := float64(len(u))
	ll := -0.5 * n * math.Log(2*math.Pi*s*s)
	for i, ti := range t {
		r := u[i] - model(b, c, ti)
		ll -= r * r / (2 * s * s)
	}
	return ll
}

// logPosterior is the log-likelihood under a uniform prior over the bounds.
func logPosterior(p, t, u []float64) float64 {
	if !inBounds(p) {
		return math.Inf(-1)
	}
	return logLikelihood(p, t, u)
}

// normalise shifts the series positive if needed and scales it by its first
// value so the model's asymptote parameter stays a fraction in [0, 1].
func normalise(y []float64) []float64 {
	minY := y[0]
	for _, v := range y {
		if v < minY {
			minY = v
		}
	}
	shift := 0.0
	if minY <= 0 {
		shift = 1 - minY
	}
	u := make([]float64, len(y))
	scale := y[0] + shift
	for i, v := range y {
		u[i] = (v + shift) / scale
	}
	return u
}
