package regress

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat"
	"lukechampine.com/frand"
)

// Quantiles summarises one parameter's posterior: median and the 5%/95%
// credible bounds. Lo and Hi are NaN on a degraded (point-only) estimate.
type Quantiles struct {
	Median float64
	Lo     float64
	Hi     float64
}

// Intervals holds the posterior summary for all three model parameters.
type Intervals struct {
	Decay     Quantiles
	Asymptote Quantiles
	Noise     Quantiles
}

// SamplerConfig controls the posterior sampling run.
type SamplerConfig struct {
	Walkers int
	Steps   int
	BurnIn  int
	Seed    uint64 // 0 draws a fresh seed
}

// DefaultSamplerConfig returns the standard ensemble setup.
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{Walkers: 32, Steps: 5000, BurnIn: 1000}
}

// EstimateInterval estimates the posterior median and 5%/95% quantiles of
// each model parameter via affine-invariant ensemble MCMC seeded from
// perturbations of the point estimate. On sampler failure it falls back to
// the point estimate with unknown quantiles and reports ErrEstimationDegraded.
// Cache semantics match EstimatePoint, keyed independently.
func (r *Regressor) EstimateInterval(t, y []float64, cfg SamplerConfig, key int) (Intervals, error) {
	if len(t) != len(y) {
		return Intervals{}, fmt.Errorf("regress: series length mismatch: %d vs %d", len(t), len(y))
	}
	if len(t) < 3 {
		return Intervals{}, fmt.Errorf("regress: need at least 3 points, got %d", len(t))
	}
	if cfg.Walkers < 4 || cfg.Steps <= cfg.BurnIn {
		return Intervals{}, fmt.Errorf("regress: invalid sampler config %+v", cfg)
	}

	if key > 0 {
		lk := r.cache.keyLock(key)
		lk.Lock()
		defer lk.Unlock()

		h := hashSeries(t, y)
		if e, ok := r.cache.getInterval(key); ok && e.hash == h {
			return e.iv, nil
		}
		iv, err := r.estimateInterval(t, y, cfg)
		r.cache.setInterval(key, intervalEntry{hash: h, iv: iv})
		return iv, err
	}

	return r.estimateInterval(t, y, cfg)
}

func (r *Regressor) estimateInterval(t, y []float64, cfg SamplerConfig) (Intervals, error) {
	// The point estimate seeds the walkers; a degraded seed is still usable.
	fit, fitErr := r.EstimatePoint(t, y, 0)
	if fitErr != nil && !errors.Is(fitErr, ErrEstimationDegraded) {
		return Intervals{}, fitErr
	}

	u := normalise(y)
	logProb := func(p []float64) float64 { return logPosterior(p, t, u) }

	seed := cfg.Seed
	if seed == 0 {
		seed = frand.Uint64n(math.MaxUint64)
	}
	rng := rand.New(rand.NewPCG(seed, 0))

	start := make([][]float64, cfg.Walkers)
	center := []float64{fit.Decay, fit.Asymptote, fit.Noise}
	for w := range start {
		p := make([]float64, 3)
		for i := range p {
			p[i] = clampInterior(center[i]+1e-2*rng.NormFloat64(), i)
		}
		start[w] = p
	}

	chain, err := runEnsemble(rng, logProb, start, cfg.Steps, cfg.BurnIn)
	if err != nil {
		unknown := func(v float64) Quantiles {
			return Quantiles{Median: v, Lo: math.NaN(), Hi: math.NaN()}
		}
		iv := Intervals{
			Decay:     unknown(fit.Decay),
			Asymptote: unknown(fit.Asymptote),
			Noise:     unknown(fit.Noise),
		}
		return iv, fmt.Errorf("%w: %v", ErrEstimationDegraded, err)
	}

	return Intervals{
		Decay:     summarise(chain, 0),
		Asymptote: summarise(chain, 1),
		Noise:     summarise(chain, 2),
	}, nil
}

// runEnsemble runs the Goodman & Weare stretch-move sampler and returns the
// flattened post-burn-in chain.
func runEnsemble(rng *rand.Rand, logProb func([]float64) float64, start [][]float64, steps, burnIn int) ([][]float64, error) {
	const a = 2.0 // stretch scale
	nw := len(start)
	dim := len(start[0])

	pos := make([][]float64, nw)
	lp := make([]float64, nw)
	anyFinite := false
	for w, p := range start {
		pos[w] = append([]float64(nil), p...)
		lp[w] = logProb(p)
		if !math.IsInf(lp[w], -1) {
			anyFinite = true
		}
	}
	if !anyFinite {
		return nil, errors.New("all walkers start outside the posterior support")
	}

	var chain [][]float64
	accepted := 0
	for step := 0; step < steps; step++ {
		for w := 0; w < nw; w++ {
			other := rng.IntN(nw - 1)
			if other >= w {
				other++
			}
			z := math.Pow((a-1)*rng.Float64()+1, 2) / a

			prop := make([]float64, dim)
			for i := range prop {
				prop[i] = pos[other][i] + z*(pos[w][i]-pos[other][i])
			}
			lpProp := logProb(prop)

			logAccept := float64(dim-1)*math.Log(z) + lpProp - lp[w]
			if lpProp > math.Inf(-1) && math.Log(rng.Float64()) < logAccept {
				pos[w] = prop
				lp[w] = lpProp
				accepted++
			}
		}
		if step >= burnIn {
			for w := 0; w < nw; w++ {
				chain = append(chain, append([]float64(nil), pos[w]...))
			}
		}
	}

	if accepted == 0 {
		return nil, errors.New("sampler accepted no moves")
	}
	return chain, nil
}

func summarise(chain [][]float64, param int) Quantiles {
	vals := make([]float64, len(chain))
	for i, p := range chain {
		vals[i] = p[param]
	}
	sort.Float64s(vals)
	return Quantiles{
		Median: stat.Quantile(0.5, stat.Empirical, vals, nil),
		Lo:     stat.Quantile(0.05, stat.Empirical, vals, nil),
		Hi:     stat.Quantile(0.95, stat.Empirical, vals, nil),
	}
}
