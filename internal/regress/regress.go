package regress

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/avast/retry-go/v4"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
	"lukechampine.com/frand"
)

// ErrEstimationDegraded signals that the numerical fit did not converge and a
// rough closed-form estimate was returned instead. Non-fatal: callers may use
// the degraded result, it is simply less reliable.
var ErrEstimationDegraded = errors.New("regress: estimation degraded, result is a rough estimate")

const fitAttempts = 10

// Regressor fits the decay model to trajectory data. The embedded cache is
// owned by the instance; nothing here is process-global.
type Regressor struct {
	cache *cache
	fits  atomic.Uint64 // number of actual fit computations, for cache tests
}

// New creates a Regressor with an empty cache.
func New() *Regressor {
	return &Regressor{cache: newCache()}
}

// EstimatePoint returns the maximum likelihood estimate of the decay model
// parameters for the series y observed at times t.
//
// A key > 0 enables caching: if the content hash of (t, y) matches the last
// fit stored under key, the cached result is returned without recomputation.
// Both successful and degraded fits are written back to the cache.
func (r *Regressor) EstimatePoint(t, y []float64, key int) (Fit, error) {
	if len(t) != len(y) {
		return Fit{}, fmt.Errorf("regress: series length mismatch: %d vs %d", len(t), len(y))
	}
	if len(t) < 3 {
		return Fit{}, fmt.Errorf("regress: need at least 3 points, got %d", len(t))
	}

	if key > 0 {
		lk := r.cache.keyLock(key)
		lk.Lock()
		defer lk.Unlock()

		h := hashSeries(t, y)
		if e, ok := r.cache.getPoint(key); ok && e.hash == h {
			return e.fit, nil
		}
		fit, err := r.fit(t, y)
		r.cache.setPoint(key, pointEntry{hash: h, fit: fit})
		return fit, err
	}

	return r.fit(t, y)
}

func (r *Regressor) fit(t, y []float64) (Fit, error) {
	r.fits.Add(1)

	u := normalise(y)
	guess := initialGuess(t, y, u)

	seed := []float64{guess.Decay, guess.Asymptote, guess.Noise}
	problem := optimize.Problem{
		Func: func(p []float64) float64 {
			if !inBounds(p) {
				return math.Inf(1)
			}
			return -logLikelihood(p, t, u)
		},
	}

	var fit Fit
	attempt := 0
	err := retry.Do(
		func() error {
			x0 := make([]float64, 3)
			copy(x0, seed)
			if attempt > 0 {
				// Perturb the seed to escape a bad starting simplex.
				for i := range x0 {
					x0[i] = clampInterior(x0[i]*(0.75+0.5*frand.Float64()), i)
				}
			} else {
				for i := range x0 {
					x0[i] = clampInterior(x0[i], i)
				}
			}
			attempt++

			res, err := optimize.Minimize(problem, x0, nil, &optimize.NelderMead{})
			if err != nil {
				return fmt.Errorf("minimize failed: %w", err)
			}
			if !inBounds(res.X) || math.IsInf(res.F, 0) || math.IsNaN(res.F) {
				return errors.New("minimize left the feasible region")
			}
			fit = Fit{Decay: res.X[0], Asymptote: res.X[1], Noise: res.X[2]}
			return nil
		},
		retry.Attempts(fitAttempts),
		retry.Delay(0),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return guess, fmt.Errorf("%w: %v", ErrEstimationDegraded, err)
	}
	return fit, nil
}

// clampInterior pulls a value strictly inside the bounds of parameter i so
// the Nelder-Mead starting simplex does not sit on the boundary.
func clampInterior(v float64, i int) float64 {
	lo, hi := bounds[i][0], bounds[i][1]
	margin := (hi - lo) * 1e-3
	return clamp(v, lo+margin, hi-margin)
}

// initialGuess produces a closed-form seed from a log-linear fit of the
// decayed signal, mirroring the structure of the full model.
func initialGuess(t, y, u []float64) Fit {
	minY := y[0]
	for _, v := range y {
		if v < minY {
			minY = v
		}
	}

	ly := make([]float64, len(y))
	ok := true
	for i, v := range y {
		d := v - minY + 0.01
		if d <= 0 {
			ok = false
			break
		}
		ly[i] = math.Log(d)
	}

	b, c, s := 1e-3, clamp(u[len(u)-1], 1e-3, 0.999), 1e-3
	if ok {
		alpha, beta := stat.LinearRegression(t, ly, nil, false)
		if !math.IsNaN(alpha) && !math.IsNaN(beta) {
			b = clamp(-beta, 1e-4, 4.999)
			var absResid float64
			for i, ti := range t {
				absResid += math.Abs(y[i]-math.Exp(alpha+beta*ti)) / math.Abs(y[0])
			}
			s = clamp(absResid/float64(len(y)), 1e-4, 0.4999)
		}
	}
	return Fit{Decay: b, Asymptote: c, Noise: s}
}
