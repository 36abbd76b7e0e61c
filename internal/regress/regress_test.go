package regress

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decaySeries builds n observations of y0*((1-c)*exp(-b*t)+c) at t = 0..n-1
// with a small deterministic wobble so the noise parameter has an interior
// optimum.
func decaySeries(n int, y0, b, c float64) (t, y []float64) {
	t = make([]float64, n)
	y = make([]float64, n)
	for i := 0; i < n; i++ {
		ti := float64(i)
		t[i] = ti
		y[i] = y0*((1-c)*math.Exp(-b*ti)+c) + 0.01*y0*math.Sin(ti)
	}
	return t, y
}

func TestEstimatePointInputValidation(t *testing.T) {
	r := New()

	_, err := r.EstimatePoint([]float64{1, 2}, []float64{1}, 0)
	assert.Error(t, err)
	_, err = r.EstimatePoint([]float64{1, 2}, []float64{3, 2}, 0)
	assert.Error(t, err)
}

func TestEstimatePointRecoversParameters(t *testing.T) {
	ts, ys := decaySeries(50, 10, 0.2, 0.3)

	r := New()
	fit, err := r.EstimatePoint(ts, ys, 0)
	require.NoError(t, err)

	assert.InDelta(t, 0.2, fit.Decay, 0.05)
	assert.InDelta(t, 0.3, fit.Asymptote, 0.03)
	assert.Less(t, fit.Noise, 0.05)
}

func TestEstimatePointHandlesNegativeValues(t *testing.T) {
	ts, ys := decaySeries(50, 10, 0.2, 0.3)
	for i := range ys {
		ys[i] -= 5 // asymptote now below zero
	}

	r := New()
	_, err := r.EstimatePoint(ts, ys, 0)
	require.NoError(t, err)
}

func TestEstimatePointCacheHit(t *testing.T) {
	ts, ys := decaySeries(50, 10, 0.2, 0.3)

	r := New()
	first, err := r.EstimatePoint(ts, ys, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r.fits.Load())

	second, err := r.EstimatePoint(ts, ys, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r.fits.Load(), "identical input must be served from cache")
	assert.Equal(t, first, second)
}

func TestEstimatePointCacheMissOnNewData(t *testing.T) {
	ts, ys := decaySeries(50, 10, 0.2, 0.3)

	r := New()
	_, err := r.EstimatePoint(ts, ys, 3)
	require.NoError(t, err)

	// A grown series is new content under the same key.
	ts2, ys2 := decaySeries(60, 10, 0.2, 0.3)
	_, err = r.EstimatePoint(ts2, ys2, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r.fits.Load())
}

func TestEstimatePointCacheMissOnReorder(t *testing.T) {
	ts, ys := decaySeries(50, 10, 0.2, 0.3)

	r := New()
	_, err := r.EstimatePoint(ts, ys, 3)
	require.NoError(t, err)

	// Same values in a different order must not be treated as the
	// cached series.
	ys[10], ys[20] = ys[20], ys[10]
	_, err = r.EstimatePoint(ts, ys, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r.fits.Load())
}

func TestEstimatePointKeysAreIndependent(t *testing.T) {
	ts, ys := decaySeries(50, 10, 0.2, 0.3)

	r := New()
	_, err := r.EstimatePoint(ts, ys, 1)
	require.NoError(t, err)
	_, err = r.EstimatePoint(ts, ys, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r.fits.Load(), "each key caches its own fit")
}

func TestEstimatePointZeroKeyDisablesCache(t *testing.T) {
	ts, ys := decaySeries(50, 10, 0.2, 0.3)

	r := New()
	_, err := r.EstimatePoint(ts, ys, 0)
	require.NoError(t, err)
	_, err = r.EstimatePoint(ts, ys, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r.fits.Load())
}

func TestEstimateIntervalSanity(t *testing.T) {
	ts, ys := decaySeries(50, 10, 0.2, 0.3)

	r := New()
	cfg := SamplerConfig{Walkers: 16, Steps: 500, BurnIn: 100, Seed: 42}
	iv, err := r.EstimateInterval(ts, ys, cfg, 0)
	require.NoError(t, err)

	for _, q := range []Quantiles{iv.Decay, iv.Asymptote, iv.Noise} {
		assert.False(t, math.IsNaN(q.Lo))
		assert.LessOrEqual(t, q.Lo, q.Median)
		assert.LessOrEqual(t, q.Median, q.Hi)
	}
	assert.InDelta(t, 0.2, iv.Decay.Median, 0.1)
	assert.InDelta(t, 0.3, iv.Asymptote.Median, 0.05)
}

func TestEstimateIntervalCacheHit(t *testing.T) {
	ts, ys := decaySeries(50, 10, 0.2, 0.3)

	r := New()
	cfg := SamplerConfig{Walkers: 16, Steps: 400, BurnIn: 100, Seed: 7}
	first, err := r.EstimateInterval(ts, ys, cfg, 5)
	require.NoError(t, err)
	fitsAfterFirst := r.fits.Load()

	second, err := r.EstimateInterval(ts, ys, cfg, 5)
	require.NoError(t, err)
	assert.Equal(t, fitsAfterFirst, r.fits.Load(), "cached interval must not refit")
	assert.Equal(t, first, second)
}

func TestEstimateIntervalRejectsBadConfig(t *testing.T) {
	ts, ys := decaySeries(10, 10, 0.2, 0.3)

	r := New()
	_, err := r.EstimateInterval(ts, ys, SamplerConfig{Walkers: 2, Steps: 100, BurnIn: 10}, 0)
	assert.Error(t, err)
	_, err = r.EstimateInterval(ts, ys, SamplerConfig{Walkers: 8, Steps: 50, BurnIn: 50}, 0)
	assert.Error(t, err)
}

func TestHashSeriesOrderSensitive(t *testing.T) {
	ts := []float64{1, 2, 3}
	a := []float64{5, 4, 3}
	b := []float64{3, 4, 5}

	assert.NotEqual(t, hashSeries(ts, a), hashSeries(ts, b))
	assert.Equal(t, hashSeries(ts, a), hashSeries([]float64{1, 2, 3}, []float64{5, 4, 3}))
}

func TestNormalise(t *testing.T) {
	u := normalise([]float64{10, 5, 2.5})
	assert.InDelta(t, 1.0, u[0], 1e-12)
	assert.InDelta(t, 0.5, u[1], 1e-12)

	// Non-positive series are shifted before scaling.
	u = normalise([]float64{2, 0, -4})
	assert.InDelta(t, 1.0, u[0], 1e-12)
	for _, v := range u {
		assert.Greater(t, v, 0.0)
	}
}
