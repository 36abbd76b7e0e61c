package hunters

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/opthive/internal/regress"
	"github.com/cwbudde/opthive/internal/trace"
)

// appendSeries records a best-value trajectory for a worker, one point per
// entry with ten function calls between points.
func appendSeries(t *testing.T, tr *trace.Store, optID int, fx []float64) {
	t.Helper()
	for i, v := range fx {
		require.NoError(t, tr.Append(optID, i, (i+1)*10, []float64{v}, v))
	}
}

func TestConstructorsRejectBadConfig(t *testing.T) {
	_, err := NewMinFuncCalls(0)
	assert.Error(t, err)
	_, err = NewBestUnmoving(0, 0.1)
	assert.Error(t, err)
	_, err = NewBestUnmoving(10, 1.5)
	assert.Error(t, err)
	_, err = NewValBelowAsymptote(regress.SamplerConfig{Walkers: 2, Steps: 100, BurnIn: 10})
	assert.Error(t, err)
	_, err = NewValBelowAsymptote(regress.SamplerConfig{Walkers: 8, Steps: 10, BurnIn: 10})
	assert.Error(t, err)
	_, err = NewTimeAnnealing(0, func() float64 { return 0 })
	assert.Error(t, err)
	_, err = NewTimeAnnealing(1, nil)
	assert.Error(t, err)
}

func TestMinFuncCalls(t *testing.T) {
	tr := trace.NewStore()
	appendSeries(t, tr, 2, []float64{5, 4, 3}) // 30 calls total

	h, err := NewMinFuncCalls(50)
	require.NoError(t, err)
	ctx := Context{HunterID: 1, VictimID: 2, Trace: tr}

	assert.False(t, h.Evaluate(ctx), "victim below the call threshold")

	appendSeries2 := []float64{2.5, 2.2}
	for i, v := range appendSeries2 {
		require.NoError(t, tr.Append(2, 3+i, 40+(i+1)*10, []float64{v}, v))
	}
	assert.True(t, h.Evaluate(ctx), "victim reached the call threshold")
}

func TestMinFuncCallsNoHistory(t *testing.T) {
	tr := trace.NewStore()
	h, err := NewMinFuncCalls(10)
	require.NoError(t, err)

	assert.False(t, h.Evaluate(Context{HunterID: 1, VictimID: 9, Trace: tr}))
}

func TestBestUnmoving(t *testing.T) {
	tr := trace.NewStore()

	// Worker 2 stalls: after an initial drop its best barely moves.
	stalled := []float64{10, 5, 4.99, 4.985, 4.984, 4.984, 4.9839}
	appendSeries(t, tr, 2, stalled)

	// Worker 3 keeps improving across the same window.
	improving := []float64{10, 8, 6, 4.5, 3.4, 2.5, 1.9}
	appendSeries(t, tr, 3, improving)

	h, err := NewBestUnmoving(40, 0.01)
	require.NoError(t, err)

	assert.True(t, h.Evaluate(Context{HunterID: 1, VictimID: 2, Trace: tr}))
	assert.False(t, h.Evaluate(Context{HunterID: 1, VictimID: 3, Trace: tr}))
}

func TestBestUnmovingShortHistory(t *testing.T) {
	tr := trace.NewStore()
	appendSeries(t, tr, 2, []float64{10, 9}) // 20 calls, window needs 40

	h, err := NewBestUnmoving(40, 0.01)
	require.NoError(t, err)

	assert.False(t, h.Evaluate(Context{HunterID: 1, VictimID: 2, Trace: tr}),
		"too little history to judge")
}

func TestValBelowAsymptote(t *testing.T) {
	tr := trace.NewStore()
	reg := regress.New()

	// Victim decays towards half its starting value: y0 = 10, asymptote 5.
	victim := make([]float64, 40)
	for i := range victim {
		tt := float64((i + 1) * 10)
		victim[i] = 10 * (0.5*math.Exp(-0.01*tt) + 0.5)
	}
	appendSeries(t, tr, 2, victim)

	cfg := regress.SamplerConfig{Walkers: 16, Steps: 600, BurnIn: 150, Seed: 7}
	h, err := NewValBelowAsymptote(cfg)
	require.NoError(t, err)

	// A hunter already far below anything the victim can reach should kill.
	appendSeries(t, tr, 1, []float64{0.5, 0.2, 0.1})
	assert.True(t, h.Evaluate(Context{HunterID: 1, VictimID: 2, Trace: tr, Reg: reg}))

	// A hunter well above the victim's projection should not.
	appendSeries(t, tr, 3, []float64{30, 25, 20})
	assert.False(t, h.Evaluate(Context{HunterID: 3, VictimID: 2, Trace: tr, Reg: reg}))
}

func TestValBelowAsymptoteTooFewPoints(t *testing.T) {
	tr := trace.NewStore()
	reg := regress.New()
	appendSeries(t, tr, 1, []float64{1})
	appendSeries(t, tr, 2, []float64{10, 9})

	h, err := NewValBelowAsymptote(regress.DefaultSamplerConfig())
	require.NoError(t, err)

	assert.False(t, h.Evaluate(Context{HunterID: 1, VictimID: 2, Trace: tr, Reg: reg}))
}

func TestTimeAnnealing(t *testing.T) {
	tr := trace.NewStore()
	appendSeries(t, tr, 1, []float64{5, 4})          // hunter: 20 calls
	appendSeries(t, tr, 2, []float64{9, 8, 7, 6, 5}) // victim: 50 calls

	// ratio = 50/20 = 2.5; with critRatio = 1, pKill = 1 - exp(-2.5) ~ 0.918.
	pKill := 1 - math.Exp(-2.5)

	always, err := NewTimeAnnealing(1, func() float64 { return pKill - 0.01 })
	require.NoError(t, err)
	assert.True(t, always.Evaluate(Context{HunterID: 1, VictimID: 2, Trace: tr}))

	never, err := NewTimeAnnealing(1, func() float64 { return pKill + 0.01 })
	require.NoError(t, err)
	assert.False(t, never.Evaluate(Context{HunterID: 1, VictimID: 2, Trace: tr}))
}

func TestTimeAnnealingYoungVictim(t *testing.T) {
	tr := trace.NewStore()
	appendSeries(t, tr, 1, []float64{5, 4, 3, 2, 1}) // hunter: 50 calls
	appendSeries(t, tr, 2, []float64{9})             // victim: 10 calls

	// ratio = 0.2, pKill = 1 - exp(-0.2) ~ 0.181: a high draw spares it.
	h, err := NewTimeAnnealing(1, func() float64 { return 0.5 })
	require.NoError(t, err)
	assert.False(t, h.Evaluate(Context{HunterID: 1, VictimID: 2, Trace: tr}))
}

func TestHunterTreeShieldsYoungWorkers(t *testing.T) {
	tr := trace.NewStore()
	appendSeries(t, tr, 2, []float64{10, 10, 10}) // stalled but only 30 calls

	shield, err := NewMinFuncCalls(100)
	require.NoError(t, err)
	stall, err := NewBestUnmoving(20, 0.01)
	require.NoError(t, err)
	tree, err := AllOf(shield, stall)
	require.NoError(t, err)

	assert.False(t, tree.Evaluate(Context{HunterID: 1, VictimID: 2, Trace: tr}))
	assert.Equal(t,
		"[MinFuncCalls(min_pts=100) = false AND \nBestUnmoving(window=20, tol=0.01) = unknown] = false",
		tree.DescribeWithResult())
}
