// Package hunters provides the pairwise kill predicates. A hunter tree is
// evaluated for every (hunter, victim) worker pair during a hunt round; a
// true result terminates the victim early.
package hunters

import (
	"fmt"
	"math"

	"github.com/cwbudde/opthive/internal/cond"
	"github.com/cwbudde/opthive/internal/regress"
	"github.com/cwbudde/opthive/internal/trace"
)

// Context carries one (hunter, victim) pairing plus read access to the
// trajectory store and the extrapolation engine.
type Context struct {
	HunterID int
	VictimID int
	Trace    *trace.Store
	Reg      *regress.Regressor
}

// Hunter is a node of a kill decision tree.
type Hunter = cond.Node[Context]

// AnyOf combines two hunters with OR semantics.
func AnyOf(a, b Hunter) (Hunter, error) {
	return cond.AnyOf(a, b)
}

// AllOf combines two hunters with AND semantics.
func AllOf(a, b Hunter) (Hunter, error) {
	return cond.AllOf(a, b)
}

// MinFuncCalls fires once the victim has evaluated the objective at least
// minPts times. Usually combined with AND to shield young workers from more
// aggressive hunters.
type minFuncCalls struct {
	minPts int
}

func NewMinFuncCalls(minPts int) (Hunter, error) {
	if minPts <= 0 {
		return nil, fmt.Errorf("hunters: min function calls must be positive, got %d", minPts)
	}
	return cond.NewLeaf[Context](&minFuncCalls{minPts: minPts}), nil
}

func (h *minFuncCalls) Test(ctx Context) bool {
	calls, err := ctx.Trace.History(ctx.VictimID, trace.FieldFCallOpt)
	if err != nil || len(calls) == 0 {
		return false
	}
	return calls[len(calls)-1] >= float64(h.minPts)
}

func (h *minFuncCalls) Name() string { return "MinFuncCalls" }

func (h *minFuncCalls) Params() []cond.KV {
	return []cond.KV{{Key: "min_pts", Value: h.minPts}}
}

// BestUnmoving fires when the victim's best value improved by less than a
// relative tolerance over its last window of function calls.
type bestUnmoving struct {
	window int
	tol    float64
}

func NewBestUnmoving(window int, tol float64) (Hunter, error) {
	if window <= 0 {
		return nil, fmt.Errorf("hunters: window must be positive, got %d", window)
	}
	if tol <= 0 || tol >= 1 {
		return nil, fmt.Errorf("hunters: tolerance must be in (0, 1), got %g", tol)
	}
	return cond.NewLeaf[Context](&bestUnmoving{window: window, tol: tol}), nil
}

func (h *bestUnmoving) Test(ctx Context) bool {
	best, err := ctx.Trace.History(ctx.VictimID, trace.FieldFxBest)
	if err != nil {
		return false
	}
	calls, err := ctx.Trace.History(ctx.VictimID, trace.FieldFCallOpt)
	if err != nil || len(best) == 0 {
		return false
	}

	last := len(calls) - 1
	cutoff := calls[last] - float64(h.window)
	if calls[0] > cutoff {
		// Not enough history to cover the window yet.
		return false
	}

	// Index of the newest point at or before the window start.
	ref := 0
	for i := last; i >= 0; i-- {
		if calls[i] <= cutoff {
			ref = i
			break
		}
	}

	then, now := best[ref], best[last]
	if then == 0 {
		return now == then
	}
	return math.Abs(then-now)/math.Abs(then) < h.tol
}

func (h *bestUnmoving) Name() string { return "BestUnmoving" }

func (h *bestUnmoving) Params() []cond.KV {
	return []cond.KV{
		{Key: "window", Value: h.window},
		{Key: "tol", Value: h.tol},
	}
}

// ValBelowAsymptote fires when the hunter's current best value is already
// below the victim's projected final value. The victim's trajectory of best
// values is fitted with the decay model; the 5% posterior quantile of the
// asymptote gives the credible lower bound on where the victim will end up.
type valBelowAsymptote struct {
	sampler regress.SamplerConfig
}

func NewValBelowAsymptote(sampler regress.SamplerConfig) (Hunter, error) {
	if sampler.Walkers < 4 || sampler.Steps <= sampler.BurnIn {
		return nil, fmt.Errorf("hunters: invalid sampler config %+v", sampler)
	}
	return cond.NewLeaf[Context](&valBelowAsymptote{sampler: sampler}), nil
}

func (h *valBelowAsymptote) Test(ctx Context) bool {
	hunterBest, err := ctx.Trace.History(ctx.HunterID, trace.FieldFxBest)
	if err != nil || len(hunterBest) == 0 {
		return false
	}
	victimBest, err := ctx.Trace.History(ctx.VictimID, trace.FieldFxBest)
	if err != nil || len(victimBest) < 3 {
		return false
	}
	victimCalls, err := ctx.Trace.History(ctx.VictimID, trace.FieldFCallOpt)
	if err != nil {
		return false
	}

	iv, err := ctx.Reg.EstimateInterval(victimCalls, victimBest, h.sampler, ctx.VictimID)
	if err != nil || math.IsNaN(iv.Asymptote.Lo) {
		// Degraded estimates are too unreliable to kill on.
		return false
	}

	// The asymptote is a fraction of the victim's starting value.
	threshold := iv.Asymptote.Lo * victimBest[0]
	return hunterBest[len(hunterBest)-1] < threshold
}

func (h *valBelowAsymptote) Name() string { return "ValBelowAsymptote" }

func (h *valBelowAsymptote) Params() []cond.KV {
	return []cond.KV{
		{Key: "walkers", Value: h.sampler.Walkers},
		{Key: "steps", Value: h.sampler.Steps},
	}
}

// TimeAnnealing spares victims probabilistically based on how long they have
// run relative to the hunter: the older the victim, the likelier the kill.
type timeAnnealing struct {
	critRatio float64
	unit      func() float64 // uniform [0,1) source, injected for testing
}

func NewTimeAnnealing(critRatio float64, unit func() float64) (Hunter, error) {
	if critRatio <= 0 {
		return nil, fmt.Errorf("hunters: critical ratio must be positive, got %g", critRatio)
	}
	if unit == nil {
		return nil, fmt.Errorf("hunters: uniform source must not be nil")
	}
	return cond.NewLeaf[Context](&timeAnnealing{critRatio: critRatio, unit: unit}), nil
}

func (h *timeAnnealing) Test(ctx Context) bool {
	hunterCalls, err := ctx.Trace.History(ctx.HunterID, trace.FieldFCallOpt)
	if err != nil || len(hunterCalls) == 0 || hunterCalls[len(hunterCalls)-1] == 0 {
		return false
	}
	victimCalls, err := ctx.Trace.History(ctx.VictimID, trace.FieldFCallOpt)
	if err != nil || len(victimCalls) == 0 {
		return false
	}

	ratio := victimCalls[len(victimCalls)-1] / hunterCalls[len(hunterCalls)-1]
	pKill := 1 - math.Exp(-ratio/h.critRatio)
	return h.unit() < pKill
}

func (h *timeAnnealing) Name() string { return "TimeAnnealing" }

func (h *timeAnnealing) Params() []cond.KV {
	return []cond.KV{{Key: "crit_ratio", Value: h.critRatio}}
}
