// Package checkers provides the convergence predicates evaluated against the
// manager's run counters. A checker tree deciding when the whole run stops is
// built from these leaves with the cond combinators.
package checkers

import (
	"fmt"
	"time"

	"github.com/cwbudde/opthive/internal/cond"
)

// Context is the counter snapshot a checker may inspect. The manager builds
// one per evaluation; checkers never see mutable manager state.
type Context struct {
	FuncCalls   int
	ConvCount   int // workers that converged naturally
	KillCount   int // workers stopped by hunts
	OptsStarted int
	StartTime   time.Time
	Now         time.Time
}

// Checker is a node of a convergence decision tree.
type Checker = cond.Node[Context]

// AnyOf combines two checkers with OR semantics.
func AnyOf(a, b Checker) (Checker, error) {
	return cond.AnyOf(a, b)
}

// AllOf combines two checkers with AND semantics.
func AllOf(a, b Checker) (Checker, error) {
	return cond.AllOf(a, b)
}

// MaxSeconds converges the run once its wall time exceeds the limit.
type maxSeconds struct {
	limit time.Duration
}

func NewMaxSeconds(limit time.Duration) (Checker, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("checkers: max seconds limit must be positive, got %s", limit)
	}
	return cond.NewLeaf[Context](&maxSeconds{limit: limit}), nil
}

func (c *maxSeconds) Test(ctx Context) bool {
	return ctx.Now.Sub(ctx.StartTime) >= c.limit
}

func (c *maxSeconds) Name() string { return "MaxSeconds" }

func (c *maxSeconds) Params() []cond.KV {
	return []cond.KV{{Key: "limit", Value: c.limit}}
}

// MaxFuncCalls converges the run once the global function call counter
// reaches the limit.
type maxFuncCalls struct {
	limit int
}

func NewMaxFuncCalls(limit int) (Checker, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("checkers: max function calls must be positive, got %d", limit)
	}
	return cond.NewLeaf[Context](&maxFuncCalls{limit: limit}), nil
}

func (c *maxFuncCalls) Test(ctx Context) bool {
	return ctx.FuncCalls >= c.limit
}

func (c *maxFuncCalls) Name() string { return "MaxFuncCalls" }

func (c *maxFuncCalls) Params() []cond.KV {
	return []cond.KV{{Key: "limit", Value: c.limit}}
}

// NOptConverged converges the run once n workers have converged naturally.
type nOptConverged struct {
	n int
}

func NewNOptConverged(n int) (Checker, error) {
	if n <= 0 {
		return nil, fmt.Errorf("checkers: converged worker count must be positive, got %d", n)
	}
	return cond.NewLeaf[Context](&nOptConverged{n: n}), nil
}

func (c *nOptConverged) Test(ctx Context) bool {
	return ctx.ConvCount >= c.n
}

func (c *nOptConverged) Name() string { return "NOptConverged" }

func (c *nOptConverged) Params() []cond.KV {
	return []cond.KV{{Key: "n", Value: c.n}}
}

// MaxKills converges the run once n workers have been hunted.
type maxKills struct {
	n int
}

func NewMaxKills(n int) (Checker, error) {
	if n <= 0 {
		return nil, fmt.Errorf("checkers: kill count must be positive, got %d", n)
	}
	return cond.NewLeaf[Context](&maxKills{n: n}), nil
}

func (c *maxKills) Test(ctx Context) bool {
	return ctx.KillCount >= c.n
}

func (c *maxKills) Name() string { return "MaxKills" }

func (c *maxKills) Params() []cond.KV {
	return []cond.KV{{Key: "n", Value: c.n}}
}

// MaxOptsStarted converges the run once n workers have ever been launched.
type maxOptsStarted struct {
	n int
}

func NewMaxOptsStarted(n int) (Checker, error) {
	if n <= 0 {
		return nil, fmt.Errorf("checkers: started worker count must be positive, got %d", n)
	}
	return cond.NewLeaf[Context](&maxOptsStarted{n: n}), nil
}

func (c *maxOptsStarted) Test(ctx Context) bool {
	return ctx.OptsStarted >= c.n
}

func (c *maxOptsStarted) Name() string { return "MaxOptsStarted" }

func (c *maxOptsStarted) Params() []cond.KV {
	return []cond.KV{{Key: "n", Value: c.n}}
}

// KillsAfterConvergence converges the run after nKilled workers have been
// hunted following the point where nConverged workers converged naturally.
//
// The kill baseline is captured at the moment the convergence threshold is
// first reached, so hunts that happened before that moment do not count
// towards nKilled.
type killsAfterConvergence struct {
	nKilled    int
	nConverged int

	enoughConv   bool
	killBaseline int
}

func NewKillsAfterConvergence(nKilled, nConverged int) (Checker, error) {
	if nKilled < 0 {
		return nil, fmt.Errorf("checkers: kills after convergence must be non-negative, got %d", nKilled)
	}
	if nConverged <= 0 {
		return nil, fmt.Errorf("checkers: converged worker count must be positive, got %d", nConverged)
	}
	return cond.NewLeaf[Context](&killsAfterConvergence{nKilled: nKilled, nConverged: nConverged}), nil
}

func (c *killsAfterConvergence) Test(ctx Context) bool {
	if ctx.ConvCount >= c.nConverged && !c.enoughConv {
		c.enoughConv = true
		c.killBaseline = ctx.KillCount
	}
	return c.enoughConv && ctx.KillCount-c.killBaseline >= c.nKilled
}

func (c *killsAfterConvergence) Name() string { return "KillsAfterConvergence" }

func (c *killsAfterConvergence) Params() []cond.KV {
	return []cond.KV{
		{Key: "n_killed", Value: c.nKilled},
		{Key: "n_converged", Value: c.nConverged},
	}
}
