package manager

import (
	"sort"
	"sync"
	"time"

	"github.com/cwbudde/opthive/internal/checkers"
)

// Counters is the process-wide run state. It is mutated only by the
// orchestration loop (single writer); hunt and convergence evaluations read
// consistent snapshots.
type Counters struct {
	mu          sync.RWMutex
	fCalls      int
	convCount   int
	killCount   int
	optsStarted int
	startTime   time.Time
	huntVictims map[int]struct{}
}

// NewCounters creates run counters for a run starting at start.
func NewCounters(start time.Time) *Counters {
	return &Counters{
		startTime:   start,
		huntVictims: make(map[int]struct{}),
	}
}

func (c *Counters) AddCalls(n int) {
	c.mu.Lock()
	c.fCalls += n
	c.mu.Unlock()
}

func (c *Counters) IncConverged() {
	c.mu.Lock()
	c.convCount++
	c.mu.Unlock()
}

func (c *Counters) IncStarted() {
	c.mu.Lock()
	c.optsStarted++
	c.mu.Unlock()
}

// RecordKill adds optID to the victim set and bumps the kill counter.
func (c *Counters) RecordKill(optID int) {
	c.mu.Lock()
	c.huntVictims[optID] = struct{}{}
	c.killCount++
	c.mu.Unlock()
}

// FuncCalls returns the cumulative function call count.
func (c *Counters) FuncCalls() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fCalls
}

// KillCount returns the number of hunted workers.
func (c *Counters) KillCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.killCount
}

// Victims returns the sorted ids of all hunted workers.
func (c *Counters) Victims() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]int, 0, len(c.huntVictims))
	for id := range c.huntVictims {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// Snapshot returns the checker view of the counters at the given time.
func (c *Counters) Snapshot(now time.Time) checkers.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return checkers.Context{
		FuncCalls:   c.fCalls,
		ConvCount:   c.convCount,
		KillCount:   c.killCount,
		OptsStarted: c.optsStarted,
		StartTime:   c.startTime,
		Now:         now,
	}
}

// CountersState is the serialized form of Counters for checkpoints.
type CountersState struct {
	FCalls      int       `json:"fCalls"`
	ConvCount   int       `json:"convCount"`
	KillCount   int       `json:"killCount"`
	OptsStarted int       `json:"optsStarted"`
	StartTime   time.Time `json:"startTime"`
	HuntVictims []int     `json:"huntVictims"`
}

// State captures the counters for serialization.
func (c *Counters) State() CountersState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	victims := make([]int, 0, len(c.huntVictims))
	for id := range c.huntVictims {
		victims = append(victims, id)
	}
	sort.Ints(victims)
	return CountersState{
		FCalls:      c.fCalls,
		ConvCount:   c.convCount,
		KillCount:   c.killCount,
		OptsStarted: c.optsStarted,
		StartTime:   c.startTime,
		HuntVictims: victims,
	}
}

// RestoreCounters rebuilds counters from a checkpointed state.
func RestoreCounters(s CountersState) *Counters {
	c := NewCounters(s.StartTime)
	c.fCalls = s.FCalls
	c.convCount = s.ConvCount
	c.killCount = s.KillCount
	c.optsStarted = s.OptsStarted
	for _, id := range s.HuntVictims {
		c.huntVictims[id] = struct{}{}
	}
	return c
}
