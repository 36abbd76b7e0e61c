// Package manager runs the hunt/convergence orchestration loop: it launches
// optimizer workers, drains their trajectories, periodically evaluates hunter
// trees over worker pairs and the checker tree over run counters, and
// triggers checkpointing.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/opthive/internal/checkers"
	"github.com/cwbudde/opthive/internal/checkpoint"
	"github.com/cwbudde/opthive/internal/hunters"
	"github.com/cwbudde/opthive/internal/opt"
	"github.com/cwbudde/opthive/internal/regress"
	"github.com/cwbudde/opthive/internal/trace"
)

// State is the lifecycle state of the whole run.
type State string

const (
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateConverging State = "converging"
	StateStopped    State = "stopped"
)

// Options tunes the orchestration loop.
type Options struct {
	// HuntInterval is the cadence of hunt rounds. Zero means the default
	// cadence; a negative value disables hunting even if a hunter tree is
	// configured.
	HuntInterval time.Duration

	// PollInterval is the loop's drain/evaluate cadence.
	PollInterval time.Duration

	// Grace is how long a stopped worker may take to exit cooperatively.
	Grace time.Duration

	// SummaryPath, when set, receives the YAML run summary on shutdown.
	SummaryPath string

	// Checkpoint enables checkpointing when non-nil.
	Checkpoint *checkpoint.Controller

	// NewOptimizer overrides the optimizer factory, mainly for tests.
	NewOptimizer func(opt.Config) (opt.Optimizer, error)
}

// Manager owns all worker lifecycle state and the run counters.
type Manager struct {
	runID     string
	opts      Options
	objective opt.Objective
	checker   checkers.Checker
	hunter    hunters.Hunter

	tr       *trace.Store
	reg      *regress.Regressor
	counters *Counters
	handles  map[int]*WorkerHandle
	state    State
	pool     WorkerControl

	restored bool
}

// New creates a manager for the given objective. The checker tree decides
// run convergence and is required; the hunter tree is optional.
func New(objective opt.Objective, checker checkers.Checker, hunter hunters.Hunter, opts Options) (*Manager, error) {
	if objective == nil {
		return nil, errors.New("manager: objective must not be nil")
	}
	if checker == nil {
		return nil, errors.New("manager: checker tree must not be nil")
	}
	if opts.HuntInterval == 0 {
		opts.HuntInterval = 500 * time.Millisecond
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 50 * time.Millisecond
	}
	if opts.Grace <= 0 {
		opts.Grace = 5 * time.Second
	}

	return &Manager{
		runID:     uuid.New().String(),
		opts:      opts,
		objective: objective,
		checker:   checker,
		hunter:    hunter,
		tr:        trace.NewStore(),
		reg:       regress.New(),
		handles:   make(map[int]*WorkerHandle),
		state:     StateStarting,
	}, nil
}

// State returns the run's lifecycle state.
func (m *Manager) State() State { return m.state }

// RunID returns the unique id of this run.
func (m *Manager) RunID() string { return m.runID }

// Counters returns the run counters. Read-only for callers.
func (m *Manager) Counters() *Counters { return m.counters }

// Trace returns the trajectory store.
func (m *Manager) Trace() *trace.Store { return m.tr }

// Workers returns the worker handles sorted by id.
func (m *Manager) Workers() []WorkerHandle {
	ids := make([]int, 0, len(m.handles))
	for id := range m.handles {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]WorkerHandle, 0, len(ids))
	for _, id := range ids {
		out = append(out, *m.handles[id])
	}
	return out
}

// Run executes the whole optimization run: it launches one worker per config
// (plus any workers restored from a checkpoint), drives hunt rounds and
// convergence checks, and shuts everything down once the checker tree fires
// or ctx is cancelled. A summary is produced even when the run errors.
func (m *Manager) Run(ctx context.Context, configs []opt.Config) (*Summary, error) {
	m.state = StateStarting
	if m.counters == nil {
		m.counters = NewCounters(time.Now())
	}
	m.pool = NewPool(ctx, m.objective, m.opts.Grace, m.opts.NewOptimizer)

	cp := m.opts.Checkpoint
	if cp != nil && cp.Options().AtInit {
		if err := m.writeCheckpoint(ctx); err != nil {
			return nil, err
		}
	}

	// Relaunch workers that were mid-flight when the checkpoint was taken.
	if m.restored {
		for _, h := range m.Workers() {
			if h.State != WorkerRunning {
				continue
			}
			if err := m.pool.StartWithID(h.ID, h.Config); err != nil {
				return nil, err
			}
			slog.Info("Resumed worker", "opt_id", h.ID, "algorithm", h.Algorithm)
		}
	}
	for _, cfg := range configs {
		if _, err := m.startWorker(cfg); err != nil {
			return nil, err
		}
	}

	m.state = StateRunning
	slog.Info("Run started", "run_id", m.runID, "workers", len(m.handles))

	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	lastHunt := time.Now()
	converged := false
	var runErr error

loop:
	for {
		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			break loop
		case <-ticker.C:
		}

		m.drainUpdates()
		m.drainExits()

		now := time.Now()
		if m.hunter != nil && m.opts.HuntInterval > 0 && now.Sub(lastHunt) >= m.opts.HuntInterval {
			m.huntRound()
			lastHunt = now
		}

		if m.checkConvergence(now) {
			converged = true
			break loop
		}

		if cp != nil && cp.Due(now, m.counters.FuncCalls()) {
			if err := m.writeCheckpoint(ctx); err != nil {
				runErr = err
				break loop
			}
		}
	}

	m.state = StateConverging
	if converged {
		slog.Info("Run converged", "run_id", m.runID,
			"condition", m.checker.DescribeWithResult())
		if cp != nil && cp.Options().AtConv {
			if err := m.writeCheckpoint(ctx); err != nil && runErr == nil {
				runErr = err
			}
		}
	}

	m.shutdown(converged)
	m.state = StateStopped

	summary := m.buildSummary()
	if m.opts.SummaryPath != "" {
		if err := summary.WriteFile(m.opts.SummaryPath); err != nil {
			slog.Error("Failed to write run summary", "path", m.opts.SummaryPath, "error", err)
		}
	}
	return summary, runErr
}

// startWorker launches a worker for cfg. A config without a start point gets
// one drawn uniformly within its bounds; the generated point is kept in the
// worker's handle so a resumed run restarts from the same place.
func (m *Manager) startWorker(cfg opt.Config) (int, error) {
	if cfg.Start == nil {
		gen, err := opt.NewRandomGenerator(cfg.Lower, cfg.Upper)
		if err != nil {
			return 0, err
		}
		cfg.Start = gen.Generate()
	}
	id, err := m.pool.Start(cfg)
	if err != nil {
		return 0, err
	}
	m.handles[id] = &WorkerHandle{
		ID:        id,
		Algorithm: cfg.Algorithm,
		State:     WorkerRunning,
		StartTime: time.Now(),
		Config:    cfg,
	}
	m.tr.Register(id)
	m.counters.IncStarted()
	slog.Info("Worker started", "opt_id", id, "algorithm", cfg.Algorithm)
	return id, nil
}

// drainUpdates moves all currently available trajectory points into the
// store. A final in-flight point from an already killed worker is accepted
// as long as its id is known.
func (m *Manager) drainUpdates() {
	for {
		select {
		case u := <-m.pool.Updates():
			h, ok := m.handles[u.OptID]
			if !ok {
				continue
			}
			fcalls := h.FCalls + u.Iter.NewCalls
			if err := m.tr.Append(u.OptID, u.Iter.Index, fcalls, u.Iter.X, u.Iter.Fx); err != nil {
				slog.Warn("Dropped trajectory point", "opt_id", u.OptID, "error", err)
				continue
			}
			h.FCalls = fcalls
			m.counters.AddCalls(u.Iter.NewCalls)
		default:
			return
		}
	}
}

// drainExits records natural worker terminations. Workers the manager killed
// already carry their final state; everything else that exits cleanly counts
// as naturally converged.
func (m *Manager) drainExits() {
	for {
		select {
		case e := <-m.pool.Exits():
			h, ok := m.handles[e.OptID]
			if !ok {
				continue
			}
			now := time.Now()
			if h.StopTime == nil {
				h.StopTime = &now
			}
			if h.State != WorkerRunning {
				continue
			}
			if errors.Is(e.Err, context.Canceled) {
				// Stopped by the manager; whoever requested the stop owns
				// the final state and reason.
				continue
			}
			if e.Err != nil {
				h.State = WorkerKilled
				h.StopReason = fmt.Sprintf("optimizer failed: %v", e.Err)
				slog.Error("Worker failed", "opt_id", e.OptID, "error", e.Err)
				continue
			}
			h.State = WorkerConverged
			h.StopReason = "optimizer converged"
			m.counters.IncConverged()
			slog.Info("Worker converged", "opt_id", e.OptID)
		default:
			return
		}
	}
}

// huntRound evaluates the hunter tree for every ordered (hunter, victim)
// pair. Kills take effect immediately: a victim killed earlier in the round
// is excluded as hunter and victim for the remaining pairs.
func (m *Manager) huntRound() {
	ids := make([]int, 0, len(m.handles))
	for id := range m.handles {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	killedNow := make(map[int]bool)
	for _, hunterID := range ids {
		hh := m.handles[hunterID]
		if killedNow[hunterID] || hh.State == WorkerKilled || m.tr.Len(hunterID) == 0 {
			continue
		}
		for _, victimID := range ids {
			vh := m.handles[victimID]
			if victimID == hunterID || killedNow[victimID] || vh.State != WorkerRunning {
				continue
			}
			hctx := hunters.Context{
				HunterID: hunterID,
				VictimID: victimID,
				Trace:    m.tr,
				Reg:      m.reg,
			}
			if m.safeEvalHunter(hctx) {
				m.kill(victimID, fmt.Sprintf("hunted by worker %d", hunterID))
				killedNow[victimID] = true
			}
		}
	}
}

// safeEvalHunter evaluates the hunter tree, demoting a panicking leaf to a
// non-triggering result for this round instead of aborting the run.
func (m *Manager) safeEvalHunter(hctx hunters.Context) (result bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Hunter evaluation failed",
				"hunter", hctx.HunterID, "victim", hctx.VictimID, "panic", r)
			result = false
		}
	}()
	return m.hunter.Evaluate(hctx)
}

func (m *Manager) checkConvergence(now time.Time) (result bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Convergence evaluation failed", "panic", r)
			result = false
		}
	}()
	return m.checker.Evaluate(m.counters.Snapshot(now))
}

// kill transitions the victim to killed and requests cooperative termination.
func (m *Manager) kill(victimID int, reason string) {
	h := m.handles[victimID]
	now := time.Now()
	h.State = WorkerKilled
	h.StopTime = &now
	h.StopReason = reason
	m.counters.RecordKill(victimID)
	m.pool.RequestStop(victimID)
	slog.Info("Worker hunted", "opt_id", victimID, "reason", reason)
}

// shutdown stops the remaining running workers and drains their last points.
func (m *Manager) shutdown(converged bool) {
	reason := "manager termination"
	if converged {
		reason = "run converged"
	}
	for id, h := range m.handles {
		if h.State != WorkerRunning {
			continue
		}
		m.pool.RequestStop(id)
	}
	if err := m.pool.Wait(m.opts.Grace); err != nil {
		slog.Error("Workers did not stop in time", "error", err)
	}
	m.drainUpdates()
	m.drainExits()

	// Anything still marked running after the drain was stopped by us.
	now := time.Now()
	for _, h := range m.handles {
		if h.State != WorkerRunning {
			continue
		}
		h.State = WorkerKilled
		h.StopTime = &now
		h.StopReason = reason
	}
}

func (m *Manager) writeCheckpoint(ctx context.Context) error {
	cp := m.opts.Checkpoint
	name := cp.NextName()
	snap := m.snapshot()
	err := cp.Write(ctx, name, func(dir string) error {
		return m.saveSnapshot(snap, dir)
	})
	if err != nil {
		if cp.Options().RaiseOnFail {
			return err
		}
		slog.Warn("Checkpoint failed, run continues", "name", name, "error", err)
		return nil
	}
	cp.MarkSaved(time.Now(), m.counters.FuncCalls())
	slog.Info("Checkpoint written", "name", name)
	return nil
}
