package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/opthive/internal/opt"
)

// ErrWorkerUnresponsive flags a worker that ignored its stop request beyond
// the grace period. The pool abandons such workers; they no longer count as
// alive even if their goroutine lingers.
var ErrWorkerUnresponsive = errors.New("manager: worker did not stop within the grace period")

// WorkerState is the lifecycle state of one worker. Only the manager writes
// it; workers themselves just stream trajectory points.
type WorkerState string

const (
	WorkerRunning   WorkerState = "running"
	WorkerConverged WorkerState = "converged"
	WorkerKilled    WorkerState = "killed"
)

// WorkerHandle is the manager-owned record of one worker.
type WorkerHandle struct {
	ID         int         `json:"id"`
	Algorithm  string      `json:"algorithm"`
	State      WorkerState `json:"state"`
	StartTime  time.Time   `json:"startTime"`
	StopTime   *time.Time  `json:"stopTime,omitempty"`
	StopReason string      `json:"stopReason,omitempty"`
	FCalls     int         `json:"fCalls"`
	Config     opt.Config  `json:"config"`
}

// WorkerControl is the manager's seam to whatever launches and stops worker
// units. Pool is the in-process implementation; tests substitute stubs.
type WorkerControl interface {
	Start(cfg opt.Config) (int, error)
	StartWithID(id int, cfg opt.Config) error
	RequestStop(optID int)
	IsAlive(optID int) bool
	Updates() <-chan Update
	Exits() <-chan Exit
	Wait(timeout time.Duration) error
}

var _ WorkerControl = (*Pool)(nil)

// Update is one trajectory step streamed from a worker to the manager.
type Update struct {
	OptID int
	Iter  opt.Iteration
}

// Exit reports that a worker's run function returned.
type Exit struct {
	OptID int
	Err   error
}

type poolWorker struct {
	cancel    context.CancelFunc
	done      chan struct{}
	abandoned bool
}

// Pool runs workers as goroutines inside one process. Stops are cooperative:
// RequestStop cancels the worker's context, and a watchdog flags workers that
// ignore it past the grace period.
type Pool struct {
	ctx          context.Context
	eg           *errgroup.Group
	objective    opt.Objective
	newOptimizer func(opt.Config) (opt.Optimizer, error)
	grace        time.Duration

	mu      sync.Mutex
	nextID  int
	workers map[int]*poolWorker

	updates chan Update
	exits   chan Exit
}

// NewPool creates a worker pool evaluating the given objective. newOptimizer
// may be nil to use opt.New.
func NewPool(ctx context.Context, objective opt.Objective, grace time.Duration, newOptimizer func(opt.Config) (opt.Optimizer, error)) *Pool {
	if newOptimizer == nil {
		newOptimizer = opt.New
	}
	if grace <= 0 {
		grace = 5 * time.Second
	}
	eg, _ := errgroup.WithContext(ctx)
	return &Pool{
		ctx:          ctx,
		eg:           eg,
		objective:    objective,
		newOptimizer: newOptimizer,
		grace:        grace,
		nextID:       1,
		workers:      make(map[int]*poolWorker),
		updates:      make(chan Update, 4096),
		exits:        make(chan Exit, 256),
	}
}

// Updates is the stream of trajectory points from all workers.
func (p *Pool) Updates() <-chan Update { return p.updates }

// Exits reports workers whose run function returned.
func (p *Pool) Exits() <-chan Exit { return p.exits }

// Start launches a worker for cfg and returns its id.
func (p *Pool) Start(cfg opt.Config) (int, error) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.mu.Unlock()
	if err := p.StartWithID(id, cfg); err != nil {
		return 0, err
	}
	return id, nil
}

// StartWithID launches a worker under a caller-chosen id, used when resuming
// a checkpointed run with its original worker ids.
func (p *Pool) StartWithID(id int, cfg opt.Config) error {
	optimizer, err := p.newOptimizer(cfg)
	if err != nil {
		return fmt.Errorf("failed to build optimizer for worker %d: %w", id, err)
	}

	wctx, cancel := context.WithCancel(p.ctx)
	w := &poolWorker{cancel: cancel, done: make(chan struct{})}

	p.mu.Lock()
	if _, exists := p.workers[id]; exists {
		p.mu.Unlock()
		cancel()
		return fmt.Errorf("worker id %d already in use", id)
	}
	p.workers[id] = w
	if id >= p.nextID {
		p.nextID = id + 1
	}
	p.mu.Unlock()

	emit := func(it opt.Iteration) {
		select {
		case p.updates <- Update{OptID: id, Iter: it}:
		case <-wctx.Done():
			// Discard rather than block a worker that is being stopped.
		}
	}

	p.eg.Go(func() error {
		err := optimizer.Run(wctx, p.objective, cfg.Lower, cfg.Upper, emit)
		close(w.done)
		p.exits <- Exit{OptID: id, Err: err}
		// Worker failures are routed through the exit channel; returning them
		// here would tear down the whole group.
		return nil
	})
	return nil
}

// RequestStop cancels the worker's context and arms the grace watchdog.
func (p *Pool) RequestStop(optID int) {
	p.mu.Lock()
	w, ok := p.workers[optID]
	p.mu.Unlock()
	if !ok {
		return
	}
	w.cancel()

	go func() {
		select {
		case <-w.done:
		case <-time.After(p.grace):
			p.mu.Lock()
			w.abandoned = true
			p.mu.Unlock()
			slog.Error("Worker unresponsive, abandoning",
				"opt_id", optID, "grace", p.grace, "error", ErrWorkerUnresponsive)
		}
	}()
}

// IsAlive reports whether the worker is still running and not abandoned.
func (p *Pool) IsAlive(optID int) bool {
	p.mu.Lock()
	w, ok := p.workers[optID]
	p.mu.Unlock()
	if !ok || w.abandoned {
		return false
	}
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// StopAll requests a stop of every worker.
func (p *Pool) StopAll() {
	p.mu.Lock()
	workers := make([]*poolWorker, 0, len(p.workers))
	for _, w := range p.workers {
		workers = append(workers, w)
	}
	p.mu.Unlock()
	for _, w := range workers {
		w.cancel()
	}
}

// Wait blocks until every worker goroutine returned or the timeout elapses.
func (p *Pool) Wait(timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- p.eg.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return ErrWorkerUnresponsive
	}
}
