// Package trace holds the per-worker iteration trajectories produced by the
// optimizer workers. The manager drains worker updates into the store; hunt
// and convergence predicates read ordered histories back out of it.
package trace

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrUnknownField is returned by History for an unrecognised field name.
var ErrUnknownField = errors.New("trace: unknown history field")

// Scalar history fields accepted by Store.History. The input vector is
// exposed separately through HistoryX because its entries are not scalars.
const (
	FieldFx       = "fx"
	FieldFxBest   = "fx_best"
	FieldIBest    = "i_best"
	FieldFCallOpt = "f_call_opt"
)

// Point is a single trajectory observation. Points are append-only and never
// mutated once written.
type Point struct {
	Iteration int       `json:"iteration"`
	FCalls    int       `json:"fCalls"`
	X         []float64 `json:"x"`
	Fx        float64   `json:"fx"`
	FxBest    float64   `json:"fxBest"`
	IBest     int       `json:"iBest"`
	Timestamp time.Time `json:"timestamp"`
}

type workerTrace struct {
	points []Point
}

// Store keeps the ordered trajectory of every known worker.
// Safe for concurrent use: the manager appends while hunt evaluations read.
type Store struct {
	mu      sync.RWMutex
	workers map[int]*workerTrace
}

// NewStore creates an empty trajectory store.
func NewStore() *Store {
	return &Store{workers: make(map[int]*workerTrace)}
}

// Register makes optID known to the store with an empty trajectory.
// Appending to an unregistered worker registers it implicitly.
func (s *Store) Register(optID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(optID)
}

func (s *Store) ensure(optID int) *workerTrace {
	wt, ok := s.workers[optID]
	if !ok {
		wt = &workerTrace{}
		s.workers[optID] = wt
	}
	return wt
}

// Append records one trajectory point for the given worker, maintaining the
// best-so-far value and its iteration index. Iteration indices must be
// strictly increasing per worker.
func (s *Store) Append(optID, iteration, fCalls int, x []float64, fx float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wt := s.ensure(optID)

	best, iBest := fx, iteration
	if n := len(wt.points); n > 0 {
		last := wt.points[n-1]
		if iteration <= last.Iteration {
			return fmt.Errorf("trace: iteration %d for worker %d not after %d",
				iteration, optID, last.Iteration)
		}
		if last.FxBest < fx {
			best, iBest = last.FxBest, last.IBest
		}
	}

	xc := make([]float64, len(x))
	copy(xc, x)
	wt.points = append(wt.points, Point{
		Iteration: iteration,
		FCalls:    fCalls,
		X:         xc,
		Fx:        fx,
		FxBest:    best,
		IBest:     iBest,
		Timestamp: time.Now(),
	})
	return nil
}

// History returns the ordered scalar series of the requested field for the
// given worker. An unknown worker id yields an empty series.
func (s *Store) History(optID int, field string) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wt, ok := s.workers[optID]
	if !ok {
		wt = &workerTrace{}
	}

	out := make([]float64, len(wt.points))
	switch field {
	case FieldFx:
		for i, p := range wt.points {
			out[i] = p.Fx
		}
	case FieldFxBest:
		for i, p := range wt.points {
			out[i] = p.FxBest
		}
	case FieldIBest:
		for i, p := range wt.points {
			out[i] = float64(p.IBest)
		}
	case FieldFCallOpt:
		for i, p := range wt.points {
			out[i] = float64(p.FCalls)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return out, nil
}

// HistoryX returns the ordered input vectors for the given worker.
func (s *Store) HistoryX(optID int) [][]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wt, ok := s.workers[optID]
	if !ok {
		return nil
	}
	out := make([][]float64, len(wt.points))
	for i, p := range wt.points {
		out[i] = p.X
	}
	return out
}

// Len returns the number of points recorded for the given worker.
func (s *Store) Len(optID int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wt, ok := s.workers[optID]
	if !ok {
		return 0
	}
	return len(wt.points)
}

// Last returns the most recent point for the given worker, if any.
func (s *Store) Last(optID int) (Point, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wt, ok := s.workers[optID]
	if !ok || len(wt.points) == 0 {
		return Point{}, false
	}
	return wt.points[len(wt.points)-1], true
}

// Best returns the point that produced the worker's best-so-far value.
func (s *Store) Best(optID int) (Point, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wt, ok := s.workers[optID]
	if !ok || len(wt.points) == 0 {
		return Point{}, false
	}
	last := wt.points[len(wt.points)-1]
	for i := len(wt.points) - 1; i >= 0; i-- {
		if wt.points[i].Iteration == last.IBest {
			return wt.points[i], true
		}
	}
	return last, true
}

// IDs returns the ids of all workers known to the store.
func (s *Store) IDs() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	return ids
}
