package manager

import (
	"fmt"
	"os"
	"time"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// WorkerSummary is the per-worker record of the final run summary.
type WorkerSummary struct {
	OptID        int       `yaml:"opt_id"`
	Algorithm    string    `yaml:"algorithm"`
	EndCondition string    `yaml:"end_condition"`
	FCalls       int       `yaml:"f_calls"`
	FBest        float64   `yaml:"f_best"`
	XBest        []float64 `yaml:"x_best,flow"`
}

// Summary is the final record of a whole run, emitted once the manager
// reaches the stopped state.
type Summary struct {
	RunID       string          `yaml:"run_id"`
	StartTime   time.Time       `yaml:"start_time"`
	EndTime     time.Time       `yaml:"end_time"`
	FuncCalls   int             `yaml:"f_calls"`
	ConvCount   int             `yaml:"n_converged"`
	KillCount   int             `yaml:"n_killed"`
	HuntVictims []int           `yaml:"hunt_victims,flow"`
	Workers     []WorkerSummary `yaml:"workers"`
}

func (m *Manager) buildSummary() *Summary {
	cs := m.counters.State()

	workers := lo.Map(m.Workers(), func(h WorkerHandle, _ int) WorkerSummary {
		ws := WorkerSummary{
			OptID:        h.ID,
			Algorithm:    h.Algorithm,
			EndCondition: h.StopReason,
			FCalls:       h.FCalls,
		}
		if ws.EndCondition == "" {
			ws.EndCondition = string(h.State)
		}
		if best, ok := m.tr.Best(h.ID); ok {
			ws.FBest = best.FxBest
			ws.XBest = best.X
		}
		return ws
	})

	return &Summary{
		RunID:       m.runID,
		StartTime:   cs.StartTime,
		EndTime:     time.Now(),
		FuncCalls:   cs.FCalls,
		ConvCount:   cs.ConvCount,
		KillCount:   cs.KillCount,
		HuntVictims: cs.HuntVictims,
		Workers:     workers,
	}
}

// Best returns the overall best worker record of the summary.
func (s *Summary) Best() (WorkerSummary, bool) {
	withHistory := lo.Filter(s.Workers, func(w WorkerSummary, _ int) bool {
		return len(w.XBest) > 0
	})
	if len(withHistory) == 0 {
		return WorkerSummary{}, false
	}
	return lo.MinBy(withHistory, func(a, b WorkerSummary) bool {
		return a.FBest < b.FBest
	}), true
}

// WriteFile writes the summary as YAML.
func (s *Summary) WriteFile(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write run summary: %w", err)
	}
	return nil
}
