package manager

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func readSummaryYAML(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, yaml.Unmarshal(data, &out))
	return out
}

func TestSummaryBest(t *testing.T) {
	s := &Summary{
		Workers: []WorkerSummary{
			{OptID: 1, FBest: 3.5, XBest: []float64{1}},
			{OptID: 2, FBest: 0.25, XBest: []float64{2}},
			{OptID: 3, FBest: 9.0, XBest: []float64{3}},
		},
	}

	best, ok := s.Best()
	require.True(t, ok)
	assert.Equal(t, 2, best.OptID)
	assert.Equal(t, 0.25, best.FBest)
}

func TestSummaryBestSkipsWorkersWithoutHistory(t *testing.T) {
	s := &Summary{
		Workers: []WorkerSummary{
			{OptID: 1, FBest: 0}, // never produced a point
			{OptID: 2, FBest: 1.5, XBest: []float64{2}},
		},
	}

	best, ok := s.Best()
	require.True(t, ok)
	assert.Equal(t, 2, best.OptID)
}

func TestSummaryBestEmpty(t *testing.T) {
	s := &Summary{}
	_, ok := s.Best()
	assert.False(t, ok)
}

func TestSummaryWriteFileRoundTrip(t *testing.T) {
	s := &Summary{
		RunID:       "run-1",
		FuncCalls:   120,
		ConvCount:   1,
		KillCount:   2,
		HuntVictims: []int{2, 3},
		Workers: []WorkerSummary{
			{OptID: 1, Algorithm: "hillclimb", EndCondition: "optimizer converged",
				FCalls: 40, FBest: 0.01, XBest: []float64{0.1, -0.1}},
		},
	}

	path := filepath.Join(t.TempDir(), "summary.yml")
	require.NoError(t, s.WriteFile(path))

	loaded := readSummaryYAML(t, path)
	assert.Equal(t, "run-1", loaded["run_id"])
	assert.Equal(t, 120, loaded["f_calls"])
	assert.Equal(t, []any{2, 3}, loaded["hunt_victims"])
}
