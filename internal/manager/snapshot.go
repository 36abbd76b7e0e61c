package manager

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cwbudde/opthive/internal/trace"
)

const snapshotFile = "manager.json"

// Snapshot is the serialized manager state inside a checkpoint artifact.
// Worker trajectories live alongside it as trace_<id>.jsonl files.
type Snapshot struct {
	RunID    string         `json:"runId"`
	SavedAt  time.Time      `json:"savedAt"`
	Counters CountersState  `json:"counters"`
	Workers  []WorkerHandle `json:"workers"`
}

// snapshot captures the serializable manager state. It must run on the loop
// goroutine: handles and counters are copied here, before the loop can
// mutate them again.
func (m *Manager) snapshot() Snapshot {
	return Snapshot{
		RunID:    m.runID,
		SavedAt:  time.Now(),
		Counters: m.counters.State(),
		Workers:  m.Workers(),
	}
}

// saveSnapshot serializes a previously captured snapshot into dir. Only the
// trace store is read live; it carries its own lock, so serialization can
// safely outlive a checkpoint write timeout.
func (m *Manager) saveSnapshot(snap Snapshot, dir string) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize manager state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, snapshotFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write manager state: %w", err)
	}

	return m.tr.Save(dir)
}

// LoadSnapshot reads a checkpoint artifact back into memory.
func LoadSnapshot(dir string) (*Snapshot, *trace.Store, error) {
	data, err := os.ReadFile(filepath.Join(dir, snapshotFile))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read manager state: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, nil, fmt.Errorf("failed to deserialize manager state: %w", err)
	}

	tr, err := trace.Load(dir)
	if err != nil {
		return nil, nil, err
	}
	return &snap, tr, nil
}

// Restore primes the manager with checkpointed state before Run. Workers that
// were running at checkpoint time are relaunched by Run under their original
// ids; finished workers keep their recorded outcome.
func (m *Manager) Restore(dir string) error {
	if m.state != StateStarting {
		return errors.New("manager: restore is only valid before the run starts")
	}

	snap, tr, err := LoadSnapshot(dir)
	if err != nil {
		return err
	}

	m.runID = snap.RunID
	m.counters = RestoreCounters(snap.Counters)
	m.tr = tr
	m.handles = make(map[int]*WorkerHandle, len(snap.Workers))
	for _, h := range snap.Workers {
		hc := h
		m.handles[h.ID] = &hc
	}
	m.restored = true
	return nil
}
