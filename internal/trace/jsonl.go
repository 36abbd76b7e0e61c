package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
)

// Trajectories are persisted as one JSONL file per worker inside a checkpoint
// directory: trace_<optID>.jsonl, one Point per line.

var traceFileRe = regexp.MustCompile(`^trace_([0-9]+)\.jsonl$`)

// Save writes every worker trajectory into dir.
func (s *Store) Save(dir string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for id, wt := range s.workers {
		if err := writeTraceFile(filepath.Join(dir, traceFileName(id)), wt.points); err != nil {
			return fmt.Errorf("failed to save trajectory for worker %d: %w", id, err)
		}
	}
	return nil
}

// Load rebuilds a store from the trace files found in dir.
func Load(dir string) (*Store, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace directory: %w", err)
	}

	s := NewStore()
	for _, e := range entries {
		m := traceFileRe.FindStringSubmatch(e.Name())
		if m == nil || e.IsDir() {
			continue
		}
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		points, err := readTraceFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to load trajectory for worker %d: %w", id, err)
		}
		s.workers[id] = &workerTrace{points: points}
	}
	return s, nil
}

func traceFileName(optID int) string {
	return fmt.Sprintf("trace_%d.jsonl", optID)
}

func writeTraceFile(path string, points []Point) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create trace file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriterSize(file, 64*1024)
	for _, p := range points {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal trace point: %w", err)
		}
		if _, err := writer.Write(data); err != nil {
			return fmt.Errorf("failed to write trace point: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("failed to write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush trace file: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync trace file: %w", err)
	}
	return nil
}

func readTraceFile(path string) ([]Point, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var points []Point
	for scanner.Scan() {
		var p Point
		if err := json.Unmarshal(scanner.Bytes(), &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trace point: %w", err)
		}
		points = append(points, p)
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to scan trace file: %w", err)
	}
	return points, nil
}
