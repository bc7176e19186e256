// internal/storage/wal/wal.go
package wal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fawad-mazhar/syros/internal/models"
)

// WAL is the append-only write-ahead log of terminally completed tasks.
// One self-describing JSON line per record; records are never mutated or
// deleted. The log is the source of truth for what happened in a run,
// independent of the aggregate snapshot output.
type WAL struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// ReplayState is what Replay recovers from an existing log: the checkpoint
// set of durably completed task ids, and the recorded outputs so a resumed
// run's snapshots cover prior work.
type ReplayState struct {
	Completed map[int]bool
	Results   map[int]models.Result
	Failed    map[int]string // last recorded error per terminally failed id
}

// Open opens (creating if needed) the log at path for appending.
func Open(path string) (*WAL, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create WAL directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL: %w", err)
	}
	return &WAL{path: path, f: f}, nil
}

// Record appends one record and flushes it to stable storage before
// returning. A task reported as done must survive an immediate crash.
func (w *WAL) Record(rec models.WALRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal WAL record: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append WAL record: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL: %w", err)
	}
	return nil
}

// Replay reads the whole log and rebuilds the checkpoint state. Lines that
// fail to parse (a torn final write after a crash) are skipped. A failed
// record never marks a task done; a later successful record for the same id
// supersedes an earlier failure.
func (w *WAL) Replay() (*ReplayState, error) {
	state := &ReplayState{
		Completed: make(map[int]bool),
		Results:   make(map[int]models.Result),
		Failed:    make(map[int]string),
	}

	f, err := os.Open(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return state, nil
		}
		return nil, fmt.Errorf("failed to open WAL for replay: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec models.WALRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		switch rec.Outcome {
		case models.OutcomeOK:
			state.Completed[rec.TaskID] = true
			delete(state.Failed, rec.TaskID)
			state.Results[rec.TaskID] = models.Result{
				TaskID:      rec.TaskID,
				Fingerprint: rec.Fingerprint,
				Output:      rec.Output,
				Cached:      rec.Cached,
			}
		case models.OutcomeFailed:
			if !state.Completed[rec.TaskID] {
				state.Failed[rec.TaskID] = rec.Error
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan WAL: %w", err)
	}
	return state, nil
}

// Close closes the underlying file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
