// internal/engine/snapshot.go
package engine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fawad-mazhar/syros/internal/models"
)

// Snapshotter periodically materializes the full aggregate result set to
// the output sink as sorted JSONL. A flush fires when everyN results have
// accumulated since the last one, or when the interval elapses, whichever
// comes first. The WAL remains the authoritative per-row record; a crash
// loses at most one snapshot interval of aggregate output.
type Snapshotter struct {
	mu         sync.Mutex
	path       string
	results    map[int]models.Result
	sinceFlush int
	everyN     int
	interval   time.Duration
	stopChan   chan struct{}
	wg         sync.WaitGroup
}

// NewSnapshotter creates a snapshotter writing to path. It marks the sink
// partial until ClearPartial is called at normal termination.
func NewSnapshotter(path string, everyN int, interval time.Duration) (*Snapshotter, error) {
	if everyN < 1 {
		everyN = 1
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}
	if err := os.WriteFile(path+".partial", []byte{}, 0o644); err != nil {
		return nil, fmt.Errorf("failed to mark snapshot partial: %w", err)
	}
	return &Snapshotter{
		path:     path,
		results:  make(map[int]models.Result),
		everyN:   everyN,
		interval: interval,
		stopChan: make(chan struct{}),
	}, nil
}

// Start launches the time-trigger loop.
func (s *Snapshotter) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.Flush()
			}
		}
	}()
}

// Restore preloads results recovered from WAL replay so the first snapshot
// of a resumed run already covers prior work. Does not count toward the
// flush trigger.
func (s *Snapshotter) Restore(results map[int]models.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, res := range results {
		s.results[id] = res
	}
}

// Add records one completed result and flushes if the count trigger fires.
func (s *Snapshotter) Add(res models.Result) error {
	s.mu.Lock()
	s.results[res.TaskID] = res
	s.sinceFlush++
	due := s.sinceFlush >= s.everyN
	s.mu.Unlock()

	if due {
		return s.Flush()
	}
	return nil
}

// Results returns a copy of the aggregate, sorted by task id.
func (s *Snapshotter) Results() []models.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked()
}

func (s *Snapshotter) sortedLocked() []models.Result {
	out := make([]models.Result, 0, len(s.results))
	for _, res := range s.results {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

// Flush writes the full result set atomically: a temp file in the sink's
// directory, then a rename over the sink.
func (s *Snapshotter) Flush() error {
	s.mu.Lock()
	rows := s.sortedLocked()
	s.sinceFlush = 0
	s.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("failed to create snapshot temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	enc := json.NewEncoder(bw)
	for _, res := range rows {
		if err := enc.Encode(res); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to encode snapshot row: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}
	return nil
}

// Stop halts the time trigger and writes a final snapshot.
func (s *Snapshotter) Stop() error {
	close(s.stopChan)
	s.wg.Wait()
	return s.Flush()
}

// ClearPartial removes the partial marker. Called only after the final
// snapshot of a run that drained its pending set.
func (s *Snapshotter) ClearPartial() error {
	if err := os.Remove(s.path + ".partial"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear partial marker: %w", err)
	}
	return nil
}
