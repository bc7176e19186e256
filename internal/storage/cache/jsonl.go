// internal/storage/cache/jsonl.go
package cache

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fawad-mazhar/syros/internal/models"
)

// jsonlEntry is one line of the append-only cache log.
type jsonlEntry struct {
	Key string        `json:"key"`
	Val models.Result `json:"val"`
}

// JSONLStore is the default fingerprint store: an append-only JSONL log
// plus an in-memory index rebuilt by replaying the whole log at open.
// O(n) startup and O(1) lookup is a deliberate trade: task volumes are
// tens of thousands per run, not millions.
type JSONLStore struct {
	mu    sync.Mutex
	index map[string]models.Result
	f     *os.File
}

// OpenJSONL opens (creating if needed) the log at path and replays it.
func OpenJSONL(path string) (*JSONLStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	index := make(map[string]models.Result)
	if f, err := os.Open(path); err == nil {
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var entry jsonlEntry
			if err := json.Unmarshal(line, &entry); err != nil {
				continue
			}
			index[entry.Key] = entry.Val
		}
		scanErr := scanner.Err()
		f.Close()
		if scanErr != nil {
			return nil, fmt.Errorf("failed to replay cache log: %w", scanErr)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to open cache log: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache log for append: %w", err)
	}
	return &JSONLStore{index: index, f: f}, nil
}

func (s *JSONLStore) Get(fingerprint string) (models.Result, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.index[fingerprint]
	return res, ok, nil
}

func (s *JSONLStore) Put(fingerprint string, res models.Result) error {
	data, err := json.Marshal(jsonlEntry{Key: fingerprint, Val: res})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append cache entry: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("failed to sync cache log: %w", err)
	}
	s.index[fingerprint] = res
	return nil
}

func (s *JSONLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
