// internal/storage/cache/leveldb.go
package cache

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/fawad-mazhar/syros/internal/models"
)

// LevelDBStore is the fingerprint store backend for corpora too large to
// replay a flat log comfortably. Entries never expire: a fingerprint is an
// idempotency key, and a stale answer does not exist for identical input.
type LevelDBStore struct {
	mu sync.RWMutex
	db *leveldb.DB
}

// OpenLevelDB opens (creating if needed) a LevelDB database at path.
func OpenLevelDB(path string) (*LevelDBStore, error) {
	opts := &opt.Options{
		CompactionTableSize: 2 * 1024 * 1024, // 2MB
		WriteBuffer:         1 * 1024 * 1024, // 1MB
	}

	db, err := leveldb.OpenFile(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb cache: %w", err)
	}
	return &LevelDBStore{db: db}, nil
}

func (s *LevelDBStore) Get(fingerprint string) (models.Result, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := s.db.Get([]byte(fingerprint), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return models.Result{}, false, nil
		}
		return models.Result{}, false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var res models.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return models.Result{}, false, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	return res, true, nil
}

func (s *LevelDBStore) Put(fingerprint string, res models.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	wo := &opt.WriteOptions{Sync: true}
	if err := s.db.Put([]byte(fingerprint), data, wo); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

func (s *LevelDBStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
