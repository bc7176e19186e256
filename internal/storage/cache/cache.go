// internal/storage/cache/cache.go
//
// Package cache implements the persistent fingerprint store: a
// content-addressed cache of task fingerprint -> result that survives
// process restarts. Once Put returns, a Get with the same fingerprint in
// this or any later process returns the result without an external call.
package cache

import (
	"fmt"

	"github.com/fawad-mazhar/syros/internal/models"
)

// Store is the fingerprint store contract shared by both backends.
type Store interface {
	// Get returns the cached result for a fingerprint, reporting whether
	// one exists.
	Get(fingerprint string) (models.Result, bool, error)
	// Put durably records a result under its fingerprint before returning.
	Put(fingerprint string, res models.Result) error
	Close() error
}

// Backend names accepted in configuration.
const (
	BackendJSONL   = "jsonl"
	BackendLevelDB = "leveldb"
)

// Open creates a store of the requested backend at path.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", BackendJSONL:
		return OpenJSONL(path)
	case BackendLevelDB:
		return OpenLevelDB(path)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}
