package storage

import (
	"errors"
	"sync"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("storage: key not found")

// Store is the flat key-value namespace holding the demo's persisted
// JSON blobs (portfolio, orders, compliance window, preferences).
// Implementations must be safe for concurrent use.
type Store interface {
	Get(key string) ([]byte, error)
	Put(key string, val []byte) error
	Delete(key string) error
	Close() error
}

// PebbleStore persists blobs in an embedded Pebble database.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Get(key string) ([]byte, error) {
	val, closer, err := s.db.Get([]byte(key))
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	// Pebble invalidates val once the closer is released.
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (s *PebbleStore) Put(key string, val []byte) error {
	return s.db.Set([]byte(key), val, pebble.Sync)
}

func (s *PebbleStore) Delete(key string) error {
	return s.db.Delete([]byte(key), pebble.Sync)
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// MemStore is a map-backed Store. It backs tests and is the degradation
// target when the Pebble database cannot be opened; its contents do not
// survive a restart.
type MemStore struct {
	mu sync.RWMutex
	m  map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{m: make(map[string][]byte)}
}

func (s *MemStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	val, ok := s.m[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (s *MemStore) Put(key string, val []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]byte, len(val))
	copy(cp, val)
	s.m[key] = cp
	return nil
}

func (s *MemStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func (s *MemStore) Close() error { return nil }

var _ Store = (*PebbleStore)(nil)
var _ Store = (*MemStore)(nil)

// Open returns a Pebble store rooted at dir, degrading to an in-memory
// store when the database cannot be opened. Callers never fail on a
// broken data directory; they lose persistence.
func Open(dir string, logger *zap.SugaredLogger) Store {
	s, err := NewPebbleStore(dir)
	if err != nil {
		logger.Warnw("store_open_failed_degrading_to_memory", "dir", dir, "err", err)
		return NewMemStore()
	}
	return s
}
