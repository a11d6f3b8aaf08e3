package inmemkv

import (
	"context"
	"sync"

	"github.com/trezcool/planner/core"
)

// Store keeps values in memory. It is meant for development and tests.
type Store struct {
	mutex sync.RWMutex
	table map[string][]byte

	// FailWrites makes Set fail with the given error, for tests.
	FailWrites error
}

var _ core.KeyValueStore = (*Store)(nil) // interface compliance check

func Open() *Store {
	return &Store{table: make(map[string][]byte)}
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	val, ok := s.table[key]
	if !ok {
		return nil, core.ErrKeyNotFound
	}
	res := make([]byte, len(val))
	copy(res, val)
	return res, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.FailWrites != nil {
		return s.FailWrites
	}
	val := make([]byte, len(value))
	copy(val, value)
	s.table[key] = val
	return nil
}
