package vault

import (
	"errors"
	"sync"
)

// ErrStoreUnavailable is returned by a MemStore whose Fail flag is set,
// standing in for an unreachable OS credential store.
var ErrStoreUnavailable = errors.New("secret store unavailable")

// MemStore is an in-memory SecretStore used by tests and by callers
// that opt out of persistence. Setting Fail makes every operation
// error, which exercises the vault's degrade-to-absent behavior.
type MemStore struct {
	mu      sync.Mutex
	records map[string]Record

	// Fail forces all operations to return ErrStoreUnavailable.
	Fail bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]Record)}
}

// Get implements SecretStore.
func (s *MemStore) Get(realm string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return Record{}, false, ErrStoreUnavailable
	}
	rec, ok := s.records[realm]
	return rec, ok, nil
}

// Set implements SecretStore.
func (s *MemStore) Set(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return ErrStoreUnavailable
	}
	s.records[rec.Realm] = rec
	return nil
}

// Delete implements SecretStore.
func (s *MemStore) Delete(realm string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return ErrStoreUnavailable
	}
	delete(s.records, realm)
	return nil
}

// Len reports the number of stored records.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
