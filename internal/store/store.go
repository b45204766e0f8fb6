// Package store provides TTL-aware key/value persistence for the gateway's
// mutable state: refresh tokens, revoked token ids, and anything else that
// must expire on its own. Entries carry an absolute expiration and are
// treated as absent once that instant has passed, whether or not a sweep
// has physically removed them yet.
package store

import (
	"sync"
	"time"
)

// TTLStore is the storage contract shared by the in-memory and SQLite
// backends. Keys are scoped by namespace so unrelated components never
// collide. Get applies lazy expiry: an expired entry reads as absent.
type TTLStore interface {
	SetWithExpiry(namespace string, key string, value []byte, expiration time.Time) error
	Get(namespace string, key string) (value []byte, found bool, err error)
	Delete(namespace string, key string) (deleted bool, err error)
	Sweep(now time.Time) (removed int, err error)
	Close() error
}

type memoryEntry struct {
	value      []byte
	expiration time.Time
}

// MemoryStore is the default single-process backend.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func memoryKey(namespace string, key string) string {
	return namespace + "\x00" + key
}

func (s *MemoryStore) SetWithExpiry(
	namespace string,
	key string,
	value []byte,
	expiration time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	s.entries[memoryKey(namespace, key)] = memoryEntry{
		value:      stored,
		expiration: expiration,
	}
	return nil
}

func (s *MemoryStore) Get(
	namespace string,
	key string,
) (
	[]byte,
	bool,
	error,
) {
	s.mu.RLock()
	entry, ok := s.entries[memoryKey(namespace, key)]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !entry.expiration.After(s.now()) {
		// lazy expiry: the sweep loop reclaims the memory later
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (s *MemoryStore) Delete(
	namespace string,
	key string,
) (
	bool,
	error,
) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memoryKey(namespace, key)
	_, ok := s.entries[k]
	if ok {
		delete(s.entries, k)
	}
	return ok, nil
}

func (s *MemoryStore) Sweep(
	now time.Time,
) (
	int,
	error,
) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, entry := range s.entries {
		if !entry.expiration.After(now) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
