package prefs

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	data    []byte
	updated time.Time
}

type memKey struct {
	viewerID int64
	key      string
}

// MemoryStore is an in-process Store, used by the MCP server and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[memKey]memEntry

	Now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[memKey]memEntry), Now: time.Now}
}

func (m *MemoryStore) Get(_ context.Context, viewerID int64, key string, dst any) (bool, error) {
	m.mu.Lock()
	e, ok := m.entries[memKey{viewerID, key}]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := decode(key, e.data, dst); err != nil {
		return false, err
	}
	return true, nil
}

func (m *MemoryStore) Set(_ context.Context, viewerID int64, key string, value any) error {
	data, err := encode(key, value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.entries[memKey{viewerID, key}] = memEntry{data: data, updated: m.Now()}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, viewerID int64, key string) error {
	m.mu.Lock()
	delete(m.entries, memKey{viewerID, key})
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, e := range m.entries {
		if e.updated.Before(cutoff) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}
