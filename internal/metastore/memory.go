package metastore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store for tests and dry runs.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]Record)}
}

// Get returns the document at key.
func (m *MemoryStore) Get(_ context.Context, key string) (Record, error) {
	if err := ValidateKey(key); err != nil {
		return Record{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.docs[key]
	if !ok {
		return Record{}, notFound(key)
	}
	return Record{Data: append([]byte(nil), rec.Data...), Version: rec.Version}, nil
}

// Put writes data if expectedVersion matches the stored version.
func (m *MemoryStore) Put(_ context.Context, key string, data []byte, expectedVersion string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkVersion(key, m.docs[key].Version, expectedVersion); err != nil {
		return "", err
	}
	version := ContentVersion(data)
	m.docs[key] = Record{Data: append([]byte(nil), data...), Version: version}
	return version, nil
}

// List returns the keys starting with prefix, sorted.
func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0)
	for k := range m.docs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

var _ Store = (*MemoryStore)(nil)
