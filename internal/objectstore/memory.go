package objectstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Compile-time check that Memory implements DB.
var _ DB = (*Memory)(nil)

// Memory is an in-memory implementation of DB.
// It uses a map with RWMutex for thread-safe access and copies record bytes
// on the way in and out. Used when the database file cannot be opened and in tests.
type Memory struct {
	mu     sync.RWMutex
	stores map[string]*memoryStore
}

type memoryStore struct {
	spec    StoreSpec
	records map[string]record
}

// NewMemory creates an empty in-memory database with every store and index of cfg.
func NewMemory(cfg Config) *Memory {
	m := &Memory{stores: make(map[string]*memoryStore, len(cfg.Stores))}
	for _, s := range cfg.Stores {
		m.stores[s.Name] = &memoryStore{spec: s, records: make(map[string]record)}
	}
	return m
}

// Put upserts value by its primary key.
func (m *Memory) Put(_ context.Context, store string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.store(store)
	if err != nil {
		return err
	}
	rec, err := encodeRecord(s.spec, s.spec.Indexes, value)
	if err != nil {
		return err
	}
	s.records[rec.key] = rec
	return nil
}

// Delete removes a record; a missing key is a no-op.
func (m *Memory) Delete(_ context.Context, store, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.store(store)
	if err != nil {
		return err
	}
	delete(s.records, key)
	return nil
}

// GetAll returns copies of every record, ordered by index when it exists.
func (m *Memory) GetAll(_ context.Context, store, index string) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, err := m.store(store)
	if err != nil {
		return nil, err
	}

	indexed := index != "" && slices.ContainsFunc(s.spec.Indexes, func(i IndexSpec) bool { return i.Name == index })

	recs := make([]record, 0, len(s.records))
	for _, r := range s.records {
		if indexed && r.index[index] == nil {
			continue
		}
		recs = append(recs, r)
	}
	slices.SortFunc(recs, func(a, b record) int {
		if indexed {
			if c := compareIndexValues(a.index[index], b.index[index]); c != 0 {
				return c
			}
		}
		return strings.Compare(a.key, b.key)
	})

	out := make([][]byte, len(recs))
	for i, r := range recs {
		out[i] = slices.Clone(r.data)
	}
	return out, nil
}

// Clear removes every record of store.
func (m *Memory) Clear(_ context.Context, store string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.store(store)
	if err != nil {
		return err
	}
	s.records = make(map[string]record)
	return nil
}

func (m *Memory) store(name string) (*memoryStore, error) {
	s, ok := m.stores[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStore, name)
	}
	return s, nil
}
