package cases

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory case store for demo/development mode.
type MemoryStore struct {
	cases map[string]*Case
	mu    sync.RWMutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory case store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cases: make(map[string]*Case)}
}

func (m *MemoryStore) Create(ctx context.Context, c *Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cases[c.ID] = c.Clone()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.cases[id]
	if !ok {
		return nil, ErrCaseNotFound
	}
	return c.Clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, c *Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.cases[c.ID]
	if !ok {
		return ErrCaseNotFound
	}
	if stored.Version != c.Version {
		return ErrConcurrentModification
	}
	c.Version++
	m.cases[c.ID] = c.Clone()
	return nil
}

func (m *MemoryStore) List(ctx context.Context, state State, limit int, opts ...ListOption) ([]*Case, error) {
	o := applyListOpts(opts)

	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Case, 0)
	for _, c := range m.cases {
		if state != "" && c.State != state {
			continue
		}
		if !o.afterCursor(c.CreatedAt, c.ID) {
			continue
		}
		result = append(result, c.Clone())
	}
	// Newest first, stable across calls.
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
