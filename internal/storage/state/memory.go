package state

import (
	"context"
	"slices"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

type MemoryStore struct {
	mu      sync.Mutex
	records []PendingRelease
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Put(_ context.Context, r PendingRelease) error {
	if !r.Kind.valid() {
		return ErrInvalidKind
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].ID == r.ID {
			m.records[i] = r
			return nil
		}
	}
	m.records = append(m.records, r)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].ID == id {
			m.records = slices.Delete(m.records, i, i+1)
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) List(_ context.Context, briefcaseID int) ([]PendingRelease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PendingRelease
	for _, r := range m.records {
		if r.BriefcaseID == briefcaseID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryStore) Clear(_ context.Context, briefcaseID int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	before := len(m.records)
	m.records = slices.DeleteFunc(m.records, func(r PendingRelease) bool {
		return r.BriefcaseID == briefcaseID
	})
	return before - len(m.records), nil
}

func (m *MemoryStore) Close() error { return nil }
