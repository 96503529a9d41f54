package business

import (
	"context"
	"sort"
	"sync"
)

// Store defines the interface for business persistence
type Store interface {
	// List returns all records ordered by creation time, then ID
	List(ctx context.Context) ([]*Record, error)

	// Get retrieves a record by ID, or ErrNotFound
	Get(ctx context.Context, id string) (*Record, error)

	// Save inserts or replaces a record
	Save(ctx context.Context, record *Record) error

	// Delete removes a record, or returns ErrNotFound
	Delete(ctx context.Context, id string) error

	// Weights returns the persisted tier weights, or the defaults when none were saved
	Weights(ctx context.Context) (Weights, error)

	// SaveWeights persists tier weights
	SaveWeights(ctx context.Context, w Weights) error

	// Close closes the store
	Close() error
}

// sortRecords orders records by creation time, then ID
func sortRecords(records []*Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
}

// MemoryStore implements Store in memory
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	weights *Weights
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// List implements Store
func (m *MemoryStore) List(ctx context.Context) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.Clone())
	}
	sortRecords(out)
	return out, nil
}

// Get implements Store
func (m *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

// Save implements Store
func (m *MemoryStore) Save(ctx context.Context, record *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.ID] = record.Clone()
	return nil
}

// Delete implements Store
func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return ErrNotFound
	}
	delete(m.records, id)
	return nil
}

// Weights implements Store
func (m *MemoryStore) Weights(ctx context.Context) (Weights, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.weights == nil {
		return DefaultWeights(), nil
	}
	return *m.weights, nil
}

// SaveWeights implements Store
func (m *MemoryStore) SaveWeights(ctx context.Context, w Weights) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.weights = &w
	return nil
}

// Close implements Store
func (m *MemoryStore) Close() error {
	return nil
}
