package unwind

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store persists journal snapshots across process restarts. Implementations
// must be safe for concurrent use.
type Store interface {
	// Save persists a snapshot, replacing any previous one for the same ID.
	Save(ctx context.Context, snap Snapshot) error

	// Load retrieves a snapshot by transaction ID.
	Load(ctx context.Context, sagaID string) (*Snapshot, error)

	// List returns all persisted snapshots.
	List(ctx context.Context) ([]Snapshot, error)

	// Delete removes a snapshot, e.g. after a successful recovery sweep.
	Delete(ctx context.Context, sagaID string) error
}

// MemoryStore provides an in-memory implementation of Store for testing or
// scenarios where persistence is not required.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snaps: make(map[string]Snapshot),
	}
}

// Save stores the snapshot in memory.
func (m *MemoryStore) Save(ctx context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.ID] = snap
	return nil
}

// Load retrieves the snapshot from memory.
func (m *MemoryStore) Load(ctx context.Context, sagaID string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, exists := m.snaps[sagaID]
	if !exists {
		return nil, fmt.Errorf("saga %s: %w", sagaID, ErrSagaNotFound)
	}
	// Return a copy to avoid external modifications.
	snapCopy := snap
	return &snapCopy, nil
}

// List returns all snapshots, sorted by ID.
func (m *MemoryStore) List(ctx context.Context) ([]Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snaps := make([]Snapshot, 0, len(m.snaps))
	for _, snap := range m.snaps {
		snaps = append(snaps, snap)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
	return snaps, nil
}

// Delete removes the snapshot from memory.
func (m *MemoryStore) Delete(ctx context.Context, sagaID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, sagaID)
	return nil
}
