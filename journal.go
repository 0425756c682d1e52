package unwind

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Snapshot is the journal's record of a saga: its last known state plus the
// progress records and serialized context needed to compensate it after a
// restart.
type Snapshot struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	State            State           `json:"state"`
	ExecutedSteps    []string        `json:"executed_steps,omitempty"`
	CompensatedSteps []string        `json:"compensated_steps,omitempty"`
	Context          json.RawMessage `json:"context,omitempty"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// InFlight reports whether the snapshot was taken mid-execution or
// mid-compensation; such sagas are candidates for forced compensation.
func (s Snapshot) InFlight() bool {
	return s.State == StateExecuting || s.State == StateCompensating
}

// Journal maps transaction ID to the last known saga snapshot. It is updated
// at every lifecycle transition and shared safely across concurrently
// running sagas; entries never need deletion for correctness, so pruning is
// left to the owner's retention policy.
type Journal struct {
	entries *xsync.MapOf[string, Snapshot]
}

// NewJournal creates an empty journal.
func NewJournal() *Journal {
	return &Journal{
		entries: xsync.NewMapOf[string, Snapshot](),
	}
}

// Record upserts the saga's current snapshot, keyed by transaction ID.
func (j *Journal) Record(saga *Saga) error {
	contextData, err := saga.Context().Snapshot()
	if err != nil {
		return err
	}
	j.entries.Store(saga.ID(), Snapshot{
		ID:               saga.ID(),
		Name:             saga.Name(),
		State:            saga.State(),
		ExecutedSteps:    saga.ExecutedSteps(),
		CompensatedSteps: saga.CompensatedSteps(),
		Context:          contextData,
		UpdatedAt:        time.Now(),
	})
	return nil
}

// Get returns the snapshot for a transaction ID.
func (j *Journal) Get(sagaID string) (Snapshot, bool) {
	return j.entries.Load(sagaID)
}

// Pending returns snapshots still in executing or compensating state, sorted
// by ID for deterministic iteration. A recovery routine compensates each.
func (j *Journal) Pending() []Snapshot {
	var pending []Snapshot
	j.entries.Range(func(_ string, snap Snapshot) bool {
		if snap.InFlight() {
			pending = append(pending, snap)
		}
		return true
	})
	sort.Slice(pending, func(i, k int) bool {
		return pending[i].ID < pending[k].ID
	})
	return pending
}

// Len returns the number of journaled sagas.
func (j *Journal) Len() int {
	return j.entries.Size()
}

// Flush persists every journal entry to the store.
func (j *Journal) Flush(ctx context.Context, store Store) error {
	var err error
	j.entries.Range(func(_ string, snap Snapshot) bool {
		err = store.Save(ctx, snap)
		return err == nil
	})
	return err
}

// LoadFrom replaces or augments the journal with snapshots from the store,
// typically once at process start before recovery runs.
func (j *Journal) LoadFrom(ctx context.Context, store Store) error {
	snaps, err := store.List(ctx)
	if err != nil {
		return err
	}
	for _, snap := range snaps {
		j.entries.Store(snap.ID, snap)
	}
	return nil
}
