// ABOUTME: Version store contract and in-memory implementation
// ABOUTME: Apply runs a plan against a consistent snapshot, atomically per node

package version

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Reader enumerates a node's versions in ascending number order
type Reader interface {
	Versions(ctx context.Context, nodeID string) ([]*Version, error)
}

// WindowEdit is an administrative change to an existing version's dates
type WindowEdit struct {
	Number        int
	EffectiveDate *time.Time
	ExpiryDate    *time.Time
}

// Mutation is everything a plan wants written for one node
type Mutation struct {
	Insert  *Version
	Windows []WindowEdit
}

// Validate checks a mutation against the node's existing versions. Stores
// call it before writing anything.
func (m *Mutation) Validate(nodeID string, existing []*Version) error {
	if m.Insert != nil {
		if m.Insert.NodeID != nodeID {
			return fmt.Errorf("version: insert for node %s applied to %s", m.Insert.NodeID, nodeID)
		}
		if _, taken := ByNumber(existing, m.Insert.Number); taken {
			return fmt.Errorf("%w: %s v%d", ErrConflict, nodeID, m.Insert.Number)
		}
		if err := ValidateWindow(m.Insert.EffectiveDate, m.Insert.ExpiryDate); err != nil {
			return err
		}
	}
	for _, edit := range m.Windows {
		if _, ok := ByNumber(existing, edit.Number); !ok {
			return fmt.Errorf("%w: %s v%d", ErrNotFound, nodeID, edit.Number)
		}
		if err := ValidateWindow(edit.EffectiveDate, edit.ExpiryDate); err != nil {
			return err
		}
	}
	return nil
}

// PlanFunc decides a mutation from the node's current versions. It runs while
// the store holds the node's write lock or transaction, so numbers it derives
// from existing cannot be taken by a concurrent writer.
type PlanFunc func(existing []*Version) (*Mutation, error)

// Store persists versions. Apply must commit all of a mutation or none of it.
type Store interface {
	Reader
	Apply(ctx context.Context, nodeID string, plan PlanFunc) error
}

// MemoryStore keeps versions in process memory
type MemoryStore struct {
	mu       sync.Mutex
	versions map[string][]*Version
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{versions: make(map[string][]*Version)}
}

// Versions implements Reader. Returned versions are copies.
func (s *MemoryStore) Versions(_ context.Context, nodeID string) ([]*Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(s.versions[nodeID]), nil
}

// Apply implements Store
func (s *MemoryStore) Apply(_ context.Context, nodeID string, plan PlanFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.versions[nodeID]
	m, err := plan(cloneAll(existing))
	if err != nil {
		return err
	}
	if m == nil {
		return nil
	}

	if err := m.Validate(nodeID, existing); err != nil {
		return err
	}

	updated := cloneAll(existing)
	for _, edit := range m.Windows {
		v, _ := ByNumber(updated, edit.Number)
		v.EffectiveDate = copyTime(edit.EffectiveDate)
		v.ExpiryDate = copyTime(edit.ExpiryDate)
	}
	if m.Insert != nil {
		updated = append(updated, m.Insert.Clone())
		sort.Slice(updated, func(i, j int) bool { return updated[i].Number < updated[j].Number })
	}
	s.versions[nodeID] = updated
	return nil
}

func cloneAll(versions []*Version) []*Version {
	out := make([]*Version, len(versions))
	for i, v := range versions {
		out[i] = v.Clone()
	}
	return out
}
