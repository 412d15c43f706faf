// ABOUTME: In-memory node arena keyed by id
// ABOUTME: Ancestor walks are bounded id chases

package node

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nainya/cmsengine/pkg/clock"
)

// Arena is an in-memory Source. Safe for concurrent use.
type Arena struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	clock clock.Clock
}

// ArenaOption configures an Arena
type ArenaOption func(*Arena)

// WithClock sets the clock that stamps CreatedAt on added nodes
func WithClock(c clock.Clock) ArenaOption {
	return func(a *Arena) { a.clock = c }
}

// NewArena creates an empty arena
func NewArena(opts ...ArenaOption) *Arena {
	a := &Arena{nodes: make(map[string]*Node), clock: clock.Real()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Add stores a node. The parent, if any, must already exist.
func (a *Arena) Add(n *Node) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.nodes[n.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, n.ID)
	}
	if n.ParentID != nil {
		if _, ok := a.nodes[*n.ParentID]; !ok {
			return fmt.Errorf("%w: %s (parent of %s)", ErrParentNotFound, *n.ParentID, n.ID)
		}
	}

	cp := *n
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = a.clock.Now()
	}
	a.nodes[n.ID] = &cp
	return nil
}

// Node implements Source
func (a *Arena) Node(_ context.Context, id string) (*Node, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	n, ok := a.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *n
	return &cp, nil
}

// Move re-parents a node, refusing moves that would create a cycle
func (a *Arena) Move(id string, parentID *string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	n, ok := a.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	// walk up from the new parent; reaching id means a cycle
	steps := 0
	for cur := parentID; cur != nil; steps++ {
		if *cur == id || steps > len(a.nodes) {
			return fmt.Errorf("%w: %s under %s", ErrCycle, id, *parentID)
		}
		p, ok := a.nodes[*cur]
		if !ok {
			return fmt.Errorf("%w: %s", ErrParentNotFound, *cur)
		}
		cur = p.ParentID
	}

	n.ParentID = parentID
	return nil
}

// Delete soft-deletes a node
func (a *Arena) Delete(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	n, ok := a.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	n.Deleted = true
	return nil
}

// Children returns live children of parentID ordered by position then id.
// A nil parentID lists roots.
func (a *Arena) Children(parentID *string) []*Node {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []*Node
	for _, n := range a.nodes {
		if n.Deleted {
			continue
		}
		switch {
		case parentID == nil && n.ParentID == nil,
			parentID != nil && n.ParentID != nil && *n.ParentID == *parentID:
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out
}
