// ABOUTME: Content tree data model for pages and object instances
// ABOUTME: Nodes reference their parent by id, never by pointer

package node

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a node doesn't exist or is deleted
	ErrNotFound = errors.New("node: not found")

	// ErrAlreadyExists is returned when adding a node with an existing id
	ErrAlreadyExists = errors.New("node: already exists")

	// ErrParentNotFound is returned when a node names a missing parent
	ErrParentNotFound = errors.New("node: parent not found")

	// ErrCycle is returned when re-parenting would make a node its own ancestor
	ErrCycle = errors.New("node: parent chain would form a cycle")

	// ErrStoreUnavailable wraps I/O failures of a backing store
	ErrStoreUnavailable = errors.New("node: store unavailable")
)

// Node represents a page or object instance in the content tree
type Node struct {
	ID        string  // Unique node identifier
	ParentID  *string // Parent node ID (nil for root)
	Position  int     // Ordering among siblings
	LayoutRef string  // Layout declared on the node itself, if any
	Deleted   bool    // Soft-delete marker
	CreatedAt time.Time
}

// IsRoot reports whether the node has no parent
func (n *Node) IsRoot() bool {
	return n.ParentID == nil
}

// Source looks nodes up by id. Implementations return deleted nodes with
// Deleted set so the ancestor walk can skip them; a missing id is ErrNotFound.
type Source interface {
	Node(ctx context.Context, id string) (*Node, error)
}

// Parent returns a pointer to id, for building ParentID values
func Parent(id string) *string {
	return &id
}
