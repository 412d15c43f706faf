// ABOUTME: Node persistence for the SQLite store
// ABOUTME: Moves are cycle-checked inside an immediate transaction

package sqlstore

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/nainya/cmsengine/pkg/node"
)

const nodeColumns = `id, parent_id, position, layout_ref, deleted, created_at`

// Node implements node.Source. Deleted nodes are returned with Deleted set.
func (s *Store) Node(ctx context.Context, id string) (*node.Node, error) {
	var found *node.Node
	err := s.withConn(ctx, "get_node", func(conn *sqlite.Conn) error {
		var err error
		found, err = getNode(conn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// AddNode inserts a node. The parent, if any, must already exist.
func (s *Store) AddNode(ctx context.Context, n *node.Node) error {
	return s.withConn(ctx, "add_node", func(conn *sqlite.Conn) (err error) {
		endTransaction, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return fmt.Errorf("%w: begin: %w", node.ErrStoreUnavailable, err)
		}
		defer endTransaction(&err)

		if existing, err := lookupNode(conn, n.ID); err != nil {
			return err
		} else if existing != nil {
			return fmt.Errorf("%w: %s", node.ErrAlreadyExists, n.ID)
		}
		if n.ParentID != nil {
			parent, err := lookupNode(conn, *n.ParentID)
			if err != nil {
				return err
			}
			if parent == nil {
				return fmt.Errorf("%w: %s (parent of %s)", node.ErrParentNotFound, *n.ParentID, n.ID)
			}
		}

		created := n.CreatedAt
		if created.IsZero() {
			created = s.clock.Now()
		}
		var parent any
		if n.ParentID != nil {
			parent = *n.ParentID
		}
		err = sqlitex.Execute(conn,
			`INSERT INTO nodes (`+nodeColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{n.ID, parent, n.Position, n.LayoutRef, boolInt(n.Deleted), formatTime(created)}},
		)
		if err != nil {
			return fmt.Errorf("%w: insert node %s: %w", node.ErrStoreUnavailable, n.ID, err)
		}
		return nil
	})
}

// MoveNode re-parents a node, refusing moves that would create a cycle
func (s *Store) MoveNode(ctx context.Context, id string, parentID *string) error {
	return s.withConn(ctx, "move_node", func(conn *sqlite.Conn) (err error) {
		endTransaction, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return fmt.Errorf("%w: begin: %w", node.ErrStoreUnavailable, err)
		}
		defer endTransaction(&err)

		if _, err := getNode(conn, id); err != nil {
			return err
		}

		seen := map[string]bool{}
		for cur := parentID; cur != nil; {
			if *cur == id || seen[*cur] {
				return fmt.Errorf("%w: moving %s under %s", node.ErrCycle, id, *parentID)
			}
			seen[*cur] = true
			n, err := lookupNode(conn, *cur)
			if err != nil {
				return err
			}
			if n == nil {
				return fmt.Errorf("%w: %s", node.ErrParentNotFound, *cur)
			}
			cur = n.ParentID
		}

		var parent any
		if parentID != nil {
			parent = *parentID
		}
		err = sqlitex.Execute(conn, `UPDATE nodes SET parent_id = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{parent, id}})
		if err != nil {
			return fmt.Errorf("%w: move node %s: %w", node.ErrStoreUnavailable, id, err)
		}
		return nil
	})
}

// DeleteNode soft-deletes a node. Its descendants keep inheriting through it.
func (s *Store) DeleteNode(ctx context.Context, id string) error {
	return s.withConn(ctx, "delete_node", func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `UPDATE nodes SET deleted = 1 WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{id}})
		if err != nil {
			return fmt.Errorf("%w: delete node %s: %w", node.ErrStoreUnavailable, id, err)
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("%w: %s", node.ErrNotFound, id)
		}
		return nil
	})
}

// Children returns live children of parentID ordered by position then id.
// A nil parentID lists roots.
func (s *Store) Children(ctx context.Context, parentID *string) ([]*node.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE deleted = 0 AND parent_id IS NULL ORDER BY position, id`
	var args []any
	if parentID != nil {
		query = `SELECT ` + nodeColumns + ` FROM nodes WHERE deleted = 0 AND parent_id = ? ORDER BY position, id`
		args = []any{*parentID}
	}

	var out []*node.Node
	err := s.withConn(ctx, "list_children", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				n, err := scanNode(stmt)
				if err != nil {
					return err
				}
				out = append(out, n)
				return nil
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func getNode(conn *sqlite.Conn, id string) (*node.Node, error) {
	n, err := lookupNode(conn, id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, fmt.Errorf("%w: %s", node.ErrNotFound, id)
	}
	return n, nil
}

// lookupNode returns nil without error when the id is unknown
func lookupNode(conn *sqlite.Conn, id string) (*node.Node, error) {
	var found *node.Node
	err := sqlitex.Execute(conn, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			n, err := scanNode(stmt)
			found = n
			return err
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: read node %s: %w", node.ErrStoreUnavailable, id, err)
	}
	return found, nil
}

func scanNode(stmt *sqlite.Stmt) (*node.Node, error) {
	// Columns: id(0), parent_id(1), position(2), layout_ref(3), deleted(4), created_at(5)
	n := &node.Node{
		ID:        stmt.ColumnText(0),
		Position:  stmt.ColumnInt(2),
		LayoutRef: stmt.ColumnText(3),
		Deleted:   stmt.ColumnInt(4) != 0,
	}
	if !stmt.ColumnIsNull(1) {
		n.ParentID = node.Parent(stmt.ColumnText(1))
	}
	created, err := parseTime(stmt.ColumnText(5))
	if err != nil {
		return nil, fmt.Errorf("node %s: created_at: %w", n.ID, err)
	}
	n.CreatedAt = created
	return n, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
