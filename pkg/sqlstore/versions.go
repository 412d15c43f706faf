// ABOUTME: Version persistence for the SQLite store
// ABOUTME: Widgets are stored as CBOR and decoded through the loading-boundary decoder

package sqlstore

import (
	"context"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/nainya/cmsengine/pkg/node"
	"github.com/nainya/cmsengine/pkg/version"
	"github.com/nainya/cmsengine/pkg/widget"
)

const versionColumns = `node_id, number, id, effective_date, expiry_date, widgets,
	layout_ref, theme_ref, created_at, created_by, description`

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("sqlstore: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("sqlstore: CBOR decoder initialization failed: " + err.Error())
	}
}

// Versions implements version.Reader
func (s *Store) Versions(ctx context.Context, nodeID string) ([]*version.Version, error) {
	var out []*version.Version
	err := s.withConn(ctx, "list_versions", func(conn *sqlite.Conn) error {
		var err error
		out, err = s.listVersions(conn, nodeID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Apply implements version.Store. The plan runs inside an immediate
// transaction so concurrent writers to the same database serialize.
func (s *Store) Apply(ctx context.Context, nodeID string, plan version.PlanFunc) error {
	return s.withConn(ctx, "apply_versions", func(conn *sqlite.Conn) (err error) {
		endTransaction, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return fmt.Errorf("%w: begin: %w", node.ErrStoreUnavailable, err)
		}
		defer endTransaction(&err)

		existing, err := s.listVersions(conn, nodeID)
		if err != nil {
			return err
		}
		m, err := plan(existing)
		if err != nil {
			return err
		}
		if m == nil {
			return nil
		}
		if err := m.Validate(nodeID, existing); err != nil {
			return err
		}

		for _, edit := range m.Windows {
			err := sqlitex.Execute(conn,
				`UPDATE versions SET effective_date = ?, expiry_date = ? WHERE node_id = ? AND number = ?`,
				&sqlitex.ExecOptions{Args: []any{
					optionalTime(edit.EffectiveDate), optionalTime(edit.ExpiryDate), nodeID, edit.Number,
				}},
			)
			if err != nil {
				return fmt.Errorf("%w: update %s v%d: %w", node.ErrStoreUnavailable, nodeID, edit.Number, err)
			}
		}

		if m.Insert != nil {
			if err := insertVersion(conn, m.Insert); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertVersion(conn *sqlite.Conn, v *version.Version) error {
	blob, err := encodeWidgets(v.Widgets)
	if err != nil {
		return fmt.Errorf("sqlstore: encode widgets of %s v%d: %w", v.NodeID, v.Number, err)
	}

	err = sqlitex.Execute(conn,
		`INSERT INTO versions (`+versionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			v.NodeID, v.Number, v.ID,
			optionalTime(v.EffectiveDate), optionalTime(v.ExpiryDate),
			blob,
			v.LayoutRef, v.ThemeRef,
			formatTime(v.CreatedAt), v.CreatedBy, v.Description,
		}},
	)
	if err != nil {
		if sqlite.ErrCode(err).ToPrimary() == sqlite.ResultConstraint {
			return fmt.Errorf("%w: %s v%d: %w", version.ErrConflict, v.NodeID, v.Number, err)
		}
		return fmt.Errorf("%w: insert %s v%d: %w", node.ErrStoreUnavailable, v.NodeID, v.Number, err)
	}
	return nil
}

func (s *Store) listVersions(conn *sqlite.Conn, nodeID string) ([]*version.Version, error) {
	var out []*version.Version
	err := sqlitex.Execute(conn,
		`SELECT `+versionColumns+` FROM versions WHERE node_id = ? ORDER BY number`,
		&sqlitex.ExecOptions{
			Args: []any{nodeID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				v, err := scanVersion(stmt, s.log)
				if err != nil {
					return err
				}
				out = append(out, v)
				return nil
			},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: read versions of %s: %w", node.ErrStoreUnavailable, nodeID, err)
	}
	return out, nil
}

func scanVersion(stmt *sqlite.Stmt, log zerolog.Logger) (*version.Version, error) {
	// Columns: node_id(0), number(1), id(2), effective_date(3), expiry_date(4),
	// widgets(5), layout_ref(6), theme_ref(7), created_at(8), created_by(9), description(10)
	v := &version.Version{
		NodeID:      stmt.ColumnText(0),
		Number:      stmt.ColumnInt(1),
		ID:          stmt.ColumnText(2),
		LayoutRef:   stmt.ColumnText(6),
		ThemeRef:    stmt.ColumnText(7),
		CreatedBy:   stmt.ColumnText(9),
		Description: stmt.ColumnText(10),
	}

	var err error
	if v.EffectiveDate, err = columnTime(stmt, 3); err != nil {
		return nil, fmt.Errorf("%s v%d: effective_date: %w", v.NodeID, v.Number, err)
	}
	if v.ExpiryDate, err = columnTime(stmt, 4); err != nil {
		return nil, fmt.Errorf("%s v%d: expiry_date: %w", v.NodeID, v.Number, err)
	}
	if v.CreatedAt, err = parseTime(stmt.ColumnText(8)); err != nil {
		return nil, fmt.Errorf("%s v%d: created_at: %w", v.NodeID, v.Number, err)
	}

	blob := make([]byte, stmt.ColumnLen(5))
	stmt.ColumnBytes(5, blob)
	if v.Widgets, err = decodeWidgets(blob, log.With().Str("node_id", v.NodeID).Int("version", v.Number).Logger()); err != nil {
		return nil, fmt.Errorf("%s v%d: widgets: %w", v.NodeID, v.Number, err)
	}
	return v, nil
}

func encodeWidgets(slots map[string][]widget.Entry) ([]byte, error) {
	raw := make(map[string]any, len(slots))
	for slot, entries := range slots {
		list := make([]any, len(entries))
		for i, e := range entries {
			list[i] = e.Encode()
		}
		raw[slot] = list
	}
	return encMode.Marshal(raw)
}

func decodeWidgets(blob []byte, log zerolog.Logger) (map[string][]widget.Entry, error) {
	raw := map[string]any{}
	if len(blob) > 0 {
		if err := decMode.Unmarshal(blob, &raw); err != nil {
			return nil, err
		}
	}
	return widget.DecodeSlots(raw, log), nil
}
