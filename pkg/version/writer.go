// ABOUTME: Version writer implementing create, publish, unpublish and restore
// ABOUTME: Every write goes through Store.Apply so numbering is serialized per node

package version

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nainya/cmsengine/pkg/clock"
	"github.com/nainya/cmsengine/pkg/widget"
)

// Writer creates versions and moves them through their publish windows
type Writer struct {
	store Store
	clock clock.Clock
	log   zerolog.Logger
	newID func() string
}

// WriterOption configures a Writer
type WriterOption func(*Writer)

// WithLogger sets the writer's logger
func WithLogger(log zerolog.Logger) WriterOption {
	return func(w *Writer) { w.log = log }
}

// WithIDGenerator replaces the uuid generator, mainly for tests
func WithIDGenerator(fn func() string) WriterOption {
	return func(w *Writer) { w.newID = fn }
}

// NewWriter creates a writer over store
func NewWriter(store Store, clk clock.Clock, opts ...WriterOption) *Writer {
	w := &Writer{
		store: store,
		clock: clk,
		log:   zerolog.Nop(),
		newID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// CreateRequest describes a new version
type CreateRequest struct {
	NodeID string

	// Widgets, LayoutRef and ThemeRef are copied forward from the node's
	// latest version when left empty.
	Widgets   map[string][]widget.Entry
	LayoutRef string
	ThemeRef  string

	Author      string
	Description string

	// Publish makes the version live at now. EffectiveDate, when set,
	// publishes at that instant instead. Otherwise the version is a draft.
	Publish       bool
	EffectiveDate *time.Time
	ExpiryDate    *time.Time
}

// Create allocates the next version number for the node and stores a new version
func (w *Writer) Create(ctx context.Context, req CreateRequest) (*Version, error) {
	if req.NodeID == "" {
		return nil, fmt.Errorf("version: create: node id is required")
	}

	now := w.clock.Now()
	effective := req.EffectiveDate
	if effective == nil && req.Publish {
		effective = &now
	}
	if err := ValidateWindow(effective, req.ExpiryDate); err != nil {
		return nil, fmt.Errorf("version: create %s: %w", req.NodeID, err)
	}

	var created *Version
	err := w.store.Apply(ctx, req.NodeID, func(existing []*Version) (*Mutation, error) {
		head, hasHead := Latest(existing)

		v := &Version{
			ID:            w.newID(),
			NodeID:        req.NodeID,
			Number:        NextNumber(existing),
			EffectiveDate: copyTime(effective),
			ExpiryDate:    copyTime(req.ExpiryDate),
			LayoutRef:     req.LayoutRef,
			ThemeRef:      req.ThemeRef,
			CreatedAt:     now,
			CreatedBy:     req.Author,
			Description:   req.Description,
		}

		switch {
		case req.Widgets != nil:
			v.Widgets = widget.Clone(req.Widgets)
		case hasHead:
			v.Widgets = widget.Clone(head.Widgets)
		default:
			v.Widgets = map[string][]widget.Entry{}
		}
		if hasHead {
			if v.LayoutRef == "" {
				v.LayoutRef = head.LayoutRef
			}
			if v.ThemeRef == "" {
				v.ThemeRef = head.ThemeRef
			}
		}

		created = v
		return &Mutation{Insert: v}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("version: create %s: %w", req.NodeID, err)
	}

	w.log.Info().
		Str("operation", "create").
		Str("node_id", created.NodeID).
		Int("version", created.Number).
		Str("status", string(StatusAt(created, now))).
		Str("author", created.CreatedBy).
		Msg("version created")

	return created, nil
}

// Publish sets the effective date of an existing version, defaulting to now.
// The version's expiry date is left as it is.
func (w *Writer) Publish(ctx context.Context, nodeID string, number int, effective *time.Time) (*Version, error) {
	now := w.clock.Now()
	if effective == nil {
		effective = &now
	}

	var published *Version
	err := w.store.Apply(ctx, nodeID, func(existing []*Version) (*Mutation, error) {
		v, ok := ByNumber(existing, number)
		if !ok {
			return nil, fmt.Errorf("%w: %s v%d", ErrNotFound, nodeID, number)
		}
		if err := ValidateWindow(effective, v.ExpiryDate); err != nil {
			return nil, err
		}

		v.EffectiveDate = copyTime(effective)
		published = v
		return &Mutation{Windows: []WindowEdit{{
			Number:        v.Number,
			EffectiveDate: v.EffectiveDate,
			ExpiryDate:    v.ExpiryDate,
		}}}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("version: publish %s v%d: %w", nodeID, number, err)
	}

	w.log.Info().
		Str("operation", "publish").
		Str("node_id", nodeID).
		Int("version", number).
		Time("effective_date", *published.EffectiveDate).
		Msg("version published")

	return published, nil
}

// Unpublish takes a node offline. It inserts a new draft carrying the live
// content and caps the expiry of every version live at now, in one write.
// Scheduled versions keep their future windows. A node without versions
// fails with ErrNoContent, one with nothing live with ErrNotPublished.
func (w *Writer) Unpublish(ctx context.Context, nodeID, author string) (*Version, error) {
	now := w.clock.Now()

	var draft *Version
	var capped []int
	err := w.store.Apply(ctx, nodeID, func(existing []*Version) (*Mutation, error) {
		if len(existing) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoContent, nodeID)
		}
		live, ok := CurrentPublished(existing, now)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotPublished, nodeID)
		}

		m := &Mutation{}
		for _, v := range existing {
			if !LiveAt(v, now) {
				continue
			}
			edit := WindowEdit{Number: v.Number, EffectiveDate: v.EffectiveDate, ExpiryDate: &now}
			if !v.EffectiveDate.Before(now) {
				// went live this instant; an empty window is not representable
				edit = WindowEdit{Number: v.Number, ExpiryDate: v.ExpiryDate}
			}
			m.Windows = append(m.Windows, edit)
			capped = append(capped, v.Number)
		}

		draft = &Version{
			ID:          w.newID(),
			NodeID:      nodeID,
			Number:      NextNumber(existing),
			Widgets:     widget.Clone(live.Widgets),
			LayoutRef:   live.LayoutRef,
			ThemeRef:    live.ThemeRef,
			CreatedAt:   now,
			CreatedBy:   author,
			Description: fmt.Sprintf("unpublished v%d", live.Number),
		}
		m.Insert = draft
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("version: unpublish %s: %w", nodeID, err)
	}

	w.log.Info().
		Str("operation", "unpublish").
		Str("node_id", nodeID).
		Int("version", draft.Number).
		Ints("expired_versions", capped).
		Msg("node unpublished")

	return draft, nil
}

// Restore creates a new draft from the content of an old version. The old
// number is never reused.
func (w *Writer) Restore(ctx context.Context, nodeID string, number int, author string) (*Version, error) {
	now := w.clock.Now()

	var restored *Version
	err := w.store.Apply(ctx, nodeID, func(existing []*Version) (*Mutation, error) {
		src, ok := ByNumber(existing, number)
		if !ok {
			return nil, fmt.Errorf("%w: %s v%d", ErrNotFound, nodeID, number)
		}

		restored = &Version{
			ID:          w.newID(),
			NodeID:      nodeID,
			Number:      NextNumber(existing),
			Widgets:     widget.Clone(src.Widgets),
			LayoutRef:   src.LayoutRef,
			ThemeRef:    src.ThemeRef,
			CreatedAt:   now,
			CreatedBy:   author,
			Description: fmt.Sprintf("restored from v%d", src.Number),
		}
		return &Mutation{Insert: restored}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("version: restore %s v%d: %w", nodeID, number, err)
	}

	w.log.Info().
		Str("operation", "restore").
		Str("node_id", nodeID).
		Int("from_version", number).
		Int("version", restored.Number).
		Msg("version restored")

	return restored, nil
}

// HistoryEntry pairs a version with its status at the time of the call
type HistoryEntry struct {
	Version *Version
	Status  Status
}

// History lists every version of a node with its derived status
func (w *Writer) History(ctx context.Context, nodeID string) ([]HistoryEntry, error) {
	versions, err := w.store.Versions(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("version: history %s: %w", nodeID, err)
	}

	now := w.clock.Now()
	out := make([]HistoryEntry, len(versions))
	for i, v := range versions {
		out[i] = HistoryEntry{Version: v, Status: StatusAt(v, now)}
	}
	return out, nil
}
