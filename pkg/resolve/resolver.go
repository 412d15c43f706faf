// ABOUTME: Inheritance resolver combining local and ancestor widgets per slot policy
// ABOUTME: Read-only and stateless; safe for concurrent use over a consistent snapshot

package resolve

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nainya/cmsengine/pkg/clock"
	"github.com/nainya/cmsengine/pkg/layout"
	"github.com/nainya/cmsengine/pkg/node"
	"github.com/nainya/cmsengine/pkg/version"
	"github.com/nainya/cmsengine/pkg/widget"
)

// DefaultMaxDepth bounds ancestor walks when no option overrides it
const DefaultMaxDepth = 256

// Resolver computes effective widgets for slots of a content tree
type Resolver struct {
	nodes       node.Source
	versions    version.Reader
	layouts     layout.Provider
	clock       clock.Clock
	log         zerolog.Logger
	maxDepth    int
	parallelism int
}

// Option configures a Resolver
type Option func(*Resolver)

// WithLogger sets the resolver's logger
func WithLogger(log zerolog.Logger) Option {
	return func(r *Resolver) { r.log = log }
}

// WithClock sets the clock used when a request has no explicit time
func WithClock(c clock.Clock) Option {
	return func(r *Resolver) { r.clock = c }
}

// WithMaxDepth bounds the number of nodes an ancestor walk may visit
func WithMaxDepth(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxDepth = n
		}
	}
}

// WithParallelism bounds concurrent slot resolutions in ResolvePage
func WithParallelism(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.parallelism = n
		}
	}
}

// New creates a resolver over the given collaborators
func New(nodes node.Source, versions version.Reader, layouts layout.Provider, opts ...Option) *Resolver {
	r := &Resolver{
		nodes:       nodes,
		versions:    versions,
		layouts:     layouts,
		clock:       clock.Real(),
		log:         zerolog.Nop(),
		maxDepth:    DefaultMaxDepth,
		parallelism: 8,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve computes the effective widget list for one slot of one node
func (r *Resolver) Resolve(ctx context.Context, req Request) (*ResolvedSlot, error) {
	at := req.At
	if at.IsZero() {
		at = r.clock.Now()
	}

	layoutRef := req.Layout
	if layoutRef == "" {
		var err error
		if layoutRef, err = r.EffectiveLayout(ctx, req.NodeID, at, req.Selection); err != nil {
			return nil, err
		}
	}

	policy, err := r.layouts.Policy(layoutRef, req.Slot)
	if err != nil {
		return nil, err
	}

	out := &ResolvedSlot{
		NodeID:       req.NodeID,
		Slot:         req.Slot,
		Layout:       layoutRef,
		At:           at,
		Policy:       policy,
		Widgets:      []Placement{},
		InheritedRaw: []Placement{},
		MergeMode:    policy.MergeMode(),
	}

	if !policy.AllowsInheritance {
		return r.resolveLocal(ctx, req, at, out)
	}

	var (
		local, inherited  []Placement
		localPresent      bool
		inheritedCaptured bool
	)

	err = r.walk(ctx, req.NodeID, func(n *node.Node, depth int) (bool, error) {
		v, err := r.selectVersion(ctx, n.ID, at, req.Selection)
		if err != nil {
			return false, err
		}
		out.LevelsVisited++

		kept := []Placement{}
		for _, e := range widget.Filter(v.Slot(req.Slot), at) {
			if depth > 0 {
				if !e.InheritableAt(depth) || !policy.Inheritable(e.Type) {
					continue
				}
			}
			kept = append(kept, Placement{
				Widget:       e,
				SourceNodeID: n.ID,
				Depth:        depth,
				Version:      v.Number,
			})
		}

		if depth == 0 {
			if len(kept) > 0 {
				localPresent = true
				local = kept
			}
		} else {
			out.InheritedRaw = append(out.InheritedRaw, kept...)
			if len(kept) > 0 && !inheritedCaptured {
				inherited = kept
				inheritedCaptured = true
			}
		}

		if out.MergeMode {
			return localPresent && inheritedCaptured, nil
		}
		return localPresent || inheritedCaptured, nil
	})
	if err != nil {
		return nil, err
	}

	// a local widget of a controlled type supersedes inheritance for the slot
	if policy.Restricted() && localPresent {
		for typeTag := range widget.Types(entries(local)) {
			if policy.Inheritable(typeTag) {
				inherited = nil
				break
			}
		}
	}

	switch {
	case !out.MergeMode && localPresent:
		out.Widgets = local
	case !out.MergeMode:
		out.Widgets = append(out.Widgets, inherited...)
	default:
		out.Widgets, out.Overridden = combine(local, inherited)
	}

	r.log.Debug().
		Str("node_id", req.NodeID).
		Str("slot", req.Slot).
		Str("layout", layoutRef).
		Bool("merge_mode", out.MergeMode).
		Int("levels", out.LevelsVisited).
		Int("rendered", len(out.Widgets)).
		Int("inherited_raw", len(out.InheritedRaw)).
		Msg("slot resolved")

	return out, nil
}

// combine merges local and inherited entries by each local entry's behavior.
// Any override_parent entry replaces the inherited list outright.
func combine(local, inherited []Placement) ([]Placement, bool) {
	var before, override, after []Placement
	for _, p := range local {
		switch p.Widget.Behavior {
		case widget.InsertBeforeParent:
			before = append(before, p)
		case widget.OverrideParent:
			override = append(override, p)
		default:
			after = append(after, p)
		}
	}

	if len(override) > 0 {
		return override, true
	}

	out := make([]Placement, 0, len(before)+len(inherited)+len(after))
	out = append(out, before...)
	out = append(out, inherited...)
	out = append(out, after...)
	return out, false
}

// resolveLocal handles slots that do not allow inheritance
func (r *Resolver) resolveLocal(ctx context.Context, req Request, at time.Time, out *ResolvedSlot) (*ResolvedSlot, error) {
	n, err := r.nodes.Node(ctx, req.NodeID)
	if err != nil {
		return nil, fmt.Errorf("resolve: node %s: %w", req.NodeID, err)
	}
	if n.Deleted {
		return nil, fmt.Errorf("resolve: %w: %s is deleted", node.ErrNotFound, n.ID)
	}

	v, err := r.selectVersion(ctx, n.ID, at, req.Selection)
	if err != nil {
		return nil, err
	}
	out.LevelsVisited = 1

	for _, e := range widget.Filter(v.Slot(req.Slot), at) {
		out.Widgets = append(out.Widgets, Placement{
			Widget:       e,
			SourceNodeID: n.ID,
			Version:      v.Number,
		})
	}
	return out, nil
}

// selectVersion returns the version the walk reads for a node, or nil when
// the node has nothing to show under the request's selection mode.
func (r *Resolver) selectVersion(ctx context.Context, nodeID string, at time.Time, sel Selection) (*version.Version, error) {
	versions, err := r.versions.Versions(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("resolve: versions of %s: %w", nodeID, err)
	}

	if live, ok := version.CurrentPublished(versions, at); ok {
		return live.Version, nil
	}
	if sel == PublishedOrLatest {
		if head, ok := version.Latest(versions); ok {
			return head.Version, nil
		}
	}
	return nil, nil
}

// EffectiveLayout returns the layout declared by the nearest node (self
// first). A node's selected version takes precedence over the node record.
func (r *Resolver) EffectiveLayout(ctx context.Context, nodeID string, at time.Time, sel Selection) (string, error) {
	var found string
	err := r.walk(ctx, nodeID, func(n *node.Node, _ int) (bool, error) {
		v, err := r.selectVersion(ctx, n.ID, at, sel)
		if err != nil {
			return false, err
		}
		if v != nil && v.LayoutRef != "" {
			found = v.LayoutRef
			return true, nil
		}
		if n.LayoutRef != "" {
			found = n.LayoutRef
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("%w: no layout declared on %s or its ancestors", layout.ErrConfiguration, nodeID)
	}
	return found, nil
}

// walk visits nodeID and then each live ancestor, passing the depth of every
// visited node. Deleted ancestors are skipped without consuming a depth
// level. visit returns true to stop the walk.
func (r *Resolver) walk(ctx context.Context, nodeID string, visit func(n *node.Node, depth int) (bool, error)) error {
	seen := make(map[string]struct{})
	depth := 0

	for cur, steps := nodeID, 0; ; steps++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, dup := seen[cur]; dup {
			return fmt.Errorf("%w: %s revisited walking up from %s", ErrCycleDetected, cur, nodeID)
		}
		if steps >= r.maxDepth {
			return fmt.Errorf("%w: more than %d levels above %s", ErrCycleDetected, r.maxDepth, nodeID)
		}
		seen[cur] = struct{}{}

		n, err := r.nodes.Node(ctx, cur)
		if err != nil {
			return fmt.Errorf("resolve: node %s: %w", cur, err)
		}

		if n.Deleted {
			if cur == nodeID {
				return fmt.Errorf("resolve: %w: %s is deleted", node.ErrNotFound, cur)
			}
		} else {
			stop, err := visit(n, depth)
			if err != nil || stop {
				return err
			}
			depth++
		}

		if n.ParentID == nil {
			return nil
		}
		cur = *n.ParentID
	}
}

func entries(ps []Placement) []widget.Entry {
	out := make([]widget.Entry, len(ps))
	for i, p := range ps {
		out[i] = p.Widget
	}
	return out
}
