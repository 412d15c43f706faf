// ABOUTME: Request and result types for widget inheritance resolution
// ABOUTME: ResolvedSlot carries render-ready widgets plus raw inherited entries for editors

package resolve

import (
	"errors"
	"time"

	"github.com/nainya/cmsengine/pkg/layout"
	"github.com/nainya/cmsengine/pkg/widget"
)

// ErrCycleDetected is returned when an ancestor walk revisits a node or
// exceeds the configured depth bound. It indicates corrupt parent pointers.
var ErrCycleDetected = errors.New("resolve: cycle detected in ancestor chain")

// Selection chooses which version of each node the walk reads
type Selection int

const (
	// PublishedOnly reads only live versions. Public rendering uses this.
	PublishedOnly Selection = iota

	// PublishedOrLatest falls back to the latest version when nothing is
	// live. Editor and preview flows opt into this explicitly.
	PublishedOrLatest
)

func (s Selection) String() string {
	switch s {
	case PublishedOnly:
		return "published"
	case PublishedOrLatest:
		return "published_or_latest"
	default:
		return "unknown"
	}
}

// Request asks for the effective widgets of one slot on one node
type Request struct {
	NodeID string
	Slot   string

	// At is the point in time for publish checks; zero means the resolver's clock
	At time.Time

	// Layout overrides the layout effective at the node
	Layout string

	Selection Selection
}

// Placement is a widget entry tagged with where it came from
type Placement struct {
	Widget       widget.Entry
	SourceNodeID string
	Depth        int // 0 for the requested node, 1 for its parent, ...
	Version      int // version number the entry was read from
}

// ResolvedSlot is the outcome of resolving one slot
type ResolvedSlot struct {
	NodeID string
	Slot   string
	Layout string
	At     time.Time
	Policy layout.SlotPolicy

	// Widgets is the ordered, render-ready list
	Widgets []Placement

	// InheritedRaw holds every inheritable ancestor entry seen during the
	// walk, including ones hidden by an override or a type replacement
	InheritedRaw []Placement

	MergeMode bool

	// Overridden is set when a local override_parent widget replaced inherited ones
	Overridden bool

	// LevelsVisited counts the live nodes the walk read
	LevelsVisited int
}

// HiddenCount is the number of raw inherited entries that were not rendered
func (r *ResolvedSlot) HiddenCount() int {
	rendered := make(map[string]bool, len(r.Widgets))
	for _, p := range r.Widgets {
		rendered[p.SourceNodeID+"\x00"+p.Widget.ID] = true
	}
	hidden := 0
	for _, p := range r.InheritedRaw {
		if !rendered[p.SourceNodeID+"\x00"+p.Widget.ID] {
			hidden++
		}
	}
	return hidden
}

// Page is a set of resolved slots for one node
type Page struct {
	NodeID string
	Layout string
	At     time.Time
	Slots  map[string]*ResolvedSlot

	// Errors records slots that rendered empty because of configuration problems
	Errors map[string]error
}
