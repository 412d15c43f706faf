// ABOUTME: Widget entry data model for layout slots
// ABOUTME: Carries publish window and inheritance metadata; config is opaque

package widget

import (
	"fmt"
	"strings"
	"time"
)

// InfiniteLevel propagates an entry to every descendant
const InfiniteLevel = -1

// Behavior controls how a local entry combines with inherited entries in merge mode
type Behavior int

const (
	InsertAfterParent Behavior = iota
	InsertBeforeParent
	OverrideParent
)

var behaviorNames = map[Behavior]string{
	InsertAfterParent:  "insert_after_parent",
	InsertBeforeParent: "insert_before_parent",
	OverrideParent:     "override_parent",
}

func (b Behavior) String() string {
	if name, ok := behaviorNames[b]; ok {
		return name
	}
	return fmt.Sprintf("behavior(%d)", int(b))
}

// ParseBehavior accepts snake_case or upper-case names
func ParseBehavior(s string) (Behavior, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for b, name := range behaviorNames {
		if name == want {
			return b, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown inheritance behavior %q", ErrMalformed, s)
}

// MarshalText implements encoding.TextMarshaler
func (b Behavior) MarshalText() ([]byte, error) {
	if _, ok := behaviorNames[b]; !ok {
		return nil, fmt.Errorf("widget: invalid behavior %d", int(b))
	}
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (b *Behavior) UnmarshalText(text []byte) error {
	parsed, err := ParseBehavior(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Entry is one widget placed into a slot
type Entry struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Config map[string]any `json:"config,omitempty"`

	// Order is a legacy fallback. Array position is authoritative.
	Order int `json:"order"`

	Published        bool       `json:"is_published"`
	PublishEffective *time.Time `json:"publish_effective_date,omitempty"`
	PublishExpire    *time.Time `json:"publish_expire_date,omitempty"`

	// Level: -1 infinite, 0 this node only, N ancestor levels
	Level    int      `json:"inheritance_level"`
	Behavior Behavior `json:"inheritance_behavior"`
}

// New returns an entry with the documented defaults: published, infinite
// inheritance, inserted after parent widgets.
func New(id, typeTag string) Entry {
	return Entry{
		ID:        id,
		Type:      typeTag,
		Published: true,
		Level:     InfiniteLevel,
		Behavior:  InsertAfterParent,
	}
}

// InheritableAt reports whether the entry propagates to a descendant depth
// levels below the node that owns it. Depth 0 is the owning node.
func (e Entry) InheritableAt(depth int) bool {
	switch {
	case e.Level == InfiniteLevel:
		return true
	case e.Level == 0:
		return depth == 0
	default:
		return depth <= e.Level
	}
}
