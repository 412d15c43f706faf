// ABOUTME: Version data model and derived publication status
// ABOUTME: Status is always computed from the publish window, never stored

package version

import (
	"errors"
	"fmt"
	"time"

	"github.com/nainya/cmsengine/pkg/widget"
)

var (
	// ErrNotFound is returned when a node has no version with the requested number
	ErrNotFound = errors.New("version: not found")

	// ErrInvalidWindow is returned when effectiveDate is not before expiryDate
	ErrInvalidWindow = errors.New("version: effective date must be before expiry date")

	// ErrConflict is returned by stores when a version number is already taken
	ErrConflict = errors.New("version: version number already exists")

	// ErrNotPublished is returned when unpublishing a node with no live version
	ErrNotPublished = errors.New("version: node has no published version")

	// ErrNoContent is returned when a node has no versions at all
	ErrNoContent = errors.New("version: node has no versions")
)

// Version is a content snapshot of one node
type Version struct {
	ID            string     // Stable identifier (uuid)
	NodeID        string     // Owning node
	Number        int        // Monotonic per node, starts at 1
	EffectiveDate *time.Time // nil means draft
	ExpiryDate    *time.Time // nil means never expires
	Widgets       map[string][]widget.Entry
	LayoutRef     string
	ThemeRef      string
	CreatedAt     time.Time
	CreatedBy     string
	Description   string
}

// Slot returns the raw entries for a slot, or an empty list
func (v *Version) Slot(name string) []widget.Entry {
	if v == nil || v.Widgets == nil {
		return []widget.Entry{}
	}
	if entries, ok := v.Widgets[name]; ok {
		return entries
	}
	return []widget.Entry{}
}

// Clone returns a copy that shares no slices, config maps or date pointers with v
func (v *Version) Clone() *Version {
	cp := *v
	cp.Widgets = widget.Clone(v.Widgets)
	cp.EffectiveDate = copyTime(v.EffectiveDate)
	cp.ExpiryDate = copyTime(v.ExpiryDate)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Status is the derived publication state of a version
type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusPublished Status = "published"
	StatusExpired   Status = "expired"
)

// StatusAt derives the status of v at now
func StatusAt(v *Version, now time.Time) Status {
	switch {
	case v.EffectiveDate == nil:
		return StatusDraft
	case v.EffectiveDate.After(now):
		return StatusScheduled
	case v.ExpiryDate != nil && !v.ExpiryDate.After(now):
		return StatusExpired
	default:
		return StatusPublished
	}
}

// LiveAt reports whether v's publish window contains now
func LiveAt(v *Version, now time.Time) bool {
	return StatusAt(v, now) == StatusPublished
}

// ValidateWindow checks that effective precedes expiry when both are set
func ValidateWindow(effective, expiry *time.Time) error {
	if effective != nil && expiry != nil && !effective.Before(*expiry) {
		return fmt.Errorf("%w: %s >= %s", ErrInvalidWindow,
			effective.Format(time.RFC3339), expiry.Format(time.RFC3339))
	}
	return nil
}
