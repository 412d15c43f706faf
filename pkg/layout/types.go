// ABOUTME: Slot policy data model supplied by the active layout
// ABOUTME: Decides inheritance, merge vs replace and inheritable widget types

package layout

import "errors"

var (
	// ErrConfiguration marks every layout lookup failure. Callers decide
	// whether an unconfigured slot renders empty or fails hard.
	ErrConfiguration = errors.New("layout: configuration error")

	// ErrUnknownLayout is returned for a layout ref that was never registered
	ErrUnknownLayout = errors.New("layout: unknown layout")

	// ErrUnknownSlot is returned for a slot the layout does not declare
	ErrUnknownSlot = errors.New("layout: unknown slot")
)

// SlotPolicy is the inheritance policy of one slot
type SlotPolicy struct {
	AllowsInheritance bool     `yaml:"inherit"`
	AllowMerge        bool     `yaml:"merge"`
	InheritableTypes  []string `yaml:"inheritable_types,omitempty"`
}

// MergeMode reports whether local and inherited widgets are combined.
// A slot that allows inheritance without merge is in replace mode.
func (p SlotPolicy) MergeMode() bool {
	return p.AllowsInheritance && p.AllowMerge
}

// Restricted reports whether only some widget types may be inherited
func (p SlotPolicy) Restricted() bool {
	return len(p.InheritableTypes) > 0
}

// Inheritable reports whether typeTag may be inherited into the slot.
// An empty type list allows every type.
func (p SlotPolicy) Inheritable(typeTag string) bool {
	if !p.Restricted() {
		return true
	}
	for _, t := range p.InheritableTypes {
		if t == typeTag {
			return true
		}
	}
	return false
}

// Layout declares the slots a page template exposes
type Layout struct {
	Ref   string                `yaml:"ref"`
	Name  string                `yaml:"name,omitempty"`
	Slots map[string]SlotPolicy `yaml:"slots"`
}

// Provider looks up slot policies by layout ref and slot name
type Provider interface {
	Policy(layoutRef, slot string) (SlotPolicy, error)
}
