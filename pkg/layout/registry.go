// ABOUTME: In-memory layout registry, loadable from YAML
// ABOUTME: Implements Provider with configuration errors for unknown refs

package layout

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Registry holds known layouts. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	layouts map[string]Layout
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{layouts: make(map[string]Layout)}
}

// Register adds or replaces a layout
func (r *Registry) Register(l Layout) error {
	if l.Ref == "" {
		return fmt.Errorf("%w: layout ref is required", ErrConfiguration)
	}
	if l.Slots == nil {
		l.Slots = map[string]SlotPolicy{}
	}

	r.mu.Lock()
	r.layouts[l.Ref] = l
	r.mu.Unlock()
	return nil
}

// Layout returns a registered layout
func (r *Registry) Layout(ref string) (Layout, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.layouts[ref]
	if !ok {
		return Layout{}, fmt.Errorf("%w: %w: %q", ErrConfiguration, ErrUnknownLayout, ref)
	}
	return l, nil
}

// Refs lists registered layout refs in sorted order
func (r *Registry) Refs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	refs := make([]string, 0, len(r.layouts))
	for ref := range r.layouts {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

// Policy implements Provider
func (r *Registry) Policy(layoutRef, slot string) (SlotPolicy, error) {
	l, err := r.Layout(layoutRef)
	if err != nil {
		return SlotPolicy{}, err
	}
	p, ok := l.Slots[slot]
	if !ok {
		return SlotPolicy{}, fmt.Errorf("%w: %w: layout %q has no slot %q", ErrConfiguration, ErrUnknownSlot, layoutRef, slot)
	}
	return p, nil
}

// SlotNames lists the slots of a layout in sorted order
func (r *Registry) SlotNames(layoutRef string) ([]string, error) {
	l, err := r.Layout(layoutRef)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(l.Slots))
	for name := range l.Slots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// File is the YAML document shape for layout definitions
type File struct {
	Layouts []Layout `yaml:"layouts"`
}

// Load registers every layout in a YAML document
func (r *Registry) Load(rd io.Reader) error {
	var f File
	if err := yaml.NewDecoder(rd).Decode(&f); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("%w: decoding layouts: %v", ErrConfiguration, err)
	}
	for _, l := range f.Layouts {
		if err := r.Register(l); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile registers every layout in a YAML file
func (r *Registry) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	defer f.Close()
	return r.Load(f)
}
