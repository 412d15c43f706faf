// ABOUTME: Page-level resolution of many slots at once
// ABOUTME: Configuration problems render a slot empty instead of failing the page

package resolve

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nainya/cmsengine/pkg/layout"
)

// SlotLister is implemented by layout providers that can enumerate slots
type SlotLister interface {
	SlotNames(layoutRef string) ([]string, error)
}

// PageRequest asks for several slots of one node
type PageRequest struct {
	NodeID string

	// Slots to resolve; empty means every slot of the layout, which needs a
	// provider implementing SlotLister
	Slots []string

	At        time.Time
	Layout    string
	Selection Selection
}

// ResolvePage resolves slots concurrently. A slot whose policy cannot be
// found renders empty and is recorded in Page.Errors. Store failures, cycles
// and cancellation abort the whole page.
func (r *Resolver) ResolvePage(ctx context.Context, req PageRequest) (*Page, error) {
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

	slots := req.Slots
	if len(slots) == 0 {
		lister, ok := r.layouts.(SlotLister)
		if !ok {
			return nil, fmt.Errorf("resolve: no slots requested and layout provider cannot list them")
		}
		var err error
		if slots, err = lister.SlotNames(layoutRef); err != nil {
			return nil, err
		}
	}

	page := &Page{
		NodeID: req.NodeID,
		Layout: layoutRef,
		At:     at,
		Slots:  make(map[string]*ResolvedSlot, len(slots)),
		Errors: make(map[string]error),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)

	for _, slot := range slots {
		g.Go(func() error {
			resolved, err := r.Resolve(gctx, Request{
				NodeID:    req.NodeID,
				Slot:      slot,
				At:        at,
				Layout:    layoutRef,
				Selection: req.Selection,
			})
			if err != nil && !errors.Is(err, layout.ErrConfiguration) {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.log.Warn().
					Str("node_id", req.NodeID).
					Str("slot", slot).
					Err(err).
					Msg("slot unresolved, rendering empty")
				page.Errors[slot] = err
				resolved = &ResolvedSlot{
					NodeID:       req.NodeID,
					Slot:         slot,
					Layout:       layoutRef,
					At:           at,
					Widgets:      []Placement{},
					InheritedRaw: []Placement{},
				}
			}
			page.Slots[slot] = resolved
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return page, nil
}
