// ABOUTME: Tests for concurrent page resolution
// ABOUTME: Checks slot enumeration and how configuration faults are softened

package resolve

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/nainya/cmsengine/pkg/layout"
	"github.com/nainya/cmsengine/pkg/version"
	"github.com/nainya/cmsengine/pkg/widget"
)

func TestResolvePageAllSlots(t *testing.T) {
	f := newFixture(t, mergeAll())
	f.addNode(t, "P", "")
	f.addNode(t, "C", "P")

	_, err := f.writer.Create(context.Background(), version.CreateRequest{
		NodeID: "P",
		Widgets: map[string][]widget.Entry{
			"sidebar": {w("s1", "x")},
			"header":  {w("h1", "x")},
			"main":    {w("m1", "x")},
		},
		Publish: true,
	})
	if err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}

	page, err := f.r.ResolvePage(context.Background(), PageRequest{NodeID: "C"})
	if err != nil {
		t.Fatalf("Failed to resolve page: %v", err)
	}

	if page.Layout != "default" {
		t.Errorf("Expected layout default, got %s", page.Layout)
	}

	var names []string
	for name := range page.Slots {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) != 3 {
		t.Fatalf("Expected 3 slots, got %v", names)
	}

	assertRefs(t, "sidebar", []ref{{"s1", "P"}}, page.Slots["sidebar"].Widgets)
	assertRefs(t, "header", []ref{{"h1", "P"}}, page.Slots["header"].Widgets)
	assertRefs(t, "main", nil, page.Slots["main"].Widgets)
	if len(page.Errors) != 0 {
		t.Errorf("Expected no slot errors, got %v", page.Errors)
	}
}

func TestResolvePageUnknownSlotRendersEmpty(t *testing.T) {
	f := newFixture(t, mergeAll())
	f.addNode(t, "P", "")
	f.publish(t, "P", "sidebar", w("s1", "x"))

	page, err := f.r.ResolvePage(context.Background(), PageRequest{
		NodeID: "P",
		Slots:  []string{"sidebar", "footer"},
	})
	if err != nil {
		t.Fatalf("Failed to resolve page: %v", err)
	}

	assertRefs(t, "sidebar", []ref{{"s1", "P"}}, page.Slots["sidebar"].Widgets)

	footer, ok := page.Slots["footer"]
	if !ok {
		t.Fatal("Expected footer to be present")
	}
	if len(footer.Widgets) != 0 {
		t.Errorf("Expected empty footer, got %d widgets", len(footer.Widgets))
	}
	if !errors.Is(page.Errors["footer"], layout.ErrConfiguration) {
		t.Errorf("Expected configuration error for footer, got %v", page.Errors["footer"])
	}
}

func TestResolvePageStoreFailureAborts(t *testing.T) {
	f := newFixture(t, mergeAll())
	f.addNode(t, "P", "")

	storeErr := errors.New("disk gone")
	r := New(f.arena, brokenVersions{storeErr}, f.layouts, WithParallelism(2))
	_, err := r.ResolvePage(context.Background(), PageRequest{NodeID: "P", Layout: "default"})
	if !errors.Is(err, storeErr) {
		t.Errorf("Expected store error, got %v", err)
	}
}

func TestResolvePageCancelled(t *testing.T) {
	f := newFixture(t, mergeAll())
	f.addNode(t, "P", "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.r.ResolvePage(ctx, PageRequest{NodeID: "P", Layout: "default"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
