// ABOUTME: Tests for the SQLite node and version store
// ABOUTME: Round-trips, transactional version writes and resolution over persisted data

package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/nainya/cmsengine/pkg/clock"
	"github.com/nainya/cmsengine/pkg/layout"
	"github.com/nainya/cmsengine/pkg/node"
	"github.com/nainya/cmsengine/pkg/resolve"
	"github.com/nainya/cmsengine/pkg/version"
	"github.com/nainya/cmsengine/pkg/widget"
)

var jan15 = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{
		Path:     filepath.Join(t.TempDir(), "cms.db"),
		PoolSize: 4,
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNodeLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.AddNode(ctx, &node.Node{ID: "home", LayoutRef: "default"}); err != nil {
		t.Fatalf("Failed to add root: %v", err)
	}
	for i, id := range []string{"b", "a", "c"} {
		if err := s.AddNode(ctx, &node.Node{ID: id, ParentID: node.Parent("home"), Position: i % 2}); err != nil {
			t.Fatalf("Failed to add %s: %v", id, err)
		}
	}

	if err := s.AddNode(ctx, &node.Node{ID: "home"}); !errors.Is(err, node.ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists, got %v", err)
	}
	if err := s.AddNode(ctx, &node.Node{ID: "x", ParentID: node.Parent("nope")}); !errors.Is(err, node.ErrParentNotFound) {
		t.Errorf("Expected ErrParentNotFound, got %v", err)
	}

	got, err := s.Node(ctx, "home")
	if err != nil {
		t.Fatalf("Failed to get node: %v", err)
	}
	if got.LayoutRef != "default" || !got.IsRoot() {
		t.Errorf("Expected root with layout default, got %+v", got)
	}

	children, err := s.Children(ctx, node.Parent("home"))
	if err != nil {
		t.Fatalf("Failed to list children: %v", err)
	}
	var ids []string
	for _, c := range children {
		ids = append(ids, c.ID)
	}
	if diff := cmp.Diff([]string{"b", "c", "a"}, ids); diff != "" {
		t.Errorf("Children order mismatch (-want +got):\n%s", diff)
	}

	if err := s.DeleteNode(ctx, "a"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	deleted, err := s.Node(ctx, "a")
	if err != nil || !deleted.Deleted {
		t.Errorf("Expected deleted node to be readable with Deleted set, got %+v (%v)", deleted, err)
	}
	if err := s.DeleteNode(ctx, "ghost"); !errors.Is(err, node.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := s.Node(ctx, "ghost"); !errors.Is(err, node.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestAddNodeStampsFromClock(t *testing.T) {
	s, err := Open(Config{
		Path:   filepath.Join(t.TempDir(), "cms.db"),
		Logger: zerolog.Nop(),
		Clock:  clock.Fixed(jan15),
	})
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	if err := s.AddNode(ctx, &node.Node{ID: "home"}); err != nil {
		t.Fatalf("Failed to add node: %v", err)
	}
	n, err := s.Node(ctx, "home")
	if err != nil {
		t.Fatalf("Failed to get node: %v", err)
	}
	if !n.CreatedAt.Equal(jan15) {
		t.Errorf("Expected created_at %v, got %v", jan15, n.CreatedAt)
	}
}

func TestMoveNodeRejectsCycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	s.AddNode(ctx, &node.Node{ID: "r"})
	s.AddNode(ctx, &node.Node{ID: "p", ParentID: node.Parent("r")})
	s.AddNode(ctx, &node.Node{ID: "c", ParentID: node.Parent("p")})

	if err := s.MoveNode(ctx, "p", node.Parent("c")); !errors.Is(err, node.ErrCycle) {
		t.Errorf("Expected ErrCycle, got %v", err)
	}
	if err := s.MoveNode(ctx, "c", nil); err != nil {
		t.Fatalf("Failed to move c to root: %v", err)
	}
	c, _ := s.Node(ctx, "c")
	if !c.IsRoot() {
		t.Errorf("Expected c to be a root after move, parent %v", *c.ParentID)
	}
}

func TestVersionRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	effective := jan15
	expiry := jan15.Add(24 * time.Hour)
	widgetStart := jan15.Add(time.Hour)

	banner := widget.New("w1", "banner")
	banner.Config = map[string]any{"title": "Welcome"}
	banner.Level = 1
	banner.Behavior = widget.InsertBeforeParent
	banner.PublishEffective = &widgetStart

	text := widget.New("w2", "text")
	text.Published = false
	text.Behavior = widget.OverrideParent

	want := &version.Version{
		ID:            "v-1",
		NodeID:        "home",
		Number:        1,
		EffectiveDate: &effective,
		ExpiryDate:    &expiry,
		Widgets: map[string][]widget.Entry{
			"sidebar": {banner, text},
			"main":    {},
		},
		LayoutRef:   "default",
		ThemeRef:    "dark",
		CreatedAt:   jan15,
		CreatedBy:   "alice",
		Description: "first",
	}

	err := s.Apply(ctx, "home", func([]*version.Version) (*version.Mutation, error) {
		return &version.Mutation{Insert: want}, nil
	})
	if err != nil {
		t.Fatalf("Failed to apply: %v", err)
	}

	versions, err := s.Versions(ctx, "home")
	if err != nil {
		t.Fatalf("Failed to read versions: %v", err)
	}
	if len(versions) != 1 {
		t.Fatalf("Expected 1 version, got %d", len(versions))
	}
	if diff := cmp.Diff(want, versions[0]); diff != "" {
		t.Errorf("Version mismatch (-want +got):\n%s", diff)
	}
}

func TestLargeIntegersSurviveRoundTrip(t *testing.T) {
	big := widget.New("big", "banner")
	big.Order = 3_000_000_000
	big.Level = 3_000_000_000
	neg := widget.New("neg", "text")
	neg.Order = -3_000_000_000

	blob, err := encodeWidgets(map[string][]widget.Entry{"main": {big, neg}})
	if err != nil {
		t.Fatalf("Failed to encode widgets: %v", err)
	}
	got, err := decodeWidgets(blob, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to decode widgets: %v", err)
	}
	if diff := cmp.Diff([]widget.Entry{big, neg}, got["main"]); diff != "" {
		t.Errorf("Entries mismatch (-want +got):\n%s", diff)
	}

	s := setupTestStore(t)
	ctx := context.Background()
	w := version.NewWriter(s, clock.Fixed(jan15))
	if _, err := w.Create(ctx, version.CreateRequest{
		NodeID:  "home",
		Widgets: map[string][]widget.Entry{"main": {big}},
	}); err != nil {
		t.Fatalf("Failed to create version: %v", err)
	}
	versions, err := s.Versions(ctx, "home")
	if err != nil {
		t.Fatalf("Failed to read versions: %v", err)
	}
	if entries := versions[0].Slot("main"); len(entries) != 1 || entries[0].Order != 3_000_000_000 {
		t.Errorf("Expected the entry to survive with order 3000000000, got %+v", entries)
	}
}

func TestApplyRejectsDuplicateNumber(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	insert := func(id string) error {
		return s.Apply(ctx, "home", func([]*version.Version) (*version.Mutation, error) {
			return &version.Mutation{Insert: &version.Version{
				ID: id, NodeID: "home", Number: 1, CreatedAt: jan15,
				Widgets: map[string][]widget.Entry{},
			}}, nil
		})
	}
	if err := insert("a"); err != nil {
		t.Fatalf("Failed first insert: %v", err)
	}
	if err := insert("b"); !errors.Is(err, version.ErrConflict) {
		t.Errorf("Expected ErrConflict, got %v", err)
	}
}

func TestApplyRollsBackOnFailure(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	w := version.NewWriter(s, clock.Fixed(jan15), version.WithIDGenerator(func() string { return "same-id" }))

	if _, err := w.Create(ctx, version.CreateRequest{NodeID: "home", Publish: true}); err != nil {
		t.Fatalf("Failed to create: %v", err)
	}

	// the window edit succeeds, then the draft insert collides on the unique id
	_, err := w.Unpublish(ctx, "home", "carol")
	if err == nil {
		t.Fatal("Expected unpublish to fail")
	}

	versions, _ := s.Versions(ctx, "home")
	if len(versions) != 1 {
		t.Fatalf("Expected 1 version after rollback, got %d", len(versions))
	}
	if version.StatusAt(versions[0], jan15) != version.StatusPublished {
		t.Errorf("Expected v1 still published after rollback, got %s", version.StatusAt(versions[0], jan15))
	}
}

func TestConcurrentWritersGetUniqueNumbers(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	w := version.NewWriter(s, clock.Fixed(jan15))

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := w.Create(ctx, version.CreateRequest{NodeID: "home", Author: fmt.Sprintf("writer-%d", i)}); err != nil {
				t.Errorf("Create failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	versions, err := s.Versions(ctx, "home")
	if err != nil {
		t.Fatalf("Failed to read versions: %v", err)
	}
	if len(versions) != writers {
		t.Fatalf("Expected %d versions, got %d", writers, len(versions))
	}
	for i, v := range versions {
		if v.Number != i+1 {
			t.Errorf("Expected v%d at position %d, got v%d", i+1, i, v.Number)
		}
	}
}

func TestResolveOverPersistedTree(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	clk := clock.Fixed(jan15)
	w := version.NewWriter(s, clk)

	s.AddNode(ctx, &node.Node{ID: "P", LayoutRef: "default"})
	s.AddNode(ctx, &node.Node{ID: "C", ParentID: node.Parent("P")})

	_, err := w.Create(ctx, version.CreateRequest{
		NodeID:  "P",
		Widgets: map[string][]widget.Entry{"sidebar": {widget.New("W1", "banner")}},
		Publish: true,
	})
	if err != nil {
		t.Fatalf("Failed to publish P: %v", err)
	}
	override := widget.New("W2", "text")
	override.Behavior = widget.OverrideParent
	_, err = w.Create(ctx, version.CreateRequest{
		NodeID:  "C",
		Widgets: map[string][]widget.Entry{"sidebar": {override}},
		Publish: true,
	})
	if err != nil {
		t.Fatalf("Failed to publish C: %v", err)
	}

	reg := layout.NewRegistry()
	reg.Register(layout.Layout{Ref: "default", Slots: map[string]layout.SlotPolicy{
		"sidebar": {AllowsInheritance: true, AllowMerge: true},
	}})

	r := resolve.New(s, s, reg, resolve.WithClock(clk))
	res, err := r.Resolve(ctx, resolve.Request{NodeID: "C", Slot: "sidebar"})
	if err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}
	if len(res.Widgets) != 1 || res.Widgets[0].Widget.ID != "W2" {
		t.Errorf("Expected [W2], got %+v", res.Widgets)
	}
	if len(res.InheritedRaw) != 1 || res.InheritedRaw[0].Widget.ID != "W1" {
		t.Errorf("Expected raw [W1], got %d entries", len(res.InheritedRaw))
	}
}

func TestObserverSeesOperations(t *testing.T) {
	var mu sync.Mutex
	ops := map[string]int{}
	s, err := Open(Config{
		Path:   filepath.Join(t.TempDir(), "cms.db"),
		Logger: zerolog.Nop(),
		Observe: func(op string, _ time.Duration, _ error) {
			mu.Lock()
			ops[op]++
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	s.AddNode(ctx, &node.Node{ID: "home"})
	s.Node(ctx, "home")
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Failed to ping: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, op := range []string{"add_node", "get_node", "ping"} {
		if ops[op] != 1 {
			t.Errorf("Expected one %s observation, got %d", op, ops[op])
		}
	}
}
