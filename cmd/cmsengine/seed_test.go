package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nainya/cmsengine/pkg/clock"
	"github.com/nainya/cmsengine/pkg/layout"
	"github.com/nainya/cmsengine/pkg/node"
	"github.com/nainya/cmsengine/pkg/resolve"
	"github.com/nainya/cmsengine/pkg/sqlstore"
	"github.com/nainya/cmsengine/pkg/version"
)

const siteFixture = `
nodes:
  - id: home
    layout: default
    versions:
      - author: alice
        publish: true
        widgets:
          sidebar:
            - {id: promo, type: banner, inheritance_level: -1}
            - {id: local-only, type: text, inherit_from_parent: false}
  - id: about
    parent: home
    position: 1
    versions:
      - author: bob
        description: first draft
        widgets:
          main:
            - {id: intro, type: text}
      - author: bob
        effective_date: "2024-01-01"
        expiry_date: "2030-01-01T00:00:00Z"
`

var seedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	s, err := sqlstore.Open(sqlstore.Config{
		Path:     filepath.Join(t.TempDir(), "seed.db"),
		PoolSize: 2,
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestApplyFixture(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	clk := clock.Fixed(seedNow)
	w := version.NewWriter(store, clk)

	f, err := loadFixture(strings.NewReader(siteFixture))
	if err != nil {
		t.Fatalf("Failed to load fixture: %v", err)
	}
	sum, err := applyFixture(ctx, store, w, f, false, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to apply fixture: %v", err)
	}
	if sum.Nodes != 2 || sum.Versions != 3 || sum.Skipped != 0 {
		t.Errorf("Expected 2 nodes and 3 versions, got %+v", sum)
	}

	about, err := store.Node(ctx, "about")
	if err != nil {
		t.Fatalf("Failed to get node: %v", err)
	}
	if about.ParentID == nil || *about.ParentID != "home" || about.Position != 1 {
		t.Errorf("Expected about under home at position 1, got %+v", about)
	}

	history, err := w.History(ctx, "about")
	if err != nil {
		t.Fatalf("Failed to list history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("Expected 2 versions, got %d", len(history))
	}
	if history[0].Status != version.StatusDraft || history[1].Status != version.StatusPublished {
		t.Errorf("Expected draft then published, got %s, %s", history[0].Status, history[1].Status)
	}
	// v2 had no widgets of its own and copies v1's
	if got := len(history[1].Version.Slot("main")); got != 1 {
		t.Errorf("Expected copied main slot with 1 widget, got %d", got)
	}

	reg := layout.NewRegistry()
	if err := reg.Register(layout.Layout{Ref: "default", Slots: map[string]layout.SlotPolicy{
		"sidebar": {AllowsInheritance: true, AllowMerge: true},
		"main":    {},
	}}); err != nil {
		t.Fatalf("Failed to register layout: %v", err)
	}
	r := resolve.New(store, store, reg, resolve.WithClock(clk))
	slot, err := r.Resolve(ctx, resolve.Request{NodeID: "about", Slot: "sidebar"})
	if err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}
	if len(slot.Widgets) != 1 || slot.Widgets[0].Widget.ID != "promo" || slot.Widgets[0].SourceNodeID != "home" {
		t.Errorf("Expected promo inherited from home, got %+v", slot.Widgets)
	}
}

func TestApplyFixtureSkipExisting(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	w := version.NewWriter(store, clock.Fixed(seedNow))

	f, err := loadFixture(strings.NewReader(siteFixture))
	if err != nil {
		t.Fatalf("Failed to load fixture: %v", err)
	}
	if _, err := applyFixture(ctx, store, w, f, false, zerolog.Nop()); err != nil {
		t.Fatalf("Failed to apply fixture: %v", err)
	}

	if _, err := applyFixture(ctx, store, w, f, false, zerolog.Nop()); !errors.Is(err, node.ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists on second apply, got %v", err)
	}

	sum, err := applyFixture(ctx, store, w, f, true, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to re-apply with skip: %v", err)
	}
	if sum.Skipped != 2 || sum.Versions != 0 {
		t.Errorf("Expected 2 skipped and no versions, got %+v", sum)
	}
}

func TestApplyFixtureParentMustComeFirst(t *testing.T) {
	store := openTestStore(t)
	w := version.NewWriter(store, clock.Fixed(seedNow))

	f, err := loadFixture(strings.NewReader("nodes:\n  - {id: child, parent: root}\n  - {id: root}\n"))
	if err != nil {
		t.Fatalf("Failed to load fixture: %v", err)
	}
	if _, err := applyFixture(context.Background(), store, w, f, false, zerolog.Nop()); !errors.Is(err, node.ErrParentNotFound) {
		t.Errorf("Expected ErrParentNotFound, got %v", err)
	}
}

func TestLoadFixtureRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown field", "nodes:\n  - {id: a, colour: red}\n"},
		{"missing id", "nodes:\n  - {layout: default}\n"},
		{"duplicate id", "nodes:\n  - {id: a}\n  - {id: a}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := loadFixture(strings.NewReader(tt.doc)); err == nil {
				t.Error("Expected an error, got nil")
			}
		})
	}

	f, err := loadFixture(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Failed to load empty fixture: %v", err)
	}
	if len(f.Nodes) != 0 {
		t.Errorf("Expected no nodes, got %d", len(f.Nodes))
	}
}

func TestFixtureVersionBadDate(t *testing.T) {
	fv := fixtureVersion{EffectiveDate: "next tuesday"}
	if _, err := fv.request("home", zerolog.Nop()); err == nil {
		t.Error("Expected an error for an unparseable date")
	}
}

func TestCommandsEndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "cms.yaml")
	fixturePath := filepath.Join(dir, "site.yaml")
	cfg := "database:\n  path: " + filepath.Join(dir, "cms.db") + "\n" +
		"layouts:\n  - ref: default\n    slots:\n      sidebar: {inherit: true, merge: true}\n      main: {}\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if err := os.WriteFile(fixturePath, []byte(siteFixture), 0o644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	run := func(args ...string) string {
		t.Helper()
		var out, errOut bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetErr(&errOut)
		rootCmd.SetArgs(append([]string{"--config", cfgPath}, args...))
		if err := rootCmd.ExecuteContext(context.Background()); err != nil {
			t.Fatalf("Failed to run %v: %v\n%s", args, err, errOut.String())
		}
		return out.String()
	}

	if out := run("layouts"); !strings.Contains(out, "ref: default") || !strings.Contains(out, "sidebar:") {
		t.Errorf("Unexpected layouts output:\n%s", out)
	}

	if out := run("seed", "-f", fixturePath); !strings.Contains(out, "Seeded 2 nodes (0 skipped) and 3 versions") {
		t.Errorf("Unexpected seed output: %q", out)
	}

	out := run("resolve", "--node", "about", "--slot", "sidebar")
	if !strings.Contains(out, "id: promo") || !strings.Contains(out, "source: home") {
		t.Errorf("Expected promo inherited from home, got:\n%s", out)
	}
	if strings.Contains(out, "local-only") {
		t.Errorf("Level-zero widget leaked into child:\n%s", out)
	}

	out = run("versions", "--node", "about")
	if !strings.Contains(out, "v1") || !strings.Contains(out, "draft") || !strings.Contains(out, "published") {
		t.Errorf("Unexpected versions output:\n%s", out)
	}

	if out := run("restore", "--node", "about", "--version", "1", "--author", "carol"); !strings.Contains(out, "as draft v3") {
		t.Errorf("Unexpected restore output: %q", out)
	}
	if out := run("unpublish", "--node", "about", "--author", "carol"); !strings.Contains(out, "draft v4") {
		t.Errorf("Unexpected unpublish output: %q", out)
	}
}
