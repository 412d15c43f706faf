package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nainya/cmsengine/pkg/node"
	"github.com/nainya/cmsengine/pkg/version"
	"github.com/nainya/cmsengine/pkg/widget"
)

var seedFlags struct {
	file         string
	skipExisting bool
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load nodes and versions from a YAML fixture",
	Long: `Loads a YAML fixture into the database. Nodes are inserted in file
order, so a parent must appear before its children. Each version is
created through the same writer the service uses.`,
	RunE: runSeed,
}

func init() {
	f := seedCmd.Flags()
	f.StringVarP(&seedFlags.file, "file", "f", "", "Fixture file, - for stdin (required)")
	f.BoolVar(&seedFlags.skipExisting, "skip-existing", false, "Skip nodes that already exist instead of failing")

	_ = seedCmd.MarkFlagRequired("file")
}

type fixture struct {
	Nodes []fixtureNode `yaml:"nodes"`
}

type fixtureNode struct {
	ID       string           `yaml:"id"`
	Parent   string           `yaml:"parent"`
	Layout   string           `yaml:"layout"`
	Position int              `yaml:"position"`
	Deleted  bool             `yaml:"deleted"`
	Versions []fixtureVersion `yaml:"versions"`
}

type fixtureVersion struct {
	Widgets       map[string]any `yaml:"widgets"`
	LayoutRef     string         `yaml:"layout_ref"`
	ThemeRef      string         `yaml:"theme_ref"`
	Author        string         `yaml:"author"`
	Description   string         `yaml:"description"`
	Publish       bool           `yaml:"publish"`
	EffectiveDate string         `yaml:"effective_date"`
	ExpiryDate    string         `yaml:"expiry_date"`
}

// nodeAdder is the part of the store seeding writes nodes through
type nodeAdder interface {
	AddNode(ctx context.Context, n *node.Node) error
}

type seedSummary struct {
	Nodes    int
	Skipped  int
	Versions int
}

func loadFixture(r io.Reader) (*fixture, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f fixture
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	seen := make(map[string]bool, len(f.Nodes))
	for i, n := range f.Nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("parse fixture: node #%d has no id", i)
		}
		if seen[n.ID] {
			return nil, fmt.Errorf("parse fixture: duplicate node %q", n.ID)
		}
		seen[n.ID] = true
	}
	return &f, nil
}

func applyFixture(ctx context.Context, nodes nodeAdder, w *version.Writer, f *fixture, skipExisting bool, log zerolog.Logger) (seedSummary, error) {
	var sum seedSummary
	for _, fn := range f.Nodes {
		n := &node.Node{
			ID:        fn.ID,
			Position:  fn.Position,
			LayoutRef: fn.Layout,
			Deleted:   fn.Deleted,
		}
		if fn.Parent != "" {
			parent := fn.Parent
			n.ParentID = &parent
		}

		if err := nodes.AddNode(ctx, n); err != nil {
			if skipExisting && errors.Is(err, node.ErrAlreadyExists) {
				log.Debug().Str("node_id", fn.ID).Msg("node exists, skipping")
				sum.Skipped++
				continue
			}
			return sum, fmt.Errorf("seed node %s: %w", fn.ID, err)
		}
		sum.Nodes++

		for i, fv := range fn.Versions {
			req, err := fv.request(fn.ID, log)
			if err != nil {
				return sum, fmt.Errorf("seed node %s version #%d: %w", fn.ID, i, err)
			}
			if _, err := w.Create(ctx, req); err != nil {
				return sum, fmt.Errorf("seed node %s version #%d: %w", fn.ID, i, err)
			}
			sum.Versions++
		}
	}
	return sum, nil
}

func (fv fixtureVersion) request(nodeID string, log zerolog.Logger) (version.CreateRequest, error) {
	req := version.CreateRequest{
		NodeID:      nodeID,
		LayoutRef:   fv.LayoutRef,
		ThemeRef:    fv.ThemeRef,
		Author:      fv.Author,
		Description: fv.Description,
		Publish:     fv.Publish,
	}
	if fv.Widgets != nil {
		req.Widgets = widget.DecodeSlots(fv.Widgets, log)
	}

	var err error
	if req.EffectiveDate, err = widget.ParseTime(fv.EffectiveDate); err != nil {
		return req, fmt.Errorf("effective_date: %w", err)
	}
	if req.ExpiryDate, err = widget.ParseTime(fv.ExpiryDate); err != nil {
		return req, fmt.Errorf("expiry_date: %w", err)
	}
	return req, nil
}

func runSeed(cmd *cobra.Command, _ []string) error {
	var r io.Reader = cmd.InOrStdin()
	if seedFlags.file != "-" {
		file, err := os.Open(seedFlags.file)
		if err != nil {
			return err
		}
		defer file.Close()
		r = file
	}
	f, err := loadFixture(r)
	if err != nil {
		return err
	}

	e, err := openEngine(cmd, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	sum, err := applyFixture(cmd.Context(), e.store, e.writer, f, seedFlags.skipExisting, e.log.Component("seed"))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d nodes (%d skipped) and %d versions\n", sum.Nodes, sum.Skipped, sum.Versions)
	return nil
}
