package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/nainya/cmsengine/internal/server"
	"github.com/nainya/cmsengine/pkg/resolve"
)

var resolveFlags struct {
	node    string
	slots   []string
	at      string
	layout  string
	preview bool
	addr    string
	raw     bool
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Show the widgets each slot of a node renders",
	Long: `Resolves slots of a node against the local database, or against a
running server when --addr is given. Without --slot every slot of the
node's layout is resolved.`,
	RunE: runResolve,
}

func init() {
	f := resolveCmd.Flags()
	f.StringVar(&resolveFlags.node, "node", "", "Node ID (required)")
	f.StringSliceVar(&resolveFlags.slots, "slot", nil, "Slot name, repeatable")
	f.StringVar(&resolveFlags.at, "at", "", "Point in time (RFC 3339), default now")
	f.StringVar(&resolveFlags.layout, "layout", "", "Layout ref, default the node's effective layout")
	f.BoolVar(&resolveFlags.preview, "preview", false, "Fall back to the latest version when nothing is published")
	f.StringVar(&resolveFlags.addr, "addr", "", "Resolve via a running server at host:port")
	f.BoolVar(&resolveFlags.raw, "raw", false, "Also show inherited entries hidden by overrides")

	_ = resolveCmd.MarkFlagRequired("node")
}

type placementView struct {
	ID       string `yaml:"id"`
	Type     string `yaml:"type"`
	Source   string `yaml:"source"`
	Depth    int    `yaml:"depth"`
	Version  int    `yaml:"version"`
	Behavior string `yaml:"behavior"`
}

type slotView struct {
	Mode       string          `yaml:"mode"`
	Overridden bool            `yaml:"overridden,omitempty"`
	Widgets    []placementView `yaml:"widgets"`
	Hidden     []placementView `yaml:"hidden_inherited,omitempty"`
	Error      string          `yaml:"error,omitempty"`
}

func viewOf(r *resolve.ResolvedSlot, withRaw bool) slotView {
	v := slotView{Mode: "local", Overridden: r.Overridden, Widgets: views(r.Widgets)}
	switch {
	case r.MergeMode:
		v.Mode = "merge"
	case r.Policy.AllowsInheritance:
		v.Mode = "replace"
	}
	if withRaw {
		rendered := map[string]bool{}
		for _, p := range r.Widgets {
			rendered[p.SourceNodeID+"/"+p.Widget.ID] = true
		}
		for _, p := range r.InheritedRaw {
			if !rendered[p.SourceNodeID+"/"+p.Widget.ID] {
				v.Hidden = append(v.Hidden, views([]resolve.Placement{p})...)
			}
		}
	}
	return v
}

func views(ps []resolve.Placement) []placementView {
	out := make([]placementView, len(ps))
	for i, p := range ps {
		out[i] = placementView{
			ID:       p.Widget.ID,
			Type:     p.Widget.Type,
			Source:   p.SourceNodeID,
			Depth:    p.Depth,
			Version:  p.Version,
			Behavior: p.Widget.Behavior.String(),
		}
	}
	return out
}

func runResolve(cmd *cobra.Command, _ []string) error {
	at, err := parseAt(resolveFlags.at)
	if err != nil {
		return err
	}
	if resolveFlags.addr != "" {
		return resolveRemote(cmd, at)
	}

	e, err := openEngine(cmd, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	sel := resolve.PublishedOnly
	if resolveFlags.preview {
		sel = resolve.PublishedOrLatest
	}

	page, err := e.resolver.ResolvePage(cmd.Context(), resolve.PageRequest{
		NodeID:    resolveFlags.node,
		Slots:     resolveFlags.slots,
		At:        at,
		Layout:    resolveFlags.layout,
		Selection: sel,
	})
	if err != nil {
		return fmt.Errorf("resolve %s: %w", resolveFlags.node, err)
	}

	names := make([]string, 0, len(page.Slots))
	for name := range page.Slots {
		names = append(names, name)
	}
	sort.Strings(names)

	out := map[string]slotView{}
	for _, name := range names {
		v := viewOf(page.Slots[name], resolveFlags.raw)
		if err, failed := page.Errors[name]; failed {
			v.Error = err.Error()
		}
		out[name] = v
	}

	fmt.Fprintf(cmd.OutOrStdout(), "# node %s, layout %s, at %s\n", page.NodeID, page.Layout, page.At.UTC().Format(time.RFC3339))
	return printYAML(cmd.OutOrStdout(), out)
}

func resolveRemote(cmd *cobra.Command, at time.Time) error {
	conn, err := grpc.NewClient(resolveFlags.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connect %s: %w", resolveFlags.addr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	page, err := server.NewClient(conn).ResolvePageAt(ctx, resolveFlags.node, resolveFlags.slots, at)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", resolveFlags.node, err)
	}
	return printYAML(cmd.OutOrStdout(), page)
}
