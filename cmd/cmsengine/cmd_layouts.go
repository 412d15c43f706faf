package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nainya/cmsengine/pkg/layout"
)

var layoutsCmd = &cobra.Command{
	Use:   "layouts",
	Short: "List configured layouts and their slot policies",
	RunE:  runLayouts,
}

func runLayouts(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	reg, err := cfg.Registry()
	if err != nil {
		return err
	}

	refs := reg.Refs()
	if len(refs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No layouts configured")
		return nil
	}
	out := make([]layout.Layout, 0, len(refs))
	for _, ref := range refs {
		l, err := reg.Layout(ref)
		if err != nil {
			return err
		}
		out = append(out, l)
	}
	return printYAML(cmd.OutOrStdout(), out)
}
