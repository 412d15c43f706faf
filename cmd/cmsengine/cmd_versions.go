package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var versionsFlags struct {
	node string
}

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "List the versions of a node with their publication status",
	RunE:  runVersions,
}

func init() {
	versionsCmd.Flags().StringVar(&versionsFlags.node, "node", "", "Node ID (required)")
	_ = versionsCmd.MarkFlagRequired("node")
}

func runVersions(cmd *cobra.Command, _ []string) error {
	e, err := openEngine(cmd, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	history, err := e.writer.History(cmd.Context(), versionsFlags.node)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Node %s has no versions\n", versionsFlags.node)
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSTATUS\tEFFECTIVE\tEXPIRES\tLAYOUT\tSLOTS\tAUTHOR\tDESCRIPTION")
	for _, h := range history {
		v := h.Version
		slots := make([]string, 0, len(v.Widgets))
		for name, entries := range v.Widgets {
			slots = append(slots, fmt.Sprintf("%s:%d", name, len(entries)))
		}
		sort.Strings(slots)
		fmt.Fprintf(w, "v%d\t%s\t%s\t%s\t%s\t%v\t%s\t%s\n",
			v.Number, h.Status, optionalTime(v.EffectiveDate), optionalTime(v.ExpiryDate),
			v.LayoutRef, slots, v.CreatedBy, v.Description)
	}
	return w.Flush()
}
