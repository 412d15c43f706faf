package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var publishFlags struct {
	node   string
	number int
	at     string
	author string
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Make a version live, now or at --at",
	RunE:  runPublish,
}

var unpublishCmd = &cobra.Command{
	Use:   "unpublish",
	Short: "Take a node offline, keeping its content as a new draft",
	RunE:  runUnpublish,
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Create a new draft from an earlier version",
	RunE:  runRestore,
}

func init() {
	for _, c := range []*cobra.Command{publishCmd, unpublishCmd, restoreCmd} {
		c.Flags().StringVar(&publishFlags.node, "node", "", "Node ID (required)")
		_ = c.MarkFlagRequired("node")
	}
	for _, c := range []*cobra.Command{publishCmd, restoreCmd} {
		c.Flags().IntVar(&publishFlags.number, "version", 0, "Version number (required)")
		_ = c.MarkFlagRequired("version")
	}
	for _, c := range []*cobra.Command{unpublishCmd, restoreCmd} {
		c.Flags().StringVar(&publishFlags.author, "author", "", "Recorded as the new draft's author")
	}
	publishCmd.Flags().StringVar(&publishFlags.at, "at", "", "Effective date (RFC 3339), default now")
}

func runPublish(cmd *cobra.Command, _ []string) error {
	at, err := parseAt(publishFlags.at)
	if err != nil {
		return err
	}
	var effective *time.Time
	if !at.IsZero() {
		effective = &at
	}

	e, err := openEngine(cmd, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	v, err := e.writer.Publish(cmd.Context(), publishFlags.node, publishFlags.number, effective)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Published %s v%d effective %s\n", v.NodeID, v.Number, optionalTime(v.EffectiveDate))
	return nil
}

func runUnpublish(cmd *cobra.Command, _ []string) error {
	e, err := openEngine(cmd, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	v, err := e.writer.Unpublish(cmd.Context(), publishFlags.node, publishFlags.author)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Unpublished %s; content kept as draft v%d\n", v.NodeID, v.Number)
	return nil
}

func runRestore(cmd *cobra.Command, _ []string) error {
	e, err := openEngine(cmd, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	v, err := e.writer.Restore(cmd.Context(), publishFlags.node, publishFlags.number, publishFlags.author)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Restored %s v%d as draft v%d\n", v.NodeID, publishFlags.number, v.Number)
	return nil
}
