// CMS engine: version resolution and widget inheritance over a content tree
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// buildVersion is set at build time via -ldflags
var buildVersion = "dev"

var rootFlags struct {
	config   string
	db       string
	logLevel string
	pretty   bool
}

var rootCmd = &cobra.Command{
	Use:   "cmsengine",
	Short: "Versioned content tree with widget inheritance",
	Long: `cmsengine stores versioned page content in SQLite and resolves which
widgets each slot renders, combining a node's own widgets with those
inherited from its ancestors according to the layout's slot policies.`,
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&rootFlags.config, "config", "", "YAML configuration file")
	f.StringVar(&rootFlags.db, "db", "", "SQLite database path (overrides config)")
	f.StringVar(&rootFlags.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	f.BoolVar(&rootFlags.pretty, "pretty", false, "human-readable console logs")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(unpublishCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(layoutsCmd)
	rootCmd.Version = buildVersion
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
