// Package cli wires the synapse commands.
package cli

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "synapse",
	Short: "Semantic memory graph engine",
	Long:  "Synapse keeps a salience-weighted memory graph for conversational agents: extraction, dedup, causal links, and budgeted retrieval behind one binary.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config YAML")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(queryCmd)
}
