// Corpusd is a retrieval daemon keeping a SQLite metadata store and a
// vector store consistent for a document corpus.
//
// The serve command starts the HTTP API with full service initialization:
// metadata store, vector store, embeddings, ingestion, alignment scanning,
// and the query pipeline. The audit and repair commands run one-off
// alignment passes against the same stores.
//
// Configuration is loaded from ~/.config/corpusd/config.yaml with
// environment variable overrides. See internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults
//	corpusd serve
//
//	# Configure via environment
//	SERVER_PORT=9090 VECTORSTORE_PROVIDER=qdrant corpusd serve
//
//	# One-off alignment check
//	corpusd audit
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// configPath is the YAML config file, empty for the default path.
var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "corpusd",
	Short: "Dual-store retrieval daemon",
	Long: `corpusd ingests documents into a SQLite metadata store and a vector
store, keeps the two aligned, and answers queries over the corpus.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/corpusd/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("corpusd by Fyrsmith Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}
