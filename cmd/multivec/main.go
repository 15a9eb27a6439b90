package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/multivec/internal/fault"
	"github.com/abdul-hamid-achik/multivec/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if kind := fault.KindOf(err); kind != fault.Unknown {
			fmt.Fprintf(os.Stderr, "Error (%s): %v\n", kind, err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "multivec",
	Short:   "Multi-modal ingestion and retrieval over vector spaces",
	Version: version.Full(),
	Long: `multivec embeds text and images into named vector spaces of a
vector store and searches across them with a single query.

Images can be described by a vision LLM; the description is embedded as
text so image content is reachable from plain text queries.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("multivec %s\n", version.Version)
		fmt.Printf("  commit:  %s\n", version.Commit)
		fmt.Printf("  built:   %s\n", version.Date)
	},
}

func init() {
	rootCmd.SetVersionTemplate("multivec version {{.Version}}\n")

	// Global flags
	rootCmd.PersistentFlags().StringP("dir", "C", "", "project directory (default: nearest directory with multivec.yaml or .multivec)")
	rootCmd.PersistentFlags().String("collection", "", "collection name (default: collection.name from config)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(collectionCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
}
