package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wildsight/spot-pipeline/internal/catalog"
	"github.com/wildsight/spot-pipeline/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "spotpipe",
	Short: "Wild spot catalog pipeline",
	Long:  "Ingests candidate spots from heterogeneous feeds, validates and scores them, deduplicates against the catalog, enriches with upstream geospatial context, and serves the result.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openStore opens the configured catalog backend with the merge cell
// resolution, which the spatial index must agree on.
func openStore(cmd *cobra.Command) (catalog.Store, error) {
	return catalog.Open(cmd.Context(), cfg.Store, cfg.Merge.CellResolution)
}
