package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wildsight/spot-pipeline/internal/enrich"
	"github.com/wildsight/spot-pipeline/internal/ingest"
	"github.com/wildsight/spot-pipeline/internal/observability"
	"github.com/wildsight/spot-pipeline/internal/pipeline"
	"github.com/wildsight/spot-pipeline/internal/region"
)

var (
	runSources []string
	runDryRun  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one pipeline batch run",
	Long:  "Reads every configured source feed, validates and scores the candidates, merges them into the catalog, and commits atomically.",
	RunE:  runPipeline,
}

func init() {
	runCmd.Flags().StringSliceVar(&runSources, "source", nil, "restrict the run to named sources (default: all)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "ingest, validate, and score, but skip merge and commit")
	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}

	bounds, err := region.FromConfig(cfg.Region)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()

	var enricher enrich.Fetcher
	if cfg.Enrich.BaseURL != "" {
		enricher = enrich.NewClient(cfg.Enrich, enrich.WithMetrics(metrics))
	} else {
		zap.L().Warn("no enrichment base url configured, spots will not be enriched")
	}

	adapters, cleanup, err := buildAdapters(cmd, runSources)
	if err != nil {
		return err
	}
	defer cleanup()

	p := pipeline.New(cfg, store, bounds, enricher, pipeline.WithMetrics(metrics))

	batch, err := p.Ingest(ctx, adapters)
	if err != nil {
		return err
	}

	if runDryRun {
		fmt.Printf("dry run: %d candidates ingested from %d sources\n", len(batch), len(adapters))
		return nil
	}

	result, err := p.Run(ctx, batch)
	if err != nil {
		return err
	}

	fmt.Printf("run complete: %d ingested, %d rejected, %d new spots, %d updated, %d quarantined, %d degraded enrichments (%s)\n",
		result.Ingested, result.Rejected, result.NewSpots, result.UpdatedSpots,
		result.Quarantined, result.Degraded, result.Duration)
	return nil
}

// buildAdapters resolves the source registry into adapters, downloading
// FTP-hosted feeds into the temp dir first. The returned cleanup removes
// downloaded files.
func buildAdapters(cmd *cobra.Command, only []string) ([]ingest.Adapter, func(), error) {
	reg, err := ingest.LoadRegistry(cfg.Ingest.SourcesFile)
	if err != nil {
		return nil, nil, err
	}

	wanted := make(map[string]bool, len(only))
	for _, name := range only {
		wanted[name] = true
	}

	tempDir := cfg.Ingest.TempDir
	removeTemp := false
	if tempDir == "" {
		tempDir, err = os.MkdirTemp("", "spotpipe-feeds-")
		if err != nil {
			return nil, nil, eris.Wrap(err, "create feed temp dir")
		}
		removeTemp = true
	} else if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, nil, eris.Wrapf(err, "create feed temp dir %s", tempDir)
	}
	cleanup := func() {
		if removeTemp {
			_ = os.RemoveAll(tempDir)
		}
	}

	fetcher := ingest.NewFTPFetcher(ingest.FTPOptions{})

	var adapters []ingest.Adapter
	for _, spec := range reg.Sources {
		if len(wanted) > 0 && !wanted[spec.Name] {
			continue
		}
		spec, err := ingest.Materialize(cmd.Context(), fetcher, spec, tempDir)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		adapter, err := ingest.NewAdapter(spec)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		adapters = append(adapters, adapter)
	}
	if len(adapters) == 0 {
		cleanup()
		return nil, nil, eris.New("no sources selected")
	}
	return adapters, cleanup, nil
}
