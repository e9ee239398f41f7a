package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/wildsight/spot-pipeline/internal/catalog"
	"github.com/wildsight/spot-pipeline/internal/model"
)

var (
	spotsStatus        string
	spotsCategory      string
	spotsMinConfidence float64
	spotsLimit         int
	spotsOffset        int
	spotsJSON          bool
)

var spotsCmd = &cobra.Command{
	Use:   "spots",
	Short: "Inspect the spot catalog",
}

var spotsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog spots",
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		spots, err := store.ListSpots(cmd.Context(), catalog.SpotFilter{
			Status:        model.VerificationStatus(spotsStatus),
			Category:      model.Category(spotsCategory),
			MinConfidence: spotsMinConfidence,
			Limit:         spotsLimit,
			Offset:        spotsOffset,
		})
		if err != nil {
			return err
		}

		if spotsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(spots)
		}

		for _, s := range spots {
			fmt.Printf("%s  %-11s  %.3f  %-9s  (%.5f, %.5f)  %s\n",
				s.ID, s.Status, s.Confidence, s.Category, s.Latitude, s.Longitude, s.CanonicalName)
		}
		fmt.Printf("%d spots\n", len(spots))
		return nil
	},
}

var spotsGetCmd = &cobra.Command{
	Use:   "get <spot-id>",
	Short: "Show one spot with its members and enrichment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		spot, err := store.GetSpot(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if spot == nil {
			return eris.Errorf("spot not found: %s", args[0])
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(spot)
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "List audit log entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		kind, _ := cmd.Flags().GetString("kind")
		spotID, _ := cmd.Flags().GetString("spot")
		sourceID, _ := cmd.Flags().GetString("source")
		limit, _ := cmd.Flags().GetInt("limit")

		entries, err := store.ListAudit(cmd.Context(), catalog.AuditFilter{
			Kind:     model.AuditKind(kind),
			SpotID:   spotID,
			SourceID: sourceID,
			Limit:    limit,
		})
		if err != nil {
			return err
		}

		for _, e := range entries {
			ref := e.SpotID
			if ref == "" {
				ref = e.SourceID
			}
			fmt.Printf("%s  %-20s  %s  %s\n", e.RecordedAt.Format("2006-01-02 15:04:05"), e.Kind, ref, e.Detail)
		}
		fmt.Printf("%d entries\n", len(entries))
		return nil
	},
}

func init() {
	spotsListCmd.Flags().StringVar(&spotsStatus, "status", "", "filter by verification status")
	spotsListCmd.Flags().StringVar(&spotsCategory, "category", "", "filter by category")
	spotsListCmd.Flags().Float64Var(&spotsMinConfidence, "min-confidence", 0, "minimum confidence")
	spotsListCmd.Flags().IntVar(&spotsLimit, "limit", 100, "maximum rows")
	spotsListCmd.Flags().IntVar(&spotsOffset, "offset", 0, "rows to skip")
	spotsListCmd.Flags().BoolVar(&spotsJSON, "json", false, "emit JSON")

	auditCmd.Flags().String("kind", "", "filter by entry kind")
	auditCmd.Flags().String("spot", "", "filter by spot id")
	auditCmd.Flags().String("source", "", "filter by candidate source id")
	auditCmd.Flags().Int("limit", 100, "maximum rows")

	spotsCmd.AddCommand(spotsListCmd, spotsGetCmd)
	rootCmd.AddCommand(spotsCmd, auditCmd)
}
