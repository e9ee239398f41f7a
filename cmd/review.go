package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/wildsight/spot-pipeline/internal/model"
	"github.com/wildsight/spot-pipeline/internal/verify"
)

var reviewReason string

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Apply reviewer decisions to spots",
	Long:  "Promotion to verified only ever happens here; the pipeline never promotes automatically.",
}

var promoteCmd = &cobra.Command{
	Use:   "promote <spot-id>",
	Short: "Mark a spot verified",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return applyReview(cmd, args[0], func(m *verify.Machine, s *model.MergedSpot) error {
			return m.Promote(s)
		}, "promoted to verified by reviewer")
	},
}

var quarantineCmd = &cobra.Command{
	Use:   "quarantine <spot-id>",
	Short: "Quarantine a spot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason := reviewReason
		if reason == "" {
			reason = "quarantined by reviewer"
		}
		return applyReview(cmd, args[0], func(m *verify.Machine, s *model.MergedSpot) error {
			return m.Quarantine(s, reason)
		}, reason)
	},
}

func applyReview(cmd *cobra.Command, spotID string, transition func(*verify.Machine, *model.MergedSpot) error, detail string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	spot, err := store.GetSpot(cmd.Context(), spotID)
	if err != nil {
		return err
	}
	if spot == nil {
		return eris.Errorf("spot not found: %s", spotID)
	}

	machine := verify.New(cfg.Verify)
	if err := transition(machine, spot); err != nil {
		return err
	}
	spot.UpdatedAt = time.Now().UTC()

	audit := model.AuditEntry{
		Kind:       model.AuditStatusChange,
		SpotID:     spot.ID,
		Detail:     detail,
		RecordedAt: time.Now().UTC(),
	}
	if err := store.CommitBatch(cmd.Context(), []model.MergedSpot{*spot}, []model.AuditEntry{audit}); err != nil {
		return err
	}

	fmt.Printf("%s is now %s\n", spot.ID, spot.Status)
	return nil
}

func init() {
	quarantineCmd.Flags().StringVar(&reviewReason, "reason", "", "reason recorded in the audit log")
	reviewCmd.AddCommand(promoteCmd, quarantineCmd)
	rootCmd.AddCommand(reviewCmd)
}
