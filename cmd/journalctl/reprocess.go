package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirillkom/evidence-journal/internal/bootstrap"
)

var reprocessCmd = &cobra.Command{
	Use:   "reprocess <entry-id>",
	Short: "Send a failed, completed or reviewed entry back through assessment",
	Long: `Reset an entry to pending and announce it for assessment again.

Only failed, completed and manual-review entries can be reprocessed. Duplicates
never can, because the canonical entry owns their content hash.

Examples:
  journalctl reprocess 0192f3c4-... --reason "rules updated"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		return withApp(cmd.Context(), func(app *bootstrap.App) error {
			entry, err := app.Queue.Reprocess(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", entry.ID, entry.QueueStatus)
			return nil
		})
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <entry-id>",
	Short: "Release an entry held for manual review into the queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reviewer, _ := cmd.Flags().GetString("reviewer")
		return withApp(cmd.Context(), func(app *bootstrap.App) error {
			entry, err := app.Queue.ApproveReview(cmd.Context(), args[0], reviewer)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (priority %d)\n", entry.ID, entry.QueueStatus, entry.Priority)
			return nil
		})
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Re-announce entries stuck in pending or assessing",
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(cmd.Context(), func(app *bootstrap.App) error {
			n, err := app.Recovery.ResubmitStale(cmd.Context(), olderThan, limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "re-announced %d entries\n", n)
			return nil
		})
	},
}

func init() {
	reprocessCmd.Flags().String("reason", "", "Why the entry is reprocessed (required)")
	_ = reprocessCmd.MarkFlagRequired("reason")
	approveCmd.Flags().String("reviewer", "", "Reviewer recorded in the audit trail")
	recoverCmd.Flags().Duration("older-than", 5*time.Minute, "Only entries untouched for this long")
	recoverCmd.Flags().Int("limit", 100, "Maximum entries to re-announce")

	rootCmd.AddCommand(reprocessCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(recoverCmd)
}
