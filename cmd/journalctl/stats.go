package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kirillkom/evidence-journal/internal/bootstrap"
	"github.com/kirillkom/evidence-journal/internal/core/domain"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue counts, duplicate rate and per-tier hits",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return withApp(cmd.Context(), func(app *bootstrap.App) error {
			stats, err := app.QueryUC.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			return printStats(cmd.OutOrStdout(), stats)
		})
	},
}

func printStats(out io.Writer, stats domain.QueueStats) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "total\t%d\n", stats.Total)
	fmt.Fprintf(tw, "duplicates\t%d (%.1f%%)\n", stats.Duplicates, stats.DuplicateRate*100)

	statuses := make([]string, 0, len(stats.ByStatus))
	for status := range stats.ByStatus {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		fmt.Fprintf(tw, "status %s\t%d\n", status, stats.ByStatus[domain.QueueStatus(status)])
	}

	tiers := make([]string, 0, len(stats.TierHits))
	for tier := range stats.TierHits {
		tiers = append(tiers, tier)
	}
	sort.Strings(tiers)
	for _, tier := range tiers {
		fmt.Fprintf(tw, "tier %s hits\t%d\n", tier, stats.TierHits[tier])
	}
	return tw.Flush()
}

func init() {
	statsCmd.Flags().Bool("json", false, "Print raw JSON")
	rootCmd.AddCommand(statsCmd)
}
