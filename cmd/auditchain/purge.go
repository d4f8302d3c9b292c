package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	purgeBefore    string
	purgeBatchSize int
	purgeDryRun    bool
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete records whose retention window has passed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var before time.Time
		if purgeBefore != "" {
			t, err := time.Parse(time.RFC3339, purgeBefore)
			if err != nil {
				return fmt.Errorf("--before: %w", err)
			}
			before = t
		}

		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		if purgeDryRun {
			n, err := a.retention.Count(cmd.Context(), before)
			if err != nil {
				return err
			}
			preview, err := a.retention.Preview(cmd.Context(), before, 20)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%d records would be deleted\n", n)
			for _, rec := range preview {
				fmt.Fprintf(out, "  %s #%d %s expired %s\n",
					rec.TenantID, rec.SequenceNumber, rec.RecordType, rec.ExpiresAt.Format(time.RFC3339))
			}
			return nil
		}

		batch := purgeBatchSize
		if batch <= 0 {
			batch = a.cfg.Retention.PurgeBatchSize
		}
		deleted, err := a.retention.Purge(cmd.Context(), before, batch)
		fmt.Fprintf(out, "deleted %d records\n", deleted)
		return err
	},
}

func init() {
	purgeCmd.Flags().StringVar(&purgeBefore, "before", "", "Cutoff in RFC 3339 (default now)")
	purgeCmd.Flags().IntVar(&purgeBatchSize, "batch-size", 0, "Records deleted per round (default AUDITCHAIN_PURGE_BATCH_SIZE)")
	purgeCmd.Flags().BoolVar(&purgeDryRun, "dry-run", false, "Count and preview without deleting")
}
