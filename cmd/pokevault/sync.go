package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pokevault/pokevault/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push queued mutations and pull the latest remote snapshot",
	Long: `Run one full sync cycle.

Queued mutations are dispatched to the remote catalog in the order they
were made. A mutation the remote rejects stays queued for the next cycle;
the rest of the queue still drains. Afterwards the next page of the remote
collection is pulled and merged, keeping whichever copy of each record
was updated last.

Example usage:
  pokevault sync              # one cycle against the configured catalog
  pokevault sync --progress   # print per-mutation progress`,
	RunE: func(cmd *cobra.Command, args []string) error {
		showProgress, _ := cmd.Flags().GetBool("progress")

		eng, cleanup, err := openEngine(nil)
		if err != nil {
			return err
		}
		defer cleanup()

		if showProgress {
			unsub := eng.Subscribe(func(p syncer.Progress) {
				if p.Status == syncer.StatusSyncing && p.Total > 0 {
					fmt.Printf("  %d/%d\n", p.Progress, p.Total)
				}
			})
			defer unsub()
		}

		result, err := eng.TriggerSync(cmd.Context())
		if err != nil {
			if errors.Is(err, syncer.ErrSyncInFlight) {
				return fmt.Errorf("a sync cycle is already running")
			}
			return err
		}

		fmt.Printf("Synced %d of %d mutations, merged %d remote records\n",
			len(result.Successful), result.Total, len(result.Merged))
		for _, f := range result.Failed {
			fmt.Fprintf(os.Stderr, "  failed %s: %s\n", f.ID, f.Error)
		}
		if len(result.Failed) > 0 {
			return fmt.Errorf("%d mutations still queued", len(result.Failed))
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().Bool("progress", false, "print per-mutation progress")
	rootCmd.AddCommand(syncCmd)
}
