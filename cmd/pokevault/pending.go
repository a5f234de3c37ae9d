package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Show queued mutations and sync status",
	Long: `Show the mutations waiting for the next sync cycle, in dispatch order,
along with vault counts and remote reachability.

Example usage:
  pokevault pending`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine(nil)
		if err != nil {
			return err
		}
		defer cleanup()

		stats, err := eng.Stats(cmd.Context())
		if err != nil {
			return err
		}

		online := "offline"
		if eng.Online(cmd.Context()) {
			online = "online"
		}
		fmt.Printf("Vault: %d records, %d pending mutations (%s)\n\n",
			stats.Entities, stats.Pending, online)

		pending, err := eng.PendingMutations(cmd.Context())
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Println("Queue is empty.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE\tTARGET\tQUEUED\tATTEMPTS")
		for _, m := range pending {
			target, err := m.PayloadID()
			if err != nil {
				target = "?"
			}
			queued := time.UnixMilli(m.Timestamp).Format("2006-01-02 15:04:05")
			fmt.Fprintf(w, "%s\t%s/%s\t%s\t%d\n", m.Type, m.Entity, target, queued, m.Attempts)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(pendingCmd)
}
