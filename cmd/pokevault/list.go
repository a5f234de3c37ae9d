package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the local catalog",
	Long: `List every record in the local vault, ordered by id.

Records not yet confirmed by the remote catalog are marked pending.

Example usage:
  pokevault list
  pokevault list --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		eng, cleanup, err := openEngine(nil)
		if err != nil {
			return err
		}
		defer cleanup()

		entities, err := eng.ListEntities(cmd.Context())
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(entities)
		}

		if len(entities) == 0 {
			fmt.Println("Vault is empty. Run 'pokevault sync' to pull the catalog.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tUPDATED\tSTATE")
		for _, e := range entities {
			state := "synced"
			if !e.IsSynced {
				state = "pending"
			}
			updated := time.UnixMilli(e.UpdatedAt).Format("2006-01-02 15:04:05")
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ID, e.Name, updated, state)
		}
		return w.Flush()
	},
}

func init() {
	listCmd.Flags().Bool("json", false, "output as JSON")
	rootCmd.AddCommand(listCmd)
}
