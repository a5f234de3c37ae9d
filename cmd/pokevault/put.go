package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pokevault/pokevault/internal/schema"
)

var putCmd = &cobra.Command{
	Use:   "put <id>",
	Short: "Create or update a record in the local vault",
	Long: `Write a record locally and queue it for the remote catalog.

The write succeeds whether or not the network is reachable; the matching
create or update is queued and dispatched on the next sync.

Example usage:
  pokevault put 25 --name pikachu
  pokevault put 25 --notes "caught at route 2" --attrs '{"level":12}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		notes, _ := cmd.Flags().GetString("notes")
		attrs, _ := cmd.Flags().GetString("attrs")

		ent := &schema.Entity{ID: args[0], Name: name, Notes: notes}
		if attrs != "" {
			if !json.Valid([]byte(attrs)) {
				return fmt.Errorf("--attrs must be a valid JSON object")
			}
			ent.Attrs = json.RawMessage(attrs)
		}

		eng, cleanup, err := openEngine(nil)
		if err != nil {
			return err
		}
		defer cleanup()

		// Preserve fields the caller didn't set on an existing record.
		if existing, err := eng.GetEntity(cmd.Context(), ent.ID); err == nil {
			if name == "" {
				ent.Name = existing.Name
			}
			if notes == "" {
				ent.Notes = existing.Notes
			}
			if attrs == "" {
				ent.Attrs = existing.Attrs
			}
		}

		stored, err := eng.UpsertEntity(cmd.Context(), ent)
		if err != nil {
			return err
		}

		fmt.Printf("Saved %s (queued for sync)\n", stored.ID)
		return nil
	},
}

func init() {
	putCmd.Flags().String("name", "", "display name")
	putCmd.Flags().String("notes", "", "free-form notes")
	putCmd.Flags().String("attrs", "", "extra fields as a JSON object")
	rootCmd.AddCommand(putCmd)
}
