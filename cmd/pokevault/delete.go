package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pokevault/pokevault/internal/store"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a record from the local vault",
	Long: `Remove a record locally and queue the deletion for the remote catalog.

Until the remote confirms it, the queued deletion also shields the record
from being re-created by a pulled snapshot.

Example usage:
  pokevault delete 25`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine(nil)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := eng.DeleteEntity(cmd.Context(), args[0]); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("no record with id %q", args[0])
			}
			return err
		}

		fmt.Printf("Deleted %s (queued for sync)\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
