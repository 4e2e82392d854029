package cmd

import (
	"errors"
	"fmt"

	"github.com/KaramelBytes/equiplens-cli/internal/store"
	"github.com/spf13/cobra"
)

var (
	delCleanup bool
	delOwner   string
)

var deleteCmd = &cobra.Command{
	Use:   "delete <id> | delete --cleanup [--owner name]",
	Short: "Delete a stored dataset, or trim history to the retention limit",
	Args: func(cmd *cobra.Command, args []string) error {
		if delCleanup {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if delCleanup {
			removed, err := st.Cleanup(delOwner)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "✓ Removed %d dataset(s)\n", len(removed))
			return nil
		}
		id, err := parseDatasetID(args[0])
		if err != nil {
			return err
		}
		if err := st.Delete(id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("dataset %d not found", id)
			}
			return err
		}
		fmt.Fprintf(out, "✓ Deleted #%d\n", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
	deleteCmd.Flags().BoolVar(&delCleanup, "cleanup", false, "apply the retention limit now")
	deleteCmd.Flags().StringVar(&delOwner, "owner", "", "owner whose history is trimmed by --cleanup")
}
