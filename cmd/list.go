package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listOwner string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored datasets, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		entries, err := st.List(listOwner)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(entries) == 0 {
			fmt.Fprintln(out, "(no datasets)")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tFILENAME\tUPLOADED\tITEMS\tOWNER")
		for _, e := range entries {
			owner := e.Owner
			if owner == "" {
				owner = "-"
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", e.ID, e.Filename, e.UploadedAt.Local().Format("2006-01-02 15:04"), e.TotalEquipment, owner)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVar(&listOwner, "owner", "", "only list datasets of this owner")
}
