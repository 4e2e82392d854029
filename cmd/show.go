package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/KaramelBytes/equiplens-cli/internal/equipment"
	"github.com/KaramelBytes/equiplens-cli/internal/utils"
	"github.com/spf13/cobra"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a stored dataset summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		d, err := getDataset(st, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if showJSON {
			b, err := utils.PrettyJSON(d.Summary)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(b))
			return nil
		}
		s := d.Summary
		fmt.Fprintf(out, "Dataset #%d %s (uploaded %s)\n", d.ID, d.Filename, d.UploadedAt.Local().Format("2006-01-02 15:04"))
		fmt.Fprintf(out, "Total equipment: %d\n", s.TotalEquipment)
		parts := make([]string, 0, len(equipment.Metrics))
		for _, m := range equipment.Metrics {
			parts = append(parts, fmt.Sprintf("%s %v %s", m, s.Averages.Get(m), m.Unit()))
		}
		fmt.Fprintf(out, "Averages: %s\n", strings.Join(parts, ", "))
		fmt.Fprintf(out, "Types: %s\n", typeLine(s.TypeDistribution))
		if s.AIInsights != "" {
			fmt.Fprintf(out, "Insights:\n%s\n", s.AIInsights)
		}
		return nil
	},
}

func typeLine(dist map[string]int) string {
	names := make([]string, 0, len(dist))
	for k := range dist {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool {
		if dist[names[i]] == dist[names[j]] {
			return names[i] < names[j]
		}
		return dist[names[i]] > dist[names[j]]
	})
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%s %d", n, dist[n])
	}
	return strings.Join(parts, ", ")
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().BoolVar(&showJSON, "json", false, "print the summary as JSON")
}
