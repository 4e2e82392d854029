package cmd

import (
	"path/filepath"
	"time"

	"github.com/KaramelBytes/equiplens-cli/internal/analysis"
	"github.com/KaramelBytes/equiplens-cli/internal/equipment"
	"github.com/KaramelBytes/equiplens-cli/internal/utils"
	"github.com/spf13/cobra"
)

var (
	anaOutputPath string
	anaJSON       bool
	anaInsights   bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Summarize an equipment CSV without storing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		path := args[0]
		rows, err := equipment.IngestFile(path, c.Limits())
		if err != nil {
			return err
		}
		s := equipment.Summarize(rows)
		if anaInsights {
			s.AIInsights = newGenerator(c).Annotate(cmd.Context(), s)
		}

		var body string
		if anaJSON {
			b, err := utils.PrettyJSON(s)
			if err != nil {
				return err
			}
			body = string(b) + "\n"
		} else {
			body = analysis.SummaryMarkdown(analysis.ReportMeta{Filename: filepath.Base(path), Generated: time.Now()}, s)
		}
		return writeOutput(cmd.OutOrStdout(), anaOutputPath, body)
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringVarP(&anaOutputPath, "output", "o", "", "write the result to a file instead of stdout")
	analyzeCmd.Flags().BoolVar(&anaJSON, "json", false, "print the summary as JSON")
	analyzeCmd.Flags().BoolVar(&anaInsights, "insights", false, "include AI insights")
}
