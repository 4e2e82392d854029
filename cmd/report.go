package cmd

import (
	"fmt"
	"time"

	"github.com/KaramelBytes/equiplens-cli/internal/analysis"
	"github.com/spf13/cobra"
)

var (
	reportCompare    bool
	reportOutputPath string
)

var reportCmd = &cobra.Command{
	Use:   "report <id> | report --compare <id-a> <id-b>",
	Short: "Render a Markdown report for a dataset or a comparison",
	Args: func(cmd *cobra.Command, args []string) error {
		if reportCompare {
			return cobra.ExactArgs(2)(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if reportOutputPath == "-" {
			reportOutputPath = defaultReportName(args)
		}
		if reportCompare {
			res, err := runComparison(cmd, args[0], args[1])
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), reportOutputPath, res.Markdown())
		}
		st, err := openStore()
		if err != nil {
			return err
		}
		d, err := getDataset(st, args[0])
		if err != nil {
			return err
		}
		meta := analysis.ReportMeta{ID: d.ID, Filename: d.Filename, Generated: time.Now()}
		return writeOutput(cmd.OutOrStdout(), reportOutputPath, analysis.SummaryMarkdown(meta, d.Summary))
	},
}

// defaultReportName mirrors the attachment names the HTTP API uses.
func defaultReportName(args []string) string {
	if len(args) == 2 {
		return fmt.Sprintf("comparison_%s_%s.md", args[0], args[1])
	}
	return fmt.Sprintf("report_%s.md", args[0])
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().BoolVar(&reportCompare, "compare", false, "report on the comparison of two datasets")
	reportCmd.Flags().StringVarP(&reportOutputPath, "output", "o", "", "write the report to a file (\"-\" picks report_<id>.md)")
}
