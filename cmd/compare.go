package cmd

import (
	"fmt"

	"github.com/KaramelBytes/equiplens-cli/internal/analysis"
	"github.com/KaramelBytes/equiplens-cli/internal/utils"
	"github.com/spf13/cobra"
)

var (
	cmpJSON       bool
	cmpOutputPath string
)

var compareCmd = &cobra.Command{
	Use:   "compare <id-a> <id-b>",
	Short: "Compare dataset B against baseline A",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := runComparison(cmd, args[0], args[1])
		if err != nil {
			return err
		}
		var body string
		if cmpJSON {
			b, err := utils.PrettyJSON(res)
			if err != nil {
				return err
			}
			body = string(b) + "\n"
		} else {
			body = res.Markdown()
		}
		return writeOutput(cmd.OutOrStdout(), cmpOutputPath, body)
	},
}

// runComparison resolves both IDs and compares them. A degraded
// comparison is reported on stderr but is not an error.
func runComparison(cmd *cobra.Command, argA, argB string) (*analysis.ComparisonResult, error) {
	st, err := openStore()
	if err != nil {
		return nil, err
	}
	engine, err := newEngine()
	if err != nil {
		return nil, err
	}
	a, err := getDataset(st, argA)
	if err != nil {
		return nil, err
	}
	b, err := getDataset(st, argB)
	if err != nil {
		return nil, err
	}
	res := engine.Compare(cmd.Context(), a, b)
	if res.StatsStatus == analysis.StatsDegraded {
		logger.Warn("comparison statistics degraded", "a", a.ID, "b", b.ID, "issues", res.Issues)
		fmt.Fprintf(cmd.ErrOrStderr(), "⚠ Statistics incomplete for #%d vs #%d\n", a.ID, b.ID)
	}
	return res, nil
}

func init() {
	rootCmd.AddCommand(compareCmd)
	compareCmd.Flags().BoolVar(&cmpJSON, "json", false, "print the comparison as JSON")
	compareCmd.Flags().StringVarP(&cmpOutputPath, "output", "o", "", "write the result to a file instead of stdout")
}
