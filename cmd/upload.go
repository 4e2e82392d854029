package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/KaramelBytes/equiplens-cli/internal/equipment"
	"github.com/KaramelBytes/equiplens-cli/internal/store"
	"github.com/spf13/cobra"
)

var (
	upOwner    string
	upInsights bool
	upQuiet    bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload <files...>",
	Short: "Validate, summarize and store one or more equipment CSV files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := expandInputs(args)
		if err != nil {
			return err
		}
		st, err := openStore()
		if err != nil {
			return err
		}
		var annotate func(context.Context, equipment.Summary) string
		if upInsights {
			annotate = newGenerator(cfg).Annotate
		}

		out := cmd.OutOrStdout()
		total := len(files)
		failed := 0
		for i, path := range files {
			if !upQuiet {
				fmt.Fprintf(out, "[%d/%d] Processing %s...\n", i+1, total, filepath.Base(path))
			}
			d, err := uploadFile(cmd.Context(), st, path, annotate)
			if err != nil {
				if !equipment.IsValidation(err) {
					return err
				}
				failed++
				fmt.Fprintf(cmd.ErrOrStderr(), "✗ %s: %v\n", filepath.Base(path), err)
				continue
			}
			avg := d.Summary.Averages
			fmt.Fprintf(out, "✓ Stored #%d %s (%d items; avg flowrate %v, pressure %v, temperature %v)\n",
				d.ID, d.Filename, d.Summary.TotalEquipment, avg.Flowrate, avg.Pressure, avg.Temperature)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d files rejected", failed, total)
		}
		return nil
	},
}

func uploadFile(ctx context.Context, st *store.Store, path string, annotate func(context.Context, equipment.Summary) string) (*store.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return st.Create(ctx, store.Upload{
		Owner:    upOwner,
		Filename: filepath.Base(path),
		Body:     f,
		Annotate: annotate,
	})
}

// expandInputs resolves globs and literal paths, dropping duplicates.
func expandInputs(args []string) ([]string, error) {
	var files []string
	seen := map[string]struct{}{}
	for _, arg := range args {
		matches, _ := filepath.Glob(arg)
		if len(matches) == 0 {
			// treat as literal path if exists
			if _, err := os.Stat(arg); err == nil {
				matches = []string{arg}
			}
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			files = append(files, m)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no input files matched")
	}
	sort.Strings(files)
	return files, nil
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	uploadCmd.Flags().StringVar(&upOwner, "owner", "", "owner the datasets are stored under (retention is per owner)")
	uploadCmd.Flags().BoolVar(&upInsights, "insights", false, "generate AI insights for each dataset")
	uploadCmd.Flags().BoolVarP(&upQuiet, "quiet", "q", false, "suppress progress output")
}
