package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const beforeCSV = "Equipment Name,Type,Flowrate,Pressure,Temperature\n" +
	"P-1,Pump,100,5,100\n" +
	"P-2,Pump,100,6,110\n" +
	"V-1,Valve,100,7,120\n"

const afterCSV = "Equipment Name,Type,Flowrate,Pressure,Temperature\n" +
	"P-1,Pump,150,5,100\n" +
	"P-2,Pump,150,6,110\n" +
	"V-1,Valve,150,7,120\n" +
	"C-1,Compressor,150,6,110\n"

// resetFlags clears values and Changed state left over from a previous Execute.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// runCmd executes the root command with args and returns its stdout.
func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runCmd(t, args...)
	require.NoError(t, err, "command %v", args)
	return out
}

// setupHome points HOME at a temp dir so config and data land there.
func setupHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func writeCSV(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestCLI_UploadListCompareReportDelete(t *testing.T) {
	home := setupHome(t)
	writeCSV(t, home, "a_before.csv", beforeCSV)
	writeCSV(t, home, "b_after.csv", afterCSV)

	out := mustRun(t, "upload", filepath.Join(home, "*.csv"))
	assert.Contains(t, out, "[1/2] Processing a_before.csv...")
	assert.Contains(t, out, "✓ Stored #1 a_before.csv (3 items")
	assert.Contains(t, out, "✓ Stored #2 b_after.csv (4 items")

	out = mustRun(t, "list")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "2 "), "newest first: %q", lines[1])

	out = mustRun(t, "show", "1", "--json")
	var summary map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.EqualValues(t, 3, summary["total_equipment"])

	out = mustRun(t, "compare", "1", "2", "--json")
	var cmp struct {
		Delta struct {
			TotalEquipment int                `json:"total_equipment"`
			Averages       map[string]float64 `json:"averages"`
		} `json:"delta"`
		ComparisonStats map[string]map[string]any `json:"comparison_stats"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &cmp))
	assert.Equal(t, 1, cmp.Delta.TotalEquipment)
	assert.Equal(t, 50.0, cmp.Delta.Averages["flowrate"])
	require.Contains(t, cmp.ComparisonStats, "flowrate")
	assert.Equal(t, "critical", cmp.ComparisonStats["flowrate"]["risk_level"])

	md := mustRun(t, "compare", "1", "2")
	assert.Contains(t, md, "# Dataset Comparison")

	reportPath := filepath.Join(home, "report.md")
	out = mustRun(t, "report", "1", "-o", reportPath)
	assert.Contains(t, out, "✓ Wrote "+reportPath)
	b, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(b), "# Chemical Process Analytical Report")
	assert.Contains(t, string(b), "**Dataset:** a_before.csv")

	out = mustRun(t, "report", "--compare", "1", "2")
	assert.Contains(t, out, "| Avg Flowrate (m³/h) | 100 | 150 | +50 |")

	out = mustRun(t, "delete", "1")
	assert.Contains(t, out, "✓ Deleted #1")
	_, err = runCmd(t, "show", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dataset 1 not found")
}

func TestCLI_UploadContinuesPastInvalidFiles(t *testing.T) {
	home := setupHome(t)
	bad := writeCSV(t, home, "bad.csv", "Name,Kind\nx,y\n")
	good := writeCSV(t, home, "good.csv", beforeCSV)
	txt := writeCSV(t, home, "notes.txt", beforeCSV)

	out, err := runCmd(t, "upload", bad, good, txt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 3 files rejected")
	assert.Contains(t, out, "✓ Stored #1 good.csv")

	out = mustRun(t, "list")
	assert.Contains(t, out, "good.csv")
	assert.NotContains(t, out, "bad.csv")
}

func TestCLI_RetentionKeepsNewestFive(t *testing.T) {
	home := setupHome(t)
	var paths []string
	for _, n := range []string{"d1.csv", "d2.csv", "d3.csv", "d4.csv", "d5.csv", "d6.csv"} {
		paths = append(paths, writeCSV(t, home, n, beforeCSV))
	}
	mustRun(t, append([]string{"upload", "-q"}, paths...)...)

	out := mustRun(t, "list")
	assert.NotContains(t, out, "d1.csv")
	assert.Contains(t, out, "d6.csv")
	_, err := runCmd(t, "show", "1")
	require.Error(t, err)
}

func TestCLI_CompareDegradesWhenSourceMissing(t *testing.T) {
	home := setupHome(t)
	a := writeCSV(t, home, "a.csv", beforeCSV)
	b := writeCSV(t, home, "b.csv", afterCSV)
	mustRun(t, "upload", a, b)

	src := filepath.Join(home, ".equiplens", "data", "datasets", "2", "source.csv")
	require.NoError(t, os.Remove(src))

	out := mustRun(t, "compare", "1", "2", "--json")
	assert.Contains(t, out, `"comparison_stats": {}`)
	assert.Contains(t, out, `"total_equipment": 1`)
}

func TestCLI_AnalyzeDoesNotStore(t *testing.T) {
	home := setupHome(t)
	p := writeCSV(t, home, "plant.csv", afterCSV)

	out := mustRun(t, "analyze", p)
	assert.Contains(t, out, "**Dataset:** plant.csv")
	assert.Contains(t, out, "| Total Equipment Count | 4 |")

	out = mustRun(t, "analyze", p, "--json")
	assert.Contains(t, out, `"total_equipment": 4`)

	out = mustRun(t, "list")
	assert.Contains(t, out, "(no datasets)")
}

func TestCLI_InvalidDatasetIDs(t *testing.T) {
	setupHome(t)
	_, err := runCmd(t, "compare", "x", "2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid dataset id "x"`)

	_, err = runCmd(t, "compare", "7", "8")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dataset 7 not found")
}

func TestCLI_ConfigSetAndShow(t *testing.T) {
	home := setupHome(t)

	out := mustRun(t, "config", "set", "thresholds.pressure_warning", "45")
	assert.Contains(t, out, "Saved config")
	b, err := os.ReadFile(filepath.Join(home, ".equiplens", "config.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "pressure_warning: 45")

	mustRun(t, "config", "set", "api_key", "sk-test-123456")
	out = mustRun(t, "config", "show")
	assert.Contains(t, out, "api_key: sk-****456")
	assert.Contains(t, out, "pressure_warning: 45")

	_, err = runCmd(t, "config", "set", "no_such_key", "1")
	require.Error(t, err)
	_, err = runCmd(t, "config", "set", "thresholds.pressure_critical", "10")
	require.Error(t, err, "critical below warning must be rejected")

	out = mustRun(t, "config", "keys")
	assert.Contains(t, out, "thresholds.stability_factor\n")
}
