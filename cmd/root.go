package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/KaramelBytes/equiplens-cli/internal/analysis"
	cfgpkg "github.com/KaramelBytes/equiplens-cli/internal/config"
	"github.com/KaramelBytes/equiplens-cli/internal/insights"
	"github.com/KaramelBytes/equiplens-cli/internal/logging"
	"github.com/KaramelBytes/equiplens-cli/internal/store"
	"github.com/KaramelBytes/equiplens-cli/internal/utils"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile      string
	debug        bool
	flagDataDir  string
	flagLogLevel string
	// Retry/HTTP flags (override config if set)
	flagHTTPTimeoutSec   int
	flagRetryMaxAttempts int

	// Loaded configuration
	cfg    *cfgpkg.Global
	logger = logging.Discard()
)

var rootCmd = &cobra.Command{
	Use:   "equiplens",
	Short: "EquipLens CLI: summarize and compare chemical equipment datasets",
	Long: `EquipLens ingests equipment CSV exports (name, type, flowrate, pressure,
temperature), keeps a short history of summarized datasets, and compares any
two of them: deltas, percent change, stability, effect size and risk level.`,
	SilenceUsage: true,
}

// Execute is the entry point called by main.main()
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "✗ Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(loadConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.equiplens/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "dataset storage directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug|info|warn|error (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagHTTPTimeoutSec, "http-timeout", 0, "insights HTTP timeout in seconds (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagRetryMaxAttempts, "retry-max", 0, "max insights retry attempts on 429/5xx (overrides config)")
}

func loadConfig() {
	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		// Non-fatal: commands that need config report it themselves
		fmt.Fprintf(os.Stderr, "⚠ Warning: failed to load config: %v\n", err)
		cfg = nil
		return
	}
	cfg = c

	f := rootCmd.PersistentFlags()
	if f.Changed("data-dir") && flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if f.Changed("log-level") && flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if debug {
		cfg.LogLevel = "debug"
	}
	if f.Changed("http-timeout") && flagHTTPTimeoutSec > 0 {
		cfg.HTTPTimeoutSec = flagHTTPTimeoutSec
	}
	if f.Changed("retry-max") && flagRetryMaxAttempts > 0 {
		cfg.RetryMaxAttempts = flagRetryMaxAttempts
	}

	l, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠ Warning: %v; using info/text logging\n", err)
		l = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	logger = l
}

func requireConfig() (*cfgpkg.Global, error) {
	if cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}

func openStore() (*store.Store, error) {
	c, err := requireConfig()
	if err != nil {
		return nil, err
	}
	return store.Open(c.DataDir, store.Options{Limits: c.Limits(), Retention: c.RetentionLimit, Logger: logger})
}

func newEngine() (*analysis.Engine, error) {
	c, err := requireConfig()
	if err != nil {
		return nil, err
	}
	ec, err := c.EngineConfig()
	if err != nil {
		return nil, err
	}
	return analysis.NewEngine(ec)
}

// newGenerator builds the insights generator for the configured provider.
// Without a provider, or with a broken one, it only produces fallback text.
func newGenerator(c *cfgpkg.Global) *insights.Generator {
	if c.InsightsProvider == "" {
		return insights.NewGenerator(nil, "", logger)
	}
	rt, err := insights.NewRuntime(c.InsightsProvider, c.RuntimeConfig())
	if err != nil {
		logger.Warn("insights runtime unavailable", "err", err)
		return insights.NewGenerator(nil, "", logger)
	}
	return insights.NewGenerator(rt, c.Model(), logger)
}

func parseDatasetID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid dataset id %q", s)
	}
	return id, nil
}

// getDataset resolves a dataset ID argument against st.
func getDataset(st *store.Store, arg string) (*store.Dataset, error) {
	id, err := parseDatasetID(arg)
	if err != nil {
		return nil, err
	}
	d, err := st.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("dataset %d not found", id)
	}
	return d, err
}

// writeOutput writes body to path, or to w when path is empty.
func writeOutput(w io.Writer, path, body string) error {
	if path == "" {
		_, err := io.WriteString(w, body)
		return err
	}
	if err := utils.SafeWriteFile(path, []byte(body)); err != nil {
		return err
	}
	fmt.Fprintf(w, "✓ Wrote %s\n", path)
	return nil
}
