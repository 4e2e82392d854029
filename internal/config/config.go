package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/KaramelBytes/equiplens-cli/internal/analysis"
	"github.com/KaramelBytes/equiplens-cli/internal/equipment"
	"github.com/KaramelBytes/equiplens-cli/internal/insights"
	"github.com/KaramelBytes/equiplens-cli/internal/utils"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	dirName    = ".equiplens"
	fileName   = "config.yaml"
	envPrefix  = "EQUIPLENS"
	defaultDir = "~/" + dirName + "/data"
)

// Thresholds are the comparison engine settings exposed in the config file.
type Thresholds struct {
	StabilityFactor     float64 `mapstructure:"stability_factor" yaml:"stability_factor"`
	EffectSmall         float64 `mapstructure:"effect_small" yaml:"effect_small"`
	EffectMedium        float64 `mapstructure:"effect_medium" yaml:"effect_medium"`
	EffectLarge         float64 `mapstructure:"effect_large" yaml:"effect_large"`
	FlowrateWarningPct  float64 `mapstructure:"flowrate_warning_pct" yaml:"flowrate_warning_pct"`
	FlowrateCriticalPct float64 `mapstructure:"flowrate_critical_pct" yaml:"flowrate_critical_pct"`
	PressureWarning     float64 `mapstructure:"pressure_warning" yaml:"pressure_warning"`
	PressureCritical    float64 `mapstructure:"pressure_critical" yaml:"pressure_critical"`
	TemperatureWarning  float64 `mapstructure:"temperature_warning" yaml:"temperature_warning"`
	TemperatureCritical float64 `mapstructure:"temperature_critical" yaml:"temperature_critical"`
}

// Global configuration structure.
type Global struct {
	DataDir        string `mapstructure:"data_dir" yaml:"data_dir"`
	RetentionLimit int    `mapstructure:"retention_limit" yaml:"retention_limit"`
	MaxUploadMB    int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`
	MaxRows        int    `mapstructure:"max_rows" yaml:"max_rows"`

	ServerAddr     string `mapstructure:"server_addr" yaml:"server_addr"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
	LogLevel       string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat      string `mapstructure:"log_format" yaml:"log_format"`

	// Optional LLM insights
	InsightsProvider string `mapstructure:"insights_provider" yaml:"insights_provider"`
	InsightsModel    string `mapstructure:"insights_model" yaml:"insights_model"`
	APIKey           string `mapstructure:"api_key" yaml:"api_key"`
	OllamaHost       string `mapstructure:"ollama_host" yaml:"ollama_host"`

	// HTTP/Retry configuration
	HTTPTimeoutSec   int `mapstructure:"http_timeout_sec" yaml:"http_timeout_sec"`
	RetryMaxAttempts int `mapstructure:"retry_max_attempts" yaml:"retry_max_attempts"`
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs  int `mapstructure:"retry_max_delay_ms" yaml:"retry_max_delay_ms"`

	Thresholds Thresholds `mapstructure:"thresholds" yaml:"thresholds"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", defaultDir)
	v.SetDefault("retention_limit", 5)
	v.SetDefault("max_upload_mb", 10)
	v.SetDefault("max_rows", 20000)
	v.SetDefault("server_addr", ":8080")
	v.SetDefault("metrics_enabled", true)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("insights_provider", "")
	v.SetDefault("insights_model", "")
	v.SetDefault("api_key", "")
	v.SetDefault("ollama_host", "http://127.0.0.1:11434")
	// HTTP/retry defaults
	v.SetDefault("http_timeout_sec", 60)
	v.SetDefault("retry_max_attempts", 3)
	v.SetDefault("retry_base_delay_ms", 500)
	v.SetDefault("retry_max_delay_ms", 4000)

	d := analysis.DefaultConfig()
	v.SetDefault("thresholds.stability_factor", d.StabilityFactor)
	v.SetDefault("thresholds.effect_small", d.EffectSize.Small)
	v.SetDefault("thresholds.effect_medium", d.EffectSize.Medium)
	v.SetDefault("thresholds.effect_large", d.EffectSize.Large)
	v.SetDefault("thresholds.flowrate_warning_pct", d.Risk[equipment.Flowrate].Warning)
	v.SetDefault("thresholds.flowrate_critical_pct", d.Risk[equipment.Flowrate].Critical)
	v.SetDefault("thresholds.pressure_warning", d.Risk[equipment.Pressure].Warning)
	v.SetDefault("thresholds.pressure_critical", d.Risk[equipment.Pressure].Critical)
	v.SetDefault("thresholds.temperature_warning", d.Risk[equipment.Temperature].Warning)
	v.SetDefault("thresholds.temperature_critical", d.Risk[equipment.Temperature].Critical)
}

// Keys lists every settable key in dotted form.
func Keys() []string {
	v := viper.New()
	setDefaults(v)
	return v.AllKeys()
}

// Dir returns ~/.equiplens.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, dirName), nil
}

// Save writes the given configuration to the cfgFile path. If cfgFile is empty,
// it writes to ~/.equiplens/config.yaml, creating the directory if necessary.
func Save(c *Global, cfgFile string) error {
	path := cfgFile
	if path == "" {
		dir, err := Dir()
		if err != nil {
			return err
		}
		if err := utils.EnsureDir(dir); err != nil {
			return fmt.Errorf("mkdir config dir: %w", err)
		}
		path = filepath.Join(dir, fileName)
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := utils.SafeWriteFile(path, b); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Load loads configuration from file, env, and defaults.
// Precedence: flags (cfgFile) > env > config file > defaults.
func Load(cfgFile string) (*Global, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	// the file is optional; a broken one is not
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	dataDir, err := utils.ExpandHome(c.DataDir)
	if err != nil {
		return nil, err
	}
	c.DataDir = dataDir
	return &c, nil
}

// Set assigns a dotted key from its string form, e.g. "thresholds.pressure_warning" "45".
func (c *Global) Set(key, value string) error {
	key = strings.ToLower(strings.TrimSpace(key))
	if !slices.Contains(Keys(), key) {
		return fmt.Errorf("unknown config key %q", key)
	}
	v := viper.New()
	setDefaults(v)
	cur := map[string]any{}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := yaml.Unmarshal(b, &cur); err != nil {
		return fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := v.MergeConfigMap(cur); err != nil {
		return fmt.Errorf("merge config: %w", err)
	}
	var parsed any
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil || parsed == nil {
		parsed = value
	}
	v.Set(key, parsed)
	var out Global
	if err := v.Unmarshal(&out); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if _, err := out.EngineConfig(); err != nil {
		return err
	}
	*c = out
	return nil
}

// Limits returns the upload limits.
func (c *Global) Limits() equipment.Limits {
	return equipment.Limits{MaxBytes: int64(c.MaxUploadMB) << 20, MaxRows: c.MaxRows}
}

// RuntimeConfig builds the insights runtime settings.
func (c *Global) RuntimeConfig() insights.RuntimeConfig {
	return insights.RuntimeConfig{
		HTTPTimeout: time.Duration(c.HTTPTimeoutSec) * time.Second,
		RetryMax:    c.RetryMaxAttempts,
		BaseDelay:   time.Duration(c.RetryBaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(c.RetryMaxDelayMs) * time.Millisecond,
		APIKey:      c.APIKey,
		Host:        c.OllamaHost,
	}
}

// Model returns insights_model or the provider's default.
func (c *Global) Model() string {
	if c.InsightsModel != "" {
		return c.InsightsModel
	}
	return insights.DefaultModel(c.InsightsProvider)
}

// EngineConfig converts the thresholds into a validated analysis.Config.
func (c *Global) EngineConfig() (analysis.Config, error) {
	t := c.Thresholds
	cfg := analysis.DefaultConfig()
	cfg.StabilityFactor = t.StabilityFactor
	cfg.EffectSize = analysis.EffectBreakpoints{Small: t.EffectSmall, Medium: t.EffectMedium, Large: t.EffectLarge}
	cfg.Risk[equipment.Flowrate] = analysis.RiskRule{Basis: analysis.BasisPercentChange, Warning: t.FlowrateWarningPct, Critical: t.FlowrateCriticalPct}
	cfg.Risk[equipment.Pressure] = analysis.RiskRule{Basis: analysis.BasisMeanB, Warning: t.PressureWarning, Critical: t.PressureCritical}
	cfg.Risk[equipment.Temperature] = analysis.RiskRule{Basis: analysis.BasisMeanB, Warning: t.TemperatureWarning, Critical: t.TemperatureCritical}
	if err := cfg.Validate(); err != nil {
		return analysis.Config{}, fmt.Errorf("thresholds: %w", err)
	}
	return cfg, nil
}
