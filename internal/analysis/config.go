package analysis

import (
	"errors"
	"fmt"

	"github.com/KaramelBytes/equiplens-cli/internal/equipment"
)

// Stability labels whether spread grew materially between two datasets.
type Stability string

const (
	Stable   Stability = "stable"
	Unstable Stability = "unstable"
)

// EffectSize labels the magnitude of Cohen's d.
type EffectSize string

const (
	EffectTrivial EffectSize = "trivial"
	EffectSmall   EffectSize = "small"
	EffectMedium  EffectSize = "medium"
	EffectLarge   EffectSize = "large"
)

// RiskLevel is the per-metric alert tier.
type RiskLevel string

const (
	RiskNormal   RiskLevel = "normal"
	RiskWarning  RiskLevel = "warning"
	RiskCritical RiskLevel = "critical"
)

// RiskBasis selects which quantity a RiskRule thresholds.
type RiskBasis string

const (
	// BasisPercentChange thresholds |percent change| between the means.
	BasisPercentChange RiskBasis = "percent_change_abs"
	// BasisMeanB thresholds the comparison dataset's mean as is.
	BasisMeanB RiskBasis = "mean_b"
)

// RiskRule maps a basis value to a level: above Critical is critical,
// above Warning is warning, anything else is normal.
type RiskRule struct {
	Basis    RiskBasis
	Warning  float64
	Critical float64
}

// EffectBreakpoints are the |d| cut points between effect size labels.
type EffectBreakpoints struct {
	Small  float64
	Medium float64
	Large  float64
}

// Config holds every threshold the comparison engine uses.
type Config struct {
	// StabilityFactor: stable while stdDevB <= stdDevA * StabilityFactor.
	StabilityFactor float64
	EffectSize      EffectBreakpoints
	Risk            map[equipment.Metric]RiskRule
}

// DefaultConfig returns the standard plant thresholds.
func DefaultConfig() Config {
	return Config{
		StabilityFactor: 1.2,
		EffectSize:      EffectBreakpoints{Small: 0.2, Medium: 0.5, Large: 0.8},
		Risk: map[equipment.Metric]RiskRule{
			equipment.Flowrate:    {Basis: BasisPercentChange, Warning: 20, Critical: 40},
			equipment.Pressure:    {Basis: BasisMeanB, Warning: 40, Critical: 50},
			equipment.Temperature: {Basis: BasisMeanB, Warning: 500, Critical: 600},
		},
	}
}

// Validate checks that the thresholds are usable.
func (c Config) Validate() error {
	if c.StabilityFactor <= 0 {
		return fmt.Errorf("stability factor must be positive, got %v", c.StabilityFactor)
	}
	es := c.EffectSize
	if es.Small <= 0 || es.Small >= es.Medium || es.Medium >= es.Large {
		return fmt.Errorf("effect size breakpoints must be increasing and positive, got %v/%v/%v", es.Small, es.Medium, es.Large)
	}
	if c.Risk == nil {
		return errors.New("risk rules missing")
	}
	for _, m := range equipment.Metrics {
		r, ok := c.Risk[m]
		if !ok {
			return fmt.Errorf("risk rule for %s missing", m)
		}
		switch r.Basis {
		case BasisPercentChange, BasisMeanB:
		default:
			return fmt.Errorf("risk rule for %s: unknown basis %q", m, r.Basis)
		}
		if r.Warning > r.Critical {
			return fmt.Errorf("risk rule for %s: warning %v above critical %v", m, r.Warning, r.Critical)
		}
	}
	return nil
}

func (c Config) clone() Config {
	out := c
	out.Risk = make(map[equipment.Metric]RiskRule, len(c.Risk))
	for k, v := range c.Risk {
		out.Risk[k] = v
	}
	return out
}
