package analysis

import (
	"math"

	"github.com/KaramelBytes/equiplens-cli/internal/equipment"
	"gonum.org/v1/gonum/stat"
)

// MetricStats compares one metric across two datasets.
type MetricStats struct {
	PercentChange float64    `json:"percent_change"`
	StdDevA       float64    `json:"std_dev_a"`
	StdDevB       float64    `json:"std_dev_b"`
	Stability     Stability  `json:"stability"`
	EffectSize    EffectSize `json:"effect_size"`
	RiskLevel     RiskLevel  `json:"risk_level"`

	// Unrounded inputs, kept for reports.
	MeanA  float64 `json:"-"`
	MeanB  float64 `json:"-"`
	CohenD float64 `json:"-"`
	NA     int     `json:"-"`
	NB     int     `json:"-"`
}

// column extracts the present values of m in row order.
func column(rows []equipment.Row, m equipment.Metric) []float64 {
	out := make([]float64, 0, len(rows))
	for _, r := range rows {
		if v, ok := r.Value(m); ok {
			out = append(out, v)
		}
	}
	return out
}

// describe returns the mean and sample standard deviation (N-1).
// Mean is 0 with no values, std is 0 with fewer than two.
func describe(x []float64) (mean, std float64) {
	switch len(x) {
	case 0:
		return 0, 0
	case 1:
		return x[0], 0
	}
	mean, std = stat.MeanStdDev(x, nil)
	return finite(mean), finite(std)
}

func finite(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}

func percentChange(meanA, meanB float64) float64 {
	if meanA == 0 {
		return 0
	}
	return finite((meanB - meanA) / meanA * 100)
}

func cohensD(meanA, meanB, stdA, stdB float64) float64 {
	pooled := math.Sqrt((stdA*stdA + stdB*stdB) / 2)
	if pooled == 0 || math.IsNaN(pooled) {
		return 0
	}
	return finite((meanB - meanA) / pooled)
}

func (c Config) classifyEffect(d float64) EffectSize {
	ad := math.Abs(d)
	switch {
	case ad < c.EffectSize.Small:
		return EffectTrivial
	case ad < c.EffectSize.Medium:
		return EffectSmall
	case ad < c.EffectSize.Large:
		return EffectMedium
	default:
		return EffectLarge
	}
}

func (c Config) classifyStability(stdA, stdB float64) Stability {
	if stdB <= stdA*c.StabilityFactor {
		return Stable
	}
	return Unstable
}

func (c Config) classifyRisk(m equipment.Metric, pct, meanB float64) RiskLevel {
	rule, ok := c.Risk[m]
	if !ok {
		return RiskNormal
	}
	var x float64
	switch rule.Basis {
	case BasisPercentChange:
		x = math.Abs(pct)
	case BasisMeanB:
		x = meanB
	}
	switch {
	case x > rule.Critical:
		return RiskCritical
	case x > rule.Warning:
		return RiskWarning
	default:
		return RiskNormal
	}
}

// compareMetric builds MetricStats from the extracted values of both sides.
func (c Config) compareMetric(m equipment.Metric, a, b []float64) MetricStats {
	meanA, stdA := describe(a)
	meanB, stdB := describe(b)
	pct := percentChange(meanA, meanB)
	d := cohensD(meanA, meanB, stdA, stdB)
	return MetricStats{
		PercentChange: equipment.Round2(pct),
		StdDevA:       equipment.Round2(stdA),
		StdDevB:       equipment.Round2(stdB),
		Stability:     c.classifyStability(stdA, stdB),
		EffectSize:    c.classifyEffect(d),
		RiskLevel:     c.classifyRisk(m, pct, meanB),
		MeanA:         meanA,
		MeanB:         meanB,
		CohenD:        d,
		NA:            len(a),
		NB:            len(b),
	}
}
