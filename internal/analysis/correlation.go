package analysis

import (
	"math"

	"github.com/KaramelBytes/equiplens-cli/internal/equipment"
	"gonum.org/v1/gonum/stat"
)

// Correlation strength labels.
const (
	CorrStrong   = "Strong"
	CorrModerate = "Moderate"
	CorrWeak     = "Weak"
	CorrNA       = "N/A"
)

// Correlation is a Pearson coefficient with its descriptive label.
type Correlation struct {
	R     float64
	N     int
	Label string
}

// PressureTemperatureCorrelation computes Pearson r between pressure and
// temperature over rows that carry both values. Fewer than two pairs or a
// constant column gives N/A.
func PressureTemperatureCorrelation(rows []equipment.Row) Correlation {
	var ps, ts []float64
	for _, r := range rows {
		p, okP := r.Value(equipment.Pressure)
		t, okT := r.Value(equipment.Temperature)
		if okP && okT {
			ps = append(ps, p)
			ts = append(ts, t)
		}
	}
	out := Correlation{N: len(ps), Label: CorrNA}
	if len(ps) < 2 {
		return out
	}
	if stat.Variance(ps, nil) == 0 || stat.Variance(ts, nil) == 0 {
		return out
	}
	r := stat.Correlation(ps, ts, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return out
	}
	if r > 1 {
		r = 1
	} else if r < -1 {
		r = -1
	}
	out.R = r
	switch ar := math.Abs(r); {
	case ar > 0.7:
		out.Label = CorrStrong
	case ar > 0.4:
		out.Label = CorrModerate
	default:
		out.Label = CorrWeak
	}
	return out
}
