package analysis

import (
	"fmt"

	"github.com/KaramelBytes/equiplens-cli/internal/equipment"
)

// ScoreNA is the stability score of an empty table.
const ScoreNA = "N/A"

const (
	boundsFactor   = 1.2
	criticalFactor = 1.5
	maxAssetsShown = 10
)

// Asset is an equipment row flagged by the operational summary.
type Asset struct {
	Name        string
	Type        string
	Pressure    float64
	Temperature float64
}

// OperationalSummary is the single-dataset health digest used in reports.
type OperationalSummary struct {
	// StabilityScore is the share of rows within 120% of the pressure and
	// temperature averages, "N/A" for an empty table.
	StabilityScore string
	WithinBounds   int
	// CriticalAssets lists at most ten rows above 150% of either average.
	CriticalAssets []Asset
	CriticalTotal  int
	Correlation    Correlation
}

// Operational derives the operational summary of one dataset. Missing
// pressure or temperature cells count as 0.
func Operational(s equipment.Summary) OperationalSummary {
	avgP := s.Averages.Pressure
	avgT := s.Averages.Temperature
	op := OperationalSummary{
		StabilityScore: ScoreNA,
		Correlation:    PressureTemperatureCorrelation(s.Table),
	}
	for _, r := range s.Table {
		p := r.ValueOrZero(equipment.Pressure)
		t := r.ValueOrZero(equipment.Temperature)
		if p <= avgP*boundsFactor && t <= avgT*boundsFactor {
			op.WithinBounds++
		}
		if p > avgP*criticalFactor || t > avgT*criticalFactor {
			op.CriticalTotal++
			if len(op.CriticalAssets) < maxAssetsShown {
				op.CriticalAssets = append(op.CriticalAssets, Asset{Name: r.Name, Type: r.Type, Pressure: p, Temperature: t})
			}
		}
	}
	if n := len(s.Table); n > 0 {
		op.StabilityScore = fmt.Sprintf("%.0f%%", float64(op.WithinBounds)*100/float64(n))
	}
	return op
}
