package equipment

import "math"

// Metric names one of the tracked numeric columns.
type Metric string

const (
	Flowrate    Metric = "flowrate"
	Pressure    Metric = "pressure"
	Temperature Metric = "temperature"
)

// Metrics lists the tracked metrics in reporting order.
var Metrics = []Metric{Flowrate, Pressure, Temperature}

// Column returns the CSV header for the metric.
func (m Metric) Column() string {
	switch m {
	case Flowrate:
		return ColFlowrate
	case Pressure:
		return ColPressure
	case Temperature:
		return ColTemperature
	}
	return ""
}

// Unit is the display unit used in reports.
func (m Metric) Unit() string {
	switch m {
	case Flowrate:
		return "m³/h"
	case Pressure:
		return "bar"
	case Temperature:
		return "°C"
	}
	return ""
}

// Required CSV headers.
const (
	ColName        = "Equipment Name"
	ColType        = "Type"
	ColFlowrate    = "Flowrate"
	ColPressure    = "Pressure"
	ColTemperature = "Temperature"
)

// RequiredColumns is the header set every upload must carry.
var RequiredColumns = []string{ColName, ColType, ColFlowrate, ColPressure, ColTemperature}

// Row is one equipment item. A nil metric pointer means the cell was empty.
type Row struct {
	Name        string   `json:"Equipment Name"`
	Type        string   `json:"Type"`
	Flowrate    *float64 `json:"Flowrate"`
	Pressure    *float64 `json:"Pressure"`
	Temperature *float64 `json:"Temperature"`
}

// Value returns the metric value and whether it is present.
func (r Row) Value(m Metric) (float64, bool) {
	var p *float64
	switch m {
	case Flowrate:
		p = r.Flowrate
	case Pressure:
		p = r.Pressure
	case Temperature:
		p = r.Temperature
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// ValueOrZero is Value with missing cells read as 0.
func (r Row) ValueOrZero(m Metric) float64 {
	v, _ := r.Value(m)
	return v
}

// Averages holds the per-metric means of a dataset.
type Averages struct {
	Flowrate    float64 `json:"flowrate"`
	Pressure    float64 `json:"pressure"`
	Temperature float64 `json:"temperature"`
}

// Get returns the average for m, 0 for unknown metrics.
func (a Averages) Get(m Metric) float64 {
	switch m {
	case Flowrate:
		return a.Flowrate
	case Pressure:
		return a.Pressure
	case Temperature:
		return a.Temperature
	}
	return 0
}

// Set stores v as the average for m.
func (a *Averages) Set(m Metric, v float64) {
	switch m {
	case Flowrate:
		a.Flowrate = v
	case Pressure:
		a.Pressure = v
	case Temperature:
		a.Temperature = v
	}
}

// Summary is the cached, immutable digest of one dataset.
// Absent JSON keys decode to zero values.
type Summary struct {
	TotalEquipment   int            `json:"total_equipment"`
	Averages         Averages       `json:"averages"`
	TypeDistribution map[string]int `json:"type_distribution"`
	Table            []Row          `json:"table"`
	AIInsights       string         `json:"ai_insights,omitempty"`
}

// UnknownType is the distribution bucket for rows without a Type.
const UnknownType = "Unknown"

// Summarize derives a Summary from rows in source order.
func Summarize(rows []Row) Summary {
	s := Summary{
		TotalEquipment:   len(rows),
		TypeDistribution: make(map[string]int),
		Table:            rows,
	}
	if s.Table == nil {
		s.Table = []Row{}
	}
	for _, m := range Metrics {
		var sum float64
		var n int
		for _, r := range rows {
			if v, ok := r.Value(m); ok {
				sum += v
				n++
			}
		}
		if n > 0 {
			s.Averages.Set(m, Round2(sum/float64(n)))
		}
	}
	for _, r := range rows {
		t := r.Type
		if t == "" {
			t = UnknownType
		}
		s.TypeDistribution[t]++
	}
	return s
}

// Round2 rounds half away from zero to two decimals. NaN and Inf become 0.
func Round2(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return math.Round(x*100) / 100
}
