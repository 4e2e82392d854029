package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/KaramelBytes/equiplens-cli/internal/equipment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDataset struct {
	id   int
	name string
	rows []equipment.Row
	err  error
}

func (f fakeDataset) DatasetID() int           { return f.id }
func (f fakeDataset) OriginalFilename() string { return f.name }
func (f fakeDataset) DatasetSummary() equipment.Summary {
	return equipment.Summarize(f.rows)
}
func (f fakeDataset) LoadTable(context.Context) ([]equipment.Row, error) {
	return f.rows, f.err
}

func ptr(v float64) *float64 { return &v }

// table builds rows from parallel metric columns; NaN marks a missing cell.
func table(flow, pres, temp []float64) []equipment.Row {
	n := max(len(flow), len(pres), len(temp))
	rows := make([]equipment.Row, n)
	cell := func(col []float64, i int) *float64 {
		if i >= len(col) || math.IsNaN(col[i]) {
			return nil
		}
		return ptr(col[i])
	}
	for i := range rows {
		rows[i] = equipment.Row{
			Name:        "E",
			Type:        "Pump",
			Flowrate:    cell(flow, i),
			Pressure:    cell(pres, i),
			Temperature: cell(temp, i),
		}
	}
	return rows
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultConfig())
	require.NoError(t, err)
	return e
}

func TestDelta(t *testing.T) {
	a := equipment.Summary{TotalEquipment: 7, Averages: equipment.Averages{Flowrate: 100.25, Pressure: 5.5, Temperature: 300}}
	b := equipment.Summary{TotalEquipment: 3, Averages: equipment.Averages{Flowrate: 101.456, Pressure: 5, Temperature: 310.004}}
	d := Delta(a, b)
	assert.Equal(t, -4, d.TotalEquipment)
	assert.Equal(t, 1.21, d.Averages.Flowrate)
	assert.Equal(t, -0.5, d.Averages.Pressure)
	assert.Equal(t, 10.0, d.Averages.Temperature)

	zero := Delta(equipment.Summary{}, equipment.Summary{TotalEquipment: 2, Averages: equipment.Averages{Pressure: 1.5}})
	assert.Equal(t, 2, zero.TotalEquipment)
	assert.Equal(t, 1.5, zero.Averages.Pressure)
	assert.Equal(t, 0.0, zero.Averages.Flowrate)
}

func TestCompareSelfIsBaseline(t *testing.T) {
	e := newEngine(t)
	ds := fakeDataset{id: 4, name: "run.csv", rows: table(
		[]float64{10, 12, 14}, []float64{5, 6, 7}, []float64{100, 110, 120})}

	res := e.Compare(context.Background(), ds, ds)
	assert.Equal(t, StatsOK, res.StatsStatus)
	assert.Equal(t, 0, res.Delta.TotalEquipment)
	assert.Equal(t, equipment.Averages{}, res.Delta.Averages)
	require.Len(t, res.ComparisonStats, 3)
	for _, m := range equipment.Metrics {
		st := res.ComparisonStats[m]
		assert.Equal(t, 0.0, st.PercentChange, m)
		assert.Equal(t, st.StdDevA, st.StdDevB, m)
		assert.Equal(t, Stable, st.Stability, m)
		assert.Equal(t, EffectTrivial, st.EffectSize, m)
		assert.Equal(t, RiskNormal, st.RiskLevel, m)
	}
	assert.Equal(t, 4, res.DatasetA.ID)
	assert.Equal(t, "run.csv", res.DatasetB.Filename)
}

func TestMetricStatsZeroVarianceShift(t *testing.T) {
	e := newEngine(t)
	a := table([]float64{100, 100, 100}, []float64{1, 2, 3}, []float64{1, 2, 3})
	b := table([]float64{140, 140, 140}, []float64{1, 2, 3}, []float64{1, 2, 3})

	out := e.MetricStats(a, b)
	require.Equal(t, StatsOK, out.Status)
	st := out.Stats[equipment.Flowrate]
	assert.Equal(t, 40.0, st.PercentChange)
	assert.Equal(t, 0.0, st.StdDevA)
	assert.Equal(t, 0.0, st.StdDevB)
	assert.Equal(t, Stable, st.Stability)
	// pooled std is 0, so d falls back to 0 even under a 40% jump
	assert.Equal(t, 0.0, st.CohenD)
	assert.Equal(t, EffectTrivial, st.EffectSize)
	assert.Equal(t, RiskWarning, st.RiskLevel)
}

func TestMetricStatsSampleStdAndEffect(t *testing.T) {
	e := newEngine(t)
	a := table([]float64{2, 4, 4, 4, 5, 5, 7, 9}, []float64{1, 2, 3}, []float64{1, 2, 3})
	b := table([]float64{2, 4, 4, 4, 5, 5, 7, 9}, []float64{2, 3, 4}, []float64{1.3, 2.3, 3.3})
	out := e.MetricStats(a, b)

	flow := out.Stats[equipment.Flowrate]
	assert.Equal(t, 2.14, flow.StdDevA)
	assert.InDelta(t, 5, flow.MeanA, 1e-12)

	pres := out.Stats[equipment.Pressure]
	assert.Equal(t, 50.0, pres.PercentChange)
	assert.InDelta(t, 1.0, pres.CohenD, 1e-9)
	assert.Equal(t, EffectLarge, pres.EffectSize)

	temp := out.Stats[equipment.Temperature]
	assert.InDelta(t, 0.3, temp.CohenD, 1e-9)
	assert.Equal(t, EffectSmall, temp.EffectSize)
}

func TestStabilityThreshold(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, Stable, c.classifyStability(1, 1.2))
	assert.Equal(t, Unstable, c.classifyStability(1, 1.21))
	assert.Equal(t, Stable, c.classifyStability(0, 0))
	assert.Equal(t, Unstable, c.classifyStability(0, 0.01))
}

func TestEffectSizeBoundaries(t *testing.T) {
	c := DefaultConfig()
	cases := []struct {
		d    float64
		want EffectSize
	}{
		{0, EffectTrivial},
		{0.19, EffectTrivial},
		{0.2, EffectSmall},
		{-0.2, EffectSmall},
		{0.49, EffectSmall},
		{0.5, EffectMedium},
		{0.79, EffectMedium},
		{0.8, EffectLarge},
		{-3, EffectLarge},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, c.classifyEffect(tc.d), "d=%v", tc.d)
	}
}

func TestRiskLevelsPerMetric(t *testing.T) {
	e := newEngine(t)
	base := []float64{100, 100}
	flowCase := func(after float64) RiskLevel {
		out := e.MetricStats(table(base, base, base), table([]float64{after, after}, base, base))
		return out.Stats[equipment.Flowrate].RiskLevel
	}
	assert.Equal(t, RiskNormal, flowCase(120))
	assert.Equal(t, RiskWarning, flowCase(125))
	assert.Equal(t, RiskWarning, flowCase(75))
	assert.Equal(t, RiskCritical, flowCase(145))
	assert.Equal(t, RiskCritical, flowCase(50))

	// pressure is judged on B's mean alone, whatever the change
	same := []float64{55, 55}
	out := e.MetricStats(table(base, same, base), table(base, same, base))
	assert.Equal(t, 0.0, out.Stats[equipment.Pressure].PercentChange)
	assert.Equal(t, RiskCritical, out.Stats[equipment.Pressure].RiskLevel)

	out = e.MetricStats(table(base, base, base), table(base, []float64{45, 45}, base))
	assert.Equal(t, RiskWarning, out.Stats[equipment.Pressure].RiskLevel)
	out = e.MetricStats(table(base, base, base), table(base, []float64{40, 40}, base))
	assert.Equal(t, RiskNormal, out.Stats[equipment.Pressure].RiskLevel)

	tempCase := func(after float64) RiskLevel {
		out := e.MetricStats(table(base, base, base), table(base, base, []float64{after, after}))
		return out.Stats[equipment.Temperature].RiskLevel
	}
	assert.Equal(t, RiskNormal, tempCase(450))
	assert.Equal(t, RiskNormal, tempCase(500))
	assert.Equal(t, RiskWarning, tempCase(550))
	assert.Equal(t, RiskCritical, tempCase(650))
}

func TestPercentChangeZeroBaseline(t *testing.T) {
	e := newEngine(t)
	out := e.MetricStats(
		table([]float64{0, 0}, []float64{1}, []float64{1}),
		table([]float64{5, 5}, []float64{1}, []float64{1}))
	st := out.Stats[equipment.Flowrate]
	assert.Equal(t, 0.0, st.PercentChange)
	assert.Equal(t, RiskNormal, st.RiskLevel)
	assert.False(t, math.IsNaN(st.CohenD))
}

func TestMetricStatsPartialWhenColumnEmpty(t *testing.T) {
	e := newEngine(t)
	nan := math.NaN()
	out := e.MetricStats(
		table([]float64{1, 2}, []float64{3, 4}, []float64{5, 6}),
		table([]float64{1, 2}, []float64{3, nan}, []float64{nan, nan}))
	assert.Equal(t, StatsDegraded, out.Status)
	assert.Contains(t, out.Stats, equipment.Flowrate)
	assert.Contains(t, out.Stats, equipment.Pressure)
	assert.NotContains(t, out.Stats, equipment.Temperature)
	require.Len(t, out.Issues, 1)
	assert.Contains(t, out.Issues[0], "temperature")

	// one value per side: std falls back to 0 instead of NaN
	p := out.Stats[equipment.Pressure]
	assert.Equal(t, 0.0, p.StdDevB)
	assert.Equal(t, Stable, p.Stability)
}

func TestCompareDegradesWhenTableUnreadable(t *testing.T) {
	e := newEngine(t)
	a := fakeDataset{id: 1, name: "a.csv", rows: table([]float64{1, 2}, []float64{1, 2}, []float64{1, 2})}
	b := fakeDataset{id: 2, name: "b.csv", rows: table([]float64{3, 4, 5}, []float64{1, 2, 3}, []float64{1, 2, 3}), err: errors.New("file gone")}

	res := e.Compare(context.Background(), a, b)
	assert.Equal(t, StatsDegraded, res.StatsStatus)
	assert.NotNil(t, res.ComparisonStats)
	assert.Empty(t, res.ComparisonStats)
	require.Len(t, res.Issues, 1)
	assert.Contains(t, res.Issues[0], "file gone")
	assert.Equal(t, 1, res.Delta.TotalEquipment)
	assert.Equal(t, 2.5, res.Delta.Averages.Flowrate)

	b64, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(b64), `"comparison_stats":{}`)
}

func TestComparisonJSONShape(t *testing.T) {
	e := newEngine(t)
	a := fakeDataset{id: 1, name: "run1.csv", rows: table([]float64{10, 11}, []float64{5, 6}, []float64{100, 101})}
	b := fakeDataset{id: 2, name: "run2.csv", rows: table([]float64{12, 13, 14}, []float64{5, 5}, []float64{90, 95})}
	res := e.Compare(context.Background(), a, b)

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.ElementsMatch(t, []string{"dataset_a", "dataset_b", "delta", "comparison_stats"}, keys(m))

	da := m["dataset_a"].(map[string]any)
	assert.ElementsMatch(t, []string{"id", "filename", "summary"}, keys(da))
	stats := m["comparison_stats"].(map[string]any)
	assert.ElementsMatch(t, []string{"flowrate", "pressure", "temperature"}, keys(stats))
	flow := stats["flowrate"].(map[string]any)
	assert.ElementsMatch(t, []string{"percent_change", "std_dev_a", "std_dev_b", "stability", "effect_size", "risk_level"}, keys(flow))
	delta := m["delta"].(map[string]any)
	assert.Equal(t, 1.0, delta["total_equipment"])
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.StabilityFactor = 0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.EffectSize = EffectBreakpoints{Small: 0.5, Medium: 0.5, Large: 0.8}
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Risk[equipment.Pressure] = RiskRule{Basis: BasisMeanB, Warning: 60, Critical: 50}
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	delete(bad.Risk, equipment.Temperature)
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Risk[equipment.Flowrate] = RiskRule{Basis: "median", Warning: 1, Critical: 2}
	_, err := NewEngine(bad)
	assert.Error(t, err)
}

func TestEngineKeepsOwnConfig(t *testing.T) {
	cfg := DefaultConfig()
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	cfg.Risk[equipment.Pressure] = RiskRule{Basis: BasisMeanB, Warning: 1, Critical: 2}

	base := []float64{10, 10}
	out := e.MetricStats(table(base, base, base), table(base, base, base))
	assert.Equal(t, RiskNormal, out.Stats[equipment.Pressure].RiskLevel)
	assert.Equal(t, 40.0, e.Config().Risk[equipment.Pressure].Warning)
}

func TestCustomThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Risk[equipment.Temperature] = RiskRule{Basis: BasisMeanB, Warning: 80, Critical: 90}
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	base := []float64{10, 10}
	out := e.MetricStats(table(base, base, base), table(base, base, []float64{85, 85}))
	assert.Equal(t, RiskWarning, out.Stats[equipment.Temperature].RiskLevel)
}
