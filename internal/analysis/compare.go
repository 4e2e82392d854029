package analysis

import (
	"context"
	"fmt"

	"github.com/KaramelBytes/equiplens-cli/internal/equipment"
)

// Dataset is a resolved, stored dataset the engine can read from.
type Dataset interface {
	DatasetID() int
	OriginalFilename() string
	DatasetSummary() equipment.Summary
	// LoadTable reads the raw rows the dataset was built from.
	LoadTable(ctx context.Context) ([]equipment.Row, error)
}

// StatsStatus tells whether every tracked metric got statistics.
type StatsStatus string

const (
	StatsOK       StatsStatus = "ok"
	StatsDegraded StatsStatus = "degraded"
)

// StatsOutcome is the result of the metric statistics calculator.
// A degraded outcome carries whatever metrics could be computed, possibly none.
type StatsOutcome struct {
	Status StatsStatus
	Stats  map[equipment.Metric]MetricStats
	Issues []string
}

// DeltaBlock holds the summary-level differences B - A.
type DeltaBlock struct {
	TotalEquipment int                `json:"total_equipment"`
	Averages       equipment.Averages `json:"averages"`
}

// DatasetRef identifies one side of a comparison.
type DatasetRef struct {
	ID       int               `json:"id"`
	Filename string            `json:"filename"`
	Summary  equipment.Summary `json:"summary"`
}

// ComparisonResult is the full, request-scoped comparison of two datasets.
type ComparisonResult struct {
	DatasetA        DatasetRef                       `json:"dataset_a"`
	DatasetB        DatasetRef                       `json:"dataset_b"`
	Delta           DeltaBlock                       `json:"delta"`
	ComparisonStats map[equipment.Metric]MetricStats `json:"comparison_stats"`

	StatsStatus StatsStatus `json:"-"`
	Issues      []string    `json:"-"`
}

// Engine compares datasets under a fixed Config. It holds no other state
// and is safe for concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine validates cfg and returns an engine that keeps its own copy.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid comparison config: %w", err)
	}
	return &Engine{cfg: cfg.clone()}, nil
}

// Config returns a copy of the engine thresholds.
func (e *Engine) Config() Config { return e.cfg.clone() }

// Delta computes count and average differences from the cached summaries.
func Delta(a, b equipment.Summary) DeltaBlock {
	d := DeltaBlock{TotalEquipment: b.TotalEquipment - a.TotalEquipment}
	for _, m := range equipment.Metrics {
		d.Averages.Set(m, equipment.Round2(b.Averages.Get(m)-a.Averages.Get(m)))
	}
	return d
}

// MetricStats computes per-metric statistics from two raw tables. A metric
// with no values on either side is left out and the outcome is degraded.
func (e *Engine) MetricStats(rowsA, rowsB []equipment.Row) StatsOutcome {
	out := StatsOutcome{Status: StatsOK, Stats: make(map[equipment.Metric]MetricStats, len(equipment.Metrics))}
	for _, m := range equipment.Metrics {
		a := column(rowsA, m)
		b := column(rowsB, m)
		if len(a) == 0 || len(b) == 0 {
			out.Status = StatsDegraded
			out.Issues = append(out.Issues, fmt.Sprintf("%s: no values (a=%d, b=%d)", m, len(a), len(b)))
			continue
		}
		out.Stats[m] = e.cfg.compareMetric(m, a, b)
	}
	return out
}

// LoadStats reads both raw tables and computes MetricStats. A table that
// cannot be read yields a degraded outcome with no metrics, never an error.
func (e *Engine) LoadStats(ctx context.Context, a, b Dataset) StatsOutcome {
	rowsA, err := a.LoadTable(ctx)
	if err != nil {
		return degraded(fmt.Sprintf("dataset %d: %v", a.DatasetID(), err))
	}
	rowsB, err := b.LoadTable(ctx)
	if err != nil {
		return degraded(fmt.Sprintf("dataset %d: %v", b.DatasetID(), err))
	}
	return e.MetricStats(rowsA, rowsB)
}

func degraded(issue string) StatsOutcome {
	return StatsOutcome{
		Status: StatsDegraded,
		Stats:  map[equipment.Metric]MetricStats{},
		Issues: []string{issue},
	}
}

// Compare assembles the comparison of b against baseline a. Comparing a
// dataset with itself is allowed.
func (e *Engine) Compare(ctx context.Context, a, b Dataset) *ComparisonResult {
	sa, sb := a.DatasetSummary(), b.DatasetSummary()
	outcome := e.LoadStats(ctx, a, b)
	return &ComparisonResult{
		DatasetA:        DatasetRef{ID: a.DatasetID(), Filename: a.OriginalFilename(), Summary: sa},
		DatasetB:        DatasetRef{ID: b.DatasetID(), Filename: b.OriginalFilename(), Summary: sb},
		Delta:           Delta(sa, sb),
		ComparisonStats: outcome.Stats,
		StatsStatus:     outcome.Status,
		Issues:          outcome.Issues,
	}
}
