package analysis

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/KaramelBytes/equiplens-cli/internal/equipment"
)

// ReportMeta names the dataset a summary report is about.
type ReportMeta struct {
	ID        int
	Filename  string
	Generated time.Time
}

func (m ReportMeta) label() string {
	if m.Filename != "" {
		return m.Filename
	}
	return fmt.Sprintf("#%d", m.ID)
}

// SummaryMarkdown renders the analytical report for one dataset.
func SummaryMarkdown(meta ReportMeta, s equipment.Summary) string {
	op := Operational(s)
	var b strings.Builder
	b.WriteString("# Chemical Process Analytical Report\n\n")
	b.WriteString(fmt.Sprintf("**Dataset:** %s  \n", safeVal(meta.label())))
	if !meta.Generated.IsZero() {
		b.WriteString(fmt.Sprintf("**Generated:** %s\n", meta.Generated.Format("2006-01-02 15:04")))
	}
	b.WriteString("\n")

	if ins := strings.TrimSpace(s.AIInsights); ins != "" {
		b.WriteString("## Automated System Insights\n\n")
		for _, line := range strings.Split(ins, "\n") {
			line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "•*-"))
			if line != "" {
				b.WriteString("- ")
				b.WriteString(line)
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("## Operational Summary\n\n")
	b.WriteString("| Metric | Value / Global Average |\n|---|---|\n")
	b.WriteString(fmt.Sprintf("| Total Equipment Count | %d |\n", s.TotalEquipment))
	b.WriteString(fmt.Sprintf("| System Stability Score | %s |\n", op.StabilityScore))
	b.WriteString(fmt.Sprintf("| P-T Correlation Strength | %s |\n", corrText(op.Correlation)))
	for _, m := range equipment.Metrics {
		b.WriteString(fmt.Sprintf("| System Mean %s | %s %s |\n", m.Column(), num(s.Averages.Get(m)), m.Unit()))
	}

	if len(op.CriticalAssets) > 0 {
		b.WriteString("\n## High-Risk Assets Detected\n\n")
		b.WriteString("| Equipment | Type | Pressure | Temp | Status |\n|---|---|---|---|---|\n")
		for _, a := range op.CriticalAssets {
			b.WriteString(fmt.Sprintf("| %s | %s | %s bar | %s °C | CRITICAL |\n",
				safeVal(a.Name), safeVal(a.Type), num(a.Pressure), num(a.Temperature)))
		}
		if op.CriticalTotal > len(op.CriticalAssets) {
			b.WriteString(fmt.Sprintf("\n_%d more not shown._\n", op.CriticalTotal-len(op.CriticalAssets)))
		}
	}

	if len(s.TypeDistribution) > 0 {
		b.WriteString("\n## Equipment Distribution\n\n")
		b.WriteString("| Type | Count | Share |\n|---|---|---|\n")
		for _, tc := range sortedTypes(s.TypeDistribution) {
			share := 0.0
			if s.TotalEquipment > 0 {
				share = float64(tc.count) * 100 / float64(s.TotalEquipment)
			}
			b.WriteString(fmt.Sprintf("| %s | %d | %.1f%% |\n", safeVal(tc.name), tc.count, share))
		}
	}
	return b.String()
}

// Markdown renders the comparison as a human-readable document.
func (r *ComparisonResult) Markdown() string {
	var b strings.Builder
	b.WriteString("# Dataset Comparison\n\n")
	b.WriteString(fmt.Sprintf("- **A (baseline):** #%d %s (%d items)\n", r.DatasetA.ID, safeVal(r.DatasetA.Filename), r.DatasetA.Summary.TotalEquipment))
	b.WriteString(fmt.Sprintf("- **B (comparison):** #%d %s (%d items)\n\n", r.DatasetB.ID, safeVal(r.DatasetB.Filename), r.DatasetB.Summary.TotalEquipment))

	b.WriteString("## Delta (B - A)\n\n")
	b.WriteString("| Metric | A | B | Delta |\n|---|---|---|---|\n")
	b.WriteString(fmt.Sprintf("| Total Equipment | %d | %d | %s |\n",
		r.DatasetA.Summary.TotalEquipment, r.DatasetB.Summary.TotalEquipment, signedInt(r.Delta.TotalEquipment)))
	for _, m := range equipment.Metrics {
		b.WriteString(fmt.Sprintf("| Avg %s (%s) | %s | %s | %s |\n", m.Column(), m.Unit(),
			num(r.DatasetA.Summary.Averages.Get(m)), num(r.DatasetB.Summary.Averages.Get(m)), signed(r.Delta.Averages.Get(m))))
	}

	b.WriteString("\n## Statistical Comparison\n\n")
	if len(r.ComparisonStats) == 0 {
		b.WriteString("_No per-metric statistics available._\n")
	} else {
		b.WriteString("| Metric | Change | Std Dev A | Std Dev B | Stability | Effect Size | Risk |\n|---|---|---|---|---|---|---|\n")
		for _, m := range equipment.Metrics {
			st, ok := r.ComparisonStats[m]
			if !ok {
				continue
			}
			b.WriteString(fmt.Sprintf("| %s | %s%% | %s | %s | %s | %s | %s |\n", m.Column(),
				signed(st.PercentChange), num(st.StdDevA), num(st.StdDevB), st.Stability, st.EffectSize, strings.ToUpper(string(st.RiskLevel))))
		}
	}
	if r.StatsStatus == StatsDegraded && len(r.Issues) > 0 {
		b.WriteString("\n[NOTES]\n")
		for _, is := range r.Issues {
			b.WriteString("- ")
			b.WriteString(is)
			b.WriteString("\n")
		}
	}
	return b.String()
}

type typeCount struct {
	name  string
	count int
}

func sortedTypes(dist map[string]int) []typeCount {
	out := make([]typeCount, 0, len(dist))
	for k, v := range dist {
		out = append(out, typeCount{k, v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count == out[j].count {
			return out[i].name < out[j].name
		}
		return out[i].count > out[j].count
	})
	return out
}

func corrText(c Correlation) string {
	if c.Label == CorrNA {
		return CorrNA
	}
	return fmt.Sprintf("%s (r=%.3f)", c.Label, c.R)
}

func num(x float64) string {
	s := strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", x), "0"), ".")
	if s == "-0" {
		return "0"
	}
	return s
}

func signed(x float64) string {
	if x > 0 {
		return "+" + num(x)
	}
	return num(x)
}

func signedInt(n int) string {
	if n > 0 {
		return fmt.Sprintf("+%d", n)
	}
	return fmt.Sprintf("%d", n)
}

func safeVal(s string) string { return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "|", "/") }
