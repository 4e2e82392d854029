package insights

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/KaramelBytes/equiplens-cli/internal/analysis"
	"github.com/KaramelBytes/equiplens-cli/internal/equipment"
)

const (
	maxBullets   = 3
	bulletPrefix = "• "
)

var numbered = regexp.MustCompile(`^\d+[.)]\s+`)

const systemPrompt = "You are a professional chemical process engineer. Answer with exactly three bullet points, each at most 15 words."

// DefaultModel is used when insights_model is not set.
func DefaultModel(provider string) string {
	switch provider {
	case ProviderOllama:
		return "llama3.1"
	default:
		return "openai/gpt-4o-mini"
	}
}

// Generator produces the short insight text stored with a dataset summary.
type Generator struct {
	rt    Runtime
	model string
	log   *slog.Logger
}

// NewGenerator returns a Generator over rt. A nil rt always yields the
// fallback text.
func NewGenerator(rt Runtime, model string, log *slog.Logger) *Generator {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Generator{rt: rt, model: model, log: log}
}

// Generate asks the runtime for insights on s.
func (g *Generator) Generate(ctx context.Context, s equipment.Summary) (string, error) {
	if g.rt == nil {
		return "", errors.New("no insights provider configured")
	}
	resp, err := g.rt.Generate(ctx, GenerateRequest{
		Model: g.model,
		Messages: []Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: Prompt(s)},
		},
		MaxTokens:   200,
		Temperature: 0.3,
	})
	if err != nil {
		return "", err
	}
	text := normalize(resp.Text())
	if text == "" {
		return "", errors.New("empty insights response")
	}
	return text, nil
}

// Annotate never fails: provider errors are logged and the fallback is returned.
func (g *Generator) Annotate(ctx context.Context, s equipment.Summary) string {
	if g.rt == nil {
		return Fallback(s)
	}
	text, err := g.Generate(ctx, s)
	if err != nil {
		g.log.Warn("insights unavailable, using fallback", "err", err, "hint", Hint(err))
		return Fallback(s)
	}
	return text
}

// Prompt renders the dataset summary for the model.
func Prompt(s equipment.Summary) string {
	var b strings.Builder
	b.WriteString("Analyze the following chemical equipment dataset summary and provide 3 very concise, actionable bullet points.\n")
	b.WriteString("Focus on operational efficiency and immediate maintenance priorities.\n\n")
	b.WriteString("Dataset Summary:\n")
	fmt.Fprintf(&b, "- Total Equipment: %d\n", s.TotalEquipment)
	for _, m := range equipment.Metrics {
		fmt.Fprintf(&b, "- Average %s: %v %s\n", m.Column(), s.Averages.Get(m), m.Unit())
	}
	fmt.Fprintf(&b, "- Equipment Type Distribution: %s\n\n", distribution(s.TypeDistribution))
	b.WriteString("Format your response as a simple list of 3 bullet points, each max 15 words.\n")
	b.WriteString("Example:\n")
	b.WriteString("• High pressure in Compressors suggests seal inspection.\n")
	b.WriteString("• Temperature variance of 15% requires sensor calibration.\n")
	return b.String()
}

// Fallback builds deterministic insights from the summary alone.
func Fallback(s equipment.Summary) string {
	op := analysis.Operational(s)
	lines := []string{
		fmt.Sprintf("Plant operating with %d units across %d equipment types.", s.TotalEquipment, len(s.TypeDistribution)),
		fmt.Sprintf("Stability score %s at mean %v bar and %v °C.", op.StabilityScore, s.Averages.Pressure, s.Averages.Temperature),
	}
	if op.CriticalTotal > 0 {
		lines = append(lines, fmt.Sprintf("%d high-risk assets exceed 150%% of mean pressure or temperature; inspect first.", op.CriticalTotal))
	} else {
		lines = append(lines, "Focus on balancing Pressure/Temperature ratios for long-term stability.")
	}
	return bulletPrefix + strings.Join(lines, "\n"+bulletPrefix)
}

// normalize keeps the first three non-empty lines as "• " bullets.
func normalize(text string) string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "•*-"))
		line = numbered.ReplaceAllString(line, "")
		if line == "" {
			continue
		}
		out = append(out, bulletPrefix+line)
		if len(out) == maxBullets {
			break
		}
	}
	return strings.Join(out, "\n")
}

func distribution(dist map[string]int) string {
	names := make([]string, 0, len(dist))
	for k := range dist {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = fmt.Sprintf("%s: %d", k, dist[k])
	}
	return strings.Join(parts, ", ")
}
