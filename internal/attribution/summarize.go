package attribution

import (
	"fmt"
	"math"
	"sort"
)

// DefaultFallbackInterpretation is used for factors missing from the interpretation table
const DefaultFallbackInterpretation = "No standard economic interpretation is configured for this factor."

// Direction labels
const (
	DirectionPositive = "positive"
	DirectionNegative = "negative"
)

// SummarizerConfig injects the interpretation table and the ranking depth
type SummarizerConfig struct {
	TopK            int               `yaml:"top_k"`
	Interpretations map[string]string `yaml:"interpretations"`
	Fallback        string            `yaml:"fallback_interpretation"`
}

// FactorAttribution is one ranked factor
type FactorAttribution struct {
	Factor              string  `json:"factor"`
	MeanContribution    float64 `json:"mean_contribution"`
	MeanAbsContribution float64 `json:"mean_abs_contribution"`
	Direction           string  `json:"direction"`
	Interpretation      string  `json:"interpretation"`
}

// Summary is the read-only attribution view produced each run
type Summary struct {
	Ranked         []FactorAttribution `json:"ranked"`
	TotalExplained float64             `json:"total_explained"`
	Comparison     *Comparison         `json:"comparison,omitempty"`
	Lines          []string            `json:"lines"`
}

// Summarizer ranks factors by mean absolute contribution and renders the narrative
type Summarizer struct {
	config SummarizerConfig
}

// NewSummarizer creates a summarizer. TopK defaults to 3.
func NewSummarizer(config SummarizerConfig) *Summarizer {
	if config.TopK <= 0 {
		config.TopK = 3
	}
	if config.Fallback == "" {
		config.Fallback = DefaultFallbackInterpretation
	}
	return &Summarizer{config: config}
}

// Interpretation looks a factor up in the injected table
func (s *Summarizer) Interpretation(factor string) string {
	if text, ok := s.config.Interpretations[factor]; ok && text != "" {
		return text
	}
	return s.config.Fallback
}

// Summarize ranks every factor column of the table and renders the report
// lines. comparison may be nil when the comparator did not run.
func (s *Summarizer) Summarize(table *ContributionTable, comparison *Comparison) Summary {
	var all []FactorAttribution
	for j, name := range table.Columns {
		if name == ConstColumn || name == PredictedColumn {
			continue
		}
		var sum, sumAbs float64
		for _, row := range table.Rows {
			sum += row.Values[j]
			sumAbs += math.Abs(row.Values[j])
		}
		fa := FactorAttribution{Factor: name, Interpretation: s.Interpretation(name)}
		if n := float64(len(table.Rows)); n > 0 {
			fa.MeanContribution = sum / n
			fa.MeanAbsContribution = sumAbs / n
		}
		fa.Direction = DirectionNegative
		if fa.MeanContribution > 0 {
			fa.Direction = DirectionPositive
		}
		all = append(all, fa)
	}

	// Stable: exact ties keep design-matrix column order
	sort.SliceStable(all, func(a, b int) bool {
		return all[a].MeanAbsContribution > all[b].MeanAbsContribution
	})
	if len(all) > s.config.TopK {
		all = all[:s.config.TopK]
	}

	summary := Summary{Ranked: all, Comparison: comparison}
	if len(table.Rows) > 0 {
		var total float64
		for _, row := range table.Rows {
			total += row.Predicted
		}
		summary.TotalExplained = total / float64(len(table.Rows))
	}
	summary.Lines = s.render(summary)

	return summary
}

func (s *Summarizer) render(summary Summary) []string {
	lines := []string{"### Multi-Factor Attribution Summary", ""}
	for _, fa := range summary.Ranked {
		lines = append(lines, fmt.Sprintf(
			"**%s** had a %s impact on index returns, with an average contribution of %.5f per day. %s",
			fa.Factor, fa.Direction, fa.MeanContribution, fa.Interpretation))
	}
	lines = append(lines, "", fmt.Sprintf(
		"Overall, the model explains an average of %.5f of daily index returns.", summary.TotalExplained))

	if c := summary.Comparison; c != nil {
		lines = append(lines, "", fmt.Sprintf(
			"Out-of-sample comparison (%d training rows, %d test rows):", c.TrainRows, c.TestRows))
		lines = append(lines, scoreLine("Ridge", c.Ridge), scoreLine("Lasso", c.Lasso))
	}

	return lines
}

func scoreLine(label string, score Score) string {
	if !score.Available {
		reason := score.Warning
		if score.Err != nil {
			reason = score.Err.Reason
		}
		return fmt.Sprintf("%s out-of-sample R²: unavailable (%s)", label, reason)
	}
	return fmt.Sprintf("%s out-of-sample R²: %.4f", label, score.R2)
}
