// Package report formats comparison and sweep results for people: aligned
// text tables, and JSON or YAML documents with money rounded to cents.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/atlas-desktop/portfolio-lab/internal/analysis"
	"github.com/atlas-desktop/portfolio-lab/pkg/types"
	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Format selects the output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// StrategySummary is the presentation form of a StrategyOutcome.
type StrategySummary struct {
	Name              string          `json:"name" yaml:"name"`
	Weights           []float64       `json:"weights" yaml:"weights"`
	ExpectedReturn    float64         `json:"expectedReturn" yaml:"expected_return"`
	Volatility        float64         `json:"volatility" yaml:"volatility"`
	SharpeRatio       float64         `json:"sharpeRatio" yaml:"sharpe_ratio"`
	ProbabilityOfLoss float64         `json:"probabilityOfLoss" yaml:"probability_of_loss"`
	MeanFinalValue    decimal.Decimal `json:"meanFinalValue" yaml:"mean_final_value"`
	MedianFinalValue  decimal.Decimal `json:"medianFinalValue" yaml:"median_final_value"`
	ValueAtRisk95     float64         `json:"valueAtRisk95" yaml:"value_at_risk_95"`
	CVaR95            float64         `json:"conditionalValueAtRisk95" yaml:"conditional_value_at_risk_95"`
	ValueAtRiskAmount decimal.Decimal `json:"valueAtRiskAmount" yaml:"value_at_risk_amount"`
	MeanMaxDrawdown   float64         `json:"meanMaxDrawdown" yaml:"mean_max_drawdown"`
}

// ComparisonSummary is the presentation form of an analysis.Comparison.
type ComparisonSummary struct {
	Seed         uint64             `json:"seed" yaml:"seed"`
	StartValue   decimal.Decimal    `json:"startValue" yaml:"start_value"`
	Trajectories int                `json:"trajectories" yaml:"trajectories"`
	Strategies   []StrategySummary  `json:"strategies" yaml:"strategies"`
	Sweep        []types.SweepPoint `json:"sweep,omitempty" yaml:"sweep,omitempty"`
}

// Money rounds a currency amount to cents.
func Money(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}

// Percent renders a fraction as a percentage with two decimals.
func Percent(r float64) string {
	return decimal.NewFromFloat(r*100).StringFixed(2) + "%"
}

// Summarize converts one outcome. startValue converts VaR into a currency amount.
func Summarize(o types.StrategyOutcome, startValue float64) StrategySummary {
	s := StrategySummary{
		Name:           o.Name,
		Weights:        o.Weights,
		ExpectedReturn: o.Stats.ExpectedReturn,
		Volatility:     o.Stats.Volatility,
		SharpeRatio:    o.Stats.SharpeRatio,
	}
	if o.Risk != nil {
		s.ProbabilityOfLoss = o.Risk.ProbabilityOfLoss
		s.MeanFinalValue = Money(o.Risk.MeanFinalValue)
		s.ValueAtRisk95 = o.Risk.ValueAtRisk95
		s.CVaR95 = o.Risk.ConditionalValueAtRisk95
		s.ValueAtRiskAmount = Money(-o.Risk.ValueAtRisk95 * startValue)
		s.MeanMaxDrawdown = o.Risk.MeanMaxDrawdown
		if o.Risk.Distribution != nil {
			s.MedianFinalValue = Money(o.Risk.Distribution.Median)
		}
	}
	return s
}

// SummarizeComparison converts a comparison and an optional sweep.
func SummarizeComparison(cmp *analysis.Comparison, sweep []types.SweepPoint) ComparisonSummary {
	out := ComparisonSummary{
		Seed:       cmp.Seed,
		Strategies: make([]StrategySummary, 0, len(cmp.Outcomes)),
		Sweep:      sweep,
	}
	for _, o := range cmp.Outcomes {
		start := 0.0
		if o.Result != nil {
			start = o.Result.StartValue
			out.Trajectories = len(o.Result.TerminalValues)
		}
		out.StartValue = Money(start)
		out.Strategies = append(out.Strategies, Summarize(o, start))
	}
	return out
}

// Write renders summary in the requested format.
func Write(w io.Writer, format Format, summary ComparisonSummary) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(summary); err != nil {
			return err
		}
		return enc.Close()
	case FormatText, "":
		if err := WriteComparison(w, summary); err != nil {
			return err
		}
		if len(summary.Sweep) > 0 {
			fmt.Fprintln(w)
			return WriteSweep(w, summary.Sweep)
		}
		return nil
	}
	return fmt.Errorf("unknown report format %q", format)
}

// WriteComparison prints one row per strategy.
func WriteComparison(w io.Writer, summary ComparisonSummary) error {
	fmt.Fprintf(w, "Monte Carlo comparison: %s trajectories, start value %s, seed %d\n\n",
		humanize.Comma(int64(summary.Trajectories)), summary.StartValue.StringFixed(2), summary.Seed)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "strategy\tweights\tsharpe\tP(loss)\tmean final\tmedian final\tVaR95\tCVaR95\tVaR95 amount\tmean max DD\t")
	for _, s := range summary.Strategies {
		fmt.Fprintf(tw, "%s\t%s\t%.4f\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			s.Name,
			formatWeights(s.Weights),
			s.SharpeRatio,
			Percent(s.ProbabilityOfLoss),
			s.MeanFinalValue.StringFixed(2),
			s.MedianFinalValue.StringFixed(2),
			Percent(s.ValueAtRisk95),
			Percent(s.CVaR95),
			s.ValueAtRiskAmount.StringFixed(2),
			Percent(s.MeanMaxDrawdown),
		)
	}
	return tw.Flush()
}

// WriteSweep prints VaR95 and CVaR95 per correlation level.
func WriteSweep(w io.Writer, points []types.SweepPoint) error {
	fmt.Fprintln(w, "Correlation sensitivity")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "rho\tVaR95\tCVaR95\tP(loss)\t")
	for _, p := range points {
		fmt.Fprintf(tw, "%+.2f\t%s\t%s\t%s\t\n",
			p.Rho, Percent(p.ValueAtRisk95), Percent(p.ConditionalValueAtRisk95), Percent(p.ProbabilityOfLoss))
	}
	return tw.Flush()
}

func formatWeights(w []float64) string {
	parts := make([]string, len(w))
	for i, v := range w {
		parts[i] = decimal.NewFromFloat(v).StringFixed(3)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
