package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/atlas-desktop/portfolio-lab/internal/analysis"
	"github.com/atlas-desktop/portfolio-lab/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func sampleComparison() *analysis.Comparison {
	result := &types.SimulationResult{StartValue: 100, TerminalValues: make([]float64, 5000)}
	return &analysis.Comparison{
		Seed: 42,
		Outcomes: []types.StrategyOutcome{
			{
				Name:    analysis.StrategyBalanced,
				Weights: []float64{0.7, 0.3},
				Stats:   types.PortfolioStats{ExpectedReturn: 0.00048, Volatility: 0.00824, SharpeRatio: 0.0582},
				Risk: &types.RiskReport{
					ProbabilityOfLoss:        0.195,
					MeanFinalValue:           112.8349,
					ValueAtRisk95:            -0.09876,
					ConditionalValueAtRisk95: -0.14321,
					MeanMaxDrawdown:          0.0912,
					Distribution:             &types.Distribution{Median: 112.004},
				},
				Result: result,
			},
			{
				Name:    analysis.StrategyMaxSharpe,
				Weights: []float64{0.25, 0.75},
				Stats:   types.PortfolioStats{SharpeRatio: 0.0791},
				Risk: &types.RiskReport{
					MeanFinalValue: 107.5,
					ValueAtRisk95:  -0.02,
				},
				Result: result,
			},
		},
	}
}

func TestMoneyAndPercent(t *testing.T) {
	assert.Equal(t, "112.83", Money(112.8349).String())
	assert.Equal(t, "0.1", Money(0.1).String())
	assert.Equal(t, "-9.88%", Percent(-0.09876))
	assert.Equal(t, "19.50%", Percent(0.195))
}

func TestSummarizeComparison(t *testing.T) {
	summary := SummarizeComparison(sampleComparison(), nil)

	assert.Equal(t, uint64(42), summary.Seed)
	assert.Equal(t, 5000, summary.Trajectories)
	assert.Equal(t, "100.00", summary.StartValue.StringFixed(2))
	require.Len(t, summary.Strategies, 2)

	s := summary.Strategies[0]
	assert.Equal(t, "112.83", s.MeanFinalValue.String())
	assert.Equal(t, "112", s.MedianFinalValue.String())
	assert.Equal(t, "9.88", s.ValueAtRiskAmount.String())
	assert.Equal(t, -0.14321, s.CVaR95)
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	sweep := []types.SweepPoint{{Rho: -0.4, ValueAtRisk95: -0.08, ConditionalValueAtRisk95: -0.12, ProbabilityOfLoss: 0.18}}
	require.NoError(t, Write(&buf, FormatText, SummarizeComparison(sampleComparison(), sweep)))

	out := buf.String()
	assert.Contains(t, out, "5,000 trajectories")
	assert.Contains(t, out, "70/30")
	assert.Contains(t, out, "[0.700 0.300]")
	assert.Contains(t, out, "112.83")
	assert.Contains(t, out, "-9.88%")
	assert.Contains(t, out, "Correlation sensitivity")
	assert.Contains(t, out, "-0.40")
	assert.Equal(t, 1, strings.Count(out, "max_sharpe"))
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, SummarizeComparison(sampleComparison(), nil)))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	strategies := decoded["strategies"].([]interface{})
	first := strategies[0].(map[string]interface{})
	assert.Equal(t, "112.83", first["meanFinalValue"])
	assert.Nil(t, decoded["sweep"])
}

func TestWriteYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatYAML, SummarizeComparison(sampleComparison(), nil)))

	var decoded map[string]interface{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, 42, decoded["seed"])
	assert.Contains(t, buf.String(), "name: max_sharpe")
}

func TestWriteUnknownFormat(t *testing.T) {
	assert.Error(t, Write(&bytes.Buffer{}, "xml", ComparisonSummary{}))
}
