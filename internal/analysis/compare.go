// Package analysis evaluates candidate strategies side by side and measures
// how tail risk responds to the correlation assumption.
package analysis

import (
	"context"
	"fmt"

	"github.com/atlas-desktop/portfolio-lab/internal/market"
	"github.com/atlas-desktop/portfolio-lab/internal/montecarlo"
	"github.com/atlas-desktop/portfolio-lab/internal/optimization"
	"github.com/atlas-desktop/portfolio-lab/pkg/types"
)

// Strategy names used by the default comparison.
const (
	StrategyBalanced  = "70/30"
	StrategyEqual     = "equal"
	StrategyMaxSharpe = "max_sharpe"
)

// Comparison is the result of evaluating several strategies on one draw.
type Comparison struct {
	Seed     uint64                    `json:"seed"`
	Optimal  *types.OptimizationResult `json:"optimal"`
	Outcomes []types.StrategyOutcome   `json:"outcomes"`
}

// Outcome returns the named outcome, or nil.
func (c *Comparison) Outcome(name string) *types.StrategyOutcome {
	for i := range c.Outcomes {
		if c.Outcomes[i].Name == name {
			return &c.Outcomes[i]
		}
	}
	return nil
}

// DefaultStrategies returns the equal-weight strategy and, for two assets,
// the 70/30 split.
func DefaultStrategies(n int) []types.Strategy {
	var strategies []types.Strategy
	if n == 2 {
		strategies = append(strategies, types.Strategy{Name: StrategyBalanced, Weights: []float64{0.7, 0.3}})
	}
	return append(strategies, types.Strategy{Name: StrategyEqual, Weights: market.EqualWeights(n)})
}

// Compare optimizes the Sharpe ratio, then simulates the given strategies and
// the optimized weights on the same return draws. An empty strategy list uses
// DefaultStrategies.
func Compare(ctx context.Context, sim *montecarlo.Simulator, opt *optimization.Optimizer, model *market.Model, riskFreeRate float64, longOnly bool, strategies []types.Strategy) (*Comparison, error) {
	if len(strategies) == 0 {
		strategies = DefaultStrategies(model.Dim())
	}

	optimal, err := opt.MaximizeSharpe(ctx, model.Means(), model.Covariance(), riskFreeRate, longOnly)
	if err != nil {
		return nil, err
	}

	all := make([]types.Strategy, 0, len(strategies)+1)
	all = append(all, strategies...)
	all = append(all, types.Strategy{Name: StrategyMaxSharpe, Weights: optimal.Weights})

	weightSets := make([][]float64, len(all))
	for i, s := range all {
		if s.Name == "" {
			return nil, fmt.Errorf("strategy %d has no name", i)
		}
		weightSets[i] = s.Weights
	}

	runs, err := sim.RunMany(ctx, model, weightSets)
	if err != nil {
		return nil, err
	}

	comparison := &Comparison{
		Optimal:  optimal,
		Outcomes: make([]types.StrategyOutcome, len(all)),
	}
	for i, s := range all {
		stats, err := optimization.PortfolioStats(model.Means(), model.Covariance(), s.Weights, riskFreeRate)
		if err != nil {
			return nil, fmt.Errorf("strategy %q: %w", s.Name, err)
		}
		comparison.Outcomes[i] = types.StrategyOutcome{
			Name:    s.Name,
			Weights: runs[i].Weights,
			Stats:   stats,
			Risk:    runs[i].Risk,
			Result:  runs[i].Result,
		}
		comparison.Seed = runs[i].Result.Seed
	}

	return comparison, nil
}
