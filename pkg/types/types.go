// Package types provides shared type definitions for portfolio-lab.
package types

import (
	"time"
)

// Asset describes one instrument under the parametric return model.
// ExpectedReturn and Volatility are per-step (e.g. daily) simple-return moments.
type Asset struct {
	Name           string  `json:"name" mapstructure:"name"`
	ExpectedReturn float64 `json:"expectedReturn" mapstructure:"expected_return"`
	Volatility     float64 `json:"volatility" mapstructure:"volatility"`
}

// CollapsePolicy decides what happens when compounding drives a path to zero or below.
type CollapsePolicy string

const (
	// CollapseReject fails the whole run with a degenerate path error.
	CollapseReject CollapsePolicy = "reject"
	// CollapseAbsorb clamps the path to zero and holds it there (total loss).
	CollapseAbsorb CollapsePolicy = "absorb"
)

// SimulationResult holds the simulated value paths of one weight vector.
type SimulationResult struct {
	StartValue     float64     `json:"startValue"`
	Seed           uint64      `json:"seed"`
	NumSteps       int         `json:"numSteps"`
	TerminalValues []float64   `json:"terminalValues"`
	Paths          [][]float64 `json:"paths,omitempty"` // value after each step; may be a prefix of the ensemble
	MaxDrawdowns   []float64   `json:"maxDrawdowns,omitempty"`
	Collapsed      int         `json:"collapsed"` // paths absorbed at zero
}

// RiskReport summarizes the terminal-value distribution of a simulation.
// VaR and CVaR are expressed as horizon simple returns (negative means loss).
type RiskReport struct {
	ProbabilityOfLoss        float64 `json:"probabilityOfLoss"`
	MeanFinalValue           float64 `json:"meanFinalValue"`
	ValueAtRisk95            float64 `json:"valueAtRisk95"`
	ConditionalValueAtRisk95 float64 `json:"conditionalValueAtRisk95"`
	TailCount                int     `json:"tailCount"`
	NumTrajectories          int     `json:"numTrajectories"`
	MeanMaxDrawdown          float64 `json:"meanMaxDrawdown"`

	Distribution *Distribution `json:"distribution,omitempty"`
}

// Distribution represents descriptive statistics of a sample
type Distribution struct {
	Mean        float64            `json:"mean"`
	Median      float64            `json:"median"`
	StdDev      float64            `json:"stdDev"`
	Min         float64            `json:"min"`
	Max         float64            `json:"max"`
	Percentiles map[string]float64 `json:"percentiles"` // keyed "p5", "p50", ...
}

// PortfolioStats are the model-implied moments of a weight vector.
type PortfolioStats struct {
	ExpectedReturn float64 `json:"expectedReturn"`
	Volatility     float64 `json:"volatility"`
	SharpeRatio    float64 `json:"sharpeRatio"`
}

// OptimizationResult is the outcome of a successful Sharpe maximization.
type OptimizationResult struct {
	Weights        []float64     `json:"weights"`
	ExpectedReturn float64       `json:"expectedReturn"`
	Volatility     float64       `json:"volatility"`
	SharpeRatio    float64       `json:"sharpeRatio"`
	LongOnly       bool          `json:"longOnly"`
	Iterations     int           `json:"iterations"`
	Evaluations    int           `json:"evaluations"`
	Status         string        `json:"status"`
	Duration       time.Duration `json:"duration"`
}

// Strategy is a named weight vector to evaluate.
type Strategy struct {
	Name    string    `json:"name" mapstructure:"name"`
	Weights []float64 `json:"weights" mapstructure:"weights"`
}

// StrategyOutcome pairs a strategy with its theoretical stats and simulated risk.
type StrategyOutcome struct {
	Name    string            `json:"name"`
	Weights []float64         `json:"weights"`
	Stats   PortfolioStats    `json:"stats"`
	Risk    *RiskReport       `json:"risk"`
	Result  *SimulationResult `json:"-"`
}

// SweepPoint is the tail risk of a fixed weight vector at one correlation level.
type SweepPoint struct {
	Rho                      float64 `json:"rho"`
	ValueAtRisk95            float64 `json:"valueAtRisk95"`
	ConditionalValueAtRisk95 float64 `json:"conditionalValueAtRisk95"`
	ProbabilityOfLoss        float64 `json:"probabilityOfLoss"`
}
