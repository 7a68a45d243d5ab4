// Package types provides configuration types for portfolio-lab.
package types

import (
	"time"
)

// Config is the top-level configuration loaded from file and environment.
type Config struct {
	Scenario  ScenarioConfig   `json:"scenario" mapstructure:"scenario"`
	Simulator SimulationConfig `json:"simulator" mapstructure:"simulator"`
	Optimizer OptimizerConfig  `json:"optimizer" mapstructure:"optimizer"`
	Server    ServerConfig     `json:"server" mapstructure:"server"`
	Sweep     SweepConfig      `json:"sweep" mapstructure:"sweep"`
	Charts    ChartConfig      `json:"charts" mapstructure:"charts"`
	LogLevel  string           `json:"logLevel" mapstructure:"log_level"`
}

// ScenarioConfig describes the market model and the strategies to evaluate.
type ScenarioConfig struct {
	Assets       []Asset     `json:"assets" mapstructure:"assets"`
	Correlation  [][]float64 `json:"correlation" mapstructure:"correlation"`
	RiskFreeRate float64     `json:"riskFreeRate" mapstructure:"risk_free_rate"`
	LongOnly     bool        `json:"longOnly" mapstructure:"long_only"`
	Strategies   []Strategy  `json:"strategies" mapstructure:"strategies"`
}

// SimulationConfig configures the Monte Carlo pipeline
type SimulationConfig struct {
	NumTrajectories int            `json:"numTrajectories" mapstructure:"num_trajectories"`
	NumSteps        int            `json:"numSteps" mapstructure:"num_steps"`
	StartValue      float64        `json:"startValue" mapstructure:"start_value"`
	Seed            *uint64        `json:"seed,omitempty" mapstructure:"seed"` // nil draws a fresh seed per run
	CollapsePolicy  CollapsePolicy `json:"collapsePolicy" mapstructure:"collapse_policy"`
	Workers         int            `json:"workers" mapstructure:"workers"`
	BatchSize       int            `json:"batchSize" mapstructure:"batch_size"`
	KeepPaths       int            `json:"keepPaths" mapstructure:"keep_paths"` // number of full paths retained in results
}

// OptimizerConfig configures the Sharpe optimizer
type OptimizerConfig struct {
	MaxIterations   int           `json:"maxIterations" mapstructure:"max_iterations"`
	PenaltySchedule []float64     `json:"penaltySchedule" mapstructure:"penalty_schedule"`
	Tolerance       float64       `json:"tolerance" mapstructure:"tolerance"`
	BoundTolerance  float64       `json:"boundTolerance" mapstructure:"bound_tolerance"`
	Timeout         time.Duration `json:"timeout" mapstructure:"timeout"`
}

// SweepConfig lists the correlation levels of the sensitivity sweep.
type SweepConfig struct {
	Rhos    []float64 `json:"rhos" mapstructure:"rhos"`
	Weights []float64 `json:"weights" mapstructure:"weights"`
}

// ChartConfig controls PNG rendering.
type ChartConfig struct {
	Dir         string `json:"dir" mapstructure:"dir"`
	SamplePaths int    `json:"samplePaths" mapstructure:"sample_paths"`
	Bins        int    `json:"bins" mapstructure:"bins"`
	Width       int    `json:"width" mapstructure:"width"`
	Height      int    `json:"height" mapstructure:"height"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host            string        `json:"host" mapstructure:"host"`
	Port            int           `json:"port" mapstructure:"port"`
	WebSocketPath   string        `json:"websocketPath" mapstructure:"websocket_path"`
	ReadTimeout     time.Duration `json:"readTimeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `json:"writeTimeout" mapstructure:"write_timeout"`
	MaxRuns         int           `json:"maxRuns" mapstructure:"max_runs"`
	MaxTrajectories int           `json:"maxTrajectories" mapstructure:"max_trajectories"`
	EnableMetrics   bool          `json:"enableMetrics" mapstructure:"enable_metrics"`
}
