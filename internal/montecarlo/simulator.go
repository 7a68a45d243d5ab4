// Package montecarlo simulates correlated multi-asset return paths and the
// portfolio value paths they induce.
// Pipeline: covariance → Cholesky factor → correlated returns → compounded paths → risk report.
package montecarlo

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/atlas-desktop/portfolio-lab/internal/market"
	"github.com/atlas-desktop/portfolio-lab/internal/metrics"
	"github.com/atlas-desktop/portfolio-lab/internal/risk"
	"github.com/atlas-desktop/portfolio-lab/internal/workers"
	"github.com/atlas-desktop/portfolio-lab/pkg/types"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// Simulator runs the Monte Carlo pipeline
type Simulator struct {
	logger   *zap.Logger
	config   *types.SimulationConfig
	pool     *workers.Pool
	recorder *metrics.Recorder
}

// DefaultSimulatorConfig returns the one-year daily setup
func DefaultSimulatorConfig() *types.SimulationConfig {
	seed := uint64(42)
	return &types.SimulationConfig{
		NumTrajectories: 5000,
		NumSteps:        252,
		StartValue:      100,
		Seed:            &seed,
		CollapsePolicy:  types.CollapseReject,
		Workers:         0,
		BatchSize:       256,
		KeepPaths:       200,
	}
}

// NewSimulator creates a new Monte Carlo simulator. recorder may be nil.
func NewSimulator(logger *zap.Logger, config *types.SimulationConfig, recorder *metrics.Recorder) *Simulator {
	if config == nil {
		config = DefaultSimulatorConfig()
	}

	poolConfig := workers.DefaultPoolConfig("montecarlo")
	if config.Workers > 0 {
		poolConfig.NumWorkers = config.Workers
	}
	if config.BatchSize > 0 {
		poolConfig.BatchSize = config.BatchSize
	}

	return &Simulator{
		logger:   logger,
		config:   config,
		pool:     workers.NewPool(logger, poolConfig),
		recorder: recorder,
	}
}

// Config returns the simulator configuration.
func (s *Simulator) Config() types.SimulationConfig { return *s.config }

// Run holds the outcome of one weight vector.
type Run struct {
	Weights []float64
	Result  *types.SimulationResult
	Risk    *types.RiskReport
}

// Validate checks the simulation settings.
func Validate(cfg *types.SimulationConfig) error {
	if cfg.NumTrajectories <= 0 {
		return fmt.Errorf("%w: num_trajectories must be positive, got %d", ErrInvalidConfig, cfg.NumTrajectories)
	}
	if cfg.NumSteps <= 0 {
		return fmt.Errorf("%w: num_steps must be positive, got %d", ErrInvalidConfig, cfg.NumSteps)
	}
	if !(cfg.StartValue > 0) || math.IsInf(cfg.StartValue, 0) {
		return fmt.Errorf("%w: start_value must be positive, got %v", ErrInvalidConfig, cfg.StartValue)
	}
	switch cfg.CollapsePolicy {
	case "", types.CollapseReject, types.CollapseAbsorb:
	default:
		return fmt.Errorf("%w: unknown collapse policy %q", ErrInvalidConfig, cfg.CollapsePolicy)
	}
	return nil
}

// Sample factors the model covariance and draws the shared return cube.
func (s *Simulator) Sample(ctx context.Context, model *market.Model) (*ReturnCube, error) {
	if err := Validate(s.config); err != nil {
		return nil, err
	}

	L, err := Factor(model.Covariance())
	if err != nil {
		return nil, err
	}

	sampler, err := NewSampler(model.Means(), L)
	if err != nil {
		return nil, err
	}

	return sampler.Sample(ctx, s.pool, s.config.NumTrajectories, s.config.NumSteps, s.seed())
}

// Run simulates a single weight vector.
func (s *Simulator) Run(ctx context.Context, model *market.Model, weights []float64) (*Run, error) {
	runs, err := s.RunMany(ctx, model, [][]float64{weights})
	if err != nil {
		return nil, err
	}
	return runs[0], nil
}

// RunMany samples once and evaluates every weight vector on the same draws,
// so differences between runs come from the weights alone.
func (s *Simulator) RunMany(ctx context.Context, model *market.Model, weightSets [][]float64) (runs []*Run, err error) {
	start := time.Now()
	collapsed := 0
	defer func() {
		s.recorder.ObserveSimulation(time.Since(start), s.config.NumTrajectories*len(weightSets), collapsed, err)
	}()

	for i, w := range weightSets {
		if err := market.ValidateWeights(w, model.Dim(), false); err != nil {
			return nil, fmt.Errorf("weight set %d: %w", i, err)
		}
	}

	s.logger.Info("starting Monte Carlo simulation",
		zap.Int("num_trajectories", s.config.NumTrajectories),
		zap.Int("num_steps", s.config.NumSteps),
		zap.Int("num_assets", model.Dim()),
		zap.Int("weight_sets", len(weightSets)),
	)

	cube, err := s.Sample(ctx, model)
	if err != nil {
		s.logger.Warn("sampling failed", zap.Error(err))
		return nil, err
	}

	opts := PathOptions{
		StartValue: s.config.StartValue,
		Policy:     s.config.CollapsePolicy,
		KeepPaths:  s.config.KeepPaths,
	}

	runs = make([]*Run, len(weightSets))
	for i, w := range weightSets {
		result, err := SimulatePaths(ctx, s.pool, cube, w, opts)
		if err != nil {
			s.logger.Warn("path simulation failed", zap.Int("weight_set", i), zap.Error(err))
			return nil, err
		}
		collapsed += result.Collapsed

		report, err := risk.Summarize(result.TerminalValues, result.StartValue)
		if err != nil {
			return nil, err
		}
		report.Distribution = risk.Describe(result.TerminalValues)
		report.MeanMaxDrawdown = stat.Mean(result.MaxDrawdowns, nil)

		runs[i] = &Run{Weights: append([]float64(nil), w...), Result: result, Risk: report}
	}

	s.logger.Info("Monte Carlo simulation complete",
		zap.Uint64("seed", cube.Seed),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("collapsed_paths", collapsed),
	)

	return runs, nil
}

// seed returns the configured seed or a fresh time-based one.
func (s *Simulator) seed() uint64 {
	if s.config.Seed != nil {
		return *s.config.Seed
	}
	return uint64(time.Now().UnixNano())
}

// WithConfig returns a simulator sharing logger and recorder but using cfg.
func (s *Simulator) WithConfig(cfg types.SimulationConfig) *Simulator {
	return NewSimulator(s.logger, &cfg, s.recorder)
}
