package montecarlo

import (
	"context"
	"math"
	"testing"

	"github.com/atlas-desktop/portfolio-lab/internal/workers"
	"github.com/atlas-desktop/portfolio-lab/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

var stockBondAssets = []types.Asset{
	{Name: "stock", ExpectedReturn: 0.0006, Volatility: 0.012},
	{Name: "bond", ExpectedReturn: 0.0002, Volatility: 0.004},
}

var stockBondCorr = [][]float64{{1, -0.2}, {-0.2, 1}}

func seeded(seed uint64, trajectories, steps int) *types.SimulationConfig {
	return &types.SimulationConfig{
		NumTrajectories: trajectories,
		NumSteps:        steps,
		StartValue:      100,
		Seed:            &seed,
		CollapsePolicy:  types.CollapseReject,
		KeepPaths:       10,
	}
}

func newSampler(t *testing.T) *Sampler {
	t.Helper()
	model := modelFor(t, stockBondAssets, stockBondCorr)
	L, err := Factor(model.Covariance())
	require.NoError(t, err)
	sampler, err := NewSampler(model.Means(), L)
	require.NoError(t, err)
	return sampler
}

func TestSampleIndependentOfWorkerCount(t *testing.T) {
	sampler := newSampler(t)
	ctx := context.Background()

	serial := workers.NewPool(zap.NewNop(), &workers.PoolConfig{Name: "serial", NumWorkers: 1, BatchSize: 7})
	parallel := workers.NewPool(zap.NewNop(), &workers.PoolConfig{Name: "parallel", NumWorkers: 8, BatchSize: 3})

	a, err := sampler.Sample(ctx, serial, 50, 20, 7)
	require.NoError(t, err)
	b, err := sampler.Sample(ctx, parallel, 50, 20, 7)
	require.NoError(t, err)

	assert.Equal(t, a.data, b.data)

	c, err := sampler.Sample(ctx, serial, 50, 20, 8)
	require.NoError(t, err)
	assert.NotEqual(t, a.data, c.data)
}

func TestSampleMoments(t *testing.T) {
	sampler := newSampler(t)
	pool := workers.NewPool(zap.NewNop(), nil)

	cube, err := sampler.Sample(context.Background(), pool, 4000, 50, 42)
	require.NoError(t, err)

	n := cube.Trajectories * cube.Steps
	stock := make([]float64, 0, n)
	bond := make([]float64, 0, n)
	for tr := 0; tr < cube.Trajectories; tr++ {
		for s := 0; s < cube.Steps; s++ {
			stock = append(stock, cube.At(tr, s, 0))
			bond = append(bond, cube.At(tr, s, 1))
		}
	}

	assert.InDelta(t, 0.0006, stat.Mean(stock, nil), 1e-4)
	assert.InDelta(t, 0.0002, stat.Mean(bond, nil), 5e-5)
	assert.InDelta(t, 0.012, stat.StdDev(stock, nil), 2e-4)
	assert.InDelta(t, 0.004, stat.StdDev(bond, nil), 1e-4)
	assert.InDelta(t, -0.2, stat.Correlation(stock, bond, nil), 0.02)
}

func TestSampleRejectsEmptyShape(t *testing.T) {
	sampler := newSampler(t)
	_, err := sampler.Sample(context.Background(), workers.NewPool(zap.NewNop(), nil), 0, 10, 1)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDeterministicPathsWithoutNoise(t *testing.T) {
	assets := []types.Asset{
		{ExpectedReturn: 0.0006, Volatility: 0},
		{ExpectedReturn: 0.0002, Volatility: 0},
	}
	model := modelFor(t, assets, [][]float64{{1, 0}, {0, 1}})
	sim := NewSimulator(zap.NewNop(), seeded(1, 100, 252), nil)

	run, err := sim.Run(context.Background(), model, []float64{0.7, 0.3})
	require.NoError(t, err)

	daily := 0.7*0.0006 + 0.3*0.0002
	want := 100 * math.Pow(1+daily, 252)
	for i, v := range run.Result.TerminalValues {
		assert.InDelta(t, want, v, 1e-9, "trajectory %d", i)
	}
	for s, v := range run.Result.Paths[0] {
		assert.InDelta(t, 100*math.Pow(1+daily, float64(s+1)), v, 1e-9)
	}

	assert.Zero(t, run.Risk.ProbabilityOfLoss)
	assert.InDelta(t, want/100-1, run.Risk.ValueAtRisk95, 1e-12)
	assert.InDelta(t, want/100-1, run.Risk.ConditionalValueAtRisk95, 1e-12)
}

func TestEndToEndStockBond(t *testing.T) {
	model := modelFor(t, stockBondAssets, stockBondCorr)
	sim := NewSimulator(zap.NewNop(), seeded(42, 5000, 252), nil)

	run, err := sim.Run(context.Background(), model, []float64{0.7, 0.3})
	require.NoError(t, err)

	r := run.Risk
	assert.Equal(t, 5000, r.NumTrajectories)
	assert.Greater(t, r.ProbabilityOfLoss, 0.10)
	assert.Less(t, r.ProbabilityOfLoss, 0.30)
	assert.Less(t, r.ValueAtRisk95, 0.0)
	assert.Less(t, r.ConditionalValueAtRisk95, r.ValueAtRisk95)
	assert.Greater(t, r.MeanFinalValue, 100.0)
	assert.Len(t, run.Result.Paths, 10)
	assert.Len(t, run.Result.Paths[0], 252)
}

func TestRunIsReproducible(t *testing.T) {
	model := modelFor(t, stockBondAssets, stockBondCorr)

	first, err := NewSimulator(zap.NewNop(), seeded(9, 500, 60), nil).Run(context.Background(), model, []float64{0.5, 0.5})
	require.NoError(t, err)

	cfg := seeded(9, 500, 60)
	cfg.Workers = 1
	second, err := NewSimulator(zap.NewNop(), cfg, nil).Run(context.Background(), model, []float64{0.5, 0.5})
	require.NoError(t, err)

	assert.Equal(t, first.Risk.ProbabilityOfLoss, second.Risk.ProbabilityOfLoss)
	assert.Equal(t, first.Risk.ValueAtRisk95, second.Risk.ValueAtRisk95)
	assert.Equal(t, first.Risk.ConditionalValueAtRisk95, second.Risk.ConditionalValueAtRisk95)
	assert.Equal(t, first.Result.TerminalValues, second.Result.TerminalValues)
}

func TestRunManySharesDraws(t *testing.T) {
	model := modelFor(t, stockBondAssets, stockBondCorr)
	sim := NewSimulator(zap.NewNop(), seeded(3, 300, 30), nil)

	runs, err := sim.RunMany(context.Background(), model, [][]float64{{0.7, 0.3}, {0.7, 0.3}, {0.5, 0.5}})
	require.NoError(t, err)
	require.Len(t, runs, 3)

	assert.Equal(t, runs[0].Result.TerminalValues, runs[1].Result.TerminalValues)
	assert.NotEqual(t, runs[0].Result.TerminalValues, runs[2].Result.TerminalValues)
}

func TestRunRejectsBadInput(t *testing.T) {
	model := modelFor(t, stockBondAssets, stockBondCorr)

	_, err := NewSimulator(zap.NewNop(), seeded(1, 0, 10), nil).Run(context.Background(), model, []float64{0.5, 0.5})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg := seeded(1, 10, 10)
	cfg.StartValue = 0
	_, err = NewSimulator(zap.NewNop(), cfg, nil).Run(context.Background(), model, []float64{0.5, 0.5})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewSimulator(zap.NewNop(), seeded(1, 10, 10), nil).Run(context.Background(), model, []float64{0.5, 0.4})
	assert.Error(t, err)
}

func TestCollapsePolicies(t *testing.T) {
	// A -120% step return drives every path below zero on the first step.
	model := modelFor(t, []types.Asset{{ExpectedReturn: -1.2, Volatility: 0}}, nil)

	_, err := NewSimulator(zap.NewNop(), seeded(1, 5, 4), nil).Run(context.Background(), model, []float64{1})
	var dpe *DegeneratePathError
	require.ErrorAs(t, err, &dpe)
	assert.ErrorIs(t, err, ErrDegeneratePath)
	assert.Equal(t, 0, dpe.Step)

	cfg := seeded(1, 5, 4)
	cfg.CollapsePolicy = types.CollapseAbsorb
	run, err := NewSimulator(zap.NewNop(), cfg, nil).Run(context.Background(), model, []float64{1})
	require.NoError(t, err)
	assert.Equal(t, 5, run.Result.Collapsed)
	assert.Equal(t, 1.0, run.Risk.ProbabilityOfLoss)
	assert.Equal(t, -1.0, run.Risk.ValueAtRisk95)
	assert.Equal(t, -1.0, run.Risk.ConditionalValueAtRisk95)
	assert.Equal(t, 1.0, run.Result.MaxDrawdowns[0])
}

func TestSimulatePathsCompounding(t *testing.T) {
	cube := NewReturnCube(2, 4, 2)
	for tr := 0; tr < 2; tr++ {
		for s := 0; s < 4; s++ {
			cube.Step(tr, s)[0] = -0.6
		}
	}
	pool := workers.NewPool(zap.NewNop(), nil)
	ctx := context.Background()

	result, err := SimulatePaths(ctx, pool, cube, []float64{1, 0}, PathOptions{
		StartValue: 100, Policy: types.CollapseAbsorb, KeepPaths: 1,
	})
	require.NoError(t, err)
	assert.Zero(t, result.Collapsed)
	assert.InDelta(t, 100*math.Pow(0.4, 4), result.TerminalValues[0], 1e-9)
	assert.Len(t, result.Paths, 1)

	// Short the falling asset, long the flat one.
	result, err = SimulatePaths(ctx, pool, cube, []float64{-1, 2}, PathOptions{
		StartValue: 100, Policy: types.CollapseReject,
	})
	require.NoError(t, err)
	assert.InDelta(t, 100*math.Pow(1.6, 4), result.TerminalValues[1], 1e-9)
	assert.Nil(t, result.Paths)

	for tr := 0; tr < 2; tr++ {
		cube.Step(tr, 1)[0] = -1.5
	}
	result, err = SimulatePaths(ctx, pool, cube, []float64{1, 0}, PathOptions{
		StartValue: 100, Policy: types.CollapseAbsorb, KeepPaths: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Collapsed)
	assert.Equal(t, []float64{40, 0, 0, 0}, result.Paths[0])
	assert.Equal(t, 0.0, result.TerminalValues[1])

	_, err = SimulatePaths(ctx, pool, cube, []float64{1, 0}, PathOptions{
		StartValue: 100, Policy: types.CollapseReject,
	})
	var dpe *DegeneratePathError
	require.ErrorAs(t, err, &dpe)
	assert.Equal(t, 1, dpe.Step)

	_, err = SimulatePaths(ctx, pool, cube, []float64{1}, PathOptions{StartValue: 100})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestKeepPathsCoversEveryTrajectory(t *testing.T) {
	sampler := newSampler(t)
	pool := workers.NewPool(zap.NewNop(), nil)
	ctx := context.Background()

	cube, err := sampler.Sample(ctx, pool, 30, 12, 5)
	require.NoError(t, err)

	result, err := SimulatePaths(ctx, pool, cube, []float64{0.7, 0.3}, PathOptions{
		StartValue: 100, Policy: types.CollapseReject, KeepPaths: 1000,
	})
	require.NoError(t, err)

	require.Len(t, result.Paths, cube.Trajectories)
	for tr, path := range result.Paths {
		require.Len(t, path, cube.Steps)
		assert.Equal(t, result.TerminalValues[tr], path[cube.Steps-1], "trajectory %d", tr)
	}
}
