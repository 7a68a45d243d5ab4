package montecarlo

import (
	"testing"

	"github.com/atlas-desktop/portfolio-lab/internal/market"
	"github.com/atlas-desktop/portfolio-lab/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func modelFor(t *testing.T, assets []types.Asset, corr [][]float64) *market.Model {
	t.Helper()
	model, err := market.FromConfig(types.ScenarioConfig{Assets: assets, Correlation: corr})
	require.NoError(t, err)
	return model
}

func assertReconstructs(t *testing.T, cov *market.CovarianceMatrix) {
	t.Helper()
	L, err := Factor(cov)
	require.NoError(t, err)

	n := cov.Dim()
	got := Reconstruct(L)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			assert.InDelta(t, cov.At(i, j), got.At(i, j), 1e-12, "entry (%d, %d)", i, j)
		}
		for j := i + 1; j < n; j++ {
			assert.Zero(t, L.At(i, j), "upper entry (%d, %d)", i, j)
		}
	}
}

func TestFactorReconstructsCovariance(t *testing.T) {
	tests := []struct {
		name   string
		assets []types.Asset
		corr   [][]float64
	}{
		{
			name: "stock bond",
			assets: []types.Asset{
				{ExpectedReturn: 0.0006, Volatility: 0.012},
				{ExpectedReturn: 0.0002, Volatility: 0.004},
			},
			corr: [][]float64{{1, -0.2}, {-0.2, 1}},
		},
		{
			name: "three assets",
			assets: []types.Asset{
				{Volatility: 0.02}, {Volatility: 0.01}, {Volatility: 0.015},
			},
			corr: [][]float64{{1, 0.5, 0.3}, {0.5, 1, -0.1}, {0.3, -0.1, 1}},
		},
		{
			name: "perfect correlation",
			assets: []types.Asset{
				{Volatility: 0.012}, {Volatility: 0.004},
			},
			corr: [][]float64{{1, 1}, {1, 1}},
		},
		{
			name: "zero volatility asset",
			assets: []types.Asset{
				{Volatility: 0.012}, {Volatility: 0},
			},
			corr: [][]float64{{1, 0.4}, {0.4, 1}},
		},
		{
			name:   "all zero volatility",
			assets: []types.Asset{{}, {}},
			corr:   [][]float64{{1, 0}, {0, 1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertReconstructs(t, modelFor(t, tt.assets, tt.corr).Covariance())
		})
	}
}

func TestFactorRejectsIndefinite(t *testing.T) {
	cov, err := market.NewCovarianceMatrix([][]float64{{1, 2}, {2, 1}})
	require.NoError(t, err)

	_, err = Factor(cov)
	assert.ErrorIs(t, err, ErrNonPositiveDefinite)

	var npd *NonPositiveDefiniteError
	require.ErrorAs(t, err, &npd)
	assert.Equal(t, 1, npd.Column)
}

func TestFactorRejectsInconsistentCorrelation(t *testing.T) {
	// Pairwise valid but jointly impossible: 1 ~ 2, 1 ~ 3 strongly, 2 ~ 3 strongly negative.
	model := modelFor(t,
		[]types.Asset{{Volatility: 0.01}, {Volatility: 0.01}, {Volatility: 0.01}},
		[][]float64{{1, 0.9, 0.9}, {0.9, 1, -0.9}, {0.9, -0.9, 1}},
	)

	_, err := Factor(model.Covariance())
	assert.ErrorIs(t, err, ErrNonPositiveDefinite)
}
