package market

import (
	"errors"
	"testing"

	"github.com/atlas-desktop/portfolio-lab/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stockBond() []types.Asset {
	return []types.Asset{
		{Name: "stock", ExpectedReturn: 0.0006, Volatility: 0.012},
		{Name: "bond", ExpectedReturn: 0.0002, Volatility: 0.004},
	}
}

func TestNewModelCovariance(t *testing.T) {
	assets, err := NewAssetSet(stockBond())
	require.NoError(t, err)
	corr, err := TwoAssetCorrelation(-0.2)
	require.NoError(t, err)

	model, err := NewModel(assets, corr)
	require.NoError(t, err)

	cov := model.Covariance()
	assert.InDelta(t, 0.012*0.012, cov.At(0, 0), 1e-15)
	assert.InDelta(t, 0.004*0.004, cov.At(1, 1), 1e-15)
	assert.InDelta(t, -0.2*0.012*0.004, cov.At(0, 1), 1e-15)
	assert.Equal(t, cov.At(0, 1), cov.At(1, 0))
	assert.Equal(t, []float64{0.0006, 0.0002}, model.Means())
}

func TestNewAssetSetValidation(t *testing.T) {
	tests := []struct {
		name   string
		assets []types.Asset
	}{
		{"empty", nil},
		{"negative volatility", []types.Asset{{ExpectedReturn: 0.001, Volatility: -0.01}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAssetSet(tt.assets)
			assert.True(t, errors.Is(err, ErrInvalidModel), "got %v", err)
		})
	}
}

func TestAssetSetDefaultsNames(t *testing.T) {
	set, err := NewAssetSet([]types.Asset{{ExpectedReturn: 0.001}})
	require.NoError(t, err)
	assert.Equal(t, []string{"asset_1"}, set.Names())
}

func TestNewCorrelationMatrixValidation(t *testing.T) {
	tests := []struct {
		name string
		rows [][]float64
	}{
		{"empty", nil},
		{"ragged", [][]float64{{1, 0.1}, {0.1}}},
		{"out of range", [][]float64{{1, 1.5}, {1.5, 1}}},
		{"asymmetric", [][]float64{{1, 0.2}, {0.3, 1}}},
		{"non-unit diagonal", [][]float64{{0.9, 0.1}, {0.1, 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCorrelationMatrix(tt.rows)
			assert.ErrorIs(t, err, ErrInvalidModel)
		})
	}
}

func TestNewModelDimensionMismatch(t *testing.T) {
	assets, err := NewAssetSet(stockBond())
	require.NoError(t, err)

	_, err = NewModel(assets, Identity(3))
	assert.ErrorIs(t, err, ErrInvalidModel)
}

func TestFromConfigDefaultsToIdentity(t *testing.T) {
	model, err := FromConfig(types.ScenarioConfig{Assets: stockBond()})
	require.NoError(t, err)
	assert.Equal(t, 0.0, model.Covariance().At(0, 1))
}

func TestCovarianceQuad(t *testing.T) {
	model, err := FromConfig(types.ScenarioConfig{
		Assets:      stockBond(),
		Correlation: [][]float64{{1, -0.2}, {-0.2, 1}},
	})
	require.NoError(t, err)

	// 0.25²·σ₁² + 0.75²·σ₂² + 2·0.25·0.75·ρσ₁σ₂
	assert.InDelta(t, 1.44e-5, model.Covariance().Quad([]float64{0.25, 0.75}), 1e-15)
}

func TestValidateWeights(t *testing.T) {
	assert.NoError(t, ValidateWeights([]float64{0.7, 0.3}, 2, true))
	assert.NoError(t, ValidateWeights([]float64{1, -0.5, 0.5}, 3, false))
	assert.NoError(t, ValidateWeights([]float64{0.8, 0.2, -1, 1}, 4, false))
	assert.ErrorIs(t, ValidateWeights([]float64{1, -0.5, 0.5}, 3, true), ErrInvalidWeights)
	assert.ErrorIs(t, ValidateWeights([]float64{1.2, -0.2}, 2, false), ErrInvalidWeights)
	assert.ErrorIs(t, ValidateWeights([]float64{1.2, -0.2}, 2, true), ErrInvalidWeights)
	assert.ErrorIs(t, ValidateWeights([]float64{0.7, 0.2}, 2, true), ErrInvalidWeights)
	assert.ErrorIs(t, ValidateWeights([]float64{1}, 2, true), ErrInvalidWeights)

	w := EqualWeights(3)
	assert.NoError(t, ValidateWeights(w, 3, true))
}
