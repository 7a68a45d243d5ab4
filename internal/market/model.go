// Package market holds the parametric return model: per-asset moments,
// the correlation structure between assets and the derived covariance.
package market

import (
	"errors"
	"fmt"
	"math"

	"github.com/atlas-desktop/portfolio-lab/pkg/types"
	"gonum.org/v1/gonum/mat"
)

// ErrInvalidModel is returned for malformed asset sets or correlation matrices.
var ErrInvalidModel = errors.New("invalid market model")

// symmetryTolerance bounds |C[i][j] - C[j][i]| for an input correlation matrix.
const symmetryTolerance = 1e-12

// AssetSet is an ordered, immutable list of assets.
type AssetSet struct {
	assets []types.Asset
}

// NewAssetSet validates and copies the given assets.
func NewAssetSet(assets []types.Asset) (*AssetSet, error) {
	if len(assets) == 0 {
		return nil, fmt.Errorf("%w: asset set is empty", ErrInvalidModel)
	}

	cp := make([]types.Asset, len(assets))
	for i, a := range assets {
		if math.IsNaN(a.ExpectedReturn) || math.IsInf(a.ExpectedReturn, 0) {
			return nil, fmt.Errorf("%w: asset %d (%s) has non-finite expected return", ErrInvalidModel, i, a.Name)
		}
		if math.IsNaN(a.Volatility) || math.IsInf(a.Volatility, 0) || a.Volatility < 0 {
			return nil, fmt.Errorf("%w: asset %d (%s) has invalid volatility %v", ErrInvalidModel, i, a.Name, a.Volatility)
		}
		cp[i] = a
		if cp[i].Name == "" {
			cp[i].Name = fmt.Sprintf("asset_%d", i+1)
		}
	}

	return &AssetSet{assets: cp}, nil
}

// Len returns the number of assets.
func (s *AssetSet) Len() int { return len(s.assets) }

// Assets returns a copy of the assets.
func (s *AssetSet) Assets() []types.Asset {
	out := make([]types.Asset, len(s.assets))
	copy(out, s.assets)
	return out
}

// Names returns the asset names in order.
func (s *AssetSet) Names() []string {
	out := make([]string, len(s.assets))
	for i, a := range s.assets {
		out[i] = a.Name
	}
	return out
}

// Means returns the expected-return vector.
func (s *AssetSet) Means() []float64 {
	out := make([]float64, len(s.assets))
	for i, a := range s.assets {
		out[i] = a.ExpectedReturn
	}
	return out
}

// Vols returns the volatility vector.
func (s *AssetSet) Vols() []float64 {
	out := make([]float64, len(s.assets))
	for i, a := range s.assets {
		out[i] = a.Volatility
	}
	return out
}

// CorrelationMatrix is a validated symmetric matrix with unit diagonal and
// entries in [-1, 1].
type CorrelationMatrix struct {
	m *mat.SymDense
}

// NewCorrelationMatrix validates a row-major correlation matrix.
func NewCorrelationMatrix(rows [][]float64) (*CorrelationMatrix, error) {
	n := len(rows)
	if n == 0 {
		return nil, fmt.Errorf("%w: correlation matrix is empty", ErrInvalidModel)
	}
	for i, row := range rows {
		if len(row) != n {
			return nil, fmt.Errorf("%w: correlation row %d has %d columns, want %d", ErrInvalidModel, i, len(row), n)
		}
	}

	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			v := rows[i][j]
			if math.IsNaN(v) || v < -1 || v > 1 {
				return nil, fmt.Errorf("%w: correlation[%d][%d] = %v outside [-1, 1]", ErrInvalidModel, i, j, v)
			}
			if math.Abs(v-rows[j][i]) > symmetryTolerance {
				return nil, fmt.Errorf("%w: correlation matrix not symmetric at (%d, %d)", ErrInvalidModel, i, j)
			}
			if i == j && v != 1 {
				return nil, fmt.Errorf("%w: correlation diagonal (%d, %d) = %v, want 1", ErrInvalidModel, i, i, v)
			}
			sym.SetSym(i, j, v)
		}
	}

	return &CorrelationMatrix{m: sym}, nil
}

// Identity returns the n×n uncorrelated matrix.
func Identity(n int) *CorrelationMatrix {
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		sym.SetSym(i, i, 1)
	}
	return &CorrelationMatrix{m: sym}
}

// TwoAssetCorrelation builds [[1, rho], [rho, 1]].
func TwoAssetCorrelation(rho float64) (*CorrelationMatrix, error) {
	return NewCorrelationMatrix([][]float64{{1, rho}, {rho, 1}})
}

// Dim returns the matrix dimension.
func (c *CorrelationMatrix) Dim() int { return c.m.SymmetricDim() }

// At returns entry (i, j).
func (c *CorrelationMatrix) At(i, j int) float64 { return c.m.At(i, j) }

// Rows returns a row-major copy.
func (c *CorrelationMatrix) Rows() [][]float64 {
	return symRows(c.m)
}

// CovarianceMatrix is Cov[i][j] = vol[i] * vol[j] * Corr[i][j].
type CovarianceMatrix struct {
	m *mat.SymDense
}

// NewCovarianceMatrix wraps a caller-supplied covariance. The matrix is
// checked for symmetry but not for semi-definiteness; factorization reports that.
func NewCovarianceMatrix(rows [][]float64) (*CovarianceMatrix, error) {
	n := len(rows)
	if n == 0 {
		return nil, fmt.Errorf("%w: covariance matrix is empty", ErrInvalidModel)
	}
	sym := mat.NewSymDense(n, nil)
	for i, row := range rows {
		if len(row) != n {
			return nil, fmt.Errorf("%w: covariance row %d has %d columns, want %d", ErrInvalidModel, i, len(row), n)
		}
		for j := 0; j <= i; j++ {
			if math.Abs(row[j]-rows[j][i]) > symmetryTolerance*math.Max(1, math.Abs(row[j])) {
				return nil, fmt.Errorf("%w: covariance matrix not symmetric at (%d, %d)", ErrInvalidModel, i, j)
			}
			sym.SetSym(i, j, row[j])
		}
	}
	return &CovarianceMatrix{m: sym}, nil
}

// Dim returns the matrix dimension.
func (c *CovarianceMatrix) Dim() int { return c.m.SymmetricDim() }

// At returns entry (i, j).
func (c *CovarianceMatrix) At(i, j int) float64 { return c.m.At(i, j) }

// Sym exposes the underlying matrix for read-only use by numerical code.
func (c *CovarianceMatrix) Sym() mat.Symmetric { return c.m }

// Rows returns a row-major copy.
func (c *CovarianceMatrix) Rows() [][]float64 {
	return symRows(c.m)
}

// Quad returns wᵀ·Cov·w.
func (c *CovarianceMatrix) Quad(w []float64) float64 {
	v := mat.NewVecDense(len(w), w)
	return mat.Inner(v, c.m, v)
}

// Model pairs an asset set with its correlation structure.
type Model struct {
	assets *AssetSet
	corr   *CorrelationMatrix
	cov    *CovarianceMatrix
}

// NewModel validates dimensions and derives the covariance matrix.
func NewModel(assets *AssetSet, corr *CorrelationMatrix) (*Model, error) {
	if assets == nil || corr == nil {
		return nil, fmt.Errorf("%w: assets and correlation are required", ErrInvalidModel)
	}
	if corr.Dim() != assets.Len() {
		return nil, fmt.Errorf("%w: correlation is %dx%d but there are %d assets",
			ErrInvalidModel, corr.Dim(), corr.Dim(), assets.Len())
	}

	return &Model{
		assets: assets,
		corr:   corr,
		cov:    covariance(assets.Vols(), corr),
	}, nil
}

// FromConfig builds a model from scenario configuration. An empty
// correlation means uncorrelated assets.
func FromConfig(cfg types.ScenarioConfig) (*Model, error) {
	assets, err := NewAssetSet(cfg.Assets)
	if err != nil {
		return nil, err
	}

	corr := Identity(assets.Len())
	if len(cfg.Correlation) > 0 {
		corr, err = NewCorrelationMatrix(cfg.Correlation)
		if err != nil {
			return nil, err
		}
	}

	return NewModel(assets, corr)
}

// Assets returns the asset set.
func (m *Model) Assets() *AssetSet { return m.assets }

// Correlation returns the correlation matrix.
func (m *Model) Correlation() *CorrelationMatrix { return m.corr }

// Covariance returns the derived covariance matrix.
func (m *Model) Covariance() *CovarianceMatrix { return m.cov }

// Means returns the expected-return vector.
func (m *Model) Means() []float64 { return m.assets.Means() }

// Dim returns the number of assets.
func (m *Model) Dim() int { return m.assets.Len() }

// WithCorrelation returns a copy of the model using a different correlation matrix.
func (m *Model) WithCorrelation(corr *CorrelationMatrix) (*Model, error) {
	return NewModel(m.assets, corr)
}

func covariance(vols []float64, corr *CorrelationMatrix) *CovarianceMatrix {
	n := len(vols)
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			sym.SetSym(i, j, vols[i]*vols[j]*corr.At(i, j))
		}
	}
	return &CovarianceMatrix{m: sym}
}

func symRows(m mat.Symmetric) [][]float64 {
	n := m.SymmetricDim()
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		for j := range out[i] {
			out[i][j] = m.At(i, j)
		}
	}
	return out
}
