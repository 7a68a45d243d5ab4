package montecarlo

import (
	"fmt"
	"math"

	"github.com/atlas-desktop/portfolio-lab/internal/market"
	"gonum.org/v1/gonum/mat"
)

// pivotTolerance scales with the largest diagonal entry of the covariance.
const pivotTolerance = 1e-12

// Factor returns the lower-triangular L with L·Lᵀ = cov.
//
// Strictly positive definite matrices go through gonum's Cholesky. Singular
// but semi-definite matrices (a zero-volatility asset, |rho| = 1) fall back to
// a column-by-column factorization that zeroes degenerate columns.
func Factor(cov *market.CovarianceMatrix) (*mat.TriDense, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(cov.Sym()); ok {
		L := new(mat.TriDense)
		chol.LTo(L)
		return L, nil
	}

	return factorSemiDefinite(cov)
}

func factorSemiDefinite(cov *market.CovarianceMatrix) (*mat.TriDense, error) {
	n := cov.Dim()

	scale := 0.0
	for i := 0; i < n; i++ {
		scale = math.Max(scale, math.Abs(cov.At(i, i)))
	}
	tol := pivotTolerance * math.Max(scale, 1e-300)

	L := mat.NewTriDense(n, mat.Lower, nil)
	for j := 0; j < n; j++ {
		d := cov.At(j, j)
		for k := 0; k < j; k++ {
			d -= L.At(j, k) * L.At(j, k)
		}

		if d < -tol || math.IsNaN(d) {
			return nil, &NonPositiveDefiniteError{Column: j, Pivot: d}
		}

		if d <= tol {
			// Degenerate column: the remaining entries must already be explained
			// by earlier columns, otherwise the matrix is indefinite.
			for i := j + 1; i < n; i++ {
				s := cov.At(i, j)
				for k := 0; k < j; k++ {
					s -= L.At(i, k) * L.At(j, k)
				}
				if math.Abs(s) > math.Sqrt(tol)*math.Sqrt(math.Abs(cov.At(i, i))+tol) {
					return nil, &NonPositiveDefiniteError{Column: j, Pivot: d}
				}
			}
			continue
		}

		ljj := math.Sqrt(d)
		L.SetTri(j, j, ljj)
		for i := j + 1; i < n; i++ {
			s := cov.At(i, j)
			for k := 0; k < j; k++ {
				s -= L.At(i, k) * L.At(j, k)
			}
			L.SetTri(i, j, s/ljj)
		}
	}

	return L, nil
}

// Reconstruct returns L·Lᵀ, used to verify a factorization.
func Reconstruct(L *mat.TriDense) *mat.Dense {
	var out mat.Dense
	out.Mul(L, L.T())
	return &out
}

// NonPositiveDefiniteError reports the column at which factorization stopped.
type NonPositiveDefiniteError struct {
	Column int
	Pivot  float64
}

func (e *NonPositiveDefiniteError) Error() string {
	return fmt.Sprintf("%v: pivot %g at column %d", ErrNonPositiveDefinite, e.Pivot, e.Column)
}

func (e *NonPositiveDefiniteError) Unwrap() error { return ErrNonPositiveDefinite }
