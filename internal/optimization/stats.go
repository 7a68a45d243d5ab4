package optimization

import (
	"fmt"
	"math"

	"github.com/atlas-desktop/portfolio-lab/internal/market"
	"github.com/atlas-desktop/portfolio-lab/pkg/types"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// SigmaEpsilon replaces a zero portfolio volatility in the Sharpe denominator.
const SigmaEpsilon = 1e-12

// PortfolioStats returns the model-implied return, volatility and Sharpe ratio of w.
func PortfolioStats(mean []float64, cov *market.CovarianceMatrix, w []float64, riskFreeRate float64) (types.PortfolioStats, error) {
	if len(mean) != cov.Dim() || len(w) != len(mean) {
		return types.PortfolioStats{}, fmt.Errorf("%w: mean %d, covariance %dx%d, weights %d",
			market.ErrInvalidModel, len(mean), cov.Dim(), cov.Dim(), len(w))
	}

	ret, sigma := moments(mean, cov, w)
	return types.PortfolioStats{
		ExpectedReturn: ret,
		Volatility:     sigma,
		SharpeRatio:    sharpe(ret, sigma, riskFreeRate),
	}, nil
}

func moments(mean []float64, cov *market.CovarianceMatrix, w []float64) (ret, sigma float64) {
	for i, wi := range w {
		ret += wi * mean[i]
	}
	if v := cov.Quad(w); v > 0 {
		sigma = math.Sqrt(v)
	}
	return ret, sigma
}

func sharpe(ret, sigma, riskFreeRate float64) float64 {
	if !(sigma > 0) {
		sigma = SigmaEpsilon
	}
	return (ret - riskFreeRate) / sigma
}

// sharpeGradient returns the Sharpe ratio of w and writes its gradient with
// respect to w into grad:
//
//	∂S/∂w = μ/σ - (μ·w - r)·Σw/σ³
func sharpeGradient(mean []float64, cov *market.CovarianceMatrix, w []float64, riskFreeRate float64, grad []float64) float64 {
	n := len(w)
	sw := mat.NewVecDense(n, nil)
	sw.MulVec(cov.Sym(), mat.NewVecDense(n, w))

	sigma := SigmaEpsilon
	if v := floats.Dot(w, sw.RawVector().Data); v > 0 {
		sigma = math.Sqrt(v)
	}
	excess := floats.Dot(mean, w) - riskFreeRate
	for i := range grad {
		grad[i] = mean[i]/sigma - excess*sw.AtVec(i)/(sigma*sigma*sigma)
	}
	return excess / sigma
}
