package optimization

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/atlas-desktop/portfolio-lab/internal/market"
	"github.com/atlas-desktop/portfolio-lab/pkg/types"
	"go.uber.org/zap"
)

// GridSearch evaluates the Sharpe ratio on a regular lattice of feasible
// weight vectors and returns the best point. It is exhaustive and so only
// practical for a handful of assets; it serves as an independent check on
// Solve.
func (o *Optimizer) GridSearch(ctx context.Context, p Problem, resolution int) (*types.OptimizationResult, error) {
	start := time.Now()

	n := len(p.Mean)
	if n == 0 || p.Cov == nil || p.Cov.Dim() != n {
		return nil, fmt.Errorf("%w: mean and covariance dimensions disagree", market.ErrInvalidModel)
	}
	if resolution <= 0 {
		return nil, fmt.Errorf("grid resolution must be positive, got %d", resolution)
	}

	lo, hi := market.Bounds(p.LongOnly)
	step := (hi - lo) / float64(resolution)
	grid := make([]float64, 0, resolution+1)
	for i := 0; i <= resolution; i++ {
		grid = append(grid, math.Min(hi, lo+float64(i)*step))
	}

	o.logger.Debug("starting grid search",
		zap.Int("assets", n),
		zap.Int("resolution", resolution),
	)

	var (
		best        []float64
		bestSharpe  = math.Inf(-1)
		evaluations int
		x           = make([]float64, n-1)
	)

	var walk func(idx int) error
	walk = func(idx int) error {
		if idx == n-1 {
			w := expand(x)
			if w[n-1] < lo-1e-12 || w[n-1] > hi+1e-12 {
				return nil
			}
			evaluations++
			ret, sigma := moments(p.Mean, p.Cov, w)
			if s := sharpe(ret, sigma, p.RiskFreeRate); s > bestSharpe {
				bestSharpe = s
				best = w
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, v := range grid {
			x[idx] = v
			if err := walk(idx + 1); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(0); err != nil {
		return nil, err
	}
	if best == nil {
		return nil, &OptimizationFailedError{Status: "Failure", Message: "no feasible grid point"}
	}

	best[n-1] = math.Min(hi, math.Max(lo, best[n-1]))
	return o.finish(best, p, "GridSearch", 0, evaluations, start)
}
