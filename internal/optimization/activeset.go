package optimization

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/optimize"
)

const (
	// gradientTolerance stops a free-set solve once the reduced gradient is this small.
	gradientTolerance = 1e-9
	// stationarityTolerance is the KKT tolerance, relative to the largest gradient entry.
	stationarityTolerance = 1e-6
	// projectionSteps bounds the bisection in project.
	projectionSteps = 200
)

// refined is a feasible stationary point found by refine.
type refined struct {
	weights     []float64
	sharpe      float64
	status      string
	iterations  int
	evaluations int
}

// refine runs a primal active-set method from the feasible point w. Weights
// sitting on a bound are held there while the remaining ones are optimized
// with BFGS on the slice that keeps the sum at one. A solve that leaves the
// box is cut back to the first bound it crosses, and that weight joins the
// active set. A bound is released when its multiplier has the wrong sign.
func (o *Optimizer) refine(ctx context.Context, p Problem, w []float64, lo, hi float64) (*refined, error) {
	n := len(w)
	w = append([]float64(nil), w...)
	fixed := make([]bool, n)
	for i, wi := range w {
		fixed[i] = wi <= lo || wi >= hi
	}

	out := &refined{status: optimize.Success.String()}
	limit := 4*n + 8

	for change := 0; change < limit; change++ {
		free := freeIndices(fixed)

		if len(free) >= 2 {
			target, res, err := o.solveFree(ctx, p, w, free)
			if res != nil {
				out.iterations += res.MajorIterations
				out.evaluations += res.FuncEvaluations
			}
			if err != nil {
				err.Iterations = out.iterations
				return nil, err
			}

			if block := blockingIndex(w, target, free, lo, hi); block >= 0 {
				alpha := stepToBound(w[block], target[block], lo, hi)
				for _, i := range free {
					w[i] = math.Min(hi, math.Max(lo, w[i]+alpha*(target[i]-w[i])))
				}
				if target[block] < lo {
					w[block] = lo
				} else {
					w[block] = hi
				}
				fixed[block] = true
				o.logger.Debug("bound became active",
					zap.Int("asset", block),
					zap.Float64("weight", w[block]),
				)
				continue
			}

			if !converged(res.Status) && res.Status != optimize.Failure {
				return nil, &OptimizationFailedError{
					Status:     res.Status.String(),
					Message:    fmt.Sprintf("free-set solve over %d weights did not converge within %d iterations", len(free), o.config.MaxIterations),
					Iterations: out.iterations,
				}
			}
			copy(w, target)
			out.status = res.Status.String()
			if res.Status == optimize.Failure {
				out.status = "Stationary"
			}
		}

		release, err := o.checkStationary(p, w, fixed, lo, hi)
		if err != nil {
			err.Iterations = out.iterations
			err.Status = out.status
			return nil, err
		}
		if len(release) == 0 {
			ret, sigma := moments(p.Mean, p.Cov, w)
			out.weights = w
			out.sharpe = sharpe(ret, sigma, p.RiskFreeRate)
			return out, nil
		}
		for _, i := range release {
			fixed[i] = false
			o.logger.Debug("bound released", zap.Int("asset", i), zap.Float64("weight", w[i]))
		}
	}

	return nil, &OptimizationFailedError{
		Status:     optimize.IterationLimit.String(),
		Message:    fmt.Sprintf("active set did not settle within %d changes", limit),
		Iterations: out.iterations,
	}
}

// solveFree maximizes the Sharpe ratio over the free weights with the fixed
// ones held at their current values. The last free weight absorbs the budget.
// A line search that stalls on floating-point noise is reported with status
// Failure and a nil error; stationarity is checked afterwards.
func (o *Optimizer) solveFree(ctx context.Context, p Problem, w []float64, free []int) ([]float64, *optimize.Result, *OptimizationFailedError) {
	k := len(free)
	budget := 1.0
	for i, wi := range w {
		if !contains(free, i) {
			budget -= wi
		}
	}

	build := func(y []float64) []float64 {
		full := append([]float64(nil), w...)
		last := budget
		for j, v := range y {
			full[free[j]] = v
			last -= v
		}
		full[free[k-1]] = last
		return full
	}

	problem := optimize.Problem{
		Func: func(y []float64) float64 {
			ret, sigma := moments(p.Mean, p.Cov, build(y))
			return -sharpe(ret, sigma, p.RiskFreeRate)
		},
		Grad: func(grad, y []float64) {
			g := make([]float64, len(w))
			sharpeGradient(p.Mean, p.Cov, build(y), p.RiskFreeRate, g)
			last := g[free[k-1]]
			for j := range grad {
				grad[j] = -(g[free[j]] - last)
			}
		},
	}
	settings := &optimize.Settings{
		MajorIterations:   o.config.MaxIterations,
		GradientThreshold: gradientTolerance,
		Converger: &optimize.FunctionConverge{
			Absolute:   o.config.Tolerance,
			Relative:   o.config.Tolerance,
			Iterations: 100,
		},
		Recorder: contextRecorder{ctx: ctx},
	}

	y0 := make([]float64, k-1)
	for j := range y0 {
		y0[j] = w[free[j]]
	}

	res, err := optimize.Minimize(problem, y0, settings, &optimize.BFGS{})
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return nil, res, &OptimizationFailedError{
			Status:  "Cancelled",
			Message: "free-set solve interrupted",
			Cause:   ctx.Err(),
		}
	case res != nil && stalled(err):
		res.Status = optimize.Failure
	default:
		status := optimize.Failure
		if res != nil {
			status = res.Status
		}
		return nil, res, &OptimizationFailedError{
			Status:  status.String(),
			Message: "free-set solve failed",
			Cause:   err,
		}
	}

	return build(res.X), res, nil
}

func stalled(err error) bool {
	return errors.Is(err, optimize.ErrNoProgress) ||
		errors.Is(err, optimize.ErrLinesearcherFailure) ||
		errors.Is(err, optimize.ErrNonDescentDirection)
}

// checkStationary tests the KKT conditions at w. Free weights must share one
// Sharpe gradient value λ; a weight held at the lower bound needs a gradient
// no larger than λ and one at the upper bound no smaller. It returns the
// bounds to release, or none when w is stationary.
func (o *Optimizer) checkStationary(p Problem, w []float64, fixed []bool, lo, hi float64) ([]int, *OptimizationFailedError) {
	g := make([]float64, len(w))
	sharpeGradient(p.Mean, p.Cov, w, p.RiskFreeRate, g)

	scale := 1.0
	for _, gi := range g {
		scale = math.Max(scale, math.Abs(gi))
	}
	tol := stationarityTolerance * scale

	free := freeIndices(fixed)
	if len(free) == 0 {
		// Any move needs one weight up and one down.
		up, down := -1, -1
		for i := range w {
			if w[i] <= lo && (up < 0 || g[i] > g[up]) {
				up = i
			}
			if w[i] >= hi && (down < 0 || g[i] < g[down]) {
				down = i
			}
		}
		if up < 0 || down < 0 || g[up] <= g[down]+tol {
			return nil, nil
		}
		return []int{up, down}, nil
	}

	lambda := 0.0
	for _, i := range free {
		lambda += g[i]
	}
	lambda /= float64(len(free))

	for _, i := range free {
		if d := math.Abs(g[i] - lambda); d > tol {
			return nil, &OptimizationFailedError{
				Message: fmt.Sprintf("weight %d is not stationary (gradient gap %.3g)", i, d),
			}
		}
	}

	worst, margin := -1, tol
	for i, wi := range w {
		if !fixed[i] {
			continue
		}
		gap := lambda - g[i]
		if wi <= lo {
			gap = g[i] - lambda
		}
		if gap > margin {
			worst, margin = i, gap
		}
	}
	if worst < 0 {
		return nil, nil
	}
	return []int{worst}, nil
}

// blockingIndex returns the free weight that leaves [lo, hi] first on the
// segment from w to target, or -1 when target is inside the box.
func blockingIndex(w, target []float64, free []int, lo, hi float64) int {
	block, first := -1, math.Inf(1)
	for _, i := range free {
		if target[i] >= lo && target[i] <= hi {
			continue
		}
		if a := stepToBound(w[i], target[i], lo, hi); a < first {
			block, first = i, a
		}
	}
	return block
}

// stepToBound is the fraction of the move from w to target that reaches the
// bound target crosses.
func stepToBound(w, target, lo, hi float64) float64 {
	bound := hi
	if target < lo {
		bound = lo
	}
	return math.Max(0, (bound-w)/(target-w))
}

// project returns the Euclidean projection of v onto
// {w : Σw = 1, lo ≤ w ≤ hi} by bisection on the shift τ in clamp(v - τ).
func project(v []float64, lo, hi float64) []float64 {
	lower, upper := math.Inf(1), math.Inf(-1)
	for _, vi := range v {
		lower = math.Min(lower, vi-hi)
		upper = math.Max(upper, vi-lo)
	}

	w := make([]float64, len(v))
	shifted := func(tau float64) float64 {
		sum := 0.0
		for i, vi := range v {
			w[i] = math.Min(hi, math.Max(lo, vi-tau))
			sum += w[i]
		}
		return sum
	}

	for step := 0; step < projectionSteps && upper-lower > 1e-15; step++ {
		mid := 0.5 * (lower + upper)
		if shifted(mid) > 1 {
			lower = mid
		} else {
			upper = mid
		}
	}
	shifted(0.5 * (lower + upper))
	return w
}

func freeIndices(fixed []bool) []int {
	free := make([]int, 0, len(fixed))
	for i, f := range fixed {
		if !f {
			free = append(free, i)
		}
	}
	return free
}

func contains(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
