// Package optimization finds the portfolio weights that maximize the
// model-implied Sharpe ratio under the sum-to-one constraint and per-weight
// bounds.
//
// A few Nelder-Mead rounds on an exterior quadratic bound penalty, with the
// last weight eliminated as 1 - Σ, give a starting point. It is projected onto
// the feasible box and refined by an active-set method that solves the free
// weights with BFGS on the analytic Sharpe gradient and checks the KKT
// multipliers of the active bounds.
package optimization

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/atlas-desktop/portfolio-lab/internal/market"
	"github.com/atlas-desktop/portfolio-lab/internal/metrics"
	"github.com/atlas-desktop/portfolio-lab/pkg/types"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/optimize"
)

// ErrOptimizationFailed is returned when the solver cannot produce a validated optimum.
var ErrOptimizationFailed = errors.New("optimization failed")

// OptimizationFailedError carries the solver diagnostics.
type OptimizationFailedError struct {
	Status     string
	Message    string
	Iterations int
	Cause      error
}

func (e *OptimizationFailedError) Error() string {
	msg := fmt.Sprintf("%v: %s (status %s after %d iterations)", ErrOptimizationFailed, e.Message, e.Status, e.Iterations)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *OptimizationFailedError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrOptimizationFailed, e.Cause}
	}
	return []error{ErrOptimizationFailed}
}

// Optimizer performs Sharpe maximization
type Optimizer struct {
	logger   *zap.Logger
	config   *types.OptimizerConfig
	recorder *metrics.Recorder
}

// DefaultOptimizerConfig returns sensible defaults
func DefaultOptimizerConfig() *types.OptimizerConfig {
	return &types.OptimizerConfig{
		MaxIterations:   2000,
		PenaltySchedule: []float64{1e2, 1e4, 1e6, 1e8},
		Tolerance:       1e-13,
		BoundTolerance:  1e-7,
		Timeout:         30 * time.Second,
	}
}

// NewOptimizer creates a new optimizer. recorder may be nil.
func NewOptimizer(logger *zap.Logger, config *types.OptimizerConfig, recorder *metrics.Recorder) *Optimizer {
	def := DefaultOptimizerConfig()
	if config == nil {
		config = def
	}
	cfg := *config
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if len(cfg.PenaltySchedule) == 0 {
		cfg.PenaltySchedule = def.PenaltySchedule
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = def.Tolerance
	}
	if cfg.BoundTolerance <= 0 {
		cfg.BoundTolerance = def.BoundTolerance
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	return &Optimizer{
		logger:   logger,
		config:   &cfg,
		recorder: recorder,
	}
}

// Problem describes one Sharpe maximization.
type Problem struct {
	Mean         []float64
	Cov          *market.CovarianceMatrix
	RiskFreeRate float64
	LongOnly     bool
	Initial      []float64 // optional start; defaults to equal weights
}

// MaximizeSharpe solves the problem from equal weights.
func (o *Optimizer) MaximizeSharpe(ctx context.Context, mean []float64, cov *market.CovarianceMatrix, riskFreeRate float64, longOnly bool) (*types.OptimizationResult, error) {
	return o.Solve(ctx, Problem{Mean: mean, Cov: cov, RiskFreeRate: riskFreeRate, LongOnly: longOnly})
}

// Solve maximizes the Sharpe ratio of p.
func (o *Optimizer) Solve(ctx context.Context, p Problem) (result *types.OptimizationResult, err error) {
	start := time.Now()
	defer func() {
		iterations := 0
		if result != nil {
			iterations = result.Iterations
		}
		o.recorder.ObserveOptimization(time.Since(start), iterations, err)
	}()

	n := len(p.Mean)
	if n == 0 || p.Cov == nil || p.Cov.Dim() != n {
		return nil, fmt.Errorf("%w: mean and covariance dimensions disagree", market.ErrInvalidModel)
	}

	lo, hi := market.Bounds(p.LongOnly)
	initial := p.Initial
	if initial == nil {
		initial = market.EqualWeights(n)
	}
	if err := market.ValidateWeights(initial, n, p.LongOnly); err != nil {
		return nil, fmt.Errorf("initial point: %w", err)
	}

	if n == 1 {
		return o.finish([]float64{1}, p, "Trivial", 0, 0, start)
	}

	ctx, cancel := context.WithTimeout(ctx, o.config.Timeout)
	defer cancel()

	o.logger.Debug("starting Sharpe optimization",
		zap.Int("assets", n),
		zap.Bool("long_only", p.LongOnly),
		zap.Float64("risk_free_rate", p.RiskFreeRate),
	)

	x := make([]float64, n-1)
	copy(x, initial[:n-1])

	var (
		iterations  int
		evaluations int
	)

	// Penalty rounds only warm-start the active-set refinement, so a round
	// that stops short hands over its best point.
	for round, penalty := range o.config.PenaltySchedule {
		problem := optimize.Problem{
			Func: func(x []float64) float64 {
				w := expand(x)
				ret, sigma := moments(p.Mean, p.Cov, w)
				return -sharpe(ret, sigma, p.RiskFreeRate) + penalty*violation(w, lo, hi)
			},
		}
		settings := &optimize.Settings{
			MajorIterations: o.config.MaxIterations,
			Converger: &optimize.FunctionConverge{
				Absolute:   o.config.Tolerance,
				Relative:   o.config.Tolerance,
				Iterations: 100,
			},
			Recorder: contextRecorder{ctx: ctx},
		}

		res, err := optimize.Minimize(problem, x, settings, &optimize.NelderMead{})
		if res != nil {
			iterations += res.MajorIterations
			evaluations += res.FuncEvaluations
		}
		if err != nil {
			status := optimize.Failure
			if res != nil {
				status = res.Status
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			return nil, &OptimizationFailedError{
				Status:     status.String(),
				Message:    fmt.Sprintf("solver error in penalty round %d", round),
				Iterations: iterations,
				Cause:      err,
			}
		}
		if finite(res.X) {
			copy(x, res.X)
		}
		if !converged(res.Status) {
			o.logger.Debug("penalty round stopped early",
				zap.Int("round", round),
				zap.String("status", res.Status.String()),
			)
			break
		}
	}

	best, err := o.refine(ctx, p, project(expand(x), lo, hi), lo, hi)
	if err != nil {
		return nil, withIterations(err, iterations)
	}
	iterations += best.iterations
	evaluations += best.evaluations

	// Below zero the ratio is not quasi-concave and a local optimum may sit
	// on the wrong face; every single-asset vertex is tried as a start.
	if best.sharpe < 0 {
		for i := 0; i < n; i++ {
			vertex := make([]float64, n)
			vertex[i] = 1
			cand, err := o.refine(ctx, p, vertex, lo, hi)
			if err != nil {
				if ctx.Err() != nil {
					return nil, withIterations(err, iterations)
				}
				o.logger.Debug("vertex restart failed", zap.Int("asset", i), zap.Error(err))
				continue
			}
			iterations += cand.iterations
			evaluations += cand.evaluations
			if cand.sharpe > best.sharpe {
				best = cand
			}
		}
	}

	w, err := repair(best.weights, lo, hi, o.config.BoundTolerance)
	if err != nil {
		return nil, &OptimizationFailedError{
			Status:     best.status,
			Message:    err.Error(),
			Iterations: iterations,
		}
	}

	return o.finish(w, p, best.status, iterations, evaluations, start)
}

func (o *Optimizer) finish(w []float64, p Problem, status string, iterations, evaluations int, start time.Time) (*types.OptimizationResult, error) {
	stats, err := PortfolioStats(p.Mean, p.Cov, w, p.RiskFreeRate)
	if err != nil {
		return nil, err
	}

	result := &types.OptimizationResult{
		Weights:        w,
		ExpectedReturn: stats.ExpectedReturn,
		Volatility:     stats.Volatility,
		SharpeRatio:    stats.SharpeRatio,
		LongOnly:       p.LongOnly,
		Iterations:     iterations,
		Evaluations:    evaluations,
		Status:         status,
		Duration:       time.Since(start),
	}

	o.logger.Info("Sharpe optimization complete",
		zap.Float64s("weights", w),
		zap.Float64("sharpe", stats.SharpeRatio),
		zap.Int("iterations", iterations),
		zap.String("status", status),
	)

	return result, nil
}

func converged(s optimize.Status) bool {
	switch s {
	case optimize.Success, optimize.FunctionConvergence, optimize.GradientThreshold, optimize.MethodConverge:
		return true
	}
	return false
}

func finite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// withIterations adds the warm-start iterations to a refinement failure.
func withIterations(err error, warm int) error {
	var ofe *OptimizationFailedError
	if errors.As(err, &ofe) {
		ofe.Iterations += warm
	}
	return err
}

// expand maps the free weights to the full simplex vector.
func expand(x []float64) []float64 {
	w := make([]float64, len(x)+1)
	last := 1.0
	for i, v := range x {
		w[i] = v
		last -= v
	}
	w[len(x)] = last
	return w
}

// violation is Σ squared distance of each weight outside [lo, hi].
func violation(w []float64, lo, hi float64) float64 {
	v := 0.0
	for _, wi := range w {
		if wi < lo {
			v += (lo - wi) * (lo - wi)
		} else if wi > hi {
			v += (wi - hi) * (wi - hi)
		}
	}
	return v
}

// repair clamps residual bound violations within tol and restores the
// sum-to-one constraint exactly. Larger violations are an error.
func repair(w []float64, lo, hi, tol float64) ([]float64, error) {
	sum := 0.0
	for i, wi := range w {
		if math.IsNaN(wi) || wi < lo-tol || wi > hi+tol {
			return nil, fmt.Errorf("weight %d = %v violates bounds [%v, %v]", i, wi, lo, hi)
		}
		w[i] = math.Min(hi, math.Max(lo, wi))
		sum += w[i]
	}

	residual := 1 - sum
	if residual != 0 {
		// Put the residual on the weight with the most room in that direction.
		best, room := -1, 0.0
		for i, wi := range w {
			r := hi - wi
			if residual < 0 {
				r = wi - lo
			}
			if r > room {
				best, room = i, r
			}
		}
		if best < 0 || room < math.Abs(residual) {
			return nil, fmt.Errorf("cannot restore sum to one (residual %g)", residual)
		}
		w[best] += residual
	}

	return w, nil
}

// contextRecorder aborts the solver once the context is done.
type contextRecorder struct {
	ctx context.Context
}

func (r contextRecorder) Init() error { return r.ctx.Err() }

func (r contextRecorder) Record(*optimize.Location, optimize.Operation, *optimize.Stats) error {
	return r.ctx.Err()
}
