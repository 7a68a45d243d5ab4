// Package risk reduces simulated terminal values to tail-risk statistics.
package risk

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/atlas-desktop/portfolio-lab/pkg/types"
	"gonum.org/v1/gonum/stat"
)

// ErrInsufficientSample is returned when a statistic has no observations to average.
var ErrInsufficientSample = errors.New("insufficient sample")

// TailProbability is the VaR/CVaR level (95% confidence).
const TailProbability = 0.05

// DefaultPercentiles are reported in Describe.
var DefaultPercentiles = []float64{0.05, 0.25, 0.50, 0.75, 0.95}

// Summarize computes probability of loss, mean final value, VaR95 and CVaR95.
// VaR and CVaR are horizon returns r = v/start − 1.
func Summarize(terminalValues []float64, startValue float64) (*types.RiskReport, error) {
	n := len(terminalValues)
	if n == 0 {
		return nil, fmt.Errorf("%w: no terminal values", ErrInsufficientSample)
	}
	if !(startValue > 0) {
		return nil, fmt.Errorf("risk: start value must be positive, got %v", startValue)
	}

	losses := 0
	returns := make([]float64, n)
	for i, v := range terminalValues {
		if v < startValue {
			losses++
		}
		returns[i] = v/startValue - 1
	}
	sort.Float64s(returns)

	varLevel := PercentileSorted(returns, TailProbability)
	cvar, tail, err := TailMean(returns, varLevel)
	if err != nil {
		return nil, err
	}

	return &types.RiskReport{
		ProbabilityOfLoss:        float64(losses) / float64(n),
		MeanFinalValue:           stat.Mean(terminalValues, nil),
		ValueAtRisk95:            varLevel,
		ConditionalValueAtRisk95: cvar,
		TailCount:                tail,
		NumTrajectories:          n,
	}, nil
}

// TailMean averages every value ≤ threshold. sorted must be ascending.
func TailMean(sorted []float64, threshold float64) (mean float64, count int, err error) {
	sum := 0.0
	for _, r := range sorted {
		if !(r <= threshold) {
			break
		}
		sum += r
		count++
	}
	if count == 0 {
		return 0, 0, fmt.Errorf("%w: tail at or below %g is empty", ErrInsufficientSample, threshold)
	}
	return sum / float64(count), count, nil
}

// Percentile returns the p-quantile (0 ≤ p ≤ 1) of values using linear
// interpolation between the closest ranks: h = (n−1)·p.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return PercentileSorted(sorted, p)
}

// PercentileSorted is Percentile for input already in ascending order.
func PercentileSorted(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	h := float64(n-1) * p
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := h - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// PercentileKey names p in Distribution.Percentiles, e.g. 0.05 -> "p5".
func PercentileKey(p float64) string {
	return "p" + strconv.FormatFloat(math.Round(p*1e6)/1e4, 'f', -1, 64)
}

// Describe calculates distribution statistics
func Describe(values []float64) *types.Distribution {
	if len(values) == 0 {
		return &types.Distribution{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	dist := &types.Distribution{
		Mean:        stat.Mean(sorted, nil),
		Median:      PercentileSorted(sorted, 0.5),
		Min:         sorted[0],
		Max:         sorted[len(sorted)-1],
		Percentiles: make(map[string]float64, len(DefaultPercentiles)),
	}
	if len(sorted) > 1 {
		dist.StdDev = stat.StdDev(sorted, nil)
	}

	for _, p := range DefaultPercentiles {
		dist.Percentiles[PercentileKey(p)] = PercentileSorted(sorted, p)
	}

	return dist
}
