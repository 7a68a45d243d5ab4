package market

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidWeights is returned for weight vectors that break the simplex constraint.
var ErrInvalidWeights = errors.New("invalid weights")

// WeightSumTolerance is the allowed deviation of sum(w) from 1.
const WeightSumTolerance = 1e-9

// Bounds returns the per-weight box for the long-only flag.
func Bounds(longOnly bool) (lo, hi float64) {
	if longOnly {
		return 0, 1
	}
	return -1, 1
}

// ValidateWeights checks dimension, sum-to-one and per-weight bounds.
func ValidateWeights(w []float64, n int, longOnly bool) error {
	if len(w) != n {
		return fmt.Errorf("%w: got %d weights for %d assets", ErrInvalidWeights, len(w), n)
	}

	lo, hi := Bounds(longOnly)
	sum := 0.0
	for i, v := range w {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: weight %d is not finite", ErrInvalidWeights, i)
		}
		if v < lo-WeightSumTolerance || v > hi+WeightSumTolerance {
			return fmt.Errorf("%w: weight %d = %v outside [%v, %v]", ErrInvalidWeights, i, v, lo, hi)
		}
		sum += v
	}
	if math.Abs(sum-1) > WeightSumTolerance {
		return fmt.Errorf("%w: weights sum to %v, want 1", ErrInvalidWeights, sum)
	}
	return nil
}

// EqualWeights returns 1/n for each of n assets.
func EqualWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	return w
}
