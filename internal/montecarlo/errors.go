package montecarlo

import (
	"errors"
	"fmt"
)

var (
	// ErrNonPositiveDefinite is returned when the covariance cannot be factored.
	ErrNonPositiveDefinite = errors.New("covariance matrix is not positive semi-definite")
	// ErrDegeneratePath is returned when a path reaches a non-positive value
	// under the reject collapse policy.
	ErrDegeneratePath = errors.New("degenerate path")
	// ErrInvalidConfig is returned for unusable simulation settings.
	ErrInvalidConfig = errors.New("invalid simulation config")
)

// DegeneratePathError identifies the first path that collapsed.
type DegeneratePathError struct {
	Trajectory int
	Step       int
	Value      float64
}

func (e *DegeneratePathError) Error() string {
	return fmt.Sprintf("%v: trajectory %d reached value %g at step %d", ErrDegeneratePath, e.Trajectory, e.Value, e.Step)
}

func (e *DegeneratePathError) Unwrap() error { return ErrDegeneratePath }
