package montecarlo

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/atlas-desktop/portfolio-lab/internal/workers"
	"github.com/atlas-desktop/portfolio-lab/pkg/types"
)

// PathOptions controls compounding of a weight vector over a return cube.
type PathOptions struct {
	StartValue float64
	Policy     types.CollapsePolicy
	KeepPaths  int // number of leading trajectories whose full path is kept
}

// SimulatePaths compounds the weighted portfolio return of every trajectory:
// v[t] = v[t-1]·(1 + w·r[t]), v[-1] = StartValue. Trajectories are independent.
func SimulatePaths(ctx context.Context, pool *workers.Pool, cube *ReturnCube, weights []float64, opts PathOptions) (*types.SimulationResult, error) {
	if len(weights) != cube.Assets {
		return nil, fmt.Errorf("%w: %d weights for %d assets", ErrInvalidConfig, len(weights), cube.Assets)
	}
	if !(opts.StartValue > 0) {
		return nil, fmt.Errorf("%w: start value must be positive, got %v", ErrInvalidConfig, opts.StartValue)
	}

	keep := opts.KeepPaths
	if keep > cube.Trajectories {
		keep = cube.Trajectories
	}
	if keep < 0 {
		keep = 0
	}

	result := &types.SimulationResult{
		StartValue:     opts.StartValue,
		Seed:           cube.Seed,
		NumSteps:       cube.Steps,
		TerminalValues: make([]float64, cube.Trajectories),
		MaxDrawdowns:   make([]float64, cube.Trajectories),
	}
	if keep > 0 {
		result.Paths = make([][]float64, keep)
		for i := range result.Paths {
			result.Paths[i] = make([]float64, cube.Steps)
		}
	}

	var collapsed atomic.Int64
	err := pool.ForEach(ctx, cube.Trajectories, func(ctx context.Context, lo, hi int) error {
		for t := lo; t < hi; t++ {
			var path []float64
			if t < keep {
				path = result.Paths[t]
			}
			final, dd, absorbed, err := compound(cube, t, weights, opts, path)
			if err != nil {
				return err
			}
			if absorbed {
				collapsed.Add(1)
			}
			result.TerminalValues[t] = final
			result.MaxDrawdowns[t] = dd
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Collapsed = int(collapsed.Load())
	return result, nil
}

// compound walks one trajectory. path, when non-nil, receives every value.
func compound(cube *ReturnCube, t int, weights []float64, opts PathOptions, path []float64) (final, maxDD float64, absorbed bool, err error) {
	value := opts.StartValue
	peak := value

	for s := 0; s < cube.Steps; s++ {
		if !absorbed {
			r := 0.0
			for a, ret := range cube.Step(t, s) {
				r += weights[a] * ret
			}
			value *= 1 + r

			if value <= 0 {
				if opts.Policy != types.CollapseAbsorb {
					return 0, 0, false, &DegeneratePathError{Trajectory: t, Step: s, Value: value}
				}
				value = 0
				absorbed = true
			}
		}

		if path != nil {
			path[s] = value
		}
		if value > peak {
			peak = value
		} else if dd := (peak - value) / peak; dd > maxDD {
			maxDD = dd
		}
	}

	return value, maxDD, absorbed, nil
}
