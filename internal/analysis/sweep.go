package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/atlas-desktop/portfolio-lab/internal/market"
	"github.com/atlas-desktop/portfolio-lab/internal/montecarlo"
	"github.com/atlas-desktop/portfolio-lab/pkg/types"
)

// DefaultRhos are the correlation levels swept when none are configured.
var DefaultRhos = []float64{-0.4, -0.2, 0.0, 0.2}

// SweepFunc receives each sweep point as soon as it is computed. Returning an
// error stops the sweep.
type SweepFunc func(point types.SweepPoint) error

// CorrelationSweep re-runs the simulation of a two-asset portfolio for each
// correlation level. Every level reuses one seed so the points differ only
// through rho. fn may be nil.
func CorrelationSweep(ctx context.Context, sim *montecarlo.Simulator, assets []types.Asset, weights []float64, rhos []float64, fn SweepFunc) ([]types.SweepPoint, error) {
	if len(assets) != 2 {
		return nil, fmt.Errorf("%w: correlation sweep needs exactly 2 assets, got %d", market.ErrInvalidModel, len(assets))
	}
	if len(rhos) == 0 {
		rhos = DefaultRhos
	}

	set, err := market.NewAssetSet(assets)
	if err != nil {
		return nil, err
	}

	cfg := sim.Config()
	if cfg.Seed == nil {
		seed := uint64(time.Now().UnixNano())
		cfg.Seed = &seed
	}
	cfg.KeepPaths = 0
	sim = sim.WithConfig(cfg)

	points := make([]types.SweepPoint, 0, len(rhos))
	for _, rho := range rhos {
		if err := ctx.Err(); err != nil {
			return points, err
		}

		corr, err := market.TwoAssetCorrelation(rho)
		if err != nil {
			return points, err
		}
		model, err := market.NewModel(set, corr)
		if err != nil {
			return points, err
		}

		run, err := sim.Run(ctx, model, weights)
		if err != nil {
			return points, fmt.Errorf("rho %g: %w", rho, err)
		}

		point := types.SweepPoint{
			Rho:                      rho,
			ValueAtRisk95:            run.Risk.ValueAtRisk95,
			ConditionalValueAtRisk95: run.Risk.ConditionalValueAtRisk95,
			ProbabilityOfLoss:        run.Risk.ProbabilityOfLoss,
		}
		points = append(points, point)

		if fn != nil {
			if err := fn(point); err != nil {
				return points, err
			}
		}
	}

	return points, nil
}
