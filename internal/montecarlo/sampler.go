package montecarlo

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/atlas-desktop/portfolio-lab/internal/workers"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ReturnCube holds simple returns indexed [trajectory][step][asset] in one
// contiguous slice.
type ReturnCube struct {
	Trajectories int
	Steps        int
	Assets       int
	Seed         uint64
	data         []float64
}

// NewReturnCube allocates a zeroed cube.
func NewReturnCube(trajectories, steps, assets int) *ReturnCube {
	return &ReturnCube{
		Trajectories: trajectories,
		Steps:        steps,
		Assets:       assets,
		data:         make([]float64, trajectories*steps*assets),
	}
}

// At returns the return of asset a at step s of trajectory t.
func (c *ReturnCube) At(t, s, a int) float64 {
	return c.data[(t*c.Steps+s)*c.Assets+a]
}

// Step returns the per-asset returns of one step. The slice aliases the cube.
func (c *ReturnCube) Step(t, s int) []float64 {
	off := (t*c.Steps + s) * c.Assets
	return c.data[off : off+c.Assets : off+c.Assets]
}

// Trajectory returns all steps of one trajectory, step-major. The slice aliases the cube.
func (c *ReturnCube) Trajectory(t int) []float64 {
	off := t * c.Steps * c.Assets
	n := c.Steps * c.Assets
	return c.data[off : off+n : off+n]
}

// Sampler maps independent standard normals to correlated simple returns
// r = mean + L·z.
type Sampler struct {
	mean *mat.VecDense
	L    *mat.TriDense
	n    int
}

// NewSampler checks that mean and L agree in dimension.
func NewSampler(mean []float64, L *mat.TriDense) (*Sampler, error) {
	n, _ := L.Dims()
	if len(mean) != n {
		return nil, fmt.Errorf("%w: mean has %d entries, factor is %dx%d", ErrInvalidConfig, len(mean), n, n)
	}
	m := make([]float64, n)
	copy(m, mean)
	return &Sampler{mean: mat.NewVecDense(n, m), L: L, n: n}, nil
}

// StreamFor returns the random source owned by one trajectory. Streams for
// different trajectories never overlap, so output does not depend on how
// trajectories are scheduled.
func StreamFor(seed uint64, trajectory int) rand.Source {
	return rand.NewPCG(seed, uint64(trajectory))
}

// SampleTrajectory fills dst (steps×assets, step-major) for one trajectory.
func (s *Sampler) SampleTrajectory(dst []float64, steps int, src rand.Source) {
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	z := make([]float64, s.n)
	zv := mat.NewVecDense(s.n, z)

	for step := 0; step < steps; step++ {
		for a := range z {
			z[a] = normal.Rand()
		}
		out := mat.NewVecDense(s.n, dst[step*s.n:(step+1)*s.n])
		out.MulVec(s.L, zv)
		out.AddVec(out, s.mean)
	}
}

// Sample draws a full cube on the pool. Trajectory t always uses StreamFor(seed, t).
func (s *Sampler) Sample(ctx context.Context, pool *workers.Pool, trajectories, steps int, seed uint64) (*ReturnCube, error) {
	if trajectories <= 0 || steps <= 0 {
		return nil, fmt.Errorf("%w: need positive trajectories and steps, got %d and %d", ErrInvalidConfig, trajectories, steps)
	}

	cube := NewReturnCube(trajectories, steps, s.n)
	cube.Seed = seed

	err := pool.ForEach(ctx, trajectories, func(ctx context.Context, lo, hi int) error {
		for t := lo; t < hi; t++ {
			if t%64 == 0 && ctx.Err() != nil {
				return ctx.Err()
			}
			s.SampleTrajectory(cube.Trajectory(t), steps, StreamFor(seed, t))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return cube, nil
}
