// Package workers provides bounded parallel execution over index ranges.
// Work is split into fixed batches so the partitioning never depends on the
// number of goroutines.
package workers

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BatchFunc processes the half-open index range [lo, hi).
type BatchFunc func(ctx context.Context, lo, hi int) error

// Pool runs batches on a bounded number of goroutines
type Pool struct {
	logger  *zap.Logger
	config  *PoolConfig
	metrics *PoolMetrics
}

// PoolConfig configures the worker pool
type PoolConfig struct {
	Name          string // Pool name for logging
	NumWorkers    int    // Max concurrent batches
	BatchSize     int    // Indices per batch
	PanicRecovery bool   // Convert panics in batches into errors
}

// DefaultPoolConfig returns sensible defaults
func DefaultPoolConfig(name string) *PoolConfig {
	return &PoolConfig{
		Name:          name,
		NumWorkers:    runtime.NumCPU(),
		BatchSize:     256,
		PanicRecovery: true,
	}
}

// PoolMetrics tracks pool activity
type PoolMetrics struct {
	BatchesSubmitted atomic.Int64
	BatchesCompleted atomic.Int64
	BatchesFailed    atomic.Int64
	PanicRecovered   atomic.Int64
	busyNanos        atomic.Int64
}

// PoolStats is a snapshot of PoolMetrics
type PoolStats struct {
	BatchesSubmitted int64         `json:"batches_submitted"`
	BatchesCompleted int64         `json:"batches_completed"`
	BatchesFailed    int64         `json:"batches_failed"`
	PanicRecovered   int64         `json:"panic_recovered"`
	BusyTime         time.Duration `json:"busy_time"`
}

// PanicError represents a recovered panic
type PanicError struct {
	Pool  string
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("worker pool %s: panic recovered: %v", e.Pool, e.Value)
}

// NewPool creates a new worker pool
func NewPool(logger *zap.Logger, config *PoolConfig) *Pool {
	if config == nil {
		config = DefaultPoolConfig("default")
	}
	if config.NumWorkers <= 0 {
		config.NumWorkers = runtime.NumCPU()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 256
	}

	return &Pool{
		logger:  logger,
		config:  config,
		metrics: &PoolMetrics{},
	}
}

// ForEach splits [0, n) into batches of BatchSize and runs fn on each, at most
// NumWorkers at a time. The first error cancels the remaining batches.
func (p *Pool) ForEach(ctx context.Context, n int, fn BatchFunc) error {
	if n <= 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.NumWorkers)

	for lo := 0; lo < n; lo += p.config.BatchSize {
		hi := lo + p.config.BatchSize
		if hi > n {
			hi = n
		}

		if gctx.Err() != nil {
			break
		}

		p.metrics.BatchesSubmitted.Add(1)
		lo := lo
		g.Go(func() error {
			return p.execute(gctx, lo, hi, fn)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// execute runs a single batch with panic recovery
func (p *Pool) execute(ctx context.Context, lo, hi int, fn BatchFunc) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		p.metrics.busyNanos.Add(int64(time.Since(start)))
	}()

	if p.config.PanicRecovery {
		defer func() {
			if r := recover(); r != nil {
				p.metrics.PanicRecovered.Add(1)
				p.logger.Error("worker recovered from panic",
					zap.String("pool", p.config.Name),
					zap.Int("lo", lo),
					zap.Int("hi", hi),
					zap.Any("panic", r),
				)
				err = &PanicError{Pool: p.config.Name, Value: r}
			}
			if err != nil {
				p.metrics.BatchesFailed.Add(1)
			}
		}()
	}

	if err = fn(ctx, lo, hi); err != nil {
		if !p.config.PanicRecovery {
			p.metrics.BatchesFailed.Add(1)
		}
		return err
	}

	p.metrics.BatchesCompleted.Add(1)
	return nil
}

// Workers returns the concurrency limit.
func (p *Pool) Workers() int { return p.config.NumWorkers }

// Stats returns current metrics
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		BatchesSubmitted: p.metrics.BatchesSubmitted.Load(),
		BatchesCompleted: p.metrics.BatchesCompleted.Load(),
		BatchesFailed:    p.metrics.BatchesFailed.Load(),
		PanicRecovered:   p.metrics.PanicRecovered.Load(),
		BusyTime:         time.Duration(p.metrics.busyNanos.Load()),
	}
}
