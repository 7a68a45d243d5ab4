// Package main provides the portfolio-lab command line tool. It compares
// the configured strategies with the max-Sharpe portfolio on shared Monte
// Carlo draws, sweeps the correlation assumption and prints the report.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"unicode"

	"github.com/atlas-desktop/portfolio-lab/internal/analysis"
	"github.com/atlas-desktop/portfolio-lab/internal/charts"
	"github.com/atlas-desktop/portfolio-lab/internal/config"
	"github.com/atlas-desktop/portfolio-lab/internal/market"
	"github.com/atlas-desktop/portfolio-lab/internal/montecarlo"
	"github.com/atlas-desktop/portfolio-lab/internal/optimization"
	"github.com/atlas-desktop/portfolio-lab/internal/report"
	"github.com/atlas-desktop/portfolio-lab/pkg/types"
	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	fs := pflag.NewFlagSet("portfolio-lab", pflag.ExitOnError)
	fs.String(config.ConfigFlag, "", "Scenario/config file (YAML, JSON or TOML)")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.String("chart-dir", "", "Write PNG charts to this directory")
	fs.Int("trajectories", 5000, "Number of Monte Carlo trajectories")
	fs.String("seed", "", `Random seed, or "random" for a fresh seed`)
	format := fs.String("format", string(report.FormatText), "Report format (text, json, yaml)")
	noSweep := fs.Bool("no-sweep", false, "Skip the correlation sweep")
	fs.Parse(os.Args[1:])

	cfg, err := config.LoadWithFlags(fs, config.FlagBindings{
		"log_level":                  "log-level",
		"charts.dir":                 "chart-dir",
		"simulator.num_trajectories": "trajectories",
		"simulator.seed":             "seed",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := options{format: report.Format(*format), sweep: !*noSweep}
	if err := run(ctx, logger, cfg, opts, os.Stdout); err != nil {
		logger.Error("portfolio-lab failed", zap.Error(err))
		os.Exit(1)
	}
}

type options struct {
	format report.Format
	sweep  bool
}

// run executes the comparison and the sweep and writes the report to out.
func run(ctx context.Context, logger *zap.Logger, cfg *types.Config, opts options, out io.Writer) error {
	model, err := market.FromConfig(cfg.Scenario)
	if err != nil {
		return err
	}

	sim := montecarlo.NewSimulator(logger, &cfg.Simulator, nil)
	opt := optimization.NewOptimizer(logger, &cfg.Optimizer, nil)

	cmp, err := analysis.Compare(ctx, sim, opt, model, cfg.Scenario.RiskFreeRate, cfg.Scenario.LongOnly, cfg.Scenario.Strategies)
	if err != nil {
		return fmt.Errorf("compare strategies: %w", err)
	}

	var sweep []types.SweepPoint
	if opts.sweep && model.Dim() == 2 {
		sweep, err = analysis.CorrelationSweep(ctx, sim, cfg.Scenario.Assets, cfg.Sweep.Weights, cfg.Sweep.Rhos, func(p types.SweepPoint) error {
			logger.Debug("sweep point", zap.Float64("rho", p.Rho), zap.Float64("var95", p.ValueAtRisk95))
			return nil
		})
		if err != nil {
			return fmt.Errorf("correlation sweep: %w", err)
		}
	} else if opts.sweep {
		logger.Info("skipping correlation sweep", zap.Int("assets", model.Dim()))
	}

	if err := report.Write(out, opts.format, report.SummarizeComparison(cmp, sweep)); err != nil {
		return err
	}

	if cfg.Charts.Dir != "" {
		return writeCharts(logger, &cfg.Charts, cmp, sweep)
	}
	return nil
}

// writeCharts renders every chart kind for every strategy, plus the sweep.
func writeCharts(logger *zap.Logger, cfg *types.ChartConfig, cmp *analysis.Comparison, sweep []types.SweepPoint) error {
	renderer := charts.NewRenderer(logger, cfg)

	save := func(name string, png []byte) error {
		path, err := charts.WriteFile(cfg.Dir, name, png)
		if err != nil {
			return err
		}
		logger.Info("chart written", zap.String("path", path), zap.String("size", humanize.Bytes(uint64(len(png)))))
		return nil
	}

	for _, o := range cmp.Outcomes {
		for _, kind := range charts.Kinds {
			png, err := renderer.Render(kind, o.Name, o.Result)
			if errors.Is(err, charts.ErrNoData) {
				logger.Warn("nothing to chart", zap.String("strategy", o.Name), zap.String("kind", string(kind)))
				continue
			}
			if err != nil {
				return fmt.Errorf("chart %s for %s: %w", kind, o.Name, err)
			}
			if err := save(fileName(o.Name)+"_"+string(kind), png); err != nil {
				return err
			}
		}
	}

	if len(sweep) > 0 {
		png, err := renderer.SweepChart("correlation sweep", sweep)
		if err != nil {
			return err
		}
		return save("correlation_sweep", png)
	}
	return nil
}

// fileName turns a strategy name such as "70/30" into "70-30".
func fileName(name string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			return r
		}
		return '-'
	}, name)
}
