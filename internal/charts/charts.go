// Package charts renders simulation results as PNG images.
package charts

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/atlas-desktop/portfolio-lab/internal/risk"
	"github.com/atlas-desktop/portfolio-lab/pkg/types"
	gocharts "github.com/vicanso/go-charts/v2"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Kind names a chart.
type Kind string

const (
	KindPaths     Kind = "paths"
	KindBands     Kind = "bands"
	KindHistogram Kind = "histogram"
)

// Kinds lists the charts that can be drawn from one simulation result.
var Kinds = []Kind{KindPaths, KindBands, KindHistogram}

// ErrNoData is returned when there is nothing to plot.
var ErrNoData = errors.New("no data to chart")

// ErrUnknownKind is returned by Render for an unsupported kind.
var ErrUnknownKind = errors.New("unknown chart kind")

// Renderer draws charts with a fixed size and sampling.
type Renderer struct {
	logger *zap.Logger
	config types.ChartConfig
}

// DefaultChartConfig returns sensible defaults
func DefaultChartConfig() *types.ChartConfig {
	return &types.ChartConfig{
		SamplePaths: 50,
		Bins:        40,
		Width:       900,
		Height:      500,
	}
}

// NewRenderer creates a renderer
func NewRenderer(logger *zap.Logger, config *types.ChartConfig) *Renderer {
	def := DefaultChartConfig()
	if config == nil {
		config = def
	}
	cfg := *config
	if cfg.SamplePaths <= 0 {
		cfg.SamplePaths = def.SamplePaths
	}
	if cfg.Bins <= 0 {
		cfg.Bins = def.Bins
	}
	if cfg.Width <= 0 {
		cfg.Width = def.Width
	}
	if cfg.Height <= 0 {
		cfg.Height = def.Height
	}
	return &Renderer{logger: logger, config: cfg}
}

// Render draws the chart of the given kind.
func (r *Renderer) Render(kind Kind, title string, result *types.SimulationResult) ([]byte, error) {
	switch kind {
	case KindPaths:
		return r.Paths(title, result)
	case KindBands:
		return r.Bands(title, result)
	case KindHistogram:
		if result == nil {
			return nil, ErrNoData
		}
		return r.Histogram(title, result.TerminalValues)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// Paths plots up to SamplePaths kept value paths, each starting at the start value.
func (r *Renderer) Paths(title string, result *types.SimulationResult) ([]byte, error) {
	if result == nil || len(result.Paths) == 0 {
		return nil, fmt.Errorf("%w: no kept paths", ErrNoData)
	}

	n := len(result.Paths)
	if n > r.config.SamplePaths {
		n = r.config.SamplePaths
	}
	series := make([][]float64, n)
	for i := 0; i < n; i++ {
		series[i] = withStart(result.StartValue, result.Paths[i])
	}

	yMin, yMax := bounds(series)
	return r.line(title, fmt.Sprintf("%d of %d trajectories", n, len(result.TerminalValues)), series, nil, yMin, yMax)
}

// Bands plots the 5th, 50th and 95th percentile of the kept paths at every step.
func (r *Renderer) Bands(title string, result *types.SimulationResult) ([]byte, error) {
	if result == nil || len(result.Paths) == 0 {
		return nil, fmt.Errorf("%w: no kept paths", ErrNoData)
	}

	levels := []float64{0.05, 0.5, 0.95}
	steps := len(result.Paths[0])
	series := make([][]float64, len(levels))
	for i := range series {
		series[i] = make([]float64, steps+1)
		series[i][0] = result.StartValue
	}

	column := make([]float64, len(result.Paths))
	for s := 0; s < steps; s++ {
		for t, path := range result.Paths {
			column[t] = path[s]
		}
		sort.Float64s(column)
		for i, p := range levels {
			series[i][s+1] = risk.PercentileSorted(column, p)
		}
	}

	names := make([]string, len(levels))
	for i, p := range levels {
		names[i] = risk.PercentileKey(p)
	}

	yMin, yMax := bounds(series)
	return r.line(title, fmt.Sprintf("percentile bands over %d paths", len(result.Paths)), series, names, yMin, yMax)
}

// Histogram plots the distribution of final values.
func (r *Renderer) Histogram(title string, values []float64) ([]byte, error) {
	counts, dividers, err := Histogram(values, r.config.Bins)
	if err != nil {
		return nil, err
	}

	labels := make([]string, len(counts))
	for i := range counts {
		labels[i] = strconv.FormatFloat((dividers[i]+dividers[i+1])/2, 'f', 1, 64)
	}

	p, err := gocharts.BarRender(
		[][]float64{counts},
		gocharts.TitleTextOptionFunc(title, fmt.Sprintf("final values, %d trajectories", len(values))),
		gocharts.XAxisOptionFunc(gocharts.XAxisOption{
			Data:        labels,
			SplitNumber: 8,
		}),
		gocharts.ThemeOptionFunc(gocharts.ThemeLight),
		gocharts.WidthOptionFunc(r.config.Width),
		gocharts.HeightOptionFunc(r.config.Height),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to render histogram: %w", err)
	}

	buf, err := p.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to generate chart bytes: %w", err)
	}
	return buf, nil
}

// SweepChart plots VaR95 and CVaR95 against the correlation level.
func (r *Renderer) SweepChart(title string, points []types.SweepPoint) ([]byte, error) {
	if len(points) == 0 {
		return nil, ErrNoData
	}

	labels := make([]string, len(points))
	series := [][]float64{make([]float64, len(points)), make([]float64, len(points))}
	for i, pt := range points {
		labels[i] = strconv.FormatFloat(pt.Rho, 'f', 2, 64)
		series[0][i] = pt.ValueAtRisk95 * 100
		series[1][i] = pt.ConditionalValueAtRisk95 * 100
	}

	p, err := gocharts.BarRender(
		series,
		gocharts.TitleTextOptionFunc(title, "horizon return at the 5% tail, %"),
		gocharts.XAxisOptionFunc(gocharts.XAxisOption{Data: labels}),
		gocharts.LegendOptionFunc(gocharts.LegendOption{
			Data: []string{"VaR95", "CVaR95"},
			Top:  gocharts.PositionTop,
		}),
		gocharts.ThemeOptionFunc(gocharts.ThemeLight),
		gocharts.WidthOptionFunc(r.config.Width),
		gocharts.HeightOptionFunc(r.config.Height),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to render sweep: %w", err)
	}

	return p.Bytes()
}

func (r *Renderer) line(title, subtitle string, series [][]float64, legend []string, yMin, yMax float64) ([]byte, error) {
	steps := len(series[0])
	x := make([]string, steps)
	for i := range x {
		x[i] = strconv.Itoa(i)
	}

	opts := []gocharts.OptionFunc{
		gocharts.TitleTextOptionFunc(title, subtitle),
		gocharts.XAxisOptionFunc(gocharts.XAxisOption{
			Data:        x,
			SplitNumber: 12,
			BoundaryGap: gocharts.FalseFlag(),
		}),
		gocharts.YAxisOptionFunc(gocharts.YAxisOption{
			Min:         &yMin,
			Max:         &yMax,
			DivideCount: 5,
		}),
		gocharts.ThemeOptionFunc(gocharts.ThemeLight),
		gocharts.WidthOptionFunc(r.config.Width),
		gocharts.HeightOptionFunc(r.config.Height),
	}
	if legend != nil {
		opts = append(opts, gocharts.LegendOptionFunc(gocharts.LegendOption{
			Data: legend,
			Top:  gocharts.PositionTop,
		}))
	}

	p, err := gocharts.LineRender(series, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to render chart: %w", err)
	}

	buf, err := p.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to generate chart bytes: %w", err)
	}

	r.logger.Debug("rendered line chart",
		zap.String("title", title),
		zap.Int("series", len(series)),
		zap.Int("bytes", len(buf)),
	)
	return buf, nil
}

// Histogram bins values into equal-width buckets spanning their range.
// dividers has one more element than counts.
func Histogram(values []float64, bins int) (counts, dividers []float64, err error) {
	if len(values) == 0 {
		return nil, nil, ErrNoData
	}
	if bins <= 0 {
		return nil, nil, fmt.Errorf("bins must be positive, got %d", bins)
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	lo, hi := sorted[0], sorted[len(sorted)-1]
	if math.IsNaN(lo) || math.IsInf(lo, 0) || math.IsInf(hi, 0) {
		return nil, nil, fmt.Errorf("%w: non-finite values", ErrNoData)
	}
	if hi-lo < 1e-9*math.Max(1, math.Abs(hi)) {
		lo, hi = lo-0.5, hi+0.5
	}

	dividers = floats.Span(make([]float64, bins+1), lo, hi)
	dividers[bins] = math.Nextafter(hi, math.Inf(1))
	counts = stat.Histogram(nil, dividers, sorted, nil)
	return counts, dividers, nil
}

// WriteFile stores a rendered chart as dir/name.png and returns the path.
func WriteFile(dir, name string, png []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create chart dir: %w", err)
	}
	path := filepath.Join(dir, name+".png")
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", fmt.Errorf("write chart: %w", err)
	}
	return path, nil
}

func withStart(start float64, path []float64) []float64 {
	out := make([]float64, 0, len(path)+1)
	out = append(out, start)
	return append(out, path...)
}

func bounds(series [][]float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, s := range series {
		lo = math.Min(lo, floats.Min(s))
		hi = math.Max(hi, floats.Max(s))
	}
	pad := (hi - lo) * 0.05
	if pad == 0 {
		pad = math.Max(1, math.Abs(hi)*0.01)
	}
	lo -= pad
	if lo < 0 {
		lo = 0
	}
	return lo, hi + pad
}
