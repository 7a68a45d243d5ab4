package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/atlas-desktop/portfolio-lab/internal/analysis"
	"github.com/atlas-desktop/portfolio-lab/internal/charts"
	"github.com/atlas-desktop/portfolio-lab/internal/market"
	"github.com/atlas-desktop/portfolio-lab/internal/montecarlo"
	"github.com/atlas-desktop/portfolio-lab/internal/optimization"
	"github.com/atlas-desktop/portfolio-lab/internal/report"
	"github.com/atlas-desktop/portfolio-lab/pkg/types"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// ScenarioRequest overrides the configured market scenario. Omitted fields
// keep the configured values; sending assets replaces the correlation too.
type ScenarioRequest struct {
	Assets       []types.Asset `json:"assets,omitempty"`
	Correlation  [][]float64   `json:"correlation,omitempty"`
	RiskFreeRate *float64      `json:"riskFreeRate,omitempty"`
	LongOnly     *bool         `json:"longOnly,omitempty"`
}

// SimulationRequest overrides simulator settings for one request.
type SimulationRequest struct {
	NumTrajectories int                  `json:"numTrajectories,omitempty"`
	NumSteps        int                  `json:"numSteps,omitempty"`
	StartValue      float64              `json:"startValue,omitempty"`
	Seed            *uint64              `json:"seed,omitempty"`
	CollapsePolicy  types.CollapsePolicy `json:"collapsePolicy,omitempty"`
	KeepPaths       *int                 `json:"keepPaths,omitempty"`
}

// SimulateRequest simulates one weight vector.
type SimulateRequest struct {
	ScenarioRequest
	Name       string            `json:"name,omitempty"`
	Weights    []float64         `json:"weights"`
	Simulation SimulationRequest `json:"simulation"`
}

// OptimizeRequest maximizes the Sharpe ratio of the scenario.
type OptimizeRequest struct {
	ScenarioRequest
	Initial []float64 `json:"initial,omitempty"`
}

// OptimizeResponse is the reply to an optimize request. Shared reports that
// the result was computed once for several identical concurrent requests.
type OptimizeResponse struct {
	Assets []string                  `json:"assets"`
	Result *types.OptimizationResult `json:"result"`
	Shared bool                      `json:"shared"`
}

// CompareRequest evaluates strategies against the max-Sharpe portfolio.
type CompareRequest struct {
	ScenarioRequest
	Strategies []types.Strategy  `json:"strategies,omitempty"`
	Simulation SimulationRequest `json:"simulation"`
}

// CompareResponse carries the stored run and its presentation summary.
type CompareResponse struct {
	Run     *RunRecord               `json:"run"`
	Summary report.ComparisonSummary `json:"summary"`
}

// SweepRequest re-simulates a two-asset portfolio across correlation levels.
type SweepRequest struct {
	Assets     []types.Asset     `json:"assets,omitempty"`
	Weights    []float64         `json:"weights,omitempty"`
	Rhos       []float64         `json:"rhos,omitempty"`
	Simulation SimulationRequest `json:"simulation"`
}

// SweepResponse lists one point per correlation level.
type SweepResponse struct {
	Weights []float64          `json:"weights"`
	Points  []types.SweepPoint `json:"points"`
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", ErrBadRequest, err)
	}
	return nil
}

// scenario merges req into the configured scenario and builds the model.
func (s *Server) scenario(req ScenarioRequest) (types.ScenarioConfig, *market.Model, error) {
	sc := s.config.Scenario
	if len(req.Assets) > 0 {
		sc.Assets = req.Assets
		sc.Correlation = req.Correlation
	} else if len(req.Correlation) > 0 {
		sc.Correlation = req.Correlation
	}
	if req.RiskFreeRate != nil {
		sc.RiskFreeRate = *req.RiskFreeRate
	}
	if req.LongOnly != nil {
		sc.LongOnly = *req.LongOnly
	}

	model, err := market.FromConfig(sc)
	if err != nil {
		return sc, nil, err
	}
	return sc, model, nil
}

// simulator returns a simulator for the configured settings with req applied.
func (s *Server) simulatorFor(req SimulationRequest) (*montecarlo.Simulator, error) {
	cfg := s.simulator.Config()
	if req.NumTrajectories != 0 {
		cfg.NumTrajectories = req.NumTrajectories
	}
	if req.NumSteps != 0 {
		cfg.NumSteps = req.NumSteps
	}
	if req.StartValue != 0 {
		cfg.StartValue = req.StartValue
	}
	if req.Seed != nil {
		cfg.Seed = req.Seed
	}
	if req.CollapsePolicy != "" {
		cfg.CollapsePolicy = req.CollapsePolicy
	}
	if req.KeepPaths != nil {
		cfg.KeepPaths = *req.KeepPaths
	}

	if limit := s.config.Server.MaxTrajectories; limit > 0 && cfg.NumTrajectories > limit {
		return nil, fmt.Errorf("%w: numTrajectories %d exceeds the limit of %d", ErrBadRequest, cfg.NumTrajectories, limit)
	}
	if err := montecarlo.Validate(&cfg); err != nil {
		return nil, err
	}
	return s.simulator.WithConfig(cfg), nil
}

// handleSimulate runs one weight vector and stores the result
func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req SimulateRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	sc, model, err := s.scenario(req.ScenarioRequest)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := market.ValidateWeights(req.Weights, model.Dim(), sc.LongOnly); err != nil {
		s.writeError(w, r, err)
		return
	}
	sim, err := s.simulatorFor(req.Simulation)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	start := time.Now()
	run, err := sim.Run(r.Context(), model, req.Weights)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stats, err := optimization.PortfolioStats(model.Means(), model.Covariance(), run.Weights, sc.RiskFreeRate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	name := req.Name
	if name == "" {
		name = "custom"
	}
	rec := &RunRecord{
		Kind: RunKindSimulation,
		Seed: run.Result.Seed,
		Outcomes: []types.StrategyOutcome{{
			Name:    name,
			Weights: run.Weights,
			Stats:   stats,
			Risk:    run.Risk,
			Result:  run.Result,
		}},
		Duration:  time.Since(start),
		KeptPaths: len(run.Result.Paths),
	}
	s.store(rec)

	writeJSON(w, http.StatusCreated, rec)
}

// handleOptimize maximizes the Sharpe ratio. Identical concurrent requests
// share one solve.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	sc, model, err := s.scenario(req.ScenarioRequest)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	key, err := json.Marshal(struct {
		Assets      []types.Asset
		Correlation [][]float64
		Rf          float64
		LongOnly    bool
		Initial     []float64
	}{sc.Assets, sc.Correlation, sc.RiskFreeRate, sc.LongOnly, req.Initial})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	v, err, shared := s.optimize.Do(string(key), func() (interface{}, error) {
		return s.optimizer.Solve(ctx, optimization.Problem{
			Mean:         model.Means(),
			Cov:          model.Covariance(),
			RiskFreeRate: sc.RiskFreeRate,
			LongOnly:     sc.LongOnly,
			Initial:      req.Initial,
		})
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, OptimizeResponse{
		Assets: model.Assets().Names(),
		Result: v.(*types.OptimizationResult),
		Shared: shared,
	})
}

// handleCompare runs the strategy comparison and stores it
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	sc, model, err := s.scenario(req.ScenarioRequest)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sim, err := s.simulatorFor(req.Simulation)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	strategies := req.Strategies
	if len(strategies) == 0 && len(req.Assets) == 0 {
		strategies = sc.Strategies
	}
	for _, st := range strategies {
		if err := market.ValidateWeights(st.Weights, model.Dim(), sc.LongOnly); err != nil {
			s.writeError(w, r, fmt.Errorf("strategy %q: %w", st.Name, err))
			return
		}
	}

	start := time.Now()
	cmp, err := analysis.Compare(r.Context(), sim, s.optimizer, model, sc.RiskFreeRate, sc.LongOnly, strategies)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rec := &RunRecord{
		Kind:     RunKindComparison,
		Seed:     cmp.Seed,
		Optimal:  cmp.Optimal,
		Outcomes: cmp.Outcomes,
		Duration: time.Since(start),
	}
	if len(cmp.Outcomes) > 0 && cmp.Outcomes[0].Result != nil {
		rec.KeptPaths = len(cmp.Outcomes[0].Result.Paths)
	}
	s.store(rec)

	writeJSON(w, http.StatusCreated, CompareResponse{
		Run:     rec,
		Summary: report.SummarizeComparison(cmp, nil),
	})
}

// handleSweep runs the correlation sweep synchronously
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	var req SweepRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, err := s.sweep(r.Context(), req, nil)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// sweep resolves defaults for req and runs it, passing each point to fn.
func (s *Server) sweep(ctx context.Context, req SweepRequest, fn analysis.SweepFunc) (*SweepResponse, error) {
	assets := req.Assets
	if len(assets) == 0 {
		assets = s.config.Scenario.Assets
	}
	weights := req.Weights
	if len(weights) == 0 {
		weights = s.config.Sweep.Weights
	}
	rhos := req.Rhos
	if len(rhos) == 0 {
		rhos = s.config.Sweep.Rhos
	}
	for _, rho := range rhos {
		if !(rho > -1 && rho < 1) {
			return nil, fmt.Errorf("%w: rho %v outside (-1, 1)", ErrBadRequest, rho)
		}
	}

	sim, err := s.simulatorFor(req.Simulation)
	if err != nil {
		return nil, err
	}

	points, err := analysis.CorrelationSweep(ctx, sim, assets, weights, rhos, fn)
	if err != nil {
		return nil, err
	}
	return &SweepResponse{Weights: weights, Points: points}, nil
}

// handleListRuns lists stored runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.runs.List())
}

// handleGetRun returns one stored run
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	rec, err := s.runs.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleRunChart renders a PNG chart of one strategy of a stored run.
// The strategy query parameter defaults to the first outcome.
func (s *Server) handleRunChart(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rec, err := s.runs.Get(vars["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	outcome, err := rec.Outcome(r.URL.Query().Get("strategy"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	png, err := s.renderer.Render(charts.Kind(vars["kind"]), outcome.Name, outcome.Result)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		s.logger.Debug("chart write failed", zap.Error(err))
	}
}

// store saves rec and announces it to WebSocket subscribers.
func (s *Server) store(rec *RunRecord) {
	id := s.runs.Put(rec)
	s.logger.Info("run stored",
		zap.String("id", id),
		zap.String("kind", rec.Kind),
		zap.Uint64("seed", rec.Seed),
		zap.Duration("elapsed", rec.Duration),
	)
	s.hub.PublishRun(rec)
}
