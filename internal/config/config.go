// Package config loads portfolio-lab settings from an optional file and
// PORTFOLIO_LAB_* environment variables on top of built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atlas-desktop/portfolio-lab/internal/market"
	"github.com/atlas-desktop/portfolio-lab/internal/montecarlo"
	"github.com/atlas-desktop/portfolio-lab/pkg/types"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. PORTFOLIO_LAB_SERVER_PORT.
const EnvPrefix = "PORTFOLIO_LAB"

// RandomSeed as simulator.seed draws a fresh seed for every run.
const RandomSeed = "random"

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Load reads path (YAML, JSON or TOML by extension; empty means defaults
// only), applies environment overrides and validates the result.
func Load(path string) (*types.Config, error) {
	v := New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return Decode(v)
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Decode unmarshals and validates the settings held by v.
func Decode(v *viper.Viper) (*types.Config, error) {
	random := strings.EqualFold(v.GetString("simulator.seed"), RandomSeed)
	if random {
		v.Set("simulator.seed", 0)
	}

	cfg := &types.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if random {
		cfg.Simulator.Seed = nil
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("scenario.assets", []map[string]interface{}{
		{"name": "stock", "expected_return": 0.0006, "volatility": 0.012},
		{"name": "bond", "expected_return": 0.0002, "volatility": 0.004},
	})
	v.SetDefault("scenario.correlation", [][]float64{{1, -0.2}, {-0.2, 1}})
	v.SetDefault("scenario.risk_free_rate", 0.0)
	v.SetDefault("scenario.long_only", true)
	v.SetDefault("scenario.strategies", []map[string]interface{}{})

	v.SetDefault("simulator.num_trajectories", 5000)
	v.SetDefault("simulator.num_steps", 252)
	v.SetDefault("simulator.start_value", 100.0)
	v.SetDefault("simulator.seed", 42)
	v.SetDefault("simulator.collapse_policy", string(types.CollapseReject))
	v.SetDefault("simulator.workers", 0)
	v.SetDefault("simulator.batch_size", 256)
	v.SetDefault("simulator.keep_paths", 200)

	v.SetDefault("optimizer.max_iterations", 2000)
	v.SetDefault("optimizer.penalty_schedule", []float64{1e2, 1e4, 1e6, 1e8})
	v.SetDefault("optimizer.tolerance", 1e-13)
	v.SetDefault("optimizer.bound_tolerance", 1e-7)
	v.SetDefault("optimizer.timeout", 30*time.Second)

	v.SetDefault("sweep.rhos", []float64{-0.4, -0.2, 0.0, 0.2})
	v.SetDefault("sweep.weights", []float64{0.7, 0.3})

	v.SetDefault("charts.dir", "")
	v.SetDefault("charts.sample_paths", 50)
	v.SetDefault("charts.bins", 40)
	v.SetDefault("charts.width", 900)
	v.SetDefault("charts.height", 500)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.websocket_path", "/ws")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.max_runs", 100)
	v.SetDefault("server.max_trajectories", 100000)
	v.SetDefault("server.enable_metrics", true)
}

// Validate checks cross-field consistency: the scenario must form a valid
// market model, strategies must match it and the simulator settings must
// be runnable.
func Validate(cfg *types.Config) error {
	model, err := market.FromConfig(cfg.Scenario)
	if err != nil {
		return fmt.Errorf("%w: scenario: %w", ErrInvalidConfig, err)
	}

	names := make(map[string]bool, len(cfg.Scenario.Strategies))
	for i, s := range cfg.Scenario.Strategies {
		if s.Name == "" {
			return fmt.Errorf("%w: strategy %d has no name", ErrInvalidConfig, i)
		}
		if names[s.Name] {
			return fmt.Errorf("%w: duplicate strategy %q", ErrInvalidConfig, s.Name)
		}
		names[s.Name] = true
		if err := market.ValidateWeights(s.Weights, model.Dim(), false); err != nil {
			return fmt.Errorf("%w: strategy %q: %w", ErrInvalidConfig, s.Name, err)
		}
	}

	if err := montecarlo.Validate(&cfg.Simulator); err != nil {
		return fmt.Errorf("%w: simulator: %w", ErrInvalidConfig, err)
	}

	if len(cfg.Sweep.Weights) > 0 {
		if err := market.ValidateWeights(cfg.Sweep.Weights, 2, false); err != nil {
			return fmt.Errorf("%w: sweep: %w", ErrInvalidConfig, err)
		}
	}
	for _, rho := range cfg.Sweep.Rhos {
		if rho < -1 || rho > 1 {
			return fmt.Errorf("%w: sweep rho %v outside [-1, 1]", ErrInvalidConfig, rho)
		}
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("%w: server port %d out of range", ErrInvalidConfig, cfg.Server.Port)
	}
	if cfg.Server.MaxTrajectories > 0 && cfg.Simulator.NumTrajectories > cfg.Server.MaxTrajectories {
		return fmt.Errorf("%w: num_trajectories %d exceeds server.max_trajectories %d",
			ErrInvalidConfig, cfg.Simulator.NumTrajectories, cfg.Server.MaxTrajectories)
	}

	return nil
}
