package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/atlas-desktop/portfolio-lab/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Len(t, cfg.Scenario.Assets, 2)
	assert.Equal(t, types.Asset{Name: "stock", ExpectedReturn: 0.0006, Volatility: 0.012}, cfg.Scenario.Assets[0])
	assert.Equal(t, types.Asset{Name: "bond", ExpectedReturn: 0.0002, Volatility: 0.004}, cfg.Scenario.Assets[1])
	assert.Equal(t, [][]float64{{1, -0.2}, {-0.2, 1}}, cfg.Scenario.Correlation)
	assert.True(t, cfg.Scenario.LongOnly)
	assert.Empty(t, cfg.Scenario.Strategies)

	assert.Equal(t, 5000, cfg.Simulator.NumTrajectories)
	assert.Equal(t, 252, cfg.Simulator.NumSteps)
	assert.Equal(t, 100.0, cfg.Simulator.StartValue)
	require.NotNil(t, cfg.Simulator.Seed)
	assert.Equal(t, uint64(42), *cfg.Simulator.Seed)
	assert.Equal(t, types.CollapseReject, cfg.Simulator.CollapsePolicy)

	assert.Equal(t, 2000, cfg.Optimizer.MaxIterations)
	assert.Equal(t, 30*time.Second, cfg.Optimizer.Timeout)
	assert.Equal(t, []float64{-0.4, -0.2, 0.0, 0.2}, cfg.Sweep.Rhos)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/ws", cfg.Server.WebSocketPath)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "scenario.yaml", `
log_level: debug
scenario:
  assets:
    - name: equities
      expected_return: 0.0005
      volatility: 0.01
    - name: credit
      expected_return: 0.0003
      volatility: 0.006
    - name: cash
      expected_return: 0.0001
      volatility: 0.0005
  correlation:
    - [1, 0.3, 0]
    - [0.3, 1, 0]
    - [0, 0, 1]
  long_only: false
  strategies:
    - name: sixty forty
      weights: [0.6, 0.4, 0]
simulator:
  num_trajectories: 1000
  collapse_policy: absorb
  seed: 7
optimizer:
  timeout: 5s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	require.Len(t, cfg.Scenario.Assets, 3)
	assert.Equal(t, "cash", cfg.Scenario.Assets[2].Name)
	assert.Equal(t, 0.3, cfg.Scenario.Correlation[0][1])
	assert.False(t, cfg.Scenario.LongOnly)
	require.Len(t, cfg.Scenario.Strategies, 1)
	assert.Equal(t, []float64{0.6, 0.4, 0}, cfg.Scenario.Strategies[0].Weights)

	assert.Equal(t, 1000, cfg.Simulator.NumTrajectories)
	assert.Equal(t, 252, cfg.Simulator.NumSteps)
	assert.Equal(t, types.CollapseAbsorb, cfg.Simulator.CollapsePolicy)
	assert.Equal(t, uint64(7), *cfg.Simulator.Seed)
	assert.Equal(t, 5*time.Second, cfg.Optimizer.Timeout)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORTFOLIO_LAB_SIMULATOR_NUM_TRAJECTORIES", "1234")
	t.Setenv("PORTFOLIO_LAB_SERVER_PORT", "9090")
	t.Setenv("PORTFOLIO_LAB_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1234, cfg.Simulator.NumTrajectories)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestRandomSeed(t *testing.T) {
	t.Setenv("PORTFOLIO_LAB_SIMULATOR_SEED", "random")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Nil(t, cfg.Simulator.Seed)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "asymmetric correlation",
			content: `
scenario:
  correlation: [[1, 0.5], [0.2, 1]]
`,
		},
		{
			name: "dimension mismatch",
			content: `
scenario:
  correlation: [[1, 0, 0], [0, 1, 0], [0, 0, 1]]
`,
		},
		{
			name: "strategy weights",
			content: `
scenario:
  strategies:
    - name: bad
      weights: [0.9, 0.9]
`,
		},
		{
			name: "unnamed strategy",
			content: `
scenario:
  strategies:
    - weights: [0.5, 0.5]
`,
		},
		{
			name: "zero trajectories",
			content: `
simulator:
  num_trajectories: 0
`,
		},
		{
			name: "unknown collapse policy",
			content: `
simulator:
  collapse_policy: ignore
`,
		},
		{
			name: "sweep rho",
			content: `
sweep:
  rhos: [0.1, 1.5]
`,
		},
		{
			name: "trajectory cap",
			content: `
simulator:
  num_trajectories: 200000
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "bad.yaml", tt.content))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
