package config

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String(ConfigFlag, "", "")
	fs.String("log-level", "info", "")
	fs.Int("trajectories", 5000, "")
	fs.String("seed", "", "")
	return fs
}

var testBindings = FlagBindings{
	"log_level":                  "log-level",
	"simulator.num_trajectories": "trajectories",
	"simulator.seed":             "seed",
}

func TestLoadWithFlagsOverrides(t *testing.T) {
	path := writeFile(t, "scenario.yaml", `
log_level: warn
simulator:
  num_trajectories: 1000
`)
	t.Setenv("PORTFOLIO_LAB_SIMULATOR_NUM_TRAJECTORIES", "2000")

	fs := newFlagSet()
	require.NoError(t, fs.Parse([]string{"--config", path, "--trajectories", "3000", "--seed", "9"}))

	cfg, err := LoadWithFlags(fs, testBindings)
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Simulator.NumTrajectories)
	assert.Equal(t, "warn", cfg.LogLevel)
	require.NotNil(t, cfg.Simulator.Seed)
	assert.Equal(t, uint64(9), *cfg.Simulator.Seed)
}

func TestLoadWithFlagsUnsetKeepsDefaults(t *testing.T) {
	fs := newFlagSet()
	require.NoError(t, fs.Parse(nil))

	cfg, err := LoadWithFlags(fs, testBindings)
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Simulator.NumTrajectories)
	assert.Equal(t, uint64(42), *cfg.Simulator.Seed)
}

func TestLoadWithFlagsRandomSeed(t *testing.T) {
	fs := newFlagSet()
	require.NoError(t, fs.Parse([]string{"--seed", "random"}))

	cfg, err := LoadWithFlags(fs, testBindings)
	require.NoError(t, err)
	assert.Nil(t, cfg.Simulator.Seed)
}

func TestLoadWithFlagsUnknownFlag(t *testing.T) {
	_, err := LoadWithFlags(newFlagSet(), FlagBindings{"log_level": "verbosity"})
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = NewLogger("bogus")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}
