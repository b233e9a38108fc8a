package glitch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateRejectsBadConfigurations(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Configuration)
	}{
		{"zero tick interval", func(c *Configuration) { c.TickInterval = 0 }},
		{"zero max sim time", func(c *Configuration) { c.MaxSimTime = 0 }},
		{"negative check frequency", func(c *Configuration) { c.CheckEveryNEvents = -1 }},
		{"min latency above max", func(c *Configuration) {
			c.Network.MinMessageLatency = 200 * time.Millisecond
			c.Network.MaxMessageLatency = 100 * time.Millisecond
		}},
		{"negative latency", func(c *Configuration) { c.Network.MinMessageLatency = -time.Millisecond }},
		{"duplicate probability above 1", func(c *Configuration) { c.Network.DuplicateProbability = 1.5 }},
		{"negative hold probability", func(c *Configuration) { c.Network.HoldProbability = -0.1 }},
		{"zero link failure mean", func(c *Configuration) {
			zero := time.Duration(0)
			c.Network.MeanTimeBetweenLinkFailures = &zero
		}},
		{"zero link recovery with failures on", func(c *Configuration) { c.Network.MeanLinkRecoveryTime = 0 }},
		{"zero partition recovery with partitions on", func(c *Configuration) { c.Network.MeanPartitionRecoveryTime = 0 }},
		{"zero node recovery with crashes on", func(c *Configuration) { c.Failure.MeanTimeToRecover = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfiguration()
			tc.mutate(&cfg)
			err := cfg.validate()
			require.ErrorIs(t, err, ErrInvalidConfiguration)
		})
	}
}

func TestDefaultConfigurationsAreValid(t *testing.T) {
	cfg := DefaultConfiguration()
	require.NoError(t, cfg.validate())
	reliable := ReliableNetwork()
	require.NoError(t, reliable.validate())
}

func TestLoadConfiguration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
seed: 42
tickInterval: 50ms
maxSimTime: 30s
checkEveryNEvents: 10
network:
  minMessageLatency: 5ms
  maxMessageLatency: 100ms
  duplicateProbability: 0.1
  holdProbability: 0.3
  meanTimeBetweenLinkFailures: 1s
  meanLinkRecoveryTime: 300ms
  meanTimeBetweenPartitions: 4s
  meanPartitionRecoveryTime: 1s
failure:
  meanTimeBetweenFailures: 3s
  meanTimeToRecover: 2s
`), 0o644))

	cfg, err := LoadConfiguration(path)
	require.NoError(t, err)
	require.Equal(t, uint64(42), cfg.Seed)
	require.Equal(t, 50*time.Millisecond, cfg.TickInterval)
	require.Equal(t, 30*time.Second, cfg.MaxSimTime)
	require.Equal(t, 10, cfg.CheckEveryNEvents)
	require.Equal(t, 100*time.Millisecond, cfg.Network.MaxMessageLatency)
	require.NotNil(t, cfg.Network.MeanTimeBetweenLinkFailures)
	require.Equal(t, time.Second, *cfg.Network.MeanTimeBetweenLinkFailures)
	require.NotNil(t, cfg.Failure.MeanTimeBetweenFailures)
	require.Equal(t, 3*time.Second, *cfg.Failure.MeanTimeBetweenFailures)
}

func TestLoadConfigurationDisablesAbsentFaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
seed: 1
tickInterval: 50ms
maxSimTime: 10s
network:
  maxMessageLatency: 100ms
`), 0o644))

	cfg, err := LoadConfiguration(path)
	require.NoError(t, err)
	require.Nil(t, cfg.Network.MeanTimeBetweenLinkFailures)
	require.Nil(t, cfg.Network.MeanTimeBetweenPartitions)
	require.Nil(t, cfg.Failure.MeanTimeBetweenFailures)
}

func TestLoadConfigurationRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
seed: 1
tickInterval: 0s
maxSimTime: 10s
network:
  maxMessageLatency: 100ms
`), 0o644))

	_, err := LoadConfiguration(path)
	require.ErrorIs(t, err, ErrInvalidConfiguration)
}
