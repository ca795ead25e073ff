package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 300*time.Second, cfg.Intervals.Learning)
	assert.Equal(t, 900*time.Second, cfg.Intervals.Improvement)
	assert.Equal(t, 60*time.Second, cfg.Intervals.Monitoring)
	assert.Equal(t, 30*time.Second, cfg.Intervals.Flush)
	assert.Equal(t, 100, cfg.Buffers.BatchSize)
	assert.Equal(t, 10000, cfg.Buffers.MaxBufferSize)
	assert.Equal(t, 50000, cfg.Buffers.MaxEvents)
	assert.Equal(t, 10, cfg.Buffers.MaxModelVersions)
	assert.Equal(t, 7*24*time.Hour, cfg.Retention.Events)
	assert.Equal(t, 30*24*time.Hour, cfg.Retention.Reports)
	assert.Equal(t, 0.05, cfg.Thresholds.Performance)
	assert.Equal(t, 0.70, cfg.Thresholds.ValidationScore)
	assert.Equal(t, float64(80), cfg.Thresholds.CPUUsage)
	assert.Equal(t, 5*time.Minute, cfg.Escalation.Critical.After)
	assert.Equal(t, "admin", cfg.Escalation.Critical.Target)
	assert.Equal(t, "team", cfg.Escalation.High.Target)
	assert.Equal(t, "monitoring", cfg.Escalation.Medium.Target)
	assert.Equal(t, 3, cfg.Pipeline.MaxConcurrentTasks)
	assert.Equal(t, 30*time.Minute, cfg.Pipeline.ABTestDuration)
	assert.True(t, cfg.Features.AutoRecovery)
	assert.True(t, cfg.Features.BackupBeforeUpdate)

	require.NoError(t, Validate(cfg))
}

func TestInitializeMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 50000, cfg.Buffers.MaxEvents)
}

func TestInitializeMergesUserYAML(t *testing.T) {
	dir := t.TempDir()
	yaml := `
intervals:
  improvement: 5m
buffers:
  batch_size: 50
features:
  ab_testing: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(yaml), 0o644))

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.Intervals.Improvement)
	assert.Equal(t, 50, cfg.Buffers.BatchSize)
	// Untouched values keep defaults.
	assert.Equal(t, 300*time.Second, cfg.Intervals.Learning)
	assert.Equal(t, 10000, cfg.Buffers.MaxBufferSize)
}

func TestInitializeReadsBareIntegersAsSeconds(t *testing.T) {
	dir := t.TempDir()
	yaml := `
intervals:
  learning: 300
pipeline:
  ab_test_duration: 1800
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(yaml), 0o644))

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 300*time.Second, cfg.Intervals.Learning)
	assert.Equal(t, 30*time.Minute, cfg.Pipeline.ABTestDuration)
}

func TestInitializeRejectsInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("intervals: ["), 0o644))

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("CLADC_TEST_DSN", "postgres://localhost/cladc")

	out := ExpandEnv([]byte("bus:\n  postgres_dsn: {{.CLADC_TEST_DSN}}\n"))
	assert.Contains(t, string(out), "postgres://localhost/cladc")

	// Plain $ passes through untouched.
	out = ExpandEnv([]byte("pattern: ^secret.*$\n"))
	assert.Equal(t, "pattern: ^secret.*$\n", string(out))
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "zero monitoring interval",
			mutate: func(c *Config) { c.Intervals.Monitoring = 0 },
			errMsg: "monitoring",
		},
		{
			name:   "batch size zero",
			mutate: func(c *Config) { c.Buffers.BatchSize = 0 },
			errMsg: "batch_size",
		},
		{
			name:   "buffer smaller than batch",
			mutate: func(c *Config) { c.Buffers.MaxBufferSize = 10 },
			errMsg: "max_buffer_size",
		},
		{
			name:   "validation score above 1",
			mutate: func(c *Config) { c.Thresholds.ValidationScore = 1.5 },
			errMsg: "validation_score",
		},
		{
			name:   "cpu usage above 100",
			mutate: func(c *Config) { c.Thresholds.CPUUsage = 150 },
			errMsg: "cpu_usage",
		},
		{
			name:   "too many workers",
			mutate: func(c *Config) { c.Pipeline.MaxConcurrentTasks = 51 },
			errMsg: "max_concurrent_tasks",
		},
		{
			name:   "jitter not below poll interval",
			mutate: func(c *Config) { c.Pipeline.PollIntervalJitter = c.Pipeline.PollInterval },
			errMsg: "poll_interval_jitter",
		},
		{
			name:   "max backoff below initial",
			mutate: func(c *Config) { c.Bus.MaxBackoff = c.Bus.InitialBackoff / 2 },
			errMsg: "max_backoff",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestReconfigureIsAtomicAndNonMutating(t *testing.T) {
	base := DefaultConfig()
	patch := &Config{Buffers: &Buffers{BatchSize: 25}}

	next, err := Reconfigure(base, patch)
	require.NoError(t, err)
	assert.Equal(t, 25, next.Buffers.BatchSize)
	assert.Equal(t, 100, base.Buffers.BatchSize, "base must not be mutated")

	// Invalid patch never produces a config.
	bad := &Config{Pipeline: &Pipeline{MaxConcurrentTasks: 99}}
	_, err = Reconfigure(base, bad)
	require.Error(t, err)
}
