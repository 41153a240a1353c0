package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite", cfg.DatabaseType)
	assert.False(t, cfg.RedisEnabled)
	assert.Equal(t, "general", cfg.DefaultQueueID)
	assert.Equal(t, 3, cfg.MaxAlternatives)
	assert.InDelta(t, 0.40, cfg.ConfidenceWeightRule, 1e-9)
	assert.InDelta(t, 0.30, cfg.ConfidenceWeightSkill, 1e-9)
	assert.InDelta(t, 0.25, cfg.ConfidenceWeightAvail, 1e-9)
	assert.InDelta(t, 0.05, cfg.ConfidenceWeightHistory, 1e-9)
	assert.Equal(t, 30*time.Second, cfg.EscalationSweepInterval)
	assert.Equal(t, "@hourly", cfg.MetricsRollupSchedule)
	assert.True(t, cfg.RateLimitEnabled)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_TYPE", "memory")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("ROUTING_DEFAULT_QUEUE", "triage")
	t.Setenv("CONFIDENCE_WEIGHT_RULE", "0.5")
	t.Setenv("ESCALATION_SWEEP_INTERVAL", "10s")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "memory", cfg.DatabaseType)
	assert.True(t, cfg.RedisEnabled)
	assert.Equal(t, "triage", cfg.DefaultQueueID)
	assert.InDelta(t, 0.5, cfg.ConfidenceWeightRule, 1e-9)
	assert.Equal(t, 10*time.Second, cfg.EscalationSweepInterval)
}

func TestValidateDefaultsPass(t *testing.T) {
	require.NoError(t, Load().Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Port = "not-a-port" }},
		{"port out of range", func(c *Config) { c.Port = "70000" }},
		{"unknown database type", func(c *Config) { c.DatabaseType = "oracle" }},
		{"postgres without host", func(c *Config) { c.DatabaseType = "postgres"; c.PostgresHost = "" }},
		{"postgres without db", func(c *Config) { c.DatabaseType = "postgres"; c.PostgresDB = "" }},
		{"redis db out of range", func(c *Config) { c.RedisEnabled = true; c.RedisDB = "42" }},
		{"empty default queue", func(c *Config) { c.DefaultQueueID = "" }},
		{"negative weight", func(c *Config) { c.ConfidenceWeightRule = -0.1 }},
		{"weight above one", func(c *Config) { c.ConfidenceWeightSkill = 1.5 }},
		{"all weights zero", func(c *Config) {
			c.ConfidenceWeightRule = 0
			c.ConfidenceWeightSkill = 0
			c.ConfidenceWeightAvail = 0
			c.ConfidenceWeightHistory = 0
		}},
		{"sweep interval too short", func(c *Config) { c.EscalationSweepInterval = 100 * time.Millisecond }},
		{"batch size zero", func(c *Config) { c.EscalationBatchSize = 0 }},
		{"accuracy window zero", func(c *Config) { c.MetricsAccuracyWindowDays = 0 }},
		{"bad rate limit", func(c *Config) { c.RateLimitDefault = "lots" }},
		{"bad rate window", func(c *Config) { c.RateLimitWindow = "soon" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Load()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidatePostgresRequiresConnectionDetails(t *testing.T) {
	cfg := Load()
	cfg.DatabaseType = "postgres"
	require.NoError(t, cfg.Validate())

	cfg.PostgresPort = "not-a-port"
	assert.Error(t, cfg.Validate())
}
