package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := FromViper(viper.New())

	assert.True(t, cfg.Run.DryRun)
	assert.Equal(t, 4, cfg.Run.Workers)
	assert.Equal(t, 8, cfg.Run.FileConcurrency)
	assert.Equal(t, 3, cfg.Retry.Attempts)
	assert.Equal(t, time.Minute, cfg.Retry.CallTimeout)
	assert.Equal(t, "aws", cfg.DSS.Replica)
	assert.Equal(t, 20, cfg.DSS.CreatorUID)
	assert.Equal(t, 20*time.Minute, cfg.DSS.AsyncCopyTimeout)
	assert.Equal(t, 43199*time.Second, cfg.Credentials.RoleDuration)
	assert.Equal(t, []string{"*"}, cfg.Status.AllowedOrigins)
	assert.NoError(t, cfg.Validate())
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("DSS_ENDPOINT", "https://dss.example.org/v1")
	t.Setenv("STAGING_BUCKET", "s3://staging/loader")
	t.Setenv("LOADER_WORKERS", "12")
	t.Setenv("CALL_TIMEOUT", "15s")

	cfg := FromViper(viper.New())

	assert.Equal(t, "https://dss.example.org/v1", cfg.DSS.Endpoint)
	assert.Equal(t, "s3://staging/loader", cfg.Staging.Target)
	assert.Equal(t, 12, cfg.Run.Workers)
	assert.Equal(t, 15*time.Second, cfg.Retry.CallTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestEnvironmentCannotDisableDryRun(t *testing.T) {
	t.Setenv("DRY_RUN", "false")
	t.Setenv("AWS_ROLE_DURATION", "1h")

	cfg := FromViper(viper.New())

	assert.True(t, cfg.Run.DryRun)
	assert.Equal(t, time.Hour, cfg.Credentials.RoleDuration)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := FromViper(viper.New())
		cfg.Run.DryRun = false
		cfg.DSS.Endpoint = "https://dss.example.org/v1"
		cfg.Staging.Target = "staging-bucket"
		return cfg
	}
	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing endpoint", func(c *Config) { c.DSS.Endpoint = "" }, "dss endpoint is required"},
		{"missing staging", func(c *Config) { c.Staging.Target = "" }, "staging bucket is required"},
		{"bad endpoint", func(c *Config) { c.DSS.Endpoint = "ftp://dss" }, "not an http(s) url"},
		{"no workers", func(c *Config) { c.Run.Workers = 0 }, "workers must be at least 1"},
		{"no attempts", func(c *Config) { c.Retry.Attempts = 0 }, "retry attempts"},
		{"no timeout", func(c *Config) { c.Retry.CallTimeout = 0 }, "call timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDryRunNeedsNoEndpoint(t *testing.T) {
	cfg := FromViper(viper.New())
	cfg.DSS.Endpoint = ""
	cfg.Staging.Target = ""
	assert.NoError(t, cfg.Validate())
}
