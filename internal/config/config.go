// Package config loads loader settings from the environment and .env files.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	DSS         DSSConfig
	Staging     StagingConfig
	Credentials CredentialsConfig
	Run         RunConfig
	Retry       RetryConfig
	Log         LogConfig
	Status      StatusConfig
}

type DSSConfig struct {
	Endpoint         string
	Replica          string
	CreatorUID       int
	SchemaURL        string
	AsyncCopyTimeout time.Duration
}

type StagingConfig struct {
	// Target is an S3 bucket (optionally s3://bucket/prefix) or file:///dir.
	Target     string
	S3Endpoint string
	AWSRegion  string
}

type CredentialsConfig struct {
	Project         string
	GCPMetadataCred string
	AWSMetadataCred string
	STSEndpoint     string
	RoleDuration    time.Duration
}

type RunConfig struct {
	// DryRun is not read from the environment; only --no-dry-run turns it off.
	DryRun          bool
	Workers         int
	FileConcurrency int
}

type RetryConfig struct {
	Attempts    int
	Backoff     time.Duration
	MaxBackoff  time.Duration
	CallTimeout time.Duration
}

type LogConfig struct {
	Level string
	JSON  bool
}

type StatusConfig struct {
	Addr           string
	AllowedOrigins []string
}

var (
	once     sync.Once
	instance *Config
)

// Load reads .env (when present) and the environment once per process.
func Load() *Config {
	once.Do(func() {
		// Load .env file if it exists
		_ = godotenv.Load()
		instance = FromViper(viper.GetViper())
	})

	return instance
}

// FromViper applies defaults to v, binds the environment and builds a Config.
func FromViper(v *viper.Viper) *Config {
	v.SetDefault("DSS_ENDPOINT", "")
	v.SetDefault("DSS_REPLICA", "aws")
	v.SetDefault("DSS_CREATOR_UID", 20)
	v.SetDefault("DSS_SCHEMA_URL", "")
	v.SetDefault("DSS_ASYNC_COPY_TIMEOUT", 20*time.Minute)
	v.SetDefault("STAGING_BUCKET", "")
	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("GOOGLE_PROJECT", "")
	v.SetDefault("GCE_METADATA_CRED", "")
	v.SetDefault("AWS_METADATA_CRED", "")
	v.SetDefault("STS_ENDPOINT", "https://sts.amazonaws.com")
	v.SetDefault("AWS_ROLE_DURATION", 43199*time.Second)
	v.SetDefault("LOADER_WORKERS", 4)
	v.SetDefault("LOADER_FILE_CONCURRENCY", 8)
	v.SetDefault("RETRY_ATTEMPTS", 3)
	v.SetDefault("RETRY_BACKOFF", 500*time.Millisecond)
	v.SetDefault("RETRY_MAX_BACKOFF", 10*time.Second)
	v.SetDefault("CALL_TIMEOUT", time.Minute)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_JSON", false)
	v.SetDefault("STATUS_ADDR", "")
	v.SetDefault("STATUS_ALLOWED_ORIGINS", []string{"*"})

	// Read from environment variables
	v.AutomaticEnv()

	return &Config{
		DSS: DSSConfig{
			Endpoint:         v.GetString("DSS_ENDPOINT"),
			Replica:          v.GetString("DSS_REPLICA"),
			CreatorUID:       v.GetInt("DSS_CREATOR_UID"),
			SchemaURL:        v.GetString("DSS_SCHEMA_URL"),
			AsyncCopyTimeout: v.GetDuration("DSS_ASYNC_COPY_TIMEOUT"),
		},
		Staging: StagingConfig{
			Target:     v.GetString("STAGING_BUCKET"),
			S3Endpoint: v.GetString("S3_ENDPOINT"),
			AWSRegion:  v.GetString("AWS_REGION"),
		},
		Credentials: CredentialsConfig{
			Project:         v.GetString("GOOGLE_PROJECT"),
			GCPMetadataCred: v.GetString("GCE_METADATA_CRED"),
			AWSMetadataCred: v.GetString("AWS_METADATA_CRED"),
			STSEndpoint:     v.GetString("STS_ENDPOINT"),
			RoleDuration:    v.GetDuration("AWS_ROLE_DURATION"),
		},
		Run: RunConfig{
			DryRun:          true,
			Workers:         v.GetInt("LOADER_WORKERS"),
			FileConcurrency: v.GetInt("LOADER_FILE_CONCURRENCY"),
		},
		Retry: RetryConfig{
			Attempts:    v.GetInt("RETRY_ATTEMPTS"),
			Backoff:     v.GetDuration("RETRY_BACKOFF"),
			MaxBackoff:  v.GetDuration("RETRY_MAX_BACKOFF"),
			CallTimeout: v.GetDuration("CALL_TIMEOUT"),
		},
		Log: LogConfig{
			Level: v.GetString("LOG_LEVEL"),
			JSON:  v.GetBool("LOG_JSON"),
		},
		Status: StatusConfig{
			Addr:           v.GetString("STATUS_ADDR"),
			AllowedOrigins: v.GetStringSlice("STATUS_ALLOWED_ORIGINS"),
		},
	}
}

// Validate checks the settings a run depends on. A real submission needs a
// store endpoint and a staging target; a dry run needs neither.
func (c *Config) Validate() error {
	var errs []error

	if c.Run.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Run.Workers))
	}
	if c.Run.FileConcurrency < 1 {
		errs = append(errs, fmt.Errorf("file concurrency must be at least 1, got %d", c.Run.FileConcurrency))
	}
	if c.Retry.Attempts < 1 {
		errs = append(errs, fmt.Errorf("retry attempts must be at least 1, got %d", c.Retry.Attempts))
	}
	if c.Retry.CallTimeout <= 0 {
		errs = append(errs, errors.New("call timeout must be positive"))
	}

	if c.DSS.Endpoint != "" {
		if err := checkHTTPURL(c.DSS.Endpoint); err != nil {
			errs = append(errs, fmt.Errorf("dss endpoint: %w", err))
		}
	}
	if !c.Run.DryRun {
		if c.DSS.Endpoint == "" {
			errs = append(errs, errors.New("dss endpoint is required unless --dry-run is set"))
		}
		if c.Staging.Target == "" {
			errs = append(errs, errors.New("staging bucket is required unless --dry-run is set"))
		}
	}

	return errors.Join(errs...)
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if s := strings.ToLower(u.Scheme); (s != "http" && s != "https") || u.Host == "" {
		return fmt.Errorf("%q is not an http(s) url", raw)
	}
	return nil
}
