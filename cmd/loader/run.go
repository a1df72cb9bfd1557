package main

import (
	"context"
	"fmt"
	"io"

	"github.com/andresuchdata/dss-loader/internal/api"
	"github.com/andresuchdata/dss-loader/internal/config"
	"github.com/andresuchdata/dss-loader/internal/credentials"
	"github.com/andresuchdata/dss-loader/internal/dss"
	"github.com/andresuchdata/dss-loader/internal/input"
	"github.com/andresuchdata/dss-loader/internal/pipeline"
	"github.com/andresuchdata/dss-loader/internal/provider"
	"github.com/andresuchdata/dss-loader/internal/resolver"
	"github.com/andresuchdata/dss-loader/internal/retry"
	"github.com/andresuchdata/dss-loader/internal/storage"
	"github.com/andresuchdata/dss-loader/internal/submission"
	"github.com/andresuchdata/dss-loader/internal/transform"
	"github.com/andresuchdata/dss-loader/pkg/logger"
)

// run loads the input, builds the components and drains the records. The
// summary is written to out.
func run(ctx context.Context, cfg *config.Config, path string, out io.Writer) int {
	log := logger.Component("loader")

	parsed, err := input.Load(path)
	if err != nil {
		log.Error().Err(err).Str("input", path).Msg("cannot read input")
		return exitPrecondition
	}

	creds, err := credentials.Load(ctx, credentials.Options{
		GCPMetadataCredPath: cfg.Credentials.GCPMetadataCred,
		AWSMetadataRolePath: cfg.Credentials.AWSMetadataCred,
		Project:             cfg.Credentials.Project,
		STSEndpoint:         cfg.Credentials.STSEndpoint,
		AWSRegion:           cfg.Staging.AWSRegion,
		RoleDuration:        cfg.Credentials.RoleDuration,
	})
	if err != nil {
		log.Error().Err(err).Msg("cannot load credentials")
		return exitPrecondition
	}
	creds.Summary(log.Info()).Msg("credentials loaded")

	orch, err := build(ctx, cfg, creds)
	if err != nil {
		log.Error().Err(err).Msg("cannot set up loader")
		return exitPrecondition
	}

	if cfg.Status.Addr != "" {
		srv := api.NewServer(cfg.Status.Addr,
			api.NewRouter(orch.Report(), cfg.Status.AllowedOrigins, logger.Component("status")),
			logger.Component("status"))
		srv.Start()
		defer func() {
			if err := srv.Shutdown(); err != nil {
				log.Warn().Err(err).Msg("status server shutdown")
			}
		}()
	}

	summary := orch.Run(ctx, parsed.Records, parsed.Failures).Snapshot()
	if _, err := summary.WriteTo(out); err != nil {
		log.Warn().Err(err).Msg("cannot write summary")
	}

	if summary.NotAttempted > 0 {
		log.Warn().Int("count", summary.NotAttempted).Msg("did not attempt every record")
	}
	return exitCode(summary.OK())
}

// build wires the pipeline. File metadata is read as the metadata identity;
// staging and registration use the primary identity.
func build(ctx context.Context, cfg *config.Config, creds *credentials.Context) (*pipeline.Orchestrator, error) {
	policy := retry.DefaultPolicy()
	if cfg.Retry.Attempts > 0 {
		policy.Attempts = cfg.Retry.Attempts
	}
	if cfg.Retry.Backoff > 0 {
		policy.Initial = cfg.Retry.Backoff
	}
	if cfg.Retry.MaxBackoff > 0 {
		policy.Max = cfg.Retry.MaxBackoff
	}
	if cfg.Retry.CallTimeout > 0 {
		policy.CallTimeout = cfg.Retry.CallTimeout
	}
	s3cfg := provider.S3Config{Endpoint: cfg.Staging.S3Endpoint, Region: cfg.Staging.AWSRegion}

	registry, err := provider.ForRole(ctx, creds, credentials.RoleMetadata, provider.Config{S3: s3cfg})
	if err != nil {
		return nil, fmt.Errorf("metadata providers: %w", err)
	}
	res := resolver.New(registry, policy, logger.Component("resolver"))
	tr := transform.New(res, cfg.Run.FileConcurrency, logger.Component("transform"))

	var staging storage.ObjectStorage
	if cfg.Staging.Target != "" {
		staging, err = storage.Open(cfg.Staging.Target, creds, s3cfg)
		if err != nil {
			return nil, fmt.Errorf("staging: %w", err)
		}
	}

	var store submission.Store
	if cfg.DSS.Endpoint != "" {
		client, err := dss.New(dss.Config{
			Endpoint:         cfg.DSS.Endpoint,
			Replica:          cfg.DSS.Replica,
			CreatorUID:       cfg.DSS.CreatorUID,
			AsyncCopyTimeout: cfg.DSS.AsyncCopyTimeout,
			HeadTimeout:      policy.CallTimeout,
			TokenSource:      creds.DSSTokenSource(),
		}, logger.Component("dss"))
		if err != nil {
			return nil, fmt.Errorf("dss client: %w", err)
		}
		logger.Component("dss").Info().
			Str("endpoint", client.Endpoint()).
			Str("replica", client.Replica()).
			Msg("submitting to store")
		store = client
	}

	engine := submission.New(staging, store, submission.Config{
		SchemaURL:         cfg.DSS.SchemaURL,
		Retry:             policy,
		UploadConcurrency: cfg.Run.FileConcurrency,
	}, logger.Component("submission"))

	runCfg := pipeline.DefaultConfig()
	runCfg.DryRun = cfg.Run.DryRun
	if cfg.Run.Workers > 0 {
		runCfg.Workers = cfg.Run.Workers
	}
	return pipeline.NewOrchestrator(tr, engine, runCfg, logger.Component("pipeline")), nil
}
