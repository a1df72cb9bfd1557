package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/dss-loader/internal/config"
	"github.com/andresuchdata/dss-loader/pkg/logger"
)

const (
	exitOK           = 0
	exitRecordFailed = 1
	exitPrecondition = 2
)

func main() {
	app := newApp(config.Load())
	if err := app.Run(os.Args); err != nil {
		logger.Log.Error().Err(err).Msg("loader failed")
		os.Exit(exitPrecondition)
	}
}

func newApp(cfg *config.Config) *cli.App {
	return &cli.App{
		Name:      "dss-loader",
		Usage:     "Load data bundles described by JSON records into a Data Storage System",
		ArgsUsage: "INPUT",
		Flags:     flags(cfg),
		Before: func(c *cli.Context) error {
			logger.Configure(c.String("log-level"), c.Bool("log-json"))
			return nil
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("exactly one INPUT (file, directory or archive) is required", exitPrecondition)
			}
			if err := applyFlags(c, cfg); err != nil {
				return cli.Exit(err.Error(), exitPrecondition)
			}
			if err := cfg.Validate(); err != nil {
				return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), exitPrecondition)
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			code := run(ctx, cfg, c.Args().First(), c.App.Writer)
			if code != exitOK {
				return cli.Exit("", code)
			}
			return nil
		},
	}
}

func flags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "dss-endpoint",
			Aliases: []string{"dss_endpoint"},
			Usage:   "Store API root, e.g. https://dss.example.org/v1",
			Value:   cfg.DSS.Endpoint,
			EnvVars: []string{"DSS_ENDPOINT"},
		},
		&cli.StringFlag{
			Name:    "staging-bucket",
			Aliases: []string{"staging_bucket"},
			Usage:   "S3 bucket (or s3://bucket/prefix, or file:///dir) documents are staged to",
			Value:   cfg.Staging.Target,
			EnvVars: []string{"STAGING_BUCKET"},
		},
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "Resolve and render everything without writing (default)",
			Value: cfg.Run.DryRun,
		},
		&cli.BoolFlag{
			Name:  "no-dry-run",
			Usage: "Stage and register bundles",
		},
		&cli.StringFlag{
			Name:    "project",
			Aliases: []string{"p"},
			Usage:   "GCP project billed for requester-pays reads",
			Value:   cfg.Credentials.Project,
			EnvVars: []string{"GOOGLE_PROJECT"},
		},
		&cli.StringFlag{
			Name:    "gce-metadata-cred",
			Aliases: []string{"gce_metadata_cred"},
			Usage:   "GCP credential JSON used to read file metadata",
			Value:   cfg.Credentials.GCPMetadataCred,
		},
		&cli.StringFlag{
			Name:    "aws-metadata-cred",
			Aliases: []string{"aws_metadata_cred"},
			Usage:   "File holding the ARN of the role assumed to read file metadata",
			Value:   cfg.Credentials.AWSMetadataCred,
		},
		&cli.StringFlag{
			Name:    "log-level",
			Aliases: []string{"l"},
			Usage:   "Log level (debug, info, warn, error)",
			Value:   cfg.Log.Level,
		},
		&cli.BoolFlag{
			Name:  "log-json",
			Usage: "Log JSON lines instead of console output",
			Value: cfg.Log.JSON,
		},
		&cli.BoolFlag{
			Name:  "serial",
			Usage: "Process one record at a time",
		},
		&cli.IntFlag{
			Name:  "workers",
			Usage: "Records processed concurrently",
			Value: cfg.Run.Workers,
		},
		&cli.IntFlag{
			Name:  "file-concurrency",
			Usage: "Metadata fetches per record in flight",
			Value: cfg.Run.FileConcurrency,
		},
		&cli.IntFlag{
			Name:  "retry-attempts",
			Usage: "Attempts per network call, including the first",
			Value: cfg.Retry.Attempts,
		},
		&cli.DurationFlag{
			Name:  "retry-backoff",
			Usage: "First backoff interval between attempts",
			Value: cfg.Retry.Backoff,
		},
		&cli.DurationFlag{
			Name:  "call-timeout",
			Usage: "Timeout of a single network call",
			Value: cfg.Retry.CallTimeout,
		},
		&cli.DurationFlag{
			Name:  "async-copy-timeout",
			Usage: "How long to wait for the store to finish an asynchronous file copy",
			Value: cfg.DSS.AsyncCopyTimeout,
		},
		&cli.StringFlag{
			Name:  "schema-url",
			Usage: "Schema referenced by describedBy in metadata documents",
			Value: cfg.DSS.SchemaURL,
		},
		&cli.StringFlag{
			Name:  "replica",
			Usage: "Store replica bundles are registered in",
			Value: cfg.DSS.Replica,
		},
		&cli.IntFlag{
			Name:  "creator-uid",
			Usage: "creator_uid sent with every registration",
			Value: cfg.DSS.CreatorUID,
		},
		&cli.StringFlag{
			Name:  "s3-endpoint",
			Usage: "Custom S3 endpoint (path-style)",
			Value: cfg.Staging.S3Endpoint,
		},
		&cli.StringFlag{
			Name:  "aws-region",
			Usage: "AWS region",
			Value: cfg.Staging.AWSRegion,
		},
		&cli.StringFlag{
			Name:  "sts-endpoint",
			Usage: "STS endpoint used to assume the metadata role",
			Value: cfg.Credentials.STSEndpoint,
		},
		&cli.StringFlag{
			Name:  "status-addr",
			Usage: "Serve run status on this address, e.g. :8080",
			Value: cfg.Status.Addr,
		},
	}
}

// applyFlags copies parsed flags over the environment-derived config.
func applyFlags(c *cli.Context, cfg *config.Config) error {
	if c.IsSet("dry-run") && c.Bool("dry-run") && c.Bool("no-dry-run") {
		return fmt.Errorf("--dry-run and --no-dry-run are mutually exclusive")
	}

	cfg.DSS.Endpoint = c.String("dss-endpoint")
	cfg.DSS.SchemaURL = c.String("schema-url")
	cfg.DSS.Replica = c.String("replica")
	cfg.DSS.CreatorUID = c.Int("creator-uid")
	cfg.DSS.AsyncCopyTimeout = c.Duration("async-copy-timeout")
	cfg.Staging.Target = c.String("staging-bucket")
	cfg.Staging.S3Endpoint = c.String("s3-endpoint")
	cfg.Staging.AWSRegion = c.String("aws-region")
	cfg.Credentials.Project = c.String("project")
	cfg.Credentials.GCPMetadataCred = c.String("gce-metadata-cred")
	cfg.Credentials.AWSMetadataCred = c.String("aws-metadata-cred")
	cfg.Credentials.STSEndpoint = c.String("sts-endpoint")
	cfg.Run.DryRun = c.Bool("dry-run") && !c.Bool("no-dry-run")
	if env, ok := os.LookupEnv("DRY_RUN"); ok && !c.IsSet("no-dry-run") {
		logger.Component("loader").Warn().Str("DRY_RUN", env).Bool("dry_run", cfg.Run.DryRun).
			Msg("DRY_RUN is ignored; pass --no-dry-run to stage and register bundles")
	}
	cfg.Run.Workers = c.Int("workers")
	cfg.Run.FileConcurrency = c.Int("file-concurrency")
	cfg.Retry.Attempts = c.Int("retry-attempts")
	cfg.Retry.Backoff = c.Duration("retry-backoff")
	cfg.Retry.CallTimeout = c.Duration("call-timeout")
	cfg.Log.Level = c.String("log-level")
	cfg.Log.JSON = c.Bool("log-json")
	cfg.Status.Addr = c.String("status-addr")

	if c.Bool("serial") {
		cfg.Run.Workers = 1
	}
	return nil
}

// exitCode maps a finished run to the process status.
func exitCode(ok bool) int {
	if ok {
		return exitOK
	}
	return exitRecordFailed
}
