// Package submission stages bundle documents and registers them with the
// store.
package submission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/andresuchdata/dss-loader/internal/domain"
	"github.com/andresuchdata/dss-loader/internal/dss"
	"github.com/andresuchdata/dss-loader/internal/retry"
	"github.com/andresuchdata/dss-loader/internal/storage"
)

// DefaultSchemaURL describes the metadata document.
const DefaultSchemaURL = "https://raw.githubusercontent.com/DataBiosphere/metadata-schema/master/json_schema/cgp/gen3/2.0.0/cgp_gen3_metadata.json"

// Store is the part of the store API the engine uses.
type Store interface {
	PutFile(ctx context.Context, uuid, version, sourceURL string) (*dss.PutFileResult, error)
	AwaitFile(ctx context.Context, uuid, version, sourceURL string) error
	PutBundle(ctx context.Context, uuid, version string, files []dss.BundleFile) (*dss.PutBundleResult, error)
	GetBundle(ctx context.Context, uuid, version string) (bool, error)
}

// Config tunes the engine.
type Config struct {
	SchemaURL         string
	Retry             retry.Policy
	UploadConcurrency int
}

// Engine stages and submits bundles. Staging and store are optional for dry
// runs; a real submission needs both.
type Engine struct {
	staging storage.ObjectStorage
	store   Store
	cfg     Config
	uploads *semaphore.Weighted
	log     zerolog.Logger
}

// New builds an engine. Either dependency may be nil.
func New(staging storage.ObjectStorage, store Store, cfg Config, log zerolog.Logger) *Engine {
	if cfg.SchemaURL == "" {
		cfg.SchemaURL = DefaultSchemaURL
	}
	if cfg.UploadConcurrency < 1 {
		cfg.UploadConcurrency = 8
	}
	return &Engine{
		staging: staging,
		store:   store,
		cfg:     cfg,
		uploads: semaphore.NewWeighted(int64(cfg.UploadConcurrency)),
		log:     log,
	}
}

// StagedBundle is a bundle whose documents are rendered and, outside dry
// runs, uploaded to staging.
type StagedBundle struct {
	Bundle    *domain.SubmissionBundle
	Documents []*Document
	State     domain.BundleState
}

// advance moves the bundle to state to when the transition is allowed.
func (s *StagedBundle) advance(to domain.BundleState) {
	if domain.CanTransition(s.State, to) {
		s.State = to
	}
}

// Metadata returns the metadata document.
func (s *StagedBundle) Metadata() *Document {
	for _, d := range s.Documents {
		if d.Indexed {
			return d
		}
	}
	return nil
}

// SubmitStatus is the outcome of Submit.
type SubmitStatus string

const (
	StatusWouldSubmit SubmitStatus = "would-submit"
	StatusSubmitted   SubmitStatus = "submitted"
	StatusUnchanged   SubmitStatus = "unchanged"
)

// Result describes a submission.
type Result struct {
	BundleUUID    string
	Version       string
	Status        SubmitStatus
	FilesCreated  int
	FilesExisted  int
	BundleExisted bool
}

// FQID is the fully qualified bundle id, uuid.version.
func (r *Result) FQID() string {
	return r.BundleUUID + "." + r.Version
}

// Stage renders the metadata and file reference documents of bundle and
// uploads them with checksum tags. A document already staged with identical
// content is not uploaded again. Dry runs render and checksum but never
// write.
func (e *Engine) Stage(ctx context.Context, bundle *domain.SubmissionBundle, dryRun bool) (*StagedBundle, error) {
	docs, err := e.render(bundle)
	if err != nil {
		return nil, domain.Wrap(domain.KindStaging, err, "bundle %s", bundle.UUID)
	}

	staged := &StagedBundle{Bundle: bundle, Documents: docs, State: domain.StatePending}
	if e.staging != nil {
		for _, d := range docs {
			d.SourceURL = e.staging.URL(d.Key)
		}
	}

	if dryRun {
		e.log.Info().Str("bundle", bundle.UUID).Int("documents", len(docs)).Msg("dry run: staging skipped")
		staged.advance(domain.StateStaged)
		return staged, nil
	}
	if e.staging == nil {
		return nil, domain.NewError(domain.KindStaging, "bundle %s: no staging location configured", bundle.UUID)
	}

	for _, d := range docs {
		if err := e.upload(ctx, d); err != nil {
			staged.advance(domain.StateFailed)
			return nil, domain.Wrap(domain.KindStaging, err, "bundle %s: stage %s", bundle.UUID, d.Key)
		}
	}

	staged.advance(domain.StateStaged)
	return staged, nil
}

func (e *Engine) render(bundle *domain.SubmissionBundle) ([]*Document, error) {
	meta, err := metadataDocument(bundle.Metadata, e.cfg.SchemaURL)
	if err != nil {
		return nil, err
	}
	metaDoc, err := newDocument(domain.DerivedFileUUID(bundle.UUID, MetadataName), bundle.Version,
		MetadataName, MetadataContentType, true, meta)
	if err != nil {
		return nil, err
	}

	docs := []*Document{metaDoc}
	for _, entry := range bundle.Files {
		d, err := newDocument(entry.Ref.UUID, entry.Ref.Version, entry.Ref.Name, FileRefContentType, false, fileReference(entry))
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, nil
}

func (e *Engine) upload(ctx context.Context, d *Document) error {
	if err := e.uploads.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.uploads.Release(1)

	return retry.Do(ctx, e.cfg.Retry, func(ctx context.Context) error {
		info, err := e.staging.Stat(ctx, d.Key)
		if err != nil {
			return err
		}
		if info != nil && info.Size == int64(len(d.Data)) && info.ETag == d.Checksums.S3ETag {
			e.log.Debug().Str("key", d.Key).Msg("identical document already staged")
			return nil
		}
		if err := e.staging.Put(ctx, d.Key, d.Data, d.ContentType, d.Checksums.Tags()); err != nil {
			return err
		}
		d.Uploaded = true
		return nil
	}, func(err error, attempt int, wait time.Duration) {
		e.log.Debug().Err(err).Str("key", d.Key).Int("attempt", attempt).Msg("staging upload failed, backing off")
	})
}

// Submit registers every staged document and then the bundle. In a dry run
// the bundle is validated and, when a store is configured, looked up
// read-only to prove the endpoint is reachable.
func (e *Engine) Submit(ctx context.Context, staged *StagedBundle, dryRun bool) (*Result, error) {
	if err := e.validate(staged); err != nil {
		return nil, err
	}
	bundle := staged.Bundle
	res := &Result{BundleUUID: bundle.UUID, Version: bundle.Version}

	if dryRun {
		res.Status = StatusWouldSubmit
		if e.store != nil {
			var exists bool
			err := e.call(ctx, "lookup bundle "+bundle.UUID, func(ctx context.Context) error {
				var err error
				exists, err = e.store.GetBundle(ctx, bundle.UUID, bundle.Version)
				return err
			})
			if err != nil {
				return nil, err
			}
			res.BundleExisted = exists
		}
		e.log.Info().Str("bundle", res.FQID()).Int("files", len(staged.Documents)).Msg("dry run: would submit bundle")
		return res, nil
	}

	if e.store == nil {
		return nil, domain.NewError(domain.KindSubmission, "bundle %s: no store endpoint configured", bundle.UUID)
	}
	if staged.State != domain.StateStaged {
		return nil, domain.NewError(domain.KindSubmission, "bundle %s is %s, not staged", bundle.UUID, staged.State)
	}

	files := make([]dss.BundleFile, 0, len(staged.Documents))
	for _, d := range staged.Documents {
		var put *dss.PutFileResult
		err := e.call(ctx, "register file "+d.UUID, func(ctx context.Context) error {
			var err error
			put, err = e.store.PutFile(ctx, d.UUID, d.Version, d.SourceURL)
			return err
		})
		if err != nil {
			staged.advance(domain.StateFailed)
			return nil, err
		}
		if put.Outcome == dss.FileCopying {
			if err := e.awaitCopy(ctx, d, put.Version); err != nil {
				staged.advance(domain.StateFailed)
				return nil, err
			}
		}
		if put.Outcome == dss.FileExisted {
			res.FilesExisted++
		} else {
			res.FilesCreated++
		}
		files = append(files, dss.BundleFile{UUID: d.UUID, Version: put.Version, Name: d.Name, Indexed: d.Indexed})
	}

	var put *dss.PutBundleResult
	err := e.call(ctx, "register bundle "+bundle.UUID, func(ctx context.Context) error {
		var err error
		put, err = e.store.PutBundle(ctx, bundle.UUID, bundle.Version, files)
		return err
	})
	if err != nil {
		staged.advance(domain.StateFailed)
		return nil, err
	}

	staged.advance(domain.StateSubmitted)
	res.Version = put.Version
	res.BundleExisted = put.Existed
	res.Status = StatusSubmitted
	if put.Existed && res.FilesCreated == 0 {
		res.Status = StatusUnchanged
	}

	e.log.Info().
		Str("bundle", res.FQID()).
		Int("files_created", res.FilesCreated).
		Int("files_existed", res.FilesExisted).
		Bool("bundle_existed", res.BundleExisted).
		Msg("bundle submitted")
	return res, nil
}

// awaitCopy waits for an asynchronous copy. It runs outside the per-call
// policy; the store client bounds the wait by its copy timeout.
func (e *Engine) awaitCopy(ctx context.Context, d *Document, version string) error {
	err := e.store.AwaitFile(ctx, d.UUID, version, d.SourceURL)
	if err == nil || (errors.Is(err, domain.ErrSubmission) && !domain.IsTransient(err)) {
		return err
	}
	return domain.Wrap(domain.KindSubmission, err, "await copy of file %s", d.UUID)
}

// call retries a store call and classifies whatever is left as a submission
// failure.
func (e *Engine) call(ctx context.Context, what string, op func(ctx context.Context) error) error {
	err := retry.Do(ctx, e.cfg.Retry, op, func(err error, attempt int, wait time.Duration) {
		e.log.Debug().Err(err).Str("call", what).Int("attempt", attempt).Dur("wait", wait).Msg("store call failed, backing off")
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrSubmission) && !domain.IsTransient(err) {
		return err
	}
	return domain.Wrap(domain.KindSubmission, err, "%s", what)
}

func (e *Engine) validate(staged *StagedBundle) error {
	if staged == nil || staged.Bundle == nil {
		return domain.NewError(domain.KindSubmission, "nothing staged")
	}
	b := staged.Bundle
	if len(staged.Documents) < 2 {
		return domain.NewError(domain.KindSubmission, "bundle %s has no data files", b.UUID)
	}

	invalid := func(format string, args ...any) error {
		return domain.NewError(domain.KindSubmission, "bundle %s: %s", b.UUID, fmt.Sprintf(format, args...))
	}
	if !domain.IsUUID(b.UUID) {
		return invalid("bundle uuid is not a UUID")
	}
	if err := checkVersion(b.Version); err != nil {
		return invalid("bundle version: %v", err)
	}
	for _, d := range staged.Documents {
		if !domain.IsUUID(d.UUID) {
			return invalid("file %s: uuid %q is not a UUID", d.Name, d.UUID)
		}
		if err := checkVersion(d.Version); err != nil {
			return invalid("file %s: %v", d.Name, err)
		}
		if e.staging != nil && d.SourceURL == "" {
			return invalid("file %s has no staged source url", d.Name)
		}
	}
	return nil
}

func checkVersion(v string) error {
	parsed, err := domain.ParseVersion(v)
	if err != nil {
		return err
	}
	if parsed != v {
		return fmt.Errorf("version %q is not in store format", v)
	}
	return nil
}
