// Package transform builds submission bundles from input records.
package transform

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/andresuchdata/dss-loader/internal/domain"
)

// DefaultFileConcurrency bounds concurrent metadata fetches per record.
const DefaultFileConcurrency = 8

// Resolver resolves one file reference.
type Resolver interface {
	Resolve(ctx context.Context, ref domain.FileReference) (*domain.ResolvedFileEntry, error)
}

// Transformer resolves every file of a record and assembles the bundle.
type Transformer struct {
	resolver    Resolver
	concurrency int
	log         zerolog.Logger
}

// New returns a transformer resolving at most concurrency files at once.
func New(resolver Resolver, concurrency int, log zerolog.Logger) *Transformer {
	if concurrency < 1 {
		concurrency = DefaultFileConcurrency
	}
	return &Transformer{resolver: resolver, concurrency: concurrency, log: log}
}

// Transform resolves the files of rec concurrently and builds its bundle. The
// first resolution failure fails the whole record; no partial bundle is
// returned.
func (t *Transformer) Transform(ctx context.Context, rec *domain.InputRecord) (*domain.SubmissionBundle, error) {
	if len(rec.Files) == 0 {
		return nil, domain.NewError(domain.KindTransform, "record %s has no files", rec.ID)
	}

	names := make(map[string]struct{}, len(rec.Files))
	version := ""
	for _, f := range rec.Files {
		if _, dup := names[f.Name]; dup {
			return nil, domain.NewError(domain.KindTransform, "record %s: duplicate file name %q", rec.ID, f.Name)
		}
		names[f.Name] = struct{}{}
		if f.Version == "" {
			return nil, domain.NewError(domain.KindTransform, "record %s: file %s has no version", rec.ID, f.Name)
		}
		// Versions share one fixed-width layout, so lexical order is time order.
		if f.Version > version {
			version = f.Version
		}
	}

	entries := make([]domain.ResolvedFileEntry, len(rec.Files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.concurrency)

	for i, ref := range rec.Files {
		g.Go(func() error {
			entry, err := t.resolver.Resolve(gctx, ref)
			if err != nil {
				return domain.Wrap(domain.KindTransform, err, "record %s: resolve %s", rec.ID, ref.Location)
			}
			if ref.Size != nil && *ref.Size != entry.Size {
				return domain.NewError(domain.KindTransform,
					"record %s: inconsistent file size for %s: input %d, store reports %d",
					rec.ID, ref.Location, *ref.Size, entry.Size)
			}
			entries[i] = *entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	bundle := &domain.SubmissionBundle{
		UUID:     domain.BundleUUID(rec.ID),
		Version:  version,
		RecordID: rec.ID,
		Files:    entries,
		Metadata: rec.Metadata,
	}

	t.log.Debug().
		Str("record", rec.ID).
		Str("bundle", bundle.UUID).
		Str("version", bundle.Version).
		Int("files", len(entries)).
		Msg("record transformed")

	return bundle, nil
}
