// Package resolver turns file references into resolved entries by fetching
// size and checksum with the metadata identity.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/dss-loader/internal/domain"
	"github.com/andresuchdata/dss-loader/internal/provider"
	"github.com/andresuchdata/dss-loader/internal/retry"
)

// Resolver fetches object metadata for file references.
type Resolver struct {
	registry *provider.Registry
	policy   retry.Policy
	log      zerolog.Logger
}

// New returns a resolver that reads through registry. The registry must be
// built for the metadata role.
func New(registry *provider.Registry, policy retry.Policy, log zerolog.Logger) *Resolver {
	return &Resolver{registry: registry, policy: policy, log: log}
}

// Resolve returns the size and checksum for ref. References that already
// carry both are returned without a network call.
func (r *Resolver) Resolve(ctx context.Context, ref domain.FileReference) (*domain.ResolvedFileEntry, error) {
	if ref.PreResolved() {
		return &domain.ResolvedFileEntry{
			Ref:      ref,
			Size:     *ref.Size,
			Checksum: ref.Checksum,
		}, nil
	}

	p, err := r.registry.Lookup(ref.Location.Provider)
	if err != nil {
		return nil, err
	}

	log := r.log.With().Str("url", ref.Location.String()).Str("identity", p.Identity()).Logger()

	var (
		meta      *provider.ObjectMeta
		refreshed bool
	)
	err = retry.Do(ctx, r.policy, func(ctx context.Context) error {
		var err error
		meta, err = p.Head(ctx, ref.Location)
		if err != nil && !refreshed && errors.Is(err, domain.ErrAccessDenied) {
			if rf, ok := p.(provider.Refresher); ok && rf.Refresh() {
				refreshed = true
				log.Debug().Err(err).Msg("access denied, retrying once with refreshed credentials")
				meta, err = p.Head(ctx, ref.Location)
			}
		}
		return err
	}, func(err error, attempt int, wait time.Duration) {
		log.Debug().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("metadata fetch failed, backing off")
	})
	if err != nil {
		if domain.IsTransient(err) {
			return nil, domain.Wrap(domain.KindTransientResolution, err, "%s", ref.Location)
		}
		return nil, err
	}

	if meta.Size < 0 || meta.Checksum.IsZero() {
		return nil, fmt.Errorf("%s: provider returned incomplete metadata", ref.Location)
	}

	log.Debug().Int64("size", meta.Size).Str("checksum", meta.Checksum.String()).Msg("resolved")

	return &domain.ResolvedFileEntry{
		Ref:         ref,
		Size:        meta.Size,
		Checksum:    meta.Checksum,
		ContentType: meta.ContentType,
		ResolvedBy:  p.Identity(),
	}, nil
}
