// Package provider reads object metadata from cloud stores. Each provider is
// bound to one identity at construction time.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/andresuchdata/dss-loader/internal/credentials"
	"github.com/andresuchdata/dss-loader/internal/domain"
)

// ObjectMeta is what a HEAD-equivalent call returns.
type ObjectMeta struct {
	Size        int64
	Checksum    domain.Checksum
	ContentType string
}

// ObjectProvider fetches metadata for objects of a single provider.
type ObjectProvider interface {
	Provider() domain.Provider
	// Identity names the credential the provider authenticates as.
	Identity() string
	Head(ctx context.Context, loc domain.Location) (*ObjectMeta, error)
}

// Refresher is implemented by providers whose credentials can be renewed in
// place. Refresh reports whether a renewal happened.
type Refresher interface {
	Refresh() bool
}

// Registry maps a provider to the ObjectProvider serving it.
type Registry struct {
	mu        sync.RWMutex
	providers map[domain.Provider]ObjectProvider
}

// NewRegistry returns a registry holding ps.
func NewRegistry(ps ...ObjectProvider) *Registry {
	r := &Registry{providers: make(map[domain.Provider]ObjectProvider, len(ps))}
	for _, p := range ps {
		r.Register(p)
	}
	return r
}

// Register adds or replaces the provider for p.Provider().
func (r *Registry) Register(p ObjectProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Provider()] = p
}

// Lookup returns the provider for kind.
func (r *Registry) Lookup(kind domain.Provider) (ObjectProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf("no object provider registered for %q", kind)
	}
	return p, nil
}

// Config holds endpoint overrides shared by the cloud providers.
type Config struct {
	S3  S3Config
	GCS GCSConfig
}

// ForRole builds a registry whose providers authenticate as role.
func ForRole(ctx context.Context, creds *credentials.Context, role credentials.Role, cfg Config) (*Registry, error) {
	s3, err := NewS3(creds.AWS(role), cfg.S3)
	if err != nil {
		return nil, fmt.Errorf("s3 provider: %w", err)
	}
	gs, err := NewGCS(ctx, creds.GCP(role), creds.Project, cfg.GCS)
	if err != nil {
		return nil, fmt.Errorf("gcs provider: %w", err)
	}
	return NewRegistry(s3, gs), nil
}

// classifyStatus maps an HTTP status from a metadata call to a domain error.
func classifyStatus(status int, loc domain.Location, identity string, err error) error {
	switch {
	case status == http.StatusNotFound:
		return domain.Wrap(domain.KindObjectNotFound, err, "%s", loc)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.Wrap(domain.KindAccessDenied, err, "%s as %s", loc, identity)
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500:
		return domain.Wrap(domain.KindTransient, err, "%s returned %d", loc, status)
	case status == 0:
		return classifyTransport(loc, err)
	}
	return fmt.Errorf("%s returned %d: %w", loc, status, err)
}

// classifyTransport handles failures that never produced a response.
func classifyTransport(loc domain.Location, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return domain.Wrap(domain.KindTransient, err, "%s", loc)
	}
	return fmt.Errorf("%s: %w", loc, err)
}
