package credentials

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"

	"github.com/andresuchdata/dss-loader/internal/domain"
)

// GCPIdentity is a named GCP credential source. An anonymous identity can
// only read public objects.
type GCPIdentity struct {
	Name        string
	TokenSource oauth2.TokenSource
	Anonymous   bool
}

// NewTokenGCP wraps an existing token source.
func NewTokenGCP(name string, ts oauth2.TokenSource) *GCPIdentity {
	return &GCPIdentity{Name: name, TokenSource: ts}
}

// AnonymousGCP is the identity used when no credentials are available.
func AnonymousGCP() *GCPIdentity {
	return &GCPIdentity{Name: "gcp:anonymous", Anonymous: true}
}

// ClientOptions returns the API client options that authenticate as g.
func (g *GCPIdentity) ClientOptions() []option.ClientOption {
	if g == nil || g.Anonymous || g.TokenSource == nil {
		return []option.ClientOption{option.WithoutAuthentication()}
	}
	return []option.ClientOption{option.WithTokenSource(g.TokenSource)}
}

func loadPrimaryGCP(ctx context.Context, opts Options, log zerolog.Logger) (*GCPIdentity, error) {
	find := opts.GCPDefault
	if find == nil {
		find = google.FindDefaultCredentials
	}

	creds, err := find(ctx, Scopes...)
	if err != nil {
		log.Warn().Err(err).Msg("no application default credentials; gcs reads will be anonymous")
		return AnonymousGCP(), nil
	}
	return NewTokenGCP("gcp:primary", creds.TokenSource), nil
}

// loadGCPFile parses a service account or authorized user JSON file.
func loadGCPFile(ctx context.Context, path string) (*GCPIdentity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.Wrap(domain.KindCredentialLoad, err, "read gcp metadata credential %s", path)
	}

	creds, err := google.CredentialsFromJSON(ctx, data, Scopes...)
	if err != nil {
		return nil, domain.Wrap(domain.KindCredentialLoad, err, "parse gcp metadata credential %s", path)
	}

	var header struct {
		Type        string `json:"type"`
		ClientEmail string `json:"client_email"`
	}
	_ = json.Unmarshal(data, &header)

	name := header.ClientEmail
	if name == "" {
		name = header.Type
	}
	return NewTokenGCP("gcp:metadata:"+name, creds.TokenSource), nil
}
