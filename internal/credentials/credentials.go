// Package credentials builds the read-only credential context shared by every
// worker of a run. Each cloud has a primary identity and an optional metadata
// identity used only for reading object metadata from protected buckets.
package credentials

import (
	"context"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcs "google.golang.org/api/storage/v1"

	"github.com/andresuchdata/dss-loader/internal/domain"
	"github.com/andresuchdata/dss-loader/pkg/logger"
)

// Role selects which identity a call runs under.
type Role string

const (
	RolePrimary  Role = "primary"
	RoleMetadata Role = "metadata"
)

const (
	DefaultSTSEndpoint  = "https://sts.amazonaws.com"
	DefaultRoleDuration = 43199 * time.Second
	roleSessionName     = "dss-loader"
	maxRoleDuration     = 43200 * time.Second
	minRoleDuration     = 900 * time.Second
)

var roleARNPattern = regexp.MustCompile(`^arn:aws(-[a-z]+)*:iam::\d{12}:role/[\w+=,.@/-]+$`)

// Scopes requested for GCP identities.
var Scopes = []string{
	gcs.DevstorageReadOnlyScope,
	"https://www.googleapis.com/auth/userinfo.email",
}

// Options describes where credential material comes from.
type Options struct {
	// GCPMetadataCredPath is a GCP credential JSON file for the metadata role.
	GCPMetadataCredPath string
	// AWSMetadataRolePath is a file holding the ARN of a role to assume for
	// the metadata role.
	AWSMetadataRolePath string
	// Project is billed for requester-pays GCS reads.
	Project string

	STSEndpoint  string
	AWSRegion    string
	RoleDuration time.Duration

	// AWSProviders replaces the primary AWS chain (env, shared file, IAM).
	AWSProviders []miniocreds.Provider
	// GCPDefault replaces application default credential discovery.
	GCPDefault func(ctx context.Context, scopes ...string) (*google.Credentials, error)
	// HTTPClient is used for the IAM metadata endpoint.
	HTTPClient *http.Client
}

// Context is the immutable mapping (provider, role) → identity.
type Context struct {
	Project string
	aws     map[Role]*AWSIdentity
	gcp     map[Role]*GCPIdentity
}

// Load resolves every identity up front. Any credential material that cannot
// be turned into a working identity fails with a CredentialLoadError.
func Load(ctx context.Context, opts Options) (*Context, error) {
	log := logger.Component("credentials")

	if (opts.GCPMetadataCredPath == "") != (opts.AWSMetadataRolePath == "") {
		log.Warn().
			Bool("gce_metadata_cred", opts.GCPMetadataCredPath != "").
			Bool("aws_metadata_cred", opts.AWSMetadataRolePath != "").
			Msg("only one metadata credential supplied; the other cloud reads metadata with the primary identity")
	}

	c := &Context{
		Project: strings.TrimSpace(opts.Project),
		aws:     make(map[Role]*AWSIdentity, 2),
		gcp:     make(map[Role]*GCPIdentity, 2),
	}

	primaryAWS := loadPrimaryAWS(opts)
	c.aws[RolePrimary] = primaryAWS

	primaryGCP, err := loadPrimaryGCP(ctx, opts, log)
	if err != nil {
		return nil, err
	}
	c.gcp[RolePrimary] = primaryGCP

	if opts.AWSMetadataRolePath != "" {
		id, err := assumeMetadataRole(opts, primaryAWS)
		if err != nil {
			return nil, err
		}
		c.aws[RoleMetadata] = id
		log.Info().Str("identity", id.Name).Msg("aws metadata role assumed")
	}

	if opts.GCPMetadataCredPath != "" {
		id, err := loadGCPFile(ctx, opts.GCPMetadataCredPath)
		if err != nil {
			return nil, err
		}
		c.gcp[RoleMetadata] = id
		log.Info().Str("identity", id.Name).Msg("gcp metadata credential loaded")
	}

	return c, nil
}

// NewContext builds a context from already constructed identities. A nil
// metadata identity falls back to the primary one.
func NewContext(project string, awsPrimary, awsMetadata *AWSIdentity, gcpPrimary, gcpMetadata *GCPIdentity) *Context {
	c := &Context{
		Project: project,
		aws:     map[Role]*AWSIdentity{RolePrimary: awsPrimary},
		gcp:     map[Role]*GCPIdentity{RolePrimary: gcpPrimary},
	}
	if awsMetadata != nil {
		c.aws[RoleMetadata] = awsMetadata
	}
	if gcpMetadata != nil {
		c.gcp[RoleMetadata] = gcpMetadata
	}
	return c
}

// AWS returns the identity for role, falling back to primary.
func (c *Context) AWS(role Role) *AWSIdentity {
	if id, ok := c.aws[role]; ok && id != nil {
		return id
	}
	return c.aws[RolePrimary]
}

// GCP returns the identity for role, falling back to primary.
func (c *Context) GCP(role Role) *GCPIdentity {
	if id, ok := c.gcp[role]; ok && id != nil {
		return id
	}
	return c.gcp[RolePrimary]
}

// HasDedicated reports whether role has its own identity for provider rather
// than the primary fallback.
func (c *Context) HasDedicated(provider domain.Provider, role Role) bool {
	switch provider {
	case domain.ProviderS3:
		_, ok := c.aws[role]
		return ok
	case domain.ProviderGCS:
		_, ok := c.gcp[role]
		return ok
	}
	return false
}

// DSSTokenSource returns the bearer token source used for store submissions,
// or nil when the primary GCP identity is anonymous.
func (c *Context) DSSTokenSource() oauth2.TokenSource {
	id := c.GCP(RolePrimary)
	if id == nil || id.Anonymous {
		return nil
	}
	return id.TokenSource
}

// Summary lists identity names per provider and role for startup logging.
func (c *Context) Summary(e *zerolog.Event) *zerolog.Event {
	return e.
		Str("aws_primary", c.AWS(RolePrimary).Name).
		Str("aws_metadata", c.AWS(RoleMetadata).Name).
		Str("gcp_primary", c.GCP(RolePrimary).Name).
		Str("gcp_metadata", c.GCP(RoleMetadata).Name)
}

// ReadRoleARN reads and validates a role ARN from a file.
func ReadRoleARN(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", domain.Wrap(domain.KindCredentialLoad, err, "read aws metadata credential %s", path)
	}
	arn := strings.TrimSpace(string(data))
	if !roleARNPattern.MatchString(arn) {
		return "", domain.NewError(domain.KindCredentialLoad, "%s does not contain a role ARN (arn:aws:iam::<account>:role/<name>)", path)
	}
	return arn, nil
}

func clampDuration(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultRoleDuration
	case d < minRoleDuration:
		return minRoleDuration
	case d > maxRoleDuration:
		return maxRoleDuration
	}
	return d
}
