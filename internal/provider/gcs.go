package provider

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gcs "google.golang.org/api/storage/v1"

	"github.com/andresuchdata/dss-loader/internal/credentials"
	"github.com/andresuchdata/dss-loader/internal/domain"
)

// GCSConfig overrides the JSON API endpoint.
type GCSConfig struct {
	Endpoint   string
	HTTPClient *http.Client
}

// GCS reads object metadata through the JSON API, billing requester-pays
// reads to the configured project.
type GCS struct {
	svc      *gcs.Service
	project  string
	identity *credentials.GCPIdentity
}

// NewGCS builds a GCS provider authenticated as id.
func NewGCS(ctx context.Context, id *credentials.GCPIdentity, project string, cfg GCSConfig) (*GCS, error) {
	if id == nil {
		return nil, errors.New("gcp identity is required")
	}

	var opts []option.ClientOption
	if cfg.HTTPClient != nil {
		// An explicit client carries its own auth.
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	} else {
		opts = append(opts, id.ClientOptions()...)
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := gcs.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &GCS{svc: svc, project: project, identity: id}, nil
}

func (g *GCS) Provider() domain.Provider { return domain.ProviderGCS }

func (g *GCS) Identity() string { return g.identity.Name }

// Head returns the size and crc32c of the object at loc.
func (g *GCS) Head(ctx context.Context, loc domain.Location) (*ObjectMeta, error) {
	call := g.svc.Objects.Get(loc.Bucket, loc.Key).Context(ctx)
	if g.project != "" {
		call = call.UserProject(g.project)
	}

	obj, err := call.Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			return nil, classifyStatus(apiErr.Code, loc, g.Identity(), err)
		}
		return nil, classifyTransport(loc, err)
	}

	crc, err := crc32cHex(obj.Crc32c)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", loc, err)
	}
	return &ObjectMeta{
		Size:        int64(obj.Size),
		Checksum:    domain.Checksum{Type: domain.ChecksumCRC32C, Value: crc},
		ContentType: obj.ContentType,
	}, nil
}

// crc32cHex converts the API's base64 big-endian crc32c to lower-case hex.
func crc32cHex(b64 string) (string, error) {
	if b64 == "" {
		return "", errors.New("object has no crc32c")
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("decode crc32c %q: %w", b64, err)
	}
	return hex.EncodeToString(raw), nil
}
