package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/andresuchdata/dss-loader/internal/credentials"
	"github.com/andresuchdata/dss-loader/internal/domain"
)

const defaultS3Endpoint = "s3.amazonaws.com"

// S3Config overrides the S3 endpoint, mainly for S3-compatible stores.
type S3Config struct {
	Endpoint  string
	Secure    *bool
	Region    string
	Transport http.RoundTripper
}

// NewMinioClient builds a minio client for id against cfg. Path-style lookup
// is used for custom endpoints.
func NewMinioClient(id *credentials.AWSIdentity, cfg S3Config) (*minio.Client, error) {
	if id == nil {
		return nil, errors.New("aws identity is required")
	}

	endpoint := cfg.Endpoint
	secure := true
	lookup := minio.BucketLookupAuto
	if endpoint == "" {
		endpoint = defaultS3Endpoint
	} else {
		lookup = minio.BucketLookupPath
	}
	switch {
	case strings.HasPrefix(endpoint, "http://"):
		secure = false
		endpoint = strings.TrimPrefix(endpoint, "http://")
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = strings.TrimPrefix(endpoint, "https://")
	}
	if cfg.Secure != nil {
		secure = *cfg.Secure
	}

	region := cfg.Region
	if region == "" {
		region = id.Region
	}

	return minio.New(endpoint, &minio.Options{
		Creds:        id.Creds,
		Secure:       secure,
		Region:       region,
		BucketLookup: lookup,
		Transport:    cfg.Transport,
		// Retries are owned by the resolver's policy.
		MaxRetries: 1,
	})
}

// S3 reads object metadata with a HEAD request, paying as requester.
type S3 struct {
	client   *minio.Client
	identity *credentials.AWSIdentity
}

// NewS3 builds an S3 provider authenticated as id.
func NewS3(id *credentials.AWSIdentity, cfg S3Config) (*S3, error) {
	client, err := NewMinioClient(id, cfg)
	if err != nil {
		return nil, err
	}
	return &S3{client: client, identity: id}, nil
}

func (s *S3) Provider() domain.Provider { return domain.ProviderS3 }

func (s *S3) Identity() string { return s.identity.Name }

// Refresh renews assumed-role credentials.
func (s *S3) Refresh() bool { return s.identity.Refresh() }

// Head returns the size and ETag of the object at loc.
func (s *S3) Head(ctx context.Context, loc domain.Location) (*ObjectMeta, error) {
	opts := minio.StatObjectOptions{}
	opts.Set("x-amz-request-payer", "requester")

	info, err := s.client.StatObject(ctx, loc.Bucket, loc.Key, opts)
	if err != nil {
		resp := minio.ToErrorResponse(err)
		return nil, classifyStatus(resp.StatusCode, loc, s.Identity(), err)
	}

	etag := strings.ToLower(strings.Trim(info.ETag, `"`))
	if etag == "" {
		return nil, fmt.Errorf("%s: object has no etag", loc)
	}
	return &ObjectMeta{
		Size:        info.Size,
		Checksum:    domain.Checksum{Type: domain.ChecksumS3ETag, Value: etag},
		ContentType: info.ContentType,
	}, nil
}
