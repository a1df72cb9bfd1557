package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/tags"

	"github.com/andresuchdata/dss-loader/internal/credentials"
	"github.com/andresuchdata/dss-loader/internal/domain"
	"github.com/andresuchdata/dss-loader/internal/provider"
)

// S3Client stages objects in an S3 bucket.
type S3Client struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewS3 builds an S3 staging backend authenticated as id.
func NewS3(id *credentials.AWSIdentity, cfg provider.S3Config, bucket, prefix string) (*S3Client, error) {
	if bucket == "" {
		return nil, fmt.Errorf("staging bucket must be provided")
	}
	client, err := provider.NewMinioClient(id, cfg)
	if err != nil {
		return nil, fmt.Errorf("staging client: %w", err)
	}
	return &S3Client{client: client, bucket: bucket, prefix: prefix}, nil
}

// Stat returns the staged object's size and ETag.
func (c *S3Client) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	info, err := c.client.StatObject(ctx, c.bucket, joinKey(c.prefix, key), minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, classify(resp.StatusCode, err, "stat %s", c.URL(key))
	}
	return &ObjectInfo{
		Key:  key,
		Size: info.Size,
		ETag: strings.ToLower(strings.Trim(info.ETag, `"`)),
	}, nil
}

// Put uploads data with tags applied in the same request.
func (c *S3Client) Put(ctx context.Context, key string, data []byte, contentType string, userTags map[string]string) error {
	if _, err := tags.NewTags(userTags, true); err != nil {
		return fmt.Errorf("tags for %s: %w", key, err)
	}
	_, err := c.client.PutObject(ctx, c.bucket, joinKey(c.prefix, key), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{
			ContentType: contentType,
			UserTags:    userTags,
		})
	if err != nil {
		return classify(minio.ToErrorResponse(err).StatusCode, err, "put %s", c.URL(key))
	}
	return nil
}

func (c *S3Client) URL(key string) string {
	return fmt.Sprintf("s3://%s/%s", c.bucket, joinKey(c.prefix, key))
}

// classify marks throttling, server and network failures as retryable.
func classify(status int, err error, format string, args ...any) error {
	var netErr net.Error
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500:
		return domain.Wrap(domain.KindTransient, err, format, args...)
	case status == 0 && (errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr)):
		return domain.Wrap(domain.KindTransient, err, format, args...)
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
