package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/andresuchdata/dss-loader/internal/credentials"
	"github.com/andresuchdata/dss-loader/internal/provider"
)

// ObjectInfo represents metadata for a staged object.
type ObjectInfo struct {
	Key  string
	Size int64
	// ETag is the lower-case hex MD5 of single-part uploads.
	ETag string
}

// ObjectStorage captures the staging operations the submission engine needs.
type ObjectStorage interface {
	// Stat returns nil without error when the object does not exist.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
	// Put writes data under key with the given tags.
	Put(ctx context.Context, key string, data []byte, contentType string, tags map[string]string) error
	// URL is the source URL the store copies key from.
	URL(key string) string
}

// Open returns the staging backend for target: a bare bucket name or an
// s3:// URL stages to S3 as the primary identity, and file:///dir stages to a
// local directory.
func Open(target string, creds *credentials.Context, s3cfg provider.S3Config) (ObjectStorage, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("staging target is required")
	}

	if strings.Contains(target, "://") {
		u, err := url.Parse(target)
		if err != nil {
			return nil, fmt.Errorf("staging target %q: %w", target, err)
		}
		switch u.Scheme {
		case "file":
			return NewLocal(u.Path)
		case "s3":
			return NewS3(creds.AWS(credentials.RolePrimary), s3cfg, u.Host, strings.Trim(u.Path, "/"))
		default:
			return nil, fmt.Errorf("unsupported staging scheme %q", u.Scheme)
		}
	}
	return NewS3(creds.AWS(credentials.RolePrimary), s3cfg, target, "")
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}
