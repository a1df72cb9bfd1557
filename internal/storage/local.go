package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	cmstorage "github.com/chartmuseum/storage"
)

const tagsSuffix = ".tags.json"

// LocalClient stages objects in a directory through chartmuseum's local
// filesystem backend. Tags are kept in a sidecar document.
type LocalClient struct {
	backend cmstorage.Backend
	root    string
}

// NewLocal builds a local staging backend rooted at dir.
func NewLocal(dir string) (*LocalClient, error) {
	if dir == "" {
		return nil, fmt.Errorf("staging directory must be provided")
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("staging directory %s: %w", dir, err)
	}
	return &LocalClient{
		backend: cmstorage.NewLocalFilesystemBackend(root),
		root:    root,
	}, nil
}

// Stat returns the size and MD5 of a staged object.
func (c *LocalClient) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	obj, err := c.backend.GetObject(key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat %s: %w", c.URL(key), err)
	}
	sum := md5.Sum(obj.Content)
	return &ObjectInfo{Key: key, Size: int64(len(obj.Content)), ETag: hex.EncodeToString(sum[:])}, nil
}

// Put writes data and its tags.
func (c *LocalClient) Put(ctx context.Context, key string, data []byte, contentType string, tags map[string]string) error {
	sidecar, err := json.Marshal(struct {
		ContentType string            `json:"content_type"`
		Tags        map[string]string `json:"tags"`
	}{contentType, tags})
	if err != nil {
		return err
	}
	if err := c.backend.PutObject(key, data); err != nil {
		return fmt.Errorf("put %s: %w", c.URL(key), err)
	}
	if err := c.backend.PutObject(key+tagsSuffix, sidecar); err != nil {
		return fmt.Errorf("put tags for %s: %w", c.URL(key), err)
	}
	return nil
}

// Tags returns the tags recorded for key.
func (c *LocalClient) Tags(key string) (map[string]string, error) {
	obj, err := c.backend.GetObject(key + tagsSuffix)
	if err != nil {
		return nil, err
	}
	var sidecar struct {
		Tags map[string]string `json:"tags"`
	}
	if err := json.Unmarshal(obj.Content, &sidecar); err != nil {
		return nil, err
	}
	return sidecar.Tags, nil
}

func (c *LocalClient) URL(key string) string {
	return "file://" + filepath.ToSlash(filepath.Join(c.root, key))
}
