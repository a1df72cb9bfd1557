package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// Provider identifies a cloud object store.
type Provider string

const (
	ProviderS3  Provider = "s3"
	ProviderGCS Provider = "gs"
)

func (p Provider) String() string {
	return string(p)
}

// Valid reports whether p is a supported provider.
func (p Provider) Valid() bool {
	return p == ProviderS3 || p == ProviderGCS
}

// Location is a single (provider, bucket, key) triple.
type Location struct {
	Provider Provider `json:"provider"`
	Bucket   string   `json:"bucket"`
	Key      string   `json:"key"`
}

func (l Location) String() string {
	return fmt.Sprintf("%s://%s/%s", l.Provider, l.Bucket, l.Key)
}

// Basename is the last path element of the key.
func (l Location) Basename() string {
	if i := strings.LastIndex(l.Key, "/"); i >= 0 {
		return l.Key[i+1:]
	}
	return l.Key
}

// ParseLocation parses an s3:// or gs:// URL.
func ParseLocation(raw string) (Location, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Location{}, fmt.Errorf("invalid url %q: %w", raw, err)
	}

	p := Provider(strings.ToLower(u.Scheme))
	if !p.Valid() {
		return Location{}, fmt.Errorf("unsupported cloud url scheme in %q", raw)
	}

	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return Location{}, fmt.Errorf("invalid url %q: bucket and key are required", raw)
	}
	if strings.HasSuffix(key, "/") {
		return Location{}, fmt.Errorf("invalid url %q: key names a directory", raw)
	}

	return Location{Provider: p, Bucket: u.Host, Key: key}, nil
}
