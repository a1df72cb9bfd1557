package input

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/andresuchdata/dss-loader/internal/domain"
)

// size accepts a byte count written as a JSON number or a numeric string.
type size struct {
	value *int64
}

func (s *size) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	text := string(bytes.Trim(data, `"`))
	if text == "" {
		return nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid size %s", data)
	}
	if n < 0 {
		return fmt.Errorf("negative size %d", n)
	}
	s.value = &n
	return nil
}

// rfc3339 matches full RFC3339 date-times; time.Parse alone accepts some
// values the store rejects, such as single-digit hours.
var rfc3339 = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])-(0[1-9]|[12]\d|3[01])T([01]\d|2[0-3]):[0-5]\d:([0-5]\d|60)(\.\d+)?(Z|[+-]([01]\d|2[0-3]):[0-5]\d)$`)

// fileVersion picks the first candidate that is a valid RFC3339 timestamp and
// converts it to the store's version format.
func fileVersion(candidates ...string) (string, error) {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" || !rfc3339.MatchString(c) {
			continue
		}
		if v, err := domain.ParseVersion(c); err == nil {
			return v, nil
		}
	}
	return "", fmt.Errorf("no RFC3339 updated or created timestamp")
}

// checksumTypes maps the spellings seen in inputs to checksum types.
var checksumTypes = map[string]domain.ChecksumType{
	"md5":     domain.ChecksumMD5,
	"md5sum":  domain.ChecksumMD5,
	"sha1":    domain.ChecksumSHA1,
	"sha256":  domain.ChecksumSHA256,
	"sha-256": domain.ChecksumSHA256,
	"crc32c":  domain.ChecksumCRC32C,
	"etag":    domain.ChecksumS3ETag,
	"s3_etag": domain.ChecksumS3ETag,
}

// pickChecksum returns the first checksum with a known type.
func pickChecksum(sums []checksumField) domain.Checksum {
	for _, s := range sums {
		t, ok := checksumTypes[strings.ToLower(strings.TrimSpace(s.Type))]
		v := strings.ToLower(strings.TrimSpace(s.Checksum))
		if ok && v != "" {
			return domain.Checksum{Type: t, Value: v}
		}
	}
	return domain.Checksum{}
}

type checksumField struct {
	Checksum string `json:"checksum"`
	Type     string `json:"type"`
}

// locations parses urls, keeping the first as the primary location and the
// rest as mirrors. Duplicates are dropped.
func locations(urls []string) (domain.Location, []domain.Location, error) {
	var (
		primary domain.Location
		mirrors []domain.Location
		seen    = make(map[string]struct{}, len(urls))
	)
	for _, raw := range urls {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		loc, err := domain.ParseLocation(raw)
		if err != nil {
			return domain.Location{}, nil, err
		}
		if _, dup := seen[loc.String()]; dup {
			continue
		}
		seen[loc.String()] = struct{}{}
		if primary.Provider == "" {
			primary = loc
			continue
		}
		mirrors = append(mirrors, loc)
	}
	if primary.Provider == "" {
		return domain.Location{}, nil, fmt.Errorf("no cloud url")
	}
	return primary, mirrors, nil
}

// fileRef builds a file reference from the fields shared by both formats.
func fileRef(guid, name, version string, urls []string, sz size, sum domain.Checksum) (domain.FileReference, error) {
	fileUUID, err := domain.FileUUID(guid)
	if err != nil {
		return domain.FileReference{}, err
	}
	primary, mirrors, err := locations(urls)
	if err != nil {
		return domain.FileReference{}, fmt.Errorf("file %s: %w", guid, err)
	}
	if name == "" {
		name = primary.Basename()
	}
	return domain.FileReference{
		GUID:     guid,
		UUID:     fileUUID,
		Name:     name,
		Version:  version,
		Location: primary,
		Mirrors:  mirrors,
		Size:     sz.value,
		Checksum: sum,
	}, nil
}
