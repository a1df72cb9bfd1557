package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// InputFormat identifies which input layout a record was parsed from.
type InputFormat string

const (
	FormatStandard InputFormat = "standard"
	FormatGen3     InputFormat = "gen3"
)

// ChecksumType names a content hash algorithm.
type ChecksumType string

const (
	ChecksumS3ETag  ChecksumType = "s3_etag"
	ChecksumCRC32C  ChecksumType = "crc32c"
	ChecksumMD5     ChecksumType = "md5"
	ChecksumSHA1    ChecksumType = "sha1"
	ChecksumSHA256  ChecksumType = "sha256"
	ChecksumUnknown ChecksumType = ""
)

// Checksum is a content hash in lower-case hex.
type Checksum struct {
	Type  ChecksumType `json:"type"`
	Value string       `json:"checksum"`
}

// IsZero reports whether either half of the checksum is missing.
func (c Checksum) IsZero() bool {
	return c.Type == ChecksumUnknown || strings.TrimSpace(c.Value) == ""
}

func (c Checksum) String() string {
	if c.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s:%s", c.Type, c.Value)
}

// Metadata is the descriptive payload of a record. It is carried through the
// pipeline as raw JSON and never interpreted.
type Metadata = json.RawMessage

// InputRecord is one normalized description of a logical data object.
type InputRecord struct {
	ID       string          `json:"id"`
	Index    int             `json:"index"`
	Format   InputFormat     `json:"format"`
	Files    []FileReference `json:"files"`
	Metadata Metadata        `json:"metadata"`
}

// FileReference points at one data file in a cloud bucket.
type FileReference struct {
	GUID     string     `json:"guid"`
	UUID     string     `json:"uuid"`
	Name     string     `json:"name"`
	Version  string     `json:"version"`
	Location Location   `json:"location"`
	Mirrors  []Location `json:"mirrors,omitempty"`
	Size     *int64     `json:"size,omitempty"`
	Checksum Checksum   `json:"checksum"`
}

// PreResolved reports whether the input already carries both a size and a
// checksum for the file, in which case no metadata fetch is needed.
func (f FileReference) PreResolved() bool {
	return f.Size != nil && !f.Checksum.IsZero()
}

// URLs returns the primary location followed by any mirrors.
func (f FileReference) URLs() []string {
	urls := make([]string, 0, 1+len(f.Mirrors))
	urls = append(urls, f.Location.String())
	for _, m := range f.Mirrors {
		urls = append(urls, m.String())
	}
	return urls
}

// ResolvedFileEntry is a FileReference with a known size and checksum.
type ResolvedFileEntry struct {
	Ref         FileReference `json:"ref"`
	Size        int64         `json:"size"`
	Checksum    Checksum      `json:"checksum"`
	ContentType string        `json:"content_type,omitempty"`
	// ResolvedBy names the identity that fetched the metadata. Empty when the
	// values came from the input.
	ResolvedBy string `json:"resolved_by,omitempty"`
}

// SubmissionBundle is the unit registered with the store.
type SubmissionBundle struct {
	UUID     string              `json:"uuid"`
	Version  string              `json:"version"`
	RecordID string              `json:"record_id"`
	Files    []ResolvedFileEntry `json:"files"`
	Metadata Metadata            `json:"metadata"`
}

// TotalBytes sums the sizes of all data files in the bundle.
func (b *SubmissionBundle) TotalBytes() int64 {
	var total int64
	for _, f := range b.Files {
		total += f.Size
	}
	return total
}

// ParseFailure is an input entry that could not be turned into a record.
type ParseFailure struct {
	RecordID string
	Index    int
	Err      error
}

// versionLayout is the DSS object version format.
const versionLayout = "2006-01-02T150405.000000Z"

// FormatVersion renders t in the store's version format.
func FormatVersion(t time.Time) string {
	return t.UTC().Format(versionLayout)
}

// ParseVersion accepts either an RFC3339 timestamp or an already formatted
// store version and returns the store version.
func ParseVersion(s string) (string, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(versionLayout, s); err == nil {
		return FormatVersion(t), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return "", fmt.Errorf("version %q is not RFC3339: %w", s, err)
	}
	return FormatVersion(t), nil
}
