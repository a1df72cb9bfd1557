package submission

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/crc32"

	"github.com/andresuchdata/dss-loader/internal/domain"
)

const (
	MetadataName        = "metadata.json"
	FileRefContentType  = "application/json; dss-type=fileref"
	MetadataContentType = "application/json"
	defaultDataType     = "application/octet-stream"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Checksums are the hashes the store requires as staging tags.
type Checksums struct {
	S3ETag string
	SHA1   string
	SHA256 string
	CRC32C string
}

// Tags renders the checksums as staging object tags.
func (c Checksums) Tags() map[string]string {
	return map[string]string{
		"hca-dss-s3_etag": c.S3ETag,
		"hca-dss-sha1":    c.SHA1,
		"hca-dss-sha256":  c.SHA256,
		"hca-dss-crc32c":  c.CRC32C,
	}
}

// computeChecksums hashes a staged document. Documents are uploaded in one
// part, so the S3 ETag is the plain MD5.
func computeChecksums(data []byte) Checksums {
	m := md5.Sum(data)
	s1 := sha1.Sum(data)
	s256 := sha256.Sum256(data)
	return Checksums{
		S3ETag: hex.EncodeToString(m[:]),
		SHA1:   hex.EncodeToString(s1[:]),
		SHA256: hex.EncodeToString(s256[:]),
		CRC32C: fmt.Sprintf("%08x", crc32.Checksum(data, castagnoli)),
	}
}

// Document is one JSON file staged for registration.
type Document struct {
	UUID        string
	Version     string
	Name        string
	Indexed     bool
	ContentType string
	Data        []byte
	Checksums   Checksums
	// Key is the staging key, <uuid>/<name>.
	Key string
	// SourceURL is where the store copies the document from. Empty when no
	// staging backend is configured.
	SourceURL string
	// Uploaded is false when the document was already staged or the run is
	// a dry run.
	Uploaded bool
}

func newDocument(uuid, version, name, contentType string, indexed bool, body any) (*Document, error) {
	data, err := render(body)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	return &Document{
		UUID:        uuid,
		Version:     version,
		Name:        name,
		Indexed:     indexed,
		ContentType: contentType,
		Data:        data,
		Checksums:   computeChecksums(data),
		Key:         uuid + "/" + name,
	}, nil
}

// render writes stable, indented JSON. Map keys are sorted by encoding/json.
func render(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// fileReference renders the by-reference document for a resolved data file.
func fileReference(entry domain.ResolvedFileEntry) map[string]any {
	contentType := entry.ContentType
	if contentType == "" {
		contentType = defaultDataType
	}
	aliases := []string{}
	if entry.Ref.GUID != "" {
		aliases = append(aliases, entry.Ref.GUID)
	}
	doc := map[string]any{
		"size":         entry.Size,
		"url":          entry.Ref.URLs(),
		"aliases":      aliases,
		"content-type": contentType,
	}
	doc[string(entry.Checksum.Type)] = entry.Checksum.Value
	return doc
}

// metadataDocument adds the schema reference to the record metadata. Object
// metadata gains a describedBy key; anything else is nested under "content".
func metadataDocument(metadata domain.Metadata, schemaURL string) (map[string]json.RawMessage, error) {
	described, err := json.Marshal(schemaURL)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(metadata)
	doc := map[string]json.RawMessage{}
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
	case trimmed[0] == '{':
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("metadata: %w", err)
		}
	default:
		doc["content"] = json.RawMessage(trimmed)
	}
	doc["describedBy"] = described
	return doc, nil
}
